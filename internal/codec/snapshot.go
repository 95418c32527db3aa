package codec

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

const (
	snOpinion protowire.Number = iota + 1
	snHistory
	snPool
	snFee
	snPlatformFees
	snRole
	snNextOpinionID
	snNextPoolID
	snNextEventSeq
	snPaused
	snTradeMark
)

const (
	kvAccount protowire.Number = iota + 1
	kvAmount
	kvRole
)

const (
	tmOpinionID protowire.Number = iota + 1
	tmActor
	tmBlock
	tmActorTrades
	tmAt
)

// EncodeSnapshot writes the full market state. Nested records keep their own
// envelopes so they migrate independently.
func EncodeSnapshot(s *domain.Snapshot) []byte {
	var e encoder
	for _, o := range s.Opinions {
		e.message(snOpinion, EncodeOpinion(o))
	}
	for _, h := range s.History {
		e.message(snHistory, EncodeHistory(h))
	}
	for _, p := range s.Pools {
		e.message(snPool, EncodePool(p))
	}
	accounts := make([]domain.Address, 0, len(s.Fees))
	for a := range s.Fees {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Cmp(accounts[j]) < 0 })
	for _, a := range accounts {
		var fe encoder
		fe.addr(kvAccount, a)
		fe.amount(kvAmount, s.Fees[a])
		e.message(snFee, fe.b)
	}
	e.amount(snPlatformFees, s.PlatformFees)
	for _, g := range s.Roles {
		var re encoder
		re.addr(kvAccount, g.Account)
		re.str(kvRole, string(g.Role))
		e.message(snRole, re.b)
	}
	e.uint(snNextOpinionID, s.NextOpinionID)
	e.uint(snNextPoolID, s.NextPoolID)
	e.uint(snNextEventSeq, s.NextEventSeq)
	e.bool(snPaused, s.Paused)
	for _, m := range s.TradeMarks {
		var me encoder
		me.uint(tmOpinionID, m.OpinionID)
		me.addr(tmActor, m.Actor)
		me.uint(tmBlock, m.Block)
		me.uint(tmActorTrades, uint64(m.ActorTrades))
		me.time(tmAt, m.At)
		e.message(snTradeMark, me.b)
	}
	return seal(EntitySnapshot, e.b)
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*domain.Snapshot, error) {
	body, err := open(data, EntitySnapshot)
	if err != nil {
		return nil, err
	}
	s := &domain.Snapshot{Fees: make(map[domain.Address]domain.Amount)}
	err = walk(body, func(f field) error {
		switch f.Num {
		case snOpinion:
			o, err := DecodeOpinion(f.B)
			if err != nil {
				return err
			}
			s.Opinions = append(s.Opinions, o)
		case snHistory:
			h, err := DecodeHistory(f.B)
			if err != nil {
				return err
			}
			s.History = append(s.History, h)
		case snPool:
			p, err := DecodePool(f.B)
			if err != nil {
				return err
			}
			s.Pools = append(s.Pools, p)
		case snFee:
			var (
				a domain.Address
				v domain.Amount
			)
			if err := walk(f.B, func(kf field) error {
				switch kf.Num {
				case kvAccount:
					a = kf.addr()
				case kvAmount:
					v = kf.amount()
				}
				return nil
			}); err != nil {
				return err
			}
			s.Fees[a] = v
		case snPlatformFees:
			s.PlatformFees = f.amount()
		case snRole:
			var g domain.RoleGrant
			if err := walk(f.B, func(kf field) error {
				switch kf.Num {
				case kvAccount:
					g.Account = kf.addr()
				case kvRole:
					g.Role = domain.Role(kf.str())
				}
				return nil
			}); err != nil {
				return err
			}
			s.Roles = append(s.Roles, g)
		case snNextOpinionID:
			s.NextOpinionID = f.V
		case snNextPoolID:
			s.NextPoolID = f.V
		case snNextEventSeq:
			s.NextEventSeq = f.V
		case snPaused:
			s.Paused = f.V != 0
		case snTradeMark:
			var m domain.TradeMark
			if err := walk(f.B, func(mf field) error {
				switch mf.Num {
				case tmOpinionID:
					m.OpinionID = mf.V
				case tmActor:
					m.Actor = mf.addr()
				case tmBlock:
					m.Block = mf.V
				case tmActorTrades:
					m.ActorTrades = int(mf.V)
				case tmAt:
					m.At = mf.time()
				}
				return nil
			}); err != nil {
				return err
			}
			s.TradeMarks = append(s.TradeMarks, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("codec: decode snapshot: %w", err)
	}
	return s, nil
}
