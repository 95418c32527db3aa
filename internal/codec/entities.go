package codec

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Opinion fields. Field 15 was added in v2.
const (
	opID protowire.Number = iota + 1
	opQuestion
	opCreator
	opAnswer
	opAnswerOwner
	opAnswerDescription
	opLink
	opCategory
	opLastPrice
	opNextPrice
	opTotalVolume
	opSalePrice
	opActive
	opCreatedAt
	opQuestionOwner
)

func init() {
	// v1 had no separate question owner; the creator owned the question.
	Register(Migration{Entity: EntityOpinion, From: 1, Apply: func(body []byte) ([]byte, error) {
		var creator []byte
		hasOwner := false
		err := walk(body, func(f field) error {
			switch f.Num {
			case opCreator:
				creator = f.B
			case opQuestionOwner:
				hasOwner = true
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if hasOwner || len(creator) == 0 {
			return body, nil
		}
		e := encoder{b: append([]byte(nil), body...)}
		e.raw(opQuestionOwner, creator)
		return e.b, nil
	}})
}

// EncodeOpinion writes o at the current version.
func EncodeOpinion(o domain.Opinion) []byte {
	var e encoder
	e.uint(opID, o.ID)
	e.str(opQuestion, o.Question)
	e.addr(opCreator, o.Creator)
	e.str(opAnswer, o.CurrentAnswer)
	e.addr(opAnswerOwner, o.CurrentAnswerOwner)
	e.str(opAnswerDescription, o.CurrentAnswerDescription)
	e.str(opLink, o.Link)
	for _, c := range o.Categories {
		e.str(opCategory, c)
	}
	e.amount(opLastPrice, o.LastPrice)
	e.amount(opNextPrice, o.NextPrice)
	e.amount(opTotalVolume, o.TotalVolume)
	e.amount(opSalePrice, o.SalePrice)
	e.bool(opActive, o.IsActive)
	e.time(opCreatedAt, o.CreatedAt)
	e.addr(opQuestionOwner, o.QuestionOwner)
	return seal(EntityOpinion, e.b)
}

// DecodeOpinion reads an opinion of any known version.
func DecodeOpinion(data []byte) (domain.Opinion, error) {
	body, err := open(data, EntityOpinion)
	if err != nil {
		return domain.Opinion{}, err
	}
	var o domain.Opinion
	err = walk(body, func(f field) error {
		switch f.Num {
		case opID:
			o.ID = f.V
		case opQuestion:
			o.Question = f.str()
		case opCreator:
			o.Creator = f.addr()
		case opAnswer:
			o.CurrentAnswer = f.str()
		case opAnswerOwner:
			o.CurrentAnswerOwner = f.addr()
		case opAnswerDescription:
			o.CurrentAnswerDescription = f.str()
		case opLink:
			o.Link = f.str()
		case opCategory:
			o.Categories = append(o.Categories, f.str())
		case opLastPrice:
			o.LastPrice = f.amount()
		case opNextPrice:
			o.NextPrice = f.amount()
		case opTotalVolume:
			o.TotalVolume = f.amount()
		case opSalePrice:
			o.SalePrice = f.amount()
		case opActive:
			o.IsActive = f.V != 0
		case opCreatedAt:
			o.CreatedAt = f.time()
		case opQuestionOwner:
			o.QuestionOwner = f.addr()
		}
		return nil
	})
	if err != nil {
		return domain.Opinion{}, fmt.Errorf("codec: decode opinion: %w", err)
	}
	return o, nil
}

const (
	hOpinionID protowire.Number = iota + 1
	hAnswer
	hDescription
	hOwner
	hPrice
	hTimestamp
)

// EncodeHistory writes an answer history entry.
func EncodeHistory(h domain.AnswerHistoryEntry) []byte {
	var e encoder
	e.uint(hOpinionID, h.OpinionID)
	e.str(hAnswer, h.Answer)
	e.str(hDescription, h.Description)
	e.addr(hOwner, h.Owner)
	e.amount(hPrice, h.Price)
	e.time(hTimestamp, h.Timestamp)
	return seal(EntityHistory, e.b)
}

// DecodeHistory reads an answer history entry.
func DecodeHistory(data []byte) (domain.AnswerHistoryEntry, error) {
	body, err := open(data, EntityHistory)
	if err != nil {
		return domain.AnswerHistoryEntry{}, err
	}
	var h domain.AnswerHistoryEntry
	err = walk(body, func(f field) error {
		switch f.Num {
		case hOpinionID:
			h.OpinionID = f.V
		case hAnswer:
			h.Answer = f.str()
		case hDescription:
			h.Description = f.str()
		case hOwner:
			h.Owner = f.addr()
		case hPrice:
			h.Price = f.amount()
		case hTimestamp:
			h.Timestamp = f.time()
		}
		return nil
	})
	if err != nil {
		return domain.AnswerHistoryEntry{}, fmt.Errorf("codec: decode history: %w", err)
	}
	return h, nil
}

const (
	plID protowire.Number = iota + 1
	plOpinionID
	plAnswer
	plDescription
	plCreator
	plDeadline
	plTotal
	plTarget
	plStatus
	plName
	plContentHash
	plContribution
	plCreatedAt
	plExecutedAt
)

const (
	ctContributor protowire.Number = iota + 1
	ctAmount
	ctWithdrawn
)

// EncodePool writes a pool with its contributions.
func EncodePool(p domain.Pool) []byte {
	var e encoder
	e.uint(plID, p.ID)
	e.uint(plOpinionID, p.OpinionID)
	e.str(plAnswer, p.ProposedAnswer)
	e.str(plDescription, p.ProposedDescription)
	e.addr(plCreator, p.Creator)
	e.time(plDeadline, p.Deadline)
	e.amount(plTotal, p.TotalAmount)
	e.amount(plTarget, p.TargetPrice)
	e.uint(plStatus, uint64(p.Status))
	e.str(plName, p.Name)
	e.str(plContentHash, p.ContentHash)
	for _, c := range p.Contributions {
		var ce encoder
		ce.addr(ctContributor, c.Contributor)
		ce.amount(ctAmount, c.Amount)
		ce.bool(ctWithdrawn, c.Withdrawn)
		e.message(plContribution, ce.b)
	}
	e.time(plCreatedAt, p.CreatedAt)
	e.time(plExecutedAt, p.ExecutedAt)
	return seal(EntityPool, e.b)
}

// DecodePool reads a pool.
func DecodePool(data []byte) (domain.Pool, error) {
	body, err := open(data, EntityPool)
	if err != nil {
		return domain.Pool{}, err
	}
	var p domain.Pool
	err = walk(body, func(f field) error {
		switch f.Num {
		case plID:
			p.ID = f.V
		case plOpinionID:
			p.OpinionID = f.V
		case plAnswer:
			p.ProposedAnswer = f.str()
		case plDescription:
			p.ProposedDescription = f.str()
		case plCreator:
			p.Creator = f.addr()
		case plDeadline:
			p.Deadline = f.time()
		case plTotal:
			p.TotalAmount = f.amount()
		case plTarget:
			p.TargetPrice = f.amount()
		case plStatus:
			p.Status = domain.PoolStatus(f.V)
		case plName:
			p.Name = f.str()
		case plContentHash:
			p.ContentHash = f.str()
		case plContribution:
			var c domain.Contribution
			if err := walk(f.B, func(cf field) error {
				switch cf.Num {
				case ctContributor:
					c.Contributor = cf.addr()
				case ctAmount:
					c.Amount = cf.amount()
				case ctWithdrawn:
					c.Withdrawn = cf.V != 0
				}
				return nil
			}); err != nil {
				return err
			}
			p.Contributions = append(p.Contributions, c)
		case plCreatedAt:
			p.CreatedAt = f.time()
		case plExecutedAt:
			p.ExecutedAt = f.time()
		}
		return nil
	})
	if err != nil {
		return domain.Pool{}, fmt.Errorf("codec: decode pool: %w", err)
	}
	return p, nil
}

const (
	evID protowire.Number = iota + 1
	evSeq
	evKind
	evOpinionID
	evPoolID
	evActor
	evBlock
	evTimestamp
	evData
)

// EncodeEvent writes an event; Data is carried as JSON.
func EncodeEvent(ev domain.Event) ([]byte, error) {
	var e encoder
	e.raw(evID, ev.ID[:])
	e.uint(evSeq, ev.Seq)
	e.str(evKind, string(ev.Kind))
	e.uint(evOpinionID, ev.OpinionID)
	e.uint(evPoolID, ev.PoolID)
	e.addr(evActor, ev.Actor)
	e.uint(evBlock, ev.Block)
	e.time(evTimestamp, ev.Timestamp)
	if len(ev.Data) > 0 {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("codec: encode event data: %w", err)
		}
		e.raw(evData, data)
	}
	return seal(EntityEvent, e.b), nil
}

// DecodeEvent reads an event.
func DecodeEvent(data []byte) (domain.Event, error) {
	body, err := open(data, EntityEvent)
	if err != nil {
		return domain.Event{}, err
	}
	var ev domain.Event
	err = walk(body, func(f field) error {
		switch f.Num {
		case evID:
			id, err := uuid.FromBytes(f.B)
			if err != nil {
				return err
			}
			ev.ID = id
		case evSeq:
			ev.Seq = f.V
		case evKind:
			ev.Kind = domain.EventKind(f.str())
		case evOpinionID:
			ev.OpinionID = f.V
		case evPoolID:
			ev.PoolID = f.V
		case evActor:
			ev.Actor = f.addr()
		case evBlock:
			ev.Block = f.V
		case evTimestamp:
			ev.Timestamp = f.time()
		case evData:
			if err := json.Unmarshal(f.B, &ev.Data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("codec: decode event: %w", err)
	}
	return ev, nil
}
