package domain

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PoolStatus is the pool state machine position. Transitions are one-way.
type PoolStatus uint8

const (
	PoolStatusActive PoolStatus = iota
	PoolStatusExecuted
	PoolStatusExpired
)

func (s PoolStatus) String() string {
	switch s {
	case PoolStatusActive:
		return "active"
	case PoolStatusExecuted:
		return "executed"
	case PoolStatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ParsePoolStatus is the inverse of String.
func ParsePoolStatus(s string) (PoolStatus, error) {
	switch s {
	case "active":
		return PoolStatusActive, nil
	case "executed":
		return PoolStatusExecuted, nil
	case "expired":
		return PoolStatusExpired, nil
	}
	return 0, fmt.Errorf("domain: unknown pool status %q", s)
}

// Terminal reports whether no further transition is possible.
func (s PoolStatus) Terminal() bool { return s != PoolStatusActive }

// Contribution is a contributor's cumulative stake in a pool.
type Contribution struct {
	Contributor Address
	Amount      Amount
	Withdrawn   bool
}

// Pool crowdfunds a buyout of an opinion's answer.
type Pool struct {
	ID                  uint64
	OpinionID           uint64
	ProposedAnswer      string
	ProposedDescription string
	Creator             Address
	Deadline            time.Time
	TotalAmount         Amount
	TargetPrice         Amount // price paid on execution
	Status              PoolStatus
	Name                string
	ContentHash         string
	Contributions       []Contribution
	CreatedAt           time.Time
	ExecutedAt          time.Time
}

// Address is the deterministic account that owns answers bought by the pool.
func (p Pool) Address() Address { return PoolAddress(p.ID) }

// PoolAddress derives keccak256("opinionmarket.pool" || be64(id))[12:].
func PoolAddress(id uint64) Address {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	h := crypto.Keccak256([]byte("opinionmarket.pool"), buf[:])
	return common.BytesToAddress(h[12:])
}

// ContributionIndex returns the index of contributor in p.Contributions or -1.
func (p Pool) ContributionIndex(contributor Address) int {
	for i, c := range p.Contributions {
		if c.Contributor == contributor {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func (p Pool) Clone() Pool {
	out := p
	out.Contributions = append([]Contribution(nil), p.Contributions...)
	return out
}
