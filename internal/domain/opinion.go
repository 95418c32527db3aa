package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies an account on the settlement chain.
type Address = common.Address

// ZeroAddr is the unset address.
var ZeroAddr = common.Address{}

// Opinion is a question together with its current answer, owner and price state.
type Opinion struct {
	ID                       uint64
	Question                 string
	Creator                  Address
	QuestionOwner            Address
	CurrentAnswer            string
	CurrentAnswerOwner       Address
	CurrentAnswerDescription string
	Link                     string
	Categories               []string
	LastPrice                Amount
	NextPrice                Amount
	TotalVolume              Amount
	SalePrice                Amount // 0 = not listed
	IsActive                 bool
	CreatedAt                time.Time
}

// Listed reports whether the question is for sale on the resale marketplace.
func (o Opinion) Listed() bool { return o.SalePrice > 0 }

// Clone returns a deep copy safe to hand outside the ledger.
func (o Opinion) Clone() Opinion {
	out := o
	out.Categories = append([]string(nil), o.Categories...)
	return out
}

// AnswerHistoryEntry is one executed answer, append-only per opinion.
type AnswerHistoryEntry struct {
	OpinionID   uint64
	Answer      string
	Description string
	Owner       Address
	Price       Amount
	Timestamp   time.Time
}

// ListOpts controls pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Active *bool
	Since  *time.Time
	Until  *time.Time
}
