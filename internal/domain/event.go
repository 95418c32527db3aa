package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names an append-only log event.
type EventKind string

const (
	EventOpinionCreated        EventKind = "opinion_created"
	EventAnswerSubmitted       EventKind = "answer_submitted"
	EventQuestionListed        EventKind = "question_listed"
	EventQuestionSaleCancelled EventKind = "question_sale_cancelled"
	EventQuestionSold          EventKind = "question_sold"
	EventOpinionDeactivated    EventKind = "opinion_deactivated"
	EventOpinionReactivated    EventKind = "opinion_reactivated"
	EventPoolCreated           EventKind = "pool_created"
	EventPoolContribution      EventKind = "pool_contribution"
	EventPoolExecuted          EventKind = "pool_executed"
	EventPoolExpired           EventKind = "pool_expired"
	EventPoolWithdrawal        EventKind = "pool_withdrawal"
	EventFeesClaimed           EventKind = "fees_claimed"
	EventPlatformFeesWithdrawn EventKind = "platform_fees_withdrawn"
	EventPaused                EventKind = "paused"
	EventUnpaused              EventKind = "unpaused"
	EventEmergencyWithdraw     EventKind = "emergency_withdraw"
	EventRoleGranted           EventKind = "role_granted"
	EventRoleRevoked           EventKind = "role_revoked"
)

// Event is one entry of the market's append-only log.
type Event struct {
	ID        uuid.UUID
	Seq       uint64
	Kind      EventKind
	OpinionID uint64
	PoolID    uint64
	Actor     Address
	Block     uint64
	Timestamp time.Time
	Data      map[string]any
}

// EventFilter selects events from the log.
type EventFilter struct {
	Kind      EventKind
	OpinionID uint64
	PoolID    uint64
	AfterSeq  uint64
	Limit     int
}

// Match reports whether e passes the filter.
func (f EventFilter) Match(e Event) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.OpinionID != 0 && e.OpinionID != f.OpinionID {
		return false
	}
	if f.PoolID != 0 && e.PoolID != f.PoolID {
		return false
	}
	return e.Seq > f.AfterSeq
}

// Role is an access-control role holder class.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleOperator  Role = "operator"
	RoleTreasury  Role = "treasury"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleModerator, RoleOperator, RoleTreasury:
		return r, nil
	}
	return "", Fail(UnknownRole, "role", s)
}

// RoleGrant binds a role to an address.
type RoleGrant struct {
	Role    Role
	Account Address
}
