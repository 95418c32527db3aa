package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Infrastructure sentinels used by stores, caches and locks.
var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)

// Kind is the closed set of market failures. Every Kind is itself an error so
// callers can match with errors.Is(err, domain.NotTheOwner).
type Kind uint8

const (
	KindUnknown Kind = iota

	// Opinion validation.
	QuestionEmpty
	QuestionTooShort
	QuestionTooLong
	QuestionMark
	AnswerEmpty
	AnswerLength
	DescriptionTooLong
	LinkTooLong
	NoCategories
	TooManyCategories
	InvalidCategory
	DuplicateCategory
	PriceRange

	// Opinion state.
	OpinionNotFound
	OpinionNotActive
	OpinionAlreadyActive
	SameAsCurrentAnswer

	// Rate limiting.
	OneTradePerBlock
	MaxTradesPerBlockExceeded

	// Marketplace.
	NotTheOwner
	NotForSale
	AlreadyOwner

	// Pools.
	PoolNotFound
	PoolNotActive
	PoolExpired
	PoolNotExpired
	PoolDeadlineTooShort
	PoolDeadlineTooLong
	PoolContributionTooLow
	PoolInvalidName
	PoolInvalidHash
	PoolSameAnswer
	NothingToWithdraw

	// Funds.
	InsufficientAllowance
	InsufficientBalance
	InvalidAmount
	UnknownToken
	TransferFailed
	Overflow

	// Control.
	Unauthorized
	Paused
	NotPaused
	Reentrancy
	ZeroAddress
	UnknownRole
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	QuestionEmpty:             "question_empty",
	QuestionTooShort:          "question_too_short",
	QuestionTooLong:           "question_too_long",
	QuestionMark:              "question_mark",
	AnswerEmpty:               "answer_empty",
	AnswerLength:              "answer_length",
	DescriptionTooLong:        "description_too_long",
	LinkTooLong:               "link_too_long",
	NoCategories:              "no_categories",
	TooManyCategories:         "too_many_categories",
	InvalidCategory:           "invalid_category",
	DuplicateCategory:         "duplicate_category",
	PriceRange:                "price_range",
	OpinionNotFound:           "opinion_not_found",
	OpinionNotActive:          "opinion_not_active",
	OpinionAlreadyActive:      "opinion_already_active",
	SameAsCurrentAnswer:       "same_as_current_answer",
	OneTradePerBlock:          "one_trade_per_block",
	MaxTradesPerBlockExceeded: "max_trades_per_block_exceeded",
	NotTheOwner:               "not_the_owner",
	NotForSale:                "not_for_sale",
	AlreadyOwner:              "already_owner",
	PoolNotFound:              "pool_not_found",
	PoolNotActive:             "pool_not_active",
	PoolExpired:               "pool_expired",
	PoolNotExpired:            "pool_not_expired",
	PoolDeadlineTooShort:      "pool_deadline_too_short",
	PoolDeadlineTooLong:       "pool_deadline_too_long",
	PoolContributionTooLow:    "pool_contribution_too_low",
	PoolInvalidName:           "pool_invalid_name",
	PoolInvalidHash:           "pool_invalid_hash",
	PoolSameAnswer:            "pool_same_answer",
	NothingToWithdraw:         "nothing_to_withdraw",
	InsufficientAllowance:     "insufficient_allowance",
	InsufficientBalance:       "insufficient_balance",
	InvalidAmount:             "invalid_amount",
	UnknownToken:              "unknown_token",
	TransferFailed:            "transfer_failed",
	Overflow:                  "overflow",
	Unauthorized:              "unauthorized",
	Paused:                    "paused",
	NotPaused:                 "not_paused",
	Reentrancy:                "reentrancy",
	ZeroAddress:               "zero_address",
	UnknownRole:               "unknown_role",
}

// Error implements error.
func (k Kind) Error() string { return strings.ReplaceAll(k.String(), "_", " ") }

// String returns the snake_case wire name.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return kindNames[KindUnknown]
}

// Param is one diagnostic key/value attached to an Error.
type Param struct {
	Key   string
	Value any
}

// Error is a typed market failure with its diagnostic parameters.
type Error struct {
	Kind   Kind
	Params []Param
}

// Fail builds an Error from alternating key/value pairs.
func Fail(kind Kind, kv ...any) *Error {
	e := &Error{Kind: kind}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		e.Params = append(e.Params, Param{Key: key, Value: kv[i+1]})
	}
	return e
}

// Error renders "not the owner: caller=0x.., owner=0x..".
func (e *Error) Error() string {
	if len(e.Params) == 0 {
		return e.Kind.Error()
	}
	parts := make([]string, len(e.Params))
	for i, p := range e.Params {
		parts[i] = fmt.Sprintf("%s=%v", p.Key, p.Value)
	}
	return e.Kind.Error() + ": " + strings.Join(parts, ", ")
}

// Unwrap exposes the Kind.
func (e *Error) Unwrap() error { return e.Kind }

// Param returns the value for key, if present.
func (e *Error) Param(key string) (any, bool) {
	for _, p := range e.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// KindOf extracts the Kind from any error chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return KindUnknown
}
