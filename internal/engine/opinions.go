package engine

import (
	"context"

	"github.com/alanyoungcy/opinionmarket/internal/access"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/fees"
	"github.com/alanyoungcy/opinionmarket/internal/journal"
	"github.com/alanyoungcy/opinionmarket/internal/ledger"
)

// CreateOpinion registers a new opinion owned by caller.
func (e *Engine) CreateOpinion(ctx context.Context, caller domain.Address, in ledger.CreateOpinionInput) (domain.Opinion, error) {
	var out domain.Opinion
	err := e.mutate(ctx, access.OpCreateOpinion, caller, func(ctx context.Context, tx *journal.Tx) error {
		o, err := e.ledger.CreateOpinion(ctx, tx, in)
		out = o
		return err
	})
	if err != nil {
		return domain.Opinion{}, err
	}
	return out, nil
}

// SubmitAnswer buys out the current answer at the opinion's next price.
func (e *Engine) SubmitAnswer(ctx context.Context, caller domain.Address, in ledger.SubmitAnswerInput) (ledger.TradeResult, error) {
	var out ledger.TradeResult
	err := e.mutate(ctx, access.OpSubmitAnswer, caller, func(ctx context.Context, tx *journal.Tx) error {
		res, err := e.ledger.SubmitAnswer(ctx, tx, in)
		out = res
		return err
	})
	if err != nil {
		return ledger.TradeResult{}, err
	}
	return out, nil
}

// ListQuestionForSale lists the caller's question at price.
func (e *Engine) ListQuestionForSale(ctx context.Context, caller domain.Address, id uint64, price domain.Amount) (domain.Opinion, error) {
	return e.opinionOp(ctx, access.OpListQuestionForSale, caller, func(tx *journal.Tx) (domain.Opinion, error) {
		return e.ledger.ListQuestionForSale(tx, id, price)
	})
}

// CancelQuestionSale withdraws the caller's listing.
func (e *Engine) CancelQuestionSale(ctx context.Context, caller domain.Address, id uint64) (domain.Opinion, error) {
	return e.opinionOp(ctx, access.OpCancelQuestionSale, caller, func(tx *journal.Tx) (domain.Opinion, error) {
		return e.ledger.CancelQuestionSale(tx, id)
	})
}

// BuyQuestion buys a listed question.
func (e *Engine) BuyQuestion(ctx context.Context, caller domain.Address, id uint64) (domain.Opinion, fees.ResaleSplit, error) {
	var (
		out   domain.Opinion
		split fees.ResaleSplit
	)
	err := e.mutate(ctx, access.OpBuyQuestion, caller, func(ctx context.Context, tx *journal.Tx) error {
		o, s, err := e.ledger.BuyQuestion(ctx, tx, id)
		out, split = o, s
		return err
	})
	if err != nil {
		return domain.Opinion{}, fees.ResaleSplit{}, err
	}
	return out, split, nil
}

// DeactivateOpinion takes an opinion off the market.
func (e *Engine) DeactivateOpinion(ctx context.Context, caller domain.Address, id uint64) (domain.Opinion, error) {
	o, err := e.opinionOp(ctx, access.OpDeactivateOpinion, caller, func(tx *journal.Tx) (domain.Opinion, error) {
		return e.ledger.Deactivate(tx, id)
	})
	if err == nil {
		e.auditLog(ctx, "opinion_deactivated", map[string]any{"opinion_id": id, "by": caller.Hex()})
	}
	return o, err
}

// ReactivateOpinion puts an opinion back on the market.
func (e *Engine) ReactivateOpinion(ctx context.Context, caller domain.Address, id uint64) (domain.Opinion, error) {
	o, err := e.opinionOp(ctx, access.OpReactivateOpinion, caller, func(tx *journal.Tx) (domain.Opinion, error) {
		return e.ledger.Reactivate(tx, id)
	})
	if err == nil {
		e.auditLog(ctx, "opinion_reactivated", map[string]any{"opinion_id": id, "by": caller.Hex()})
	}
	return o, err
}

func (e *Engine) opinionOp(ctx context.Context, op access.Operation, caller domain.Address, f func(*journal.Tx) (domain.Opinion, error)) (domain.Opinion, error) {
	var out domain.Opinion
	err := e.mutate(ctx, op, caller, func(_ context.Context, tx *journal.Tx) error {
		o, err := f(tx)
		out = o
		return err
	})
	if err != nil {
		return domain.Opinion{}, err
	}
	return out, nil
}
