// Package ledger owns opinions, their answer history and the question resale
// marketplace. It prices trades through a pricing.Policy, admits them through
// a ratelimit.Policy and books the split through the fee distributor.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/fees"
	"github.com/alanyoungcy/opinionmarket/internal/journal"
	"github.com/alanyoungcy/opinionmarket/internal/pricing"
	"github.com/alanyoungcy/opinionmarket/internal/ratelimit"
)

// Deps are the collaborators of the Ledger.
type Deps struct {
	Pricing     pricing.Policy
	Bounds      pricing.Bounds
	Fees        fees.Policy
	Distributor *fees.Distributor
	Limiter     ratelimit.Policy
	Token       domain.Token
	Rules       Rules
}

// Ledger is the opinion registry. Callers serialize access and run every
// mutation inside a journal.Tx.
type Ledger struct {
	d        Deps
	opinions map[uint64]*domain.Opinion
	history  map[uint64][]domain.AnswerHistoryEntry
	nextID   uint64
}

// New creates an empty Ledger.
func New(d Deps) *Ledger {
	return &Ledger{
		d:        d,
		opinions: make(map[uint64]*domain.Opinion),
		history:  make(map[uint64][]domain.AnswerHistoryEntry),
		nextID:   1,
	}
}

// Restore loads persisted opinions and history.
func (l *Ledger) Restore(ops []domain.Opinion, hist []domain.AnswerHistoryEntry, nextID uint64) {
	l.opinions = make(map[uint64]*domain.Opinion, len(ops))
	l.history = make(map[uint64][]domain.AnswerHistoryEntry, len(ops))
	max := uint64(0)
	for i := range ops {
		o := ops[i].Clone()
		l.opinions[o.ID] = &o
		if o.ID > max {
			max = o.ID
		}
	}
	for _, h := range hist {
		l.history[h.OpinionID] = append(l.history[h.OpinionID], h)
	}
	l.nextID = nextID
	if l.nextID <= max {
		l.nextID = max + 1
	}
}

// NextID returns the id the next opinion will get.
func (l *Ledger) NextID() uint64 { return l.nextID }

// Rules returns the text validation rules.
func (l *Ledger) Rules() Rules { return l.d.Rules }

// CreateOpinionInput holds createOpinion arguments.
type CreateOpinionInput struct {
	Question     string
	Answer       string
	Description  string
	Link         string
	InitialPrice domain.Amount
	Categories   []string
}

// CreateOpinion registers a new opinion owned by tx.Caller. The creator pays
// only the creation fee, which goes to the platform.
func (l *Ledger) CreateOpinion(ctx context.Context, tx *journal.Tx, in CreateOpinionInput) (domain.Opinion, error) {
	q, err := l.d.Rules.CheckQuestion(in.Question)
	if err != nil {
		return domain.Opinion{}, err
	}
	answer, desc, err := l.d.Rules.CheckAnswer(in.Answer, in.Description)
	if err != nil {
		return domain.Opinion{}, err
	}
	link, err := l.d.Rules.CheckLink(in.Link)
	if err != nil {
		return domain.Opinion{}, err
	}
	cats, err := l.d.Rules.CheckCategories(in.Categories)
	if err != nil {
		return domain.Opinion{}, err
	}
	if err := l.d.Bounds.CheckInitial(in.InitialPrice); err != nil {
		return domain.Opinion{}, err
	}
	next, err := l.d.Pricing.Next(in.InitialPrice)
	if err != nil {
		return domain.Opinion{}, err
	}
	fee, err := l.d.Fees.CreationFee(in.InitialPrice)
	if err != nil {
		return domain.Opinion{}, err
	}
	if err := l.requireAllowance(ctx, tx.Caller, fee); err != nil {
		return domain.Opinion{}, err
	}

	id := l.nextID
	o := &domain.Opinion{
		ID:                       id,
		Question:                 q,
		Creator:                  tx.Caller,
		QuestionOwner:            tx.Caller,
		CurrentAnswer:            answer,
		CurrentAnswerOwner:       tx.Caller,
		CurrentAnswerDescription: desc,
		Link:                     link,
		Categories:               cats,
		LastPrice:                in.InitialPrice,
		NextPrice:                next,
		IsActive:                 true,
		CreatedAt:                tx.Now,
	}
	l.opinions[id] = o
	l.nextID++
	tx.OnRollback(func() {
		delete(l.opinions, id)
		l.nextID = id
	})
	tx.TouchOpinion(id)
	l.appendHistory(tx, domain.AnswerHistoryEntry{
		OpinionID:   id,
		Answer:      answer,
		Description: desc,
		Owner:       tx.Caller,
		Price:       in.InitialPrice,
		Timestamp:   tx.Now,
	})

	if err := l.d.Distributor.CreditPlatform(tx, fee); err != nil {
		return domain.Opinion{}, err
	}
	tx.Pull(l.d.Token, tx.Caller, fee, "creation_fee")
	tx.Emit(domain.EventOpinionCreated, id, 0, map[string]any{
		"question":      q,
		"answer":        answer,
		"initial_price": int64(in.InitialPrice),
		"next_price":    int64(next),
		"creation_fee":  int64(fee),
		"categories":    cats,
	})
	return o.Clone(), nil
}

// SubmitAnswerInput holds submitAnswer arguments.
type SubmitAnswerInput struct {
	OpinionID   uint64
	Answer      string
	Description string
	Link        string
}

// TradeResult describes an executed buyout.
type TradeResult struct {
	Opinion       domain.Opinion
	Price         domain.Amount
	Split         fees.Split
	PreviousOwner domain.Address
}

// SubmitAnswer buys out the current answer at NextPrice, paid by tx.Caller.
func (l *Ledger) SubmitAnswer(ctx context.Context, tx *journal.Tx, in SubmitAnswerInput) (TradeResult, error) {
	o, answer, desc, link, err := l.admit(tx, tx.Caller, in)
	if err != nil {
		return TradeResult{}, err
	}
	price := o.NextPrice
	if err := l.requireAllowance(ctx, tx.Caller, price); err != nil {
		return TradeResult{}, err
	}
	res, err := l.execute(tx, o, tx.Caller, answer, desc, link, price)
	if err != nil {
		return TradeResult{}, err
	}
	tx.Pull(l.d.Token, tx.Caller, price, "submit_answer")
	return res, nil
}

// SubmitAnswerFunded executes a buyout whose price is already held in escrow,
// on behalf of buyer. price must equal the opinion's NextPrice.
func (l *Ledger) SubmitAnswerFunded(tx *journal.Tx, buyer domain.Address, in SubmitAnswerInput, price domain.Amount) (TradeResult, error) {
	o, answer, desc, link, err := l.admit(tx, buyer, in)
	if err != nil {
		return TradeResult{}, err
	}
	if price != o.NextPrice {
		return TradeResult{}, domain.Fail(domain.InvalidAmount,
			"opinion_id", o.ID, "price", price, "next_price", o.NextPrice)
	}
	return l.execute(tx, o, buyer, answer, desc, link, price)
}

func (l *Ledger) admit(tx *journal.Tx, buyer domain.Address, in SubmitAnswerInput) (*domain.Opinion, string, string, string, error) {
	o, err := l.get(in.OpinionID)
	if err != nil {
		return nil, "", "", "", err
	}
	if !o.IsActive {
		return nil, "", "", "", domain.Fail(domain.OpinionNotActive, "opinion_id", o.ID)
	}
	answer, desc, err := l.d.Rules.CheckAnswer(in.Answer, in.Description)
	if err != nil {
		return nil, "", "", "", err
	}
	link, err := l.d.Rules.CheckLink(in.Link)
	if err != nil {
		return nil, "", "", "", err
	}
	if answer == o.CurrentAnswer {
		return nil, "", "", "", domain.Fail(domain.SameAsCurrentAnswer, "opinion_id", o.ID, "answer", answer)
	}
	if err := l.d.Limiter.Admit(o.ID, buyer, tx.Block); err != nil {
		return nil, "", "", "", err
	}
	return o, answer, desc, link, nil
}

func (l *Ledger) execute(tx *journal.Tx, o *domain.Opinion, buyer domain.Address, answer, desc, link string, price domain.Amount) (TradeResult, error) {
	ownerShare, err := l.d.Fees.OwnerShare(price)
	if err != nil {
		return TradeResult{}, err
	}
	penalty, err := l.d.Limiter.Penalty(o.ID, buyer, tx.Now, price, ownerShare)
	if err != nil {
		return TradeResult{}, err
	}
	split, err := l.d.Fees.TradeSplit(price, penalty)
	if err != nil {
		return TradeResult{}, err
	}
	if split.Total() != price {
		return TradeResult{}, fmt.Errorf("ledger: split of %s sums to %s", price, split.Total())
	}
	next, err := l.d.Pricing.Next(price)
	if err != nil {
		return TradeResult{}, err
	}
	volume, err := o.TotalVolume.Add(price)
	if err != nil {
		return TradeResult{}, err
	}

	prevOwner := o.CurrentAnswerOwner
	if err := l.d.Distributor.Credit(tx, o.Creator, split.Creator); err != nil {
		return TradeResult{}, err
	}
	if err := l.d.Distributor.Credit(tx, prevOwner, split.Owner); err != nil {
		return TradeResult{}, err
	}
	if err := l.d.Distributor.CreditPlatform(tx, split.Platform); err != nil {
		return TradeResult{}, err
	}

	l.mutate(tx, o, func(o *domain.Opinion) {
		o.CurrentAnswer = answer
		o.CurrentAnswerDescription = desc
		o.CurrentAnswerOwner = buyer
		if link != "" {
			o.Link = link
		}
		o.LastPrice = price
		o.NextPrice = next
		o.TotalVolume = volume
	})
	l.appendHistory(tx, domain.AnswerHistoryEntry{
		OpinionID:   o.ID,
		Answer:      answer,
		Description: desc,
		Owner:       buyer,
		Price:       price,
		Timestamp:   tx.Now,
	})
	tx.OnRollback(l.d.Limiter.Record(o.ID, buyer, tx.Block, tx.Now))
	tx.TouchTrade(o.ID, buyer)

	tx.Emit(domain.EventAnswerSubmitted, o.ID, 0, map[string]any{
		"answer":         answer,
		"previous_owner": prevOwner.Hex(),
		"new_owner":      buyer.Hex(),
		"price":          int64(price),
		"next_price":     int64(next),
		"creator_share":  int64(split.Creator),
		"owner_share":    int64(split.Owner),
		"platform_share": int64(split.Platform),
		"penalty":        int64(split.Penalty),
	})
	return TradeResult{Opinion: o.Clone(), Price: price, Split: split, PreviousOwner: prevOwner}, nil
}

// ListQuestionForSale puts the question on the resale marketplace.
func (l *Ledger) ListQuestionForSale(tx *journal.Tx, id uint64, price domain.Amount) (domain.Opinion, error) {
	o, err := l.get(id)
	if err != nil {
		return domain.Opinion{}, err
	}
	if o.QuestionOwner != tx.Caller {
		return domain.Opinion{}, notOwner(tx.Caller, o)
	}
	if !o.IsActive {
		return domain.Opinion{}, domain.Fail(domain.OpinionNotActive, "opinion_id", id)
	}
	if price <= 0 {
		return domain.Opinion{}, domain.Fail(domain.InvalidAmount, "price", price)
	}
	l.mutate(tx, o, func(o *domain.Opinion) { o.SalePrice = price })
	tx.Emit(domain.EventQuestionListed, id, 0, map[string]any{
		"seller": tx.Caller.Hex(),
		"price":  int64(price),
	})
	return o.Clone(), nil
}

// CancelQuestionSale withdraws a listing.
func (l *Ledger) CancelQuestionSale(tx *journal.Tx, id uint64) (domain.Opinion, error) {
	o, err := l.get(id)
	if err != nil {
		return domain.Opinion{}, err
	}
	if o.QuestionOwner != tx.Caller {
		return domain.Opinion{}, notOwner(tx.Caller, o)
	}
	if !o.Listed() {
		return domain.Opinion{}, domain.Fail(domain.NotForSale, "opinion_id", id)
	}
	l.mutate(tx, o, func(o *domain.Opinion) { o.SalePrice = 0 })
	tx.Emit(domain.EventQuestionSaleCancelled, id, 0, map[string]any{"seller": tx.Caller.Hex()})
	return o.Clone(), nil
}

// BuyQuestion transfers question ownership to tx.Caller at the listed price.
func (l *Ledger) BuyQuestion(ctx context.Context, tx *journal.Tx, id uint64) (domain.Opinion, fees.ResaleSplit, error) {
	o, err := l.get(id)
	if err != nil {
		return domain.Opinion{}, fees.ResaleSplit{}, err
	}
	if !o.Listed() {
		return domain.Opinion{}, fees.ResaleSplit{}, domain.Fail(domain.NotForSale, "opinion_id", id)
	}
	if !o.IsActive {
		return domain.Opinion{}, fees.ResaleSplit{}, domain.Fail(domain.OpinionNotActive, "opinion_id", id)
	}
	if o.QuestionOwner == tx.Caller {
		return domain.Opinion{}, fees.ResaleSplit{}, domain.Fail(domain.AlreadyOwner,
			"opinion_id", id, "caller", tx.Caller.Hex())
	}
	price := o.SalePrice
	if err := l.requireAllowance(ctx, tx.Caller, price); err != nil {
		return domain.Opinion{}, fees.ResaleSplit{}, err
	}
	split, err := l.d.Fees.ResaleSplit(price)
	if err != nil {
		return domain.Opinion{}, fees.ResaleSplit{}, err
	}
	seller := o.QuestionOwner
	if err := l.d.Distributor.Credit(tx, seller, split.Seller); err != nil {
		return domain.Opinion{}, fees.ResaleSplit{}, err
	}
	if err := l.d.Distributor.CreditPlatform(tx, split.Platform); err != nil {
		return domain.Opinion{}, fees.ResaleSplit{}, err
	}
	l.mutate(tx, o, func(o *domain.Opinion) {
		o.QuestionOwner = tx.Caller
		o.SalePrice = 0
	})
	tx.Pull(l.d.Token, tx.Caller, price, "buy_question")
	tx.Emit(domain.EventQuestionSold, id, 0, map[string]any{
		"seller":         seller.Hex(),
		"buyer":          tx.Caller.Hex(),
		"price":          int64(price),
		"seller_share":   int64(split.Seller),
		"platform_share": int64(split.Platform),
	})
	return o.Clone(), split, nil
}

// Deactivate blocks trading and resale. A live listing is withdrawn.
func (l *Ledger) Deactivate(tx *journal.Tx, id uint64) (domain.Opinion, error) {
	o, err := l.get(id)
	if err != nil {
		return domain.Opinion{}, err
	}
	if !o.IsActive {
		return domain.Opinion{}, domain.Fail(domain.OpinionNotActive, "opinion_id", id)
	}
	wasListed := o.Listed()
	l.mutate(tx, o, func(o *domain.Opinion) {
		o.IsActive = false
		o.SalePrice = 0
	})
	if wasListed {
		tx.Emit(domain.EventQuestionSaleCancelled, id, 0, map[string]any{"reason": "deactivated"})
	}
	tx.Emit(domain.EventOpinionDeactivated, id, 0, nil)
	return o.Clone(), nil
}

// Reactivate re-enables trading.
func (l *Ledger) Reactivate(tx *journal.Tx, id uint64) (domain.Opinion, error) {
	o, err := l.get(id)
	if err != nil {
		return domain.Opinion{}, err
	}
	if o.IsActive {
		return domain.Opinion{}, domain.Fail(domain.OpinionAlreadyActive, "opinion_id", id)
	}
	l.mutate(tx, o, func(o *domain.Opinion) { o.IsActive = true })
	tx.Emit(domain.EventOpinionReactivated, id, 0, nil)
	return o.Clone(), nil
}

// Opinion returns a copy of opinion id.
func (l *Ledger) Opinion(id uint64) (domain.Opinion, error) {
	o, err := l.get(id)
	if err != nil {
		return domain.Opinion{}, err
	}
	return o.Clone(), nil
}

// History returns the answer history of opinion id, oldest first.
func (l *Ledger) History(id uint64) ([]domain.AnswerHistoryEntry, error) {
	if _, err := l.get(id); err != nil {
		return nil, err
	}
	return append([]domain.AnswerHistoryEntry(nil), l.history[id]...), nil
}

// NextPrice returns the price of the next buyout of opinion id.
func (l *Ledger) NextPrice(id uint64) (domain.Amount, error) {
	o, err := l.get(id)
	if err != nil {
		return 0, err
	}
	return o.NextPrice, nil
}

// List returns opinions ordered by id.
func (l *Ledger) List(opts domain.ListOpts) []domain.Opinion {
	ids := make([]uint64, 0, len(l.opinions))
	for id, o := range l.opinions {
		if opts.Active != nil && o.IsActive != *opts.Active {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if opts.Offset > 0 {
		if opts.Offset >= len(ids) {
			return nil
		}
		ids = ids[opts.Offset:]
	}
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	out := make([]domain.Opinion, len(ids))
	for i, id := range ids {
		out[i] = l.opinions[id].Clone()
	}
	return out
}

// Snapshot returns every opinion and history entry.
func (l *Ledger) Snapshot() ([]domain.Opinion, []domain.AnswerHistoryEntry) {
	ops := l.List(domain.ListOpts{})
	var hist []domain.AnswerHistoryEntry
	for _, o := range ops {
		hist = append(hist, l.history[o.ID]...)
	}
	return ops, hist
}

func (l *Ledger) get(id uint64) (*domain.Opinion, error) {
	o, ok := l.opinions[id]
	if !ok {
		return nil, domain.Fail(domain.OpinionNotFound, "opinion_id", id)
	}
	return o, nil
}

func (l *Ledger) mutate(tx *journal.Tx, o *domain.Opinion, f func(*domain.Opinion)) {
	prev := o.Clone()
	f(o)
	tx.TouchOpinion(o.ID)
	tx.OnRollback(func() { *o = prev })
}

func (l *Ledger) appendHistory(tx *journal.Tx, e domain.AnswerHistoryEntry) {
	n := len(l.history[e.OpinionID])
	l.history[e.OpinionID] = append(l.history[e.OpinionID], e)
	tx.AppendHistory(e)
	tx.OnRollback(func() {
		if n == 0 {
			delete(l.history, e.OpinionID)
			return
		}
		l.history[e.OpinionID] = l.history[e.OpinionID][:n]
	})
}

func (l *Ledger) requireAllowance(ctx context.Context, owner domain.Address, need domain.Amount) error {
	if need <= 0 {
		return nil
	}
	have, err := l.d.Token.Allowance(ctx, owner)
	if err != nil {
		return fmt.Errorf("ledger: read allowance: %w", err)
	}
	if have < need {
		return domain.Fail(domain.InsufficientAllowance,
			"owner", owner.Hex(), "allowance", have, "required", need)
	}
	return nil
}

func notOwner(caller domain.Address, o *domain.Opinion) error {
	return domain.Fail(domain.NotTheOwner, "caller", caller.Hex(), "owner", o.QuestionOwner.Hex())
}
