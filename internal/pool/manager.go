// Package pool implements crowdfunded buyouts. A fully funded pool buys the
// answer through the ledger as a single buyer whose address is derived from
// the pool id.
package pool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/fees"
	"github.com/alanyoungcy/opinionmarket/internal/journal"
	"github.com/alanyoungcy/opinionmarket/internal/ledger"
)

// Deps are the collaborators of the Manager.
type Deps struct {
	Ledger      *ledger.Ledger
	Distributor *fees.Distributor
	Fees        fees.Policy
	Token       domain.Token
	Policy      Policy
}

// Manager owns every pool. Callers serialize access.
type Manager struct {
	d         Deps
	pools     map[uint64]*domain.Pool
	byOpinion map[uint64][]uint64
	byAddress map[domain.Address]uint64
	nextID    uint64
}

// New creates an empty Manager.
func New(d Deps) *Manager {
	return &Manager{
		d:         d,
		pools:     make(map[uint64]*domain.Pool),
		byOpinion: make(map[uint64][]uint64),
		byAddress: make(map[domain.Address]uint64),
		nextID:    1,
	}
}

// Restore loads persisted pools.
func (m *Manager) Restore(pools []domain.Pool, nextID uint64) {
	m.pools = make(map[uint64]*domain.Pool, len(pools))
	m.byOpinion = make(map[uint64][]uint64)
	m.byAddress = make(map[domain.Address]uint64, len(pools))
	max := uint64(0)
	sort.Slice(pools, func(i, j int) bool { return pools[i].ID < pools[j].ID })
	for i := range pools {
		p := pools[i].Clone()
		m.index(&p)
		if p.ID > max {
			max = p.ID
		}
	}
	m.nextID = nextID
	if m.nextID <= max {
		m.nextID = max + 1
	}
}

func (m *Manager) index(p *domain.Pool) {
	m.pools[p.ID] = p
	m.byOpinion[p.OpinionID] = append(m.byOpinion[p.OpinionID], p.ID)
	m.byAddress[p.Address()] = p.ID
}

func (m *Manager) unindex(p *domain.Pool) {
	delete(m.pools, p.ID)
	delete(m.byAddress, p.Address())
	ids := m.byOpinion[p.OpinionID]
	for i, id := range ids {
		if id == p.ID {
			m.byOpinion[p.OpinionID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(m.byOpinion[p.OpinionID]) == 0 {
		delete(m.byOpinion, p.OpinionID)
	}
}

// NextID returns the id the next pool will get.
func (m *Manager) NextID() uint64 { return m.nextID }

// CreateInput holds createPool arguments.
type CreateInput struct {
	OpinionID           uint64
	ProposedAnswer      string
	ProposedDescription string
	Deadline            time.Time
	InitialContribution domain.Amount
	Name                string
	ContentHash         string
}

// Create opens a pool funded by tx.Caller's initial contribution. If that
// contribution alone covers the opinion's next price the pool executes at once.
func (m *Manager) Create(ctx context.Context, tx *journal.Tx, in CreateInput) (domain.Pool, error) {
	op, err := m.d.Ledger.Opinion(in.OpinionID)
	if err != nil {
		return domain.Pool{}, err
	}
	if !op.IsActive {
		return domain.Pool{}, domain.Fail(domain.OpinionNotActive, "opinion_id", op.ID)
	}
	if err := m.d.Policy.CheckDeadline(tx.Now, in.Deadline); err != nil {
		return domain.Pool{}, err
	}
	answer, desc, err := m.d.Ledger.Rules().CheckAnswer(in.ProposedAnswer, in.ProposedDescription)
	if err != nil {
		return domain.Pool{}, err
	}
	if answer == op.CurrentAnswer {
		return domain.Pool{}, domain.Fail(domain.PoolSameAnswer, "opinion_id", op.ID, "answer", answer)
	}
	name, err := m.d.Policy.CheckName(in.Name)
	if err != nil {
		return domain.Pool{}, err
	}
	hash, err := CheckContentHash(in.ContentHash)
	if err != nil {
		return domain.Pool{}, err
	}
	if in.InitialContribution < m.d.Policy.MinContribution {
		return domain.Pool{}, domain.Fail(domain.PoolContributionTooLow,
			"amount", in.InitialContribution, "min", m.d.Policy.MinContribution)
	}

	accepted := min(in.InitialContribution, op.NextPrice)
	fee := m.d.Fees.PoolCreationFee()
	need, err := accepted.Add(fee)
	if err != nil {
		return domain.Pool{}, err
	}
	if err := m.requireAllowance(ctx, tx.Caller, need); err != nil {
		return domain.Pool{}, err
	}

	id := m.nextID
	p := &domain.Pool{
		ID:                  id,
		OpinionID:           op.ID,
		ProposedAnswer:      answer,
		ProposedDescription: desc,
		Creator:             tx.Caller,
		Deadline:            in.Deadline,
		Status:              domain.PoolStatusActive,
		Name:                name,
		ContentHash:         hash,
		CreatedAt:           tx.Now,
	}
	m.index(p)
	m.nextID++
	tx.OnRollback(func() {
		m.unindex(p)
		m.nextID = id
	})
	tx.TouchPool(id)

	if err := m.d.Distributor.CreditPlatform(tx, fee); err != nil {
		return domain.Pool{}, err
	}
	tx.Pull(m.d.Token, tx.Caller, fee, "pool_creation_fee")

	tx.Emit(domain.EventPoolCreated, op.ID, id, map[string]any{
		"proposed_answer": answer,
		"deadline":        in.Deadline.UTC().Format(time.RFC3339),
		"name":            name,
		"creation_fee":    int64(fee),
	})
	if err := m.contribute(tx, p, accepted, op.NextPrice); err != nil {
		return domain.Pool{}, err
	}
	return p.Clone(), nil
}

// Contribute adds tx.Caller's amount to pool id, capped to what the pool
// still needs. A contribution below the floor is accepted only when it
// completes funding.
func (m *Manager) Contribute(ctx context.Context, tx *journal.Tx, id uint64, amount domain.Amount) (domain.Pool, domain.Amount, error) {
	p, err := m.get(id)
	if err != nil {
		return domain.Pool{}, 0, err
	}
	if p.Status != domain.PoolStatusActive {
		return domain.Pool{}, 0, domain.Fail(domain.PoolNotActive, "pool_id", id, "status", p.Status.String())
	}
	if tx.Now.After(p.Deadline) {
		return domain.Pool{}, 0, domain.Fail(domain.PoolExpired,
			"pool_id", id, "deadline", p.Deadline.UTC().Format(time.RFC3339))
	}
	if amount <= 0 {
		return domain.Pool{}, 0, domain.Fail(domain.InvalidAmount, "amount", amount)
	}
	op, err := m.d.Ledger.Opinion(p.OpinionID)
	if err != nil {
		return domain.Pool{}, 0, err
	}
	if !op.IsActive {
		return domain.Pool{}, 0, domain.Fail(domain.OpinionNotActive, "opinion_id", op.ID)
	}

	target := op.NextPrice
	remaining := target - p.TotalAmount
	if remaining <= 0 {
		return domain.Pool{}, 0, domain.Fail(domain.PoolNotActive,
			"pool_id", id, "total", p.TotalAmount, "target", target)
	}
	accepted := min(amount, remaining)
	if accepted < m.d.Policy.MinContribution && accepted != remaining {
		return domain.Pool{}, 0, domain.Fail(domain.PoolContributionTooLow,
			"amount", accepted, "min", m.d.Policy.MinContribution, "remaining", remaining)
	}
	if err := m.requireAllowance(ctx, tx.Caller, accepted); err != nil {
		return domain.Pool{}, 0, err
	}
	if err := m.contribute(tx, p, accepted, target); err != nil {
		return domain.Pool{}, 0, err
	}
	return p.Clone(), accepted, nil
}

func (m *Manager) contribute(tx *journal.Tx, p *domain.Pool, amount, target domain.Amount) error {
	total, err := p.TotalAmount.Add(amount)
	if err != nil {
		return err
	}
	m.mutate(tx, p, func(p *domain.Pool) {
		if i := p.ContributionIndex(tx.Caller); i >= 0 {
			p.Contributions[i].Amount += amount
		} else {
			p.Contributions = append(p.Contributions, domain.Contribution{Contributor: tx.Caller, Amount: amount})
		}
		p.TotalAmount = total
	})
	tx.Pull(m.d.Token, tx.Caller, amount, "pool_contribution")
	tx.Emit(domain.EventPoolContribution, p.OpinionID, p.ID, map[string]any{
		"contributor": tx.Caller.Hex(),
		"amount":      int64(amount),
		"total":       int64(total),
		"target":      int64(target),
	})
	if total == target {
		return m.execute(tx, p, target)
	}
	return nil
}

func (m *Manager) execute(tx *journal.Tx, p *domain.Pool, price domain.Amount) error {
	res, err := m.d.Ledger.SubmitAnswerFunded(tx, p.Address(), ledger.SubmitAnswerInput{
		OpinionID:   p.OpinionID,
		Answer:      p.ProposedAnswer,
		Description: p.ProposedDescription,
	}, price)
	if err != nil {
		return err
	}
	m.mutate(tx, p, func(p *domain.Pool) {
		p.Status = domain.PoolStatusExecuted
		p.TargetPrice = price
		p.ExecutedAt = tx.Now
	})
	tx.Emit(domain.EventPoolExecuted, p.OpinionID, p.ID, map[string]any{
		"price":          int64(price),
		"pool_address":   p.Address().Hex(),
		"previous_owner": res.PreviousOwner.Hex(),
		"contributors":   len(p.Contributions),
	})
	return nil
}

// CheckExpiry moves an Active pool past its deadline to Expired. Anyone may
// call it; an unexpired or terminal pool is returned unchanged.
func (m *Manager) CheckExpiry(tx *journal.Tx, id uint64) (domain.Pool, error) {
	p, err := m.get(id)
	if err != nil {
		return domain.Pool{}, err
	}
	if p.Status == domain.PoolStatusActive && tx.Now.After(p.Deadline) {
		m.mutate(tx, p, func(p *domain.Pool) { p.Status = domain.PoolStatusExpired })
		tx.Emit(domain.EventPoolExpired, p.OpinionID, p.ID, map[string]any{
			"total": int64(p.TotalAmount),
		})
	}
	return p.Clone(), nil
}

// Withdraw returns tx.Caller's exact contribution from an Expired pool.
func (m *Manager) Withdraw(tx *journal.Tx, id uint64) (domain.Amount, error) {
	p, err := m.get(id)
	if err != nil {
		return 0, err
	}
	if p.Status != domain.PoolStatusExpired {
		return 0, domain.Fail(domain.PoolNotExpired, "pool_id", id, "status", p.Status.String())
	}
	i := p.ContributionIndex(tx.Caller)
	if i < 0 || p.Contributions[i].Withdrawn || p.Contributions[i].Amount == 0 {
		return 0, domain.Fail(domain.NothingToWithdraw, "pool_id", id, "caller", tx.Caller.Hex())
	}
	amount := p.Contributions[i].Amount
	m.mutate(tx, p, func(p *domain.Pool) { p.Contributions[i].Withdrawn = true })
	tx.Push(m.d.Token, tx.Caller, amount, "pool_withdrawal")
	tx.Emit(domain.EventPoolWithdrawal, p.OpinionID, p.ID, map[string]any{
		"contributor": tx.Caller.Hex(),
		"amount":      int64(amount),
	})
	return amount, nil
}

// Route implements fees.Router: credits to an executed pool's address are
// split pro-rata across its contributors, dust to the pool creator.
func (m *Manager) Route(account domain.Address, amount domain.Amount) ([]fees.Share, bool) {
	id, ok := m.byAddress[account]
	if !ok {
		return nil, false
	}
	p := m.pools[id]
	if p.Status != domain.PoolStatusExecuted || p.TotalAmount <= 0 {
		return nil, false
	}
	shares := make([]fees.Share, 0, len(p.Contributions)+1)
	var paid domain.Amount
	for _, c := range p.Contributions {
		s, err := amount.MulDiv(int64(c.Amount), int64(p.TotalAmount))
		if err != nil {
			return nil, false
		}
		shares = append(shares, fees.Share{Account: c.Contributor, Amount: s})
		paid += s
	}
	if dust := amount - paid; dust > 0 {
		shares = append(shares, fees.Share{Account: p.Creator, Amount: dust})
	}
	return shares, true
}

// Pool returns a copy of pool id.
func (m *Manager) Pool(id uint64) (domain.Pool, error) {
	p, err := m.get(id)
	if err != nil {
		return domain.Pool{}, err
	}
	return p.Clone(), nil
}

// ByOpinion returns the pools of an opinion ordered by id.
func (m *Manager) ByOpinion(opinionID uint64) []domain.Pool {
	ids := m.byOpinion[opinionID]
	out := make([]domain.Pool, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.pools[id].Clone())
	}
	return out
}

// Overdue lists Active pools whose deadline passed before now.
func (m *Manager) Overdue(now time.Time) []uint64 {
	var ids []uint64
	for id, p := range m.pools {
		if p.Status == domain.PoolStatusActive && now.After(p.Deadline) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns every pool ordered by id.
func (m *Manager) Snapshot() []domain.Pool {
	ids := make([]uint64, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]domain.Pool, len(ids))
	for i, id := range ids {
		out[i] = m.pools[id].Clone()
	}
	return out
}

func (m *Manager) get(id uint64) (*domain.Pool, error) {
	p, ok := m.pools[id]
	if !ok {
		return nil, domain.Fail(domain.PoolNotFound, "pool_id", id)
	}
	return p, nil
}

func (m *Manager) mutate(tx *journal.Tx, p *domain.Pool, f func(*domain.Pool)) {
	prev := p.Clone()
	f(p)
	tx.TouchPool(p.ID)
	tx.OnRollback(func() { *p = prev })
}

func (m *Manager) requireAllowance(ctx context.Context, owner domain.Address, need domain.Amount) error {
	if need <= 0 {
		return nil
	}
	have, err := m.d.Token.Allowance(ctx, owner)
	if err != nil {
		return fmt.Errorf("pool: read allowance: %w", err)
	}
	if have < need {
		return domain.Fail(domain.InsufficientAllowance,
			"owner", owner.Hex(), "allowance", have, "required", need)
	}
	return nil
}
