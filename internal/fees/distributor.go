package fees

import (
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/journal"
)

// Share is one recipient's portion of a routed credit.
type Share struct {
	Account domain.Address
	Amount  domain.Amount
}

// Router redirects credits addressed to aggregate accounts, such as executed
// pools, to the accounts standing behind them.
type Router interface {
	Route(account domain.Address, amount domain.Amount) ([]Share, bool)
}

// Distributor holds claimable balances. Crediting never calls out; only Claim
// and WithdrawPlatform queue transfers. Callers serialize access.
type Distributor struct {
	balances map[domain.Address]domain.Amount
	platform domain.Amount
	router   Router
}

// NewDistributor returns an empty distributor.
func NewDistributor() *Distributor {
	return &Distributor{balances: make(map[domain.Address]domain.Amount)}
}

// SetRouter installs the credit router.
func (d *Distributor) SetRouter(r Router) { d.router = r }

// Restore replaces the balances with persisted state.
func (d *Distributor) Restore(balances map[domain.Address]domain.Amount, platform domain.Amount) {
	d.balances = make(map[domain.Address]domain.Amount, len(balances))
	for a, v := range balances {
		d.balances[a] = v
	}
	d.platform = platform
}

// Balance returns the claimable balance of account.
func (d *Distributor) Balance(account domain.Address) domain.Amount { return d.balances[account] }

// Platform returns the platform's accumulated fees.
func (d *Distributor) Platform() domain.Amount { return d.platform }

// Balances returns a copy of every tracked balance, including zeroed ones.
func (d *Distributor) Balances() map[domain.Address]domain.Amount {
	out := make(map[domain.Address]domain.Amount, len(d.balances))
	for a, v := range d.balances {
		out[a] = v
	}
	return out
}

// Liabilities is everything the escrow owes to fee holders.
func (d *Distributor) Liabilities() (domain.Amount, error) {
	total := d.platform
	var err error
	for _, v := range d.balances {
		if total, err = total.Add(v); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Credit adds amount to account's claimable balance, routing it first.
func (d *Distributor) Credit(tx *journal.Tx, account domain.Address, amount domain.Amount) error {
	if amount <= 0 {
		return nil
	}
	if d.router != nil {
		if shares, ok := d.router.Route(account, amount); ok {
			for _, s := range shares {
				if err := d.credit(tx, s.Account, s.Amount); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return d.credit(tx, account, amount)
}

func (d *Distributor) credit(tx *journal.Tx, account domain.Address, amount domain.Amount) error {
	if amount <= 0 {
		return nil
	}
	prev, had := d.balances[account]
	next, err := prev.Add(amount)
	if err != nil {
		return err
	}
	d.balances[account] = next
	tx.TouchFee(account)
	tx.OnRollback(func() {
		if had {
			d.balances[account] = prev
		} else {
			delete(d.balances, account)
		}
	})
	return nil
}

// CreditPlatform adds amount to the platform balance.
func (d *Distributor) CreditPlatform(tx *journal.Tx, amount domain.Amount) error {
	if amount <= 0 {
		return nil
	}
	prev := d.platform
	next, err := prev.Add(amount)
	if err != nil {
		return err
	}
	d.platform = next
	tx.OnRollback(func() { d.platform = prev })
	return nil
}

// Claim zeroes account's balance and queues its payout. A zero balance is a
// no-op that queues nothing.
func (d *Distributor) Claim(tx *journal.Tx, token domain.Token, account domain.Address) domain.Amount {
	bal := d.balances[account]
	if bal <= 0 {
		return 0
	}
	d.balances[account] = 0
	tx.TouchFee(account)
	tx.OnRollback(func() { d.balances[account] = bal })
	tx.Push(token, account, bal, "claim")
	tx.Emit(domain.EventFeesClaimed, 0, 0, map[string]any{
		"account": account.Hex(),
		"amount":  int64(bal),
	})
	return bal
}

// WithdrawPlatform zeroes the platform balance and queues it to recipient.
func (d *Distributor) WithdrawPlatform(tx *journal.Tx, token domain.Token, recipient domain.Address) domain.Amount {
	bal := d.platform
	if bal <= 0 {
		return 0
	}
	d.platform = 0
	tx.OnRollback(func() { d.platform = bal })
	tx.Push(token, recipient, bal, "platform_withdrawal")
	return bal
}
