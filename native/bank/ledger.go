// Package bank provides the balance ledger backing the escrow engine's
// transfer primitive. Balances live in the state manager; both the single
// transfer and the batch form are all-or-nothing.
package bank

import (
	"errors"
	"fmt"
	"math/big"

	"aidledger/core/types"
	"aidledger/native/escrow"
)

// ErrInsufficientBalance is returned when a movement would overdraw the
// source principal.
var ErrInsufficientBalance = errors.New("bank: insufficient balance")

// LedgerState is the persistence surface for account balances.
type LedgerState interface {
	BalanceGet(p types.Principal) (*big.Int, error)
	BalanceSet(p types.Principal, amount *big.Int) error
}

// Ledger implements escrow.Ledger over stored balances.
type Ledger struct {
	state LedgerState
}

// NewLedger wraps the supplied state backend.
func NewLedger(state LedgerState) *Ledger {
	return &Ledger{state: state}
}

// Transfer moves amount from one principal to another. Zero-amount transfers
// succeed without touching state.
func (l *Ledger) Transfer(amount *big.Int, from, to types.Principal) error {
	return l.Apply([]escrow.Transfer{{Amount: amount, From: from, To: to}})
}

// Apply executes a batch of transfers atomically: every leg is validated
// against staged balances before any balance is written, so a failing leg
// leaves no partial effect.
func (l *Ledger) Apply(transfers []escrow.Transfer) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("bank: state not configured")
	}
	staged := make(map[types.Principal]*big.Int)
	balance := func(p types.Principal) (*big.Int, error) {
		if b, ok := staged[p]; ok {
			return b, nil
		}
		stored, err := l.state.BalanceGet(p)
		if err != nil {
			return nil, err
		}
		b := new(big.Int)
		if stored != nil {
			b.Set(stored)
		}
		staged[p] = b
		return b, nil
	}
	for _, t := range transfers {
		if t.From.IsZero() || t.To.IsZero() {
			return fmt.Errorf("bank: transfer principal required")
		}
		if t.Amount == nil || t.Amount.Sign() < 0 {
			return fmt.Errorf("bank: negative transfer amount")
		}
		if t.Amount.Sign() == 0 {
			continue
		}
		from, err := balance(t.From)
		if err != nil {
			return err
		}
		if from.Cmp(t.Amount) < 0 {
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, t.From)
		}
		from.Sub(from, t.Amount)
		to, err := balance(t.To)
		if err != nil {
			return err
		}
		to.Add(to, t.Amount)
	}
	for p, b := range staged {
		if err := l.state.BalanceSet(p, b); err != nil {
			return err
		}
	}
	return nil
}

// Mint credits freshly issued funds to a principal. Used by the daemon's
// genesis funding and by test harnesses; the ledger itself never creates
// funds during escrow operations.
func (l *Ledger) Mint(to types.Principal, amount *big.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("bank: state not configured")
	}
	if to.IsZero() {
		return fmt.Errorf("bank: mint principal required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: mint amount must be positive")
	}
	current, err := l.state.BalanceGet(to)
	if err != nil {
		return err
	}
	next := new(big.Int)
	if current != nil {
		next.Set(current)
	}
	next.Add(next, amount)
	return l.state.BalanceSet(to, next)
}

// BalanceOf returns the stored balance, zero when absent.
func (l *Ledger) BalanceOf(p types.Principal) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("bank: state not configured")
	}
	stored, err := l.state.BalanceGet(p)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(stored), nil
}
