// Package fees holds the escrow creation fee policy and the authority
// registry that gates it. The authority is an external principal, settable
// exactly once; the fee is a single mutable value paid to the authority on
// every escrow creation.
package fees

import (
	"fmt"
	"math/big"

	"aidledger/core/events"
	"aidledger/core/types"
	"aidledger/native/escrow"
)

// DefaultFee is the creation fee charged until the authority overrides it.
var DefaultFee = big.NewInt(500)

const (
	EventTypeAuthoritySet = "fees.authority_set"
	EventTypeFeeUpdated   = "fees.updated"
)

// PolicyState is the persistence surface for the fee policy.
type PolicyState interface {
	AuthorityGet() (types.Principal, bool, error)
	AuthoritySet(types.Principal) error
	FeeGet() (*big.Int, error)
	FeeSet(*big.Int) error
}

// Policy exposes the gated mutators over the stored authority and fee.
type Policy struct {
	state   PolicyState
	emitter events.Emitter
}

// NewPolicy wraps the supplied state backend.
func NewPolicy(state PolicyState) *Policy {
	return &Policy{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (p *Policy) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

func (p *Policy) withState() (PolicyState, error) {
	if p == nil || p.state == nil {
		return nil, fmt.Errorf("fees: state not configured")
	}
	return p.state, nil
}

// SetAuthority registers the fee authority. It fails once an authority is
// stored, even when re-submitting the same principal.
func (p *Policy) SetAuthority(authority types.Principal) error {
	state, err := p.withState()
	if err != nil {
		return err
	}
	if authority.IsZero() {
		return fmt.Errorf("fees: authority principal required")
	}
	if _, ok, err := state.AuthorityGet(); err != nil {
		return err
	} else if ok {
		return escrow.ErrAuthorityAlreadySet
	}
	if err := state.AuthoritySet(authority); err != nil {
		return err
	}
	p.emitter.Emit(events.Event{
		Type:       EventTypeAuthoritySet,
		Attributes: map[string]string{"authority": authority.String()},
	})
	return nil
}

// Authority returns the registered authority principal, if any.
func (p *Policy) Authority() (types.Principal, bool, error) {
	state, err := p.withState()
	if err != nil {
		return "", false, err
	}
	return state.AuthorityGet()
}

// SetFee replaces the stored creation fee. The amount is validated before
// the authority presence check.
func (p *Policy) SetFee(fee *big.Int) error {
	state, err := p.withState()
	if err != nil {
		return err
	}
	if fee == nil || fee.Sign() < 0 {
		return escrow.ErrInvalidFee
	}
	if _, ok, err := state.AuthorityGet(); err != nil {
		return err
	} else if !ok {
		return escrow.ErrAuthorityNotSet
	}
	if err := state.FeeSet(new(big.Int).Set(fee)); err != nil {
		return err
	}
	p.emitter.Emit(events.Event{
		Type:       EventTypeFeeUpdated,
		Attributes: map[string]string{"fee": fee.String()},
	})
	return nil
}

// Fee returns the current creation fee.
func (p *Policy) Fee() (*big.Int, error) {
	state, err := p.withState()
	if err != nil {
		return nil, err
	}
	return state.FeeGet()
}
