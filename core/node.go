// Package core wires the escrow engine, fee policy, balance ledger and state
// manager into a single serialized node.
package core

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"aidledger/core/events"
	"aidledger/core/state"
	"aidledger/core/types"
	"aidledger/native/bank"
	"aidledger/native/escrow"
	"aidledger/native/fees"
	"aidledger/observability"
	"aidledger/storage"
)

// ErrHeightRegression is returned when a height update would move logical
// time backwards.
var ErrHeightRegression = errors.New("core: height must not decrease")

// Node owns all mutable ledger state. Every operation takes the node lock, so
// execution is serialized: the capacity check, ID allocation, record insert
// and donor-index append of a create cannot interleave with any other
// operation. Logical time is a height counter owned by the node; it is
// compared against deadlines, never awaited.
type Node struct {
	mu     sync.Mutex
	db     storage.Database
	state  *state.Manager
	engine *escrow.Engine
	policy *fees.Policy
	ledger *bank.Ledger
	height uint64
	log    *slog.Logger
}

// NodeOption customises node construction.
type NodeOption func(*Node)

// WithMaxEscrows overrides the creation capacity.
func WithMaxEscrows(limit uint64) NodeOption {
	return func(n *Node) { n.engine.SetMaxEscrows(limit) }
}

// WithVault overrides the escrow-holding principal.
func WithVault(vault types.Principal) NodeOption {
	return func(n *Node) { n.engine.SetVault(vault) }
}

// WithInitialFee seeds the creation fee on a fresh ledger. Once any fee has
// been persisted the stored value wins and changes go through the gated
// SetFee path.
func WithInitialFee(fee *big.Int) NodeOption {
	return func(n *Node) {
		if fee == nil || fee.Sign() < 0 {
			return
		}
		set, err := n.state.FeeIsSet()
		if err != nil || set {
			return
		}
		if err := n.state.FeeSet(new(big.Int).Set(fee)); err != nil {
			n.log.Warn("failed to seed escrow fee", slog.Any("error", err))
		}
	}
}

// WithEmitter replaces the default logging emitter.
func WithEmitter(emitter events.Emitter) NodeOption {
	return func(n *Node) {
		n.engine.SetEmitter(emitter)
		n.policy.SetEmitter(emitter)
	}
}

// WithLogger sets the node logger.
func WithLogger(log *slog.Logger) NodeOption {
	return func(n *Node) {
		if log != nil {
			n.log = log
		}
	}
}

// NewNode constructs a node over the supplied database. The node starts with
// an empty authority, the default fee and a zero creation counter unless the
// database already holds state.
func NewNode(db storage.Database, opts ...NodeOption) *Node {
	manager := state.NewManager(db)
	node := &Node{
		db:     db,
		state:  manager,
		engine: escrow.NewEngine(),
		policy: fees.NewPolicy(manager),
		ledger: bank.NewLedger(manager),
		log:    slog.Default(),
	}
	node.engine.SetState(manager)
	node.engine.SetLedger(node.ledger)
	node.engine.SetHeightFunc(func() uint64 { return node.height })
	emitter := &nodeEmitter{node: node}
	node.engine.SetEmitter(emitter)
	node.policy.SetEmitter(emitter)
	for _, opt := range opts {
		opt(node)
	}
	return node
}

// nodeEmitter logs emitted events and feeds the metrics registry. It runs
// under the node lock, so it must not call back into node operations.
type nodeEmitter struct {
	node *Node
}

func (e *nodeEmitter) Emit(event events.Event) {
	observability.Events().RecordTransition(event.Type)
	args := make([]any, 0, 2*len(event.Attributes))
	for key, value := range event.Attributes {
		args = append(args, slog.String(key, value))
	}
	e.node.log.Info(event.Type, args...)
}

// Height returns the current logical height.
func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

// SetHeight moves logical time forward. Heights are monotone; an attempt to
// decrease fails.
func (n *Node) SetHeight(height uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if height < n.height {
		return ErrHeightRegression
	}
	n.height = height
	observability.Events().RecordHeight(height)
	return nil
}

// AdvanceHeight bumps logical time by delta and returns the new height.
func (n *Node) AdvanceHeight(delta uint64) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.height += delta
	observability.Events().RecordHeight(n.height)
	return n.height
}

// SetAuthority registers the fee authority exactly once.
func (n *Node) SetAuthority(authority types.Principal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.policy.SetAuthority(authority)
}

// Authority returns the registered authority, if any.
func (n *Node) Authority() (types.Principal, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.policy.Authority()
}

// SetFee replaces the escrow creation fee.
func (n *Node) SetFee(fee *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.policy.SetFee(fee)
}

// Fee returns the current creation fee.
func (n *Node) Fee() (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.policy.Fee()
}

// CreateEscrow locks funds for a recipient on behalf of the caller.
func (n *Node) CreateEscrow(caller types.Principal, params escrow.CreateParams) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Create(caller, params)
}

// GetEscrow loads a stored escrow record.
func (n *Node) GetEscrow(id uint64) (*escrow.Escrow, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Get(id)
}

// UpdateEscrow applies a donor amendment to a locked escrow.
func (n *Node) UpdateEscrow(caller types.Principal, id uint64, amount *big.Int, duration uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Update(caller, id, amount, duration)
}

// ReleaseEscrow settles a locked escrow to its recipient.
func (n *Node) ReleaseEscrow(caller types.Principal, id uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Release(caller, id)
}

// RefundEscrow settles a locked escrow back to its donor.
func (n *Node) RefundEscrow(caller types.Principal, id uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Refund(caller, id)
}

// EscrowCount returns the total number of escrows ever created.
func (n *Node) EscrowCount() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Count()
}

// EscrowStatus returns the stored status for the escrow.
func (n *Node) EscrowStatus(id uint64) (escrow.Status, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.StatusOf(id)
}

// EscrowUpdate returns the latest retained amendment for the escrow.
func (n *Node) EscrowUpdate(id uint64) (*escrow.Update, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.UpdateOf(id)
}

// EscrowsByDonor returns every escrow ID the donor created.
func (n *Node) EscrowsByDonor(donor types.Principal) ([]uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.EscrowsByDonor(donor)
}

// Mint credits funds to a principal so it can pay fees and lock amounts.
func (n *Node) Mint(to types.Principal, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.Mint(to, amount)
}

// Balance returns the stored balance for a principal.
func (n *Node) Balance(p types.Principal) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.BalanceOf(p)
}

// Vault returns the escrow-holding principal.
func (n *Node) Vault() types.Principal {
	return n.engine.Vault()
}

// Close releases the underlying database.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.db == nil {
		return nil
	}
	return n.db.Close()
}
