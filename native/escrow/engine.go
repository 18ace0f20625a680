package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"unicode/utf8"

	"aidledger/core/events"
	"aidledger/core/types"
)

var (
	errNilState  = errors.New("escrow engine: state not configured")
	errNilLedger = errors.New("escrow engine: ledger not configured")
)

// DefaultMaxEscrows caps how many escrows may ever be created unless the
// operator overrides the limit.
const DefaultMaxEscrows uint64 = 1000

// ModuleVault is the principal holding locked escrow funds. It stands in for
// the contract's own balance in the source system.
const ModuleVault = types.Principal("escrow-vault")

// EngineState is the persistence surface the engine drives. Implemented by
// the core state manager in production and by hand mocks in tests.
type EngineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id uint64) (*Escrow, bool, error)
	EscrowUpdatePut(id uint64, update *Update) error
	EscrowUpdateGet(id uint64) (*Update, bool, error)
	DonorIndexAppend(donor types.Principal, id uint64) error
	DonorIndexGet(donor types.Principal) ([]uint64, error)
	NextEscrowID() (uint64, error)
	SetNextEscrowID(id uint64) error
	AuthorityGet() (types.Principal, bool, error)
	FeeGet() (*big.Int, error)
}

// Transfer is one balance movement requested from the external value-transfer
// primitive.
type Transfer struct {
	Amount *big.Int
	From   types.Principal
	To     types.Principal
}

// Ledger is the external transfer primitive. Transfer applies a single
// movement; Apply applies a batch all-or-nothing. Either call must leave no
// partial effect behind on failure.
type Ledger interface {
	Transfer(amount *big.Int, from, to types.Principal) error
	Apply(transfers []Transfer) error
}

// Engine implements the escrow state machine. All mutating operations must be
// externally serialized (the owning node holds a single lock); the engine
// itself performs no locking.
type Engine struct {
	state      EngineState
	ledger     Ledger
	vault      types.Principal
	maxEscrows uint64
	heightFn   func() uint64
	emitter    events.Emitter
}

// NewEngine creates an engine with the default capacity, vault principal and
// a no-op emitter. State, ledger and height source are wired by the node.
func NewEngine() *Engine {
	return &Engine{
		vault:      ModuleVault,
		maxEscrows: DefaultMaxEscrows,
		heightFn:   func() uint64 { return 0 },
		emitter:    events.NoopEmitter{},
	}
}

// SetState configures the persistence backend.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetLedger configures the transfer primitive.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetVault overrides the escrow-holding principal.
func (e *Engine) SetVault(vault types.Principal) {
	if !vault.IsZero() {
		e.vault = vault
	}
}

// Vault returns the escrow-holding principal.
func (e *Engine) Vault() types.Principal { return e.vault }

// SetMaxEscrows overrides the creation capacity. Zero resets the default.
func (e *Engine) SetMaxEscrows(limit uint64) {
	if limit == 0 {
		e.maxEscrows = DefaultMaxEscrows
		return
	}
	e.maxEscrows = limit
}

// SetHeightFunc wires the logical time source. Heights are compared, never
// awaited; the source must be monotonically non-decreasing.
func (e *Engine) SetHeightFunc(height func() uint64) {
	if height == nil {
		e.heightFn = func() uint64 { return 0 }
		return
	}
	e.heightFn = height
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) height() uint64 {
	if e == nil || e.heightFn == nil {
		return 0
	}
	return e.heightFn()
}

func (e *Engine) loadEscrow(id uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

// CreateParams carries the raw creation request. Tag fields arrive as strings
// and are parsed in validation order so an unknown tag surfaces exactly where
// the source contract reports it.
type CreateParams struct {
	Recipient   types.Principal
	Amount      *big.Int
	Duration    uint64
	Penalty     uint32
	Threshold   uint32
	EscrowType  string
	Interest    uint32
	Grace       uint32
	Location    string
	Currency    string
	MinAmount   *big.Int
	MaxAmount   *big.Int
	Condition   string
	ReleaseTime uint64
	RefundTime  uint64
	Arbiter     types.Principal
}

// Create validates the request, pays the creation fee to the authority, locks
// the amount in the vault and persists the new record. The caller is the
// donor. The fee and principal transfers are submitted as one atomic batch;
// store mutations only happen after the batch succeeds, so a ledger failure
// leaves no partial state. Returns the dense, zero-based ID of the new
// escrow.
func (e *Engine) Create(caller types.Principal, params CreateParams) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if e.ledger == nil {
		return 0, errNilLedger
	}
	nextID, err := e.state.NextEscrowID()
	if err != nil {
		return 0, err
	}
	if nextID >= e.maxEscrows {
		return 0, ErrCapacityExceeded
	}
	if params.Recipient == caller {
		return 0, ErrInvalidRecipient
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if params.Duration == 0 {
		return 0, ErrInvalidDuration
	}
	if params.Penalty > 100 {
		return 0, ErrInvalidPenalty
	}
	if params.Threshold == 0 || params.Threshold > 100 {
		return 0, ErrInvalidThreshold
	}
	escrowType, err := ParseType(params.EscrowType)
	if err != nil {
		return 0, err
	}
	if params.Interest > 20 {
		return 0, ErrInvalidInterest
	}
	if params.Grace > 30 {
		return 0, ErrInvalidGrace
	}
	if params.Location == "" || utf8.RuneCountInString(params.Location) > MaxLocationLen {
		return 0, ErrInvalidLocation
	}
	currency, err := ParseCurrency(params.Currency)
	if err != nil {
		return 0, err
	}
	if params.MinAmount == nil || params.MinAmount.Sign() <= 0 {
		return 0, ErrInvalidMinAmount
	}
	if params.MaxAmount == nil || params.MaxAmount.Sign() <= 0 {
		return 0, ErrInvalidMaxAmount
	}
	if params.Condition == "" || utf8.RuneCountInString(params.Condition) > MaxConditionLen {
		return 0, ErrInvalidCondition
	}
	now := e.height()
	if params.ReleaseTime <= now {
		return 0, ErrInvalidReleaseTime
	}
	if params.RefundTime <= now {
		return 0, ErrInvalidRefundTime
	}
	if params.Arbiter == caller {
		return 0, ErrInvalidArbiter
	}
	authority, ok, err := e.state.AuthorityGet()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrAuthorityNotSet
	}
	fee, err := e.state.FeeGet()
	if err != nil {
		return 0, err
	}

	// Fee and principal move as one unit. The min/max bounds are stored but
	// deliberately not enforced against the amount.
	batch := []Transfer{
		{Amount: fee, From: caller, To: authority},
		{Amount: new(big.Int).Set(params.Amount), From: caller, To: e.vault},
	}
	if err := e.ledger.Apply(batch); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	esc := &Escrow{
		ID:          nextID,
		Donor:       caller,
		Recipient:   params.Recipient,
		Arbiter:     params.Arbiter,
		Amount:      new(big.Int).Set(params.Amount),
		MinAmount:   new(big.Int).Set(params.MinAmount),
		MaxAmount:   new(big.Int).Set(params.MaxAmount),
		Duration:    params.Duration,
		Penalty:     params.Penalty,
		Threshold:   params.Threshold,
		Interest:    params.Interest,
		Grace:       params.Grace,
		EscrowType:  escrowType,
		Currency:    currency,
		Location:    params.Location,
		Condition:   params.Condition,
		ReleaseTime: params.ReleaseTime,
		RefundTime:  params.RefundTime,
		Timestamp:   now,
		Status:      StatusLocked,
		FeePaid:     true,
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return 0, err
	}
	if err := e.state.DonorIndexAppend(caller, nextID); err != nil {
		return 0, err
	}
	if err := e.state.SetNextEscrowID(nextID + 1); err != nil {
		return 0, err
	}
	e.emit(NewCreatedEvent(esc))
	return nextID, nil
}

// Update applies a donor-only amendment to a locked escrow. Amount, duration
// and timestamp are overwritten in place and the single retained amendment
// record is replaced. The amount delta moves through the ledger so the vault
// always holds exactly the current locked amount: an increase draws the
// difference from the donor, a decrease returns it.
func (e *Engine) Update(caller types.Principal, id uint64, amount *big.Int, duration uint64) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Donor != caller {
		return ErrNotAuthorized
	}
	if esc.Status != StatusLocked {
		return ErrUpdateNotAllowed
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if duration == 0 {
		return ErrInvalidDuration
	}
	delta := new(big.Int).Sub(amount, esc.Amount)
	switch delta.Sign() {
	case 1:
		if err := e.ledger.Transfer(delta, caller, e.vault); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	case -1:
		if err := e.ledger.Transfer(delta.Neg(delta), e.vault, caller); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	now := e.height()
	esc.Amount = new(big.Int).Set(amount)
	esc.Duration = duration
	esc.Timestamp = now
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	update := &Update{
		Amount:    new(big.Int).Set(amount),
		Duration:  duration,
		Timestamp: now,
		Updater:   caller,
	}
	if err := e.state.EscrowUpdatePut(id, update); err != nil {
		return err
	}
	e.emit(NewUpdatedEvent(esc, update))
	return nil
}

// Release settles a locked escrow in favour of the recipient. The arbiter may
// release at any time; once the release height is reached anyone may trigger
// it.
func (e *Engine) Release(caller types.Principal, id uint64) error {
	return e.settle(caller, id, StatusReleased)
}

// Refund mirrors Release with the refund height and returns the funds to the
// donor.
func (e *Engine) Refund(caller types.Principal, id uint64) error {
	return e.settle(caller, id, StatusRefunded)
}

func (e *Engine) settle(caller types.Principal, id uint64, outcome Status) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusLocked {
		return ErrInvalidStatus
	}
	deadline := esc.ReleaseTime
	destination := esc.Recipient
	if outcome == StatusRefunded {
		deadline = esc.RefundTime
		destination = esc.Donor
	}
	if caller != esc.Arbiter && e.height() < deadline {
		return ErrNotAuthorized
	}
	if err := e.ledger.Transfer(esc.Amount, e.vault, destination); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	esc.Status = outcome
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if outcome == StatusRefunded {
		e.emit(NewRefundedEvent(esc))
	} else {
		e.emit(NewReleasedEvent(esc))
	}
	return nil
}

// Count returns the next-to-be-assigned ID, i.e. the total number of escrows
// ever created including settled ones.
func (e *Engine) Count() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.NextEscrowID()
}

// StatusOf returns the stored status of the escrow.
func (e *Engine) StatusOf(id uint64) (Status, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return 0, err
	}
	return esc.Status, nil
}

// Get returns a clone of the stored record.
func (e *Engine) Get(id uint64) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// UpdateOf returns the latest retained amendment for the escrow.
func (e *Engine) UpdateOf(id uint64) (*Update, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	update, ok, err := e.state.EscrowUpdateGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return update.Clone(), nil
}

// EscrowsByDonor returns every ID the donor ever created. The index is
// append-only and keeps settled escrows.
func (e *Engine) EscrowsByDonor(donor types.Principal) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.DonorIndexGet(donor)
}
