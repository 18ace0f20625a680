package escrow

import (
	"fmt"
	"math/big"

	"aidledger/core/types"
)

// Status tracks the lifecycle of an escrow. Transitions are forward-only:
// a locked escrow settles exactly once into released or refunded.
type Status uint8

const (
	StatusLocked Status = iota
	StatusReleased
	StatusRefunded
)

// String returns the canonical lowercase tag used on the wire.
func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusLocked, StatusReleased, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether the escrow can no longer be mutated.
func (s Status) Terminal() bool { return s == StatusReleased || s == StatusRefunded }

// Type classifies the purpose of the locked funds.
type Type uint8

const (
	TypeDonation Type = iota
	TypeCharity
	TypeAid
)

func (t Type) String() string {
	switch t {
	case TypeDonation:
		return "donation"
	case TypeCharity:
		return "charity"
	case TypeAid:
		return "aid"
	default:
		return "unknown"
	}
}

// Valid reports whether the type value is within the supported range.
func (t Type) Valid() bool { return t <= TypeAid }

// ParseType converts a raw tag into a Type. Matching is exact; anything
// outside the closed set fails with the coded validation error.
func ParseType(raw string) (Type, error) {
	switch raw {
	case "donation":
		return TypeDonation, nil
	case "charity":
		return TypeCharity, nil
	case "aid":
		return TypeAid, nil
	default:
		return 0, ErrInvalidEscrowType
	}
}

// Currency is the symbolic denomination tag attached to an escrow. No
// conversion happens anywhere in the ledger.
type Currency uint8

const (
	CurrencySTX Currency = iota
	CurrencyUSD
	CurrencyBTC
)

func (c Currency) String() string {
	switch c {
	case CurrencySTX:
		return "STX"
	case CurrencyUSD:
		return "USD"
	case CurrencyBTC:
		return "BTC"
	default:
		return "unknown"
	}
}

// Valid reports whether the currency value is within the supported range.
func (c Currency) Valid() bool { return c <= CurrencyBTC }

// ParseCurrency converts a raw tag into a Currency. Matching is exact, so
// lowercase or padded tags fail with the coded validation error.
func ParseCurrency(raw string) (Currency, error) {
	switch raw {
	case "STX":
		return CurrencySTX, nil
	case "USD":
		return CurrencyUSD, nil
	case "BTC":
		return CurrencyBTC, nil
	default:
		return 0, ErrInvalidCurrency
	}
}

const (
	// MaxLocationLen bounds the location field.
	MaxLocationLen = 100
	// MaxConditionLen bounds the condition text.
	MaxConditionLen = 200
)

// Escrow is a single conditional-payment record. IDs are dense, zero-based
// and assigned sequentially. MinAmount and MaxAmount are informational
// bounds: they are validated for positivity at creation but never enforced
// against Amount.
type Escrow struct {
	ID          uint64
	Donor       types.Principal
	Recipient   types.Principal
	Arbiter     types.Principal
	Amount      *big.Int
	MinAmount   *big.Int
	MaxAmount   *big.Int
	Duration    uint64
	Penalty     uint32
	Threshold   uint32
	Interest    uint32
	Grace       uint32
	EscrowType  Type
	Currency    Currency
	Location    string
	Condition   string
	ReleaseTime uint64
	RefundTime  uint64
	Timestamp   uint64
	Status      Status
	FeePaid     bool
}

// Clone returns a deep copy so callers can mutate the result without
// affecting the stored record.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = cloneBigInt(e.Amount)
	clone.MinAmount = cloneBigInt(e.MinAmount)
	clone.MaxAmount = cloneBigInt(e.MaxAmount)
	return &clone
}

// Update is the latest amendment applied to a locked escrow. At most one is
// retained per escrow; each successful amendment overwrites it.
type Update struct {
	Amount    *big.Int
	Duration  uint64
	Timestamp uint64
	Updater   types.Principal
}

// Clone returns a deep copy of the amendment record.
func (u *Update) Clone() *Update {
	if u == nil {
		return nil
	}
	clone := *u
	clone.Amount = cloneBigInt(u.Amount)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Sanitize validates the stored form of an escrow record, guarding the state
// layer against corrupt writes. Amount fields are normalised to non-nil.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if clone.Donor.IsZero() || clone.Recipient.IsZero() || clone.Arbiter.IsZero() {
		return nil, fmt.Errorf("escrow %d missing principal", clone.ID)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	if !clone.EscrowType.Valid() {
		return nil, fmt.Errorf("invalid escrow type: %d", clone.EscrowType)
	}
	if !clone.Currency.Valid() {
		return nil, fmt.Errorf("invalid escrow currency: %d", clone.Currency)
	}
	if clone.Amount.Sign() < 0 || clone.MinAmount.Sign() < 0 || clone.MaxAmount.Sign() < 0 {
		return nil, fmt.Errorf("escrow %d has negative amount field", clone.ID)
	}
	return clone, nil
}
