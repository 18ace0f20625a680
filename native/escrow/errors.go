package escrow

import "fmt"

// Error kinds mirror the ledger's numeric failure codes. Callers branch on
// the exact kind, so the values are distinct and never collapsed.
const (
	CodeNotAuthorized       = 100
	CodeInvalidAmount       = 101
	CodeInvalidDuration     = 102
	CodeInvalidPenalty      = 103
	CodeInvalidThreshold    = 104
	CodeAlreadyExists       = 105
	CodeNotFound            = 106
	CodeAuthorityAlreadySet = 107
	CodeAuthorityNotSet     = 108
	CodeInvalidMinAmount    = 109
	CodeInvalidMaxAmount    = 110
	CodeUpdateNotAllowed    = 111
	CodeInvalidUpdateParam  = 112
	CodeCapacityExceeded    = 113
	CodeInvalidEscrowType   = 114
	CodeInvalidInterest     = 115
	CodeInvalidGrace        = 116
	CodeInvalidLocation     = 117
	CodeInvalidCurrency     = 118
	CodeInvalidStatus       = 119
	CodeInvalidRecipient    = 120
	CodeInvalidCondition    = 121
	CodeInvalidReleaseTime  = 122
	CodeInvalidRefundTime   = 123
	CodeInvalidArbiter      = 124
	CodeInvalidFee          = 125
	CodeTransferFailed      = 126
)

// Error is a coded escrow failure. Sentinel instances below are compared with
// errors.Is; wrapping preserves the kind.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("escrow: %s (code %d)", e.Message, e.Code)
}

var (
	ErrNotAuthorized       = &Error{CodeNotAuthorized, "caller not authorized"}
	ErrInvalidAmount       = &Error{CodeInvalidAmount, "amount must be positive"}
	ErrInvalidDuration     = &Error{CodeInvalidDuration, "duration must be positive"}
	ErrInvalidPenalty      = &Error{CodeInvalidPenalty, "penalty exceeds 100"}
	ErrInvalidThreshold    = &Error{CodeInvalidThreshold, "threshold must be in (0,100]"}
	ErrNotFound            = &Error{CodeNotFound, "escrow not found"}
	ErrAuthorityAlreadySet = &Error{CodeAuthorityAlreadySet, "authority already set"}
	ErrAuthorityNotSet     = &Error{CodeAuthorityNotSet, "authority not set"}
	ErrInvalidMinAmount    = &Error{CodeInvalidMinAmount, "min amount must be positive"}
	ErrInvalidMaxAmount    = &Error{CodeInvalidMaxAmount, "max amount must be positive"}
	ErrUpdateNotAllowed    = &Error{CodeUpdateNotAllowed, "escrow no longer amendable"}
	ErrCapacityExceeded    = &Error{CodeCapacityExceeded, "escrow capacity exceeded"}
	ErrInvalidEscrowType   = &Error{CodeInvalidEscrowType, "unknown escrow type"}
	ErrInvalidInterest     = &Error{CodeInvalidInterest, "interest exceeds 20"}
	ErrInvalidGrace        = &Error{CodeInvalidGrace, "grace exceeds 30"}
	ErrInvalidLocation     = &Error{CodeInvalidLocation, "location empty or too long"}
	ErrInvalidCurrency     = &Error{CodeInvalidCurrency, "unknown currency"}
	ErrInvalidStatus       = &Error{CodeInvalidStatus, "escrow already settled"}
	ErrInvalidRecipient    = &Error{CodeInvalidRecipient, "recipient must differ from donor"}
	ErrInvalidCondition    = &Error{CodeInvalidCondition, "condition empty or too long"}
	ErrInvalidReleaseTime  = &Error{CodeInvalidReleaseTime, "release time not in the future"}
	ErrInvalidRefundTime   = &Error{CodeInvalidRefundTime, "refund time not in the future"}
	ErrInvalidArbiter      = &Error{CodeInvalidArbiter, "arbiter must differ from donor"}
	ErrInvalidFee          = &Error{CodeInvalidFee, "fee must not be negative"}
	ErrTransferFailed      = &Error{CodeTransferFailed, "transfer failed"}
)
