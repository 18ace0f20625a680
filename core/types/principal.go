package types

import (
	"fmt"
	"strings"
)

// Principal is the opaque identifier of an actor known to the ledger. The
// identity system itself lives outside this module; principals arrive fully
// formed (wallet addresses, contract principals, service accounts) and are
// only compared for equality.
type Principal string

// ParsePrincipal validates raw principal input received at an API boundary.
// Principals are trimmed and must be non-empty.
func ParsePrincipal(raw string) (Principal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("principal must not be empty")
	}
	return Principal(trimmed), nil
}

// String returns the raw principal value.
func (p Principal) String() string { return string(p) }

// IsZero reports whether the principal is unset.
func (p Principal) IsZero() bool { return p == "" }
