package escrow

import (
	"strconv"

	"aidledger/core/events"
)

const (
	EventTypeEscrowCreated  = "escrow.created"
	EventTypeEscrowUpdated  = "escrow.updated"
	EventTypeEscrowReleased = "escrow.released"
	EventTypeEscrowRefunded = "escrow.refunded"
)

// NewCreatedEvent returns the canonical payload for a newly created escrow.
func NewCreatedEvent(e *Escrow) events.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewReleasedEvent returns the canonical payload for a release to the
// recipient.
func NewReleasedEvent(e *Escrow) events.Event { return newEscrowEvent(EventTypeEscrowReleased, e) }

// NewRefundedEvent returns the canonical payload for a refund to the donor.
func NewRefundedEvent(e *Escrow) events.Event { return newEscrowEvent(EventTypeEscrowRefunded, e) }

// NewUpdatedEvent returns the canonical payload for a donor amendment,
// including the retained update record fields.
func NewUpdatedEvent(e *Escrow, u *Update) events.Event {
	evt := newEscrowEvent(EventTypeEscrowUpdated, e)
	if u != nil {
		if u.Amount != nil {
			evt.Attributes["updateAmount"] = u.Amount.String()
		}
		evt.Attributes["updateDuration"] = strconv.FormatUint(u.Duration, 10)
		evt.Attributes["updater"] = u.Updater.String()
	}
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) events.Event {
	attrs := make(map[string]string)
	if e == nil {
		return events.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := Sanitize(e)
	if err != nil {
		return events.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["donor"] = sanitized.Donor.String()
	attrs["recipient"] = sanitized.Recipient.String()
	attrs["arbiter"] = sanitized.Arbiter.String()
	attrs["amount"] = sanitized.Amount.String()
	attrs["currency"] = sanitized.Currency.String()
	attrs["escrowType"] = sanitized.EscrowType.String()
	attrs["status"] = sanitized.Status.String()
	attrs["timestamp"] = strconv.FormatUint(sanitized.Timestamp, 10)
	return events.Event{Type: eventType, Attributes: attrs}
}
