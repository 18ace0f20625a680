package events

// Event represents a structured state change emitted by the ledger.
type Event struct {
	Type       string
	Attributes map[string]string
}

// EventType returns the canonical type tag for routing.
func (e Event) EventType() string { return e.Type }

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for components that expose events optionally.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
