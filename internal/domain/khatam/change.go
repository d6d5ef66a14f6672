// internal/domain/khatam/change.go
package khatam

// Relation names a persisted relation that can emit change events.
type Relation string

const (
	RelationUnknown  Relation = "" // reconnect or undecodable payload, treat as "anything may have changed"
	RelationUnits    Relation = "units"
	RelationMetadata Relation = "cycle_metadata"
	RelationHistory  Relation = "history"
)

// ChangeEvent is a wake-up from the change channel. Delivery is at-least-once and
// unordered; Keys is informational only.
type ChangeEvent struct {
	Relation  Relation `json:"relation"`
	Operation string   `json:"op"`
	Keys      []int    `json:"keys,omitempty"`
}

// AffectsBoard reports whether the event can change what the rollover engine reads.
func (e ChangeEvent) AffectsBoard() bool {
	return e.Relation != RelationHistory
}

// SubscriptionID identifies a registered change handler.
type SubscriptionID uint64

// ChangeNotifier fans change events out to subscribers, including events caused
// by the subscriber's own writes.
type ChangeNotifier interface {
	Subscribe(onChange func(ChangeEvent)) SubscriptionID
	Unsubscribe(id SubscriptionID)
}
