package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePositionCreated
	EventTypeStableMinted
	EventTypeStableDeposited
	EventTypeStableWithdrawn
	EventTypeStableRedeemed
	EventTypeDepositMoved
	EventTypePositionLiquidated
	EventTypeSyncCompleted
)

// Envelope wraps every event appended to the log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Random event id for downstream dedup
	EventID string

	// Event type discriminator
	Type EventType

	// Block (discrete time step) at which the operation ran
	Block uint64

	// Wall-clock emission time
	Timestamp time.Time

	// Typed payload, JSON-encoded at the persistence boundary
	Payload any
}

func (et EventType) String() string {
	switch et {
	case EventTypePositionCreated:
		return "PositionCreated"
	case EventTypeStableMinted:
		return "StableMinted"
	case EventTypeStableDeposited:
		return "StableDeposited"
	case EventTypeStableWithdrawn:
		return "StableWithdrawn"
	case EventTypeStableRedeemed:
		return "StableRedeemed"
	case EventTypeDepositMoved:
		return "DepositMoved"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypeSyncCompleted:
		return "SyncCompleted"
	default:
		return "Unknown"
	}
}
