package event

// Payload structs for every emitted event. Monetary amounts are decimal
// strings at the stable asset's 18-decimal scale; prices are decimal strings
// at the oracle's 8-decimal scale.

// PositionCreated is emitted when a fresh position id is minted.
type PositionCreated struct {
	PositionID uint64 `json:"position_id"`
	Owner      string `json:"owner"`
	XP         uint64 `json:"xp"`
}

// StableMinted is emitted when mint creates new stable asset against
// deposited collateral.
type StableMinted struct {
	PositionID uint64 `json:"position_id"`
	Owner      string `json:"owner"`
	Collateral string `json:"collateral"`
	Amount     string `json:"amount"`
	Price      string `json:"price"`
}

// StableDeposited is emitted when previously withdrawn stable asset is
// re-deposited into a position.
type StableDeposited struct {
	PositionID uint64 `json:"position_id"`
	Caller     string `json:"caller"`
	Amount     string `json:"amount"`
}

// StableWithdrawn is emitted when stable asset leaves a position's internal
// balance for the owner's external balance.
type StableWithdrawn struct {
	PositionID uint64 `json:"position_id"`
	Owner      string `json:"owner"`
	Amount     string `json:"amount"`
}

// StableRedeemed is emitted when externally held stable asset is burned for
// collateral.
type StableRedeemed struct {
	PositionID uint64 `json:"position_id"`
	Owner      string `json:"owner"`
	Amount     string `json:"amount"`
	Collateral string `json:"collateral"`
}

// DepositMoved is emitted when deposit balance moves between two positions.
type DepositMoved struct {
	FromID uint64 `json:"from_id"`
	ToID   uint64 `json:"to_id"`
	Amount string `json:"amount"`
}

// PositionLiquidated is emitted when a non-positive position is destroyed
// and replaced.
type PositionLiquidated struct {
	OldID    uint64 `json:"old_id"`
	NewID    uint64 `json:"new_id"`
	OldOwner string `json:"old_owner"`
	NewOwner string `json:"new_owner"`
	Covered  string `json:"covered"` // freshly minted to renormalize a negative deposit
}

// SyncCompleted is emitted after a full rebase cycle.
type SyncCompleted struct {
	CallerID   uint64 `json:"caller_id"`
	Mode       string `json:"mode"`
	Price      string `json:"price"`
	DeltaBps   int64  `json:"delta_bps"`
	TotalDelta string `json:"total_delta"`
	MinXP      uint64 `json:"min_xp"`
	MaxXP      uint64 `json:"max_xp"`
}
