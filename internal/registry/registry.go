package registry

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrCapacityExceeded is returned when the live-position count has
	// reached the configured maximum.
	ErrCapacityExceeded = errors.New("position capacity exceeded")

	// ErrUnknownPosition is returned for ids that do not (or no longer)
	// exist.
	ErrUnknownPosition = errors.New("unknown position")
)

// Registry owns the id -> Position mapping. Ids are assigned sequentially
// and never reused, even across liquidations. Enumeration order is
// insertion order with swap-remove on destroy: stable while no position is
// destroyed, which the engine guarantees for the duration of one sync pass.
//
// Not safe for concurrent use; the engine serializes access.
type Registry struct {
	maxPositions int
	nextID       uint64

	byID  map[uint64]*Position
	order []uint64
	index map[uint64]int // id -> slot in order

	lastDepositBlock map[uint64]uint64
}

func New(maxPositions int) *Registry {
	return &Registry{
		maxPositions:     maxPositions,
		nextID:           1,
		byID:             make(map[uint64]*Position),
		index:            make(map[uint64]int),
		lastDepositBlock: make(map[uint64]uint64),
	}
}

// Create mints a fresh position for owner. The xp seed decreases by one for
// every already-live position so earlier positions start strictly higher;
// this breaks weighting symmetry between otherwise identical positions.
func (r *Registry) Create(owner common.Address) (*Position, error) {
	if len(r.byID) >= r.maxPositions {
		return nil, fmt.Errorf("%w: %d live positions", ErrCapacityExceeded, len(r.byID))
	}

	id := r.nextID
	r.nextID++

	pos := &Position{
		ID:             id,
		Owner:          owner,
		Deposit:        big.NewInt(0),
		Withdrawn:      big.NewInt(0),
		XP:             2*uint64(r.maxPositions) - uint64(len(r.byID)),
		IsLiquidatable: true,
	}

	r.byID[id] = pos
	r.index[id] = len(r.order)
	r.order = append(r.order, id)

	return pos, nil
}

// Get returns the live position for id.
func (r *Registry) Get(id uint64) (*Position, error) {
	pos, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownPosition, id)
	}
	return pos, nil
}

// OwnerOf returns the single owner of id.
func (r *Registry) OwnerOf(id uint64) (common.Address, error) {
	pos, ok := r.byID[id]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: id %d", ErrUnknownPosition, id)
	}
	return pos.Owner, nil
}

// Destroy removes id permanently. The id is never reissued.
func (r *Registry) Destroy(id uint64) error {
	slot, ok := r.index[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownPosition, id)
	}

	last := len(r.order) - 1
	moved := r.order[last]
	r.order[slot] = moved
	r.index[moved] = slot
	r.order = r.order[:last]

	delete(r.byID, id)
	delete(r.index, id)
	delete(r.lastDepositBlock, id)
	return nil
}

// LiveCount returns the number of live positions.
func (r *Registry) LiveCount() int {
	return len(r.byID)
}

// IDAt returns the position id at enumeration index i.
func (r *Registry) IDAt(i int) uint64 {
	return r.order[i]
}

// RecordDeposit marks block as the last block in which id received a
// deposit, for the same-block deposit-then-withdraw check.
func (r *Registry) RecordDeposit(id uint64, block uint64) {
	r.lastDepositBlock[id] = block
}

// LastDepositBlock returns the last recorded deposit block for id and
// whether one was ever recorded. Block numbers start at zero, so presence
// must be reported explicitly.
func (r *Registry) LastDepositBlock(id uint64) (uint64, bool) {
	block, ok := r.lastDepositBlock[id]
	return block, ok
}

// MaxPositions returns the configured position cap.
func (r *Registry) MaxPositions() int {
	return r.maxPositions
}

// --- Snapshot support ---

// PositionSnap is a serializable position record.
type PositionSnap struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Deposit   string `json:"deposit"`
	Withdrawn string `json:"withdrawn"`
	XP        uint64 `json:"xp"`
	// Absent when no deposit was ever recorded; block numbers start at
	// zero, so zero cannot serve as the sentinel.
	LastDepositBlock *uint64 `json:"last_deposit_block,omitempty"`
}

// Snapshot captures all live positions in enumeration order plus the id
// counter.
func (r *Registry) Snapshot() ([]PositionSnap, uint64) {
	out := make([]PositionSnap, 0, len(r.order))
	for _, id := range r.order {
		pos := r.byID[id]
		snap := PositionSnap{
			ID:        pos.ID,
			Owner:     pos.Owner.Hex(),
			Deposit:   pos.Deposit.String(),
			Withdrawn: pos.Withdrawn.String(),
			XP:        pos.XP,
		}
		if block, ok := r.lastDepositBlock[pos.ID]; ok {
			b := block
			snap.LastDepositBlock = &b
		}
		out = append(out, snap)
	}
	return out, r.nextID
}

// Restore replaces the registry contents with a captured snapshot.
func (r *Registry) Restore(snaps []PositionSnap, nextID uint64) error {
	byID := make(map[uint64]*Position, len(snaps))
	index := make(map[uint64]int, len(snaps))
	order := make([]uint64, 0, len(snaps))
	lastDeposit := make(map[uint64]uint64)

	for i, s := range snaps {
		deposit, ok := new(big.Int).SetString(s.Deposit, 10)
		if !ok {
			return fmt.Errorf("registry: bad deposit %q for id %d", s.Deposit, s.ID)
		}
		withdrawn, ok := new(big.Int).SetString(s.Withdrawn, 10)
		if !ok {
			return fmt.Errorf("registry: bad withdrawn %q for id %d", s.Withdrawn, s.ID)
		}

		pos := &Position{
			ID:        s.ID,
			Owner:     common.HexToAddress(s.Owner),
			Deposit:   deposit,
			Withdrawn: withdrawn,
			XP:        s.XP,
		}
		pos.RefreshLiquidatable()

		byID[s.ID] = pos
		index[s.ID] = i
		order = append(order, s.ID)
		if s.LastDepositBlock != nil {
			lastDeposit[s.ID] = *s.LastDepositBlock
		}
	}

	r.byID = byID
	r.index = index
	r.order = order
	r.lastDepositBlock = lastDeposit
	r.nextID = nextID
	return nil
}
