// Package engine is the accounting core: the position lifecycle, the
// rebase/sync cycle, and the global solvency bookkeeping. All public
// operations are serialized behind one mutex; callers never observe
// partially applied state.
package engine

import (
	"math/big"
	"sync"
	"time"

	"dyadledger/internal/event"
	"dyadledger/internal/ledger"
	fpmath "dyadledger/internal/math"
	"dyadledger/internal/observability"
	"dyadledger/internal/oracle"
	"dyadledger/internal/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config carries the protocol constants, fixed at initialization.
type Config struct {
	// Minimum stable amount a mint must produce.
	DepositMinimum *big.Int

	// Maximum concurrent live positions.
	MaxPositions int

	// Minimum blocks between successful syncs.
	SyncCooldownBlocks uint64

	// Minimum global collateralization ratio after a withdrawal, bps.
	MinCollateralRatioBps int64

	// Cap on the minted-to-average-share ratio in contraction, bps.
	MaxMintedRatioBps int64

	// Scale of oracle prices (10^priceDecimals).
	PriceScale *big.Int

	// Custody address holding all internally deposited stable asset.
	PoolAddress common.Address

	// Second authority allowed to act as owner on withdraw/redeem/move.
	TrustedLiquidator common.Address
}

// Output is one emitted event on its way to persistence and publishing.
type Output struct {
	Envelope *event.Envelope
}

// Engine owns all mutable protocol state. Construct with New; zero value
// is not usable.
type Engine struct {
	mu sync.Mutex

	cfg    Config
	reg    *registry.Registry
	stable ledger.StableLedger
	vault  ledger.CollateralVault
	feed   oracle.PriceFeed
	blocks BlockSource

	log     zerolog.Logger
	metrics *observability.Metrics

	minXP uint64
	maxXP uint64

	lastPrice     *big.Int // nil until the first mint or sync
	lastSyncBlock uint64
	synced        bool

	redeeming bool
	sequence  int64

	// Blocking send; backpressure from the persistence worker stalls the
	// engine rather than losing events.
	persistChan chan<- Output

	// Non-blocking send; subscribers catch up from the event log.
	publishChan chan<- Output
}

// New wires an engine over its collaborators. persistChan and publishChan
// may be nil, in which case emission is skipped (tests).
func New(
	cfg Config,
	reg *registry.Registry,
	stable ledger.StableLedger,
	vault ledger.CollateralVault,
	feed oracle.PriceFeed,
	blocks BlockSource,
	startSequence int64,
	persistChan, publishChan chan<- Output,
	metrics *observability.Metrics,
) *Engine {
	seedXP := 2 * uint64(cfg.MaxPositions)
	return &Engine{
		cfg:         cfg,
		reg:         reg,
		stable:      stable,
		vault:       vault,
		feed:        feed,
		blocks:      blocks,
		log:         observability.NewLogger("engine"),
		metrics:     metrics,
		minXP:       seedXP,
		maxXP:       seedXP,
		sequence:    startSequence,
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

func (e *Engine) emit(t event.EventType, block uint64, payload any) {
	env := &event.Envelope{
		Sequence:  e.sequence,
		EventID:   uuid.NewString(),
		Type:      t,
		Block:     block,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	e.sequence++

	out := Output{Envelope: env}
	if e.persistChan != nil {
		e.persistChan <- out
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.EventsEmitted.WithLabelValues(t.String()).Inc()
		e.metrics.Sequence.Set(float64(e.sequence))
	}
}

func (e *Engine) recordOp(op string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	if err != nil {
		e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
		return
	}
	e.metrics.OpsApplied.WithLabelValues(op).Inc()
	e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (e *Engine) updateStateGauges() {
	if e.metrics == nil {
		return
	}
	supply := new(big.Int).Quo(e.stable.TotalSupply(), fpmath.StableConfig.Scale)
	e.metrics.TotalSupply.Set(float64(supply.Int64()))
	e.metrics.LivePositions.Set(float64(e.reg.LiveCount()))
	e.metrics.MinXP.Set(float64(e.minXP))
	e.metrics.MaxXP.Set(float64(e.maxXP))
	if e.lastPrice != nil {
		price, _ := new(big.Float).SetInt(e.lastPrice).Float64()
		e.metrics.LastPrice.Set(price)
	}

	liquidatable := 0
	for i := 0; i < e.reg.LiveCount(); i++ {
		pos, err := e.reg.Get(e.reg.IDAt(i))
		if err == nil && pos.IsLiquidatable {
			liquidatable++
		}
	}
	e.metrics.LiquidatablePositions.Set(float64(liquidatable))
}

// isAuthorized reports whether caller may act on a position as its owner.
// The trusted liquidator holds a standing owner capability.
func (e *Engine) isAuthorized(caller, owner common.Address) bool {
	return caller == owner || (caller == e.cfg.TrustedLiquidator && caller != common.Address{})
}

// --- Read surface ---

// State is a consistent snapshot of the global accounting state.
type State struct {
	TotalSupply   *big.Int
	PoolBalance   *big.Int
	VaultBalance  *big.Int
	LiveCount     int
	MinXP         uint64
	MaxXP         uint64
	LastPrice     *big.Int // nil before the first recorded price
	LastSyncBlock uint64
	CurrentBlock  uint64
	Sequence      int64
}

// StateView returns the current global state under the engine lock.
func (e *Engine) StateView() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := State{
		TotalSupply:   e.stable.TotalSupply(),
		PoolBalance:   e.stable.BalanceOf(e.cfg.PoolAddress),
		VaultBalance:  e.vault.Balance(),
		LiveCount:     e.reg.LiveCount(),
		MinXP:         e.minXP,
		MaxXP:         e.maxXP,
		LastSyncBlock: e.lastSyncBlock,
		CurrentBlock:  e.blocks.Number(),
		Sequence:      e.sequence,
	}
	if e.lastPrice != nil {
		s.LastPrice = new(big.Int).Set(e.lastPrice)
	}
	return s
}

// PositionView is a detached copy of one position record.
type PositionView struct {
	ID             uint64
	Owner          common.Address
	Deposit        *big.Int
	Withdrawn      *big.Int
	XP             uint64
	IsLiquidatable bool
}

// Position returns a copy of a live position.
func (e *Engine) Position(id uint64) (PositionView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.reg.Get(id)
	if err != nil {
		return PositionView{}, err
	}
	return PositionView{
		ID:             pos.ID,
		Owner:          pos.Owner,
		Deposit:        new(big.Int).Set(pos.Deposit),
		Withdrawn:      new(big.Int).Set(pos.Withdrawn),
		XP:             pos.XP,
		IsLiquidatable: pos.IsLiquidatable,
	}, nil
}

// --- Snapshot support ---

// GlobalsSnap captures the engine-owned global fields.
type GlobalsSnap struct {
	MinXP         uint64 `json:"min_xp"`
	MaxXP         uint64 `json:"max_xp"`
	LastPrice     string `json:"last_price,omitempty"`
	LastSyncBlock uint64 `json:"last_sync_block"`
	CurrentBlock  uint64 `json:"current_block"`
	Synced        bool   `json:"synced"`
	Sequence      int64  `json:"sequence"`
}

// StateSnapshot is a mutually consistent capture of everything needed to
// restore the accounting state: globals, positions, ledger balances, and
// vault custody.
type StateSnapshot struct {
	Globals        GlobalsSnap
	Positions      []registry.PositionSnap
	NextPositionID uint64
	Balances       map[string]string
	TotalSupply    string
	VaultBalance   string
}

// Snapshot captures the full state in one critical section. Positions and
// balances are copied, so the result stays valid after the lock releases.
func (e *Engine) Snapshot() StateSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	positions, nextID := e.reg.Snapshot()
	balances, supply := e.stable.Snapshot()
	return StateSnapshot{
		Globals:        e.globalsLocked(),
		Positions:      positions,
		NextPositionID: nextID,
		Balances:       balances,
		TotalSupply:    supply,
		VaultBalance:   e.vault.Balance().String(),
	}
}

func (e *Engine) globalsLocked() GlobalsSnap {
	snap := GlobalsSnap{
		MinXP:         e.minXP,
		MaxXP:         e.maxXP,
		LastSyncBlock: e.lastSyncBlock,
		CurrentBlock:  e.blocks.Number(),
		Synced:        e.synced,
		Sequence:      e.sequence,
	}
	if e.lastPrice != nil {
		snap.LastPrice = e.lastPrice.String()
	}
	return snap
}

// RestoreGlobals replaces the global fields from a captured snapshot.
func (e *Engine) RestoreGlobals(snap GlobalsSnap) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var price *big.Int
	if snap.LastPrice != "" {
		p, ok := new(big.Int).SetString(snap.LastPrice, 10)
		if !ok {
			return ErrInvalidInput
		}
		price = p
	}

	e.minXP = snap.MinXP
	e.maxXP = snap.MaxXP
	e.lastPrice = price
	e.lastSyncBlock = snap.LastSyncBlock
	e.synced = snap.Synced
	e.sequence = snap.Sequence
	return nil
}
