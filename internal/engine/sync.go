package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"dyadledger/internal/event"
	fpmath "dyadledger/internal/math"
	"dyadledger/internal/weight"
)

// SyncResult summarizes one completed rebase cycle.
type SyncResult struct {
	Mode       weight.Mode
	Price      *big.Int
	DeltaBps   int64
	TotalDelta *big.Int
	MinXP      uint64
	MaxXP      uint64
}

// Sync runs one rebase cycle: read the price, determine mode and
// magnitude, weight the live set, apply every position's share, and
// mint or burn the total delta against pool custody. callerID names the
// initiating position, which earns the sync bonus. Permissionless.
//
// Any failed precondition aborts before the application pass; the pass
// itself cannot fail, so partial application is never observable.
func (e *Engine) Sync(ctx context.Context, callerID uint64) (res *SyncResult, err error) {
	start := time.Now()
	defer func() { e.recordOp("sync", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	block := e.blocks.Number()
	if e.synced && block < e.lastSyncBlock+e.cfg.SyncCooldownBlocks {
		return nil, fmt.Errorf("%w: block %d, last sync %d, cooldown %d",
			ErrTooSoon, block, e.lastSyncBlock, e.cfg.SyncCooldownBlocks)
	}
	// Caller id 0 means no initiating position (no bonus).
	if callerID != 0 {
		if _, err := e.reg.Get(callerID); err != nil {
			return nil, err
		}
	}

	price, err := e.feed.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("price read: %w", err)
	}
	last := e.lastPrice
	if last == nil {
		// First cycle with no recorded price: zero-magnitude sync that
		// establishes the baseline.
		last = price
	}

	mode := weight.ModeContraction
	if price.Cmp(last) > 0 {
		mode = weight.ModeExpansion
	}

	ratio := fpmath.RatioBps(price, last)
	var deltaBps int64
	if mode == weight.ModeExpansion {
		deltaBps = ratio - 10_000
	} else {
		deltaBps = 10_000 - ratio
	}
	if deltaBps < 0 {
		deltaBps = 0
	}

	supply := e.stable.TotalSupply()
	totalDelta := fpmath.BpsOf(supply, deltaBps)

	// Contraction burns from custody; verify coverage before any position
	// is touched so the pass cannot fail midway.
	if mode == weight.ModeContraction && totalDelta.Sign() > 0 {
		if e.stable.BalanceOf(e.cfg.PoolAddress).Cmp(totalDelta) < 0 {
			return nil, fmt.Errorf("%w: pool custody under total delta %s",
				ErrTransferFailed, totalDelta)
		}
	}

	live := e.reg.LiveCount()
	inputs := make([]weight.PositionInput, 0, live)
	for i := 0; i < live; i++ {
		pos, err := e.reg.Get(e.reg.IDAt(i))
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, weight.PositionInput{
			ID:        pos.ID,
			Deposit:   new(big.Int).Set(pos.Deposit),
			Withdrawn: new(big.Int).Set(pos.Withdrawn),
			XP:        pos.XP,
		})
	}

	weights, err := weight.Compute(mode, inputs, weight.Params{
		MinXP:             e.minXP,
		MaxXP:             e.maxXP,
		TotalSupply:       supply,
		MaxMintedRatioBps: e.cfg.MaxMintedRatioBps,
		CallerID:          callerID,
	})
	if err != nil {
		return nil, err
	}

	// Application pass. Enumeration order is stable: nothing below
	// creates or destroys a position.
	newMin, newMax := ^uint64(0), uint64(0)
	for i := 0; i < live; i++ {
		pos, err := e.reg.Get(e.reg.IDAt(i))
		if err != nil {
			return nil, err
		}

		relMulti := fpmath.MulDiv(weights.Multipliers[i], fpmath.BpsDenominator, weights.Sum)
		relDelta := fpmath.MulDiv(totalDelta, relMulti, fpmath.BpsDenominator)

		if mode == weight.ModeContraction {
			if pos.Deposit.Sign() > 0 && weights.XPMultis[i] > 0 {
				gain := new(big.Int).Mul(relDelta, big.NewInt(100))
				gain.Quo(gain, big.NewInt(weights.XPMultis[i]))
				gain.Quo(gain, fpmath.StableConfig.Scale)
				if pos.ID == callerID {
					gain.Lsh(gain, 1)
				}
				pos.XP += gain.Uint64()
			}
			pos.Deposit.Sub(pos.Deposit, relDelta)
		} else {
			pos.Deposit.Add(pos.Deposit, relDelta)
		}
		pos.RefreshLiquidatable()

		if pos.XP < newMin {
			newMin = pos.XP
		}
		if pos.XP > newMax {
			newMax = pos.XP
		}
	}

	if live > 0 {
		if newMin > newMax {
			return nil, fmt.Errorf("%w: min xp %d over max xp %d",
				ErrInternalInvariant, newMin, newMax)
		}
		e.minXP, e.maxXP = newMin, newMax
	}

	if totalDelta.Sign() > 0 {
		if mode == weight.ModeExpansion {
			if err := e.stable.Mint(e.cfg.PoolAddress, totalDelta); err != nil {
				return nil, fmt.Errorf("%w: expansion mint: %v", ErrTransferFailed, err)
			}
		} else {
			if err := e.stable.Burn(e.cfg.PoolAddress, totalDelta); err != nil {
				return nil, fmt.Errorf("%w: contraction burn: %v", ErrTransferFailed, err)
			}
		}
	}

	e.lastPrice = new(big.Int).Set(price)
	e.lastSyncBlock = block
	e.synced = true

	e.emit(event.EventTypeSyncCompleted, block, event.SyncCompleted{
		CallerID:   callerID,
		Mode:       mode.String(),
		Price:      price.String(),
		DeltaBps:   deltaBps,
		TotalDelta: totalDelta.String(),
		MinXP:      e.minXP,
		MaxXP:      e.maxXP,
	})

	e.log.Info().
		Uint64("caller_id", callerID).
		Str("mode", mode.String()).
		Str("price", price.String()).
		Int64("delta_bps", deltaBps).
		Str("total_delta", totalDelta.String()).
		Msg("sync completed")

	if e.metrics != nil {
		e.metrics.SyncsTotal.WithLabelValues(mode.String()).Inc()
		e.metrics.SyncDuration.Observe(time.Since(start).Seconds())
		e.metrics.SyncDeltaBps.Set(float64(deltaBps))
	}
	e.updateStateGauges()

	return &SyncResult{
		Mode:       mode,
		Price:      new(big.Int).Set(price),
		DeltaBps:   deltaBps,
		TotalDelta: totalDelta,
		MinXP:      e.minXP,
		MaxXP:      e.maxXP,
	}, nil
}
