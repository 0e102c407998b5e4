package engine

import (
	"sync/atomic"
	"time"
)

// BlockSource supplies the current discrete time step. The engine never
// reads wall-clock time for cooldown or same-block checks; all timing
// decisions go through this interface.
type BlockSource interface {
	Number() uint64
}

// ManualBlocks is a hand-advanced block counter for tests and replay.
type ManualBlocks struct {
	n atomic.Uint64
}

func NewManualBlocks(start uint64) *ManualBlocks {
	b := &ManualBlocks{}
	b.n.Store(start)
	return b
}

func (b *ManualBlocks) Number() uint64 { return b.n.Load() }

// Advance moves the counter forward by delta blocks.
func (b *ManualBlocks) Advance(delta uint64) { b.n.Add(delta) }

// Set jumps the counter to n.
func (b *ManualBlocks) Set(n uint64) { b.n.Store(n) }

// TickerBlocks derives block numbers from elapsed wall time at a fixed
// interval, for deployments without a chain to follow. base anchors the
// counter so a restarted process resumes from the persisted block height
// instead of zero.
type TickerBlocks struct {
	start    time.Time
	interval time.Duration
	base     uint64
}

func NewTickerBlocks(interval time.Duration, base uint64) *TickerBlocks {
	return &TickerBlocks{start: time.Now(), interval: interval, base: base}
}

func (b *TickerBlocks) Number() uint64 {
	return b.base + uint64(time.Since(b.start)/b.interval)
}
