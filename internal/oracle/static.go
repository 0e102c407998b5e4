package oracle

import (
	"context"
	"math/big"
	"sync"
)

// StaticFeed is a settable in-process price feed. It backs the dev oracle
// mode and the engine tests, where price moves are scripted.
type StaticFeed struct {
	mu    sync.RWMutex
	price *big.Int
}

// NewStaticFeed returns a feed pinned at the given price. A nil price
// leaves the feed empty; Latest then fails until Set is called.
func NewStaticFeed(price *big.Int) *StaticFeed {
	f := &StaticFeed{}
	if price != nil {
		f.price = new(big.Int).Set(price)
	}
	return f
}

// Set replaces the reported price.
func (f *StaticFeed) Set(price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(big.Int).Set(price)
}

func (f *StaticFeed) Latest(ctx context.Context) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, ErrInvalidPrice
	}
	return validate(new(big.Int).Set(f.price))
}
