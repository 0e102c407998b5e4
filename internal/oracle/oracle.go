// Package oracle supplies the collateral price feed. The engine only sees
// the PriceFeed interface; implementations cover an on-chain Chainlink
// aggregator and a settable in-process feed for development and tests.
package oracle

import (
	"context"
	"errors"
	"math/big"
)

// ErrInvalidPrice is returned when a feed produces a zero, negative or
// missing price. The engine refuses to operate on such an answer.
var ErrInvalidPrice = errors.New("oracle: invalid price")

// ErrUnavailable is returned when the feed cannot be reached.
var ErrUnavailable = errors.New("oracle: feed unavailable")

// PriceFeed reports the latest collateral price at the feed's native
// decimal scale. Implementations must return a positive price or an error,
// never both nil.
type PriceFeed interface {
	Latest(ctx context.Context) (*big.Int, error)
}

func validate(price *big.Int) (*big.Int, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}
