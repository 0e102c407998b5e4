package registry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one minted dNFT record. Deposit is the signed internal
// stable-asset balance; it can go negative during contraction cycles
// (the position owes the pool). Withdrawn is the non-negative amount the
// owner has pulled out of the internal balance and holds externally.
type Position struct {
	ID        uint64
	Owner     common.Address
	Deposit   *big.Int // signed
	Withdrawn *big.Int // >= 0
	XP        uint64

	// True exactly when Deposit <= 0. Maintained by RefreshLiquidatable
	// after every mutation of Deposit.
	IsLiquidatable bool
}

// MintedBy returns withdrawn + max(deposit, 0): the stable asset this
// position is responsible for.
func (p *Position) MintedBy() *big.Int {
	out := new(big.Int).Set(p.Withdrawn)
	if p.Deposit.Sign() > 0 {
		out.Add(out, p.Deposit)
	}
	return out
}

// RefreshLiquidatable recomputes the liquidation flag from the deposit sign.
func (p *Position) RefreshLiquidatable() {
	p.IsLiquidatable = p.Deposit.Sign() <= 0
}
