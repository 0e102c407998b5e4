// Package weight computes per-position rebase multipliers. It is pure:
// given a snapshot of the live set and the sync mode it returns relative
// weights, with no access to engine state.
package weight

import (
	"fmt"
	"math/big"

	fpmath "dyadledger/internal/math"
)

// Mode selects expansion (supply grows) or contraction (supply shrinks).
type Mode int

const (
	ModeExpansion Mode = iota
	ModeContraction
)

func (m Mode) String() string {
	if m == ModeContraction {
		return "contraction"
	}
	return "expansion"
}

// contractionInversion flips the xp multiplier in contraction mode so that
// higher xp means a smaller share of losses.
const contractionInversion = 300

// callerBonusBps is the expansion-mode bonus on the sync initiator's
// multiplier product: +15%.
const callerBonusBps = 1_500

// PositionInput is the per-position data the computation reads.
type PositionInput struct {
	ID        uint64
	Deposit   *big.Int // signed
	Withdrawn *big.Int
	XP        uint64
}

// Params carries the global inputs of one computation.
type Params struct {
	MinXP             uint64
	MaxXP             uint64
	TotalSupply       *big.Int
	MaxMintedRatioBps int64 // cap on the minted ratio, applied in contraction only
	CallerID          uint64
}

// Result holds the computed weights, aligned index-for-index with the
// input slice.
type Result struct {
	Multipliers []*big.Int
	XPMultis    []int64 // base xp multiplier, needed downstream for xp accrual

	// Sum of all multipliers; 1 when the true sum is zero so that callers
	// can divide unconditionally.
	Sum *big.Int
}

// Compute derives every position's multiplier for one sync cycle.
// Positions with non-positive deposit get a zero multiplier: they receive
// no share of expansion and no *weighted* share of contraction (the sync
// engine still applies their relative delta of zero).
func Compute(mode Mode, positions []PositionInput, p Params) (*Result, error) {
	res := &Result{
		Multipliers: make([]*big.Int, len(positions)),
		XPMultis:    make([]int64, len(positions)),
		Sum:         big.NewInt(0),
	}

	xpRange := int64(1)
	if p.MaxXP > p.MinXP {
		xpRange = int64(p.MaxXP - p.MinXP)
	}

	avgPoolShare := big.NewInt(1)
	if n := int64(len(positions)); n > 0 && p.TotalSupply.Sign() > 0 {
		avgPoolShare = new(big.Int).Quo(p.TotalSupply, big.NewInt(n))
		if avgPoolShare.Sign() == 0 {
			avgPoolShare.SetInt64(1)
		}
	}

	for i, pos := range positions {
		if pos.Deposit.Sign() <= 0 {
			res.Multipliers[i] = big.NewInt(0)
			continue
		}

		if pos.XP < p.MinXP || pos.XP > p.MaxXP {
			return nil, fmt.Errorf("%w: xp %d outside bounds [%d, %d]",
				ErrOutOfRange, pos.XP, p.MinXP, p.MaxXP)
		}
		xpScaled := (int64(pos.XP-p.MinXP) * 10_000) / xpRange
		xpMulti, err := XPMultiplier(xpScaled)
		if err != nil {
			return nil, err
		}
		res.XPMultis[i] = xpMulti
		if mode == ModeContraction {
			xpMulti = contractionInversion - xpMulti
		}

		mintedBy := pos.MintedBy()
		mintedRatio := fpmath.RatioBps(mintedBy, avgPoolShare)
		if mode == ModeContraction && mintedRatio > p.MaxMintedRatioBps {
			mintedRatio = p.MaxMintedRatioBps
		}

		var product *big.Int
		if mode == ModeContraction {
			product = new(big.Int).Mul(big.NewInt(xpMulti), big.NewInt(mintedRatio))
		} else {
			depositShare := fpmath.MulDiv(pos.Deposit, fpmath.BpsDenominator,
				new(big.Int).Add(mintedBy, big.NewInt(1)))
			product = new(big.Int).Mul(big.NewInt(xpMulti), depositShare)
		}

		if mode == ModeExpansion && pos.ID == p.CallerID {
			bonus := fpmath.BpsOf(product, callerBonusBps)
			product.Add(product, bonus)
		}

		res.Multipliers[i] = product
		res.Sum.Add(res.Sum, product)
	}

	if res.Sum.Sign() == 0 {
		res.Sum.SetInt64(1)
	}
	return res, nil
}

// mintedBy on the input mirrors registry.Position.MintedBy without
// importing the registry.
func (pi PositionInput) MintedBy() *big.Int {
	out := new(big.Int).Set(pi.Withdrawn)
	if pi.Deposit.Sign() > 0 {
		out.Add(out, pi.Deposit)
	}
	return out
}
