package math

import (
	"math/big"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int      // Number of decimal places
	Scale            *big.Int // 10^DecimalPrecision
}

var (
	// Standard configs
	StableConfig = DecimalConfig{DecimalPrecision: 18, Scale: pow10(18)} // DYAD, wei-style
	PriceConfig  = DecimalConfig{DecimalPrecision: 8, Scale: pow10(8)}   // oracle price
)

// BpsDenominator is the basis-point scale used for all ratio math.
var BpsDenominator = big.NewInt(10_000)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// MulDiv computes a * b / denom with truncation toward zero.
// All ratio math in the engine truncates; the accumulated remainder is
// accepted as dust rather than rounded.
func MulDiv(a, b, denom *big.Int) *big.Int {
	if denom.Sign() == 0 {
		panic("math: MulDiv division by zero")
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denom)
}

// BpsOf returns amount * bps / 10000, truncated.
func BpsOf(amount *big.Int, bps int64) *big.Int {
	return MulDiv(amount, big.NewInt(bps), BpsDenominator)
}

// RatioBps returns num * 10000 / denom as an int64, truncated and clamped
// to the int64 range. A zero denominator yields MaxInt64 (an unbounded
// ratio), which callers treat as "always above any configured floor".
func RatioBps(num, denom *big.Int) int64 {
	if denom.Sign() == 0 {
		return int64(^uint64(0) >> 1)
	}
	r := MulDiv(num, BpsDenominator, denom)
	if !r.IsInt64() {
		if r.Sign() < 0 {
			return -int64(^uint64(0)>>1) - 1
		}
		return int64(^uint64(0) >> 1)
	}
	return r.Int64()
}

// Max returns the larger of a and b.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Clamp0 returns a if positive, otherwise zero.
func Clamp0(a *big.Int) *big.Int {
	if a.Sign() > 0 {
		return a
	}
	return big.NewInt(0)
}
