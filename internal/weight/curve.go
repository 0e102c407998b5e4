package weight

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a scaled xp input falls outside the curve
// domain. With maintained global xp bounds the input is always in range;
// the error exists because the curve is also exposed as a standalone pure
// function.
var ErrOutOfRange = errors.New("xp input out of curve domain")

// baseXPMultiplier applies to the lower 60% of the normalized xp range.
const baseXPMultiplier = 50

// xpCurve maps normalized xp steps 61..100 to multipliers. The curve rises
// steeply just above the threshold and saturates toward the top, so
// moderate xp gaps are rewarded generously while very old positions cannot
// compound without bound. Monotonically increasing; max value stays below
// the contraction inversion constant of 300.
var xpCurve = [40]int64{
	51, 66, 80, 93, 105, 116, 126, 135, 143, 151,
	158, 165, 171, 177, 182, 187, 192, 196, 200, 204,
	208, 211, 214, 217, 220, 223, 226, 228, 230, 232,
	234, 236, 238, 240, 242, 243, 244, 245, 246, 247,
}

// XPMultiplier maps a normalized xp value (basis points of the global
// min..max range, 0..10000) onto the lookup curve. The piecewise rule:
// steps at or below 60 get the constant base multiplier, steps 61..100
// read the table.
func XPMultiplier(xpScaledBps int64) (int64, error) {
	step := xpScaledBps / 100
	if step < 0 || step > 100 {
		return 0, fmt.Errorf("%w: scaled xp %d", ErrOutOfRange, xpScaledBps)
	}
	if step <= 60 {
		return baseXPMultiplier, nil
	}
	return xpCurve[step-61], nil
}
