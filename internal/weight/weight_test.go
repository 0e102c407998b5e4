package weight_test

import (
	"errors"
	"math/big"
	"testing"

	"dyadledger/internal/weight"
)

// ============================================================
// XP curve
// ============================================================

func TestXPMultiplier_PiecewiseBoundaries(t *testing.T) {
	cases := []struct {
		scaled int64
		want   int64
	}{
		{0, 50},
		{5_999, 50},
		{6_000, 50},
		{6_100, 51},
		{6_199, 51},
		{6_200, 66},
		{9_900, 246},
		{10_000, 247},
	}
	for _, c := range cases {
		got, err := weight.XPMultiplier(c.scaled)
		if err != nil {
			t.Fatalf("XPMultiplier(%d): %v", c.scaled, err)
		}
		if got != c.want {
			t.Errorf("XPMultiplier(%d): got %d, want %d", c.scaled, got, c.want)
		}
	}
}

func TestXPMultiplier_OutOfRange(t *testing.T) {
	for _, scaled := range []int64{-1, -100, 10_100, 20_000} {
		if _, err := weight.XPMultiplier(scaled); !errors.Is(err, weight.ErrOutOfRange) {
			t.Errorf("XPMultiplier(%d): got %v, want ErrOutOfRange", scaled, err)
		}
	}
}

func TestXPMultiplier_Monotone(t *testing.T) {
	prev := int64(0)
	for scaled := int64(0); scaled <= 10_000; scaled += 100 {
		got, err := weight.XPMultiplier(scaled)
		if err != nil {
			t.Fatal(err)
		}
		if got < prev {
			t.Fatalf("curve decreases at scaled=%d: %d < %d", scaled, got, prev)
		}
		prev = got
	}
}

// ============================================================
// Compute
// ============================================================

func pos(id uint64, deposit, withdrawn int64, xp uint64) weight.PositionInput {
	return weight.PositionInput{
		ID:        id,
		Deposit:   big.NewInt(deposit),
		Withdrawn: big.NewInt(withdrawn),
		XP:        xp,
	}
}

func params(minXP, maxXP uint64, supply int64, caller uint64) weight.Params {
	return weight.Params{
		MinXP:             minXP,
		MaxXP:             maxXP,
		TotalSupply:       big.NewInt(supply),
		MaxMintedRatioBps: 50_000,
		CallerID:          caller,
	}
}

func TestCompute_NonPositiveDepositGetsZeroMultiplier(t *testing.T) {
	positions := []weight.PositionInput{
		pos(1, 0, 500, 120),
		pos(2, -300, 500, 120),
		pos(3, 1_000, 0, 120),
	}
	res, err := weight.Compute(weight.ModeExpansion, positions, params(100, 200, 1_500, 0))
	if err != nil {
		t.Fatal(err)
	}

	if res.Multipliers[0].Sign() != 0 {
		t.Error("zero deposit must get zero multiplier")
	}
	if res.Multipliers[1].Sign() != 0 {
		t.Error("negative deposit must get zero multiplier")
	}
	if res.Multipliers[2].Sign() <= 0 {
		t.Error("positive deposit must get positive multiplier")
	}
}

func TestCompute_ContractionInvertsXPAdvantage(t *testing.T) {
	// Identical books, different xp. In expansion the high-xp position
	// weighs more; in contraction the relation flips.
	positions := []weight.PositionInput{
		pos(1, 1_000, 0, 100), // bottom of range
		pos(2, 1_000, 0, 200), // top of range
	}
	p := params(100, 200, 2_000, 0)

	exp, err := weight.Compute(weight.ModeExpansion, positions, p)
	if err != nil {
		t.Fatal(err)
	}
	if exp.Multipliers[1].Cmp(exp.Multipliers[0]) <= 0 {
		t.Errorf("expansion: high xp should outweigh low xp: %v vs %v",
			exp.Multipliers[1], exp.Multipliers[0])
	}

	con, err := weight.Compute(weight.ModeContraction, positions, p)
	if err != nil {
		t.Fatal(err)
	}
	if con.Multipliers[1].Cmp(con.Multipliers[0]) >= 0 {
		t.Errorf("contraction: high xp should carry less of the loss: %v vs %v",
			con.Multipliers[1], con.Multipliers[0])
	}
}

func TestCompute_CallerBonusExpansionOnly(t *testing.T) {
	positions := []weight.PositionInput{
		pos(1, 1_000, 0, 150),
		pos(2, 1_000, 0, 150),
	}
	p := params(100, 200, 2_000, 2)

	exp, err := weight.Compute(weight.ModeExpansion, positions, p)
	if err != nil {
		t.Fatal(err)
	}
	// +15% on the caller's product.
	want := new(big.Int).Mul(exp.Multipliers[0], big.NewInt(11_500))
	want.Quo(want, big.NewInt(10_000))
	if exp.Multipliers[1].Cmp(want) != 0 {
		t.Errorf("caller multiplier: got %v, want %v", exp.Multipliers[1], want)
	}

	con, err := weight.Compute(weight.ModeContraction, positions, p)
	if err != nil {
		t.Fatal(err)
	}
	if con.Multipliers[1].Cmp(con.Multipliers[0]) != 0 {
		t.Error("contraction must not apply the caller bonus")
	}
}

func TestCompute_MintedRatioCapContractionOnly(t *testing.T) {
	// Position 2 has minted far above the average pool share; in
	// contraction its ratio is capped so its loss share stops growing.
	positions := []weight.PositionInput{
		pos(1, 100, 0, 150),
		pos(2, 100, 2_000_000, 150),
	}
	p := params(100, 200, 1_000_000, 0)
	p.MaxMintedRatioBps = 20_000

	con, err := weight.Compute(weight.ModeContraction, positions, p)
	if err != nil {
		t.Fatal(err)
	}
	// avg share = 500000, minted 2000100 -> ~40000 bps, capped at 20000;
	// xp multi 50 inverts to 250.
	want := new(big.Int).Mul(big.NewInt(250), big.NewInt(20_000))
	if con.Multipliers[1].Cmp(want) != 0 {
		t.Errorf("capped contraction multiplier: got %v, want %v", con.Multipliers[1], want)
	}

	bigger := []weight.PositionInput{
		pos(1, 100, 0, 150),
		pos(2, 100, 4_000_000, 150),
	}
	con2, err := weight.Compute(weight.ModeContraction, bigger, p)
	if err != nil {
		t.Fatal(err)
	}
	if con2.Multipliers[1].Cmp(con.Multipliers[1]) != 0 {
		t.Error("minted ratio above the cap must not change the multiplier")
	}
}

func TestCompute_SumSubstitutesOneWhenAllZero(t *testing.T) {
	positions := []weight.PositionInput{
		pos(1, 0, 500, 150),
		pos(2, -10, 500, 150),
	}
	res, err := weight.Compute(weight.ModeContraction, positions, params(100, 200, 1_000, 0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Sum.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("sum with no positive deposits: got %v, want 1", res.Sum)
	}
}

func TestCompute_XPOutsideBoundsRejected(t *testing.T) {
	positions := []weight.PositionInput{pos(1, 1_000, 0, 99)}
	_, err := weight.Compute(weight.ModeExpansion, positions, params(100, 200, 1_000, 0))
	if !errors.Is(err, weight.ErrOutOfRange) {
		t.Errorf("xp below min: got %v, want ErrOutOfRange", err)
	}
}

func TestCompute_RelativeSharesBounded(t *testing.T) {
	// However skewed the inputs, each multiplier divided by the sum stays
	// at or below one, so the engine can never allocate more than the
	// total delta to one position.
	positions := []weight.PositionInput{
		pos(1, 5, 0, 100),
		pos(2, 1_000_000, 0, 200),
		pos(3, 40, 9_000, 137),
	}
	for _, mode := range []weight.Mode{weight.ModeExpansion, weight.ModeContraction} {
		res, err := weight.Compute(mode, positions, params(100, 200, 1_009_045, 2))
		if err != nil {
			t.Fatal(err)
		}
		for i, m := range res.Multipliers {
			if m.Cmp(res.Sum) > 0 {
				t.Errorf("%s: multiplier %d exceeds sum: %v > %v", mode, i, m, res.Sum)
			}
		}
	}
}
