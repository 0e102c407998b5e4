package registry_test

import (
	"errors"
	"math/big"
	"testing"

	"dyadledger/internal/registry"

	"github.com/ethereum/go-ethereum/common"
)

var owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func TestRegistry_XPSeedDecreasesPerPosition(t *testing.T) {
	r := registry.New(100)

	first, err := r.Create(owner)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Create(owner)
	if err != nil {
		t.Fatal(err)
	}

	if first.XP != 200 {
		t.Errorf("first xp seed: got %d, want 200", first.XP)
	}
	if second.XP != 199 {
		t.Errorf("second xp seed: got %d, want 199", second.XP)
	}
	if second.XP >= first.XP {
		t.Error("later positions must seed strictly lower xp")
	}
}

func TestRegistry_CapacityEnforced(t *testing.T) {
	r := registry.New(3)

	for i := 0; i < 3; i++ {
		if _, err := r.Create(owner); err != nil {
			t.Fatalf("create %d should succeed: %v", i+1, err)
		}
	}

	_, err := r.Create(owner)
	if !errors.Is(err, registry.ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestRegistry_IDsNeverReused(t *testing.T) {
	r := registry.New(2)

	a, _ := r.Create(owner)
	b, _ := r.Create(owner)
	if err := r.Destroy(a.ID); err != nil {
		t.Fatal(err)
	}

	c, err := r.Create(owner)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID == a.ID || c.ID == b.ID {
		t.Errorf("id %d was reused", c.ID)
	}
}

func TestRegistry_DestroyUnknownFails(t *testing.T) {
	r := registry.New(2)
	if err := r.Destroy(42); !errors.Is(err, registry.ErrUnknownPosition) {
		t.Errorf("expected ErrUnknownPosition, got %v", err)
	}
}

func TestRegistry_EnumerationCoversLiveSet(t *testing.T) {
	r := registry.New(10)

	ids := make(map[uint64]bool)
	for i := 0; i < 5; i++ {
		p, _ := r.Create(owner)
		ids[p.ID] = true
	}
	if err := r.Destroy(r.IDAt(1)); err != nil {
		t.Fatal(err)
	}

	seen := make(map[uint64]bool)
	for i := 0; i < r.LiveCount(); i++ {
		id := r.IDAt(i)
		if seen[id] {
			t.Fatalf("id %d enumerated twice", id)
		}
		seen[id] = true
		if _, err := r.Get(id); err != nil {
			t.Fatalf("enumerated id %d not gettable: %v", id, err)
		}
	}
	if len(seen) != 4 {
		t.Errorf("enumerated %d ids, want 4", len(seen))
	}
}

func TestRegistry_LastDepositBlock(t *testing.T) {
	r := registry.New(2)
	p, _ := r.Create(owner)

	if _, ok := r.LastDepositBlock(p.ID); ok {
		t.Error("fresh position should have no recorded deposit block")
	}
	r.RecordDeposit(p.ID, 7)
	if block, ok := r.LastDepositBlock(p.ID); !ok || block != 7 {
		t.Errorf("got %d (recorded=%v), want 7", block, ok)
	}

	// Block numbers start at zero; a deposit at block 0 must still count
	// as recorded.
	r.RecordDeposit(p.ID, 0)
	if block, ok := r.LastDepositBlock(p.ID); !ok || block != 0 {
		t.Errorf("got %d (recorded=%v), want recorded block 0", block, ok)
	}
}

func TestRegistry_SnapshotRestoreRoundTrip(t *testing.T) {
	r := registry.New(10)
	a, _ := r.Create(owner)
	a.Deposit = big.NewInt(-500)
	a.Withdrawn = big.NewInt(1000)
	a.RefreshLiquidatable()
	r.RecordDeposit(a.ID, 12)
	b, _ := r.Create(owner)
	b.Deposit = big.NewInt(250)
	b.RefreshLiquidatable()

	snaps, nextID := r.Snapshot()

	restored := registry.New(10)
	if err := restored.Restore(snaps, nextID); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	ra, err := restored.Get(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ra.Deposit.Cmp(big.NewInt(-500)) != 0 || ra.Withdrawn.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("restored balances wrong: deposit=%s withdrawn=%s", ra.Deposit, ra.Withdrawn)
	}
	if !ra.IsLiquidatable {
		t.Error("negative deposit must restore as liquidatable")
	}
	if block, ok := restored.LastDepositBlock(a.ID); !ok || block != 12 {
		t.Error("last deposit block not restored")
	}

	rb, _ := restored.Get(b.ID)
	if rb.IsLiquidatable {
		t.Error("positive deposit must restore as non-liquidatable")
	}

	next, err := restored.Create(owner)
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != b.ID+1 {
		t.Errorf("id counter not restored: got %d, want %d", next.ID, b.ID+1)
	}
}

func TestPosition_MintedBy(t *testing.T) {
	p := &registry.Position{
		Deposit:   big.NewInt(-300),
		Withdrawn: big.NewInt(900),
	}
	if p.MintedBy().Cmp(big.NewInt(900)) != 0 {
		t.Errorf("negative deposit must not count: got %s", p.MintedBy())
	}

	p.Deposit = big.NewInt(100)
	if p.MintedBy().Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("got %s, want 1000", p.MintedBy())
	}
}
