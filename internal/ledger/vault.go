package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralVault custodies the pool's collateral (ETH, at 18-decimal
// scale). Pay is the one external payment surface in the system; it must
// either fully deliver or return an error, and callers treat a failure as
// an aborted operation.
type CollateralVault interface {
	Receive(from common.Address, amount *big.Int) error
	Pay(to common.Address, amount *big.Int) error
	Balance() *big.Int
}

// InMemoryVault tracks pool collateral as a single balance. Not safe for
// concurrent use; the engine serializes access.
type InMemoryVault struct {
	balance *big.Int
}

func NewInMemoryVault() *InMemoryVault {
	return &InMemoryVault{balance: big.NewInt(0)}
}

func (v *InMemoryVault) Receive(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("vault: receive amount must be positive")
	}
	v.balance.Add(v.balance, amount)
	return nil
}

func (v *InMemoryVault) Pay(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("vault: pay amount must be non-negative")
	}
	if v.balance.Cmp(amount) < 0 {
		return fmt.Errorf("vault: pay %s exceeds pool collateral %s", amount, v.balance)
	}
	v.balance.Sub(v.balance, amount)
	return nil
}

func (v *InMemoryVault) Balance() *big.Int {
	return new(big.Int).Set(v.balance)
}

// SetBalance replaces the vault balance (snapshot restore).
func (v *InMemoryVault) SetBalance(amount *big.Int) {
	v.balance = new(big.Int).Set(amount)
}
