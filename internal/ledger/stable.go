package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// StableLedger is the external stable-asset token ledger. All amounts are
// non-negative integers at the asset's 18-decimal scale. Mint, burn, and
// transfer calls are atomic: they either fully apply or leave no trace.
// Transfer-style calls report failure via their boolean result rather than
// an error, matching token-transfer semantics.
type StableLedger interface {
	Mint(to common.Address, amount *big.Int) error
	Burn(from common.Address, amount *big.Int) error
	Transfer(from, to common.Address, amount *big.Int) bool
	BalanceOf(addr common.Address) *big.Int
	TotalSupply() *big.Int

	// Snapshot returns a copy of every balance and the total supply as
	// decimal strings, for persistence. Callers serialize access.
	Snapshot() (map[string]string, string)
}

// InMemoryLedger is a process-local StableLedger used by the accounting
// core. It is not safe for concurrent use; the engine serializes access.
type InMemoryLedger struct {
	balances map[common.Address]*big.Int
	supply   *big.Int
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		balances: make(map[common.Address]*big.Int),
		supply:   big.NewInt(0),
	}
}

func (l *InMemoryLedger) Mint(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: mint amount must be non-negative")
	}
	l.credit(to, amount)
	l.supply.Add(l.supply, amount)
	return nil
}

func (l *InMemoryLedger) Burn(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: burn amount must be non-negative")
	}
	bal := l.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: burn %s exceeds balance %s of %s", amount, bal, from.Hex())
	}
	bal.Sub(bal, amount)
	l.supply.Sub(l.supply, amount)
	return nil
}

func (l *InMemoryLedger) Transfer(from, to common.Address, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 {
		return false
	}
	bal := l.balance(from)
	if bal.Cmp(amount) < 0 {
		return false
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return true
}

// BalanceOf returns a copy; callers may mutate the result freely.
func (l *InMemoryLedger) BalanceOf(addr common.Address) *big.Int {
	return new(big.Int).Set(l.balance(addr))
}

func (l *InMemoryLedger) TotalSupply() *big.Int {
	return new(big.Int).Set(l.supply)
}

func (l *InMemoryLedger) balance(addr common.Address) *big.Int {
	bal, ok := l.balances[addr]
	if !ok {
		bal = big.NewInt(0)
		l.balances[addr] = bal
	}
	return bal
}

func (l *InMemoryLedger) credit(addr common.Address, amount *big.Int) {
	bal := l.balance(addr)
	bal.Add(bal, amount)
}

// Snapshot returns all non-zero balances keyed by hex address, plus the
// total supply, as decimal strings (for persistence).
func (l *InMemoryLedger) Snapshot() (map[string]string, string) {
	out := make(map[string]string, len(l.balances))
	for addr, bal := range l.balances {
		if bal.Sign() != 0 {
			out[addr.Hex()] = bal.String()
		}
	}
	return out, l.supply.String()
}

// Restore replaces the ledger state with a previously captured snapshot.
func (l *InMemoryLedger) Restore(balances map[string]string, supply string) error {
	next := make(map[common.Address]*big.Int, len(balances))
	for hex, s := range balances {
		bal, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("ledger: bad balance %q for %s", s, hex)
		}
		next[common.HexToAddress(hex)] = bal
	}
	total, ok := new(big.Int).SetString(supply, 10)
	if !ok {
		return fmt.Errorf("ledger: bad total supply %q", supply)
	}
	l.balances = next
	l.supply = total
	return nil
}
