package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"dyadledger/internal/event"
	fpmath "dyadledger/internal/math"
	"dyadledger/internal/registry"

	"github.com/ethereum/go-ethereum/common"
)

// Mint deposits collateral from caller and opens a fresh position for to.
// The stable amount is priced at the current oracle reading and minted
// into pool custody as the position's starting deposit.
func (e *Engine) Mint(ctx context.Context, caller, to common.Address, collateral *big.Int) (id uint64, err error) {
	start := time.Now()
	defer func() { e.recordOp("mint", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if collateral == nil || collateral.Sign() <= 0 {
		return 0, fmt.Errorf("%w: collateral must be positive", ErrInvalidInput)
	}
	if (to == common.Address{}) {
		return 0, fmt.Errorf("%w: zero recipient", ErrInvalidInput)
	}
	if e.reg.LiveCount() >= e.cfg.MaxPositions {
		return 0, fmt.Errorf("%w: %d live positions", registry.ErrCapacityExceeded, e.reg.LiveCount())
	}

	price, err := e.feed.Latest(ctx)
	if err != nil {
		return 0, fmt.Errorf("price read: %w", err)
	}

	stableAmount := fpmath.MulDiv(price, collateral, e.cfg.PriceScale)
	if stableAmount.Sign() == 0 || stableAmount.Cmp(e.cfg.DepositMinimum) < 0 {
		return 0, fmt.Errorf("%w: %s below %s", ErrBelowMinimum,
			stableAmount, e.cfg.DepositMinimum)
	}

	if err := e.vault.Receive(caller, collateral); err != nil {
		return 0, fmt.Errorf("%w: collateral receive: %v", ErrTransferFailed, err)
	}
	if err := e.stable.Mint(e.cfg.PoolAddress, stableAmount); err != nil {
		return 0, fmt.Errorf("%w: stable mint: %v", ErrTransferFailed, err)
	}

	pos, err := e.reg.Create(to)
	if err != nil {
		return 0, err
	}
	pos.Deposit.Set(stableAmount)
	pos.RefreshLiquidatable()

	if pos.XP < e.minXP {
		e.minXP = pos.XP
	}
	if pos.XP > e.maxXP {
		e.maxXP = pos.XP
	}
	e.lastPrice = new(big.Int).Set(price)

	block := e.blocks.Number()
	e.emit(event.EventTypePositionCreated, block, event.PositionCreated{
		PositionID: pos.ID,
		Owner:      to.Hex(),
		XP:         pos.XP,
	})
	e.emit(event.EventTypeStableMinted, block, event.StableMinted{
		PositionID: pos.ID,
		Owner:      to.Hex(),
		Collateral: collateral.String(),
		Amount:     stableAmount.String(),
		Price:      price.String(),
	})

	e.log.Info().
		Uint64("id", pos.ID).
		Str("owner", to.Hex()).
		Str("stable", stableAmount.String()).
		Str("price", price.String()).
		Msg("position minted")

	e.updateStateGauges()
	return pos.ID, nil
}

// Deposit moves previously withdrawn stable asset from the caller's
// external balance back into a position. Permissionless: anyone can pay
// down any position.
func (e *Engine) Deposit(caller common.Address, id uint64, amount *big.Int) (err error) {
	start := time.Now()
	defer func() { e.recordOp("deposit", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	pos, err := e.reg.Get(id)
	if err != nil {
		return err
	}
	if amount.Cmp(pos.Withdrawn) > 0 {
		return fmt.Errorf("%w: deposit %s over withdrawn %s", ErrExceedsBalance,
			amount, pos.Withdrawn)
	}

	if !e.stable.Transfer(caller, e.cfg.PoolAddress, amount) {
		return fmt.Errorf("%w: stable transfer into custody", ErrTransferFailed)
	}

	block := e.blocks.Number()
	e.reg.RecordDeposit(id, block)
	pos.Deposit.Add(pos.Deposit, amount)
	pos.Withdrawn.Sub(pos.Withdrawn, amount)
	pos.RefreshLiquidatable()

	e.emit(event.EventTypeStableDeposited, block, event.StableDeposited{
		PositionID: id,
		Caller:     caller.Hex(),
		Amount:     amount.String(),
	})

	e.updateStateGauges()
	return nil
}

// Withdraw moves stable asset from a position's internal balance to the
// owner's external balance, subject to the global collateral ratio and the
// average-share cap.
func (e *Engine) Withdraw(caller common.Address, id uint64, amount *big.Int) (err error) {
	start := time.Now()
	defer func() { e.recordOp("withdraw", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	pos, err := e.reg.Get(id)
	if err != nil {
		return err
	}
	if !e.isAuthorized(caller, pos.Owner) {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}

	block := e.blocks.Number()
	if last, ok := e.reg.LastDepositBlock(id); ok && last == block {
		return fmt.Errorf("%w: id %d at block %d", ErrSameBlockViolation, id, block)
	}
	if amount.Cmp(pos.Deposit) > 0 {
		return fmt.Errorf("%w: withdraw %s over deposit %s", ErrExceedsBalance,
			amount, pos.Deposit)
	}

	poolBalance := e.stable.BalanceOf(e.cfg.PoolAddress)
	afterPool := new(big.Int).Sub(poolBalance, amount)
	// No external holdings means an unbounded ratio; the check only binds
	// once stable asset circulates outside custody.
	external := new(big.Int).Sub(e.stable.TotalSupply(), afterPool)
	if external.Sign() > 0 {
		cr := fpmath.RatioBps(afterPool, external)
		if cr < e.cfg.MinCollateralRatioBps {
			return fmt.Errorf("%w: ratio %d bps under %d", ErrInsufficientCollateral,
				cr, e.cfg.MinCollateralRatioBps)
		}
	}

	// Average recomputed fresh each call; position count changes between
	// calls deliberately shift the cap.
	avgShare := new(big.Int).Quo(poolBalance, big.NewInt(int64(e.reg.LiveCount())))
	cumulative := new(big.Int).Add(pos.Withdrawn, amount)
	if cumulative.Cmp(avgShare) > 0 {
		return fmt.Errorf("%w: cumulative %s over average share %s", ErrExceedsAverageShare,
			cumulative, avgShare)
	}

	if !e.stable.Transfer(e.cfg.PoolAddress, pos.Owner, amount) {
		return fmt.Errorf("%w: stable transfer out of custody", ErrTransferFailed)
	}

	pos.Deposit.Sub(pos.Deposit, amount)
	pos.Withdrawn.Add(pos.Withdrawn, amount)
	pos.RefreshLiquidatable()

	e.emit(event.EventTypeStableWithdrawn, block, event.StableWithdrawn{
		PositionID: id,
		Owner:      pos.Owner.Hex(),
		Amount:     amount.String(),
	})

	e.updateStateGauges()
	return nil
}

// Redeem burns externally held stable asset and pays out collateral at
// the last recorded price. The external payment is reentrancy-guarded.
func (e *Engine) Redeem(caller common.Address, id uint64, amount *big.Int) (err error) {
	start := time.Now()
	defer func() { e.recordOp("redeem", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.redeeming {
		return ErrReentrancy
	}
	e.redeeming = true
	defer func() { e.redeeming = false }()

	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	pos, err := e.reg.Get(id)
	if err != nil {
		return err
	}
	if !e.isAuthorized(caller, pos.Owner) {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	if amount.Cmp(pos.Withdrawn) > 0 {
		return fmt.Errorf("%w: redeem %s over withdrawn %s", ErrExceedsBalance,
			amount, pos.Withdrawn)
	}
	if e.lastPrice == nil || e.lastPrice.Sign() <= 0 {
		return fmt.Errorf("%w: no recorded price", ErrInvalidInput)
	}
	if e.stable.BalanceOf(caller).Cmp(amount) < 0 {
		return fmt.Errorf("%w: caller balance under %s", ErrExceedsBalance, amount)
	}

	collateralOut := fpmath.MulDiv(amount, e.cfg.PriceScale, e.lastPrice)

	// The external payment runs before the burn so a payment failure
	// leaves all balances untouched. The burn cannot fail afterward: the
	// caller balance was checked under the engine lock.
	if err := e.vault.Pay(caller, collateralOut); err != nil {
		return fmt.Errorf("%w: collateral payout: %v", ErrTransferFailed, err)
	}
	if err := e.stable.Burn(caller, amount); err != nil {
		return fmt.Errorf("%w: stable burn: %v", ErrTransferFailed, err)
	}

	pos.Withdrawn.Sub(pos.Withdrawn, amount)

	block := e.blocks.Number()
	e.emit(event.EventTypeStableRedeemed, block, event.StableRedeemed{
		PositionID: id,
		Owner:      pos.Owner.Hex(),
		Amount:     amount.String(),
		Collateral: collateralOut.String(),
	})

	e.log.Info().
		Uint64("id", id).
		Str("amount", amount.String()).
		Str("collateral", collateralOut.String()).
		Msg("stable redeemed")

	e.updateStateGauges()
	return nil
}

// MoveDeposit shifts internal deposit balance between two positions with
// no ledger movement.
func (e *Engine) MoveDeposit(caller common.Address, fromID, toID uint64, amount *big.Int) (err error) {
	start := time.Now()
	defer func() { e.recordOp("move", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if fromID == toID {
		return fmt.Errorf("%w: identical positions", ErrInvalidInput)
	}
	from, err := e.reg.Get(fromID)
	if err != nil {
		return err
	}
	to, err := e.reg.Get(toID)
	if err != nil {
		return err
	}
	if !e.isAuthorized(caller, from.Owner) {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	if amount.Cmp(from.Deposit) > 0 {
		return fmt.Errorf("%w: move %s over deposit %s", ErrExceedsBalance,
			amount, from.Deposit)
	}

	from.Deposit.Sub(from.Deposit, amount)
	to.Deposit.Add(to.Deposit, amount)
	from.RefreshLiquidatable()
	to.RefreshLiquidatable()

	e.emit(event.EventTypeDepositMoved, e.blocks.Number(), event.DepositMoved{
		FromID: fromID,
		ToID:   toID,
		Amount: amount.String(),
	})

	e.updateStateGauges()
	return nil
}

// Liquidate destroys a non-positive position and mints a replacement id
// to a new owner, carrying xp and withdrawn. A negative deposit is
// renormalized to zero by minting the shortfall into pool custody.
// Permissionless.
func (e *Engine) Liquidate(caller, to common.Address, id uint64) (newID uint64, err error) {
	start := time.Now()
	defer func() { e.recordOp("liquidate", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if (to == common.Address{}) {
		return 0, fmt.Errorf("%w: zero recipient", ErrInvalidInput)
	}
	pos, err := e.reg.Get(id)
	if err != nil {
		return 0, err
	}
	if !pos.IsLiquidatable {
		return 0, fmt.Errorf("%w: id %d deposit %s", ErrNotLiquidatable, id, pos.Deposit)
	}

	oldOwner := pos.Owner
	carriedXP := pos.XP
	carriedWithdrawn := new(big.Int).Set(pos.Withdrawn)
	oldDeposit := new(big.Int).Set(pos.Deposit)

	covered := big.NewInt(0)
	if oldDeposit.Sign() < 0 {
		covered.Neg(oldDeposit)
		if err := e.stable.Mint(e.cfg.PoolAddress, covered); err != nil {
			return 0, fmt.Errorf("%w: covering mint: %v", ErrTransferFailed, err)
		}
	}

	if err := e.reg.Destroy(id); err != nil {
		return 0, err
	}
	replacement, err := e.reg.Create(to)
	if err != nil {
		// Unreachable: destroy freed a slot under the same lock.
		return 0, err
	}
	replacement.XP = carriedXP
	replacement.Withdrawn.Set(carriedWithdrawn)
	replacement.Deposit.Add(oldDeposit, covered)
	replacement.RefreshLiquidatable()

	block := e.blocks.Number()
	e.emit(event.EventTypePositionLiquidated, block, event.PositionLiquidated{
		OldID:    id,
		NewID:    replacement.ID,
		OldOwner: oldOwner.Hex(),
		NewOwner: to.Hex(),
		Covered:  covered.String(),
	})

	e.log.Info().
		Uint64("old_id", id).
		Uint64("new_id", replacement.ID).
		Str("old_owner", oldOwner.Hex()).
		Str("new_owner", to.Hex()).
		Str("covered", covered.String()).
		Msg("position liquidated")

	if e.metrics != nil {
		e.metrics.LiquidationsTotal.Inc()
	}
	e.updateStateGauges()
	return replacement.ID, nil
}
