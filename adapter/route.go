// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/swap"
)

// =========================================================================
// Debt
// =========================================================================

func (a *Adapter) repayBorrows(state contract.AccessibleState, call Call, borrows []Borrow) error {
	for i, b := range borrows {
		if err := a.repayBorrow(state, call, b); err != nil {
			return &StageError{Stage: StageRepayBorrows, Kind: "borrow", Index: i, Line: b.Line, Err: err}
		}
	}
	return nil
}

func (a *Adapter) repayBorrow(state contract.AccessibleState, call Call, b Borrow) error {
	debt, err := a.source.ResolveDebt(state, call.User, b)
	if err != nil {
		return err
	}
	if err := a.acquire(state, call.Self, debt, b.Swap); err != nil {
		return err
	}
	if err := a.source.Repay(state, call.Self, call.User, debt); err != nil {
		return err
	}

	if a.cfg.FullMigration {
		remaining, err := a.source.Outstanding(state, call.User, debt)
		if err != nil {
			return err
		}
		if remaining.Sign() != 0 {
			return &DebtNotClearedError{Line: debt.Line, Asset: debt.Asset, Remaining: remaining}
		}
	}
	a.log.Debug("debt repaid", "adapter", a.cfg.Name, "line", debt.Line, "asset", debt.Asset, "amount", debt.Amount)
	return nil
}

// acquire buys debt.Amount of the debt asset for self. Exact-output paths
// start at the asset bought.
func (a *Adapter) acquire(state contract.AccessibleState, self common.Address, debt Debt, limit InputLimit) error {
	if len(limit.Path) == 0 {
		return nil
	}
	path, err := swap.DecodePath(limit.Path)
	if err != nil {
		return err
	}
	if path.Leading() != debt.Asset {
		return fmt.Errorf("%w: path buys %s, debt is in %s", ErrPathMismatch, path.Leading().Hex(), debt.Asset.Hex())
	}

	if a.converts(path) {
		_, err = a.cfg.Converter.ConvertBefore(state, self, path.Trailing(), debt.Amount, limit.Deadline)
		return err
	}
	_, err = a.cfg.Router.SwapExactOutput(state, self, path, debt.Amount, limit.AmountInMaximum, limit.Deadline)
	return err
}

// =========================================================================
// Collateral
// =========================================================================

func (a *Adapter) migrateCollaterals(state contract.AccessibleState, call Call, collaterals []Collateral) error {
	for i, c := range collaterals {
		if err := a.migrateCollateral(state, call, c); err != nil {
			return &StageError{Stage: StageMigrateCollateral, Kind: "collateral", Index: i, Line: c.Line, Err: err}
		}
	}
	return nil
}

func (a *Adapter) migrateCollateral(state contract.AccessibleState, call Call, c Collateral) error {
	w, err := a.source.WithdrawCollateral(state, call.Self, call.User, c)
	if err != nil {
		return err
	}
	asset, amount := w.Asset, w.Amount
	if erc20.IsNative(asset) && a.cfg.NativeWrap {
		if err := erc20.Wrap(state.GetStateDB(), a.cfg.WrappedNative, call.Self, amount); err != nil {
			return err
		}
		asset = a.cfg.WrappedNative
	}

	asset, amount, err = a.dispose(state, call.Self, call.Comet.BaseToken(), asset, amount, c.Swap)
	if err != nil {
		return err
	}
	if err := a.supply(state, call, asset, amount); err != nil {
		return err
	}
	a.log.Debug("collateral migrated", "adapter", a.cfg.Name, "line", c.Line, "asset", asset, "amount", amount)
	return nil
}

// dispose sells amount of asset along limit's path and returns what was
// received. Output on the far side of the stablecoin pair from base is
// converted once more.
func (a *Adapter) dispose(
	state contract.AccessibleState,
	self common.Address,
	base common.Address,
	asset common.Address,
	amount *big.Int,
	limit OutputLimit,
) (common.Address, *big.Int, error) {
	if len(limit.Path) == 0 {
		return asset, amount, nil
	}
	path, err := swap.DecodePath(limit.Path)
	if err != nil {
		return common.Address{}, nil, err
	}
	if path.Leading() != asset {
		return common.Address{}, nil, fmt.Errorf("%w: path sells %s, collateral is %s", ErrPathMismatch, path.Leading().Hex(), asset.Hex())
	}

	out := path.Trailing()
	var received *big.Int
	if a.converts(path) {
		received, err = a.cfg.Converter.ConvertBefore(state, self, asset, amount, limit.Deadline)
	} else {
		received, err = a.cfg.Router.SwapExactInput(state, self, path, amount, limit.AmountOutMinimum, limit.Deadline)
	}
	if err != nil {
		return common.Address{}, nil, err
	}

	if out != base && a.canConvert(out, base) && received.Sign() > 0 {
		if received, err = a.cfg.Converter.Convert(state, self, out, received); err != nil {
			return common.Address{}, nil, err
		}
		out = base
	}
	return out, received, nil
}

// supply credits amount of asset held by self to the user's Comet account.
func (a *Adapter) supply(state contract.AccessibleState, call Call, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	comet := call.Comet
	return withApproval(state.GetStateDB(), asset, call.Self, comet.Address(), amount, func() error {
		return comet.SupplyTo(state, call.Self, call.User, asset, amount)
	})
}
