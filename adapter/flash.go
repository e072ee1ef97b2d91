// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
)

// WithdrawAmount returns how much base to withdraw from a Comet account
// with the given supply and borrow balances to cover shortfall. A withdrawal
// that turns into a borrow is raised so the borrow reaches floor.
func WithdrawAmount(shortfall, supply, borrow, floor *big.Int) *big.Int {
	if supply.Cmp(shortfall) >= 0 {
		return new(big.Int).Set(shortfall)
	}
	// Borrow left behind by withdrawing exactly the shortfall
	projected := new(big.Int).Add(borrow, shortfall)
	projected.Sub(projected, supply)
	if projected.Cmp(floor) >= 0 {
		return new(big.Int).Set(shortfall)
	}
	amount := new(big.Int).Add(supply, floor)
	return amount.Sub(amount, borrow)
}

// repayFlashLoan covers any shortfall from the user's Comet account, pays
// the pool and sweeps what is left back to the user.
func (a *Adapter) repayFlashLoan(state contract.AccessibleState, call Call, res *Result) error {
	db := state.GetStateDB()
	fl := call.Flash
	comet := call.Comet
	base := comet.BaseToken()
	bridge := fl.Token
	if bridge != base && !a.canConvert(bridge, base) {
		return fmt.Errorf("%w: flash token %s, base %s", ErrBridgeMismatch, bridge.Hex(), base.Hex())
	}

	held := netBalance(db, bridge, call.Self, fl.PreBridgeBalance)
	shortfall := new(big.Int).Sub(fl.AmountOwed, held)
	if shortfall.Sign() > 0 {
		amount := WithdrawAmount(
			shortfall,
			comet.BalanceOf(state, call.User),
			comet.BorrowBalanceOf(state, call.User),
			comet.BaseBorrowMin(),
		)
		if err := comet.WithdrawFrom(state, call.Self, call.User, call.Self, base, amount); err != nil {
			return err
		}
		if bridge != base {
			if _, err := a.cfg.Converter.Convert(state, call.Self, base, amount); err != nil {
				return err
			}
		}
		res.Shortfall.Set(shortfall)
		res.Withdrawn.Set(amount)
		a.log.Debug("flash shortfall withdrawn",
			"adapter", a.cfg.Name,
			"user", call.User,
			"shortfall", shortfall,
			"withdrawn", amount,
		)
	}

	if err := erc20.Transfer(db, bridge, call.Self, fl.Pool, fl.AmountOwed); err != nil {
		return err
	}

	if bridge != base {
		if residual := netBalance(db, bridge, call.Self, fl.PreBridgeBalance); residual.Sign() > 0 {
			if _, err := a.cfg.Converter.Convert(state, call.Self, bridge, residual); err != nil {
				return err
			}
		}
	}
	residual := netBalance(db, base, call.Self, fl.PreBaseBalance)
	if err := a.supply(state, call, base, residual); err != nil {
		return err
	}
	res.Swept.Set(residual)
	return nil
}

// netBalance is holder's balance of token above baseline, floored at zero.
func netBalance(db contract.StateDB, token, holder common.Address, baseline *big.Int) *big.Int {
	balance := erc20.BalanceOf(db, token, holder)
	if baseline != nil {
		balance.Sub(balance, baseline)
	}
	if balance.Sign() < 0 {
		return new(big.Int)
	}
	return balance
}
