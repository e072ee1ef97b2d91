// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/ledger"
)

var _ ledger.FlashLender = (*FlashPool)(nil)

var flashLockKey = contract.StorageKey([]byte("flash/lock"))

// FlashPool is a Uniswap V3 style pool lending its two tokens for the
// duration of a callback. The fee is charged in pips of the amount lent,
// rounded up.
type FlashPool struct {
	address common.Address
	token0  common.Address
	token1  common.Address
	fee     uint32
}

// NewFlashPool creates a pool at addr over token0 and token1.
func NewFlashPool(addr, token0, token1 common.Address, fee uint32) *FlashPool {
	return &FlashPool{address: addr, token0: token0, token1: token1, fee: fee}
}

func (p *FlashPool) Address() common.Address {
	return p.address
}

func (p *FlashPool) Token0() common.Address {
	return p.token0
}

func (p *FlashPool) Token1() common.Address {
	return p.token1
}

func (p *FlashPool) Fee() uint32 {
	return p.fee
}

// FlashFee returns the fee charged for lending amount.
func (p *FlashPool) FlashFee(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return new(big.Int)
	}
	return mulDivUp(amount, big.NewInt(int64(p.fee)), FeeDenominator)
}

// Flash lends amount0 and amount1 to recipient and invokes the borrower's
// callback. The pool's balances must have grown by the fees when the
// callback returns. The pool is locked while a flash is in progress.
func (p *FlashPool) Flash(
	state contract.AccessibleState,
	caller common.Address,
	borrower ledger.FlashBorrower,
	recipient common.Address,
	amount0, amount1 *big.Int,
	data []byte,
) error {
	db := state.GetStateDB()

	// Reentrancy guard
	if db.GetTransientState(p.address, flashLockKey) != (common.Hash{}) {
		return ErrReentrant
	}
	db.SetTransientState(p.address, flashLockKey, common.BytesToHash([]byte{1}))
	defer db.SetTransientState(p.address, flashLockKey, common.Hash{})

	amount0, amount1 = orZeroBig(amount0), orZeroBig(amount1)
	balance0 := erc20.BalanceOf(db, p.token0, p.address)
	balance1 := erc20.BalanceOf(db, p.token1, p.address)
	if balance0.Cmp(amount0) < 0 || balance1.Cmp(amount1) < 0 {
		return ErrInsufficientLiquidity
	}
	fee0, fee1 := p.FlashFee(amount0), p.FlashFee(amount1)

	if amount0.Sign() > 0 {
		if err := erc20.Transfer(db, p.token0, p.address, recipient, amount0); err != nil {
			return err
		}
	}
	if amount1.Sign() > 0 {
		if err := erc20.Transfer(db, p.token1, p.address, recipient, amount1); err != nil {
			return err
		}
	}

	if err := borrower.UniswapV3FlashCallback(state, p.address, fee0, fee1, data); err != nil {
		return err
	}

	after0 := erc20.BalanceOf(db, p.token0, p.address)
	if after0.Cmp(new(big.Int).Add(balance0, fee0)) < 0 {
		return fmt.Errorf("%w: token0 balance=%s want=%s", ErrFlashLoanNotRepaid, after0, new(big.Int).Add(balance0, fee0))
	}
	after1 := erc20.BalanceOf(db, p.token1, p.address)
	if after1.Cmp(new(big.Int).Add(balance1, fee1)) < 0 {
		return fmt.Errorf("%w: token1 balance=%s want=%s", ErrFlashLoanNotRepaid, after1, new(big.Int).Add(balance1, fee1))
	}
	return nil
}

func orZeroBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
