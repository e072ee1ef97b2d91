// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/ledger"
)

var _ ledger.Comet = (*Comet)(nil)

// Storage key prefixes for Comet state
var (
	cometSupplyPrefix     = []byte("cmt/sup")
	cometBorrowPrefix     = []byte("cmt/bor")
	cometCollateralPrefix = []byte("cmt/col")
	cometAllowPrefix      = []byte("cmt/alw")
)

// CometConfig is the immutable configuration of a Comet market.
type CometConfig struct {
	Address       common.Address
	BaseToken     common.Address
	BaseBorrowMin *big.Int

	// Borrow collateral factor per supported collateral asset
	// (scaled by 1e18, e.g., 0.8e18 = 80%)
	Collaterals map[common.Address]*big.Int
}

// Comet implements a Compound III market: a single borrowable base asset
// and a set of collateral assets that earn nothing. An account either
// supplies or borrows the base asset, never both.
type Comet struct {
	cfg         CometConfig
	oracle      *Oracle
	collaterals []common.Address
}

// NewComet creates a Comet market.
func NewComet(cfg CometConfig, oracle *Oracle) (*Comet, error) {
	if cfg.Address == (common.Address{}) || cfg.BaseToken == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.BaseBorrowMin == nil {
		cfg.BaseBorrowMin = new(big.Int)
	}
	collaterals := make([]common.Address, 0, len(cfg.Collaterals))
	for asset, factor := range cfg.Collaterals {
		if factor == nil || factor.Sign() < 0 || factor.Cmp(RAY) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCollateralLimit, asset.Hex())
		}
		collaterals = append(collaterals, asset)
	}
	sort.Slice(collaterals, func(i, j int) bool {
		return bytes.Compare(collaterals[i][:], collaterals[j][:]) < 0
	})
	return &Comet{cfg: cfg, oracle: oracle, collaterals: collaterals}, nil
}

func (c *Comet) Address() common.Address {
	return c.cfg.Address
}

func (c *Comet) BaseToken() common.Address {
	return c.cfg.BaseToken
}

func (c *Comet) BaseBorrowMin() *big.Int {
	return new(big.Int).Set(c.cfg.BaseBorrowMin)
}

// =========================================================================
// Permissions
// =========================================================================

// Allow lets manager withdraw and transfer on caller's behalf.
func (c *Comet) Allow(state contract.AccessibleState, caller, manager common.Address, isAllowed bool) {
	var value common.Hash
	if isAllowed {
		value[31] = 1
	}
	state.GetStateDB().SetState(c.cfg.Address, contract.StorageKey(cometAllowPrefix, caller.Bytes(), manager.Bytes()), value)
}

// HasPermission reports whether manager may act for owner.
func (c *Comet) HasPermission(state contract.AccessibleState, owner, manager common.Address) bool {
	if owner == manager {
		return true
	}
	value := state.GetStateDB().GetState(c.cfg.Address, contract.StorageKey(cometAllowPrefix, owner.Bytes(), manager.Bytes()))
	return value != (common.Hash{})
}

// =========================================================================
// Core Operations
// =========================================================================

// SupplyTo takes amount of asset from caller and credits dst. Base asset
// supplied to a borrower repays the borrow first.
func (c *Comet) SupplyTo(
	state contract.AccessibleState,
	caller, dst, asset common.Address,
	amount *big.Int,
) error {
	db := state.GetStateDB()
	if asset == c.cfg.BaseToken && isMax(amount) {
		amount = c.BorrowBalanceOf(state, dst)
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	if asset == c.cfg.BaseToken {
		if err := pull(db, c.cfg.Address, asset, caller, c.cfg.Address, amount); err != nil {
			return err
		}
		borrow := c.BorrowBalanceOf(state, dst)
		repay := minBig(amount, borrow)
		c.setBig(db, cometBorrowPrefix, new(big.Int).Sub(borrow, repay), dst.Bytes())
		supply := c.BalanceOf(state, dst)
		c.setBig(db, cometSupplyPrefix, supply.Add(supply, new(big.Int).Sub(amount, repay)), dst.Bytes())
		return nil
	}

	if _, ok := c.cfg.Collaterals[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	if err := pull(db, c.cfg.Address, asset, caller, c.cfg.Address, amount); err != nil {
		return err
	}
	balance := c.CollateralBalanceOf(state, dst, asset)
	c.setBig(db, cometCollateralPrefix, balance.Add(balance, amount), dst.Bytes(), asset.Bytes())
	return nil
}

// WithdrawFrom sends amount of asset from src's account to to. caller must
// be src or allowed by it. Withdrawing more base than src supplies borrows
// the rest; the resulting borrow must be at least BaseBorrowMin and
// collateralized.
func (c *Comet) WithdrawFrom(
	state contract.AccessibleState,
	caller, src, to, asset common.Address,
	amount *big.Int,
) error {
	if !c.HasPermission(state, src, caller) {
		return fmt.Errorf("%w: %s may not manage %s", ErrUnauthorized, caller.Hex(), src.Hex())
	}
	db := state.GetStateDB()
	if asset == c.cfg.BaseToken && isMax(amount) {
		amount = c.BalanceOf(state, src)
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	if asset == c.cfg.BaseToken {
		supply := c.BalanceOf(state, src)
		fromSupply := minBig(amount, supply)
		borrow := c.BorrowBalanceOf(state, src)
		borrow.Add(borrow, new(big.Int).Sub(amount, fromSupply))

		c.setBig(db, cometSupplyPrefix, new(big.Int).Sub(supply, fromSupply), src.Bytes())
		c.setBig(db, cometBorrowPrefix, borrow, src.Bytes())

		if borrow.Sign() > 0 {
			if borrow.Cmp(c.cfg.BaseBorrowMin) < 0 {
				return fmt.Errorf("%w: borrow=%s min=%s", ErrBorrowTooSmall, borrow, c.cfg.BaseBorrowMin)
			}
			if err := c.checkCollateralized(state, src); err != nil {
				return err
			}
		}
		if erc20.BalanceOf(db, asset, c.cfg.Address).Cmp(amount) < 0 {
			return ErrInsufficientLiquidity
		}
		return erc20.Transfer(db, asset, c.cfg.Address, to, amount)
	}

	if _, ok := c.cfg.Collaterals[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	balance := c.CollateralBalanceOf(state, src, asset)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: collateral=%s withdraw=%s", ErrInsufficientCollateral, balance, amount)
	}
	c.setBig(db, cometCollateralPrefix, balance.Sub(balance, amount), src.Bytes(), asset.Bytes())
	if c.BorrowBalanceOf(state, src).Sign() > 0 {
		if err := c.checkCollateralized(state, src); err != nil {
			return err
		}
	}
	return erc20.Transfer(db, asset, c.cfg.Address, to, amount)
}

// =========================================================================
// View Functions
// =========================================================================

// BalanceOf returns owner's supplied base balance.
func (c *Comet) BalanceOf(state contract.AccessibleState, owner common.Address) *big.Int {
	return c.getBig(state.GetStateDB(), cometSupplyPrefix, owner.Bytes())
}

// BorrowBalanceOf returns owner's base borrow.
func (c *Comet) BorrowBalanceOf(state contract.AccessibleState, owner common.Address) *big.Int {
	return c.getBig(state.GetStateDB(), cometBorrowPrefix, owner.Bytes())
}

// CollateralBalanceOf returns owner's collateral balance of asset.
func (c *Comet) CollateralBalanceOf(state contract.AccessibleState, owner, asset common.Address) *big.Int {
	return c.getBig(state.GetStateDB(), cometCollateralPrefix, owner.Bytes(), asset.Bytes())
}

// =========================================================================
// Internal Functions
// =========================================================================

func (c *Comet) checkCollateralized(state contract.AccessibleState, owner common.Address) error {
	db := state.GetStateDB()
	debt, err := c.oracle.Value(db, c.cfg.BaseToken, c.BorrowBalanceOf(state, owner))
	if err != nil {
		return err
	}
	liquidity := new(big.Int)
	for _, asset := range c.collaterals {
		balance := c.CollateralBalanceOf(state, owner, asset)
		if balance.Sign() == 0 {
			continue
		}
		value, err := c.oracle.Value(db, asset, balance)
		if err != nil {
			return err
		}
		liquidity.Add(liquidity, mulDiv(value, c.cfg.Collaterals[asset], RAY))
	}
	if debt.Cmp(liquidity) > 0 {
		return fmt.Errorf("%w: debt=%s liquidity=%s", ErrNotCollateralized, debt, liquidity)
	}
	return nil
}

func (c *Comet) getBig(db contract.StateDB, prefix []byte, parts ...[]byte) *big.Int {
	return contract.GetBig(db, c.cfg.Address, contract.StorageKey(prefix, parts...))
}

func (c *Comet) setBig(db contract.StateDB, prefix []byte, v *big.Int, parts ...[]byte) {
	contract.SetBig(db, c.cfg.Address, contract.StorageKey(prefix, parts...), v)
}
