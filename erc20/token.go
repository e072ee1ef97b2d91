// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package erc20 keeps fungible token balances in contract state. Each token's
// balances and allowances are stored under the token's own address, the way
// an ERC-20 contract would hold them. The zero address denotes the native
// asset, whose balances are the StateDB native balances.
package erc20

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
)

// Native is the native chain asset.
var Native = common.Address{}

// MaxUint256 is the infinite allowance.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Storage key prefixes
var (
	balancePrefix   = []byte("erc20/bal")
	allowancePrefix = []byte("erc20/alw")
	supplyPrefix    = []byte("erc20/sup")
)

var (
	ErrInsufficientBalance   = errors.New("erc20: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("erc20: insufficient allowance")
	ErrInvalidAmount         = errors.New("erc20: invalid amount")
	ErrNativeApproval        = errors.New("erc20: native asset has no allowances")
)

// IsNative reports whether token is the native asset.
func IsNative(token common.Address) bool {
	return token == Native
}

func balanceKey(holder common.Address) common.Hash {
	return contract.StorageKey(balancePrefix, holder.Bytes())
}

func allowanceKey(owner, spender common.Address) common.Hash {
	return contract.StorageKey(allowancePrefix, owner.Bytes(), spender.Bytes())
}

// BalanceOf returns holder's balance of token.
func BalanceOf(db contract.StateDB, token, holder common.Address) *big.Int {
	if IsNative(token) {
		return db.GetBalance(holder).ToBig()
	}
	return contract.GetBig(db, token, balanceKey(holder))
}

// TotalSupply returns the minted supply of an ERC-20 token.
func TotalSupply(db contract.StateDB, token common.Address) *big.Int {
	return contract.GetBig(db, token, contract.StorageKey(supplyPrefix))
}

// Allowance returns how much spender may pull from owner.
func Allowance(db contract.StateDB, token, owner, spender common.Address) *big.Int {
	if IsNative(token) {
		return big.NewInt(0)
	}
	return contract.GetBig(db, token, allowanceKey(owner, spender))
}

// Approve sets spender's allowance over owner's tokens.
func Approve(db contract.StateDB, token, owner, spender common.Address, amount *big.Int) error {
	if IsNative(token) {
		return ErrNativeApproval
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	contract.SetBig(db, token, allowanceKey(owner, spender), amount)
	return nil
}

// Transfer moves amount of token from one holder to another.
func Transfer(db contract.StateDB, token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance := BalanceOf(db, token, from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token=%s holder=%s balance=%s amount=%s",
			ErrInsufficientBalance, token.Hex(), from.Hex(), balance, amount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	if IsNative(token) {
		u := contract.ToU256(amount)
		db.SubBalance(from, u)
		db.AddBalance(to, u)
		return nil
	}

	contract.SetBig(db, token, balanceKey(from), new(big.Int).Sub(balance, amount))
	toBalance := contract.GetBig(db, token, balanceKey(to))
	contract.SetBig(db, token, balanceKey(to), toBalance.Add(toBalance, amount))
	return nil
}

// TransferFrom moves tokens on behalf of from, consuming spender's allowance.
// An allowance of MaxUint256 is never decreased.
func TransferFrom(db contract.StateDB, token, spender, from, to common.Address, amount *big.Int) error {
	if IsNative(token) {
		return ErrNativeApproval
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender != from {
		allowance := Allowance(db, token, from, spender)
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: token=%s owner=%s spender=%s allowance=%s amount=%s",
				ErrInsufficientAllowance, token.Hex(), from.Hex(), spender.Hex(), allowance, amount)
		}
		if allowance.Cmp(MaxUint256) != 0 {
			contract.SetBig(db, token, allowanceKey(from, spender), new(big.Int).Sub(allowance, amount))
		}
	}
	return Transfer(db, token, from, to, amount)
}

// Mint credits new tokens to holder.
func Mint(db contract.StateDB, token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if IsNative(token) {
		db.AddBalance(holder, contract.ToU256(amount))
		return nil
	}
	balance := contract.GetBig(db, token, balanceKey(holder))
	contract.SetBig(db, token, balanceKey(holder), balance.Add(balance, amount))
	supply := TotalSupply(db, token)
	contract.SetBig(db, token, contract.StorageKey(supplyPrefix), supply.Add(supply, amount))
	return nil
}

// Burn destroys tokens held by holder.
func Burn(db contract.StateDB, token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance := BalanceOf(db, token, holder)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token=%s holder=%s balance=%s amount=%s",
			ErrInsufficientBalance, token.Hex(), holder.Hex(), balance, amount)
	}
	if IsNative(token) {
		db.SubBalance(holder, contract.ToU256(amount))
		return nil
	}
	contract.SetBig(db, token, balanceKey(holder), new(big.Int).Sub(balance, amount))
	supply := TotalSupply(db, token)
	contract.SetBig(db, token, contract.StorageKey(supplyPrefix), supply.Sub(supply, amount))
	return nil
}

// Wrap deposits holder's native balance into the wrapped-native contract and
// mints the same amount of wrapped tokens.
func Wrap(db contract.StateDB, wrapped, holder common.Address, amount *big.Int) error {
	if err := Transfer(db, Native, holder, wrapped, amount); err != nil {
		return err
	}
	return Mint(db, wrapped, holder, amount)
}

// Unwrap burns wrapped tokens and releases the native balance backing them.
func Unwrap(db contract.StateDB, wrapped, holder common.Address, amount *big.Int) error {
	if err := Burn(db, wrapped, holder, amount); err != nil {
		return err
	}
	return Transfer(db, Native, wrapped, holder, amount)
}
