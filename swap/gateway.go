// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package swap routes trades through a Uniswap V3 style router. The gateway
// grants the router an allowance only for the duration of a trade and speaks
// both the SwapRouter02 and the original SwapRouter interfaces.
package swap

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
)

var (
	ErrZeroAmount         = errors.New("swap: zero amount")
	ErrDeadlineExpired    = errors.New("swap: deadline expired")
	ErrRouterIncompatible = errors.New("swap: router accepts neither interface")
	ErrUnexpectedOutput   = errors.New("swap: unexpected router output")
)

// Gateway trades through a single router contract.
type Gateway struct {
	// Address is the router's address; allowances are granted to it.
	Address common.Address
	Router  contract.Contract
}

// NewGateway returns a gateway for the router deployed at addr.
func NewGateway(addr common.Address, router contract.Contract) *Gateway {
	return &Gateway{Address: addr, Router: router}
}

// SwapExactInput sells exactly amountIn of the path's leading token held by
// self and returns the amount of the trailing token received. A zero
// deadline means no deadline.
func (g *Gateway) SwapExactInput(
	state contract.AccessibleState,
	self common.Address,
	path Path,
	amountIn *big.Int,
	amountOutMin *big.Int,
	deadline *big.Int,
) (*big.Int, error) {
	if err := g.checkTrade(state, path, amountIn, deadline); err != nil {
		return nil, err
	}
	raw := path.Encode()
	minOut := orZero(amountOutMin)

	primary, err := RouterV2ABI.Pack(MethodExactInput, ExactInputParams{
		Path:             raw,
		Recipient:        self,
		AmountIn:         amountIn,
		AmountOutMinimum: minOut,
	})
	if err != nil {
		return nil, err
	}
	legacy, err := RouterLegacyABI.Pack(MethodExactInput, LegacyExactInputParams{
		Path:             raw,
		Recipient:        self,
		Deadline:         routerDeadline(state, deadline),
		AmountIn:         amountIn,
		AmountOutMinimum: minOut,
	})
	if err != nil {
		return nil, err
	}
	return g.trade(state, self, path.Leading(), MethodExactInput, primary, legacy)
}

// SwapExactOutput buys exactly amountOut and returns the amount spent.
// Exact-output paths are encoded output first, so the leading token is the
// one bought and the trailing token is the one sold.
func (g *Gateway) SwapExactOutput(
	state contract.AccessibleState,
	self common.Address,
	path Path,
	amountOut *big.Int,
	amountInMax *big.Int,
	deadline *big.Int,
) (*big.Int, error) {
	if err := g.checkTrade(state, path, amountOut, deadline); err != nil {
		return nil, err
	}
	raw := path.Encode()
	maxIn := amountInMax
	if maxIn == nil {
		maxIn = erc20.MaxUint256
	}

	primary, err := RouterV2ABI.Pack(MethodExactOutput, ExactOutputParams{
		Path:            raw,
		Recipient:       self,
		AmountOut:       amountOut,
		AmountInMaximum: maxIn,
	})
	if err != nil {
		return nil, err
	}
	legacy, err := RouterLegacyABI.Pack(MethodExactOutput, LegacyExactOutputParams{
		Path:            raw,
		Recipient:       self,
		Deadline:        routerDeadline(state, deadline),
		AmountOut:       amountOut,
		AmountInMaximum: maxIn,
	})
	if err != nil {
		return nil, err
	}
	return g.trade(state, self, path.Trailing(), MethodExactOutput, primary, legacy)
}

func (g *Gateway) checkTrade(state contract.AccessibleState, path Path, amount, deadline *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if len(path.Tokens) == 0 {
		return ErrEmptyPath
	}
	if path.IsConvert() || len(path.Tokens) != len(path.Fees)+1 {
		return fmt.Errorf("%w: %s is not a pool route", ErrInvalidPath, path)
	}
	if deadline != nil && deadline.Sign() > 0 {
		now := new(big.Int).SetUint64(state.GetBlockContext().Timestamp())
		if now.Cmp(deadline) > 0 {
			return fmt.Errorf("%w: deadline=%s now=%s", ErrDeadlineExpired, deadline, now)
		}
	}
	return nil
}

// trade grants the router an unlimited allowance over tokenIn, tries the
// primary interface and then the legacy one, and revokes the allowance
// whatever the outcome. Only a selector rejection moves on to the legacy
// interface; any other router failure is returned as is.
func (g *Gateway) trade(
	state contract.AccessibleState,
	self common.Address,
	tokenIn common.Address,
	method string,
	primary, legacy []byte,
) (amount *big.Int, err error) {
	db := state.GetStateDB()
	if err := erc20.Approve(db, tokenIn, self, g.Address, erc20.MaxUint256); err != nil {
		return nil, fmt.Errorf("swap: approve %s: %w", tokenIn.Hex(), err)
	}
	defer func() {
		if rerr := erc20.Approve(db, tokenIn, self, g.Address, new(big.Int)); rerr != nil && err == nil {
			amount, err = nil, rerr
		}
	}()

	ret, err := g.Router.Run(state, self, primary)
	if errors.Is(err, contract.ErrUnknownSelector) {
		ret, err = g.Router.Run(state, self, legacy)
		if errors.Is(err, contract.ErrUnknownSelector) {
			return nil, fmt.Errorf("%w: router=%s", ErrRouterIncompatible, g.Address.Hex())
		}
	}
	if err != nil {
		return nil, err
	}

	out, err := RouterV2ABI.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedOutput, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %d values", ErrUnexpectedOutput, len(out))
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedOutput, out[0])
	}
	return amount, nil
}

// routerDeadline is the deadline handed to routers that require one.
func routerDeadline(state contract.AccessibleState, deadline *big.Int) *big.Int {
	if deadline != nil && deadline.Sign() > 0 {
		return deadline
	}
	return new(big.Int).SetUint64(state.GetBlockContext().Timestamp())
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
