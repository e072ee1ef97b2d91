// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package convert exchanges a pair of pegged stablecoins through a 1:1
// converter and refuses any conversion that does not return exactly the
// amount put in.
package convert

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/ledger"
)

var (
	ErrZeroAmount         = errors.New("convert: zero amount")
	ErrZeroAddress        = errors.New("convert: zero address")
	ErrUnsupportedToken   = errors.New("convert: token is not part of the pair")
	ErrConversionMismatch = errors.New("convert: conversion output mismatch")
	ErrDeadlineExpired    = errors.New("convert: deadline expired")
)

// MismatchError reports a conversion whose output differed from its input.
type MismatchError struct {
	From     common.Address
	To       common.Address
	Expected *big.Int
	Received *big.Int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %s -> %s expected %s, received %s",
		ErrConversionMismatch, e.From.Hex(), e.To.Hex(), e.Expected, e.Received)
}

func (e *MismatchError) Unwrap() error {
	return ErrConversionMismatch
}

// Gateway converts between DAI and USDS.
type Gateway struct {
	Converter ledger.Converter
	DAI       common.Address
	USDS      common.Address
}

// NewGateway returns a gateway over converter.
func NewGateway(converter ledger.Converter, dai, usds common.Address) (*Gateway, error) {
	if converter == nil || dai == (common.Address{}) || usds == (common.Address{}) || dai == usds {
		return nil, ErrZeroAddress
	}
	return &Gateway{Converter: converter, DAI: dai, USDS: usds}, nil
}

// IsPair reports whether a and b are the two sides of the pair, in either
// order.
func (g *Gateway) IsPair(a, b common.Address) bool {
	return (a == g.DAI && b == g.USDS) || (a == g.USDS && b == g.DAI)
}

// Counterpart returns the other side of the pair.
func (g *Gateway) Counterpart(token common.Address) (common.Address, bool) {
	switch token {
	case g.DAI:
		return g.USDS, true
	case g.USDS:
		return g.DAI, true
	default:
		return common.Address{}, false
	}
}

// ConvertBefore is Convert bounded by deadline, a unix timestamp the block
// time must not have passed. A nil or zero deadline means none.
func (g *Gateway) ConvertBefore(
	state contract.AccessibleState,
	self common.Address,
	from common.Address,
	amount *big.Int,
	deadline *big.Int,
) (*big.Int, error) {
	if deadline != nil && deadline.Sign() > 0 {
		now := new(big.Int).SetUint64(state.GetBlockContext().Timestamp())
		if now.Cmp(deadline) > 0 {
			return nil, fmt.Errorf("%w: deadline=%s now=%s", ErrDeadlineExpired, deadline, now)
		}
	}
	return g.Convert(state, self, from, amount)
}

// Convert exchanges amount of from, held by self, for its counterpart and
// returns the amount received. The converter is approved for exactly
// amount and the approval is cleared afterwards.
func (g *Gateway) Convert(
	state contract.AccessibleState,
	self common.Address,
	from common.Address,
	amount *big.Int,
) (received *big.Int, err error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	to, ok := g.Counterpart(from)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedToken, from.Hex())
	}

	db := state.GetStateDB()
	spender := g.Converter.Address()
	before := erc20.BalanceOf(db, to, self)

	if err := erc20.Approve(db, from, self, spender, amount); err != nil {
		return nil, err
	}
	defer func() {
		if rerr := erc20.Approve(db, from, self, spender, new(big.Int)); rerr != nil && err == nil {
			received, err = nil, rerr
		}
	}()

	if from == g.DAI {
		err = g.Converter.DaiToUsds(state, self, self, amount)
	} else {
		err = g.Converter.UsdsToDai(state, self, self, amount)
	}
	if err != nil {
		return nil, err
	}

	received = new(big.Int).Sub(erc20.BalanceOf(db, to, self), before)
	if received.Cmp(amount) != 0 {
		return nil, &MismatchError{From: from, To: to, Expected: new(big.Int).Set(amount), Received: received}
	}
	return received, nil
}
