// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// Errors - Configuration
var (
	ErrZeroAddress      = errors.New("adapter: zero address")
	ErrMissingRouter    = errors.New("adapter: no swap router configured")
	ErrMissingConverter = errors.New("adapter: conversion enabled without a converter")
	ErrMissingSource    = errors.New("adapter: no source protocol")
)

// Errors - Preconditions
var (
	ErrZeroAmount      = errors.New("adapter: zero amount")
	ErrInvalidSlippage = errors.New("adapter: swap without an input bound")
	ErrPathMismatch    = errors.New("adapter: swap path does not match asset")
	ErrInvalidPosition = errors.New("adapter: malformed position payload")
)

// Errors - Execution
var (
	ErrReentrant      = errors.New("adapter: reentrant call")
	ErrDebtNotCleared = errors.New("adapter: debt not cleared")
	ErrBridgeMismatch = errors.New("adapter: flash token cannot settle against comet base asset")
)

// StageError reports the pipeline stage, and the position line if any,
// where an execution failed.
type StageError struct {
	Stage Stage

	// Kind is "borrow" or "collateral" when a line failed
	Kind  string
	Index int
	Line  Line

	Err error
}

func (e *StageError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("adapter: %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("adapter: %s: %s %d (%s): %v", e.Stage, e.Kind, e.Index, e.Line, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// DebtNotClearedError reports a debt line left open in full migration mode.
type DebtNotClearedError struct {
	Line      Line
	Asset     common.Address
	Remaining *big.Int
}

func (e *DebtNotClearedError) Error() string {
	return fmt.Sprintf("%s: line %s asset %s remaining %s", ErrDebtNotCleared, e.Line, e.Asset.Hex(), e.Remaining)
}

func (e *DebtNotClearedError) Unwrap() error {
	return ErrDebtNotCleared
}
