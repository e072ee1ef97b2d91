// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
)

// Position payloads are ABI encoded as a single tuple argument. Aave and
// Spark lines are token addresses; Morpho lines are market ids.
var (
	aavePositionArgs   = positionArguments("address", "debtToken", "aToken", "amount")
	morphoPositionArgs = positionArguments("bytes32", "marketId", "marketId", "assetsAmount")
)

func positionArguments(lineType, borrowLine, collateralLine, amount string) abi.Arguments {
	inputLimit := []abi.ArgumentMarshaling{
		{Name: "path", Type: "bytes"},
		{Name: "amountInMaximum", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	}
	outputLimit := []abi.ArgumentMarshaling{
		{Name: "path", Type: "bytes"},
		{Name: "amountOutMinimum", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	}
	typ, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "borrows", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: borrowLine, Type: lineType},
			{Name: amount, Type: "uint256"},
			{Name: "swapParams", Type: "tuple", Components: inputLimit},
		}},
		{Name: "collaterals", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: collateralLine, Type: lineType},
			{Name: amount, Type: "uint256"},
			{Name: "swapParams", Type: "tuple", Components: outputLimit},
		}},
	})
	if err != nil {
		panic(fmt.Sprintf("adapter: position ABI: %v", err))
	}
	return abi.Arguments{{Name: "position", Type: typ}}
}

type inputLimitABI struct {
	Path            []byte
	AmountInMaximum *big.Int
	Deadline        *big.Int
}

type outputLimitABI struct {
	Path             []byte
	AmountOutMinimum *big.Int
	Deadline         *big.Int
}

type aaveBorrowABI struct {
	DebtToken  common.Address
	Amount     *big.Int
	SwapParams inputLimitABI
}

type aaveCollateralABI struct {
	AToken     common.Address
	Amount     *big.Int
	SwapParams outputLimitABI
}

type aavePositionABI struct {
	Borrows     []aaveBorrowABI
	Collaterals []aaveCollateralABI
}

type morphoBorrowABI struct {
	MarketId     [32]byte
	AssetsAmount *big.Int
	SwapParams   inputLimitABI
}

type morphoCollateralABI struct {
	MarketId     [32]byte
	AssetsAmount *big.Int
	SwapParams   outputLimitABI
}

type morphoPositionABI struct {
	Borrows     []morphoBorrowABI
	Collaterals []morphoCollateralABI
}

// EncodeAavePosition encodes an Aave or Spark position payload.
func EncodeAavePosition(pos Position) ([]byte, error) {
	enc := aavePositionABI{
		Borrows:     make([]aaveBorrowABI, 0, len(pos.Borrows)),
		Collaterals: make([]aaveCollateralABI, 0, len(pos.Collaterals)),
	}
	for _, b := range pos.Borrows {
		enc.Borrows = append(enc.Borrows, aaveBorrowABI{
			DebtToken:  b.Line.Address(),
			Amount:     orZero(b.Amount),
			SwapParams: encodeInputLimit(b.Swap),
		})
	}
	for _, c := range pos.Collaterals {
		enc.Collaterals = append(enc.Collaterals, aaveCollateralABI{
			AToken:     c.Line.Address(),
			Amount:     orZero(c.Amount),
			SwapParams: encodeOutputLimit(c.Swap),
		})
	}
	return aavePositionArgs.Pack(enc)
}

// DecodeAavePosition decodes an Aave or Spark position payload.
func DecodeAavePosition(data []byte) (pos Position, err error) {
	var dec aavePositionABI
	if err := unpackPosition(aavePositionArgs, data, &dec); err != nil {
		return Position{}, err
	}
	for _, b := range dec.Borrows {
		pos.Borrows = append(pos.Borrows, Borrow{
			Line:   AddressLine(b.DebtToken),
			Amount: b.Amount,
			Swap:   InputLimit(b.SwapParams),
		})
	}
	for _, c := range dec.Collaterals {
		pos.Collaterals = append(pos.Collaterals, Collateral{
			Line:   AddressLine(c.AToken),
			Amount: c.Amount,
			Swap:   OutputLimit(c.SwapParams),
		})
	}
	return pos, nil
}

// EncodeMorphoPosition encodes a Morpho position payload.
func EncodeMorphoPosition(pos Position) ([]byte, error) {
	enc := morphoPositionABI{
		Borrows:     make([]morphoBorrowABI, 0, len(pos.Borrows)),
		Collaterals: make([]morphoCollateralABI, 0, len(pos.Collaterals)),
	}
	for _, b := range pos.Borrows {
		enc.Borrows = append(enc.Borrows, morphoBorrowABI{
			MarketId:     b.Line,
			AssetsAmount: orZero(b.Amount),
			SwapParams:   encodeInputLimit(b.Swap),
		})
	}
	for _, c := range pos.Collaterals {
		enc.Collaterals = append(enc.Collaterals, morphoCollateralABI{
			MarketId:     c.Line,
			AssetsAmount: orZero(c.Amount),
			SwapParams:   encodeOutputLimit(c.Swap),
		})
	}
	return morphoPositionArgs.Pack(enc)
}

// DecodeMorphoPosition decodes a Morpho position payload.
func DecodeMorphoPosition(data []byte) (pos Position, err error) {
	var dec morphoPositionABI
	if err := unpackPosition(morphoPositionArgs, data, &dec); err != nil {
		return Position{}, err
	}
	for _, b := range dec.Borrows {
		pos.Borrows = append(pos.Borrows, Borrow{
			Line:   Line(b.MarketId),
			Amount: b.AssetsAmount,
			Swap:   InputLimit(b.SwapParams),
		})
	}
	for _, c := range dec.Collaterals {
		pos.Collaterals = append(pos.Collaterals, Collateral{
			Line:   Line(c.MarketId),
			Amount: c.AssetsAmount,
			Swap:   OutputLimit(c.SwapParams),
		})
	}
	return pos, nil
}

// unpackPosition decodes data into out, a pointer to one of the payload
// structs. The ABI type is fixed, so a conversion failure means the payload
// was not produced by the matching encoder.
func unpackPosition(args abi.Arguments, data []byte, out interface{}) (err error) {
	values, err := args.Unpack(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	if len(values) != 1 {
		return fmt.Errorf("%w: %d values", ErrInvalidPosition, len(values))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidPosition, r)
		}
	}()
	abi.ConvertType(values[0], out)
	return nil
}

func encodeInputLimit(l InputLimit) inputLimitABI {
	return inputLimitABI{
		Path:            nonNilBytes(l.Path),
		AmountInMaximum: orZero(l.AmountInMaximum),
		Deadline:        orZero(l.Deadline),
	}
}

func encodeOutputLimit(l OutputLimit) outputLimitABI {
	return outputLimitABI{
		Path:             nonNilBytes(l.Path),
		AmountOutMinimum: orZero(l.AmountOutMinimum),
		Deadline:         orZero(l.Deadline),
	}
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
