// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
)

// Uniswap V3 router interfaces. SwapRouter02 dropped the deadline field from
// the trade parameters; the original SwapRouter still carries it.
const (
	routerV2ABIJSON = `[
	{"type":"function","name":"exactInput","stateMutability":"payable",
	 "inputs":[{"name":"params","type":"tuple","components":[
		{"name":"path","type":"bytes"},
		{"name":"recipient","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMinimum","type":"uint256"}]}],
	 "outputs":[{"name":"amountOut","type":"uint256"}]},
	{"type":"function","name":"exactOutput","stateMutability":"payable",
	 "inputs":[{"name":"params","type":"tuple","components":[
		{"name":"path","type":"bytes"},
		{"name":"recipient","type":"address"},
		{"name":"amountOut","type":"uint256"},
		{"name":"amountInMaximum","type":"uint256"}]}],
	 "outputs":[{"name":"amountIn","type":"uint256"}]}
]`

	routerLegacyABIJSON = `[
	{"type":"function","name":"exactInput","stateMutability":"payable",
	 "inputs":[{"name":"params","type":"tuple","components":[
		{"name":"path","type":"bytes"},
		{"name":"recipient","type":"address"},
		{"name":"deadline","type":"uint256"},
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMinimum","type":"uint256"}]}],
	 "outputs":[{"name":"amountOut","type":"uint256"}]},
	{"type":"function","name":"exactOutput","stateMutability":"payable",
	 "inputs":[{"name":"params","type":"tuple","components":[
		{"name":"path","type":"bytes"},
		{"name":"recipient","type":"address"},
		{"name":"deadline","type":"uint256"},
		{"name":"amountOut","type":"uint256"},
		{"name":"amountInMaximum","type":"uint256"}]}],
	 "outputs":[{"name":"amountIn","type":"uint256"}]}
]`
)

// Router method names
const (
	MethodExactInput  = "exactInput"
	MethodExactOutput = "exactOutput"
)

var (
	// RouterV2ABI is the SwapRouter02 interface.
	RouterV2ABI = contract.ParseABI(routerV2ABIJSON)
	// RouterLegacyABI is the original SwapRouter interface.
	RouterLegacyABI = contract.ParseABI(routerLegacyABIJSON)
)

// ExactInputParams is the SwapRouter02 exactInput argument.
type ExactInputParams struct {
	Path             []byte
	Recipient        common.Address
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

// ExactOutputParams is the SwapRouter02 exactOutput argument.
type ExactOutputParams struct {
	Path            []byte
	Recipient       common.Address
	AmountOut       *big.Int
	AmountInMaximum *big.Int
}

// LegacyExactInputParams is the SwapRouter exactInput argument.
type LegacyExactInputParams struct {
	Path             []byte
	Recipient        common.Address
	Deadline         *big.Int
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

// LegacyExactOutputParams is the SwapRouter exactOutput argument.
type LegacyExactOutputParams struct {
	Path            []byte
	Recipient       common.Address
	Deadline        *big.Int
	AmountOut       *big.Int
	AmountInMaximum *big.Int
}
