// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dex implements the Lux DeFi contracts a position migration runs
// against: an Aave V3 style lending pool, a Morpho Blue style singleton, a
// Compound III market, a Uniswap V3 style router and flash pool, and the
// DAI/USDS converter. Every balance and position lives in the StateDB, so
// reverting a snapshot reverts every contract at once.
package dex

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
)

// Default deployment addresses
const (
	LXOracleAddress    = "0x0000000000000000000000000000000000009011" // price oracle
	LXRouterAddress    = "0x0000000000000000000000000000000000009012" // swap router
	LXFlashAddress     = "0x0000000000000000000000000000000000009014" // flash pool
	LXLendAddress      = "0x0000000000000000000000000000000000009050" // Aave V3 pool
	LXSparkAddress     = "0x0000000000000000000000000000000000009051" // Spark pool
	LXMorphoAddress    = "0x0000000000000000000000000000000000009052" // Morpho Blue
	LXCometAddress     = "0x0000000000000000000000000000000000009053" // Comet USDC
	LXMigratorAddress  = "0x0000000000000000000000000000000000009060" // position migrator
	LXAaveAdapter      = "0x0000000000000000000000000000000000009061" // Aave V3 adapter
	LXSparkAdapter     = "0x0000000000000000000000000000000000009062" // Spark adapter
	LXMorphoAdapter    = "0x0000000000000000000000000000000000009063" // Morpho adapter
	LXConverterAddress = "0x0000000000000000000000000000000000009080" // DAI/USDS
)

// Fixed-point scales
var (
	// RAY is the 1e18 fixed-point unit used for indices, rates and prices.
	RAY = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// FeeDenominator is the unit of Uniswap fee pips (1e6 = 100%).
	FeeDenominator = big.NewInt(1_000_000)
)

// Errors - Lending
var (
	ErrReserveNotFound        = errors.New("reserve not found")
	ErrReserveAlreadyExists   = errors.New("reserve already exists")
	ErrReserveNotActive       = errors.New("reserve not active")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrHealthFactorTooLow     = errors.New("health factor below minimum")
	ErrNoDebtToRepay          = errors.New("no debt to repay")
	ErrInvalidRateMode        = errors.New("invalid interest rate mode")
	ErrUnknownReserveToken    = errors.New("unknown reserve token")
	ErrDebtNotTransferable    = errors.New("debt tokens are not transferable")
	ErrInvalidCollateralLimit = errors.New("invalid collateral factor")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrZeroAddress            = errors.New("zero address")
)

// Errors - Morpho
var (
	ErrMarketNotCreated       = errors.New("market not created")
	ErrMarketAlreadyCreated   = errors.New("market already created")
	ErrIrmNotEnabled          = errors.New("irm not enabled")
	ErrInconsistentInput      = errors.New("inconsistent input")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInsufficientPosition   = errors.New("insufficient position")
)

// Errors - Comet
var (
	ErrBorrowTooSmall    = errors.New("borrow too small")
	ErrNotCollateralized = errors.New("not collateralized")
	ErrUnsupportedAsset  = errors.New("unsupported asset")
)

// Errors - Router and flash
var (
	ErrNoQuote            = errors.New("no quote for pair")
	ErrTooLittleReceived  = errors.New("too little received")
	ErrTooMuchRequested   = errors.New("too much requested")
	ErrTransactionTooOld  = errors.New("transaction too old")
	ErrFlashLoanNotRepaid = errors.New("flash loan not repaid")
	ErrReentrant          = errors.New("reentrancy detected")
	ErrNoPrice            = errors.New("no price for asset")
)

// pull moves amount of asset from owner into a contract. ERC-20 assets go
// through the contract's allowance; the native asset is taken as call value.
func pull(db contract.StateDB, spender, asset, owner, to common.Address, amount *big.Int) error {
	if erc20.IsNative(asset) {
		return erc20.Transfer(db, asset, owner, to, amount)
	}
	return erc20.TransferFrom(db, asset, spender, owner, to, amount)
}

func mulDiv(a, b, den *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Div(out, den)
}

func mulDivUp(a, b, den *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return a
	}
	return b
}

func isMax(v *big.Int) bool {
	return v != nil && v.Cmp(erc20.MaxUint256) == 0
}
