// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger declares the shapes of the lending markets, converters and
// flash lenders a migration talks to. Implementations live elsewhere (see
// package dex); consumers depend only on these interfaces.
//
// Every operation receives the executing state and, when it acts on behalf
// of someone, the address of the immediate caller (msg.sender).
package ledger

import (
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
)

// VariableRateMode is the Aave interest rate mode for variable debt.
const VariableRateMode uint8 = 2

// =========================================================================
// Aave V3 / Spark
// =========================================================================

// UserReserveData is the per-user reserve view of the protocol data provider.
type UserReserveData struct {
	CurrentATokenBalance *big.Int
	CurrentStableDebt    *big.Int
	CurrentVariableDebt  *big.Int
}

// TotalDebt returns stable plus variable debt.
func (d UserReserveData) TotalDebt() *big.Int {
	total := new(big.Int)
	if d.CurrentStableDebt != nil {
		total.Add(total, d.CurrentStableDebt)
	}
	if d.CurrentVariableDebt != nil {
		total.Add(total, d.CurrentVariableDebt)
	}
	return total
}

// AavePool is an Aave V3 shaped lending pool.
type AavePool interface {
	Address() common.Address
	Repay(state contract.AccessibleState, caller, asset common.Address, amount *big.Int, rateMode uint8, onBehalfOf common.Address) (*big.Int, error)
	Withdraw(state contract.AccessibleState, caller, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error)
}

// ReserveToken covers the aToken and debt token contracts of a pool.
type ReserveToken interface {
	UnderlyingAsset(state contract.AccessibleState, token common.Address) (common.Address, error)
	BalanceOf(state contract.AccessibleState, token, holder common.Address) *big.Int
	TransferFrom(state contract.AccessibleState, token, spender, from, to common.Address, amount *big.Int) error
}

// DataProvider answers debt position queries.
type DataProvider interface {
	GetUserReserveData(state contract.AccessibleState, asset, user common.Address) (UserReserveData, error)
}

// =========================================================================
// Morpho Blue
// =========================================================================

// MarketID identifies a Morpho market.
type MarketID [32]byte

// MarketParams are the immutable parameters of a Morpho market.
type MarketParams struct {
	LoanToken       common.Address
	CollateralToken common.Address
	Oracle          common.Address
	Irm             common.Address
	LLTV            *big.Int
}

// MorphoMarket is the aggregate accounting of a market.
type MorphoMarket struct {
	TotalSupplyAssets *big.Int
	TotalSupplyShares *big.Int
	TotalBorrowAssets *big.Int
	TotalBorrowShares *big.Int
	LastUpdate        uint64
	Fee               *big.Int
}

// MorphoPosition is one user's holdings in a market.
type MorphoPosition struct {
	SupplyShares *big.Int
	BorrowShares *big.Int
	Collateral   *big.Int
}

// Morpho is a Morpho Blue shaped singleton.
type Morpho interface {
	Address() common.Address
	IdToMarketParams(state contract.AccessibleState, id MarketID) (MarketParams, error)
	AccrueInterest(state contract.AccessibleState, params MarketParams) error
	Position(state contract.AccessibleState, id MarketID, user common.Address) MorphoPosition
	Market(state contract.AccessibleState, id MarketID) MorphoMarket
	// Repay takes exactly one of assets or shares as non-zero.
	Repay(state contract.AccessibleState, caller common.Address, params MarketParams, assets, shares *big.Int, onBehalf common.Address, data []byte) (*big.Int, *big.Int, error)
	WithdrawCollateral(state contract.AccessibleState, caller common.Address, params MarketParams, assets *big.Int, onBehalf, receiver common.Address) error
}

// =========================================================================
// Compound III
// =========================================================================

// Comet is a Compound III market.
type Comet interface {
	Address() common.Address
	BaseToken() common.Address
	BaseBorrowMin() *big.Int
	BalanceOf(state contract.AccessibleState, owner common.Address) *big.Int
	BorrowBalanceOf(state contract.AccessibleState, owner common.Address) *big.Int
	CollateralBalanceOf(state contract.AccessibleState, owner, asset common.Address) *big.Int
	SupplyTo(state contract.AccessibleState, caller, dst, asset common.Address, amount *big.Int) error
	WithdrawFrom(state contract.AccessibleState, caller, src, to, asset common.Address, amount *big.Int) error
}

// =========================================================================
// Stablecoin converter
// =========================================================================

// Converter exchanges DAI and USDS one to one. The converter pulls the
// input from caller and credits usr.
type Converter interface {
	Address() common.Address
	DaiToUsds(state contract.AccessibleState, caller, usr common.Address, wad *big.Int) error
	UsdsToDai(state contract.AccessibleState, caller, usr common.Address, wad *big.Int) error
}

// =========================================================================
// Flash loans
// =========================================================================

// FlashBorrower receives the flash callback of a Uniswap V3 pool. caller is
// the pool.
type FlashBorrower interface {
	UniswapV3FlashCallback(state contract.AccessibleState, caller common.Address, fee0, fee1 *big.Int, data []byte) error
}

// FlashLender is a Uniswap V3 pool lending both of its tokens.
type FlashLender interface {
	Address() common.Address
	Token0() common.Address
	Token1() common.Address
	Flash(state contract.AccessibleState, caller common.Address, borrower FlashBorrower, recipient common.Address, amount0, amount1 *big.Int, data []byte) error
}
