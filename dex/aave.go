// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/ledger"
)

var (
	_ ledger.AavePool     = (*AavePool)(nil)
	_ ledger.ReserveToken = (*AavePool)(nil)
	_ ledger.DataProvider = (*AavePool)(nil)
)

// Storage key prefixes for reserve state
var (
	aaveLiquidityIndexPrefix = []byte("aave/lidx")
	aaveBorrowIndexPrefix    = []byte("aave/bidx")
	aaveLastUpdatePrefix     = []byte("aave/last")
)

// ReserveConfig is the immutable configuration of one reserve.
type ReserveConfig struct {
	Asset     common.Address
	AToken    common.Address
	DebtToken common.Address

	// Max LTV of the asset as collateral (scaled by 1e18, e.g., 0.75e18 = 75%)
	LTV *big.Int

	// Nil means the reserve accrues no interest
	Strategy *RateStrategy
}

type tokenKind uint8

const (
	aTokenKind tokenKind = iota + 1
	debtTokenKind
)

type reserveToken struct {
	asset common.Address
	kind  tokenKind
}

// AavePool implements an Aave V3 style lending pool. Spark runs the same
// code at another address.
//
// Supply and debt are held as scaled balances of the reserve's aToken and
// variable debt token; the liquidity and borrow indices turn them into
// underlying amounts. Indices grow with block time: the liquidity index
// linearly, the borrow index compounded.
type AavePool struct {
	address common.Address
	oracle  *Oracle

	mu       sync.RWMutex
	reserves map[common.Address]*ReserveConfig
	tokens   map[common.Address]reserveToken
}

// NewAavePool creates a pool deployed at addr that values positions with
// oracle.
func NewAavePool(addr common.Address, oracle *Oracle) *AavePool {
	return &AavePool{
		address:  addr,
		oracle:   oracle,
		reserves: make(map[common.Address]*ReserveConfig),
		tokens:   make(map[common.Address]reserveToken),
	}
}

func (p *AavePool) Address() common.Address {
	return p.address
}

// =========================================================================
// Admin Functions
// =========================================================================

// InitReserve lists a new reserve.
func (p *AavePool) InitReserve(state contract.AccessibleState, cfg ReserveConfig) error {
	if cfg.AToken == (common.Address{}) || cfg.DebtToken == (common.Address{}) {
		return ErrZeroAddress
	}
	if cfg.LTV == nil || cfg.LTV.Sign() < 0 || cfg.LTV.Cmp(RAY) > 0 {
		return ErrInvalidCollateralLimit
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.reserves[cfg.Asset]; exists {
		return ErrReserveAlreadyExists
	}
	reserve := cfg
	p.reserves[cfg.Asset] = &reserve
	p.tokens[cfg.AToken] = reserveToken{asset: cfg.Asset, kind: aTokenKind}
	p.tokens[cfg.DebtToken] = reserveToken{asset: cfg.Asset, kind: debtTokenKind}

	db := state.GetStateDB()
	contract.SetBig(db, p.address, contract.StorageKey(aaveLiquidityIndexPrefix, cfg.Asset.Bytes()), RAY)
	contract.SetBig(db, p.address, contract.StorageKey(aaveBorrowIndexPrefix, cfg.Asset.Bytes()), RAY)
	contract.SetBig(db, p.address, contract.StorageKey(aaveLastUpdatePrefix, cfg.Asset.Bytes()), blockTime(state))
	return nil
}

// Reserve returns the configuration of the reserve for asset.
func (p *AavePool) Reserve(asset common.Address) (ReserveConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.reserves[asset]
	if !ok {
		return ReserveConfig{}, false
	}
	return *cfg, true
}

// =========================================================================
// Core Lending Operations
// =========================================================================

// Supply deposits amount of asset from caller and credits onBehalfOf with
// aTokens.
func (p *AavePool) Supply(
	state contract.AccessibleState,
	caller common.Address,
	asset common.Address,
	amount *big.Int,
	onBehalfOf common.Address,
) error {
	cfg, err := p.reserve(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	db := state.GetStateDB()
	liquidityIndex, _ := p.accrue(state, cfg)
	if err := pull(db, p.address, asset, caller, p.address, amount); err != nil {
		return err
	}
	return erc20.Mint(db, cfg.AToken, onBehalfOf, mulDiv(amount, RAY, liquidityIndex))
}

// Withdraw burns caller's aTokens and sends the underlying to to.
// MaxUint256 withdraws the whole balance. Returns the amount withdrawn.
func (p *AavePool) Withdraw(
	state contract.AccessibleState,
	caller common.Address,
	asset common.Address,
	amount *big.Int,
	to common.Address,
) (*big.Int, error) {
	cfg, err := p.reserve(asset)
	if err != nil {
		return nil, err
	}

	db := state.GetStateDB()
	liquidityIndex, _ := p.accrue(state, cfg)

	scaled := erc20.BalanceOf(db, cfg.AToken, caller)
	balance := mulDiv(scaled, liquidityIndex, RAY)
	if isMax(amount) {
		amount = balance
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: asset=%s balance=%s amount=%s",
			erc20.ErrInsufficientBalance, asset.Hex(), balance, amount)
	}
	if erc20.BalanceOf(db, asset, p.address).Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	burn := scaled
	if amount.Cmp(balance) != 0 {
		burn = minBig(mulDivUp(amount, RAY, liquidityIndex), scaled)
	}
	if err := erc20.Burn(db, cfg.AToken, caller, burn); err != nil {
		return nil, err
	}
	if err := p.checkHealth(state, caller); err != nil {
		return nil, err
	}
	if err := erc20.Transfer(db, asset, p.address, to, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// Borrow draws variable-rate debt against caller's collateral.
func (p *AavePool) Borrow(
	state contract.AccessibleState,
	caller common.Address,
	asset common.Address,
	amount *big.Int,
	rateMode uint8,
	onBehalfOf common.Address,
) error {
	cfg, err := p.reserve(asset)
	if err != nil {
		return err
	}
	if rateMode != ledger.VariableRateMode {
		return ErrInvalidRateMode
	}
	if onBehalfOf != caller {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	db := state.GetStateDB()
	_, borrowIndex := p.accrue(state, cfg)
	if erc20.BalanceOf(db, asset, p.address).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := erc20.Mint(db, cfg.DebtToken, caller, mulDivUp(amount, RAY, borrowIndex)); err != nil {
		return err
	}
	if err := p.checkHealth(state, caller); err != nil {
		return err
	}
	return erc20.Transfer(db, asset, p.address, caller, amount)
}

// Repay pays back up to amount of onBehalfOf's debt from caller's funds.
// MaxUint256 repays the whole debt. Returns the amount repaid.
func (p *AavePool) Repay(
	state contract.AccessibleState,
	caller common.Address,
	asset common.Address,
	amount *big.Int,
	rateMode uint8,
	onBehalfOf common.Address,
) (*big.Int, error) {
	cfg, err := p.reserve(asset)
	if err != nil {
		return nil, err
	}
	if rateMode != ledger.VariableRateMode {
		return nil, ErrInvalidRateMode
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	db := state.GetStateDB()
	_, borrowIndex := p.accrue(state, cfg)

	scaled := erc20.BalanceOf(db, cfg.DebtToken, onBehalfOf)
	debt := mulDivUp(scaled, borrowIndex, RAY)
	if debt.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}

	// Cap repayment to outstanding debt
	payback := minBig(amount, debt)
	if err := pull(db, p.address, asset, caller, p.address, payback); err != nil {
		return nil, err
	}

	burn := scaled
	if payback.Cmp(debt) != 0 {
		burn = mulDiv(payback, RAY, borrowIndex)
	}
	if err := erc20.Burn(db, cfg.DebtToken, onBehalfOf, burn); err != nil {
		return nil, err
	}
	return new(big.Int).Set(payback), nil
}

// =========================================================================
// Reserve Tokens
// =========================================================================

// UnderlyingAsset returns the reserve asset behind an aToken or debt token.
func (p *AavePool) UnderlyingAsset(_ contract.AccessibleState, token common.Address) (common.Address, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rt, ok := p.tokens[token]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownReserveToken, token.Hex())
	}
	return rt.asset, nil
}

// BalanceOf returns holder's aToken or debt balance in underlying units,
// including interest accrued up to the current block.
func (p *AavePool) BalanceOf(state contract.AccessibleState, token, holder common.Address) *big.Int {
	rt, cfg, err := p.token(token)
	if err != nil {
		return new(big.Int)
	}
	liquidityIndex, borrowIndex := p.indices(state, cfg)
	scaled := erc20.BalanceOf(state.GetStateDB(), token, holder)
	if rt.kind == debtTokenKind {
		return mulDivUp(scaled, borrowIndex, RAY)
	}
	return mulDiv(scaled, liquidityIndex, RAY)
}

// TransferFrom moves aTokens from one holder to another using spender's
// allowance. The sender must stay healthy afterwards.
func (p *AavePool) TransferFrom(
	state contract.AccessibleState,
	token, spender, from, to common.Address,
	amount *big.Int,
) error {
	rt, cfg, err := p.token(token)
	if err != nil {
		return err
	}
	if rt.kind == debtTokenKind {
		return ErrDebtNotTransferable
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	db := state.GetStateDB()
	liquidityIndex, _ := p.accrue(state, cfg)

	scaled := erc20.BalanceOf(db, token, from)
	balance := mulDiv(scaled, liquidityIndex, RAY)
	if amount.Cmp(balance) > 0 {
		return fmt.Errorf("%w: token=%s holder=%s balance=%s amount=%s",
			erc20.ErrInsufficientBalance, token.Hex(), from.Hex(), balance, amount)
	}

	// Allowances are kept in underlying units
	if spender != from {
		allowance := erc20.Allowance(db, token, from, spender)
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: token=%s owner=%s spender=%s allowance=%s amount=%s",
				erc20.ErrInsufficientAllowance, token.Hex(), from.Hex(), spender.Hex(), allowance, amount)
		}
		if !isMax(allowance) {
			if err := erc20.Approve(db, token, from, spender, new(big.Int).Sub(allowance, amount)); err != nil {
				return err
			}
		}
	}

	move := scaled
	if amount.Cmp(balance) != 0 {
		move = minBig(mulDivUp(amount, RAY, liquidityIndex), scaled)
	}
	if err := erc20.Transfer(db, token, from, to, move); err != nil {
		return err
	}
	return p.checkHealth(state, from)
}

// GetUserReserveData is the protocol data provider view of a user's
// position in one reserve. This pool only issues variable-rate debt.
func (p *AavePool) GetUserReserveData(
	state contract.AccessibleState,
	asset, user common.Address,
) (ledger.UserReserveData, error) {
	cfg, err := p.reserve(asset)
	if err != nil {
		return ledger.UserReserveData{}, err
	}
	return ledger.UserReserveData{
		CurrentATokenBalance: p.BalanceOf(state, cfg.AToken, user),
		CurrentStableDebt:    new(big.Int),
		CurrentVariableDebt:  p.BalanceOf(state, cfg.DebtToken, user),
	}, nil
}

// =========================================================================
// Internal Functions
// =========================================================================

func (p *AavePool) reserve(asset common.Address) (*ReserveConfig, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.reserves[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReserveNotFound, asset.Hex())
	}
	return cfg, nil
}

func (p *AavePool) token(token common.Address) (reserveToken, *ReserveConfig, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rt, ok := p.tokens[token]
	if !ok {
		return reserveToken{}, nil, fmt.Errorf("%w: %s", ErrUnknownReserveToken, token.Hex())
	}
	return rt, p.reserves[rt.asset], nil
}

// indices returns the reserve indices projected to the current block time
// without writing them.
func (p *AavePool) indices(state contract.AccessibleState, cfg *ReserveConfig) (liquidityIndex, borrowIndex *big.Int) {
	db := state.GetStateDB()
	liquidityIndex = contract.GetBig(db, p.address, contract.StorageKey(aaveLiquidityIndexPrefix, cfg.Asset.Bytes()))
	borrowIndex = contract.GetBig(db, p.address, contract.StorageKey(aaveBorrowIndexPrefix, cfg.Asset.Bytes()))
	last := contract.GetBig(db, p.address, contract.StorageKey(aaveLastUpdatePrefix, cfg.Asset.Bytes())).Uint64()

	now := state.GetBlockContext().Timestamp()
	if now <= last || cfg.Strategy == nil {
		return liquidityIndex, borrowIndex
	}

	elapsed := now - last
	totalDebt := mulDivUp(erc20.TotalSupply(db, cfg.DebtToken), borrowIndex, RAY)
	if totalDebt.Sign() == 0 {
		return liquidityIndex, borrowIndex
	}
	available := erc20.BalanceOf(db, cfg.Asset, p.address)
	_, borrowRate, liquidityRate := cfg.Strategy.Rates(available, totalDebt)

	return mulDiv(liquidityIndex, linearInterest(liquidityRate, elapsed), RAY),
		mulDiv(borrowIndex, compoundedInterest(borrowRate, elapsed), RAY)
}

// accrue brings the reserve indices up to the current block time.
func (p *AavePool) accrue(state contract.AccessibleState, cfg *ReserveConfig) (liquidityIndex, borrowIndex *big.Int) {
	liquidityIndex, borrowIndex = p.indices(state, cfg)

	db := state.GetStateDB()
	contract.SetBig(db, p.address, contract.StorageKey(aaveLiquidityIndexPrefix, cfg.Asset.Bytes()), liquidityIndex)
	contract.SetBig(db, p.address, contract.StorageKey(aaveBorrowIndexPrefix, cfg.Asset.Bytes()), borrowIndex)
	contract.SetBig(db, p.address, contract.StorageKey(aaveLastUpdatePrefix, cfg.Asset.Bytes()), blockTime(state))
	return liquidityIndex, borrowIndex
}

// checkHealth fails when user's LTV-weighted collateral no longer covers
// their debt.
func (p *AavePool) checkHealth(state contract.AccessibleState, user common.Address) error {
	p.mu.RLock()
	assets := make([]common.Address, 0, len(p.reserves))
	for asset := range p.reserves {
		assets = append(assets, asset)
	}
	p.mu.RUnlock()
	sort.Slice(assets, func(i, j int) bool {
		return bytes.Compare(assets[i][:], assets[j][:]) < 0
	})

	db := state.GetStateDB()
	collateral := new(big.Int)
	debt := new(big.Int)
	for _, asset := range assets {
		cfg, err := p.reserve(asset)
		if err != nil {
			return err
		}
		supplied := p.BalanceOf(state, cfg.AToken, user)
		if supplied.Sign() > 0 && cfg.LTV.Sign() > 0 {
			value, err := p.oracle.Value(db, asset, supplied)
			if err != nil {
				return err
			}
			collateral.Add(collateral, mulDiv(value, cfg.LTV, RAY))
		}
		borrowed := p.BalanceOf(state, cfg.DebtToken, user)
		if borrowed.Sign() > 0 {
			value, err := p.oracle.Value(db, asset, borrowed)
			if err != nil {
				return err
			}
			debt.Add(debt, value)
		}
	}
	if debt.Cmp(collateral) > 0 {
		return fmt.Errorf("%w: user=%s collateral=%s debt=%s",
			ErrHealthFactorTooLow, user.Hex(), collateral, debt)
	}
	return nil
}

func blockTime(state contract.AccessibleState) *big.Int {
	return new(big.Int).SetUint64(state.GetBlockContext().Timestamp())
}
