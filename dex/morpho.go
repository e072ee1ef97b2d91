// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/ledger"
)

var _ ledger.Morpho = (*Morpho)(nil)

// Storage key prefixes for Morpho state
var (
	morphoParamsPrefix   = []byte("mrph/prm")
	morphoMarketPrefix   = []byte("mrph/mkt")
	morphoPositionPrefix = []byte("mrph/pos")
	morphoAuthPrefix     = []byte("mrph/auth")
)

// Market and position fields
var (
	fieldTotalSupplyAssets = []byte{0}
	fieldTotalSupplyShares = []byte{1}
	fieldTotalBorrowAssets = []byte{2}
	fieldTotalBorrowShares = []byte{3}
	fieldLastUpdate        = []byte{4}
	fieldFee               = []byte{5}

	fieldSupplyShares = []byte{0}
	fieldBorrowShares = []byte{1}
	fieldCollateral   = []byte{2}

	fieldLoanToken       = []byte{0}
	fieldCollateralToken = []byte{1}
	fieldOracle          = []byte{2}
	fieldIrm             = []byte{3}
	fieldLLTV            = []byte{4}
)

// Morpho implements a Morpho Blue style singleton of isolated markets.
// Each market lends one loan token against one collateral token; supply
// and borrow positions are shares of the market totals.
type Morpho struct {
	address common.Address
	oracle  *Oracle

	mu sync.RWMutex
	// Borrow rate per second (scaled by 1e18) of each enabled IRM
	irms map[common.Address]*big.Int
}

// NewMorpho creates a Morpho singleton deployed at addr.
func NewMorpho(addr common.Address, oracle *Oracle) *Morpho {
	return &Morpho{
		address: addr,
		oracle:  oracle,
		irms:    make(map[common.Address]*big.Int),
	}
}

func (m *Morpho) Address() common.Address {
	return m.address
}

// MarketIDOf returns the id of the market with params: the keccak256 of
// the ABI-encoded parameters.
func MarketIDOf(params ledger.MarketParams) ledger.MarketID {
	buf := make([]byte, 0, 5*32)
	buf = append(buf, common.LeftPadBytes(params.LoanToken.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(params.CollateralToken.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(params.Oracle.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(params.Irm.Bytes(), 32)...)
	lltv := contract.BigToWord(params.LLTV)
	buf = append(buf, lltv[:]...)

	var id ledger.MarketID
	copy(id[:], crypto.Keccak256(buf))
	return id
}

// =========================================================================
// Admin Functions
// =========================================================================

// EnableIrm enables an interest rate model charging ratePerSecond.
func (m *Morpho) EnableIrm(irm common.Address, ratePerSecond *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.irms[irm] = new(big.Int).Set(ratePerSecond)
}

// CreateMarket creates the market for params.
func (m *Morpho) CreateMarket(state contract.AccessibleState, params ledger.MarketParams) (ledger.MarketID, error) {
	if params.Irm == (common.Address{}) {
		return ledger.MarketID{}, ErrZeroAddress
	}
	if _, ok := m.irmRate(params.Irm); !ok {
		return ledger.MarketID{}, fmt.Errorf("%w: %s", ErrIrmNotEnabled, params.Irm.Hex())
	}
	if params.LLTV == nil || params.LLTV.Sign() <= 0 || params.LLTV.Cmp(RAY) >= 0 {
		return ledger.MarketID{}, ErrInvalidCollateralLimit
	}

	id := MarketIDOf(params)
	db := state.GetStateDB()
	if m.created(db, id) {
		return ledger.MarketID{}, ErrMarketAlreadyCreated
	}

	db.SetState(m.address, m.paramsKey(id, fieldLoanToken), common.BytesToHash(params.LoanToken.Bytes()))
	db.SetState(m.address, m.paramsKey(id, fieldCollateralToken), common.BytesToHash(params.CollateralToken.Bytes()))
	db.SetState(m.address, m.paramsKey(id, fieldOracle), common.BytesToHash(params.Oracle.Bytes()))
	db.SetState(m.address, m.paramsKey(id, fieldIrm), common.BytesToHash(params.Irm.Bytes()))
	contract.SetBig(db, m.address, m.paramsKey(id, fieldLLTV), params.LLTV)

	m.storeMarket(db, id, ledger.MorphoMarket{
		TotalSupplyAssets: new(big.Int),
		TotalSupplyShares: new(big.Int),
		TotalBorrowAssets: new(big.Int),
		TotalBorrowShares: new(big.Int),
		LastUpdate:        state.GetBlockContext().Timestamp(),
		Fee:               new(big.Int),
	})
	return id, nil
}

// SetAuthorization lets authorized manage caller's positions.
func (m *Morpho) SetAuthorization(state contract.AccessibleState, caller, authorized common.Address, isAuthorized bool) {
	var value common.Hash
	if isAuthorized {
		value[31] = 1
	}
	state.GetStateDB().SetState(m.address, contract.StorageKey(morphoAuthPrefix, caller.Bytes(), authorized.Bytes()), value)
}

// IsAuthorized reports whether who may manage owner's positions.
func (m *Morpho) IsAuthorized(state contract.AccessibleState, owner, who common.Address) bool {
	if owner == who {
		return true
	}
	value := state.GetStateDB().GetState(m.address, contract.StorageKey(morphoAuthPrefix, owner.Bytes(), who.Bytes()))
	return value != (common.Hash{})
}

// =========================================================================
// Core Operations
// =========================================================================

// Supply lends assets of the loan token on behalf of onBehalf and returns
// the shares minted.
func (m *Morpho) Supply(
	state contract.AccessibleState,
	caller common.Address,
	params ledger.MarketParams,
	assets *big.Int,
	onBehalf common.Address,
) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	id, err := m.accrue(state, params)
	if err != nil {
		return nil, err
	}

	db := state.GetStateDB()
	market := m.loadMarket(db, id)
	shares := ledger.ToSharesDown(assets, market.TotalSupplyAssets, market.TotalSupplyShares)

	pos := m.loadPosition(db, id, onBehalf)
	pos.SupplyShares.Add(pos.SupplyShares, shares)
	market.TotalSupplyShares.Add(market.TotalSupplyShares, shares)
	market.TotalSupplyAssets.Add(market.TotalSupplyAssets, assets)
	m.storePosition(db, id, onBehalf, pos)
	m.storeMarket(db, id, market)

	if err := pull(db, m.address, params.LoanToken, caller, m.address, assets); err != nil {
		return nil, err
	}
	return shares, nil
}

// SupplyCollateral deposits collateral on behalf of onBehalf.
func (m *Morpho) SupplyCollateral(
	state contract.AccessibleState,
	caller common.Address,
	params ledger.MarketParams,
	assets *big.Int,
	onBehalf common.Address,
) error {
	if assets == nil || assets.Sign() <= 0 {
		return ErrInvalidAmount
	}
	id := MarketIDOf(params)
	db := state.GetStateDB()
	if !m.created(db, id) {
		return ErrMarketNotCreated
	}

	pos := m.loadPosition(db, id, onBehalf)
	pos.Collateral.Add(pos.Collateral, assets)
	m.storePosition(db, id, onBehalf, pos)

	return pull(db, m.address, params.CollateralToken, caller, m.address, assets)
}

// Borrow draws assets of the loan token against onBehalf's collateral and
// returns the borrow shares minted.
func (m *Morpho) Borrow(
	state contract.AccessibleState,
	caller common.Address,
	params ledger.MarketParams,
	assets *big.Int,
	onBehalf, receiver common.Address,
) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !m.IsAuthorized(state, onBehalf, caller) {
		return nil, ErrUnauthorized
	}
	id, err := m.accrue(state, params)
	if err != nil {
		return nil, err
	}

	db := state.GetStateDB()
	market := m.loadMarket(db, id)
	shares := ledger.ToSharesUp(assets, market.TotalBorrowAssets, market.TotalBorrowShares)

	pos := m.loadPosition(db, id, onBehalf)
	pos.BorrowShares.Add(pos.BorrowShares, shares)
	market.TotalBorrowShares.Add(market.TotalBorrowShares, shares)
	market.TotalBorrowAssets.Add(market.TotalBorrowAssets, assets)
	if market.TotalBorrowAssets.Cmp(market.TotalSupplyAssets) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	m.storePosition(db, id, onBehalf, pos)
	m.storeMarket(db, id, market)

	if err := m.checkHealth(db, params, market, pos); err != nil {
		return nil, err
	}
	if err := erc20.Transfer(db, params.LoanToken, m.address, receiver, assets); err != nil {
		return nil, err
	}
	return shares, nil
}

// Repay pays back onBehalf's debt. Exactly one of assets and shares must be
// non-zero; repaying by shares rounds the assets owed up. Returns the
// assets and shares repaid.
func (m *Morpho) Repay(
	state contract.AccessibleState,
	caller common.Address,
	params ledger.MarketParams,
	assets, shares *big.Int,
	onBehalf common.Address,
	_ []byte,
) (*big.Int, *big.Int, error) {
	if !exactlyOneZero(assets, shares) {
		return nil, nil, ErrInconsistentInput
	}
	id, err := m.accrue(state, params)
	if err != nil {
		return nil, nil, err
	}

	db := state.GetStateDB()
	market := m.loadMarket(db, id)
	if isZero(shares) {
		shares = ledger.ToSharesDown(assets, market.TotalBorrowAssets, market.TotalBorrowShares)
	} else {
		assets = ledger.ToAssetsUp(shares, market.TotalBorrowAssets, market.TotalBorrowShares)
	}

	pos := m.loadPosition(db, id, onBehalf)
	if pos.BorrowShares.Cmp(shares) < 0 {
		return nil, nil, fmt.Errorf("%w: borrow shares=%s repay shares=%s",
			ErrInsufficientPosition, pos.BorrowShares, shares)
	}
	pos.BorrowShares.Sub(pos.BorrowShares, shares)
	market.TotalBorrowShares.Sub(market.TotalBorrowShares, shares)
	market.TotalBorrowAssets = zeroFloorSub(market.TotalBorrowAssets, assets)
	m.storePosition(db, id, onBehalf, pos)
	m.storeMarket(db, id, market)

	if err := pull(db, m.address, params.LoanToken, caller, m.address, assets); err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(assets), new(big.Int).Set(shares), nil
}

// WithdrawCollateral releases onBehalf's collateral to receiver. caller
// must be onBehalf or authorized by it.
func (m *Morpho) WithdrawCollateral(
	state contract.AccessibleState,
	caller common.Address,
	params ledger.MarketParams,
	assets *big.Int,
	onBehalf, receiver common.Address,
) error {
	if assets == nil || assets.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !m.IsAuthorized(state, onBehalf, caller) {
		return fmt.Errorf("%w: %s may not manage %s", ErrUnauthorized, caller.Hex(), onBehalf.Hex())
	}
	id, err := m.accrue(state, params)
	if err != nil {
		return err
	}

	db := state.GetStateDB()
	pos := m.loadPosition(db, id, onBehalf)
	if pos.Collateral.Cmp(assets) < 0 {
		return fmt.Errorf("%w: collateral=%s withdraw=%s", ErrInsufficientCollateral, pos.Collateral, assets)
	}
	pos.Collateral.Sub(pos.Collateral, assets)
	m.storePosition(db, id, onBehalf, pos)

	if err := m.checkHealth(db, params, m.loadMarket(db, id), pos); err != nil {
		return err
	}
	return erc20.Transfer(db, params.CollateralToken, m.address, receiver, assets)
}

// AccrueInterest brings the market's borrow and supply totals up to the
// current block time.
func (m *Morpho) AccrueInterest(state contract.AccessibleState, params ledger.MarketParams) error {
	_, err := m.accrue(state, params)
	return err
}

// =========================================================================
// View Functions
// =========================================================================

// IdToMarketParams returns the parameters of market id.
func (m *Morpho) IdToMarketParams(state contract.AccessibleState, id ledger.MarketID) (ledger.MarketParams, error) {
	db := state.GetStateDB()
	if !m.created(db, id) {
		return ledger.MarketParams{}, fmt.Errorf("%w: %x", ErrMarketNotCreated, id[:])
	}
	return ledger.MarketParams{
		LoanToken:       common.BytesToAddress(db.GetState(m.address, m.paramsKey(id, fieldLoanToken)).Bytes()),
		CollateralToken: common.BytesToAddress(db.GetState(m.address, m.paramsKey(id, fieldCollateralToken)).Bytes()),
		Oracle:          common.BytesToAddress(db.GetState(m.address, m.paramsKey(id, fieldOracle)).Bytes()),
		Irm:             common.BytesToAddress(db.GetState(m.address, m.paramsKey(id, fieldIrm)).Bytes()),
		LLTV:            contract.GetBig(db, m.address, m.paramsKey(id, fieldLLTV)),
	}, nil
}

// Position returns user's position in market id as last stored.
func (m *Morpho) Position(state contract.AccessibleState, id ledger.MarketID, user common.Address) ledger.MorphoPosition {
	return m.loadPosition(state.GetStateDB(), id, user)
}

// Market returns the totals of market id as of its last accrual.
func (m *Morpho) Market(state contract.AccessibleState, id ledger.MarketID) ledger.MorphoMarket {
	return m.loadMarket(state.GetStateDB(), id)
}

// =========================================================================
// Internal Functions
// =========================================================================

func (m *Morpho) irmRate(irm common.Address) (*big.Int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rate, ok := m.irms[irm]
	return rate, ok
}

func (m *Morpho) accrue(state contract.AccessibleState, params ledger.MarketParams) (ledger.MarketID, error) {
	id := MarketIDOf(params)
	db := state.GetStateDB()
	if !m.created(db, id) {
		return id, fmt.Errorf("%w: %x", ErrMarketNotCreated, id[:])
	}

	market := m.loadMarket(db, id)
	now := state.GetBlockContext().Timestamp()
	if now <= market.LastUpdate {
		return id, nil
	}
	elapsed := now - market.LastUpdate

	rate, _ := m.irmRate(params.Irm)
	if rate != nil && rate.Sign() > 0 && market.TotalBorrowAssets.Sign() > 0 {
		interest := new(big.Int).Mul(market.TotalBorrowAssets, rate)
		interest.Mul(interest, new(big.Int).SetUint64(elapsed))
		interest.Div(interest, RAY)
		market.TotalBorrowAssets.Add(market.TotalBorrowAssets, interest)
		market.TotalSupplyAssets.Add(market.TotalSupplyAssets, interest)
	}
	market.LastUpdate = now
	m.storeMarket(db, id, market)
	return id, nil
}

// checkHealth fails when the position's debt exceeds its collateral value
// discounted by the market's LLTV.
func (m *Morpho) checkHealth(db contract.StateDB, params ledger.MarketParams, market ledger.MorphoMarket, pos ledger.MorphoPosition) error {
	if pos.BorrowShares.Sign() == 0 {
		return nil
	}
	borrowed := ledger.ToAssetsUp(pos.BorrowShares, market.TotalBorrowAssets, market.TotalBorrowShares)
	debtValue, err := m.oracle.Value(db, params.LoanToken, borrowed)
	if err != nil {
		return err
	}
	collateralValue, err := m.oracle.Value(db, params.CollateralToken, pos.Collateral)
	if err != nil {
		return err
	}
	maxBorrow := mulDiv(collateralValue, params.LLTV, RAY)
	if debtValue.Cmp(maxBorrow) > 0 {
		return fmt.Errorf("%w: debt=%s max=%s", ErrInsufficientCollateral, debtValue, maxBorrow)
	}
	return nil
}

func (m *Morpho) created(db contract.StateDB, id ledger.MarketID) bool {
	return db.GetState(m.address, m.paramsKey(id, fieldIrm)) != (common.Hash{})
}

func (m *Morpho) paramsKey(id ledger.MarketID, field []byte) common.Hash {
	return contract.StorageKey(morphoParamsPrefix, id[:], field)
}

func (m *Morpho) marketKey(id ledger.MarketID, field []byte) common.Hash {
	return contract.StorageKey(morphoMarketPrefix, id[:], field)
}

func (m *Morpho) positionKey(id ledger.MarketID, user common.Address, field []byte) common.Hash {
	return contract.StorageKey(morphoPositionPrefix, id[:], user.Bytes(), field)
}

func (m *Morpho) loadMarket(db contract.StateDB, id ledger.MarketID) ledger.MorphoMarket {
	return ledger.MorphoMarket{
		TotalSupplyAssets: contract.GetBig(db, m.address, m.marketKey(id, fieldTotalSupplyAssets)),
		TotalSupplyShares: contract.GetBig(db, m.address, m.marketKey(id, fieldTotalSupplyShares)),
		TotalBorrowAssets: contract.GetBig(db, m.address, m.marketKey(id, fieldTotalBorrowAssets)),
		TotalBorrowShares: contract.GetBig(db, m.address, m.marketKey(id, fieldTotalBorrowShares)),
		LastUpdate:        contract.GetBig(db, m.address, m.marketKey(id, fieldLastUpdate)).Uint64(),
		Fee:               contract.GetBig(db, m.address, m.marketKey(id, fieldFee)),
	}
}

func (m *Morpho) storeMarket(db contract.StateDB, id ledger.MarketID, market ledger.MorphoMarket) {
	contract.SetBig(db, m.address, m.marketKey(id, fieldTotalSupplyAssets), market.TotalSupplyAssets)
	contract.SetBig(db, m.address, m.marketKey(id, fieldTotalSupplyShares), market.TotalSupplyShares)
	contract.SetBig(db, m.address, m.marketKey(id, fieldTotalBorrowAssets), market.TotalBorrowAssets)
	contract.SetBig(db, m.address, m.marketKey(id, fieldTotalBorrowShares), market.TotalBorrowShares)
	contract.SetBig(db, m.address, m.marketKey(id, fieldLastUpdate), new(big.Int).SetUint64(market.LastUpdate))
	contract.SetBig(db, m.address, m.marketKey(id, fieldFee), market.Fee)
}

func (m *Morpho) loadPosition(db contract.StateDB, id ledger.MarketID, user common.Address) ledger.MorphoPosition {
	return ledger.MorphoPosition{
		SupplyShares: contract.GetBig(db, m.address, m.positionKey(id, user, fieldSupplyShares)),
		BorrowShares: contract.GetBig(db, m.address, m.positionKey(id, user, fieldBorrowShares)),
		Collateral:   contract.GetBig(db, m.address, m.positionKey(id, user, fieldCollateral)),
	}
}

func (m *Morpho) storePosition(db contract.StateDB, id ledger.MarketID, user common.Address, pos ledger.MorphoPosition) {
	contract.SetBig(db, m.address, m.positionKey(id, user, fieldSupplyShares), pos.SupplyShares)
	contract.SetBig(db, m.address, m.positionKey(id, user, fieldBorrowShares), pos.BorrowShares)
	contract.SetBig(db, m.address, m.positionKey(id, user, fieldCollateral), pos.Collateral)
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

func exactlyOneZero(a, b *big.Int) bool {
	return isZero(a) != isZero(b)
}

func zeroFloorSub(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(a, b)
}
