// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/ledger"
)

var _ Source = (*MorphoSource)(nil)

// MorphoSource settles Morpho Blue positions. Both borrow and collateral
// lines are market ids. Collateral is released through Morpho's
// authorization, so the user must have authorized the adapter.
type MorphoSource struct {
	Morpho ledger.Morpho
}

// NewMorphoSource returns a source over a Morpho singleton.
func NewMorphoSource(morpho ledger.Morpho) (*MorphoSource, error) {
	if morpho == nil {
		return nil, ErrMissingSource
	}
	return &MorphoSource{Morpho: morpho}, nil
}

func (s *MorphoSource) Decode(data []byte) (Position, error) {
	return DecodeMorphoPosition(data)
}

// ResolveDebt accrues the market first so share math sees current totals.
// MaxAmount repays by shares, with the asset amount rounded up.
func (s *MorphoSource) ResolveDebt(state contract.AccessibleState, user common.Address, b Borrow) (Debt, error) {
	id := ledger.MarketID(b.Line)
	params, err := s.Morpho.IdToMarketParams(state, id)
	if err != nil {
		return Debt{}, err
	}
	if err := s.Morpho.AccrueInterest(state, params); err != nil {
		return Debt{}, err
	}

	debt := Debt{Line: b.Line, Asset: params.LoanToken}
	if IsMax(b.Amount) {
		shares := s.Morpho.Position(state, id, user).BorrowShares
		if shares == nil || shares.Sign() == 0 {
			return Debt{}, fmt.Errorf("%w: no debt in market %s", ErrZeroAmount, b.Line)
		}
		market := s.Morpho.Market(state, id)
		debt.Shares = new(big.Int).Set(shares)
		debt.Amount = ledger.ToAssetsUp(shares, market.TotalBorrowAssets, market.TotalBorrowShares)
		return debt, nil
	}
	if b.Amount == nil || b.Amount.Sign() <= 0 {
		return Debt{}, ErrZeroAmount
	}
	debt.Amount = new(big.Int).Set(b.Amount)
	return debt, nil
}

func (s *MorphoSource) Repay(state contract.AccessibleState, self, user common.Address, debt Debt) error {
	params, err := s.Morpho.IdToMarketParams(state, ledger.MarketID(debt.Line))
	if err != nil {
		return err
	}
	assets, shares := debt.Amount, new(big.Int)
	if debt.Shares != nil {
		assets, shares = new(big.Int), debt.Shares
	}
	return withApproval(state.GetStateDB(), debt.Asset, self, s.Morpho.Address(), debt.Amount, func() error {
		_, _, err := s.Morpho.Repay(state, self, params, assets, shares, user, nil)
		return err
	})
}

// Outstanding converts the user's remaining borrow shares to assets,
// rounding up.
func (s *MorphoSource) Outstanding(state contract.AccessibleState, user common.Address, debt Debt) (*big.Int, error) {
	id := ledger.MarketID(debt.Line)
	shares := s.Morpho.Position(state, id, user).BorrowShares
	if shares == nil || shares.Sign() == 0 {
		return new(big.Int), nil
	}
	market := s.Morpho.Market(state, id)
	return ledger.ToAssetsUp(shares, market.TotalBorrowAssets, market.TotalBorrowShares), nil
}

func (s *MorphoSource) WithdrawCollateral(state contract.AccessibleState, self, user common.Address, c Collateral) (Withdrawal, error) {
	id := ledger.MarketID(c.Line)
	params, err := s.Morpho.IdToMarketParams(state, id)
	if err != nil {
		return Withdrawal{}, err
	}
	amount := c.Amount
	if IsMax(amount) {
		amount = s.Morpho.Position(state, id, user).Collateral
	}
	if amount == nil || amount.Sign() <= 0 {
		return Withdrawal{}, fmt.Errorf("%w: no collateral in market %s", ErrZeroAmount, c.Line)
	}
	amount = new(big.Int).Set(amount)
	if err := s.Morpho.WithdrawCollateral(state, self, params, amount, user, self); err != nil {
		return Withdrawal{}, err
	}
	return Withdrawal{Asset: params.CollateralToken, Amount: amount}, nil
}
