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

var _ Source = (*AaveSource)(nil)

// AaveSource settles Aave V3 and Spark positions. Borrow lines are variable
// debt tokens and collateral lines are aTokens; the user must have approved
// the adapter on every aToken it migrates.
type AaveSource struct {
	Pool   ledger.AavePool
	Tokens ledger.ReserveToken
	Data   ledger.DataProvider
}

// NewAaveSource returns a source over one Aave or Spark deployment.
func NewAaveSource(pool ledger.AavePool, tokens ledger.ReserveToken, data ledger.DataProvider) (*AaveSource, error) {
	if pool == nil || tokens == nil || data == nil {
		return nil, ErrMissingSource
	}
	return &AaveSource{Pool: pool, Tokens: tokens, Data: data}, nil
}

func (s *AaveSource) Decode(data []byte) (Position, error) {
	return DecodeAavePosition(data)
}

func (s *AaveSource) ResolveDebt(state contract.AccessibleState, user common.Address, b Borrow) (Debt, error) {
	debtToken := b.Line.Address()
	asset, err := s.Tokens.UnderlyingAsset(state, debtToken)
	if err != nil {
		return Debt{}, err
	}
	amount := b.Amount
	if IsMax(amount) {
		amount = s.Tokens.BalanceOf(state, debtToken, user)
	}
	if amount == nil || amount.Sign() <= 0 {
		return Debt{}, fmt.Errorf("%w: no debt on %s", ErrZeroAmount, debtToken.Hex())
	}
	return Debt{Line: b.Line, Asset: asset, Amount: new(big.Int).Set(amount)}, nil
}

func (s *AaveSource) Repay(state contract.AccessibleState, self, user common.Address, debt Debt) error {
	return withApproval(state.GetStateDB(), debt.Asset, self, s.Pool.Address(), debt.Amount, func() error {
		_, err := s.Pool.Repay(state, self, debt.Asset, debt.Amount, ledger.VariableRateMode, user)
		return err
	})
}

// Outstanding reads stable plus variable debt from the data provider.
func (s *AaveSource) Outstanding(state contract.AccessibleState, user common.Address, debt Debt) (*big.Int, error) {
	data, err := s.Data.GetUserReserveData(state, debt.Asset, user)
	if err != nil {
		return nil, err
	}
	return data.TotalDebt(), nil
}

// WithdrawCollateral pulls the aTokens from user and redeems them for the
// underlying asset.
func (s *AaveSource) WithdrawCollateral(state contract.AccessibleState, self, user common.Address, c Collateral) (Withdrawal, error) {
	aToken := c.Line.Address()
	asset, err := s.Tokens.UnderlyingAsset(state, aToken)
	if err != nil {
		return Withdrawal{}, err
	}
	amount := c.Amount
	if IsMax(amount) {
		amount = s.Tokens.BalanceOf(state, aToken, user)
	}
	if amount == nil || amount.Sign() <= 0 {
		return Withdrawal{}, fmt.Errorf("%w: no collateral on %s", ErrZeroAmount, aToken.Hex())
	}

	if err := s.Tokens.TransferFrom(state, aToken, self, user, self, amount); err != nil {
		return Withdrawal{}, err
	}
	withdrawn, err := s.Pool.Withdraw(state, self, asset, amount, self)
	if err != nil {
		return Withdrawal{}, err
	}
	return Withdrawal{Asset: asset, Amount: withdrawn}, nil
}
