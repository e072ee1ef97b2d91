// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
)

// Source is the protocol specific half of an adapter: how positions are
// encoded and how debt and collateral lines are read and settled on the
// ledger being migrated away from.
type Source interface {
	// Decode parses a position payload.
	Decode(data []byte) (Position, error)

	// ResolveDebt maps a borrow line to its underlying asset and resolves
	// MaxAmount against the user's current debt.
	ResolveDebt(state contract.AccessibleState, user common.Address, b Borrow) (Debt, error)

	// Repay pays debt on behalf of user from funds held by self.
	Repay(state contract.AccessibleState, self, user common.Address, debt Debt) error

	// Outstanding returns what user still owes on the debt's line.
	Outstanding(state contract.AccessibleState, user common.Address, debt Debt) (*big.Int, error)

	// WithdrawCollateral releases a collateral line of user to self.
	WithdrawCollateral(state contract.AccessibleState, self, user common.Address, c Collateral) (Withdrawal, error)
}

// withApproval lets spender pull exactly amount of token from owner while
// fn runs and clears the allowance afterwards. The native asset moves as
// call value and needs no allowance.
func withApproval(
	db contract.StateDB,
	token, owner, spender common.Address,
	amount *big.Int,
	fn func() error,
) (err error) {
	if erc20.IsNative(token) {
		return fn()
	}
	if err := erc20.Approve(db, token, owner, spender, amount); err != nil {
		return err
	}
	defer func() {
		if rerr := erc20.Approve(db, token, owner, spender, new(big.Int)); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}
