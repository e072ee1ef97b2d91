// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/ledger"
)

var _ ledger.Converter = (*DaiUsds)(nil)

// DaiUsds converts DAI and USDS one to one. The input is pulled from the
// caller through its allowance and burned; the output is minted to usr.
type DaiUsds struct {
	address common.Address
	dai     common.Address
	usds    common.Address
}

// NewDaiUsds creates a converter at addr between dai and usds.
func NewDaiUsds(addr, dai, usds common.Address) *DaiUsds {
	return &DaiUsds{address: addr, dai: dai, usds: usds}
}

func (d *DaiUsds) Address() common.Address {
	return d.address
}

func (d *DaiUsds) Dai() common.Address {
	return d.dai
}

func (d *DaiUsds) Usds() common.Address {
	return d.usds
}

// DaiToUsds takes wad DAI from caller and mints wad USDS to usr.
func (d *DaiUsds) DaiToUsds(state contract.AccessibleState, caller, usr common.Address, wad *big.Int) error {
	return d.exchange(state.GetStateDB(), d.dai, d.usds, caller, usr, wad)
}

// UsdsToDai takes wad USDS from caller and mints wad DAI to usr.
func (d *DaiUsds) UsdsToDai(state contract.AccessibleState, caller, usr common.Address, wad *big.Int) error {
	return d.exchange(state.GetStateDB(), d.usds, d.dai, caller, usr, wad)
}

func (d *DaiUsds) exchange(db contract.StateDB, from, to, caller, usr common.Address, wad *big.Int) error {
	if wad == nil || wad.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := erc20.TransferFrom(db, from, d.address, caller, d.address, wad); err != nil {
		return err
	}
	if err := erc20.Burn(db, from, d.address, wad); err != nil {
		return err
	}
	return erc20.Mint(db, to, usr, wad)
}
