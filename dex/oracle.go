// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
)

var oraclePricePrefix = []byte("orcl/price")

// Oracle publishes asset prices in a common numeraire, scaled by RAY per
// unit of asset. Lending contracts value collateral and debt through it.
type Oracle struct {
	address common.Address
}

// NewOracle creates an oracle deployed at addr.
func NewOracle(addr common.Address) *Oracle {
	return &Oracle{address: addr}
}

func (o *Oracle) Address() common.Address {
	return o.address
}

// SetPrice publishes the price of asset.
func (o *Oracle) SetPrice(db contract.StateDB, asset common.Address, price *big.Int) {
	contract.SetBig(db, o.address, contract.StorageKey(oraclePricePrefix, asset.Bytes()), price)
}

// Price returns the price of asset.
func (o *Oracle) Price(db contract.StateDB, asset common.Address) (*big.Int, error) {
	price := contract.GetBig(db, o.address, contract.StorageKey(oraclePricePrefix, asset.Bytes()))
	if price.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, asset.Hex())
	}
	return price, nil
}

// Value returns amount of asset in the numeraire, rounded down.
func (o *Oracle) Value(db contract.StateDB, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	price, err := o.Price(db, asset)
	if err != nil {
		return nil, err
	}
	return mulDiv(amount, price, RAY), nil
}
