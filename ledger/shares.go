// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import "math/big"

// Morpho share accounting adds virtual shares and assets to every market so
// the first depositor cannot inflate the share price.
var (
	VirtualShares = big.NewInt(1_000_000)
	VirtualAssets = big.NewInt(1)
)

// ToAssetsUp converts shares to assets, rounding up.
func ToAssetsUp(shares, totalAssets, totalShares *big.Int) *big.Int {
	num := new(big.Int).Mul(shares, new(big.Int).Add(totalAssets, VirtualAssets))
	return mulDivUp(num, new(big.Int).Add(totalShares, VirtualShares))
}

// ToAssetsDown converts shares to assets, rounding down.
func ToAssetsDown(shares, totalAssets, totalShares *big.Int) *big.Int {
	num := new(big.Int).Mul(shares, new(big.Int).Add(totalAssets, VirtualAssets))
	return num.Div(num, new(big.Int).Add(totalShares, VirtualShares))
}

// ToSharesUp converts assets to shares, rounding up.
func ToSharesUp(assets, totalAssets, totalShares *big.Int) *big.Int {
	num := new(big.Int).Mul(assets, new(big.Int).Add(totalShares, VirtualShares))
	return mulDivUp(num, new(big.Int).Add(totalAssets, VirtualAssets))
}

// ToSharesDown converts assets to shares, rounding down.
func ToSharesDown(assets, totalAssets, totalShares *big.Int) *big.Int {
	num := new(big.Int).Mul(assets, new(big.Int).Add(totalShares, VirtualShares))
	return num.Div(num, new(big.Int).Add(totalAssets, VirtualAssets))
}

func mulDivUp(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
