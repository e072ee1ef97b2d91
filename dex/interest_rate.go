// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"math/big"
)

// SecondsPerYear is the year annual rates are spread over.
const SecondsPerYear = 365 * 24 * 60 * 60

// RateStrategy is an Aave V3 style variable rate strategy. All fields are
// annual rates or ratios scaled by RAY.
//
// Below the optimal usage ratio the borrow rate climbs along Slope1; past
// it the remaining usage is priced along the much steeper Slope2.
type RateStrategy struct {
	OptimalUsageRatio      *big.Int
	BaseVariableBorrowRate *big.Int
	VariableRateSlope1     *big.Int
	VariableRateSlope2     *big.Int

	// Share of interest kept by the protocol
	ReserveFactor *big.Int
}

func ratio(n int64) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(big.NewInt(n), RAY), big.NewInt(100))
}

// DefaultRateStrategy is the strategy of a volatile reserve: 80% optimal
// usage, 4% and 75% slopes, 10% reserve factor.
func DefaultRateStrategy() *RateStrategy {
	return &RateStrategy{
		OptimalUsageRatio:      ratio(80),
		BaseVariableBorrowRate: new(big.Int),
		VariableRateSlope1:     ratio(4),
		VariableRateSlope2:     ratio(75),
		ReserveFactor:          ratio(10),
	}
}

// StablecoinRateStrategy runs stable reserves hotter: 90% optimal usage
// and a 60% second slope.
func StablecoinRateStrategy() *RateStrategy {
	return &RateStrategy{
		OptimalUsageRatio:      ratio(90),
		BaseVariableBorrowRate: new(big.Int),
		VariableRateSlope1:     ratio(4),
		VariableRateSlope2:     ratio(60),
		ReserveFactor:          ratio(10),
	}
}

// Rates returns the usage ratio of a reserve holding available liquidity
// against debt, and the annual variable borrow and liquidity rates that
// follow from it.
func (s *RateStrategy) Rates(available, debt *big.Int) (usage, borrowRate, liquidityRate *big.Int) {
	borrowRate = new(big.Int).Set(s.BaseVariableBorrowRate)
	if debt.Sign() == 0 {
		return new(big.Int), borrowRate, new(big.Int)
	}
	usage = mulDiv(debt, RAY, new(big.Int).Add(available, debt))

	if usage.Cmp(s.OptimalUsageRatio) > 0 {
		excess := mulDiv(new(big.Int).Sub(usage, s.OptimalUsageRatio), RAY, new(big.Int).Sub(RAY, s.OptimalUsageRatio))
		borrowRate.Add(borrowRate, s.VariableRateSlope1)
		borrowRate.Add(borrowRate, mulDiv(s.VariableRateSlope2, excess, RAY))
	} else {
		borrowRate.Add(borrowRate, mulDiv(s.VariableRateSlope1, usage, s.OptimalUsageRatio))
	}

	liquidityRate = mulDiv(mulDiv(borrowRate, usage, RAY), new(big.Int).Sub(RAY, s.ReserveFactor), RAY)
	return usage, borrowRate, liquidityRate
}

// linearInterest is the factor a liquidity index grows by over elapsed
// seconds at an annual rate.
func linearInterest(rate *big.Int, elapsed uint64) *big.Int {
	growth := new(big.Int).Mul(rate, new(big.Int).SetUint64(elapsed))
	growth.Div(growth, big.NewInt(SecondsPerYear))
	return growth.Add(growth, RAY)
}

// compoundedInterest approximates (1 + rate/year)^elapsed with the first
// three terms of its binomial expansion, rounding down.
func compoundedInterest(rate *big.Int, elapsed uint64) *big.Int {
	if elapsed == 0 || rate.Sign() == 0 {
		return new(big.Int).Set(RAY)
	}
	exp := new(big.Int).SetUint64(elapsed)
	expMinusOne := new(big.Int).SetUint64(elapsed - 1)
	expMinusTwo := new(big.Int)
	if elapsed > 2 {
		expMinusTwo.SetUint64(elapsed - 2)
	}

	perSecond := new(big.Int).Div(rate, big.NewInt(SecondsPerYear))
	powerTwo := mulDiv(perSecond, perSecond, RAY)
	powerThree := mulDiv(powerTwo, perSecond, RAY)

	second := new(big.Int).Mul(exp, expMinusOne)
	second.Mul(second, powerTwo).Div(second, big.NewInt(2))

	third := new(big.Int).Mul(exp, expMinusOne)
	third.Mul(third, expMinusTwo).Mul(third, powerThree).Div(third, big.NewInt(6))

	factor := new(big.Int).Mul(perSecond, exp)
	factor.Add(factor, RAY).Add(factor, second).Add(factor, third)
	return factor
}
