// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package adapter moves a leveraged position from a source lending protocol
// into a Compound III market. One Adapter runs the same settlement pipeline
// for every source: it repays the selected debt lines, relocates the
// selected collateral and, when a flash loan funded the call, repays the
// loan and sweeps whatever is left back to the user.
//
// The pipeline acts as the account Call.Self. Tokens it acquires or
// withdraws are held there for the duration of the call; the user must have
// approved Self on the source protocol and allowed it on the Comet market.
package adapter

import (
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/convert"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/ledger"
	"github.com/luxfi/migrator/swap"
)

// MaxAmount asks for the whole current debt or collateral balance, resolved
// right before the line is touched.
var MaxAmount = new(big.Int).Set(erc20.MaxUint256)

// IsMax reports whether amount is the MaxAmount sentinel.
func IsMax(amount *big.Int) bool {
	return amount != nil && amount.Cmp(MaxAmount) == 0
}

// Stage is a step of the settlement pipeline. Stages are entered in order
// and never revisited.
type Stage uint8

const (
	StageIdle Stage = iota
	StageRepayBorrows
	StageMigrateCollateral
	StageRepayFlashLoan
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageRepayBorrows:
		return "repaying-borrows"
	case StageMigrateCollateral:
		return "migrating-collateral"
	case StageRepayFlashLoan:
		return "repaying-flash-loan"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Line identifies a debt or collateral line on the source protocol: a
// debt token or aToken address for Aave and Spark, a market id for Morpho.
type Line [32]byte

// AddressLine returns the line of a token address.
func AddressLine(addr common.Address) Line {
	var l Line
	copy(l[32-common.AddressLength:], addr[:])
	return l
}

// Address returns the token address of an address line.
func (l Line) Address() common.Address {
	return common.BytesToAddress(l[32-common.AddressLength:])
}

func (l Line) String() string {
	for _, b := range l[:32-common.AddressLength] {
		if b != 0 {
			return common.Hash(l).Hex()
		}
	}
	return l.Address().Hex()
}

// InputLimit bounds the trade that buys a debt's repayment asset. Path is
// encoded output first. An empty path means the debt asset is used as is.
type InputLimit struct {
	Path            []byte
	AmountInMaximum *big.Int
	Deadline        *big.Int
}

// OutputLimit bounds the trade that sells withdrawn collateral. Path is
// encoded input first. An empty path supplies the collateral as is.
type OutputLimit struct {
	Path             []byte
	AmountOutMinimum *big.Int
	Deadline         *big.Int
}

// Borrow is one debt line to repay.
type Borrow struct {
	Line   Line
	Amount *big.Int
	Swap   InputLimit
}

// Collateral is one collateral line to relocate.
type Collateral struct {
	Line   Line
	Amount *big.Int
	Swap   OutputLimit
}

// Position is the unit of work of one migration.
type Position struct {
	Borrows     []Borrow
	Collaterals []Collateral
}

// FlashLoan describes the loan funding a migration.
type FlashLoan struct {
	Pool  common.Address
	Token common.Address

	// Principal plus fee
	AmountOwed *big.Int

	// Balances Self held before the loan arrived
	PreBridgeBalance *big.Int
	PreBaseBalance   *big.Int
}

// Call is one invocation of the pipeline.
type Call struct {
	Self  common.Address
	User  common.Address
	Comet ledger.Comet
	Data  []byte

	// Nil when the migration is not flash funded
	Flash *FlashLoan
}

// Capabilities switch optional pipeline behavior on.
type Capabilities struct {
	// Conversion routes DAI/USDS convert paths through the converter and
	// bridges between the pair when the Comet base asset is on the other
	// side.
	Conversion bool

	// NativeWrap wraps withdrawn native collateral before it moves on.
	NativeWrap bool

	// ReentrancyGuard rejects nested executions.
	ReentrancyGuard bool
}

// Config is the immutable configuration of an adapter.
type Config struct {
	Name    string
	Address common.Address

	Router        *swap.Gateway
	Converter     *convert.Gateway
	WrappedNative common.Address

	// FullMigration requires every repaid debt line to end at zero.
	FullMigration bool

	Capabilities
}

// Debt is a debt line resolved against the source protocol.
type Debt struct {
	Line  Line
	Asset common.Address

	// Amount of Asset to acquire and repay
	Amount *big.Int

	// Shares repays by borrow shares instead of assets when non-nil
	Shares *big.Int
}

// Withdrawal is collateral released by the source protocol to Self.
type Withdrawal struct {
	Asset  common.Address
	Amount *big.Int
}

// Result summarizes a completed execution.
type Result struct {
	// Last stage entered; StageDone for a completed execution
	Stage Stage

	Borrows     int
	Collaterals int

	// Flash repayment; zero without a flash loan
	Shortfall *big.Int
	Withdrawn *big.Int
	Swept     *big.Int
}
