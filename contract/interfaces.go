// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contract defines the state substrate shared by the migrator and
// the contracts it talks to: an EVM-shaped StateDB, the block context and
// the selector-dispatched Contract entry point.
package contract

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"
)

// StateDB is the subset of EVM state a stateful contract may touch.
// Every write is journaled so a failed call can be rolled back with
// RevertToSnapshot.
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)

	// Transient storage is cleared at the end of every transaction
	// (EIP-1153) and is used for call guards and callback bookkeeping.
	GetTransientState(addr common.Address, key common.Hash) common.Hash
	SetTransientState(addr common.Address, key common.Hash, value common.Hash)

	GetBalance(addr common.Address) *uint256.Int
	AddBalance(addr common.Address, amount *uint256.Int)
	SubBalance(addr common.Address, amount *uint256.Int)

	Exist(addr common.Address) bool
	AddLog(log *ethtypes.Log)

	Snapshot() int
	RevertToSnapshot(id int)
}

// BlockContext exposes the block being executed.
type BlockContext interface {
	Number() *big.Int
	Timestamp() uint64
}

// AccessibleState is handed to every contract operation.
type AccessibleState interface {
	GetStateDB() StateDB
	GetBlockContext() BlockContext
}

// Contract is a stateful contract reachable through ABI-encoded input.
// The first four bytes of input select the method.
type Contract interface {
	Run(state AccessibleState, caller common.Address, input []byte) ([]byte, error)
}

// Block is a static BlockContext.
type Block struct {
	Height uint64
	Time   uint64
}

func (b Block) Number() *big.Int {
	return new(big.Int).SetUint64(b.Height)
}

func (b Block) Timestamp() uint64 {
	return b.Time
}
