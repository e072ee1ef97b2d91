// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package migrator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/migrator/contract"
)

const (
	MethodMigrate          = "migrate"
	EventMigrationExecuted = "MigrationExecuted"
)

const migratorABIJSON = `[
	{
		"type": "function",
		"name": "migrate",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "adapter", "type": "address"},
			{"name": "comet", "type": "address"},
			{"name": "migrationData", "type": "bytes"},
			{"name": "flashAmount", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"type": "event",
		"name": "MigrationExecuted",
		"anonymous": false,
		"inputs": [
			{"name": "adapter", "type": "address", "indexed": true},
			{"name": "user", "type": "address", "indexed": true},
			{"name": "comet", "type": "address", "indexed": true},
			{"name": "flashAmount", "type": "uint256", "indexed": false},
			{"name": "flashFee", "type": "uint256", "indexed": false}
		]
	}
]`

// MigratorABI is the external interface of the migrator.
var MigratorABI = contract.ParseABI(migratorABIJSON)

var _ contract.Contract = (*Migrator)(nil)

// Run dispatches an ABI call. The caller is the user whose position is
// migrated.
func (m *Migrator) Run(state contract.AccessibleState, caller common.Address, input []byte) ([]byte, error) {
	method, args, err := MigratorABI.DecodeCall(input)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case MethodMigrate:
		if len(args) != 4 {
			return nil, fmt.Errorf("%w: migrate takes 4 arguments", ErrMalformedInput)
		}
		adapterAddr, ok1 := args[0].(common.Address)
		cometAddr, ok2 := args[1].(common.Address)
		data, ok3 := args[2].([]byte)
		flashAmount, ok4 := args[3].(*big.Int)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, ErrMalformedInput
		}
		if _, err := m.Migrate(context.Background(), state, caller, adapterAddr, cometAddr, data, flashAmount); err != nil {
			return nil, err
		}
		return MigratorABI.PackOutput(method.Name)
	default:
		return nil, fmt.Errorf("%w: %s", contract.ErrUnknownSelector, method.Name)
	}
}

// Flash callback payload: user, adapter, comet, flash amount, position.
var callbackArgs = func() abi.Arguments {
	addressT, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uintT, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	bytesT, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{
		{Name: "user", Type: addressT},
		{Name: "adapter", Type: addressT},
		{Name: "comet", Type: addressT},
		{Name: "flashAmount", Type: uintT},
		{Name: "migrationData", Type: bytesT},
	}
}()

type callbackPayload struct {
	User        common.Address
	Adapter     common.Address
	Comet       common.Address
	FlashAmount *big.Int
	Data        []byte
}

func (p callbackPayload) encode() ([]byte, error) {
	return callbackArgs.Pack(p.User, p.Adapter, p.Comet, p.FlashAmount, p.Data)
}

func decodeCallbackPayload(data []byte) (callbackPayload, error) {
	values, err := callbackArgs.Unpack(data)
	if err != nil {
		return callbackPayload{}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	var p callbackPayload
	var ok [5]bool
	p.User, ok[0] = values[0].(common.Address)
	p.Adapter, ok[1] = values[1].(common.Address)
	p.Comet, ok[2] = values[2].(common.Address)
	p.FlashAmount, ok[3] = values[3].(*big.Int)
	p.Data, ok[4] = values[4].([]byte)
	for _, good := range ok {
		if !good {
			return callbackPayload{}, fmt.Errorf("%w: malformed payload", ErrInvalidCallback)
		}
	}
	return p, nil
}
