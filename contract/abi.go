// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"
)

var (
	ErrInputTooShort    = errors.New("input too short")
	ErrUnknownSelector  = errors.New("unknown method selector")
	ErrUnknownMethod    = errors.New("abi: unknown method")
	ErrUnknownEvent     = errors.New("abi: unknown event")
	ErrUnalignedInput   = errors.New("abi: calldata is not word aligned")
	ErrUnsupportedTopic = errors.New("abi: unsupported indexed argument")
)

// ExtendedABI is a parsed ABI with the calldata and log helpers shared by
// Run implementations.
type ExtendedABI struct {
	abi.ABI
}

// ParseABI parses rawABI. It panics on malformed JSON and is meant for
// package level ABI variables.
func ParseABI(rawABI string) ExtendedABI {
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		panic(fmt.Sprintf("contract: parse ABI: %v", err))
	}
	return ExtendedABI{ABI: parsed}
}

// MethodFor resolves the method addressed by the selector of input.
func (e ExtendedABI) MethodFor(input []byte) (*abi.Method, error) {
	if len(input) < 4 {
		return nil, ErrInputTooShort
	}
	method, err := e.MethodById(input[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %x", ErrUnknownSelector, input[:4])
	}
	return method, nil
}

// DecodeCall resolves the method of input and unpacks its arguments.
// Arguments must fill whole 32 byte words.
func (e ExtendedABI) DecodeCall(input []byte) (*abi.Method, []interface{}, error) {
	method, err := e.MethodFor(input)
	if err != nil {
		return nil, nil, err
	}
	body := input[4:]
	if len(body)%32 != 0 {
		return nil, nil, fmt.Errorf("%w: %d bytes after %s selector", ErrUnalignedInput, len(body), method.Name)
	}
	args, err := method.Inputs.Unpack(body)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack %s: %w", method.Name, err)
	}
	return method, args, nil
}

// PackOutput encodes the return values of method name, without selector.
func (e ExtendedABI) PackOutput(name string, args ...interface{}) ([]byte, error) {
	method, ok := e.Methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	return method.Outputs.Pack(args...)
}

// PackEvent builds the topics and data of event name. args follow the
// event's input order; indexed ones become topics.
func (e ExtendedABI) PackEvent(name string, args ...interface{}) ([]common.Hash, []byte, error) {
	event, ok := e.Events[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	if len(args) != len(event.Inputs) {
		return nil, nil, fmt.Errorf("event %s takes %d arguments, got %d", name, len(event.Inputs), len(args))
	}

	var topics []common.Hash
	if !event.Anonymous {
		topics = append(topics, event.ID)
	}
	var (
		dataArgs   abi.Arguments
		dataValues []interface{}
	)
	for i, input := range event.Inputs {
		if !input.Indexed {
			dataArgs = append(dataArgs, input)
			dataValues = append(dataValues, args[i])
			continue
		}
		topic, err := topicOf(args[i])
		if err != nil {
			return nil, nil, fmt.Errorf("event %s argument %s: %w", name, input.Name, err)
		}
		topics = append(topics, topic)
	}

	data, err := dataArgs.Pack(dataValues...)
	if err != nil {
		return nil, nil, fmt.Errorf("pack event %s: %w", name, err)
	}
	return topics, data, nil
}

// EmitEvent packs event name and appends it to the logs of db, emitted by
// addr.
func (e ExtendedABI) EmitEvent(db StateDB, addr common.Address, name string, args ...interface{}) error {
	topics, data, err := e.PackEvent(name, args...)
	if err != nil {
		return err
	}
	db.AddLog(&ethtypes.Log{Address: addr, Topics: topics, Data: data})
	return nil
}

// topicOf encodes an indexed event argument. Dynamic values are hashed.
func topicOf(value interface{}) (common.Hash, error) {
	switch v := value.(type) {
	case common.Address:
		return common.BytesToHash(v.Bytes()), nil
	case common.Hash:
		return v, nil
	case *big.Int:
		if v.Sign() < 0 {
			return common.Hash{}, fmt.Errorf("%w: negative integer", ErrUnsupportedTopic)
		}
		return common.BigToHash(v), nil
	case *uint256.Int:
		return common.Hash(v.Bytes32()), nil
	case bool:
		var h common.Hash
		if v {
			h[common.HashLength-1] = 1
		}
		return h, nil
	case []byte:
		return common.BytesToHash(crypto.Keccak256(v)), nil
	case string:
		return common.BytesToHash(crypto.Keccak256([]byte(v))), nil
	default:
		return common.Hash{}, fmt.Errorf("%w: %T", ErrUnsupportedTopic, value)
	}
}
