// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package modules keeps the contracts of a deployment by address, so the
// deployment config can refer to them.
package modules

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/geth/common"
)

var (
	ErrNotReserved      = errors.New("modules: address not in a reserved range")
	ErrAddressInUse     = errors.New("modules: address already registered")
	ErrKeyInUse         = errors.New("modules: config key already registered")
	ErrModuleNotFound   = errors.New("modules: no module at address")
	ErrUnexpectedModule = errors.New("modules: module has the wrong type")
)

// AddressRange represents a continuous range of addresses
type AddressRange struct {
	Start common.Address
	End   common.Address
}

// Contains returns true iff [addr] is contained within the (inclusive)
// range of addresses defined by [a].
func (a *AddressRange) Contains(addr common.Address) bool {
	addrBytes := addr.Bytes()
	return bytes.Compare(addrBytes, a.Start[:]) >= 0 && bytes.Compare(addrBytes, a.End[:]) <= 0
}

// BlackholeAddr is the address where assets are burned
var BlackholeAddr = common.Address{
	1, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

var (
	// LP-9xxx: DEX/Markets (0x0..9000 - 0x0..9FFF)
	reservedRanges = []AddressRange{
		{
			Start: common.HexToAddress("0x0000000000000000000000000000000000009000"),
			End:   common.HexToAddress("0x0000000000000000000000000000000000009fff"),
		},
	}

	// Dead/Burn Addresses (LP-0150)
	deadAddresses = []common.Address{
		{},
		common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		common.HexToAddress("0xdEaD000000000000000000000000000000000000"),
	}
)

// ReservedAddress returns true if [addr] is in a reserved range for market
// contracts.
func ReservedAddress(addr common.Address) bool {
	for _, reservedRange := range reservedRanges {
		if reservedRange.Contains(addr) {
			return true
		}
	}
	return false
}

// Module is one deployed contract.
type Module struct {
	// ConfigKey names the module in deployment configs
	ConfigKey string
	Address   common.Address
	Contract  interface{}
}

type moduleArray []Module

func (u moduleArray) Len() int           { return len(u) }
func (u moduleArray) Swap(i, j int)      { u[i], u[j] = u[j], u[i] }
func (u moduleArray) Less(i, j int) bool { return bytes.Compare(u[i].Address[:], u[j].Address[:]) < 0 }

// Registry holds the modules of one deployment, ordered by address.
type Registry struct {
	mu      sync.RWMutex
	modules []Module
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds stm. Its address must be reserved, live and unused, and its
// config key unused.
func (r *Registry) Register(stm Module) error {
	address := stm.Address
	key := stm.ConfigKey

	if address == BlackholeAddr {
		return fmt.Errorf("%w: %s overlaps with blackhole address", ErrNotReserved, address)
	}
	for _, dead := range deadAddresses {
		if address == dead {
			return fmt.Errorf("%w: %s is a burn address", ErrNotReserved, address)
		}
	}
	if !ReservedAddress(address) {
		return fmt.Errorf("%w: %s", ErrNotReserved, address)
	}
	if stm.Contract == nil {
		return fmt.Errorf("%w: %s has no contract", ErrUnexpectedModule, address)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, registered := range r.modules {
		if key != "" && registered.ConfigKey == key {
			return fmt.Errorf("%w: %s", ErrKeyInUse, key)
		}
		if registered.Address == address {
			return fmt.Errorf("%w: %s", ErrAddressInUse, address)
		}
	}
	// sort by address to ensure deterministic iteration
	r.modules = insertSortedByAddress(r.modules, stm)
	return nil
}

func (r *Registry) ByAddress(address common.Address) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, stm := range r.modules {
		if stm.Address == address {
			return stm, true
		}
	}
	return Module{}, false
}

func (r *Registry) ByKey(key string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, stm := range r.modules {
		if stm.ConfigKey == key {
			return stm, true
		}
	}
	return Module{}, false
}

// Modules returns the registered modules in address order.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Module(nil), r.modules...)
}

// Lookup returns the contract at address as a T.
func Lookup[T any](r *Registry, address common.Address) (T, error) {
	var zero T
	stm, ok := r.ByAddress(address)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrModuleNotFound, address.Hex())
	}
	c, ok := stm.Contract.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrUnexpectedModule, address.Hex(), stm.Contract)
	}
	return c, nil
}

func insertSortedByAddress(data []Module, stm Module) []Module {
	data = append(data, stm)
	sort.Sort(moduleArray(data))
	return data
}
