// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"
)

var (
	_ StateDB         = (*State)(nil)
	_ AccessibleState = (*State)(nil)
)

// Key prefixes inside the backing database
var (
	storagePrefix = []byte("s")
	balancePrefix = []byte("b")
	accountPrefix = []byte("a")
)

var (
	ErrBalanceUnderflow = errors.New("native balance underflow")
	ErrInvalidSnapshot  = errors.New("invalid snapshot id")
)

// State is a journaled StateDB over a key/value database. Writes go
// straight to the database; the journal remembers previous values so
// RevertToSnapshot can restore them.
//
// State is not safe for concurrent use. Independent transactions should
// each use their own State.
type State struct {
	db    database.Database
	block BlockContext

	transient map[common.Address]map[common.Hash]common.Hash
	logs      []*ethtypes.Log

	journal   []journalEntry
	snapshots []int

	// first database failure, latched
	dbErr error
}

// NewState creates a State over db executing in the given block.
func NewState(db database.Database, block BlockContext) *State {
	return &State{
		db:        db,
		block:     block,
		transient: make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (s *State) GetStateDB() StateDB {
	return s
}

func (s *State) GetBlockContext() BlockContext {
	return s.block
}

// SetBlock moves execution to another block.
func (s *State) SetBlock(block BlockContext) {
	s.block = block
}

// Error returns the first database failure seen by this State.
func (s *State) Error() error {
	return s.dbErr
}

// Logs returns the logs emitted since the last Finalise.
func (s *State) Logs() []*ethtypes.Log {
	return s.logs
}

// Finalise ends the current transaction: transient storage and logs are
// discarded and the journal is cleared, making all writes permanent.
func (s *State) Finalise() {
	s.transient = make(map[common.Address]map[common.Hash]common.Hash)
	s.logs = nil
	s.journal = s.journal[:0]
	s.snapshots = s.snapshots[:0]
}

// =========================================================================
// Storage
// =========================================================================

func (s *State) GetState(addr common.Address, key common.Hash) common.Hash {
	data := s.get(dbKey(storagePrefix, addr.Bytes(), key.Bytes()))
	return common.BytesToHash(data)
}

func (s *State) SetState(addr common.Address, key common.Hash, value common.Hash) {
	s.touch(addr)
	k := dbKey(storagePrefix, addr.Bytes(), key.Bytes())
	if value == (common.Hash{}) {
		s.del(k)
		return
	}
	s.put(k, value.Bytes())
}

func (s *State) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	slots, ok := s.transient[addr]
	if !ok {
		return common.Hash{}
	}
	return slots[key]
}

func (s *State) SetTransientState(addr common.Address, key common.Hash, value common.Hash) {
	slots, ok := s.transient[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		s.transient[addr] = slots
	}
	s.journal = append(s.journal, transientChange{addr: addr, key: key, prev: slots[key]})
	slots[key] = value
}

// =========================================================================
// Native balances
// =========================================================================

func (s *State) GetBalance(addr common.Address) *uint256.Int {
	data := s.get(dbKey(balancePrefix, addr.Bytes()))
	return new(uint256.Int).SetBytes(data)
}

func (s *State) AddBalance(addr common.Address, amount *uint256.Int) {
	balance := s.GetBalance(addr)
	balance.Add(balance, amount)
	s.setBalance(addr, balance)
}

func (s *State) SubBalance(addr common.Address, amount *uint256.Int) {
	balance := s.GetBalance(addr)
	if balance.Lt(amount) {
		s.setError(fmt.Errorf("%w: %s has %s, needs %s", ErrBalanceUnderflow, addr.Hex(), balance, amount))
		return
	}
	balance.Sub(balance, amount)
	s.setBalance(addr, balance)
}

func (s *State) setBalance(addr common.Address, balance *uint256.Int) {
	s.touch(addr)
	k := dbKey(balancePrefix, addr.Bytes())
	if balance.IsZero() {
		s.del(k)
		return
	}
	word := balance.Bytes32()
	s.put(k, word[:])
}

func (s *State) Exist(addr common.Address) bool {
	return s.get(dbKey(accountPrefix, addr.Bytes())) != nil
}

func (s *State) touch(addr common.Address) {
	k := dbKey(accountPrefix, addr.Bytes())
	if s.get(k) == nil {
		s.put(k, []byte{1})
	}
}

// =========================================================================
// Logs
// =========================================================================

func (s *State) AddLog(log *ethtypes.Log) {
	if s.block != nil {
		log.BlockNumber = s.block.Number().Uint64()
	}
	log.Index = uint(len(s.logs))
	s.journal = append(s.journal, logChange{})
	s.logs = append(s.logs, log)
}

// =========================================================================
// Snapshots
// =========================================================================

// Snapshot returns an identifier for the current revision of the state.
func (s *State) Snapshot() int {
	s.snapshots = append(s.snapshots, len(s.journal))
	return len(s.snapshots) - 1
}

// RevertToSnapshot undoes every write made after the snapshot was taken.
// Snapshots taken after id are invalidated.
func (s *State) RevertToSnapshot(id int) {
	if id < 0 || id >= len(s.snapshots) {
		s.setError(fmt.Errorf("%w: %d", ErrInvalidSnapshot, id))
		return
	}
	mark := s.snapshots[id]
	for i := len(s.journal) - 1; i >= mark; i-- {
		s.journal[i].revert(s)
	}
	s.journal = s.journal[:mark]
	s.snapshots = s.snapshots[:id]
}

// =========================================================================
// Database access
// =========================================================================

func (s *State) get(key []byte) []byte {
	data, err := s.db.Get(key)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.setError(err)
		}
		return nil
	}
	return data
}

func (s *State) put(key, value []byte) {
	prev := s.get(key)
	s.journal = append(s.journal, kvChange{key: key, prev: prev})
	if err := s.db.Put(key, value); err != nil {
		s.setError(err)
	}
}

func (s *State) del(key []byte) {
	prev := s.get(key)
	if prev == nil {
		return
	}
	s.journal = append(s.journal, kvChange{key: key, prev: prev})
	if err := s.db.Delete(key); err != nil {
		s.setError(err)
	}
}

func (s *State) setError(err error) {
	if s.dbErr == nil {
		s.dbErr = err
	}
}

func dbKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// =========================================================================
// Journal
// =========================================================================

type journalEntry interface {
	revert(s *State)
}

// kvChange restores a database key; nil prev means the key did not exist.
type kvChange struct {
	key  []byte
	prev []byte
}

func (c kvChange) revert(s *State) {
	var err error
	if c.prev == nil {
		err = s.db.Delete(c.key)
	} else {
		err = s.db.Put(c.key, c.prev)
	}
	if err != nil {
		s.setError(err)
	}
}

type transientChange struct {
	addr common.Address
	key  common.Hash
	prev common.Hash
}

func (c transientChange) revert(s *State) {
	s.transient[c.addr][c.key] = c.prev
}

type logChange struct{}

func (logChange) revert(s *State) {
	s.logs = s.logs[:len(s.logs)-1]
}
