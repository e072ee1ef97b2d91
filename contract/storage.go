// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// StorageKey derives a storage slot from a prefix and identifiers.
func StorageKey(prefix []byte, parts ...[]byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	for _, p := range parts {
		h.Write(p)
	}
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// BigToWord encodes a non-negative amount as a storage word.
// Values wider than 256 bits are truncated.
func BigToWord(v *big.Int) common.Hash {
	if v == nil || v.Sign() <= 0 {
		return common.Hash{}
	}
	u, _ := uint256.FromBig(v)
	return u.Bytes32()
}

// WordToBig decodes a storage word.
func WordToBig(w common.Hash) *big.Int {
	return new(big.Int).SetBytes(w[:])
}

// GetBig reads an amount slot.
func GetBig(db StateDB, addr common.Address, key common.Hash) *big.Int {
	return WordToBig(db.GetState(addr, key))
}

// SetBig writes an amount slot.
func SetBig(db StateDB, addr common.Address, key common.Hash, v *big.Int) {
	db.SetState(addr, key, BigToWord(v))
}

// ToU256 converts a non-negative amount for native balance operations.
func ToU256(v *big.Int) *uint256.Int {
	u, _ := uint256.FromBig(v)
	return u
}
