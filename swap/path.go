// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
)

// Encoded path layout: token(20) [fee(3) token(20)]*
const (
	addrSize = common.AddressLength
	feeSize  = 3
	hopSize  = feeSize + addrSize

	// ConvertPathLength is the length of a stablecoin conversion route: two
	// tokens back to back with no fee tier between them.
	ConvertPathLength = 2 * addrSize

	// MaxFee is the largest fee tier that fits in three bytes.
	MaxFee = 1<<24 - 1
)

var (
	ErrEmptyPath   = errors.New("swap: empty path")
	ErrInvalidPath = errors.New("swap: invalid path encoding")
)

// Path is a decoded multi-hop route. A pool path carries one fee tier per
// hop; a convert path carries two tokens and no fees.
type Path struct {
	Tokens []common.Address
	Fees   []uint32
}

// DecodePath decodes a packed route.
func DecodePath(raw []byte) (Path, error) {
	switch {
	case len(raw) == 0:
		return Path{}, ErrEmptyPath
	case len(raw) == ConvertPathLength:
		return Path{
			Tokens: []common.Address{
				common.BytesToAddress(raw[:addrSize]),
				common.BytesToAddress(raw[addrSize:]),
			},
		}, nil
	case len(raw) < addrSize+hopSize || (len(raw)-addrSize)%hopSize != 0:
		return Path{}, fmt.Errorf("%w: %d bytes", ErrInvalidPath, len(raw))
	}

	hops := (len(raw) - addrSize) / hopSize
	p := Path{
		Tokens: make([]common.Address, 0, hops+1),
		Fees:   make([]uint32, 0, hops),
	}
	p.Tokens = append(p.Tokens, common.BytesToAddress(raw[:addrSize]))
	for off := addrSize; off < len(raw); off += hopSize {
		fee := uint32(raw[off])<<16 | uint32(raw[off+1])<<8 | uint32(raw[off+2])
		p.Fees = append(p.Fees, fee)
		p.Tokens = append(p.Tokens, common.BytesToAddress(raw[off+feeSize:off+hopSize]))
	}
	return p, nil
}

// NewPath builds a pool path. len(fees) must be len(tokens)-1.
func NewPath(tokens []common.Address, fees []uint32) (Path, error) {
	if len(tokens) < 2 || len(fees) != len(tokens)-1 {
		return Path{}, fmt.Errorf("%w: %d tokens, %d fees", ErrInvalidPath, len(tokens), len(fees))
	}
	for _, fee := range fees {
		if fee > MaxFee {
			return Path{}, fmt.Errorf("%w: fee %d", ErrInvalidPath, fee)
		}
	}
	return Path{Tokens: tokens, Fees: fees}, nil
}

// ConvertPath builds the fixed-length route between a stablecoin pair.
func ConvertPath(from, to common.Address) Path {
	return Path{Tokens: []common.Address{from, to}}
}

// Encode packs the path back into its wire form.
func (p Path) Encode() []byte {
	if len(p.Tokens) == 0 {
		return nil
	}
	if p.IsConvert() {
		out := make([]byte, 0, ConvertPathLength)
		out = append(out, p.Tokens[0].Bytes()...)
		return append(out, p.Tokens[1].Bytes()...)
	}
	out := make([]byte, 0, addrSize+len(p.Fees)*hopSize)
	out = append(out, p.Tokens[0].Bytes()...)
	for i, fee := range p.Fees {
		out = append(out, byte(fee>>16), byte(fee>>8), byte(fee))
		out = append(out, p.Tokens[i+1].Bytes()...)
	}
	return out
}

// Leading is the first token of the path.
func (p Path) Leading() common.Address {
	if len(p.Tokens) == 0 {
		return common.Address{}
	}
	return p.Tokens[0]
}

// Trailing is the last token of the path.
func (p Path) Trailing() common.Address {
	if len(p.Tokens) == 0 {
		return common.Address{}
	}
	return p.Tokens[len(p.Tokens)-1]
}

// Hops is the number of pools the path crosses.
func (p Path) Hops() int {
	return len(p.Fees)
}

// IsConvert reports whether p is a conversion route rather than a pool route.
func (p Path) IsConvert() bool {
	return len(p.Tokens) == 2 && len(p.Fees) == 0
}

// Reverse returns the path walked from the other end.
func (p Path) Reverse() Path {
	r := Path{
		Tokens: make([]common.Address, len(p.Tokens)),
		Fees:   make([]uint32, len(p.Fees)),
	}
	for i, tok := range p.Tokens {
		r.Tokens[len(p.Tokens)-1-i] = tok
	}
	for i, fee := range p.Fees {
		r.Fees[len(p.Fees)-1-i] = fee
	}
	if len(p.Fees) == 0 {
		r.Fees = nil
	}
	return r
}

func (p Path) String() string {
	s := p.Leading().Hex()
	for i := 1; i < len(p.Tokens); i++ {
		if i-1 < len(p.Fees) {
			s += fmt.Sprintf(" -(%d)-> ", p.Fees[i-1])
		} else {
			s += " -> "
		}
		s += p.Tokens[i].Hex()
	}
	return s
}
