// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package modules

import (
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

type testContract struct{ name string }

func TestReservedAddress(t *testing.T) {
	for _, tc := range []struct {
		addr     string
		reserved bool
	}{
		{"0x0000000000000000000000000000000000009000", true},
		{"0x0000000000000000000000000000000000009053", true},
		{"0x0000000000000000000000000000000000009fff", true},
		{"0x0000000000000000000000000000000000008fff", false},
		{"0x000000000000000000000000000000000000a000", false},
		{"0x1000000000000000000000000000000000009000", false},
	} {
		require.Equal(t, tc.reserved, ReservedAddress(common.HexToAddress(tc.addr)), tc.addr)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	comet := common.HexToAddress("0x0000000000000000000000000000000000009053")
	pool := common.HexToAddress("0x0000000000000000000000000000000000009050")

	require.NoError(t, r.Register(Module{ConfigKey: "comet", Address: comet, Contract: &testContract{"comet"}}))
	require.NoError(t, r.Register(Module{ConfigKey: "aave", Address: pool, Contract: &testContract{"aave"}}))

	err := r.Register(Module{ConfigKey: "other", Address: comet, Contract: &testContract{}})
	require.ErrorIs(t, err, ErrAddressInUse)
	err = r.Register(Module{ConfigKey: "comet", Address: common.HexToAddress("0x0000000000000000000000000000000000009054"), Contract: &testContract{}})
	require.ErrorIs(t, err, ErrKeyInUse)

	for _, addr := range []common.Address{
		{},
		BlackholeAddr,
		common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		common.HexToAddress("0x1234000000000000000000000000000000000000"),
	} {
		err := r.Register(Module{Address: addr, Contract: &testContract{}})
		require.ErrorIs(t, err, ErrNotReserved, addr.Hex())
	}
	err = r.Register(Module{Address: common.HexToAddress("0x0000000000000000000000000000000000009055")})
	require.ErrorIs(t, err, ErrUnexpectedModule)

	// Address order
	mods := r.Modules()
	require.Len(t, mods, 2)
	require.Equal(t, pool, mods[0].Address)
	require.Equal(t, comet, mods[1].Address)

	stm, ok := r.ByKey("comet")
	require.True(t, ok)
	require.Equal(t, comet, stm.Address)
	_, ok = r.ByKey("missing")
	require.False(t, ok)
}

func TestLookup(t *testing.T) {
	r := NewRegistry()
	addr := common.HexToAddress("0x0000000000000000000000000000000000009011")
	require.NoError(t, r.Register(Module{ConfigKey: "oracle", Address: addr, Contract: &testContract{"oracle"}}))

	c, err := Lookup[*testContract](r, addr)
	require.NoError(t, err)
	require.Equal(t, "oracle", c.name)

	_, err = Lookup[string](r, addr)
	require.ErrorIs(t, err, ErrUnexpectedModule)

	_, err = Lookup[*testContract](r, common.HexToAddress("0x0000000000000000000000000000000000009012"))
	require.ErrorIs(t, err, ErrModuleNotFound)
}
