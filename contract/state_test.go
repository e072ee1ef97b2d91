// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"
	"github.com/stretchr/testify/require"
)

var (
	testAccount = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSlot    = common.HexToHash("0x01")
)

func newTestState() *State {
	return NewState(memdb.New(), Block{Height: 1, Time: 1_700_000_000})
}

func TestState_StorageRoundTrip(t *testing.T) {
	s := newTestState()
	require.Equal(t, common.Hash{}, s.GetState(testAccount, testSlot))
	require.False(t, s.Exist(testAccount))

	s.SetState(testAccount, testSlot, common.HexToHash("0xbeef"))
	require.Equal(t, common.HexToHash("0xbeef"), s.GetState(testAccount, testSlot))
	require.True(t, s.Exist(testAccount))

	s.SetState(testAccount, testSlot, common.Hash{})
	require.Equal(t, common.Hash{}, s.GetState(testAccount, testSlot))
	require.NoError(t, s.Error())
}

func TestState_RevertRestoresEverything(t *testing.T) {
	s := newTestState()
	s.SetState(testAccount, testSlot, common.HexToHash("0x01"))
	s.AddBalance(testAccount, uint256.NewInt(100))

	snap := s.Snapshot()
	s.SetState(testAccount, testSlot, common.HexToHash("0x02"))
	s.SetState(testAccount, common.HexToHash("0x02"), common.HexToHash("0x03"))
	s.SubBalance(testAccount, uint256.NewInt(40))
	s.SetTransientState(testAccount, testSlot, common.HexToHash("0x09"))
	s.AddLog(&ethtypes.Log{Address: testAccount})

	s.RevertToSnapshot(snap)

	require.Equal(t, common.HexToHash("0x01"), s.GetState(testAccount, testSlot))
	require.Equal(t, common.Hash{}, s.GetState(testAccount, common.HexToHash("0x02")))
	require.Equal(t, uint64(100), s.GetBalance(testAccount).Uint64())
	require.Equal(t, common.Hash{}, s.GetTransientState(testAccount, testSlot))
	require.Empty(t, s.Logs())
}

func TestState_NestedSnapshots(t *testing.T) {
	s := newTestState()
	outer := s.Snapshot()
	s.SetState(testAccount, testSlot, common.HexToHash("0x01"))
	inner := s.Snapshot()
	s.SetState(testAccount, testSlot, common.HexToHash("0x02"))

	s.RevertToSnapshot(inner)
	require.Equal(t, common.HexToHash("0x01"), s.GetState(testAccount, testSlot))

	s.RevertToSnapshot(outer)
	require.Equal(t, common.Hash{}, s.GetState(testAccount, testSlot))
}

func TestState_SubBalanceUnderflowLatchesError(t *testing.T) {
	s := newTestState()
	s.AddBalance(testAccount, uint256.NewInt(5))
	s.SubBalance(testAccount, uint256.NewInt(6))

	require.ErrorIs(t, s.Error(), ErrBalanceUnderflow)
	require.Equal(t, uint64(5), s.GetBalance(testAccount).Uint64())
}

func TestState_FinaliseDropsTransient(t *testing.T) {
	s := newTestState()
	s.SetTransientState(testAccount, testSlot, common.HexToHash("0x01"))
	s.SetState(testAccount, testSlot, common.HexToHash("0x02"))
	s.Finalise()

	require.Equal(t, common.Hash{}, s.GetTransientState(testAccount, testSlot))
	require.Equal(t, common.HexToHash("0x02"), s.GetState(testAccount, testSlot))
}

func TestStorageKey_Distinct(t *testing.T) {
	a := StorageKey([]byte("bal"), testAccount.Bytes())
	b := StorageKey([]byte("alw"), testAccount.Bytes())
	require.NotEqual(t, a, b)
	require.Equal(t, a, StorageKey([]byte("bal"), testAccount.Bytes()))
}

func TestWordConversion(t *testing.T) {
	v, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.Equal(t, 0, v.Cmp(WordToBig(BigToWord(v))))
	require.Equal(t, common.Hash{}, BigToWord(big.NewInt(-1)))
}
