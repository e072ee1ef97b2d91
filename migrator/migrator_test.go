// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package migrator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/migrator/adapter"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/dex"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/swap"
)

func TestNew(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrZeroAddress)

	m, err := New(Config{Address: testMigrator})
	require.NoError(t, err)
	require.Equal(t, testMigrator, m.Address())
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	comet := f.newComet(t, common.HexToAddress(dex.LXCometAddress), testUSDC)
	a := f.newAdapter(t, adapter.Capabilities{}, false)

	require.ErrorIs(t, f.migrator.Register(nil, comet, FlashConfig{Pool: f.pool, Token: testUSDC}), ErrZeroAddress)
	require.ErrorIs(t, f.migrator.Register(a, comet, FlashConfig{Pool: f.pool}), ErrZeroAddress)

	// The pool does not lend DAI
	err := f.migrator.Register(a, comet, FlashConfig{Pool: f.pool, Token: testDAI})
	require.ErrorIs(t, err, ErrInvalidFlashToken)

	// WETH is lent by the pool but is not the base asset
	err = f.migrator.Register(a, comet, FlashConfig{Pool: f.pool, Token: testWETH})
	require.ErrorIs(t, err, ErrInvalidFlashToken)

	require.NoError(t, f.migrator.Register(a, comet, FlashConfig{Pool: f.pool, Token: testUSDC}))
	err = f.migrator.Register(a, comet, FlashConfig{Pool: f.pool, Token: testUSDC})
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	// The stable counterpart of the base asset needs conversion enabled
	usdsComet := f.newComet(t, common.HexToAddress("0x0000000000000000000000000000000000009054"), testUSDS)
	daiPool := dex.NewFlashPool(testDaiPool, testDAI, testUSDC, dex.Fee100)
	err = f.migrator.Register(a, usdsComet, FlashConfig{Pool: daiPool, Token: testDAI})
	require.ErrorIs(t, err, ErrInvalidFlashToken)

	converting := f.newAdapter(t, adapter.Capabilities{Conversion: true}, false)
	require.NoError(t, f.migrator.Register(converting, usdsComet, FlashConfig{Pool: daiPool, Token: testDAI}))
}

func TestMigrate_NotRegistered(t *testing.T) {
	f := newFixture(t)
	_, err := f.migrator.Migrate(context.Background(), f.state, testUser, testAdapter,
		common.HexToAddress(dex.LXCometAddress), nil, ether(1))
	require.ErrorIs(t, err, ErrNotRegistered)
}

// One collateral and one borrow, neither swapped; the flash loan is 1.15
// times the debt.
func TestMigrate_SingleLine(t *testing.T) {
	f := newFixture(t)
	_, comet := f.market(t, adapter.Capabilities{}, true)
	f.supply(t, testWETH, ether(955))
	f.borrow(t, testUSDC, ether(250))

	data := encodeAave(t, adapter.Position{
		Borrows:     []adapter.Borrow{{Line: adapter.AddressLine(debtToken(testUSDC)), Amount: adapter.MaxAmount}},
		Collaterals: []adapter.Collateral{{Line: adapter.AddressLine(aToken(testWETH)), Amount: adapter.MaxAmount}},
	})
	flashAmount := mulPct(ether(250), 115)
	fee := f.pool.FlashFee(flashAmount)
	poolBefore := erc20.BalanceOf(f.state, testUSDC, testPool)

	receipt, err := f.migrator.Migrate(context.Background(), f.state, testUser, testAdapter, comet.Address(), data, flashAmount)
	require.NoError(t, err)
	require.Equal(t, fee, receipt.FlashFee)
	require.Equal(t, flashAmount, receipt.FlashAmount)

	require.Zero(t, f.debt(testUSDC).Sign())
	require.Zero(t, f.collateral(testWETH).Sign())
	require.Equal(t, ether(955), comet.CollateralBalanceOf(f.state, testUser, testWETH))

	// Only the debt and the fee end up borrowed on Comet
	shortfall := new(big.Int).Add(ether(250), fee)
	require.Equal(t, shortfall, receipt.Result.Shortfall)
	require.Equal(t, shortfall, comet.BorrowBalanceOf(f.state, testUser))
	require.Equal(t, new(big.Int).Add(poolBefore, fee), erc20.BalanceOf(f.state, testUSDC, testPool))
	require.Zero(t, erc20.BalanceOf(f.state, testUSDC, testMigrator).Sign())
}

// Three collaterals, one native, and three borrows, every line swapped
// through USDC.
func TestMigrate_SwapsEveryLine(t *testing.T) {
	f := newFixture(t)
	_, comet := f.market(t, adapter.Capabilities{NativeWrap: true}, true)
	f.supply(t, erc20.Native, ether(2))
	f.supply(t, testWBTC, ether(1))
	f.supply(t, testLINK, ether(100))
	f.borrow(t, testDAI, ether(1000))
	f.borrow(t, testWETH, ether(1))
	f.borrow(t, testUNI, ether(200))

	deadline := big.NewInt(2_000)
	buy := func(asset common.Address, max int64) adapter.Borrow {
		fee := dex.Fee500
		if asset == testDAI {
			fee = dex.Fee100
		}
		return adapter.Borrow{
			Line:   adapter.AddressLine(debtToken(asset)),
			Amount: adapter.MaxAmount,
			Swap: adapter.InputLimit{
				Path:            mustPath(t, []common.Address{asset, testUSDC}, []uint32{fee}),
				AmountInMaximum: ether(max),
				Deadline:        deadline,
			},
		}
	}
	sell := func(asset, sold common.Address, min int64) adapter.Collateral {
		return adapter.Collateral{
			Line:   adapter.AddressLine(aToken(asset)),
			Amount: adapter.MaxAmount,
			Swap: adapter.OutputLimit{
				Path:             mustPath(t, []common.Address{sold, testUSDC}, []uint32{dex.Fee500}),
				AmountOutMinimum: ether(min),
				Deadline:         deadline,
			},
		}
	}
	data := encodeAave(t, adapter.Position{
		Borrows: []adapter.Borrow{
			buy(testDAI, 1100),
			buy(testWETH, 2100),
			buy(testUNI, 1100),
		},
		Collaterals: []adapter.Collateral{
			sell(erc20.Native, testWETH, 3900),
			sell(testWBTC, testWBTC, 29_000),
			sell(testLINK, testLINK, 900),
		},
	})

	receipt, err := f.migrator.Migrate(context.Background(), f.state, testUser, testAdapter, comet.Address(), data, ether(4100))
	require.NoError(t, err)
	require.Equal(t, 3, receipt.Result.Borrows)
	require.Equal(t, 3, receipt.Result.Collaterals)

	for _, asset := range []common.Address{testDAI, testWETH, testUNI} {
		require.Zero(t, f.debt(asset).Sign(), asset.Hex())
	}
	for _, asset := range []common.Address{erc20.Native, testWBTC, testLINK} {
		require.Zero(t, f.collateral(asset).Sign(), asset.Hex())
	}
	require.Positive(t, comet.BalanceOf(f.state, testUser).Sign())
	require.Zero(t, comet.BorrowBalanceOf(f.state, testUser).Sign())
	require.Zero(t, erc20.BalanceOf(f.state, testUSDC, testMigrator).Sign())
	require.Zero(t, erc20.BalanceOf(f.state, testWETH, testMigrator).Sign())
	require.Zero(t, erc20.BalanceOf(f.state, erc20.Native, testMigrator).Sign())
}

// The shortfall is below the borrow floor and the user has no Comet debt.
func TestMigrate_ShortfallBelowFloor(t *testing.T) {
	f := newFixture(t)
	_, comet := f.market(t, adapter.Capabilities{}, false)
	f.supply(t, testWETH, ether(10))
	f.borrow(t, testUSDC, ether(50))

	data := encodeAave(t, adapter.Position{
		Borrows:     []adapter.Borrow{{Line: adapter.AddressLine(debtToken(testUSDC)), Amount: adapter.MaxAmount}},
		Collaterals: []adapter.Collateral{{Line: adapter.AddressLine(aToken(testWETH)), Amount: adapter.MaxAmount}},
	})
	receipt, err := f.migrator.Migrate(context.Background(), f.state, testUser, testAdapter, comet.Address(), data, ether(50))
	require.NoError(t, err)

	owed := new(big.Int).Add(ether(50), receipt.FlashFee)
	require.Equal(t, owed, receipt.Result.Shortfall)
	require.Equal(t, comet.BaseBorrowMin(), receipt.Result.Withdrawn)
	require.Equal(t, new(big.Int).Sub(ether(100), owed), receipt.Result.Swept)
	require.Equal(t, owed, comet.BorrowBalanceOf(f.state, testUser))
}

// In full migration mode a repay that leaves one unit of debt reverts the
// whole migration.
func TestMigrate_DebtNotClearedReverts(t *testing.T) {
	f := newFixture(t)
	_, comet := f.market(t, adapter.Capabilities{}, true)
	f.supply(t, testWETH, ether(10))
	f.borrow(t, testUSDC, ether(1000))

	line := adapter.AddressLine(debtToken(testUSDC))
	data := encodeAave(t, adapter.Position{
		Borrows:     []adapter.Borrow{{Line: line, Amount: new(big.Int).Sub(ether(1000), big.NewInt(1))}},
		Collaterals: []adapter.Collateral{{Line: adapter.AddressLine(aToken(testWETH)), Amount: adapter.MaxAmount}},
	})
	poolBefore := erc20.BalanceOf(f.state, testUSDC, testPool)
	logsBefore := len(f.state.Logs())

	_, err := f.migrator.Migrate(context.Background(), f.state, testUser, testAdapter, comet.Address(), data, ether(1100))
	require.ErrorIs(t, err, adapter.ErrDebtNotCleared)

	var notCleared *adapter.DebtNotClearedError
	require.True(t, errors.As(err, &notCleared))
	require.Equal(t, line, notCleared.Line)
	require.Equal(t, big.NewInt(1), notCleared.Remaining)

	var stageErr *adapter.StageError
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, adapter.StageRepayBorrows, stageErr.Stage)

	// Nothing moved
	require.Equal(t, ether(1000), f.debt(testUSDC))
	require.Equal(t, ether(10), f.collateral(testWETH))
	require.Equal(t, poolBefore, erc20.BalanceOf(f.state, testUSDC, testPool))
	require.Zero(t, erc20.BalanceOf(f.state, testUSDC, testMigrator).Sign())
	require.Zero(t, comet.CollateralBalanceOf(f.state, testUser, testWETH).Sign())
	require.Len(t, f.state.Logs(), logsBefore)
	require.Equal(t, common.Hash{}, f.state.GetTransientState(testMigrator, contract.StorageKey(callbackPrefix)))
}

// A DAI flash loan settles into a USDS market: the DAI/USDS collateral is
// converted, never swapped, and every conversion is exact.
func TestMigrate_StablecoinConversion(t *testing.T) {
	f := newFixture(t)
	usdsComet := f.newComet(t, common.HexToAddress("0x0000000000000000000000000000000000009054"), testUSDS)
	daiPool := dex.NewFlashPool(testDaiPool, testDAI, testUSDC, dex.Fee100)
	require.NoError(t, erc20.Mint(f.state, testDAI, daiPool.Address(), ether(100_000)))
	a := f.newAdapter(t, adapter.Capabilities{Conversion: true}, true)
	require.NoError(t, f.migrator.Register(a, usdsComet, FlashConfig{Pool: daiPool, Token: testDAI}))

	f.supply(t, testWETH, ether(10))
	f.supply(t, testDAI, ether(500))
	f.borrow(t, testDAI, ether(1000))

	data := encodeAave(t, adapter.Position{
		Borrows: []adapter.Borrow{{Line: adapter.AddressLine(debtToken(testDAI)), Amount: adapter.MaxAmount}},
		Collaterals: []adapter.Collateral{
			{Line: adapter.AddressLine(aToken(testWETH)), Amount: adapter.MaxAmount},
			{Line: adapter.AddressLine(aToken(testDAI)), Amount: adapter.MaxAmount, Swap: adapter.OutputLimit{
				Path: swap.ConvertPath(testDAI, testUSDS).Encode(),
			}},
		},
	})
	routerDAI := erc20.BalanceOf(f.state, testDAI, f.router.Address())

	receipt, err := f.migrator.Migrate(context.Background(), f.state, testUser, testAdapter, usdsComet.Address(), data, ether(1000))
	require.NoError(t, err)

	require.Zero(t, f.debt(testDAI).Sign())
	require.Zero(t, f.collateral(testDAI).Sign())
	require.Equal(t, ether(10), usdsComet.CollateralBalanceOf(f.state, testUser, testWETH))
	require.Equal(t, routerDAI, erc20.BalanceOf(f.state, testDAI, f.router.Address()))

	// 500 USDS supplied, then 1000 DAI plus the fee withdrawn as USDS
	borrowed := new(big.Int).Add(ether(500), receipt.FlashFee)
	require.Zero(t, usdsComet.BalanceOf(f.state, testUser).Sign())
	require.Equal(t, borrowed, usdsComet.BorrowBalanceOf(f.state, testUser))
	require.Zero(t, erc20.BalanceOf(f.state, testDAI, testMigrator).Sign())
	require.Zero(t, erc20.BalanceOf(f.state, testUSDS, testMigrator).Sign())
}

// Without a flash loan the user's own balance pays the debt.
func TestMigrate_WithoutFlashLoan(t *testing.T) {
	f := newFixture(t)
	_, comet := f.market(t, adapter.Capabilities{}, true)
	f.supply(t, testWETH, ether(10))
	f.borrow(t, testUSDC, ether(100))

	data := encodeAave(t, adapter.Position{
		Collaterals: []adapter.Collateral{{Line: adapter.AddressLine(aToken(testWETH)), Amount: ether(4)}},
	})
	receipt, err := f.migrator.Migrate(context.Background(), f.state, testUser, testAdapter, comet.Address(), data, nil)
	require.NoError(t, err)
	require.Zero(t, receipt.FlashFee.Sign())
	require.Zero(t, receipt.Result.Shortfall.Sign())
	require.Equal(t, ether(6), f.collateral(testWETH))
	require.Equal(t, ether(4), comet.CollateralBalanceOf(f.state, testUser, testWETH))
	require.Equal(t, ether(100), f.debt(testUSDC))
}

func TestMigrate_ZeroUser(t *testing.T) {
	f := newFixture(t)
	_, comet := f.market(t, adapter.Capabilities{}, false)
	_, err := f.migrator.Migrate(context.Background(), f.state, common.Address{}, testAdapter, comet.Address(), nil, nil)
	require.ErrorIs(t, err, ErrZeroAddress)
}

// The callback only accepts the loan the migrator itself requested.
func TestFlashCallback_Unsolicited(t *testing.T) {
	f := newFixture(t)
	_, comet := f.market(t, adapter.Capabilities{}, false)

	payload, err := callbackPayload{
		User:        testUser,
		Adapter:     testAdapter,
		Comet:       comet.Address(),
		FlashAmount: ether(1),
	}.encode()
	require.NoError(t, err)

	borrower := &flashCall{m: f.migrator, ctx: context.Background()}
	err = borrower.UniswapV3FlashCallback(f.state, testPool, big.NewInt(1), new(big.Int), payload)
	require.ErrorIs(t, err, ErrInvalidCallback)

	// A requested payload from the wrong caller
	key := contract.StorageKey(callbackPrefix)
	f.state.SetTransientState(testMigrator, key, payloadHash(payload))
	err = borrower.UniswapV3FlashCallback(f.state, testLP, big.NewInt(1), new(big.Int), payload)
	require.ErrorIs(t, err, ErrInvalidCallback)
	require.Equal(t, payloadHash(payload), f.state.GetTransientState(testMigrator, key))

	// A pool lending to someone else cannot reach the migrator's callback
	err = f.pool.Flash(f.state, testLP, borrower, testLP, ether(1), nil, []byte("forged"))
	require.ErrorIs(t, err, ErrInvalidCallback)
	require.Nil(t, borrower.result)
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	_, comet := f.market(t, adapter.Capabilities{}, true)
	f.supply(t, testWETH, ether(10))
	f.borrow(t, testUSDC, ether(1000))

	data := encodeAave(t, adapter.Position{
		Borrows:     []adapter.Borrow{{Line: adapter.AddressLine(debtToken(testUSDC)), Amount: adapter.MaxAmount}},
		Collaterals: []adapter.Collateral{{Line: adapter.AddressLine(aToken(testWETH)), Amount: adapter.MaxAmount}},
	})
	flashAmount := ether(1000)
	input, err := MigratorABI.Pack(MethodMigrate, testAdapter, comet.Address(), data, flashAmount)
	require.NoError(t, err)

	_, err = f.migrator.Run(f.state, testUser, input)
	require.NoError(t, err)
	require.Zero(t, f.debt(testUSDC).Sign())

	logs := f.state.Logs()
	require.NotEmpty(t, logs)
	last := logs[len(logs)-1]
	require.Equal(t, testMigrator, last.Address)
	require.Len(t, last.Topics, 4)
	require.Equal(t, MigratorABI.Events[EventMigrationExecuted].ID, last.Topics[0])
	require.Equal(t, common.BytesToHash(testAdapter.Bytes()), last.Topics[1])
	require.Equal(t, common.BytesToHash(testUser.Bytes()), last.Topics[2])
	require.Equal(t, common.BytesToHash(comet.Address().Bytes()), last.Topics[3])

	values, err := MigratorABI.Unpack(EventMigrationExecuted, last.Data)
	require.NoError(t, err)
	require.Equal(t, flashAmount, values[0])
	require.Equal(t, f.pool.FlashFee(flashAmount), values[1])

	_, err = f.migrator.Run(f.state, testUser, []byte{0xde, 0xad, 0xbe, 0xef})
	require.Error(t, err)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	f := newFixture(t, WithMetrics(metrics))
	_, comet := f.market(t, adapter.Capabilities{}, true)
	f.supply(t, testWETH, ether(10))
	f.borrow(t, testUSDC, ether(1000))

	line := adapter.AddressLine(debtToken(testUSDC))
	collateral := []adapter.Collateral{{Line: adapter.AddressLine(aToken(testWETH)), Amount: adapter.MaxAmount}}

	short := encodeAave(t, adapter.Position{
		Borrows:     []adapter.Borrow{{Line: line, Amount: ether(999)}},
		Collaterals: collateral,
	})
	_, err = f.migrator.Migrate(context.Background(), f.state, testUser, testAdapter, comet.Address(), short, ether(1000))
	require.Error(t, err)

	full := encodeAave(t, adapter.Position{
		Borrows:     []adapter.Borrow{{Line: line, Amount: adapter.MaxAmount}},
		Collaterals: collateral,
	})
	_, err = f.migrator.Migrate(context.Background(), f.state, testUser, testAdapter, comet.Address(), full, ether(1000))
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.migrations.WithLabelValues("aave", statusSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.migrations.WithLabelValues("aave", statusFailure)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.shortfalls.WithLabelValues("aave")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.stageFailures.WithLabelValues(adapter.StageRepayBorrows.String())))

	// Registering twice fails
	_, err = NewMetrics(reg)
	require.Error(t, err)
}

// Migrations on separate states share one migrator.
func TestMigrate_Concurrent(t *testing.T) {
	f := newFixture(t)
	_, comet := f.market(t, adapter.Capabilities{}, true)

	const n = 8
	states := make([]*contract.State, n)
	for i := range states {
		// Each state gets its own copy of the deployment
		g := newFixture(t)
		g.newComet(t, comet.Address(), testUSDC)
		g.supply(t, testWETH, ether(10))
		g.borrow(t, testUSDC, ether(1000))
		states[i] = g.state
	}

	data := encodeAave(t, adapter.Position{
		Borrows:     []adapter.Borrow{{Line: adapter.AddressLine(debtToken(testUSDC)), Amount: adapter.MaxAmount}},
		Collaterals: []adapter.Collateral{{Line: adapter.AddressLine(aToken(testWETH)), Amount: adapter.MaxAmount}},
	})

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range states {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.migrator.Migrate(context.Background(), states[i], testUser, testAdapter, comet.Address(), data, ether(1000))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "migration %d", i)
		require.Zero(t, f.aave.BalanceOf(states[i], debtToken(testUSDC), testUser).Sign())
		require.Equal(t, ether(10), comet.CollateralBalanceOf(states[i], testUser, testWETH))
	}
}

func TestDecodeCallbackPayload(t *testing.T) {
	_, err := decodeCallbackPayload([]byte{0x01})
	require.ErrorIs(t, err, ErrInvalidCallback)

	in := callbackPayload{User: testUser, Adapter: testAdapter, Comet: testPool, FlashAmount: ether(3), Data: []byte{1, 2}}
	raw, err := in.encode()
	require.NoError(t, err)
	out, err := decodeCallbackPayload(raw)
	require.NoError(t, err)
	require.Equal(t, in, out)
}
