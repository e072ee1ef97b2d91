// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package migrator

import (
	"math/big"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/migrator/adapter"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/convert"
	"github.com/luxfi/migrator/dex"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/ledger"
	"github.com/luxfi/migrator/swap"
)

var (
	testUSDC = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testWETH = common.HexToAddress("0x1000000000000000000000000000000000000002")
	testDAI  = common.HexToAddress("0x1000000000000000000000000000000000000003")
	testUSDS = common.HexToAddress("0x1000000000000000000000000000000000000004")
	testWBTC = common.HexToAddress("0x1000000000000000000000000000000000000005")
	testLINK = common.HexToAddress("0x1000000000000000000000000000000000000006")
	testUNI  = common.HexToAddress("0x1000000000000000000000000000000000000007")

	testLP   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testUser = common.HexToAddress("0x5555555555555555555555555555555555555555")

	testMigrator = common.HexToAddress(dex.LXMigratorAddress)
	testAdapter  = common.HexToAddress(dex.LXAaveAdapter)
	testPool     = common.HexToAddress(dex.LXFlashAddress)
	testDaiPool  = common.HexToAddress("0x0000000000000000000000000000000000009015")
)

// Aave reserves of the fixture
var reserves = []struct {
	asset, aToken, debtToken common.Address
	price                    int64
}{
	{testUSDC, common.HexToAddress("0x2000000000000000000000000000000000000001"), common.HexToAddress("0x3000000000000000000000000000000000000001"), 1},
	{testWETH, common.HexToAddress("0x2000000000000000000000000000000000000002"), common.HexToAddress("0x3000000000000000000000000000000000000002"), 2000},
	{testDAI, common.HexToAddress("0x2000000000000000000000000000000000000003"), common.HexToAddress("0x3000000000000000000000000000000000000003"), 1},
	{testWBTC, common.HexToAddress("0x2000000000000000000000000000000000000005"), common.HexToAddress("0x3000000000000000000000000000000000000005"), 30_000},
	{testLINK, common.HexToAddress("0x2000000000000000000000000000000000000006"), common.HexToAddress("0x3000000000000000000000000000000000000006"), 10},
	{testUNI, common.HexToAddress("0x2000000000000000000000000000000000000007"), common.HexToAddress("0x3000000000000000000000000000000000000007"), 5},
	{erc20.Native, common.HexToAddress("0x20000000000000000000000000000000000000ee"), common.HexToAddress("0x30000000000000000000000000000000000000ee"), 2000},
}

func aToken(asset common.Address) common.Address {
	for _, r := range reserves {
		if r.asset == asset {
			return r.aToken
		}
	}
	panic("no reserve for " + asset.Hex())
}

func debtToken(asset common.Address) common.Address {
	for _, r := range reserves {
		if r.asset == asset {
			return r.debtToken
		}
	}
	panic("no reserve for " + asset.Hex())
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), dex.RAY)
}

func pct(n int64) *big.Int {
	return new(big.Int).Div(ether(n), big.NewInt(100))
}

func testLogger() log.Logger {
	return log.NewTestLogger(log.InfoLevel)
}

// fixture deploys an Aave pool, a router quoting every token against USDC,
// the DAI/USDS converter, a USDC/WETH flash pool and a migrator with no
// markets.
type fixture struct {
	state    *contract.State
	oracle   *dex.Oracle
	aave     *dex.AavePool
	router   *dex.Router
	conv     *convert.Gateway
	pool     *dex.FlashPool
	migrator *Migrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	state := contract.NewState(memdb.New(), contract.Block{Height: 1, Time: 1_000})

	oracle := dex.NewOracle(common.HexToAddress(dex.LXOracleAddress))
	oracle.SetPrice(state, testUSDS, dex.RAY)
	aave := dex.NewAavePool(common.HexToAddress(dex.LXLendAddress), oracle)
	for _, r := range reserves {
		oracle.SetPrice(state, r.asset, ether(r.price))
		require.NoError(t, aave.InitReserve(state, dex.ReserveConfig{
			Asset: r.asset, AToken: r.aToken, DebtToken: r.debtToken, LTV: pct(80),
		}))
	}
	for _, asset := range []common.Address{testUSDC, testDAI, testWETH, testUNI} {
		fund(t, state, asset, testLP, aave.Address(), ether(100_000))
		require.NoError(t, aave.Supply(state, testLP, asset, ether(100_000), testLP))
	}

	router := dex.NewRouter(common.HexToAddress(dex.LXRouterAddress), dex.RouterBoth)
	router.SetQuote(testUSDC, testDAI, dex.Fee100, dex.RAY)
	router.SetQuote(testUSDC, testWETH, dex.Fee500, new(big.Int).Div(dex.RAY, big.NewInt(2000)))
	router.SetQuote(testUSDC, testUNI, dex.Fee500, pct(20))
	router.SetQuote(testWETH, testUSDC, dex.Fee500, ether(2000))
	router.SetQuote(testWBTC, testUSDC, dex.Fee500, ether(30_000))
	router.SetQuote(testLINK, testUSDC, dex.Fee500, ether(10))
	for _, token := range []common.Address{testUSDC, testDAI, testWETH, testUNI} {
		require.NoError(t, erc20.Mint(state, token, router.Address(), ether(1_000_000)))
	}

	converter := dex.NewDaiUsds(common.HexToAddress(dex.LXConverterAddress), testDAI, testUSDS)
	conv, err := convert.NewGateway(converter, testDAI, testUSDS)
	require.NoError(t, err)

	pool := dex.NewFlashPool(testPool, testUSDC, testWETH, dex.Fee500)
	require.NoError(t, erc20.Mint(state, testUSDC, pool.Address(), ether(1_000_000)))

	m, err := New(Config{Address: testMigrator}, append([]Option{WithLogger(testLogger())}, opts...)...)
	require.NoError(t, err)

	return &fixture{
		state:    state,
		oracle:   oracle,
		aave:     aave,
		router:   router,
		conv:     conv,
		pool:     pool,
		migrator: m,
	}
}

// fund mints amount of token to holder and approves spender for all of it.
func fund(t *testing.T, state *contract.State, token, holder, spender common.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, erc20.Mint(state, token, holder, amount))
	require.NoError(t, erc20.Approve(state, token, holder, spender, erc20.MaxUint256))
}

// newComet deploys a Comet market over base with WETH as collateral and
// lets the migrator manage testUser's account.
func (f *fixture) newComet(t *testing.T, addr, base common.Address) *dex.Comet {
	t.Helper()
	comet, err := dex.NewComet(dex.CometConfig{
		Address:       addr,
		BaseToken:     base,
		BaseBorrowMin: ether(100),
		Collaterals:   map[common.Address]*big.Int{testWETH: pct(80)},
	}, f.oracle)
	require.NoError(t, err)
	require.NoError(t, erc20.Mint(f.state, base, comet.Address(), ether(100_000)))
	comet.Allow(f.state, testUser, testMigrator, true)
	return comet
}

func (f *fixture) newAdapter(t *testing.T, caps adapter.Capabilities, full bool) *adapter.Adapter {
	t.Helper()
	src, err := adapter.NewAaveSource(f.aave, f.aave, f.aave)
	require.NoError(t, err)
	a, err := adapter.New(adapter.Config{
		Name:          "aave",
		Address:       testAdapter,
		Router:        swap.NewGateway(f.router.Address(), f.router),
		Converter:     f.conv,
		WrappedNative: testWETH,
		FullMigration: full,
		Capabilities:  caps,
	}, src, adapter.WithLogger(testLogger()))
	require.NoError(t, err)
	return a
}

// market registers an Aave adapter for comet funded by the USDC pool.
func (f *fixture) market(t *testing.T, caps adapter.Capabilities, full bool) (*adapter.Adapter, *dex.Comet) {
	t.Helper()
	comet := f.newComet(t, common.HexToAddress(dex.LXCometAddress), testUSDC)
	a := f.newAdapter(t, caps, full)
	require.NoError(t, f.migrator.Register(a, comet, FlashConfig{Pool: f.pool, Token: testUSDC}))
	return a, comet
}

// supply deposits amount of asset into Aave for testUser and approves the
// migrator on the aToken.
func (f *fixture) supply(t *testing.T, asset common.Address, amount *big.Int) {
	t.Helper()
	if erc20.IsNative(asset) {
		f.state.AddBalance(testUser, contract.ToU256(amount))
	} else {
		fund(t, f.state, asset, testUser, f.aave.Address(), amount)
	}
	require.NoError(t, f.aave.Supply(f.state, testUser, asset, amount, testUser))
	require.NoError(t, erc20.Approve(f.state, aToken(asset), testUser, testMigrator, erc20.MaxUint256))
}

func (f *fixture) borrow(t *testing.T, asset common.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, f.aave.Borrow(f.state, testUser, asset, amount, ledger.VariableRateMode, testUser))
}

func (f *fixture) debt(asset common.Address) *big.Int {
	return f.aave.BalanceOf(f.state, debtToken(asset), testUser)
}

func (f *fixture) collateral(asset common.Address) *big.Int {
	return f.aave.BalanceOf(f.state, aToken(asset), testUser)
}

func mustPath(t *testing.T, tokens []common.Address, fees []uint32) []byte {
	t.Helper()
	path, err := swap.NewPath(tokens, fees)
	require.NoError(t, err)
	return path.Encode()
}

func encodeAave(t *testing.T, pos adapter.Position) []byte {
	t.Helper()
	data, err := adapter.EncodeAavePosition(pos)
	require.NoError(t, err)
	return data
}

// mulPct returns n * p / 100.
func mulPct(n *big.Int, p int64) *big.Int {
	out := new(big.Int).Mul(n, big.NewInt(p))
	return out.Div(out, big.NewInt(100))
}
