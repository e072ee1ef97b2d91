// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"math/big"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

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

	testAUSDC = common.HexToAddress("0x2000000000000000000000000000000000000001")
	testAWETH = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testADAI  = common.HexToAddress("0x2000000000000000000000000000000000000003")
	testDUSDC = common.HexToAddress("0x3000000000000000000000000000000000000001")
	testDWETH = common.HexToAddress("0x3000000000000000000000000000000000000002")
	testDDAI  = common.HexToAddress("0x3000000000000000000000000000000000000003")

	testLP    = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testUser  = common.HexToAddress("0x5555555555555555555555555555555555555555")
	testSelf  = common.HexToAddress("0x7777777777777777777777777777777777777777")
	testPool  = common.HexToAddress("0x8888888888888888888888888888888888888888")
	testIrm   = common.HexToAddress("0x7000000000000000000000000000000000000001")
	testVault = common.HexToAddress("0x9999999999999999999999999999999999999999")

	testAdapterAddr = common.HexToAddress("0x000000000000000000000000000000000000a001")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), dex.RAY)
}

func pct(n int64) *big.Int {
	return new(big.Int).Div(ether(n), big.NewInt(100))
}

// fixture is a small Lux DeFi deployment: an Aave pool with USDC, WETH and
// DAI reserves, a USDC/WETH Morpho market, a router and a DAI/USDS
// converter.
type fixture struct {
	state  *contract.State
	oracle *dex.Oracle
	aave   *dex.AavePool
	morpho *dex.Morpho
	market ledger.MarketParams
	router *swap.Gateway
	conv   *convert.Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := contract.NewState(memdb.New(), contract.Block{Height: 1, Time: 1_000})

	oracle := dex.NewOracle(common.HexToAddress(dex.LXOracleAddress))
	for _, stable := range []common.Address{testUSDC, testDAI, testUSDS} {
		oracle.SetPrice(state, stable, dex.RAY)
	}
	oracle.SetPrice(state, testWETH, ether(2000))

	aave := dex.NewAavePool(common.HexToAddress(dex.LXLendAddress), oracle)
	for _, r := range []dex.ReserveConfig{
		{Asset: testUSDC, AToken: testAUSDC, DebtToken: testDUSDC, LTV: pct(80)},
		{Asset: testWETH, AToken: testAWETH, DebtToken: testDWETH, LTV: pct(80)},
		{Asset: testDAI, AToken: testADAI, DebtToken: testDDAI, LTV: pct(80)},
	} {
		require.NoError(t, aave.InitReserve(state, r))
	}
	for _, asset := range []common.Address{testUSDC, testDAI} {
		fund(t, state, asset, testLP, aave.Address(), ether(100_000))
		require.NoError(t, aave.Supply(state, testLP, asset, ether(100_000), testLP))
	}

	morpho := dex.NewMorpho(common.HexToAddress(dex.LXMorphoAddress), oracle)
	morpho.EnableIrm(testIrm, new(big.Int))
	market := ledger.MarketParams{
		LoanToken:       testUSDC,
		CollateralToken: testWETH,
		Oracle:          oracle.Address(),
		Irm:             testIrm,
		LLTV:            pct(86),
	}
	_, err := morpho.CreateMarket(state, market)
	require.NoError(t, err)
	fund(t, state, testUSDC, testLP, morpho.Address(), ether(100_000))
	_, err = morpho.Supply(state, testLP, market, ether(100_000), testLP)
	require.NoError(t, err)

	router := dex.NewRouter(common.HexToAddress(dex.LXRouterAddress), dex.RouterBoth)
	router.SetQuote(testWETH, testUSDC, dex.Fee500, ether(2000))
	router.SetQuote(testWETH, testDAI, dex.Fee500, ether(2000))
	router.SetQuote(testDAI, testUSDC, dex.Fee100, dex.RAY)
	for _, token := range []common.Address{testUSDC, testDAI} {
		require.NoError(t, erc20.Mint(state, token, router.Address(), ether(1_000_000)))
	}

	converter := dex.NewDaiUsds(common.HexToAddress(dex.LXConverterAddress), testDAI, testUSDS)
	conv, err := convert.NewGateway(converter, testDAI, testUSDS)
	require.NoError(t, err)

	return &fixture{
		state:  state,
		oracle: oracle,
		aave:   aave,
		morpho: morpho,
		market: market,
		router: swap.NewGateway(router.Address(), router),
		conv:   conv,
	}
}

// fund mints amount of token to holder and approves spender for all of it.
func fund(t *testing.T, state *contract.State, token, holder, spender common.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, erc20.Mint(state, token, holder, amount))
	require.NoError(t, erc20.Approve(state, token, holder, spender, erc20.MaxUint256))
}

// newComet lists WETH as collateral against base and lets testSelf manage
// testUser's account.
func (f *fixture) newComet(t *testing.T, base common.Address, liquidity *big.Int) *dex.Comet {
	t.Helper()
	comet, err := dex.NewComet(dex.CometConfig{
		Address:       common.HexToAddress(dex.LXCometAddress),
		BaseToken:     base,
		BaseBorrowMin: ether(100),
		Collaterals:   map[common.Address]*big.Int{testWETH: pct(80)},
	}, f.oracle)
	require.NoError(t, err)
	if liquidity != nil {
		require.NoError(t, erc20.Mint(f.state, base, comet.Address(), liquidity))
	}
	comet.Allow(f.state, testUser, testSelf, true)
	return comet
}

// openAave supplies 10 WETH for testUser, borrows debt of asset and
// approves testSelf on the aWETH.
func (f *fixture) openAave(t *testing.T, asset common.Address, debt *big.Int) {
	t.Helper()
	fund(t, f.state, testWETH, testUser, f.aave.Address(), ether(10))
	require.NoError(t, f.aave.Supply(f.state, testUser, testWETH, ether(10), testUser))
	require.NoError(t, f.aave.Borrow(f.state, testUser, asset, debt, ledger.VariableRateMode, testUser))
	require.NoError(t, erc20.Approve(f.state, testAWETH, testUser, testSelf, erc20.MaxUint256))
}

// openMorpho posts 10 WETH for testUser, borrows debt USDC and authorizes
// testSelf.
func (f *fixture) openMorpho(t *testing.T, debt *big.Int) {
	t.Helper()
	fund(t, f.state, testWETH, testUser, f.morpho.Address(), ether(10))
	require.NoError(t, f.morpho.SupplyCollateral(f.state, testUser, f.market, ether(10), testUser))
	_, err := f.morpho.Borrow(f.state, testUser, f.market, debt, testUser, testUser)
	require.NoError(t, err)
	f.morpho.SetAuthorization(f.state, testUser, testSelf, true)
}

func (f *fixture) aaveSource(t *testing.T) *AaveSource {
	t.Helper()
	src, err := NewAaveSource(f.aave, f.aave, f.aave)
	require.NoError(t, err)
	return src
}

func (f *fixture) morphoSource(t *testing.T) *MorphoSource {
	t.Helper()
	src, err := NewMorphoSource(f.morpho)
	require.NoError(t, err)
	return src
}

func (f *fixture) config(caps Capabilities, full bool) Config {
	return Config{
		Name:          "test",
		Address:       testAdapterAddr,
		Router:        f.router,
		Converter:     f.conv,
		WrappedNative: testWETH,
		FullMigration: full,
		Capabilities:  caps,
	}
}

func (f *fixture) newAdapter(t *testing.T, src Source, caps Capabilities, full bool) *Adapter {
	t.Helper()
	a, err := New(f.config(caps, full), src, WithLogger(testLogger()))
	require.NoError(t, err)
	return a
}

// flash credits testSelf with a flash loan of amount and returns the
// context the pipeline settles it with.
func (f *fixture) flash(t *testing.T, comet ledger.Comet, token common.Address, amount, owed *big.Int) *FlashLoan {
	t.Helper()
	fl := &FlashLoan{
		Pool:             testPool,
		Token:            token,
		AmountOwed:       owed,
		PreBridgeBalance: erc20.BalanceOf(f.state, token, testSelf),
		PreBaseBalance:   erc20.BalanceOf(f.state, comet.BaseToken(), testSelf),
	}
	require.NoError(t, erc20.Mint(f.state, token, testSelf, amount))
	return fl
}

func mustPath(t *testing.T, tokens []common.Address, fees []uint32) []byte {
	t.Helper()
	path, err := swap.NewPath(tokens, fees)
	require.NoError(t, err)
	return path.Encode()
}

func encodeAave(t *testing.T, pos Position) []byte {
	t.Helper()
	data, err := EncodeAavePosition(pos)
	require.NoError(t, err)
	return data
}

func encodeMorpho(t *testing.T, pos Position) []byte {
	t.Helper()
	data, err := EncodeMorphoPosition(pos)
	require.NoError(t, err)
	return data
}

func marketLine(params ledger.MarketParams) Line {
	return Line(dex.MarketIDOf(params))
}
