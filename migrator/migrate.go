// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package migrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/luxfi/migrator/adapter"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/ledger"
)

// Transient slot holding the hash of the callback payload the migrator
// expects while a flash loan is outstanding.
var callbackPrefix = []byte("migrator/callback")

var _ ledger.FlashBorrower = (*flashCall)(nil)

// Migrate moves the position encoded in data from the source protocol of
// adapterAddr into cometAddr on behalf of user. A zero flashAmount runs the
// adapter without a flash loan. Any failure reverts every state change the
// migration made.
func (m *Migrator) Migrate(
	ctx context.Context,
	state contract.AccessibleState,
	user common.Address,
	adapterAddr common.Address,
	cometAddr common.Address,
	data []byte,
	flashAmount *big.Int,
) (receipt *Receipt, err error) {
	ctx, span := m.tracer.Start(ctx, "migrator.Migrate", trace.WithAttributes(
		attribute.String("adapter", adapterAddr.Hex()),
		attribute.String("comet", cometAddr.Hex()),
		attribute.String("user", user.Hex()),
	))
	defer span.End()

	mk, err := m.market(adapterAddr, cometAddr)
	if err != nil {
		m.fail(span, "", err)
		return nil, err
	}
	name := mk.adapter.Name()
	if user == (common.Address{}) {
		m.fail(span, name, ErrZeroAddress)
		return nil, ErrZeroAddress
	}
	if flashAmount == nil {
		flashAmount = new(big.Int)
	}
	if flashAmount.Sign() < 0 {
		err := fmt.Errorf("%w: negative flash amount", adapter.ErrZeroAmount)
		m.fail(span, name, err)
		return nil, err
	}

	db := state.GetStateDB()
	snapshot := db.Snapshot()
	defer func() {
		if err != nil {
			db.RevertToSnapshot(snapshot)
			receipt = nil
			m.fail(span, name, err)
		}
	}()

	m.log.Debug("migration started",
		"adapter", name,
		"user", user,
		"comet", cometAddr,
		"flashAmount", flashAmount,
	)

	receipt = &Receipt{
		Adapter:     adapterAddr,
		User:        user,
		Comet:       cometAddr,
		FlashAmount: new(big.Int).Set(flashAmount),
		FlashFee:    new(big.Int),
	}
	if flashAmount.Sign() == 0 {
		receipt.Result, err = mk.adapter.Execute(ctx, state, adapter.Call{
			Self:  m.address,
			User:  user,
			Comet: mk.comet,
			Data:  data,
		})
	} else {
		receipt.Result, receipt.FlashFee, err = m.flash(ctx, state, mk, receipt, data)
	}
	if err != nil {
		return nil, err
	}

	err = MigratorABI.EmitEvent(db, m.address, EventMigrationExecuted,
		adapterAddr, user, cometAddr, receipt.FlashAmount, receipt.FlashFee)
	if err != nil {
		return nil, err
	}

	m.metrics.observeSuccess(name, receipt.Result.Shortfall)
	m.log.Info("migration executed",
		"adapter", name,
		"user", user,
		"comet", cometAddr,
		"flashAmount", receipt.FlashAmount,
		"flashFee", receipt.FlashFee,
		"shortfall", receipt.Result.Shortfall,
	)
	return receipt, nil
}

// flash borrows the registered flash token and runs the adapter from the
// pool's callback.
func (m *Migrator) flash(
	ctx context.Context,
	state contract.AccessibleState,
	mk *market,
	receipt *Receipt,
	data []byte,
) (*adapter.Result, *big.Int, error) {
	db := state.GetStateDB()
	pool := mk.flash.Pool

	payload, err := callbackPayload{
		User:        receipt.User,
		Adapter:     receipt.Adapter,
		Comet:       receipt.Comet,
		FlashAmount: receipt.FlashAmount,
		Data:        data,
	}.encode()
	if err != nil {
		return nil, nil, err
	}
	key := contract.StorageKey(callbackPrefix)
	db.SetTransientState(m.address, key, payloadHash(payload))
	defer db.SetTransientState(m.address, key, common.Hash{})

	amount0, amount1 := new(big.Int), new(big.Int)
	if mk.flash.Token == pool.Token0() {
		amount0 = receipt.FlashAmount
	} else {
		amount1 = receipt.FlashAmount
	}

	poolBefore := erc20.BalanceOf(db, mk.flash.Token, pool.Address())
	borrower := &flashCall{m: m, ctx: ctx}
	if err := pool.Flash(state, m.address, borrower, m.address, amount0, amount1, payload); err != nil {
		return nil, nil, err
	}
	if borrower.result == nil {
		return nil, nil, fmt.Errorf("%w: pool %s never called back", ErrInvalidCallback, pool.Address().Hex())
	}

	want := new(big.Int).Add(poolBefore, borrower.fee)
	if got := erc20.BalanceOf(db, mk.flash.Token, pool.Address()); got.Cmp(want) < 0 {
		return nil, nil, fmt.Errorf("%w: pool balance %s, want %s", ErrFlashLoanNotRepaid, got, want)
	}
	return borrower.result, borrower.fee, nil
}

// flashCall is the borrower handed to the pool for one migration. It
// carries the caller's context through the callback and collects the
// adapter result. The callback only accepts the payload the migrator
// requested, from the pool registered for the migration.
type flashCall struct {
	m   *Migrator
	ctx context.Context

	result *adapter.Result
	fee    *big.Int
}

func (c *flashCall) UniswapV3FlashCallback(state contract.AccessibleState, caller common.Address, fee0, fee1 *big.Int, data []byte) error {
	result, fee, err := c.m.onFlash(c.ctx, state, caller, fee0, fee1, data)
	if err != nil {
		return err
	}
	c.result, c.fee = result, fee
	return nil
}

// onFlash runs the adapter inside the loan.
func (m *Migrator) onFlash(
	ctx context.Context,
	state contract.AccessibleState,
	caller common.Address,
	fee0, fee1 *big.Int,
	data []byte,
) (*adapter.Result, *big.Int, error) {
	db := state.GetStateDB()
	key := contract.StorageKey(callbackPrefix)
	expected := db.GetTransientState(m.address, key)
	if expected == (common.Hash{}) || expected != payloadHash(data) {
		return nil, nil, fmt.Errorf("%w: payload not requested", ErrInvalidCallback)
	}
	p, err := decodeCallbackPayload(data)
	if err != nil {
		return nil, nil, err
	}
	mk, err := m.market(p.Adapter, p.Comet)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	pool := mk.flash.Pool
	if caller != pool.Address() {
		return nil, nil, fmt.Errorf("%w: caller %s is not pool %s", ErrInvalidCallback, caller.Hex(), pool.Address().Hex())
	}
	// Single use
	db.SetTransientState(m.address, key, common.Hash{})

	fee := fee1
	if mk.flash.Token == pool.Token0() {
		fee = fee0
	}
	if fee == nil {
		fee = new(big.Int)
	}

	token := mk.flash.Token
	base := mk.comet.BaseToken()
	preBridge := new(big.Int).Sub(erc20.BalanceOf(db, token, m.address), p.FlashAmount)
	if preBridge.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: loan of %s not received", ErrInvalidCallback, p.FlashAmount)
	}
	preBase := preBridge
	if base != token {
		preBase = erc20.BalanceOf(db, base, m.address)
	}

	result, err := mk.adapter.Execute(ctx, state, adapter.Call{
		Self:  m.address,
		User:  p.User,
		Comet: mk.comet,
		Data:  p.Data,
		Flash: &adapter.FlashLoan{
			Pool:             pool.Address(),
			Token:            token,
			AmountOwed:       new(big.Int).Add(p.FlashAmount, fee),
			PreBridgeBalance: preBridge,
			PreBaseBalance:   preBase,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return result, new(big.Int).Set(fee), nil
}

// fail records a failed migration.
func (m *Migrator) fail(span trace.Span, adapterName string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	stage := ""
	var stageErr *adapter.StageError
	if errors.As(err, &stageErr) {
		stage = stageErr.Stage.String()
	}
	m.metrics.observeFailure(adapterName, stage)
	m.log.Warn("migration failed", "adapter", adapterName, "stage", stage, "err", err)
}

func payloadHash(payload []byte) common.Hash {
	return common.BytesToHash(crypto.Keccak256(payload))
}
