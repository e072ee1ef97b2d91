// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package migrator moves positions into Compound III markets. A migration
// borrows the Comet base asset, or its stable counterpart, from a Uniswap V3
// pool and hands the settlement to the adapter registered for the source
// protocol; the loan is repaid before the flash callback returns, so a
// migration either completes or leaves no trace.
package migrator

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/luxfi/migrator/adapter"
	"github.com/luxfi/migrator/ledger"
)

const tracerName = "github.com/luxfi/migrator"

// Errors - Registration
var (
	ErrZeroAddress       = errors.New("migrator: zero address")
	ErrAlreadyRegistered = errors.New("migrator: adapter already registered for comet")
	ErrInvalidFlashToken = errors.New("migrator: flash token is neither the comet base asset nor its stable counterpart")
)

// Errors - Migration
var (
	ErrNotRegistered      = errors.New("migrator: adapter not registered for comet")
	ErrInvalidCallback    = errors.New("migrator: unexpected flash callback")
	ErrFlashLoanNotRepaid = errors.New("migrator: flash loan not repaid")
	ErrMalformedInput     = errors.New("migrator: malformed call input")
)

// FlashConfig names the pool and token a market's migrations borrow.
type FlashConfig struct {
	Pool  ledger.FlashLender
	Token common.Address
}

// Receipt is the completion record of a migration.
type Receipt struct {
	Adapter     common.Address
	User        common.Address
	Comet       common.Address
	FlashAmount *big.Int
	FlashFee    *big.Int
	Result      *adapter.Result
}

type marketKey struct {
	adapter common.Address
	comet   common.Address
}

type market struct {
	adapter *adapter.Adapter
	comet   ledger.Comet
	flash   FlashConfig
}

// Config configures a Migrator.
type Config struct {
	// Address is the account adapters act as.
	Address common.Address
}

// Migrator is the entry point of every migration. Registration is
// expected at deployment; Migrate may be called concurrently on separate
// states.
type Migrator struct {
	address common.Address

	markets map[marketKey]*market
	mu      sync.RWMutex

	metrics *Metrics
	tracer  trace.Tracer
	log     log.Logger
}

// Option configures a Migrator.
type Option func(*Migrator)

func WithLogger(logger log.Logger) Option {
	return func(m *Migrator) {
		if logger != nil {
			m.log = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Migrator) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Migrator) {
		m.metrics = metrics
	}
}

// New returns a migrator with no registered markets.
func New(cfg Config, opts ...Option) (*Migrator, error) {
	if cfg.Address == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	m := &Migrator{
		address: cfg.Address,
		markets: make(map[marketKey]*market),
		tracer:  otel.Tracer(tracerName),
		log:     log.Root(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Migrator) Address() common.Address {
	return m.address
}

// Register enables migrations through a into comet, funded by flash.
func (m *Migrator) Register(a *adapter.Adapter, comet ledger.Comet, flash FlashConfig) error {
	if a == nil || comet == nil || flash.Pool == nil {
		return ErrZeroAddress
	}
	if a.Address() == (common.Address{}) || comet.Address() == (common.Address{}) ||
		flash.Pool.Address() == (common.Address{}) || flash.Token == (common.Address{}) {
		return ErrZeroAddress
	}
	if flash.Token != flash.Pool.Token0() && flash.Token != flash.Pool.Token1() {
		return fmt.Errorf("%w: pool %s does not lend %s", ErrInvalidFlashToken, flash.Pool.Address().Hex(), flash.Token.Hex())
	}
	if base := comet.BaseToken(); flash.Token != base {
		conv := a.Converter()
		if conv == nil || !conv.IsPair(flash.Token, base) {
			return fmt.Errorf("%w: token %s, base %s", ErrInvalidFlashToken, flash.Token.Hex(), base.Hex())
		}
	}

	key := marketKey{adapter: a.Address(), comet: comet.Address()}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.markets[key]; exists {
		return fmt.Errorf("%w: adapter %s comet %s", ErrAlreadyRegistered, key.adapter.Hex(), key.comet.Hex())
	}
	m.markets[key] = &market{adapter: a, comet: comet, flash: flash}

	m.log.Info("migration market registered",
		"adapter", a.Name(),
		"comet", comet.Address(),
		"pool", flash.Pool.Address(),
		"flashToken", flash.Token,
	)
	return nil
}

func (m *Migrator) market(adapterAddr, cometAddr common.Address) (*market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mk, ok := m.markets[marketKey{adapter: adapterAddr, comet: cometAddr}]
	if !ok {
		return nil, fmt.Errorf("%w: adapter %s comet %s", ErrNotRegistered, adapterAddr.Hex(), cometAddr.Hex())
	}
	return mk, nil
}
