// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/convert"
	"github.com/luxfi/migrator/swap"
)

const tracerName = "github.com/luxfi/migrator/adapter"

var guardPrefix = []byte("adapter/guard")

// Adapter runs the settlement pipeline for one source protocol.
type Adapter struct {
	cfg    Config
	source Source

	log    log.Logger
	tracer trace.Tracer
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger stage transitions are reported to.
func WithLogger(logger log.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.log = logger
		}
	}
}

// WithTracer sets the tracer pipeline stages are traced with.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Adapter) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

// New validates cfg and returns an adapter settling positions of source.
func New(cfg Config, source Source, opts ...Option) (*Adapter, error) {
	switch {
	case source == nil:
		return nil, ErrMissingSource
	case cfg.Address == (common.Address{}):
		return nil, fmt.Errorf("%w: adapter address", ErrZeroAddress)
	case cfg.Router == nil || cfg.Router.Router == nil:
		return nil, ErrMissingRouter
	case cfg.Router.Address == (common.Address{}):
		return nil, fmt.Errorf("%w: router address", ErrZeroAddress)
	case cfg.Conversion && cfg.Converter == nil:
		return nil, ErrMissingConverter
	case cfg.NativeWrap && cfg.WrappedNative == (common.Address{}):
		return nil, fmt.Errorf("%w: wrapped native token", ErrZeroAddress)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Address.Hex()
	}

	a := &Adapter{
		cfg:    cfg,
		source: source,
		log:    log.Root(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Adapter) Address() common.Address {
	return a.cfg.Address
}

func (a *Adapter) Name() string {
	return a.cfg.Name
}

func (a *Adapter) Capabilities() Capabilities {
	return a.cfg.Capabilities
}

// Converter returns the stablecoin gateway, or nil when conversion is off.
func (a *Adapter) Converter() *convert.Gateway {
	if !a.cfg.Conversion {
		return nil
	}
	return a.cfg.Converter
}

// Execute runs the pipeline for call. Every failure is a *StageError; the
// caller is expected to discard the state changes of a failed execution.
func (a *Adapter) Execute(ctx context.Context, state contract.AccessibleState, call Call) (*Result, error) {
	if call.Comet == nil || call.Self == (common.Address{}) || call.User == (common.Address{}) {
		return nil, &StageError{Stage: StageIdle, Err: ErrZeroAddress}
	}
	if a.cfg.ReentrancyGuard {
		release, err := a.enter(state.GetStateDB(), call.Self)
		if err != nil {
			return nil, &StageError{Stage: StageIdle, Err: err}
		}
		defer release()
	}

	pos, err := a.source.Decode(call.Data)
	if err != nil {
		return nil, &StageError{Stage: StageIdle, Err: err}
	}
	if err := a.validate(pos); err != nil {
		return nil, err
	}

	res := &Result{
		Stage:   StageIdle,
		Borrows:     len(pos.Borrows),
		Collaterals: len(pos.Collaterals),
		Shortfall:   new(big.Int),
		Withdrawn:   new(big.Int),
		Swept:       new(big.Int),
	}
	err = a.stage(ctx, StageRepayBorrows, call, res, func() error {
		return a.repayBorrows(state, call, pos.Borrows)
	})
	if err != nil {
		return nil, err
	}
	err = a.stage(ctx, StageMigrateCollateral, call, res, func() error {
		return a.migrateCollaterals(state, call, pos.Collaterals)
	})
	if err != nil {
		return nil, err
	}
	if call.Flash != nil {
		err = a.stage(ctx, StageRepayFlashLoan, call, res, func() error {
			return a.repayFlashLoan(state, call, res)
		})
		if err != nil {
			return nil, err
		}
	}

	a.enterStage(ctx, StageDone, call, res).End()
	a.log.Debug("adapter pipeline done",
		"adapter", a.cfg.Name,
		"user", call.User,
		"borrows", res.Borrows,
		"collaterals", res.Collaterals,
		"shortfall", res.Shortfall,
	)
	return res, nil
}

// stage enters stage and runs fn inside its span, wrapping a failure with
// the stage.
func (a *Adapter) stage(ctx context.Context, stage Stage, call Call, res *Result, fn func() error) error {
	span := a.enterStage(ctx, stage, call, res)
	defer span.End()

	err := fn()
	if err == nil {
		return nil
	}

	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: stage, Err: err}
	}
	se.Stage = stage
	span.RecordError(se)
	span.SetStatus(codes.Error, se.Error())
	a.log.Debug("adapter stage failed", "adapter", a.cfg.Name, "stage", stage, "err", se)
	return se
}

// enterStage records the transition of res to stage and opens its span.
func (a *Adapter) enterStage(ctx context.Context, stage Stage, call Call, res *Result) trace.Span {
	res.Stage = stage
	_, span := a.tracer.Start(ctx, "adapter."+stage.String(), trace.WithAttributes(
		attribute.String("adapter", a.cfg.Name),
		attribute.String("user", call.User.Hex()),
		attribute.String("comet", call.Comet.Address().Hex()),
	))
	a.log.Debug("adapter stage", "adapter", a.cfg.Name, "stage", stage, "user", call.User)
	return span
}

// enter takes the call guard for this adapter in self's transient storage.
func (a *Adapter) enter(db contract.StateDB, self common.Address) (func(), error) {
	key := contract.StorageKey(guardPrefix, a.cfg.Address.Bytes())
	if db.GetTransientState(self, key) != (common.Hash{}) {
		return nil, ErrReentrant
	}
	db.SetTransientState(self, key, common.BytesToHash([]byte{1}))
	return func() {
		db.SetTransientState(self, key, common.Hash{})
	}, nil
}

// validate checks everything about a position that can be checked without
// touching a ledger.
func (a *Adapter) validate(pos Position) error {
	for i, b := range pos.Borrows {
		fail := func(err error) error {
			return &StageError{Stage: StageIdle, Kind: "borrow", Index: i, Line: b.Line, Err: err}
		}
		if b.Amount == nil || b.Amount.Sign() <= 0 {
			return fail(ErrZeroAmount)
		}
		if len(b.Swap.Path) == 0 {
			continue
		}
		path, err := a.checkPath(b.Swap.Path)
		if err != nil {
			return fail(err)
		}
		if !path.IsConvert() && (b.Swap.AmountInMaximum == nil || b.Swap.AmountInMaximum.Sign() == 0) {
			return fail(ErrInvalidSlippage)
		}
	}
	for i, c := range pos.Collaterals {
		fail := func(err error) error {
			return &StageError{Stage: StageIdle, Kind: "collateral", Index: i, Line: c.Line, Err: err}
		}
		if c.Amount == nil || c.Amount.Sign() <= 0 {
			return fail(ErrZeroAmount)
		}
		if len(c.Swap.Path) == 0 {
			continue
		}
		if _, err := a.checkPath(c.Swap.Path); err != nil {
			return fail(err)
		}
	}
	return nil
}

// checkPath decodes raw and rejects convert routes this adapter cannot
// take.
func (a *Adapter) checkPath(raw []byte) (swap.Path, error) {
	path, err := swap.DecodePath(raw)
	if err != nil {
		return swap.Path{}, err
	}
	if path.IsConvert() && !a.converts(path) {
		return swap.Path{}, fmt.Errorf("%w: no converter for %s", swap.ErrInvalidPath, path)
	}
	return path, nil
}

// converts reports whether path is routed through the converter.
func (a *Adapter) converts(path swap.Path) bool {
	return path.IsConvert() && a.canConvert(path.Leading(), path.Trailing())
}

// canConvert reports whether the converter bridges a and b.
func (a *Adapter) canConvert(x, y common.Address) bool {
	conv := a.Converter()
	return conv != nil && conv.IsPair(x, y)
}
