// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/luxfi/migrator/adapter"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/convert"
	"github.com/luxfi/migrator/ledger"
	"github.com/luxfi/migrator/migrator"
	"github.com/luxfi/migrator/modules"
	"github.com/luxfi/migrator/swap"
)

// aaveLike is an Aave V3 style pool serving every view the Aave adapter
// reads.
type aaveLike interface {
	ledger.AavePool
	ledger.ReserveToken
	ledger.DataProvider
}

// Runtime carries the observability a built deployment reports to. Zero
// values fall back to the package defaults.
type Runtime struct {
	Logger  log.Logger
	Tracer  trace.Tracer
	Metrics *migrator.Metrics
}

// Build wires the deployment over the contracts in reg and registers every
// market with a new Migrator.
func (d *Deployment) Build(reg *modules.Registry, rt Runtime) (*migrator.Migrator, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	routerAddr := common.HexToAddress(d.Router)
	router, err := modules.Lookup[contract.Contract](reg, routerAddr)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	gateway := swap.NewGateway(routerAddr, router)

	var conv *convert.Gateway
	if d.Converter.Address != "" {
		converter, err := modules.Lookup[ledger.Converter](reg, common.HexToAddress(d.Converter.Address))
		if err != nil {
			return nil, fmt.Errorf("converter: %w", err)
		}
		conv, err = convert.NewGateway(converter, common.HexToAddress(d.Converter.DAI), common.HexToAddress(d.Converter.USDS))
		if err != nil {
			return nil, fmt.Errorf("converter: %w", err)
		}
	}

	m, err := migrator.New(migrator.Config{Address: common.HexToAddress(d.Migrator)},
		migrator.WithLogger(rt.Logger),
		migrator.WithTracer(rt.Tracer),
		migrator.WithMetrics(rt.Metrics),
	)
	if err != nil {
		return nil, err
	}

	adapters := make(map[string]*adapter.Adapter, len(d.Adapters))
	for _, ac := range d.Adapters {
		source, err := newSource(reg, ac)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", ac.Name, err)
		}
		a, err := adapter.New(adapter.Config{
			Name:          ac.Name,
			Address:       common.HexToAddress(ac.Address),
			Router:        gateway,
			Converter:     conv,
			WrappedNative: addressOrZero(d.WrappedNative),
			FullMigration: ac.FullMigration,
			Capabilities: adapter.Capabilities{
				Conversion:      ac.Capabilities.Conversion,
				NativeWrap:      ac.Capabilities.NativeWrap,
				ReentrancyGuard: ac.Capabilities.Guarded(),
			},
		}, source, adapter.WithLogger(rt.Logger), adapter.WithTracer(rt.Tracer))
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", ac.Name, err)
		}
		adapters[ac.Name] = a
	}

	for i, mc := range d.Markets {
		comet, err := modules.Lookup[ledger.Comet](reg, common.HexToAddress(mc.Comet))
		if err != nil {
			return nil, fmt.Errorf("markets[%d] comet: %w", i, err)
		}
		pool, err := modules.Lookup[ledger.FlashLender](reg, common.HexToAddress(mc.FlashPool))
		if err != nil {
			return nil, fmt.Errorf("markets[%d] flash pool: %w", i, err)
		}
		err = m.Register(adapters[mc.Adapter], comet, migrator.FlashConfig{
			Pool:  pool,
			Token: common.HexToAddress(mc.FlashToken),
		})
		if err != nil {
			return nil, fmt.Errorf("markets[%d]: %w", i, err)
		}
	}
	return m, nil
}

func newSource(reg *modules.Registry, ac AdapterConfig) (adapter.Source, error) {
	poolAddr := common.HexToAddress(ac.Pool)
	switch ac.Kind {
	case KindAave, KindSpark:
		pool, err := modules.Lookup[aaveLike](reg, poolAddr)
		if err != nil {
			return nil, err
		}
		src, err := adapter.NewAaveSource(pool, pool, pool)
		if err != nil {
			return nil, err
		}
		return src, nil
	case KindMorpho:
		morpho, err := modules.Lookup[ledger.Morpho](reg, poolAddr)
		if err != nil {
			return nil, err
		}
		src, err := adapter.NewMorphoSource(morpho)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, ac.Kind)
	}
}

func addressOrZero(value string) common.Address {
	if value == "" {
		return common.Address{}
	}
	return common.HexToAddress(value)
}
