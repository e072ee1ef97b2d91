// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the deployment description of a migrator: which
// adapters exist, what they may do and which Comet markets they feed.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/luxfi/geth/common"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Adapter kinds
const (
	KindAave   = "aave"
	KindSpark  = "spark"
	KindMorpho = "morpho"
)

var ErrInvalidConfig = errors.New("config: invalid deployment")

// Deployment describes one migrator and everything registered with it.
type Deployment struct {
	Migrator      string          `yaml:"migrator"`
	Router        string          `yaml:"router"`
	WrappedNative string          `yaml:"wrapped_native"`
	Converter     ConverterConfig `yaml:"converter"`
	Adapters      []AdapterConfig `yaml:"adapters"`
	Markets       []MarketConfig  `yaml:"markets"`
}

// ConverterConfig locates the DAI/USDS converter. Empty when no adapter
// converts.
type ConverterConfig struct {
	Address string `yaml:"address"`
	DAI     string `yaml:"dai"`
	USDS    string `yaml:"usds"`
}

// AdapterConfig is one source protocol adapter.
type AdapterConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Address string `yaml:"address"`

	// Pool is the Aave or Spark pool, or the Morpho singleton
	Pool string `yaml:"pool"`

	FullMigration bool               `yaml:"full_migration"`
	Capabilities  CapabilitiesConfig `yaml:"capabilities"`
}

type CapabilitiesConfig struct {
	Conversion bool `yaml:"conversion"`
	NativeWrap bool `yaml:"native_wrap"`

	// Nil until normalized; an omitted guard is on
	ReentrancyGuard *bool `yaml:"reentrancy_guard"`
}

// Guarded reports whether nested executions are rejected.
func (c CapabilitiesConfig) Guarded() bool {
	return c.ReentrancyGuard == nil || *c.ReentrancyGuard
}

// MarketConfig enables one adapter for one Comet market.
type MarketConfig struct {
	Adapter    string `yaml:"adapter"`
	Comet      string `yaml:"comet"`
	FlashPool  string `yaml:"flash_pool"`
	FlashToken string `yaml:"flash_token"`
}

// Load reads the YAML deployment at path and validates it.
func Load(path string) (*Deployment, error) {
	if path == "" {
		return nil, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	return decode(file)
}

// Parse decodes a YAML deployment and validates it.
func Parse(data []byte) (*Deployment, error) {
	return decode(bytes.NewReader(data))
}

func decode(r io.Reader) (*Deployment, error) {
	var d Deployment
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	d.normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Deployment) normalize() {
	if d == nil {
		return
	}
	d.Migrator = strings.TrimSpace(d.Migrator)
	d.Router = strings.TrimSpace(d.Router)
	d.WrappedNative = strings.TrimSpace(d.WrappedNative)
	d.Converter.Address = strings.TrimSpace(d.Converter.Address)
	d.Converter.DAI = strings.TrimSpace(d.Converter.DAI)
	d.Converter.USDS = strings.TrimSpace(d.Converter.USDS)

	for i := range d.Adapters {
		a := &d.Adapters[i]
		a.Kind = strings.ToLower(strings.TrimSpace(a.Kind))
		a.Address = strings.TrimSpace(a.Address)
		a.Pool = strings.TrimSpace(a.Pool)
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			a.Name = a.Kind
		}
		if a.Capabilities.ReentrancyGuard == nil {
			guarded := true
			a.Capabilities.ReentrancyGuard = &guarded
		}
	}
	for i := range d.Markets {
		m := &d.Markets[i]
		m.Adapter = strings.TrimSpace(m.Adapter)
		m.Comet = strings.TrimSpace(m.Comet)
		m.FlashPool = strings.TrimSpace(m.FlashPool)
		m.FlashToken = strings.TrimSpace(m.FlashToken)
	}
}

// Validate reports every problem of the deployment at once.
func (d *Deployment) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: configuration is missing", ErrInvalidConfig)
	}
	var errs error
	check := func(field, value string) {
		if err := checkAddress(value); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err))
		}
	}

	check("migrator", d.Migrator)
	check("router", d.Router)
	if len(d.Adapters) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: at least one adapter is required", ErrInvalidConfig))
	}

	adapters := make(map[string]AdapterConfig, len(d.Adapters))
	addresses := make(map[string]string, len(d.Adapters))
	for i, a := range d.Adapters {
		prefix := fmt.Sprintf("adapters[%d]", i)
		switch a.Kind {
		case KindAave, KindSpark, KindMorpho:
		default:
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidConfig, prefix, a.Kind))
		}
		check(prefix+".address", a.Address)
		check(prefix+".pool", a.Pool)
		if _, dup := adapters[a.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: duplicate name %q", ErrInvalidConfig, prefix, a.Name))
		}
		if other, dup := addresses[strings.ToLower(a.Address)]; dup && a.Address != "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: address shared with %q", ErrInvalidConfig, prefix, other))
		}
		adapters[a.Name] = a
		addresses[strings.ToLower(a.Address)] = a.Name

		if a.Capabilities.Conversion {
			check(prefix+": conversion needs converter.address", d.Converter.Address)
			check(prefix+": conversion needs converter.dai", d.Converter.DAI)
			check(prefix+": conversion needs converter.usds", d.Converter.USDS)
		}
		if a.Capabilities.NativeWrap {
			check(prefix+": native_wrap needs wrapped_native", d.WrappedNative)
		}
	}

	seen := make(map[[2]string]bool, len(d.Markets))
	for i, m := range d.Markets {
		prefix := fmt.Sprintf("markets[%d]", i)
		if _, ok := adapters[m.Adapter]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: unknown adapter %q", ErrInvalidConfig, prefix, m.Adapter))
		}
		check(prefix+".comet", m.Comet)
		check(prefix+".flash_pool", m.FlashPool)
		check(prefix+".flash_token", m.FlashToken)
		key := [2]string{m.Adapter, strings.ToLower(m.Comet)}
		if seen[key] {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: adapter %q already feeds comet %s", ErrInvalidConfig, prefix, m.Adapter, m.Comet))
		}
		seen[key] = true
	}
	return errs
}

// Adapter returns the adapter entry called name.
func (d *Deployment) Adapter(name string) (AdapterConfig, bool) {
	for _, a := range d.Adapters {
		if a.Name == name {
			return a, true
		}
	}
	return AdapterConfig{}, false
}

func checkAddress(value string) error {
	if value == "" {
		return errors.New("address required")
	}
	if !common.IsHexAddress(value) {
		return fmt.Errorf("malformed address %q", value)
	}
	if common.HexToAddress(value) == (common.Address{}) {
		return errors.New("zero address")
	}
	return nil
}
