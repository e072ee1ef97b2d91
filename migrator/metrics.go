// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package migrator

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

// Migration outcomes
const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics counts migrations. A nil *Metrics records nothing.
type Metrics struct {
	migrations    *prometheus.CounterVec
	shortfalls    *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
}

// NewMetrics creates the migrator collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrator_migrations_total",
			Help: "Migrations by adapter and outcome.",
		}, []string{"adapter", "status"}),
		shortfalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrator_flash_shortfall_total",
			Help: "Flash-funded migrations that withdrew from the user's Comet account to repay the loan.",
		}, []string{"adapter"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrator_stage_failures_total",
			Help: "Failed migrations by the pipeline stage that failed.",
		}, []string{"stage"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.migrations, m.shortfalls, m.stageFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeSuccess(adapter string, shortfall *big.Int) {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues(adapter, statusSuccess).Inc()
	if shortfall != nil && shortfall.Sign() > 0 {
		m.shortfalls.WithLabelValues(adapter).Inc()
	}
}

func (m *Metrics) observeFailure(adapter, stage string) {
	if m == nil {
		return
	}
	if adapter == "" {
		adapter = "unknown"
	}
	m.migrations.WithLabelValues(adapter, statusFailure).Inc()
	if stage != "" {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}
