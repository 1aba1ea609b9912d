// Package metrics exposes prometheus collectors for ledger activity.
package metrics

import (
	"math/big"
	"net/http"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"interest-bank/internal/domain"
	apperrors "interest-bank/internal/errors"
)

const namespace = "interest_bank"

// Metrics owns its registry so that several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	actions  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	replays  *prometheus.CounterVec
	pool     *prometheus.GaugeVec
	loans    prometheus.Gauge
	accounts prometheus.Gauge
	block    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "actions_total",
			Help:      "Ledger actions segmented by kind and outcome code.",
		}, []string{"action", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "action_duration_seconds",
			Help:      "Latency of ledger actions including the asset transfer.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "idempotent_replays_total",
			Help:      "Requests answered from the journal instead of executed.",
		}, []string{"action"}),
		pool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "base_units",
			Help:      "Pool amounts in token base units as of the last observed block.",
		}, []string{"measure"}),
		loans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "outstanding_loans",
			Help:      "Number of open loans.",
		}),
		accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "accounts",
			Help:      "Number of depositor accounts ever opened.",
		}),
		block: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "block_height",
			Help:      "Current block height.",
		}),
	}

	m.registry.MustRegister(
		m.actions,
		m.latency,
		m.replays,
		m.pool,
		m.loans,
		m.accounts,
		m.block,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one executed action. The outcome label is "ok" or the
// error code of the rejection.
func (m *Metrics) Observe(action domain.EntryKind, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.AsAppError(err).Code)
	}
	m.actions.WithLabelValues(string(action), outcome).Inc()
	m.latency.WithLabelValues(string(action)).Observe(duration.Seconds())
}

// Replayed counts a request served from the journal.
func (m *Metrics) Replayed(action domain.EntryKind) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(string(action)).Inc()
}

// SetStats publishes a pool snapshot.
func (m *Metrics) SetStats(stats *domain.LedgerStats) {
	if m == nil || stats == nil {
		return
	}
	m.pool.WithLabelValues("liquidity").Set(toFloat(stats.Liquidity))
	m.pool.WithLabelValues("total_deposits").Set(toFloat(stats.TotalDeposits))
	m.pool.WithLabelValues("outstanding_principal").Set(toFloat(stats.OutstandingPrincipal))
	m.loans.Set(float64(stats.OutstandingLoans))
	m.accounts.Set(float64(stats.Accounts))
	m.block.Set(float64(stats.Block))
}

// SetBlock publishes the block height.
func (m *Metrics) SetBlock(height uint64) {
	if m == nil {
		return
	}
	m.block.Set(float64(height))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
