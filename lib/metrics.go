package lib

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* This file implements dev-ops telemetry for the control plane in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Metrics represents a server that exposes Prometheus metrics
type Metrics struct {
	server *http.Server  // the http prometheus server
	config MetricsConfig // the configuration
	log    LoggerI       // the logger

	ConsensusMetrics // consensus controller telemetry
	ShardMetrics     // shard manager telemetry
	StoreMetrics     // persistence telemetry
}

// ConsensusMetrics represents the telemetry of the consensus controller
type ConsensusMetrics struct {
	ActiveMode         prometheus.Gauge   // which consensus mode is active? (0: PoS, 1: PBFT, 2: PoW)
	ModeTransitions    prometheus.Counter // how many mode transitions happened?
	DegradedEvaluation prometheus.Gauge   // is the controller running on stale metrics? (1: degraded)
}

// ShardMetrics represents the telemetry of the shard manager
type ShardMetrics struct {
	ShardLoad          *prometheus.GaugeVec // queue length per shard
	RebalanceCount     prometheus.Counter   // how many batch migrations completed?
	RebalanceFailures  prometheus.Counter   // how many batch migrations failed or rolled back?
	PredictorFallbacks prometheus.Counter   // how often did assignment fall back to least-loaded?
}

// StoreMetrics represents the telemetry of the snapshot store
type StoreMetrics struct {
	PersistFailures prometheus.Counter   // how many snapshot writes were escalated after retries?
	SnapshotVersion *prometheus.GaugeVec // latest persisted version per shard
}

// NewMetricsServer() creates a new telemetry server
func NewMetricsServer(config MetricsConfig, log LoggerI) *Metrics {
	mux := http.NewServeMux()
	mux.Handle(metricsPattern, promhttp.Handler())
	return &Metrics{
		server: &http.Server{Addr: config.PrometheusAddress, Handler: mux},
		config: config,
		log:    log,
		ConsensusMetrics: ConsensusMetrics{
			ActiveMode: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "lattice_consensus_active_mode",
				Help: "Active consensus mode (0: PoS, 1: PBFT, 2: PoW)",
			}),
			ModeTransitions: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lattice_consensus_mode_transitions",
				Help: "Total number of committed consensus mode transitions",
			}),
			DegradedEvaluation: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "lattice_consensus_degraded_evaluation",
				Help: "Evaluation degraded status (1 when metrics are unavailable)",
			}),
		},
		ShardMetrics: ShardMetrics{
			ShardLoad: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lattice_shard_load",
				Help: "Pending transaction queue length per shard",
			}, []string{"shard"}),
			RebalanceCount: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lattice_shard_rebalances",
				Help: "Total number of completed batch migrations",
			}),
			RebalanceFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lattice_shard_rebalance_failures",
				Help: "Total number of failed or rolled back batch migrations",
			}),
			PredictorFallbacks: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lattice_shard_predictor_fallbacks",
				Help: "Total number of assignments that fell back to least-loaded selection",
			}),
		},
		StoreMetrics: StoreMetrics{
			PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lattice_store_persist_failures",
				Help: "Total number of snapshot writes escalated after exhausting retries",
			}),
			SnapshotVersion: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lattice_store_snapshot_version",
				Help: "Latest persisted snapshot version per shard",
			}, []string{"shard"}),
		},
	}
}

// UpdateShardLoad() records the queue length of a shard
func (m *Metrics) UpdateShardLoad(id ShardID, loadLen uint64) {
	if m == nil {
		return
	}
	m.ShardLoad.WithLabelValues(strconv.FormatUint(uint64(id), 10)).Set(float64(loadLen))
}

// UpdateActiveMode() records the active consensus mode
func (m *Metrics) UpdateActiveMode(mode ConsensusMode) {
	if m == nil {
		return
	}
	m.ActiveMode.Set(float64(mode))
}

// UpdateSnapshotVersion() records the latest persisted version of a shard
func (m *Metrics) UpdateSnapshotVersion(id ShardID, version uint64) {
	if m == nil {
		return
	}
	m.SnapshotVersion.WithLabelValues(strconv.FormatUint(uint64(id), 10)).Set(float64(version))
}

// IncModeTransition() counts a committed consensus mode transition
func (m *Metrics) IncModeTransition() {
	if m == nil {
		return
	}
	m.ModeTransitions.Inc()
}

// SetDegraded() flags or clears the degraded-evaluation signal
func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.DegradedEvaluation.Set(1)
	} else {
		m.DegradedEvaluation.Set(0)
	}
}

// IncRebalance() counts a completed batch migration
func (m *Metrics) IncRebalance() {
	if m == nil {
		return
	}
	m.RebalanceCount.Inc()
}

// IncRebalanceFailure() counts a failed or rolled back batch migration
func (m *Metrics) IncRebalanceFailure() {
	if m == nil {
		return
	}
	m.RebalanceFailures.Inc()
}

// IncPredictorFallback() counts an assignment that fell back to least-loaded selection
func (m *Metrics) IncPredictorFallback() {
	if m == nil {
		return
	}
	m.PredictorFallbacks.Inc()
}

// IncPersistFailure() counts an escalated snapshot write failure
func (m *Metrics) IncPersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

// Start() starts the telemetry server
func (m *Metrics) Start() {
	if m == nil {
		return
	}
	if m.config.Enabled {
		go func() {
			m.log.Infof("Starting metrics server on %s", m.config.PrometheusAddress)
			if err := m.server.ListenAndServe(); err != nil {
				if err != http.ErrServerClosed {
					m.log.Errorf("Metrics server failed with err: %s", err.Error())
				}
			}
		}()
	}
}

// Stop() gracefully stops the telemetry server
func (m *Metrics) Stop() {
	if m == nil {
		return
	}
	if m.config.Enabled {
		if err := m.server.Shutdown(context.Background()); err != nil {
			m.log.Error(err.Error())
		}
	}
}
