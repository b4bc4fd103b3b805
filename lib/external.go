package lib

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
)

/*
	This file contains the interfaces of the external collaborators consumed by the core.
	The implementations behind them (prediction models, zk or post-quantum primitives,
	the p2p transport) are injected at construction and treated as black boxes.
*/

// LoadPredictor is the load prediction oracle consulted on transaction assignment;
// callers bound it with a context deadline and fall back to deterministic
// least-loaded selection when it times out or errors
type LoadPredictor interface {
	Predict(ctx context.Context, loads map[ShardID]uint64) (ShardID, error)
}

// SignatureVerifier abstracts the signature scheme; it verifies transaction
// signatures and signs migration / audit records
type SignatureVerifier interface {
	Verify(msg, signature, publicKey []byte) bool
	Sign(msg []byte) (signature, publicKey []byte, err error)
}

// StateCodec encrypts and decrypts serialized shard state; the core treats the
// ciphertext as opaque and never branches on its content
type StateCodec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// NetworkGateway is the advisory broadcast surface; it is never authoritative
// for shard membership
type NetworkGateway interface {
	Broadcast(summary []byte) error
	HealthCheck() (peers []string, err error)
}

// MetricsSource supplies a NetworkMetrics sample to the consensus controller on a fixed cadence
type MetricsSource interface {
	Sample(ctx context.Context) (NetworkMetrics, error)
}

// SystemMetricsSource is a MetricsSource that derives the load percentage from
// the local machine; latency and reliability default to optimistic values and
// are expected to be replaced by a telemetry-fed source in production
type SystemMetricsSource struct{}

var _ MetricsSource = SystemMetricsSource{}

// Sample() reads the host cpu and load averages
func (SystemMetricsSource) Sample(ctx context.Context) (NetworkMetrics, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return NetworkMetrics{}, err
	}
	loadPct := uint64(0)
	if len(percents) != 0 {
		loadPct = uint64(percents[0])
	}
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return NetworkMetrics{}, err
	}
	// a saturated 1-minute load average degrades the reliability score
	reliability := 1 - avg.Load1/10
	if reliability < 0 {
		reliability = 0
	}
	return NetworkMetrics{
		LoadPct:          loadPct,
		AvgLatencyMS:     0, // no peer round-trips to measure locally
		ReliabilityScore: reliability,
	}, nil
}
