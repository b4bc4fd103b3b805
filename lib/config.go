package lib

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

/* This file implements the 'user controlled' configuration of each module of the control plane */

const (
	// FILE NAMES in the 'data directory'
	ConfigFilePath = "config.json" // the file path for the node configuration
)

// Config is the structure of the user configuration options for a control plane node
type Config struct {
	MainConfig      // main options spanning over all modules
	ShardConfig     // shard manager and rebalancer options
	ConsensusConfig // consensus controller and validator registry options
	StoreConfig     // persistence options
	MetricsConfig   // telemetry options
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:      DefaultMainConfig(),
		ShardConfig:     DefaultShardConfig(),
		ConsensusConfig: DefaultConsensusConfig(),
		StoreConfig:     DefaultStoreConfig(),
		MetricsConfig:   DefaultMetricsConfig(),
	}
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel string `json:"logLevel"` // any level includes the levels above it: debug < info < warning < error
	ChainId  uint64 `json:"chainId"`  // the identifier of this particular chain
}

// DefaultMainConfig() sets log level to 'info'
func DefaultMainConfig() MainConfig {
	return MainConfig{
		LogLevel: "info",
		ChainId:  1,
	}
}

// GetLogLevel() parses the log string in the config file into a LogLevel Enum
func (m *MainConfig) GetLogLevel() int32 {
	switch {
	case strings.Contains(strings.ToLower(m.LogLevel), "deb"):
		return DebugLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "inf"):
		return InfoLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "war"):
		return WarnLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "err"):
		return ErrorLevel
	default:
		return DebugLevel
	}
}

// SHARD CONFIG BELOW

// ShardConfig defines the shard table size, the assignment oracle bound, and the rebalancer limits
type ShardConfig struct {
	NumShards          uint64        `json:"numShards"`          // number of shards created at genesis
	PredictorTimeoutMS int           `json:"predictorTimeoutMS"` // bound on the load prediction oracle before falling back to least-loaded
	RebalanceThreshold uint64        `json:"rebalanceThreshold"` // max-min queue length gap that triggers a migration
	RebalanceBatchMax  int           `json:"rebalanceBatchMax"`  // upper bound of transactions migrated per cycle
	RebalanceIntervalS int           `json:"rebalanceIntervalS"` // how often the background rebalancer wakes up
	predictorTimeout   time.Duration // cached duration form of PredictorTimeoutMS
}

// DefaultShardConfig() returns the developer recommended shard configuration
func DefaultShardConfig() ShardConfig {
	return ShardConfig{
		NumShards:          4,   // 4 shards at genesis
		PredictorTimeoutMS: 250, // fall back after 1/4 second
		RebalanceThreshold: 5,   // tolerate a gap of 5 queued transactions
		RebalanceBatchMax:  32,  // move at most 32 transactions per cycle
		RebalanceIntervalS: 10,  // wake the rebalancer every 10 seconds
	}
}

// PredictorTimeout() returns the oracle bound as a duration
func (s *ShardConfig) PredictorTimeout() time.Duration {
	if s.predictorTimeout == 0 {
		s.predictorTimeout = time.Duration(s.PredictorTimeoutMS) * time.Millisecond
	}
	return s.predictorTimeout
}

// CONSENSUS CONFIG BELOW

// ConsensusConfig defines the evaluation cadence and the anti-oscillation dwell of the mode state machine
// NOTES:
// - MinDwellMS should be a multiple of EvaluateIntervalMS; a dwell below one interval disables suppression
// - the quorum fraction applies to PBFT selection only; PoS and PoW have their own eligibility rules
type ConsensusConfig struct {
	EvaluateIntervalMS int    `json:"evaluateIntervalMS"` // how often (in milliseconds) the controller samples the metrics source
	MinDwellMS         int    `json:"minDwellMS"`         // minimum time (in milliseconds) a mode stays active before another switch is permitted
	QuorumNumerator    uint64 `json:"quorumNumerator"`    // PBFT supermajority fraction numerator
	QuorumDenominator  uint64 `json:"quorumDenominator"`  // PBFT supermajority fraction denominator
	PBFTReputationMin  string `json:"pbftReputationMin"`  // minimum reputation to lead or vote under PBFT (decimal string)
}

// DefaultConsensusConfig() configures the evaluation cycle: dwell is two evaluation ticks
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		EvaluateIntervalMS: 5000,  // sample every 5 seconds
		MinDwellMS:         10000, // hold a mode for at least 2 ticks
		QuorumNumerator:    2,     // 2/3 supermajority
		QuorumDenominator:  3,
		PBFTReputationMin:  "0.7", // eligibility floor for PBFT
	}
}

// EvaluateInterval() returns the sampling cadence as a duration
func (c *ConsensusConfig) EvaluateInterval() time.Duration {
	return time.Duration(c.EvaluateIntervalMS) * time.Millisecond
}

// MinDwell() returns the dwell interval as a duration
func (c *ConsensusConfig) MinDwell() time.Duration {
	return time.Duration(c.MinDwellMS) * time.Millisecond
}

// STORE CONFIG BELOW

// StoreConfig is user configurations for the key value database
type StoreConfig struct {
	DataDirPath    string `json:"dataDirPath"`    // path of the designated folder where the application stores its data
	DBName         string `json:"dbName"`         // name of the database
	InMemory       bool   `json:"inMemory"`       // non-disk database, only for testing
	PersistRetries uint64 `json:"persistRetries"` // bounded attempts before a persistence failure is escalated
}

// DefaultDataDirPath() is $USERHOME/.lattice
func DefaultDataDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".lattice")
}

// DefaultStoreConfig() returns the developer recommended store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DataDirPath:    DefaultDataDirPath(),
		DBName:         "lattice",
		InMemory:       false,
		PersistRetries: 5, // escalate after 5 failed writes
	}
}

// METRICS CONFIG BELOW

// MetricsConfig represents the configuration for the metrics server
type MetricsConfig struct {
	Enabled           bool   `json:"enabled"`           // if the metrics are enabled
	PrometheusAddress string `json:"prometheusAddress"` // the address of the server
}

// DefaultMetricsConfig() returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:           true,
		PrometheusAddress: "0.0.0.0:9090",
	}
}

// WriteToFile() saves the Config object to a JSON file
func (c Config) WriteToFile(filepath string) error {
	jsonBytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, jsonBytes, os.ModePerm)
}

// NewConfigFromFile() populates a Config object from a JSON file
func NewConfigFromFile(filepath string) (Config, error) {
	fileBytes, err := os.ReadFile(filepath)
	if err != nil {
		return Config{}, err
	}
	// the default config fills in any blanks in the file
	c := DefaultConfig()
	if err = json.Unmarshal(fileBytes, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
