package shard

import (
	"context"
	"sort"
	"sync"

	"github.com/lattice-labs/lattice/lib"
)

/*
	The Manager owns the shard table: it routes transactions to shards, commits
	them through the integrity layer, drives snapshot persistence, and recovers
	corrupted shards from the last verified snapshot. Assignment consults the
	injected load prediction oracle under a bounded deadline and falls back to
	deterministic least-loaded selection, so routing never blocks on the oracle.
*/

// Manager owns the shard table and routes, commits, persists, and recovers shards
type Manager struct {
	mu     sync.RWMutex                 // guards the shard table and the audit log
	shards map[lib.ShardID]*ShardState  // the shard table
	prev   map[lib.ShardID]lib.HexBytes // per-shard previous block hash

	migrations []*lib.MigrationRecord // signed audit trail of batch migrations

	config    lib.Config            // config
	predictor lib.LoadPredictor     // the load prediction oracle
	verifier  lib.SignatureVerifier // the signature scheme
	codec     lib.StateCodec        // the state encryption scheme
	gateway   lib.NetworkGateway    // advisory broadcast surface
	store     lib.SnapshotStoreI    // the durable snapshot log
	metrics   *lib.Metrics          // telemetry
	log       lib.LoggerI           // logger

	stop chan struct{} // closed to stop the background rebalancer
	done chan struct{} // closed when the background rebalancer exits
}

// NewManager() creates the shard table with NumShards shards (ids 0..n-1) and
// restores each shard from its latest persisted snapshot
func NewManager(config lib.Config, predictor lib.LoadPredictor, verifier lib.SignatureVerifier,
	codec lib.StateCodec, gateway lib.NetworkGateway, store lib.SnapshotStoreI,
	metrics *lib.Metrics, log lib.LoggerI) (*Manager, lib.ErrorI) {
	m := &Manager{
		shards:    make(map[lib.ShardID]*ShardState, config.NumShards),
		prev:      make(map[lib.ShardID]lib.HexBytes, config.NumShards),
		config:    config,
		predictor: predictor,
		verifier:  verifier,
		codec:     codec,
		gateway:   gateway,
		store:     store,
		metrics:   metrics,
		log:       log,
	}
	for id := lib.ShardID(0); id < lib.ShardID(config.NumShards); id++ {
		state := NewShardState(id, verifier, codec, log)
		snapshot, err := store.LoadLatest(id)
		if err != nil {
			return nil, err
		}
		if snapshot.Version != 0 {
			if err = state.Rollback(snapshot); err != nil {
				return nil, err
			}
			log.Infof("shard %d restored at version %d", id, snapshot.Version)
		}
		m.shards[id] = state
	}
	return m, nil
}

// AddShard() grows the shard table with a new empty shard
func (m *Manager) AddShard(id lib.ShardID) lib.ErrorI {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shards[id]; ok {
		return ErrDuplicateShard(id)
	}
	m.shards[id] = NewShardState(id, m.verifier, m.codec, m.log)
	m.log.Infof("shard %d added; table size is now %d", id, len(m.shards))
	return nil
}

// Shard() looks up a shard by id
func (m *Manager) Shard(id lib.ShardID) (*ShardState, lib.ErrorI) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.shards[id]
	if !ok {
		return nil, ErrInvalidShard(id)
	}
	return state, nil
}

// NumShards() returns the current shard table size
func (m *Manager) NumShards() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.shards)
}

// Loads() returns the current queue length of every shard
func (m *Manager) Loads() map[lib.ShardID]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loads := make(map[lib.ShardID]uint64, len(m.shards))
	for id, state := range m.shards {
		loads[id] = state.Load()
	}
	return loads
}

// AssignTransaction() routes a transaction to a shard: the load prediction
// oracle is consulted under the configured deadline and any timeout, error, or
// out-of-range answer falls back to deterministic least-loaded selection
func (m *Manager) AssignTransaction(ctx context.Context, tx *lib.Transaction) (lib.ShardID, lib.ErrorI) {
	loads := m.Loads()
	id, ok := m.predict(ctx, loads)
	if !ok {
		m.metrics.IncPredictorFallback()
		id = leastLoaded(loads)
	}
	if err := m.AssignTransactionToShard(id, tx); err != nil {
		return 0, err
	}
	return id, nil
}

// AssignTransactionToShard() enqueues a transaction on an explicit shard
func (m *Manager) AssignTransactionToShard(id lib.ShardID, tx *lib.Transaction) lib.ErrorI {
	state, err := m.Shard(id)
	if err != nil {
		return err
	}
	if err = state.Enqueue(tx); err != nil {
		return err
	}
	m.metrics.UpdateShardLoad(id, state.Load())
	m.log.Debugf("transaction %s assigned to shard %d", tx.ID, id)
	return nil
}

// predict() consults the oracle under its deadline; ok is false on timeout,
// error, or an answer outside the shard table
func (m *Manager) predict(ctx context.Context, loads map[lib.ShardID]uint64) (lib.ShardID, bool) {
	if m.predictor == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, m.config.PredictorTimeout())
	defer cancel()
	id, err := m.predictor.Predict(ctx, loads)
	if err != nil {
		m.log.Warnf("%s", ErrPredictorTimeout(err).Error())
		return 0, false
	}
	if _, ok := loads[id]; !ok {
		m.log.Warnf("%s", ErrInvalidShard(id).Error())
		return 0, false
	}
	return id, true
}

// leastLoaded() is the deterministic fallback: the least loaded shard, lowest
// id winning ties
func leastLoaded(loads map[lib.ShardID]uint64) lib.ShardID {
	ids := make([]lib.ShardID, 0, len(loads))
	for id := range loads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	best, min := lib.ShardID(0), uint64(0)
	for i, id := range ids {
		if i == 0 || loads[id] < min {
			best, min = id, loads[id]
		}
	}
	return best
}

// CommitNext() commits the head of a shard's pending queue through the
// integrity layer and returns the committed transaction (nil when idle)
func (m *Manager) CommitNext(id lib.ShardID) (*lib.Transaction, lib.ErrorI) {
	state, err := m.Shard(id)
	if err != nil {
		return nil, err
	}
	tx, err := state.CommitNext()
	m.metrics.UpdateShardLoad(id, state.Load())
	return tx, err
}

// SealBlock() commits every pending transaction of a shard and seals the
// result into a block chained to the shard's previous block hash
func (m *Manager) SealBlock(id lib.ShardID) (*lib.Block, lib.ErrorI) {
	state, err := m.Shard(id)
	if err != nil {
		return nil, err
	}
	var committed []*lib.Transaction
	for state.Load() > 0 {
		tx, err := state.CommitNext()
		if err != nil {
			// a halted shard keeps its queue; nothing further can commit
			if err.Code() == lib.CodeShardHalted && err.Module() == lib.ShardModule {
				return nil, err
			}
			// invalid transactions are dropped, not sealed
			m.log.Warnf("shard %d dropped a transaction while sealing: %s", id, err.Error())
			continue
		}
		if tx == nil {
			break
		}
		committed = append(committed, tx)
	}
	m.metrics.UpdateShardLoad(id, state.Load())
	m.mu.Lock()
	block := lib.NewBlock(m.prev[id], committed)
	m.prev[id] = block.Seal()
	m.mu.Unlock()
	m.log.Infof("shard %d sealed block %s with %d transactions", id, block.ID, len(committed))
	return block, nil
}

// Persist() writes a shard's current snapshot to the durable log and records
// the persisted fingerprint for later integrity checks
func (m *Manager) Persist(id lib.ShardID) (version uint64, err lib.ErrorI) {
	state, err := m.Shard(id)
	if err != nil {
		return 0, err
	}
	snapshot, err := state.Snapshot()
	if err != nil {
		return 0, err
	}
	version, err = m.store.Persist(id, snapshot)
	if err != nil {
		return 0, err
	}
	state.MarkPersisted(snapshot.Fingerprint)
	return version, nil
}

// CheckpointAll() persists every shard; per-shard failures never block the
// other shards and the failed ids are returned for escalation
func (m *Manager) CheckpointAll() (failed []lib.ShardID, err lib.ErrorI) {
	m.mu.RLock()
	states := make(map[lib.ShardID]*ShardState, len(m.shards))
	for id, state := range m.shards {
		states[id] = state
	}
	m.mu.RUnlock()
	snapshots := make(map[lib.ShardID]*lib.ShardSnapshot, len(states))
	for id, state := range states {
		snapshot, e := state.Snapshot()
		if e != nil {
			return nil, e
		}
		snapshots[id] = snapshot
	}
	failed = m.store.Checkpoint(snapshots)
	isFailed := make(map[lib.ShardID]bool, len(failed))
	for _, id := range failed {
		isFailed[id] = true
	}
	for id, state := range states {
		if !isFailed[id] {
			state.MarkPersisted(snapshots[id].Fingerprint)
		}
	}
	return failed, nil
}

// CheckIntegrity() validates one shard's fingerprint against its last
// persisted value; divergence halts the shard
func (m *Manager) CheckIntegrity(id lib.ShardID) lib.ErrorI {
	state, err := m.Shard(id)
	if err != nil {
		return err
	}
	return state.CheckIntegrity()
}

// Restore() reloads every shard from its latest persisted snapshot; shards
// restore independently and the ones that failed are returned for escalation
func (m *Manager) Restore() (failed []lib.ShardID) {
	m.mu.RLock()
	ids := make([]lib.ShardID, 0, len(m.shards))
	for id := range m.shards {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := m.Recover(id); err != nil {
			m.log.Errorf("restore failed for shard %d: %s", id, err.Error())
			failed = append(failed, id)
		}
	}
	return failed
}

// Recover() rolls a shard back to its latest persisted snapshot, clearing a
// corruption halt
func (m *Manager) Recover(id lib.ShardID) lib.ErrorI {
	state, err := m.Shard(id)
	if err != nil {
		return err
	}
	snapshot, err := m.store.LoadLatest(id)
	if err != nil {
		return err
	}
	if err = state.Rollback(snapshot); err != nil {
		return err
	}
	m.metrics.UpdateShardLoad(id, state.Load())
	m.log.Infof("shard %d recovered at version %d", id, snapshot.Version)
	return nil
}

// Migrations() returns a copy of the signed migration audit trail
func (m *Manager) Migrations() []*lib.MigrationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*lib.MigrationRecord{}, m.migrations...)
}

// Close() stops the background rebalancer and the snapshot store
func (m *Manager) Close() lib.ErrorI {
	m.StopRebalancer()
	return m.store.Close()
}
