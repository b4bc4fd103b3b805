package shard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lattice-labs/lattice/lib"
	"github.com/lattice-labs/lattice/lib/crypto"
	"github.com/lattice-labs/lattice/store"
	"github.com/stretchr/testify/require"
)

// stubPredictor answers with a fixed shard or error
type stubPredictor struct {
	id  lib.ShardID
	err error
}

func (p stubPredictor) Predict(_ context.Context, _ map[lib.ShardID]uint64) (lib.ShardID, error) {
	return p.id, p.err
}

// memGateway records broadcast summaries
type memGateway struct {
	mu        sync.Mutex
	summaries [][]byte
}

func (g *memGateway) Broadcast(summary []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.summaries = append(g.summaries, summary)
	return nil
}

func (g *memGateway) HealthCheck() ([]string, error) { return nil, nil }

func (g *memGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.summaries)
}

// failingStore wraps a real store and fails Persist for one shard
type failingStore struct {
	lib.SnapshotStoreI
	failFor lib.ShardID
}

func (f *failingStore) Persist(id lib.ShardID, snapshot *lib.ShardSnapshot) (uint64, lib.ErrorI) {
	if id == f.failFor {
		return 0, store.ErrPersistenceWriteFailure(id, 1, errors.New("disk full"))
	}
	return f.SnapshotStoreI.Persist(id, snapshot)
}

func (f *failingStore) Checkpoint(snapshots map[lib.ShardID]*lib.ShardSnapshot) (failed []lib.ShardID) {
	for _, id := range []lib.ShardID{0, 1, 2, 3} {
		snapshot, ok := snapshots[id]
		if !ok {
			continue
		}
		if _, err := f.Persist(id, snapshot); err != nil {
			failed = append(failed, id)
		}
	}
	return failed
}

func testStore(t *testing.T) lib.SnapshotStoreI {
	config := lib.DefaultConfig()
	config.StoreConfig.InMemory = true
	config.PersistRetries = 1
	s, err := store.New(config, nil, lib.NewNullLogger())
	require.Nil(t, err)
	return s
}

func testManager(t *testing.T, predictor lib.LoadPredictor, snapshots lib.SnapshotStoreI) (*Manager, *memGateway) {
	config := lib.DefaultConfig()
	config.StoreConfig.InMemory = true
	config.PersistRetries = 1
	verifier, err := crypto.NewEd25519Verifier()
	require.NoError(t, err)
	if snapshots == nil {
		snapshots = testStore(t)
	}
	gateway := &memGateway{}
	m, e := NewManager(config, predictor, verifier, identityCodec{}, gateway, snapshots, nil, lib.NewNullLogger())
	require.Nil(t, e)
	t.Cleanup(func() { m.Close() })
	return m, gateway
}

func TestAssignTransactionFollowsPredictor(t *testing.T) {
	m, _ := testManager(t, stubPredictor{id: 2}, nil)
	id, err := m.AssignTransaction(context.Background(), mintTx("alice", 1))
	require.Nil(t, err)
	require.Equal(t, lib.ShardID(2), id)
	require.EqualValues(t, 1, m.Loads()[2])
}

func TestAssignTransactionFallsBack(t *testing.T) {
	// seed uneven loads: shard 0 and 1 busy, 2 and 3 empty
	m, _ := testManager(t, stubPredictor{err: errors.New("model offline")}, nil)
	require.Nil(t, m.AssignTransactionToShard(0, mintTx("a", 1)))
	require.Nil(t, m.AssignTransactionToShard(1, mintTx("b", 1)))
	// fallback is deterministic: least loaded, lowest id winning ties
	id, err := m.AssignTransaction(context.Background(), mintTx("c", 1))
	require.Nil(t, err)
	require.Equal(t, lib.ShardID(2), id)
	// an out-of-range oracle answer also falls back
	m2, _ := testManager(t, stubPredictor{id: 99}, nil)
	id, err = m2.AssignTransaction(context.Background(), mintTx("d", 1))
	require.Nil(t, err)
	require.Equal(t, lib.ShardID(0), id)
}

func TestAssignTransactionToUnknownShard(t *testing.T) {
	m, _ := testManager(t, nil, nil)
	err := m.AssignTransactionToShard(42, mintTx("alice", 1))
	require.NotNil(t, err)
	require.Equal(t, lib.CodeInvalidShard, err.Code())
}

func TestAddShard(t *testing.T) {
	m, _ := testManager(t, nil, nil)
	require.Equal(t, 4, m.NumShards())
	require.Nil(t, m.AddShard(4))
	require.Equal(t, 5, m.NumShards())
	err := m.AddShard(4)
	require.NotNil(t, err)
	require.Equal(t, lib.CodeDuplicateShard, err.Code())
}

func TestPersistAndRecover(t *testing.T) {
	snapshots := testStore(t)
	m, _ := testManager(t, nil, snapshots)
	state, err := m.Shard(1)
	require.Nil(t, err)
	require.Nil(t, state.UpdateState(mintTx("alice", 100)))
	version, err := m.Persist(1)
	require.Nil(t, err)
	require.EqualValues(t, 1, version)
	// diverge, then recover back to the persisted state
	state.SetBalance("alice", 1)
	require.Equal(t, lib.CodeStateCorruption, m.CheckIntegrity(1).Code())
	require.Nil(t, m.Recover(1))
	require.EqualValues(t, 100, state.Balance("alice"))
	require.Nil(t, m.CheckIntegrity(1))
}

func TestManagerRestartRoundTrip(t *testing.T) {
	snapshots := testStore(t)
	m, _ := testManager(t, nil, snapshots)
	state, err := m.Shard(0)
	require.Nil(t, err)
	require.Nil(t, state.UpdateState(mintTx("alice", 77)))
	require.Nil(t, state.Enqueue(mintTx("bob", 1)))
	failed, err := m.CheckpointAll()
	require.Nil(t, err)
	require.Empty(t, failed)
	// a new manager over the same store comes back with the persisted state
	config := lib.DefaultConfig()
	config.StoreConfig.InMemory = true
	verifier, er := crypto.NewEd25519Verifier()
	require.NoError(t, er)
	m2, err := NewManager(config, nil, verifier, identityCodec{}, nil, snapshots, nil, lib.NewNullLogger())
	require.Nil(t, err)
	restored, err := m2.Shard(0)
	require.Nil(t, err)
	require.EqualValues(t, 77, restored.Balance("alice"))
	require.EqualValues(t, 1, restored.Load())
	require.Equal(t, state.Root(), restored.Root())
}

func TestCheckpointAllReportsFailures(t *testing.T) {
	snapshots := &failingStore{SnapshotStoreI: testStore(t), failFor: 1}
	m, _ := testManager(t, nil, snapshots)
	failed, err := m.CheckpointAll()
	require.Nil(t, err)
	require.Equal(t, []lib.ShardID{1}, failed)
	// the failed shard has no persisted fingerprint; the others do
	require.Empty(t, m.Restore())
}

func TestSealBlock(t *testing.T) {
	m, _ := testManager(t, nil, nil)
	require.Nil(t, m.AssignTransactionToShard(0, mintTx("alice", 10)))
	require.Nil(t, m.AssignTransactionToShard(0, mintTx("bob", 20)))
	block, err := m.SealBlock(0)
	require.Nil(t, err)
	require.Len(t, block.Transactions, 2)
	require.NotEmpty(t, block.Hash)
	require.Empty(t, block.PrevHash)
	// the next block chains to the previous one
	require.Nil(t, m.AssignTransactionToShard(0, mintTx("carol", 30)))
	next, err := m.SealBlock(0)
	require.Nil(t, err)
	require.Equal(t, block.Hash, next.PrevHash)
}

func TestSealBlockHaltedShardReturns(t *testing.T) {
	m, _ := testManager(t, nil, nil)
	state, err := m.Shard(0)
	require.Nil(t, err)
	require.Nil(t, state.UpdateState(mintTx("alice", 100)))
	snapshot, err := state.Snapshot()
	require.Nil(t, err)
	state.MarkPersisted(snapshot.Fingerprint)
	require.Nil(t, state.Enqueue(mintTx("bob", 1)))
	// tamper, then halt the shard through the integrity check
	state.SetBalance("alice", 1)
	require.Equal(t, lib.CodeStateCorruption, m.CheckIntegrity(0).Code())
	// sealing must surface the halt instead of spinning on the stuck queue
	block, err := m.SealBlock(0)
	require.Nil(t, block)
	require.NotNil(t, err)
	require.Equal(t, lib.CodeShardHalted, err.Code())
	// the queue is intact for after the rollback
	require.EqualValues(t, 1, state.Load())
}
