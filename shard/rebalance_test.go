package shard

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/lattice-labs/lattice/lib"
	"github.com/stretchr/testify/require"
)

func seedLoads(t *testing.T, m *Manager, loads map[lib.ShardID]int) {
	for id, n := range loads {
		for i := 0; i < n; i++ {
			require.Nil(t, m.AssignTransactionToShard(id, mintTx("alice", 1)))
		}
	}
}

func queuedIDs(m *Manager) map[string]lib.ShardID {
	out := make(map[string]lib.ShardID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, state := range m.shards {
		state.mu.Lock()
		for _, tx := range state.pending {
			out[tx.ID] = id
		}
		state.mu.Unlock()
	}
	return out
}

func TestRebalanceClosesTheGap(t *testing.T) {
	m, gateway := testManager(t, nil, nil)
	// shards 0..3 with loads 10 2 0 0: hottest 0, coldest 2, gap 10 > threshold 5
	seedLoads(t, m, map[lib.ShardID]int{0: 10, 1: 2})
	before := queuedIDs(m)
	require.Nil(t, m.Rebalance(context.Background()))
	loads := m.Loads()
	// the batch pulls both shards toward the mean of 3: min(10-3, 3-0) = 3
	require.EqualValues(t, 7, loads[0])
	require.EqualValues(t, 3, loads[2])
	require.EqualValues(t, 2, loads[1])
	// the multiset of queued transaction ids is unchanged
	after := queuedIDs(m)
	require.Len(t, after, len(before))
	for id := range before {
		_, ok := after[id]
		require.True(t, ok)
	}
	// the migration was recorded, signed, and broadcast
	records := m.Migrations()
	require.Len(t, records, 1)
	require.Equal(t, lib.ShardID(0), records[0].From)
	require.Equal(t, lib.ShardID(2), records[0].To)
	require.Len(t, records[0].TxIDs, 3)
	require.True(t, m.verifier.Verify(records[0].SignBytes(), records[0].Signature, records[0].PublicKey))
	require.Equal(t, 1, gateway.count())
}

func TestRebalanceWithinThresholdIsNoop(t *testing.T) {
	m, gateway := testManager(t, nil, nil)
	seedLoads(t, m, map[lib.ShardID]int{0: 5, 1: 1})
	require.Nil(t, m.Rebalance(context.Background()))
	loads := m.Loads()
	require.EqualValues(t, 5, loads[0])
	require.EqualValues(t, 1, loads[1])
	require.Empty(t, m.Migrations())
	require.Equal(t, 0, gateway.count())
}

func TestRebalanceBatchCap(t *testing.T) {
	m, _ := testManager(t, nil, nil)
	seedLoads(t, m, map[lib.ShardID]int{0: 200})
	require.Nil(t, m.Rebalance(context.Background()))
	// the mean of 50 would suggest 50 but the cap bounds the batch at 32
	require.EqualValues(t, 168, m.Loads()[0])
	require.EqualValues(t, 32, m.Loads()[1])
}

func TestBatchSize(t *testing.T) {
	tests := []struct {
		name           string
		hot, cold, avg float64
		max, want      int
	}{
		{"pulls both toward the mean", 10, 0, 3, 32, 3},
		{"hot side closer to the mean", 10, 6, 9, 32, 1},
		{"bounded by the cap", 200, 0, 50, 32, 32},
		{"never below one", 6, 5, 5.5, 32, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, batchSize(test.hot, test.cold, test.avg, test.max))
		})
	}
}

func TestRebalanceCanceled(t *testing.T) {
	m, gateway := testManager(t, nil, nil)
	seedLoads(t, m, map[lib.ShardID]int{0: 10})
	before := queuedIDs(m)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Rebalance(ctx)
	require.NotNil(t, err)
	require.Equal(t, lib.CodeRebalanceCanceled, err.Code())
	// all-or-none: nothing moved, nothing was recorded or broadcast
	require.Equal(t, before, queuedIDs(m))
	require.EqualValues(t, 10, m.Loads()[0])
	require.Empty(t, m.Migrations())
	require.Equal(t, 0, gateway.count())
}

func TestRebalanceConvergesToThreshold(t *testing.T) {
	m, _ := testManager(t, nil, nil)
	seedLoads(t, m, map[lib.ShardID]int{0: 40, 1: 7, 2: 3})
	for i := 0; i < 50; i++ {
		require.Nil(t, m.Rebalance(context.Background()))
		loads := m.Loads()
		_, _, gap := hottestAndColdest(loads)
		if gap <= m.config.RebalanceThreshold {
			return
		}
	}
	t.Fatal("rebalancing never brought the load gap within the threshold")
}

func TestConcurrentRebalanceIsDeadlockFree(t *testing.T) {
	m, _ := testManager(t, nil, nil)
	rng := rand.New(rand.NewSource(1))
	for id := lib.ShardID(0); id < 4; id++ {
		seedLoads(t, m, map[lib.ShardID]int{id: rng.Intn(30)})
	}
	before := len(queuedIDs(m))
	wg := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				// failures (e.g. an empty source) are fine; hanging is not
				_ = m.Rebalance(context.Background())
			}
		}()
	}
	wg.Wait()
	require.Equal(t, before, len(queuedIDs(m)))
}

// failingSigner verifies everything but cannot produce signatures
type failingSigner struct{}

func (failingSigner) Verify(_, _, _ []byte) bool { return true }

func (failingSigner) Sign(_ []byte) (signature, publicKey []byte, err error) {
	return nil, nil, errors.New("signing key unavailable")
}

func TestRebalanceSignFailureMovesNothing(t *testing.T) {
	config := lib.DefaultConfig()
	config.StoreConfig.InMemory = true
	gateway := &memGateway{}
	m, err := NewManager(config, nil, failingSigner{}, identityCodec{}, gateway, testStore(t), nil, lib.NewNullLogger())
	require.Nil(t, err)
	t.Cleanup(func() { m.Close() })
	seedLoads(t, m, map[lib.ShardID]int{0: 10})
	before := queuedIDs(m)
	er := m.Rebalance(context.Background())
	require.NotNil(t, er)
	require.Equal(t, lib.CodeRebalanceFailed, er.Code())
	// no batch moves without a signed audit record
	require.EqualValues(t, 10, m.Loads()[0])
	require.Equal(t, before, queuedIDs(m))
	require.Empty(t, m.Migrations())
	require.Equal(t, 0, gateway.count())
}

func TestStartRebalancerTwice(t *testing.T) {
	m, _ := testManager(t, nil, nil)
	m.StartRebalancer(context.Background())
	first := m.stop
	// a second start is a no-op; the running loop is kept
	m.StartRebalancer(context.Background())
	require.Equal(t, first, m.stop)
	m.StopRebalancer()
	// stopping again is safe
	m.StopRebalancer()
}

func TestHottestAndColdest(t *testing.T) {
	hot, cold, gap := hottestAndColdest(map[lib.ShardID]uint64{0: 3, 1: 9, 2: 1, 3: 9})
	require.Equal(t, lib.ShardID(1), hot) // lowest id wins the tie
	require.Equal(t, lib.ShardID(2), cold)
	require.EqualValues(t, 8, gap)
	ids := sortedIDs(map[lib.ShardID]uint64{3: 0, 1: 0, 2: 0})
	require.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }))
}
