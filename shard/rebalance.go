package shard

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/lattice-labs/lattice/lib"
	"gonum.org/v1/gonum/stat"
)

/*
	The rebalancer evens out the pending queues of the shard table. Each cycle
	compares the most and least loaded shards and, when the gap exceeds the
	configured threshold, migrates a bounded batch of transactions from the head
	of the hot queue to the tail of the cold one. The migration holds BOTH shard
	locks for its full duration, always acquired in ascending shard id order:
	intermediate state is never observable and two concurrent cycles can never
	deadlock. Every completed migration is recorded as a signed MigrationRecord
	and broadcast through the advisory gateway.
*/

// Rebalance() runs a single rebalance cycle over the shard table
func (m *Manager) Rebalance(ctx context.Context) lib.ErrorI {
	loads := m.Loads()
	if len(loads) < 2 {
		return nil
	}
	src, dst, gap := hottestAndColdest(loads)
	mean, stddev := loadStats(loads)
	if gap <= m.config.RebalanceThreshold {
		m.log.Debugf("rebalance skipped: gap %d within threshold %d (mean %.1f stddev %.1f)",
			gap, m.config.RebalanceThreshold, mean, stddev)
		return nil
	}
	batch := batchSize(float64(loads[src]), float64(loads[dst]), mean, m.config.RebalanceBatchMax)
	record, err := m.migrate(ctx, src, dst, batch)
	if err != nil {
		m.metrics.IncRebalanceFailure()
		return err
	}
	m.metrics.IncRebalance()
	m.metrics.UpdateShardLoad(src, loads[src]-uint64(len(record.TxIDs)))
	m.metrics.UpdateShardLoad(dst, loads[dst]+uint64(len(record.TxIDs)))
	m.log.Infof("rebalanced %d transactions from shard %d to shard %d (mean %.1f stddev %.1f)",
		len(record.TxIDs), src, dst, mean, stddev)
	m.audit(record)
	return nil
}

// migrate() atomically moves up to batch transactions between two shards; both
// shard locks are held for the full migration, acquired in ascending id order
func (m *Manager) migrate(ctx context.Context, src, dst lib.ShardID, batch int) (*lib.MigrationRecord, lib.ErrorI) {
	source, err := m.Shard(src)
	if err != nil {
		return nil, err
	}
	target, err := m.Shard(dst)
	if err != nil {
		return nil, err
	}
	first, second := source, target
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()
	if source.halted {
		return nil, ErrShardHalted(src)
	}
	if target.halted {
		return nil, ErrShardHalted(dst)
	}
	txs := source.lockedExtract(batch)
	if len(txs) == 0 {
		return nil, ErrRebalanceFailed(ErrInvalidShard(src))
	}
	// the cancellation point: before this check the batch is still revocable
	if er := ctx.Err(); er != nil {
		source.lockedRequeue(txs)
		return nil, ErrRebalanceCanceled()
	}
	// sign first: a batch only moves once its audit record exists
	record := &lib.MigrationRecord{
		From:      src,
		To:        dst,
		TxIDs:     make([]string, 0, len(txs)),
		Timestamp: time.Now().UnixMicro(),
	}
	for _, tx := range txs {
		record.TxIDs = append(record.TxIDs, tx.ID)
	}
	signature, publicKey, er := m.verifier.Sign(record.SignBytes())
	if er != nil {
		source.lockedRequeue(txs)
		return nil, ErrRebalanceFailed(er)
	}
	record.Signature, record.PublicKey = signature, publicKey
	target.lockedAdmit(txs)
	return record, nil
}

// audit() appends a migration record to the audit trail and broadcasts it
// through the advisory gateway; a broadcast failure never undoes the migration
func (m *Manager) audit(record *lib.MigrationRecord) {
	m.mu.Lock()
	m.migrations = append(m.migrations, record)
	m.mu.Unlock()
	if m.gateway == nil {
		return
	}
	summary, err := lib.Marshal(record)
	if err != nil {
		m.log.Errorf("migration broadcast marshal failed: %s", err.Error())
		return
	}
	if er := m.gateway.Broadcast(summary); er != nil {
		m.log.Warnf("migration broadcast failed: %s", lib.ErrCommunication(er).Error())
	}
}

// StartRebalancer() launches the background rebalance loop on the configured
// cadence; starting an already running rebalancer is a no-op
func (m *Manager) StartRebalancer(ctx context.Context) {
	if m.stop != nil {
		return
	}
	m.stop, m.done = make(chan struct{}), make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(time.Duration(m.config.RebalanceIntervalS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Rebalance(ctx); err != nil {
					m.log.Errorf("rebalance cycle failed: %s", err.Error())
				}
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			}
		}
	}()
}

// StopRebalancer() stops the background rebalance loop and waits for it to exit
func (m *Manager) StopRebalancer() {
	if m.stop == nil {
		return
	}
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
	m.stop, m.done = nil, nil
}

// hottestAndColdest() returns the most and least loaded shards and the gap
// between them; the lowest id wins ties in both directions
func hottestAndColdest(loads map[lib.ShardID]uint64) (hot, cold lib.ShardID, gap uint64) {
	first := true
	var max, min uint64
	for _, id := range sortedIDs(loads) {
		l := loads[id]
		if first {
			hot, cold, max, min, first = id, id, l, l, false
			continue
		}
		if l > max {
			hot, max = id, l
		}
		if l < min {
			cold, min = id, l
		}
	}
	return hot, cold, max - min
}

// loadStats() summarizes the load distribution of the shard table
func loadStats(loads map[lib.ShardID]uint64) (mean, stddev float64) {
	samples := make([]float64, 0, len(loads))
	for _, l := range loads {
		samples = append(samples, float64(l))
	}
	return stat.Mean(samples, nil), stat.StdDev(samples, nil)
}

// batchSize() sizes a migration to pull both shards toward the distribution
// mean without overshooting either side, bounded by the batch cap
func batchSize(hot, cold, mean float64, max int) int {
	batch := int(math.Ceil(math.Min(hot-mean, mean-cold)))
	if batch < 1 {
		batch = 1
	}
	if batch > max {
		batch = max
	}
	return batch
}

// sortedIDs() returns the shard ids of a load map in ascending order
func sortedIDs(loads map[lib.ShardID]uint64) []lib.ShardID {
	ids := make([]lib.ShardID, 0, len(loads))
	for id := range loads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
