package store

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/lattice-labs/lattice/lib"
)

/*
	The Store is the durable, versioned snapshot log of the shard table, built on
	a single BadgerDB instance. Every shard appends snapshots independently under
	its own key prefix, so a write for one shard can never invalidate another:

	- s/<shard-be8>/<version-be8> -> ShardSnapshot (JSON)
	- l/<shard-be8>               -> latest version pointer (be8)

	A single badger transaction covers the version read, the snapshot write, and
	the pointer update, which makes each per-shard persist independently atomic.
	Failed writes are retried with exponential backoff and escalated as a
	PersistenceWriteFailure once the bounded retry budget is exhausted.
*/

var (
	snapshotPrefix = []byte("s/") // prefix designated for versioned snapshot records
	latestPrefix   = []byte("l/") // prefix designated for the latest version pointers

	_ lib.SnapshotStoreI = &Store{} // enforce the snapshot store interface
)

// Store is a badger-backed append-only snapshot log keyed per shard
type Store struct {
	db      *badger.DB   // underlying database
	config  lib.Config   // config
	metrics *lib.Metrics // telemetry
	log     lib.LoggerI  // logger
}

// New() creates a new instance of a snapshot store either in memory or on disk
func New(config lib.Config, metrics *lib.Metrics, log lib.LoggerI) (*Store, lib.ErrorI) {
	opts := badger.DefaultOptions(filepath.Join(config.DataDirPath, config.DBName))
	if config.StoreConfig.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	db, err := badger.Open(opts.WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, ErrOpenDB(err)
	}
	return &Store{db: db, config: config, metrics: metrics, log: log}, nil
}

// Persist() appends a new versioned snapshot for a shard; the write is
// independently atomic and retried with exponential backoff before escalation
func (s *Store) Persist(id lib.ShardID, snapshot *lib.ShardSnapshot) (version uint64, err lib.ErrorI) {
	if snapshot == nil {
		return 0, ErrNilSnapshot()
	}
	attempts := uint64(0)
	retry := backoff.WithMaxRetries(newWriteBackoff(), s.config.PersistRetries)
	er := backoff.Retry(func() error {
		attempts++
		version, err = s.write(id, snapshot)
		if err != nil {
			s.log.Warnf("snapshot write for shard %d failed (attempt %d): %s", id, attempts, err.Error())
			return err
		}
		return nil
	}, retry)
	if er != nil {
		s.metrics.IncPersistFailure()
		return 0, ErrPersistenceWriteFailure(id, attempts, er)
	}
	s.metrics.UpdateSnapshotVersion(id, version)
	return version, nil
}

// write() performs the single-transaction snapshot append
func (s *Store) write(id lib.ShardID, snapshot *lib.ShardSnapshot) (version uint64, err lib.ErrorI) {
	er := s.db.Update(func(txn *badger.Txn) error {
		latest, e := latestVersion(txn, id)
		if e != nil {
			return e
		}
		version = latest + 1
		cpy := *snapshot
		cpy.ShardID, cpy.Version = id, version
		bz, e := lib.Marshal(&cpy)
		if e != nil {
			return e
		}
		if e := txn.Set(snapshotKey(id, version), bz); e != nil {
			return e
		}
		return txn.Set(latestKey(id), lib.Uint64ToBytes(version))
	})
	if er != nil {
		if e, ok := er.(lib.ErrorI); ok {
			return 0, e
		}
		return 0, ErrStoreSet(er)
	}
	return version, nil
}

// LoadLatest() returns the newest snapshot for a shard, or a genesis-empty
// snapshot when the shard has never been persisted
func (s *Store) LoadLatest(id lib.ShardID) (*lib.ShardSnapshot, lib.ErrorI) {
	var snapshot *lib.ShardSnapshot
	er := s.db.View(func(txn *badger.Txn) error {
		latest, e := latestVersion(txn, id)
		if e != nil {
			return e
		}
		if latest == 0 {
			snapshot = GenesisSnapshot(id)
			return nil
		}
		snap, e := readVersion(txn, id, latest)
		if e != nil {
			return e
		}
		snapshot = snap
		return nil
	})
	if er != nil {
		if e, ok := er.(lib.ErrorI); ok {
			return nil, e
		}
		return nil, ErrStoreGet(er)
	}
	return snapshot, nil
}

// LoadVersion() returns a specific historical snapshot of a shard
func (s *Store) LoadVersion(id lib.ShardID, version uint64) (*lib.ShardSnapshot, lib.ErrorI) {
	var snapshot *lib.ShardSnapshot
	er := s.db.View(func(txn *badger.Txn) error {
		snap, e := readVersion(txn, id, version)
		if e != nil {
			return e
		}
		snapshot = snap
		return nil
	})
	if er != nil {
		if e, ok := er.(lib.ErrorI); ok {
			return nil, e
		}
		return nil, ErrStoreGet(er)
	}
	return snapshot, nil
}

// Checkpoint() persists every supplied shard snapshot; it is best-effort
// across shards and returns the identifiers of the shards that failed
func (s *Store) Checkpoint(snapshots map[lib.ShardID]*lib.ShardSnapshot) (failed []lib.ShardID) {
	for _, id := range sortedShardIDs(snapshots) {
		if _, err := s.Persist(id, snapshots[id]); err != nil {
			s.log.Errorf("checkpoint failed for shard %d: %s", id, err.Error())
			failed = append(failed, id)
		}
	}
	return failed
}

// Close() gracefully stops the database
func (s *Store) Close() lib.ErrorI {
	if err := s.db.Close(); err != nil {
		return ErrCloseDB(err)
	}
	return nil
}

// GenesisSnapshot() is the empty state a shard starts from before any persist
func GenesisSnapshot(id lib.ShardID) *lib.ShardSnapshot {
	return &lib.ShardSnapshot{
		ShardID:  id,
		Version:  0,
		Balances: make(map[string]uint64),
		Metadata: make(map[string]string),
	}
}

// latestVersion() reads the latest version pointer of a shard; 0 when never persisted
func latestVersion(txn *badger.Txn, id lib.ShardID) (uint64, error) {
	item, err := txn.Get(latestKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return 0, nil
		}
		return 0, ErrStoreGet(err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, ErrStoreGet(err)
	}
	return lib.BytesToUint64(val), nil
}

// readVersion() reads and unmarshals a versioned snapshot record
func readVersion(txn *badger.Txn, id lib.ShardID, version uint64) (*lib.ShardSnapshot, error) {
	item, err := txn.Get(snapshotKey(id, version))
	if err != nil {
		return nil, ErrStoreGet(err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, ErrStoreGet(err)
	}
	snapshot := new(lib.ShardSnapshot)
	if e := lib.Unmarshal(val, snapshot); e != nil {
		return nil, e
	}
	return snapshot, nil
}

// snapshotKey() is s/<shard-be8>/<version-be8>
func snapshotKey(id lib.ShardID, version uint64) []byte {
	return lib.Append(lib.Append(snapshotPrefix, lib.Uint64ToBytes(uint64(id))), lib.Uint64ToBytes(version))
}

// latestKey() is l/<shard-be8>
func latestKey(id lib.ShardID) []byte {
	return lib.Append(latestPrefix, lib.Uint64ToBytes(uint64(id)))
}

// newWriteBackoff() is the retry schedule of a failed snapshot write
func newWriteBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// sortedShardIDs() returns the shard ids of a snapshot set in ascending order
// so checkpoint reporting is deterministic
func sortedShardIDs(snapshots map[lib.ShardID]*lib.ShardSnapshot) []lib.ShardID {
	ids := make([]lib.ShardID, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
