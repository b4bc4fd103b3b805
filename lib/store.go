package lib

/* This file contains the persistence interface consumed by the shard manager */

// SnapshotStoreI defines the interface of the durable, versioned snapshot log;
// every per-shard write is independently atomic and Checkpoint is best-effort
// across shards
type SnapshotStoreI interface {
	Persist(id ShardID, snapshot *ShardSnapshot) (version uint64, err ErrorI) // append a new versioned snapshot
	LoadLatest(id ShardID) (*ShardSnapshot, ErrorI)                           // newest snapshot or genesis-empty state
	LoadVersion(id ShardID, version uint64) (*ShardSnapshot, ErrorI)          // a specific historical snapshot
	Checkpoint(snapshots map[ShardID]*ShardSnapshot) (failed []ShardID)       // persist all shards, report the failures
	Close() ErrorI                                                            // gracefully stop the database
}
