package store

import (
	"fmt"

	"github.com/lattice-labs/lattice/lib"
)

func ErrOpenDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeOpenDB, lib.StorageModule, fmt.Sprintf("openDB() failed with err: %s", err.Error()))
}

func ErrCloseDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeCloseDB, lib.StorageModule, fmt.Sprintf("closeDB() failed with err: %s", err.Error()))
}

func ErrStoreGet(err error) lib.ErrorI {
	return lib.NewError(lib.CodeStoreGet, lib.StorageModule, fmt.Sprintf("store.get() failed with err: %s", err.Error()))
}

func ErrStoreSet(err error) lib.ErrorI {
	return lib.NewError(lib.CodeStoreSet, lib.StorageModule, fmt.Sprintf("store.set() failed with err: %s", err.Error()))
}

func ErrCommitDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeCommitDB, lib.StorageModule, fmt.Sprintf("commitDB() failed with err: %s", err.Error()))
}

func ErrNilSnapshot() lib.ErrorI {
	return lib.NewError(lib.CodeNilSnapshot, lib.StorageModule, "snapshot is nil")
}

// ErrPersistenceWriteFailure() is the escalated form of a snapshot write that
// kept failing after the bounded retry budget was exhausted
func ErrPersistenceWriteFailure(id lib.ShardID, attempts uint64, err error) lib.ErrorI {
	return lib.NewError(lib.CodeWriteFailure, lib.StorageModule,
		fmt.Sprintf("persist() for shard %d failed after %d attempts with err: %s", id, attempts, err.Error()))
}
