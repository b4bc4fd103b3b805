package shard

import (
	"fmt"

	"github.com/lattice-labs/lattice/lib"
)

func ErrInvalidShard(id lib.ShardID) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidShard, lib.ShardModule, fmt.Sprintf("shard %d does not exist", id))
}

func ErrDuplicateShard(id lib.ShardID) lib.ErrorI {
	return lib.NewError(lib.CodeDuplicateShard, lib.ShardModule, fmt.Sprintf("shard %d already exists", id))
}

func ErrRebalanceFailed(err error) lib.ErrorI {
	return lib.NewError(lib.CodeRebalanceFailed, lib.ShardModule, fmt.Sprintf("rebalance failed with err: %s", err.Error()))
}

func ErrRebalanceCanceled() lib.ErrorI {
	return lib.NewError(lib.CodeRebalanceCanceled, lib.ShardModule, "rebalance was canceled before commit")
}

func ErrInvalidSignature(txID string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidSignature, lib.ShardModule, fmt.Sprintf("transaction %s has an invalid signature", txID))
}

func ErrInsufficientFunds(sender string, have, need uint64) lib.ErrorI {
	return lib.NewError(lib.CodeInsufficientFunds, lib.ShardModule,
		fmt.Sprintf("sender %s has %d but needs %d", sender, have, need))
}

func ErrStateCorruption(id lib.ShardID) lib.ErrorI {
	return lib.NewError(lib.CodeStateCorruption, lib.ShardModule,
		fmt.Sprintf("shard %d state fingerprint diverged from the last persisted value", id))
}

func ErrPredictorTimeout(err error) lib.ErrorI {
	return lib.NewError(lib.CodePredictorTimeout, lib.ShardModule, fmt.Sprintf("load predictor failed with err: %s", err.Error()))
}

func ErrShardHalted(id lib.ShardID) lib.ErrorI {
	return lib.NewError(lib.CodeShardHalted, lib.ShardModule,
		fmt.Sprintf("shard %d is halted pending rollback to a verified snapshot", id))
}

func ErrEncryptState(err error) lib.ErrorI {
	return lib.NewError(lib.CodeEncryptState, lib.ShardModule, fmt.Sprintf("encryptState() failed with err: %s", err.Error()))
}

func ErrDecryptState(err error) lib.ErrorI {
	return lib.NewError(lib.CodeDecryptState, lib.ShardModule, fmt.Sprintf("decryptState() failed with err: %s", err.Error()))
}
