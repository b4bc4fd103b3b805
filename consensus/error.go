package consensus

import (
	"fmt"

	"github.com/lattice-labs/lattice/lib"
)

func ErrEvaluationDegraded(err error) lib.ErrorI {
	return lib.NewError(lib.CodeEvaluationDegraded, lib.ConsensusModule,
		fmt.Sprintf("metrics sample unavailable, holding the current mode: %s", err.Error()))
}

func ErrUnknownValidator(address string) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownValidator, lib.ConsensusModule, fmt.Sprintf("validator %s is not registered", address))
}

func ErrDuplicateValidator(address string) lib.ErrorI {
	return lib.NewError(lib.CodeDuplicateValidator, lib.ConsensusModule, fmt.Sprintf("validator %s is already registered", address))
}

func ErrNoQuorum(mode lib.ConsensusMode, eligible, needed int) lib.ErrorI {
	return lib.NewError(lib.CodeNoQuorum, lib.ConsensusModule,
		fmt.Sprintf("mode %s has %d eligible validators but needs %d", mode, eligible, needed))
}

func ErrInvalidSeverity(severity float64) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidSeverity, lib.ConsensusModule,
		fmt.Sprintf("penalty severity %.2f is outside (0, 1]", severity))
}
