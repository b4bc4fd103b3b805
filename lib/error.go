package lib

import (
	"fmt"
	"math"
)

type ErrorI interface {
	Code() ErrorCode     // Returns the error code
	Module() ErrorModule // Returns the error module
	error                // Implements the built-in error interface
}

var _ ErrorI = &Error{} // Ensures *Error implements ErrorI

type ErrorCode uint32 // Defines a type for error codes

type ErrorModule string // Defines a type for error modules

type Error struct {
	ECode   ErrorCode   `json:"code"`   // Error code
	EModule ErrorModule `json:"module"` // Error module
	Msg     string      `json:"msg"`    // Error message
}

func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	// Constructs a new Error instance
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code, and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeJSONMarshal     ErrorCode = 1
	CodeJSONUnmarshal   ErrorCode = 2
	CodeWriteFile       ErrorCode = 3
	CodeReadFile        ErrorCode = 4
	CodeInvalidArgument ErrorCode = 5
	CodeMerkleTree      ErrorCode = 6
	CodeCommunication   ErrorCode = 7
	CodeInvalidMode     ErrorCode = 8

	// Shard Module
	ShardModule ErrorModule = "shard"

	// Shard Module Error Codes
	CodeInvalidShard      ErrorCode = 1
	CodeRebalanceFailed   ErrorCode = 2
	CodeInvalidSignature  ErrorCode = 3
	CodeInsufficientFunds ErrorCode = 4
	CodeStateCorruption   ErrorCode = 5
	CodePredictorTimeout  ErrorCode = 6
	CodeDuplicateShard    ErrorCode = 7
	CodeShardHalted       ErrorCode = 8
	CodeEncryptState      ErrorCode = 9
	CodeDecryptState      ErrorCode = 10
	CodeRebalanceCanceled ErrorCode = 11

	// Consensus Module
	ConsensusModule ErrorModule = "consensus"

	// Consensus Module Error Codes
	CodeEvaluationDegraded ErrorCode = 1
	CodeUnknownValidator   ErrorCode = 2
	CodeDuplicateValidator ErrorCode = 3
	CodeNoQuorum           ErrorCode = 4
	CodeInvalidSeverity    ErrorCode = 5

	// Storage Module
	StorageModule ErrorModule = "store"

	// Storage Module Error Codes
	CodeOpenDB       ErrorCode = 1
	CodeCloseDB      ErrorCode = 2
	CodeStoreGet     ErrorCode = 3
	CodeStoreSet     ErrorCode = 4
	CodeWriteFailure ErrorCode = 5
	CodeNilSnapshot  ErrorCode = 6
	CodeCommitDB     ErrorCode = 7
)

// error implementations below for the `lib` package

func newLogError(err error) ErrorI {
	return NewError(NoCode, MainModule, err.Error())
}

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("jsonMarshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("jsonUnmarshal() failed with err: %s", err.Error()))
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("writeFile() failed with err: %s", err.Error()))
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("readFile() failed with err: %s", err.Error()))
}

func ErrInvalidArgument() ErrorI {
	return NewError(CodeInvalidArgument, MainModule, "the argument is invalid")
}

func ErrMerkleTree(err error) ErrorI {
	return NewError(CodeMerkleTree, MainModule, fmt.Sprintf("merkle tree failed with err: %s", err.Error()))
}

func ErrCommunication(err error) ErrorI {
	return NewError(CodeCommunication, MainModule, fmt.Sprintf("gateway communication failed with err: %s", err.Error()))
}

func ErrInvalidConsensusMode(mode uint32) ErrorI {
	return NewError(CodeInvalidMode, MainModule, fmt.Sprintf("consensus mode %d is invalid", mode))
}
