// Package nverr implements NervusDB's closed error-kind taxonomy.
//
// Every error that crosses the GraphStore/GraphSnapshot boundary carries a
// stable (Code, Kind, Message) triple so that bindings can classify failures
// by text without parsing Go error chains. The four kinds are closed by
// design: Syntax, Execution, Storage, and Compatibility. Classification
// priority when more than one kind could plausibly apply is
// Compatibility > Syntax > Storage > Execution.
package nverr

import (
	"errors"
	"fmt"
)

// Kind is one of the four error categories a caller-visible error belongs to.
type Kind string

const (
	// Syntax errors indicate malformed input at an API boundary (e.g. a
	// label name that exceeds the configured byte limit).
	Syntax Kind = "Syntax"
	// Execution errors indicate a well-formed request that failed at
	// runtime against live data (e.g. looking up a node that no longer
	// exists).
	Execution Kind = "Execution"
	// Storage errors indicate I/O failure, permission problems, disk
	// exhaustion, or corruption detected by the storage kernel.
	Storage Kind = "Storage"
	// Compatibility errors indicate a feature or on-disk format the
	// running build does not support.
	Compatibility Kind = "Compatibility"
)

// rank gives the classification priority used when a caller must collapse
// two candidate kinds into one: lower rank wins.
var rank = map[Kind]int{
	Compatibility: 0,
	Syntax:        1,
	Storage:       2,
	Execution:     3,
}

// Classify returns whichever of a, b has priority under
// Compatibility > Syntax > Storage > Execution.
func Classify(a, b Kind) Kind {
	if rank[a] <= rank[b] {
		return a
	}
	return b
}

// Error is the typed error every storage-kernel API returns for
// caller-visible failures.
type Error struct {
	Code    string
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a typed error with no wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

// Wrap builds a typed error around a lower-level cause, preserving it for
// errors.Is/errors.As chains while presenting a stable, bindings-friendly
// code and message at the top.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Code: code, Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting
// to Execution for errors the kernel did not classify itself — an
// unclassified error is a bug, but callers still need a usable default.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Execution
}

// Sentinel errors returned by the storage kernel. Wrap these with Wrap (or
// compare with errors.Is) rather than constructing ad-hoc *Error values for
// common conditions, the way the teacher package declares its Err* sentinels.
var (
	ErrNotFound      = errors.New("nervusdb: not found")
	ErrAlreadyExists = errors.New("nervusdb: already exists")
	ErrClosed        = errors.New("nervusdb: handle closed")
	ErrReadonly      = errors.New("nervusdb: database is readonly")
	ErrWriterBusy    = errors.New("nervusdb: another writer is active")
	ErrCorrupted     = errors.New("nervusdb: corrupted page or record")
	ErrTxnClosed     = errors.New("nervusdb: transaction already committed or aborted")
	ErrDanglingEdge  = errors.New("nervusdb: node has incident edges; detach before delete")
)
