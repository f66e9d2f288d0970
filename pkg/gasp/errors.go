package gasp

import (
	"errors"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/transaction"
)

// ErrNotFound is returned by Storage.HydrateGASPNode when the requested
// outpoint is not known locally.
var ErrNotFound = errors.New("gasp: node not found")

// ErrUnwanted is returned by Storage.AppendToGraph when the graph the node
// belongs to is not (or no longer) desired.
var ErrUnwanted = errors.New("gasp: graph not wanted")

// ErrTooLarge is returned by Storage.AppendToGraph when appending the node
// would exceed the host-configured graph size policy.
var ErrTooLarge = errors.New("gasp: graph too large")

// ErrAnchorInvalid is returned by Storage.ValidateGraphAnchor when a frontier
// leaf of the graph is neither chain-proven nor pre-trusted.
var ErrAnchorInvalid = errors.New("gasp: graph anchor is not valid")

// VersionMismatchError is returned from GetInitialResponse when the caller's
// protocol version does not match this engine's version. It is session-fatal:
// Sync aborts immediately and no Storage mutation occurs.
type VersionMismatchError struct {
	Current int
	Foreign int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("gasp: version mismatch: current=%d foreign=%d", e.Current, e.Foreign)
}

// Is implements error matching for errors.Is, ignoring the specific version
// numbers carried by the error.
func (e *VersionMismatchError) Is(target error) bool {
	_, ok := target.(*VersionMismatchError)
	return ok
}

func newVersionMismatchError(current, foreign int) *VersionMismatchError {
	return &VersionMismatchError{Current: current, Foreign: foreign}
}

// TransportError wraps any error surfaced by a Remote call, including a
// transport-level cancellation. It is never session-fatal on its own; the
// graph it was encountered for is discarded and the session continues.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gasp: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func newTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// GraphError preserves the graphID an error occurred under, so the caller
// that catches it mid-recursion always knows which graph to discard. This is
// the "transient error context" carried per spec.md §9 instead of threading
// ambient state through the recursive walk.
type GraphError struct {
	GraphID *transaction.Outpoint
	Op      string
	Err     error
}

func (e *GraphError) Error() string {
	graphID := "<nil>"
	if e.GraphID != nil {
		graphID = e.GraphID.String()
	}
	return fmt.Sprintf("gasp: graph %s failed during %s: %v", graphID, e.Op, e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }

func newGraphError(graphID *transaction.Outpoint, op string, err error) error {
	if err == nil {
		return nil
	}
	return &GraphError{GraphID: graphID, Op: op, Err: err}
}
