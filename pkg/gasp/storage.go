package gasp

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Storage is the local collaborator the Engine drives a session against. It
// owns the authoritative known-UTXO set and the transient per-graph scratch
// space used while a graph is being assembled, and performs anchor
// validation and finalize/discard. Implementations must provide their own
// internal atomicity for append/finalize/discard on a given graphID; the
// Engine does no locking of its own (spec.md §5).
type Storage interface {
	// FindKnownUTXOs returns every known UTXO with a timestamp greater than
	// since, plus every UTXO that carries no timestamp at all (unconfirmed
	// UTXOs are always returned regardless of since).
	FindKnownUTXOs(ctx context.Context, since uint64) ([]*transaction.Outpoint, error)

	// HydrateGASPNode materializes the Node for outpoint, labeled as
	// belonging to graphID. metadata requests TxMetadata/OutputMetadata/
	// Inputs be populated. Returns ErrNotFound if the node isn't known.
	HydrateGASPNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*Node, error)

	// FindNeededInputs inspects node and reports which of its ancestor
	// inputs the host still needs, or nil if none are needed.
	FindNeededInputs(ctx context.Context, node *Node) (*NodeResponse, error)

	// AppendToGraph adds node to the temporary graph graphID=node.GraphID,
	// wiring it as the consumer of spentBy (nil for the tip). It is
	// idempotent per (graphID, txid(rawTx), outputIndex). Returns
	// ErrUnwanted if the graph isn't desired, or ErrTooLarge if the host's
	// size policy would be exceeded.
	AppendToGraph(ctx context.Context, node *Node, spentBy *transaction.Outpoint) error

	// ValidateGraphAnchor checks that every frontier leaf of the temporary
	// graph graphID is either chain-proven or pre-trusted. Returns
	// ErrAnchorInvalid otherwise.
	ValidateGraphAnchor(ctx context.Context, graphID *transaction.Outpoint) error

	// DiscardGraph removes every node of the temporary graph graphID. It
	// must succeed even if the graph does not exist (best-effort cleanup).
	DiscardGraph(ctx context.Context, graphID *transaction.Outpoint) error

	// FinalizeGraph atomically promotes every temporary node of graphID into
	// known state. Only called after a successful ValidateGraphAnchor.
	FinalizeGraph(ctx context.Context, graphID *transaction.Outpoint) error
}
