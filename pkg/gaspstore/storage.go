// Package gaspstore provides an in-memory reference gasp.Storage: a
// known-UTXO set plus the per-graph scratch space a sync session stages
// while a graph is being assembled, anchored by an injectable chain-proof
// validator rather than a full overlay topic-manager admittance pipeline.
package gaspstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/4chain-ag/go-overlay-services/pkg/gasp"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/spv"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/chaintracker"
)

// ErrGraphFull is returned by AppendToGraph once a graph's node count would
// exceed MaxNodesPerGraph. It wraps gasp.ErrTooLarge.
var ErrGraphFull = fmt.Errorf("gaspstore: graph is full: %w", gasp.ErrTooLarge)

// ErrOrphanInput is returned by AppendToGraph when a non-tip node names a
// spentBy parent that hasn't been staged yet in this graph.
var ErrOrphanInput = errors.New("gaspstore: spentBy parent not found in graph")

// graphNode is one vertex of a temporary graph under assembly: the GASP node
// content plus enough identity for FinalizeGraph and ValidateGraphAnchor to
// reconstruct the DAG from tx.Inputs. The spentBy argument of AppendToGraph
// is only checked, never stored, so tx.Inputs is the one edge available
// whether the node arrived via a pull's spentBy chain or a push with
// spentBy=nil.
type graphNode struct {
	node    *gasp.Node
	txid    chainhash.Hash
	graphID string
}

// Store is an in-memory gasp.Storage. The zero value is not usable; build
// one with New. A Store is safe for concurrent use by multiple Engine
// goroutines fanning out across graphs and ancestors.
type Store struct {
	// Validator decides whether a graph's anchoring transaction is
	// chain-proven. A nil Validator trusts every anchor (suitable only for
	// tests or a pre-trusted-peer deployment); production wiring should
	// supply one backed by a real chaintracker.ChainTracker.
	Validator AnchorValidator

	// MaxNodesPerGraph bounds how many nodes a single temporary graph may
	// accumulate before AppendToGraph starts failing with ErrGraphFull.
	// Zero means unlimited.
	MaxNodesPerGraph int

	mu         sync.RWMutex
	known      map[string]*knownEntry // outpoint36 -> entry
	tempNodes  sync.Map               // outpoint36 -> *graphNode
	graphCount map[string]int         // graphID -> node count, guarded by mu
}

type knownEntry struct {
	node  *gasp.Node
	since *uint64 // nil means "no timestamp", always returned by FindKnownUTXOs
}

// AnchorValidator abstracts chain-proof verification so a Store can reuse
// whatever SPV chain tracker the host already runs, without this package
// depending on a concrete overlay topic-manager admittance pipeline.
type AnchorValidator interface {
	// Validate reports whether tx's merkle proof (if any) verifies against
	// the host's chain tracker. Transactions carrying no proof are the
	// caller's responsibility to accept or reject (e.g. a pre-trusted
	// unconfirmed parent) before calling Validate.
	Validate(ctx context.Context, tx *transaction.Transaction) (bool, error)
}

// ChainTrackerValidator adapts a chaintracker.ChainTracker into an
// AnchorValidator via spv.Verify.
type ChainTrackerValidator struct {
	Tracker chaintracker.ChainTracker
}

func (v *ChainTrackerValidator) Validate(ctx context.Context, tx *transaction.Transaction) (bool, error) {
	return spv.Verify(ctx, tx, v.Tracker, nil)
}

// ValidatorFunc adapts a plain function to an AnchorValidator, useful for
// tests and for hosts with a bespoke trust policy that isn't a
// chaintracker.ChainTracker.
type ValidatorFunc func(ctx context.Context, tx *transaction.Transaction) (bool, error)

func (f ValidatorFunc) Validate(ctx context.Context, tx *transaction.Transaction) (bool, error) {
	return f(ctx, tx)
}

// New builds an empty Store.
func New(validator AnchorValidator, maxNodesPerGraph int) *Store {
	return &Store{
		Validator:        validator,
		MaxNodesPerGraph: maxNodesPerGraph,
		known:            make(map[string]*knownEntry),
		graphCount:       make(map[string]int),
	}
}

// Seed registers a node as already known, at the given time. A nil since
// marks it as having no timestamp, so FindKnownUTXOs always returns it
// regardless of the caller's since threshold (spec.md §8, "since honoured").
func (s *Store) Seed(outpoint *transaction.Outpoint, node *gasp.Node, since *uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[gasp.Outpoint36(outpoint)] = &knownEntry{node: node, since: since}
}

func (s *Store) FindKnownUTXOs(ctx context.Context, since uint64) ([]*transaction.Outpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*transaction.Outpoint
	for key, entry := range s.known {
		if entry.since == nil || *entry.since > since {
			o, err := gasp.OutpointFrom36(key)
			if err != nil {
				return nil, fmt.Errorf("gaspstore: corrupt known key %q: %w", key, err)
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Store) HydrateGASPNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error) {
	s.mu.RLock()
	entry, ok := s.known[gasp.Outpoint36(outpoint)]
	s.mu.RUnlock()
	if !ok {
		return nil, gasp.ErrNotFound
	}
	clone := *entry.node
	clone.GraphID = graphID
	if !metadata {
		clone.Inputs = nil
		clone.TxMetadata = nil
		clone.OutputMetadata = nil
	}
	return &clone, nil
}

func (s *Store) FindNeededInputs(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
	if len(node.Inputs) == 0 {
		return nil, nil
	}
	result := make(map[string]*gasp.NodeResponseData, len(node.Inputs))
	s.mu.RLock()
	for key, input := range node.Inputs {
		if _, known := s.known[key]; known {
			continue
		}
		if _, staged := s.tempNodes.Load(key); staged {
			continue
		}
		result[key] = &gasp.NodeResponseData{Metadata: input.Hash != ""}
	}
	s.mu.RUnlock()
	if len(result) == 0 {
		return nil, nil
	}
	return &gasp.NodeResponse{RequestedInputs: result}, nil
}

func (s *Store) AppendToGraph(ctx context.Context, node *gasp.Node, spentBy *transaction.Outpoint) error {
	tx, err := transaction.NewTransactionFromHex(node.RawTx)
	if err != nil {
		return fmt.Errorf("gaspstore: parse node tx: %w", err)
	}
	if node.Proof != nil && *node.Proof != "" {
		if tx.MerklePath, err = transaction.NewMerklePathFromHex(*node.Proof); err != nil {
			return fmt.Errorf("gaspstore: parse merkle path: %w", err)
		}
	}

	graphKey := gasp.Outpoint36(node.GraphID)
	txid := *tx.TxID()
	nodeKey := gasp.Encode36(txid, node.OutputIndex)

	gn := &graphNode{node: node, txid: txid, graphID: graphKey}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.tempNodes.Load(nodeKey)
	if !exists && s.MaxNodesPerGraph > 0 && s.graphCount[graphKey] >= s.MaxNodesPerGraph {
		return ErrGraphFull
	}

	if spentBy != nil {
		if _, ok := s.tempNodes.Load(gasp.Outpoint36(spentBy)); !ok {
			return ErrOrphanInput
		}
	}

	if !exists {
		s.graphCount[graphKey]++
	}
	s.tempNodes.Store(nodeKey, gn)
	return nil
}

func (s *Store) ValidateGraphAnchor(ctx context.Context, graphID *transaction.Outpoint) error {
	rootAny, ok := s.tempNodes.Load(gasp.Outpoint36(graphID))
	if !ok {
		return fmt.Errorf("%w: root node missing", gasp.ErrAnchorInvalid)
	}
	root := rootAny.(*graphNode)

	if s.Validator != nil {
		tx, err := s.hydrateTx(root)
		if err != nil {
			return err
		}
		valid, err := s.Validator.Validate(ctx, tx)
		if err != nil {
			return fmt.Errorf("gaspstore: validate anchor: %w", err)
		}
		if !valid {
			return gasp.ErrAnchorInvalid
		}
	}
	return nil
}

// hydrateTx walks a graphNode and its ancestors (via SourceTransaction
// wiring) so the anchor transaction carries its full merkle-proof chain for
// spv.Verify, mirroring how an unconfirmed parent is threaded through its
// proven grandparent.
func (s *Store) hydrateTx(node *graphNode) (*transaction.Transaction, error) {
	tx, err := transaction.NewTransactionFromHex(node.node.RawTx)
	if err != nil {
		return nil, err
	}
	if node.node.Proof != nil && *node.node.Proof != "" {
		if tx.MerklePath, err = transaction.NewMerklePathFromHex(*node.node.Proof); err != nil {
			return nil, err
		}
		return tx, nil
	}
	for vin, input := range tx.Inputs {
		parentKey := gasp.Encode36(*input.SourceTXID, input.SourceTxOutIndex)
		parentAny, ok := s.tempNodes.Load(parentKey)
		if !ok {
			return nil, fmt.Errorf("gaspstore: unproven input %s has no staged parent", parentKey)
		}
		parentTx, err := s.hydrateTx(parentAny.(*graphNode))
		if err != nil {
			return nil, err
		}
		tx.Inputs[vin].SourceTransaction = parentTx
	}
	return tx, nil
}

func (s *Store) DiscardGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	graphKey := gasp.Outpoint36(graphID)
	var toDelete []string
	s.tempNodes.Range(func(k, v any) bool {
		if v.(*graphNode).graphID == graphKey {
			toDelete = append(toDelete, k.(string))
		}
		return true
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range toDelete {
		s.tempNodes.Delete(k)
	}
	delete(s.graphCount, graphKey)
	return nil
}

// FinalizeGraph promotes every staged node of graphID into known state,
// leaves (ancestors) first. The node set and order are reconstructed by
// walking each node's own tx.Inputs: AppendToGraph keeps no spentBy edges,
// and every node pushed through SubmitNode arrives with spentBy=nil anyway,
// while every node's Inputs are always present (AppendToGraph parses RawTx
// unconditionally). This mirrors
// hydrateTx's ancestor walk, which has the same requirement for
// ValidateGraphAnchor.
func (s *Store) FinalizeGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	graphKey := gasp.Outpoint36(graphID)
	rootAny, ok := s.tempNodes.Load(graphKey)
	if !ok {
		return fmt.Errorf("%w: root node missing at finalize", gasp.ErrNotFound)
	}

	var ordered []*graphNode
	seen := make(map[chainhash.Hash]bool)
	var walk func(n *graphNode) error
	walk = func(n *graphNode) error {
		if seen[n.txid] {
			return nil
		}
		seen[n.txid] = true

		tx, err := transaction.NewTransactionFromHex(n.node.RawTx)
		if err != nil {
			return fmt.Errorf("gaspstore: finalize: parse tx: %w", err)
		}
		for _, input := range tx.Inputs {
			parentKey := gasp.Encode36(*input.SourceTXID, input.SourceTxOutIndex)
			parentAny, ok := s.tempNodes.Load(parentKey)
			if !ok {
				continue // ancestor already known, or pre-trusted; nothing staged to finalize
			}
			parent := parentAny.(*graphNode)
			if parent.graphID != n.graphID {
				continue
			}
			if err := walk(parent); err != nil {
				return err
			}
		}
		ordered = append(ordered, n)
		return nil
	}
	if err := walk(rootAny.(*graphNode)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := uint64(len(s.known) + 1)
	for _, gn := range ordered {
		nodeKey := gasp.Encode36(gn.txid, gn.node.OutputIndex)
		s.known[nodeKey] = &knownEntry{node: gn.node, since: &now}
		s.tempNodes.Delete(nodeKey)
	}
	delete(s.graphCount, graphKey)
	return nil
}
