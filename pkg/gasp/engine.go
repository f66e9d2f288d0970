package gasp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// DefaultConcurrency bounds how many graphs / sibling ancestor fetches an
// Engine will pursue in parallel when the caller doesn't pick a value.
const DefaultConcurrency = 16

// DefaultVersion is the protocol version an Engine speaks when Params.Version
// is left at zero.
const DefaultVersion = 1

// Params configures a new Engine.
type Params struct {
	Storage Storage
	Remote  Remote

	// LastInteraction is the peer's since as of the last completed session;
	// zero means "sync everything".
	LastInteraction uint64

	// Version is this engine's protocol version. Defaults to DefaultVersion.
	Version int

	// LogPrefix is prepended to every log line this engine emits. Defaults
	// to "[GASP] ".
	LogPrefix string

	// Log disables all logging when false. Defaults to true.
	Log *bool

	// Unidirectional disables the push phase of Sync and the handling of
	// GetInitialReply as an initiator-side call.
	Unidirectional bool

	// Concurrency bounds parallel graph/ancestor fan-out. Defaults to
	// DefaultConcurrency.
	Concurrency int
}

// Engine drives a GASP sync session: it builds the handshake, walks incoming
// graphs recursively to fetch needed ancestors, pushes outgoing graphs, and
// answers the peer's own ancestor requests. An Engine also implements Remote,
// since the four operations it exposes to a caller are exactly the four a
// peer's Remote speaks (spec.md §4.1.1, §4.3).
type Engine struct {
	Storage         Storage
	Remote          Remote
	LastInteraction uint64
	Version         int
	LogPrefix       string
	Log             bool
	Unidirectional  bool

	limiter chan struct{}
}

// NewEngine builds an Engine from Params, applying defaults for any zero
// field left unset.
func NewEngine(params Params) *Engine {
	e := &Engine{
		Storage:         params.Storage,
		Remote:          params.Remote,
		LastInteraction: params.LastInteraction,
		Unidirectional:  params.Unidirectional,
		LogPrefix:       params.LogPrefix,
		Log:             true,
	}
	if params.Log != nil {
		e.Log = *params.Log
	}
	if e.LogPrefix == "" {
		e.LogPrefix = "[GASP] "
	}
	if params.Version > 0 {
		e.Version = params.Version
	} else {
		e.Version = DefaultVersion
	}
	concurrency := params.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	e.limiter = make(chan struct{}, concurrency)
	return e
}

func (e *Engine) logf(level slog.Level, format string, args ...any) {
	if !e.Log {
		return
	}
	slog.Log(context.Background(), level, e.LogPrefix+fmt.Sprintf(format, args...))
}

// GetInitialResponse processes an InitialRequest and returns the tips this
// engine knows, filtered by req.Since. It fails with VersionMismatchError if
// req.Version does not match this engine's version; no Storage mutation
// occurs in that case.
func (e *Engine) GetInitialResponse(ctx context.Context, req *InitialRequest) (*InitialResponse, error) {
	if req.Version != e.Version {
		e.logf(slog.LevelError, "version mismatch: current=%d foreign=%d", e.Version, req.Version)
		return nil, newVersionMismatchError(e.Version, req.Version)
	}
	utxos, err := e.Storage.FindKnownUTXOs(ctx, req.Since)
	if err != nil {
		return nil, err
	}
	return &InitialResponse{
		UTXOList: utxos,
		Since:    e.LastInteraction,
	}, nil
}

// GetInitialReply computes which of this engine's own tips the peer (whose
// InitialResponse is resp) did not list, returning only the set difference.
// Never called by the initiator in unidirectional mode.
func (e *Engine) GetInitialReply(ctx context.Context, resp *InitialResponse) (*InitialReply, error) {
	mine, err := e.Storage.FindKnownUTXOs(ctx, resp.Since)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(resp.UTXOList))
	for _, o := range resp.UTXOList {
		known[o.String()] = struct{}{}
	}
	reply := &InitialReply{UTXOList: make([]*transaction.Outpoint, 0, len(mine))}
	for _, o := range mine {
		if _, ok := known[o.String()]; !ok {
			reply.UTXOList = append(reply.UTXOList, o)
		}
	}
	return reply, nil
}

// RequestNode delegates to Storage.HydrateGASPNode.
func (e *Engine) RequestNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*Node, error) {
	node, err := e.Storage.HydrateGASPNode(ctx, graphID, outpoint, metadata)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, ErrNotFound
	}
	return node, nil
}

// SubmitNode is the entry point by which a peer pushes a node to us: a tip,
// or an ancestor the pushing peer sends in answer to an earlier
// NodeResponse. Every submitted node is appended with spentBy=nil, since a
// Node carries no spentBy of its own. SubmitNode reports which ancestors we
// still need; when the node needs none, it validates and finalizes
// node.GraphID right away.
func (e *Engine) SubmitNode(ctx context.Context, node *Node) (*NodeResponse, error) {
	if err := e.Storage.AppendToGraph(ctx, node, nil); err != nil {
		return nil, err
	}
	needed, err := e.Storage.FindNeededInputs(ctx, node)
	if err != nil {
		return nil, err
	}
	if needed == nil || len(needed.RequestedInputs) == 0 {
		if err := e.CompleteGraph(ctx, node.GraphID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return needed, nil
}

// CompleteGraph validates the anchor of a fully-assembled temporary graph
// and finalizes it, discarding the graph on any failure. Called exactly once
// per graph, when recursion for that graph fully unwinds.
func (e *Engine) CompleteGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	if err := e.Storage.ValidateGraphAnchor(ctx, graphID); err != nil {
		e.logf(slog.LevelWarn, "anchor validation failed for %s: %v", graphID, err)
		e.discard(ctx, graphID)
		return newGraphError(graphID, "validateGraphAnchor", err)
	}
	if err := e.Storage.FinalizeGraph(ctx, graphID); err != nil {
		e.logf(slog.LevelWarn, "finalize failed for %s: %v", graphID, err)
		e.discard(ctx, graphID)
		return newGraphError(graphID, "finalizeGraph", err)
	}
	return nil
}

// discard best-effort discards a graph, swallowing (but logging) any error
// DiscardGraph itself returns.
func (e *Engine) discard(ctx context.Context, graphID *transaction.Outpoint) {
	if err := e.Storage.DiscardGraph(ctx, graphID); err != nil {
		e.logf(slog.LevelWarn, "discardGraph(%s) failed: %v", graphID, err)
	}
}

// Sync performs one complete GASP session against Remote: a pull phase that
// fetches and materializes every tip the peer has that we lack, followed
// (unless Unidirectional) by a push phase that submits our own tips the peer
// lacks. Sync fails on a session-fatal error: any error from the handshake
// (a version mismatch or a failed GetInitialResponse call), or a failure to
// read our own known tips from Storage. Any error while processing a single
// graph is scoped to that graph, logged, and the session continues with the
// next graph.
func (e *Engine) Sync(ctx context.Context) error {
	e.logf(slog.LevelInfo, "starting sync, lastInteraction=%d", e.LastInteraction)

	req := &InitialRequest{Version: e.Version, Since: e.LastInteraction}
	resp, err := e.Remote.GetInitialResponse(ctx, req)
	if err != nil {
		return err
	}
	e.LastInteraction = resp.Since

	if err := e.pullPhase(ctx, resp.UTXOList); err != nil {
		return err
	}

	if !e.Unidirectional {
		if err := e.pushPhase(ctx, resp); err != nil {
			return err
		}
	}

	e.logf(slog.LevelInfo, "sync completed")
	return nil
}

// pullPhase fetches and materializes every outpoint in tips that Storage
// doesn't already know about, fanning graphs out in parallel and collecting
// per-graph outcomes rather than short-circuiting on the first failure.
func (e *Engine) pullPhase(ctx context.Context, tips []*transaction.Outpoint) error {
	local, err := e.Storage.FindKnownUTXOs(ctx, 0)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(local))
	for _, o := range local {
		known[o.String()] = struct{}{}
	}

	var wg sync.WaitGroup
	for _, tip := range tips {
		if _, ok := known[tip.String()]; ok {
			continue
		}
		wg.Add(1)
		e.limiter <- struct{}{}
		go func(tip *transaction.Outpoint) {
			defer func() {
				<-e.limiter
				wg.Done()
			}()
			if err := e.pullGraph(ctx, tip); err != nil {
				e.logf(slog.LevelWarn, "pull graph %s failed: %v", tip, err)
			}
		}(tip)
	}
	wg.Wait()
	return nil
}

func (e *Engine) pullGraph(ctx context.Context, tip *transaction.Outpoint) error {
	seen := &sync.Map{}
	seen.Store(Outpoint36(tip), struct{}{})
	node, err := e.Remote.RequestNode(ctx, tip, tip, true)
	if err != nil {
		return newGraphError(tip, "requestNode", newTransportError("RequestNode", err))
	}
	return e.processIncomingNode(ctx, node, nil, seen)
}

// pushPhase computes, against our own knowledge, which of our tips the peer's
// InitialResponse didn't list, then submits each to Remote, answering
// follow-up ancestor requests until each graph is exhausted. The diff is
// computed locally (GetInitialReply reads only e.Storage): the peer's
// InitialResponse already told us everything it has, so there is nothing to
// round-trip back to it before pushing.
func (e *Engine) pushPhase(ctx context.Context, resp *InitialResponse) error {
	reply, err := e.GetInitialReply(ctx, resp)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, tip := range reply.UTXOList {
		wg.Add(1)
		e.limiter <- struct{}{}
		go func(tip *transaction.Outpoint) {
			defer func() {
				<-e.limiter
				wg.Done()
			}()
			seen := &sync.Map{}
			seen.Store(Outpoint36(tip), struct{}{})
			node, err := e.Storage.HydrateGASPNode(ctx, tip, tip, true)
			if err != nil {
				e.logf(slog.LevelWarn, "hydrate outgoing %s failed: %v", tip, err)
				return
			}
			if err := e.processOutgoingNode(ctx, node, seen); err != nil {
				e.logf(slog.LevelWarn, "push graph %s failed: %v", tip, err)
			}
		}(tip)
	}
	wg.Wait()
	return nil
}

// processIncomingNode implements the recursive incoming-node walk of spec.md
// §4.1.3: append the node, recurse into whatever ancestors Storage says it
// still needs, and — once the recursion unwinds back to the tip
// (spentBy==nil) — validate and finalize the now-complete graph.
//
// The caller is responsible for having already claimed node's identity in
// seen before fetching node and invoking this function, so that the cycle
// guard gates the network RequestNode call itself rather than the append
// that follows it (each (txid, outputIndex) triggers at most one
// RequestNode per top-level graph, per spec.md's invariant).
func (e *Engine) processIncomingNode(ctx context.Context, node *Node, spentBy *transaction.Outpoint, seen *sync.Map) error {
	txid, err := computeTxID(node.RawTx)
	if err != nil {
		return newGraphError(node.GraphID, "computeTxID", err)
	}

	if err := e.Storage.AppendToGraph(ctx, node, spentBy); err != nil {
		e.discard(ctx, node.GraphID)
		return newGraphError(node.GraphID, "appendToGraph", err)
	}

	needed, err := e.Storage.FindNeededInputs(ctx, node)
	if err != nil {
		e.discard(ctx, node.GraphID)
		return newGraphError(node.GraphID, "findNeededInputs", err)
	}

	if needed != nil && len(needed.RequestedInputs) > 0 {
		parent := &transaction.Outpoint{Txid: *txid, Index: node.OutputIndex}

		type outcome struct {
			outpointStr string
			err         error
		}
		results := make(chan outcome, len(needed.RequestedInputs))
		var wg sync.WaitGroup
		for outpointStr, data := range needed.RequestedInputs {
			wg.Add(1)
			e.limiter <- struct{}{}
			go func(outpointStr string, data *NodeResponseData) {
				defer func() {
					<-e.limiter
					wg.Done()
				}()
				if _, loop := seen.LoadOrStore(outpointStr, struct{}{}); loop {
					results <- outcome{outpointStr, nil}
					return
				}
				txid, idx, err := Decode36(outpointStr)
				if err != nil {
					results <- outcome{outpointStr, err}
					return
				}
				outpoint := &transaction.Outpoint{Txid: txid, Index: idx}
				child, err := e.Remote.RequestNode(ctx, node.GraphID, outpoint, data.Metadata)
				if err != nil {
					results <- outcome{outpointStr, newTransportError("RequestNode", err)}
					return
				}
				results <- outcome{outpointStr, e.processIncomingNode(ctx, child, parent, seen)}
			}(outpointStr, data)
		}
		wg.Wait()
		close(results)
		for r := range results {
			if r.err != nil {
				e.discard(ctx, node.GraphID)
				return newGraphError(node.GraphID, "requestNode("+r.outpointStr+")", r.err)
			}
		}
	}

	if spentBy == nil {
		return e.CompleteGraph(ctx, node.GraphID)
	}
	return nil
}

// processOutgoingNode implements the recursive outgoing-node walk of spec.md
// §4.1.4: submit the node, then hydrate and send whatever ancestors the peer
// asks for. It never appends or finalizes locally — it only answers the
// peer's follow-up requests.
//
// As with processIncomingNode, the caller must have already claimed node's
// identity in seen before hydrating node and invoking this function.
func (e *Engine) processOutgoingNode(ctx context.Context, node *Node, seen *sync.Map) error {
	resp, err := e.Remote.SubmitNode(ctx, node)
	if err != nil {
		return newGraphError(node.GraphID, "submitNode", newTransportError("SubmitNode", err))
	}
	if resp == nil || len(resp.RequestedInputs) == 0 {
		return nil
	}

	type outcome struct {
		outpointStr string
		err         error
	}
	results := make(chan outcome, len(resp.RequestedInputs))
	var wg sync.WaitGroup
	for outpointStr, data := range resp.RequestedInputs {
		wg.Add(1)
		e.limiter <- struct{}{}
		go func(outpointStr string, data *NodeResponseData) {
			defer func() {
				<-e.limiter
				wg.Done()
			}()
			if _, loop := seen.LoadOrStore(outpointStr, struct{}{}); loop {
				results <- outcome{outpointStr, nil}
				return
			}
			childTxid, idx, err := Decode36(outpointStr)
			if err != nil {
				results <- outcome{outpointStr, err}
				return
			}
			outpoint := &transaction.Outpoint{Txid: childTxid, Index: idx}
			child, err := e.Storage.HydrateGASPNode(ctx, node.GraphID, outpoint, data.Metadata)
			if err != nil {
				results <- outcome{outpointStr, err}
				return
			}
			results <- outcome{outpointStr, e.processOutgoingNode(ctx, child, seen)}
		}(outpointStr, data)
	}
	wg.Wait()
	close(results)
	for r := range results {
		if r.err != nil {
			e.logf(slog.LevelWarn, "outgoing branch %s abandoned: %v", r.outpointStr, r.err)
		}
	}
	return nil
}

func computeTxID(rawTx string) (*chainhash.Hash, error) {
	tx, err := transaction.NewTransactionFromHex(rawTx)
	if err != nil {
		return nil, err
	}
	return tx.TxID(), nil
}
