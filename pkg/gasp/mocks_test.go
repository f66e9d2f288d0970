package gasp_test

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/4chain-ag/go-overlay-services/pkg/gasp"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// callLog records the order and arguments of every Storage mutation a test
// cares about, so scenarios can assert on call counts and sequencing rather
// than just final state.
type callLog struct {
	mu       sync.Mutex
	appended []string
	spentBy  []string
	validate []string
	discard  []string
	finalize []string
}

func (c *callLog) recordAppend(graphID, spentBy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appended = append(c.appended, graphID)
	c.spentBy = append(c.spentBy, spentBy)
}

func (c *callLog) recordValidate(graphID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validate = append(c.validate, graphID)
}

func (c *callLog) recordDiscard(graphID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discard = append(c.discard, graphID)
}

func (c *callLog) recordFinalize(graphID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalize = append(c.finalize, graphID)
}

func (c *callLog) count(s []string, v string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, x := range s {
		if x == v {
			n++
		}
	}
	return n
}

// mockStorage is a minimal, fully in-process Storage good enough to drive the
// literal scenarios from spec.md §8. Known UTXOs live in the nodes map, with
// knownSince tracking when (or whether) each outpoint was learned; staged
// nodes live in the separate temp map, shared by every graph in flight.
type mockStorage struct {
	mu         sync.Mutex
	nodes      map[string]*gasp.Node   // outpoint36 -> node content
	knownSince map[string]*uint64      // outpoint36 -> time, nil = no timestamp
	temp       map[string]*gasp.Node   // outpoint36 -> node, scoped to the single in-flight graph under test

	validateFunc func(ctx context.Context, graphID *transaction.Outpoint) error
	discardFunc  func(ctx context.Context, graphID *transaction.Outpoint) error
	neededFunc   func(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error)

	log *callLog
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		nodes:      make(map[string]*gasp.Node),
		knownSince: make(map[string]*uint64),
		temp:       make(map[string]*gasp.Node),
		log:        &callLog{},
	}
}

// seedKnown registers node as already-known, at the given time. A nil time
// marks the UTXO as having no timestamp, so findKnownUTXOs always returns it.
func (m *mockStorage) seedKnown(o *transaction.Outpoint, node *gasp.Node, since *uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := gasp.Outpoint36(o)
	m.nodes[key] = node
	m.knownSince[key] = since
}

func (m *mockStorage) FindKnownUTXOs(ctx context.Context, since uint64) ([]*transaction.Outpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*transaction.Outpoint
	for key, t := range m.knownSince {
		if t == nil || *t > since {
			o, err := gasp.OutpointFrom36(key)
			if err != nil {
				return nil, err
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockStorage) HydrateGASPNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[gasp.Outpoint36(outpoint)]
	if !ok {
		return nil, gasp.ErrNotFound
	}
	clone := *node
	clone.GraphID = graphID
	if !metadata {
		clone.Inputs = nil
	}
	return &clone, nil
}

func (m *mockStorage) FindNeededInputs(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
	if m.neededFunc != nil {
		return m.neededFunc(ctx, node)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]*gasp.NodeResponseData)
	for inputKey := range node.Inputs {
		if _, known := m.knownSince[inputKey]; known {
			continue
		}
		if _, staged := m.temp[inputKey]; staged {
			continue
		}
		result[inputKey] = &gasp.NodeResponseData{Metadata: true}
	}
	if len(result) == 0 {
		return nil, nil
	}
	return &gasp.NodeResponse{RequestedInputs: result}, nil
}

func (m *mockStorage) AppendToGraph(ctx context.Context, node *gasp.Node, spentBy *transaction.Outpoint) error {
	txid, err := transaction.NewTransactionFromHex(node.RawTx)
	if err != nil {
		return err
	}
	key := gasp.Encode36(*txid.TxID(), node.OutputIndex)

	spentByStr := "<tip>"
	if spentBy != nil {
		spentByStr = gasp.Outpoint36(spentBy)
	}
	m.log.recordAppend(gasp.Outpoint36(node.GraphID), spentByStr)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.temp[key] = node
	return nil
}

func (m *mockStorage) ValidateGraphAnchor(ctx context.Context, graphID *transaction.Outpoint) error {
	m.log.recordValidate(gasp.Outpoint36(graphID))
	if m.validateFunc != nil {
		return m.validateFunc(ctx, graphID)
	}
	return nil
}

func (m *mockStorage) DiscardGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	m.log.recordDiscard(gasp.Outpoint36(graphID))
	if m.discardFunc != nil {
		return m.discardFunc(ctx, graphID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.temp {
		delete(m.temp, k)
	}
	return nil
}

func (m *mockStorage) FinalizeGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	m.log.recordFinalize(gasp.Outpoint36(graphID))
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, node := range m.temp {
		m.nodes[k] = node
		t := uint64(len(m.knownSince) + 1)
		m.knownSince[k] = &t
		delete(m.temp, k)
	}
	return nil
}

// mockRemote adapts a peer Engine to the Remote interface, optionally
// overriding RequestNode to inject adversarial wire behavior (e.g. the
// self-referencing cycle scenario).
type mockRemote struct {
	peer            *gasp.Engine
	requestNodeFunc func(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error)
}

func (m *mockRemote) GetInitialResponse(ctx context.Context, req *gasp.InitialRequest) (*gasp.InitialResponse, error) {
	return m.peer.GetInitialResponse(ctx, req)
}

func (m *mockRemote) GetInitialReply(ctx context.Context, resp *gasp.InitialResponse) (*gasp.InitialReply, error) {
	return m.peer.GetInitialReply(ctx, resp)
}

func (m *mockRemote) RequestNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error) {
	if m.requestNodeFunc != nil {
		return m.requestNodeFunc(ctx, graphID, outpoint, metadata)
	}
	return m.peer.RequestNode(ctx, graphID, outpoint, metadata)
}

func (m *mockRemote) SubmitNode(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
	return m.peer.SubmitNode(ctx, node)
}

// newLeafNode builds a standalone transaction with no inputs of interest,
// returning both its outpoint and the Node content a Storage would hydrate.
func newLeafNode(satoshis uint64) (*transaction.Outpoint, *gasp.Node) {
	tx := transaction.NewTransaction()
	tx.AddOutput(&transaction.TransactionOutput{Satoshis: satoshis, LockingScript: &script.Script{}})
	rawTx := tx.Bytes()
	outpoint := &transaction.Outpoint{Txid: *tx.TxID(), Index: 0}
	node := &gasp.Node{
		GraphID:     outpoint,
		RawTx:       hex.EncodeToString(rawTx),
		OutputIndex: 0,
	}
	return outpoint, node
}

// newChildNode builds a transaction referencing parent as an ancestor input
// hint, without actually spending it on-chain (the mock storage only cares
// about the Inputs map, matching how the protocol's fan-out logic works).
func newChildNode(satoshis uint64, parent *transaction.Outpoint) (*transaction.Outpoint, *gasp.Node) {
	tx := transaction.NewTransaction()
	tx.AddOutput(&transaction.TransactionOutput{Satoshis: satoshis, LockingScript: &script.Script{}})
	rawTx := tx.Bytes()
	outpoint := &transaction.Outpoint{Txid: *tx.TxID(), Index: 0}
	node := &gasp.Node{
		GraphID:     outpoint,
		RawTx:       hex.EncodeToString(rawTx),
		OutputIndex: 0,
		Inputs: map[string]*gasp.Input{
			gasp.Outpoint36(parent): {Hash: parent.Txid.String()},
		},
	}
	return outpoint, node
}
