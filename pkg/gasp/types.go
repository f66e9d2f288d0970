// Package gasp implements the Graph Aware Sync Protocol: a four-message
// handshake and recursive graph walk that lets two peers reconcile the set of
// UTXOs (and the ancestor graphs that anchor them) each side knows about.
package gasp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Encode36 renders a (txid, outputIndex) pair as the canonical 36-byte
// outpoint form used as a map key on the wire: 32 raw txid bytes followed by
// a big-endian u32 output index, hex-encoded. It round-trips through Decode36
// for every valid input.
func Encode36(txid chainhash.Hash, outputIndex uint32) string {
	var buf [36]byte
	copy(buf[:32], txid[:])
	binary.BigEndian.PutUint32(buf[32:], outputIndex)
	return hex.EncodeToString(buf[:])
}

// Decode36 parses the canonical 36-byte outpoint form produced by Encode36.
func Decode36(s string) (chainhash.Hash, uint32, error) {
	var txid chainhash.Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return txid, 0, fmt.Errorf("gasp: decode36: %w", err)
	}
	if len(b) != 36 {
		return txid, 0, fmt.Errorf("gasp: decode36: expected 36 bytes, got %d", len(b))
	}
	copy(txid[:], b[:32])
	return txid, binary.BigEndian.Uint32(b[32:]), nil
}

// OutpointFrom36 decodes a 36-byte outpoint string directly into an Outpoint.
func OutpointFrom36(s string) (*transaction.Outpoint, error) {
	txid, index, err := Decode36(s)
	if err != nil {
		return nil, err
	}
	return &transaction.Outpoint{Txid: txid, Index: index}, nil
}

// Outpoint36 renders an Outpoint in the canonical 36-byte form.
func Outpoint36(o *transaction.Outpoint) string {
	return Encode36(o.Txid, o.Index)
}

// InitialRequest kicks off a sync session.
type InitialRequest struct {
	Version int    `json:"version"`
	Since   uint64 `json:"since"`
}

// InitialResponse carries the responder's known tips as of its own clock,
// filtered by the requester's since. Since is the responder's own
// LastInteraction value, which the requester stores as its LastInteraction
// for the next session.
type InitialResponse struct {
	UTXOList []*transaction.Outpoint `json:"UTXOList"`
	Since    uint64                  `json:"since"`
}

// InitialReply carries tips the initiator has that the responder didn't
// list. It is never sent in unidirectional mode.
type InitialReply struct {
	UTXOList []*transaction.Outpoint `json:"UTXOList"`
}

// Input hints at the hash of an ancestor input, letting the recipient decide
// whether it needs a fresher copy.
type Input struct {
	Hash string `json:"hash"`
}

// Node is an ancestor-or-tip record: one vertex of a graph being exchanged.
type Node struct {
	GraphID        *transaction.Outpoint `json:"graphID"`
	RawTx          string                `json:"rawTx"`
	OutputIndex    uint32                `json:"outputIndex"`
	Proof          *string               `json:"proof,omitempty"`
	TxMetadata     *string               `json:"txMetadata,omitempty"`
	OutputMetadata *string               `json:"outputMetadata,omitempty"`
	// Inputs maps the 36-byte form of each input outpoint to a hash hint.
	// Populated only when the request that produced this node asked for
	// metadata.
	Inputs map[string]*Input `json:"inputs,omitempty"`
}

// NodeRequest is the argument set of a RequestNode call, named as a struct so
// it travels cleanly over a wire transport.
type NodeRequest struct {
	GraphID     *transaction.Outpoint `json:"graphID"`
	Txid        *chainhash.Hash       `json:"txid"`
	OutputIndex uint32                `json:"outputIndex"`
	Metadata    bool                  `json:"metadata"`
}

// NodeResponseData flags whether the requester should ask for metadata when
// it follows up on a requested input.
type NodeResponseData struct {
	Metadata bool `json:"metadata"`
}

// NodeResponse is returned from SubmitNode: the set of ancestor inputs the
// recipient still needs, keyed by their 36-byte outpoint form. An empty or
// absent map means nothing further is needed for this branch.
type NodeResponse struct {
	RequestedInputs map[string]*NodeResponseData `json:"requestedInputs,omitempty"`
}
