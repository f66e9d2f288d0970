package gasphttp

import (
	"context"
	"fmt"
	"sync"

	"github.com/4chain-ag/go-overlay-services/pkg/gasp"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/go-resty/resty/v2"
)

// DefaultNetworkConcurrency bounds how many HTTP requests an HTTPRemote will
// issue in parallel when the caller doesn't pick a value, matching the
// teacher's OverlayGASPRemote default.
const DefaultNetworkConcurrency = 8

// inflightNodeRequest coalesces concurrent RequestNode calls for the same
// outpoint into a single round trip.
type inflightNodeRequest struct {
	wg     sync.WaitGroup
	result *gasp.Node
	err    error
}

// HTTPRemote is a gasp.Remote that speaks to a gasphttp.Server over HTTP,
// using go-resty/resty/v2 as its client. It is the symmetric counterpart to
// Server: every route Server registers, HTTPRemote calls.
type HTTPRemote struct {
	client *resty.Client
	topic  string

	inflight       sync.Map // outpoint string -> *inflightNodeRequest
	networkLimiter chan struct{}
}

// NewHTTPRemote builds an HTTPRemote that targets baseURL (e.g.
// "http://peer:8080/gasp"), tagging every request with topic's X-BSV-Topic
// header. maxConcurrency bounds concurrent outbound HTTP calls; zero or
// negative selects DefaultNetworkConcurrency.
func NewHTTPRemote(baseURL, topic string, maxConcurrency int) *HTTPRemote {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultNetworkConcurrency
	}
	return &HTTPRemote{
		client:         resty.New().SetBaseURL(baseURL),
		topic:          topic,
		networkLimiter: make(chan struct{}, maxConcurrency),
	}
}

// Client exposes the underlying resty.Client so callers can wire a custom
// transport (e.g. the in-memory fiber test transport) before first use.
func (r *HTTPRemote) Client() *resty.Client {
	return r.client
}

func (r *HTTPRemote) acquire(ctx context.Context) error {
	select {
	case r.networkLimiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *HTTPRemote) release() {
	<-r.networkLimiter
}

func (r *HTTPRemote) GetInitialResponse(ctx context.Context, req *gasp.InitialRequest) (*gasp.InitialResponse, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	result := &gasp.InitialResponse{}
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("X-BSV-Topic", r.topic).
		SetBody(req).
		SetResult(result).
		Post("/requestSyncResponse")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gasphttp: requestSyncResponse: %s", resp.Status())
	}
	return result, nil
}

func (r *HTTPRemote) GetInitialReply(ctx context.Context, resp *gasp.InitialResponse) (*gasp.InitialReply, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	result := &gasp.InitialReply{}
	httpResp, err := r.client.R().
		SetContext(ctx).
		SetHeader("X-BSV-Topic", r.topic).
		SetBody(resp).
		SetResult(result).
		Post("/requestSyncReply")
	if err != nil {
		return nil, err
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("gasphttp: requestSyncReply: %s", httpResp.Status())
	}
	return result, nil
}

// RequestNode fetches a single ancestor node, collapsing concurrent requests
// for the same outpoint into one HTTP round trip (SPEC_FULL.md's in-flight
// de-duplication supplement, grounded on the teacher's inflightNodeRequest).
func (r *HTTPRemote) RequestNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error) {
	key := outpoint.String()

	inflight := &inflightNodeRequest{}
	inflight.wg.Add(1)
	if existing, loaded := r.inflight.LoadOrStore(key, inflight); loaded {
		existing := existing.(*inflightNodeRequest)
		existing.wg.Wait()
		return existing.result, existing.err
	}

	inflight.result, inflight.err = r.doRequestNode(ctx, graphID, outpoint, metadata)
	r.inflight.Delete(key)
	inflight.wg.Done()
	return inflight.result, inflight.err
}

func (r *HTTPRemote) doRequestNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	result := &gasp.Node{}
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("X-BSV-Topic", r.topic).
		SetBody(&gasp.NodeRequest{
			GraphID:     graphID,
			Txid:        &outpoint.Txid,
			OutputIndex: outpoint.Index,
			Metadata:    metadata,
		}).
		SetResult(result).
		Post("/requestForeignGASPNode")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gasphttp: requestForeignGASPNode: %s", resp.Status())
	}
	return result, nil
}

func (r *HTTPRemote) SubmitNode(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	result := &gasp.NodeResponse{}
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("X-BSV-Topic", r.topic).
		SetBody(node).
		SetResult(result).
		Post("/submitForeignGASPNode")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gasphttp: submitForeignGASPNode: %s", resp.Status())
	}
	if len(result.RequestedInputs) == 0 {
		return nil, nil
	}
	return result, nil
}
