package gasphttp

import (
	"net/http"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

// fiberRoundTripper drives a Server's Fiber app in-memory via app.Test,
// letting a resty.Client exercise the full HTTP stack (routing, middleware,
// error handling, JSON encoding) without binding a socket.
type fiberRoundTripper struct {
	t       *testing.T
	srv     *Server
	timeout int
}

func (f *fiberRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.t.Helper()
	return f.srv.App().Test(req, f.timeout)
}

// TestFixture wraps a Server for in-process HTTP testing.
type TestFixture struct {
	t            *testing.T
	roundTripper http.RoundTripper
}

// Client returns a resty.Client wired to the fixture's in-memory transport.
func (f *TestFixture) Client() *resty.Client {
	f.t.Helper()
	c := resty.New()
	c.OnError(func(r *resty.Request, err error) {
		require.NoError(f.t, err, "HTTP request ended with unexpected error")
	})
	c.GetClient().Transport = f.roundTripper
	return c
}

// Remote returns an HTTPRemote wired to the fixture's in-memory transport,
// so an Engine can be synced against it exactly as it would a real peer.
func (f *TestFixture) Remote(topic string) *HTTPRemote {
	r := NewHTTPRemote("http://gasp.test/gasp", topic, DefaultNetworkConcurrency)
	r.Client().GetClient().Transport = f.roundTripper
	return r
}

// NewTestFixture builds a TestFixture around a Server configured by opts.
func NewTestFixture(t *testing.T, opts ...Option) *TestFixture {
	return &TestFixture{
		t:            t,
		roundTripper: &fiberRoundTripper{t: t, timeout: -1, srv: New(opts...)},
	}
}
