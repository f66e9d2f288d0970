// Package gasphttp binds a pkg/gasp.Engine to the network: a Fiber server
// exposing the four GASP wire operations as HTTP routes, and an HTTPRemote
// client that speaks the same wire format so two processes running this
// package can sync with each other.
package gasphttp

import (
	"context"
	"errors"
	"fmt"

	"github.com/4chain-ag/go-overlay-services/pkg/gasp"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/gofiber/fiber/v2"
)

// Config holds the configuration settings for the gasphttp server.
type Config struct {
	// AppName is the name of the application, passed to Fiber as its app name.
	AppName string `mapstructure:"app_name"`

	// Port is the TCP port on which the server will listen.
	Port int `mapstructure:"port"`

	// Addr is the address the server will bind to.
	Addr string `mapstructure:"addr"`

	// Topic identifies which graph namespace this server answers for. If
	// set, incoming requests must carry a matching X-BSV-Topic header.
	Topic string `mapstructure:"topic"`
}

// DefaultConfig provides a default configuration with reasonable values for
// local development.
var DefaultConfig = Config{
	AppName: "GASP Sync v0.0.0",
	Port:    8080,
	Addr:    "localhost",
}

// Option configures a Server.
type Option func(*Server)

// WithConfig sets the server's configuration.
func WithConfig(cfg Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithEngine sets the gasp.Engine the server answers requests against.
func WithEngine(e *gasp.Engine) Option {
	return func(s *Server) { s.engine = e }
}

// WithMiddleware appends a Fiber middleware handler to the server's stack.
func WithMiddleware(h fiber.Handler) Option {
	return func(s *Server) { s.middleware = append(s.middleware, h) }
}

// Server is the HTTP binding of a gasp.Engine. It implements gasp.Remote's
// server side: answering the four wire operations a peer's HTTPRemote issues.
type Server struct {
	cfg        Config
	app        *fiber.App
	middleware []fiber.Handler
	engine     *gasp.Engine
}

// New builds a Server from the given options. WithEngine must be supplied;
// New panics if it is not, since a server with no engine cannot answer any
// route.
func New(opts ...Option) *Server {
	s := &Server{cfg: DefaultConfig}
	for _, o := range opts {
		o(s)
	}
	if s.engine == nil {
		panic("gasphttp: New called without WithEngine")
	}

	s.app = fiber.New(fiber.Config{
		CaseSensitive: true,
		StrictRouting: true,
		AppName:       s.cfg.AppName,
		ErrorHandler:  ErrorHandler(),
	})

	for _, h := range s.middleware {
		s.app.Use(h)
	}

	registerRoutes(s.app, s.engine, s.cfg.Topic)

	return s
}

// SocketAddr builds the address string for binding.
func (s *Server) SocketAddr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Addr, s.cfg.Port)
}

// ListenAndServe starts the HTTP server and blocks until it is stopped or an
// error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	return s.app.Listen(s.SocketAddr())
}

// Shutdown gracefully shuts down the server, allowing in-flight requests to
// complete within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying Fiber app, primarily so tests can drive it
// in-memory via app.Test without binding a socket.
func (s *Server) App() *fiber.App {
	return s.app
}

// topicMiddleware rejects requests whose X-BSV-Topic header doesn't match
// the server's configured topic. A server configured with no topic accepts
// any (or no) header, matching a single-tenant deployment.
func topicMiddleware(topic string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if topic == "" {
			return c.Next()
		}
		if got := c.Get("X-BSV-Topic"); got != topic {
			return fiber.NewError(fiber.StatusBadRequest, "missing or mismatched X-BSV-Topic header")
		}
		return c.Next()
	}
}

func registerRoutes(app *fiber.App, e *gasp.Engine, topic string) {
	grp := app.Group("/gasp", topicMiddleware(topic))

	grp.Post("/requestSyncResponse", func(c *fiber.Ctx) error {
		var req gasp.InitialRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		resp, err := e.GetInitialResponse(c.Context(), &req)
		if err != nil {
			return mapEngineError(err)
		}
		return c.Status(fiber.StatusOK).JSON(resp)
	})

	grp.Post("/requestSyncReply", func(c *fiber.Ctx) error {
		var resp gasp.InitialResponse
		if err := c.BodyParser(&resp); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		reply, err := e.GetInitialReply(c.Context(), &resp)
		if err != nil {
			return mapEngineError(err)
		}
		return c.Status(fiber.StatusOK).JSON(reply)
	})

	grp.Post("/requestForeignGASPNode", func(c *fiber.Ctx) error {
		var req gasp.NodeRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if req.Txid == nil {
			return fiber.NewError(fiber.StatusBadRequest, "txid is required")
		}
		outpoint := &transaction.Outpoint{Txid: *req.Txid, Index: req.OutputIndex}
		node, err := e.RequestNode(c.Context(), req.GraphID, outpoint, req.Metadata)
		if err != nil {
			return mapEngineError(err)
		}
		return c.Status(fiber.StatusOK).JSON(node)
	})

	grp.Post("/submitForeignGASPNode", func(c *fiber.Ctx) error {
		var node gasp.Node
		if err := c.BodyParser(&node); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		resp, err := e.SubmitNode(c.Context(), &node)
		if err != nil {
			return mapEngineError(err)
		}
		if resp == nil {
			return c.Status(fiber.StatusOK).JSON(gasp.NodeResponse{})
		}
		return c.Status(fiber.StatusOK).JSON(resp)
	})
}

// mapEngineError translates a gasp error into a Fiber HTTP error, giving each
// kind of the typed taxonomy (spec.md §7) its own status code, with the
// error text in the body. HTTPRemote does not rebuild typed errors from
// these responses: it reports any non-2xx response as a plain error carrying
// the status line only.
func mapEngineError(err error) error {
	var mismatch *gasp.VersionMismatchError
	if errors.As(err, &mismatch) {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	switch {
	case errors.Is(err, gasp.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, gasp.ErrUnwanted):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, gasp.ErrTooLarge):
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, gasp.ErrAnchorInvalid):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

// ErrorHandler returns a Fiber error handler that renders every error (route
// handler errors and Fiber's own, e.g. body-too-large) as a JSON envelope.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}
