package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/4chain-ag/go-overlay-services/pkg/appconfig"
	"github.com/4chain-ag/go-overlay-services/pkg/gasp"
	"github.com/4chain-ag/go-overlay-services/pkg/gasphttp"
	"github.com/4chain-ag/go-overlay-services/pkg/gaspstore"
	"github.com/gookit/slog"
)

func main() {
	configPath := flag.String("C", appconfig.DefaultConfigFilePath, "Path to the configuration file")
	flag.Parse()

	loader := appconfig.NewLoader("GASP")
	if err := loader.SetConfigFilePath(*configPath); err != nil {
		slog.Fatalf("invalid config file path: %v", err)
	}

	cfg, err := loader.Load()
	if err != nil {
		slog.Fatalf("failed to load config: %v", err)
	}

	configureLogging(cfg.LogLevel)

	if err := appconfig.PrettyPrintAs(cfg, "json"); err != nil {
		slog.Fatalf("failed to pretty print config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		slog.Fatalf("invalid configuration: %v", err)
	}

	// No chaintracker.ChainTracker is wired for this reference deployment;
	// a production operator supplies one via gaspstore.ChainTrackerValidator
	// and passes it here instead of nil (every anchor trusted).
	store := gaspstore.New(nil, cfg.MaxNodesPerGraph)

	engine := gasp.NewEngine(gasp.Params{
		Storage:         store,
		LastInteraction: cfg.SinceDefault,
		Version:         cfg.Version,
		Unidirectional:  cfg.Unidirectional,
		Concurrency:     cfg.Concurrency,
		LogPrefix:       "[gaspd] ",
	})

	if cfg.PeerURL != "" {
		engine.Remote = gasphttp.NewHTTPRemote(cfg.PeerURL, cfg.Topic, cfg.NetworkConcurrency)
	}

	httpSrv := gasphttp.New(
		gasphttp.WithEngine(engine),
		gasphttp.WithConfig(gasphttp.Config{
			AppName: cfg.AppName,
			Port:    cfg.Port,
			Addr:    cfg.Addr,
			Topic:   cfg.Topic,
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.PeerURL != "" {
		go runSyncLoop(ctx, engine)
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Errorf("http shutdown error: %v", err)
		}
		close(idleConnsClosed)
	}()

	slog.Infof("gaspd listening on %s", httpSrv.SocketAddr())
	if err := httpSrv.ListenAndServe(ctx); err != nil {
		slog.Fatalf("http server failed: %v", err)
	}

	<-idleConnsClosed
	slog.Info("gaspd shut down gracefully.")
}

// runSyncLoop periodically drives Engine.Sync against the configured peer
// until ctx is cancelled. A session-fatal error (e.g. a version mismatch) is
// logged; the loop keeps retrying on the next tick rather than exiting, since
// a peer may be redeployed with a matching version at any time.
func runSyncLoop(ctx context.Context, engine *gasp.Engine) {
	const interval = 30 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := engine.Sync(ctx); err != nil {
			slog.Errorf("sync failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// configureLogging sets gookit/slog's level from the config's log_level,
// matching cmd/srv/main.go's JSON-formatted structured logging.
func configureLogging(level string) {
	slog.SetFormatter(slog.NewJSONFormatter(func(f *slog.JSONFormatter) {
		f.PrettyPrint = true
	}))
	switch level {
	case "debug":
		slog.SetLogLevel(slog.DebugLevel)
	case "warn":
		slog.SetLogLevel(slog.WarnLevel)
	case "error":
		slog.SetLogLevel(slog.ErrorLevel)
	default:
		slog.SetLogLevel(slog.InfoLevel)
	}
}
