// Package runtime wires the bridge together and manages its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/messages-bridge/internal/config"
	"github.com/tjfontaine/messages-bridge/internal/frontdoor/anthropic"
	"github.com/tjfontaine/messages-bridge/internal/server"
	"github.com/tjfontaine/messages-bridge/internal/status"
	"github.com/tjfontaine/messages-bridge/internal/telemetry"
	"github.com/tjfontaine/messages-bridge/internal/tokens"
)

// ShutdownTimeout bounds the drain of in-flight requests.
const ShutdownTimeout = 30 * time.Second

// Gateway owns the HTTP server, the live configuration and the tracer.
type Gateway struct {
	// Dependencies (injected via options)
	store      *config.Store
	configPath string
	httpClient *http.Client
	listener   net.Listener
	logger     *slog.Logger

	server *server.Server

	mu      sync.Mutex
	running bool
	addr    net.Addr
	ready   chan struct{}
}

// New creates a Gateway. Without WithStore the configuration is loaded from
// the WithFileConfig path, or from config.yaml and the environment.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		logger: slog.Default(),
		ready:  make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if g.store == nil {
		store, err := config.NewStore(g.configPath, g.logger)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		g.store = store
	}

	if g.httpClient == nil {
		g.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	cfg := g.store.Current()
	bound := cfg.Server
	g.store.OnReload(func(next *config.Config) {
		telemetry.ConfigReloadsTotal.Inc()
		// The listener and body limit are fixed once serving.
		if next.Server != bound {
			g.logger.Warn("server settings changed, restart to apply",
				slog.String("addr", next.Server.Addr()),
				slog.Int64("max_body_bytes", next.Server.MaxBodyBytes),
			)
		}
	})

	g.server = server.New(server.Options{
		Addr:         cfg.Server.Addr(),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		ServiceName:  cfg.Telemetry.ServiceName,
	}, g.logger)

	messages := anthropic.NewHandler(g.store.Current,
		anthropic.WithHTTPClient(g.httpClient),
		anthropic.WithLogger(g.logger),
		anthropic.WithTokenRegistry(tokens.NewRegistry(g.logger)),
	)
	messages.Register(g.server.Router)
	status.NewHandler(g.store.Current, g.httpClient, g.logger).Register(g.server.Router)

	return g, nil
}

// Store returns the live configuration.
func (g *Gateway) Store() *config.Store {
	return g.store
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.server.Router
}

// Addr blocks until the server is listening and returns its address.
func (g *Gateway) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-g.ready:
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run serves until ctx is canceled or a component fails, then shuts down in
// reverse start order. SIGHUP reloads the configuration.
func (g *Gateway) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return errors.New("gateway already running")
	}
	g.running = true
	g.mu.Unlock()

	cfg := g.store.Current()

	tracerShutdown, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, cfg.Telemetry.Exporter, g.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	ln := g.listener
	if ln == nil {
		ln, err = net.Listen("tcp", cfg.Server.Addr())
		if err != nil {
			return errors.Join(fmt.Errorf("listen: %w", err), tracerShutdown(context.Background()))
		}
	}
	g.mu.Lock()
	g.addr = ln.Addr()
	g.mu.Unlock()
	close(g.ready)

	grp, gCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		if err := g.server.Serve(ln); err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		if err := g.store.Watch(gCtx); err != nil {
			// Reload on SIGHUP still works without the file watch.
			g.logger.WarnContext(gCtx, "config file watch unavailable", slog.String("error", err.Error()))
		}
		return nil
	})

	grp.Go(func() error {
		g.reloadOnHangup(gCtx)
		return nil
	})

	// Serve returns only after Shutdown, so the server is stopped when the
	// group's context ends rather than after Wait.
	grp.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), ShutdownTimeout)
		defer cancel()
		return g.server.Shutdown(shutdownCtx)
	})

	g.logger.InfoContext(ctx, "gateway started",
		slog.String("addr", ln.Addr().String()),
		slog.String("primary_model", cfg.Primary.Model),
		slog.String("secondary_model", cfg.Secondary.Model),
	)

	runtimeErr := grp.Wait()

	g.logger.Info("shutting down gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}
	// The server already stopped inside the group; only the tracer is left.
	if err := tracerShutdown(shutdownCtx); err != nil {
		g.logger.Error("tracer shutdown failed", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	g.logger.Info("gateway shutdown complete")
	return nil
}

func (g *Gateway) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			g.logger.InfoContext(ctx, "SIGHUP received, reloading configuration")
			_ = g.store.Reload()
		}
	}
}
