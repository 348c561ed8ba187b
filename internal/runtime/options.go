package runtime

import (
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/tjfontaine/messages-bridge/internal/config"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig loads configuration from path, watches it for changes and
// reloads it on SIGHUP. An empty path uses config.yaml when present.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		g.configPath = path
		return nil
	}
}

// WithStore uses an existing configuration store.
func WithStore(store *config.Store) Option {
	return func(g *Gateway) error {
		if store == nil {
			return errors.New("nil config store")
		}
		g.store = store
		return nil
	}
}

// WithHTTPClient sets the client for upstream calls. The default traces each
// call through otelhttp.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) error {
		g.httpClient = c
		return nil
	}
}

// WithListener serves on ln instead of the configured address.
func WithListener(ln net.Listener) Option {
	return func(g *Gateway) error {
		g.listener = ln
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		g.logger = logger
		return nil
	}
}
