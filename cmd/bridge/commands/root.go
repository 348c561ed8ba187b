package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/messages-bridge/internal/config"
	"github.com/tjfontaine/messages-bridge/internal/status"
	"github.com/tjfontaine/messages-bridge/internal/telemetry"
	"github.com/tjfontaine/messages-bridge/pkg/gateway"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string, version string) error {
	return newRootCommand(version, os.Stdout).Run(ctx, args)
}

func newRootCommand(version string, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "bridge",
		Usage:   "Serve the Anthropic Messages API from an OpenAI-compatible backend",
		Version: version,
		Writer:  stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file (default: config.yaml when present)",
				Sources: cli.EnvVars("BRIDGE_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error), overrides the config",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (json|text), overrides the config",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			testConnectionCommand(stdout),
		},
		DefaultCommand: "serve",
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Start the bridge",
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	store, err := config.NewStore(cmd.String("config"), nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cmd, store.Current())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	gw, err := gateway.New(gateway.WithStore(store), gateway.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	if err := gw.Run(ctx); err != nil {
		return err
	}
	logger.InfoContext(ctx, "stopped gracefully")
	return nil
}

func testConnectionCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "test-connection",
		Usage: "Send a minimal request to both upstream tiers and report the result",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}

			client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
			report := status.NewProber(client, logger).ProbeAll(ctx, cfg)

			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.BigModel.OK() || !report.SmallModel.OK() {
				return errors.New("connection test failed")
			}
			return nil
		},
	}
}

// newLogger applies the command-line overrides on top of the config.
func newLogger(cmd *cli.Command, cfg *config.Config) (*slog.Logger, error) {
	levelText := cfg.Log.Level
	if v := cmd.String("log-level"); v != "" {
		levelText = v
	}
	format := cfg.Log.Format
	if v := cmd.String("log-format"); v != "" {
		format = v
	}

	level, err := telemetry.ParseLevel(levelText)
	if err != nil {
		return nil, err
	}
	logger, err := telemetry.NewLogger(os.Stdout, level, format)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return logger, nil
}
