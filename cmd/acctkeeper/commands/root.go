package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/acctkeeper/internal/app"
	"github.com/florianilch/acctkeeper/internal/observability"
	"github.com/florianilch/acctkeeper/internal/verdentapi"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdout)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := &cli.Command{
		Name:   "acctkeeper",
		Usage:  "Verdent account manager",
		Writer: stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file with ACCTKEEPER_* variables (ignored when missing)",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|otel)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "log-exporter",
				Usage: "exporter for the otel log format (stdout|otlp-http|otlp-grpc)",
				Value: string(app.DefaultConfigLogExporter),
			},
			&cli.StringFlag{
				Name:  "store--path",
				Usage: "accounts file (default ~/.verdent_accounts/accounts.json)",
			},
		},
		Commands: []*cli.Command{
			accountsCommand(),
			loginCommand(),
			sessionCommand(),
			serveCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// setup loads the configuration, installs logging and builds the App.
// The returned cleanup flushes logs and must always be called.
func setup(ctx context.Context, cmd *cli.Command) (*app.App, func(), error) {
	cfg, err := loadConfig(cmd.String("config"), cmd.String("env-file"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat), string(cfg.LogExporter))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}
	cleanup := func() {
		// Flush with a fresh context; ctx may already be cancelled on shutdown.
		if err := shutdown(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "failed to flush logs:", err)
		}
	}

	application, err := app.New(cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}

	return application, cleanup, nil
}

// withApp adapts an action that needs an App.
func withApp(action func(ctx context.Context, cmd *cli.Command, a *app.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, cleanup, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		return action(ctx, cmd, a)
	}
}

// UserMessage renders err for the terminal. Remote failures are reduced to
// their classified message.
func UserMessage(err error) string {
	var retryErr *verdentapi.RetryError
	var httpErr *verdentapi.HTTPError
	var apiErr *verdentapi.APIError
	if errors.As(err, &retryErr) || errors.As(err, &httpErr) || errors.As(err, &apiErr) {
		return verdentapi.Classify(err).Message
	}
	return err.Error()
}

// requireArgs fails unless cmd received exactly n positional arguments.
func requireArgs(cmd *cli.Command, n int, usage string) error {
	if cmd.NArg() != n {
		return fmt.Errorf("usage: %s %s", cmd.FullName(), usage)
	}
	return nil
}
