package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/acctkeeper/internal/app"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the account API on a local port",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "host to listen on",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "port to listen on",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.DurationFlag{
				Name:  "shutdown--timeout",
				Usage: "graceful shutdown timeout",
				Value: app.DefaultConfigShutdownTimeout,
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.Serve(ctx); err != nil {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}
