package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/acctkeeper/internal/app"
	"github.com/florianilch/acctkeeper/internal/tokenstore"
)

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "inspect the editor session written by login",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print the current session",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "reveal", Usage: "print the access token"},
				},
				Action: withApp(sessionShowAction),
			},
			{
				Name:   "clear",
				Usage:  "remove the current session",
				Action: withApp(sessionClearAction),
			},
		},
	}
}

func sessionShowAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	out := cmd.Root().Writer
	s, err := a.CurrentSession(ctx)
	if errors.Is(err, tokenstore.ErrNoSession) {
		_, err = fmt.Fprintln(out, "no session")
		return err
	}
	if err != nil {
		return err
	}

	if s.AccountID != "" {
		fmt.Fprintf(out, "account:  %s (%s)\n", s.Email, s.AccountID)
	}
	if !s.CreatedAt.IsZero() {
		fmt.Fprintf(out, "created:  %s\n", s.CreatedAt.Format(time.RFC3339))
	}
	switch {
	case s.ExpiresAt.IsZero():
		fmt.Fprintln(out, "expires:  unknown")
	case s.Expired(time.Now()):
		fmt.Fprintf(out, "expires:  %s (expired)\n", s.ExpiresAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(out, "expires:  %s\n", s.ExpiresAt.Format(time.RFC3339))
	}
	if s.CallbackURL != "" {
		fmt.Fprintf(out, "callback: %s\n", s.CallbackURL)
	}
	if cmd.Bool("reveal") {
		fmt.Fprintf(out, "token:    %s\n", s.AccessToken)
	}
	return nil
}

func sessionClearAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	if err := a.ClearSession(ctx); err != nil {
		if errors.Is(err, tokenstore.ErrReadOnly) {
			return fmt.Errorf("session storage is read-only: %w", err)
		}
		return err
	}
	_, err := fmt.Fprintln(cmd.Root().Writer, "session cleared")
	return err
}
