package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/acctkeeper/internal/app"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "hand a stored account, or a raw token, over to an editor extension",
		ArgsUsage: "<id> | --token <token>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "token",
				Usage: "bearer token to use instead of a stored account",
			},
			&cli.StringFlag{
				Name:  "editor",
				Usage: "editor the callback URL is addressed to (vscode|windsurf)",
				Value: string(app.EditorVSCode),
			},
		},
		Action: withApp(loginAction),
	}
}

func loginAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	editor := app.Editor(cmd.String("editor"))
	token := cmd.String("token")

	var (
		h   *app.Handoff
		err error
	)
	switch {
	case token != "" && cmd.NArg() == 0:
		h, err = a.LoginWithToken(ctx, token, editor)
	case token == "" && cmd.NArg() == 1:
		h, err = a.LoginAccount(ctx, cmd.Args().First(), editor)
	default:
		return fmt.Errorf("usage: %s <id> | --token <token>", cmd.FullName())
	}
	if err != nil {
		return err
	}

	out := cmd.Root().Writer
	fmt.Fprintln(out, h.CallbackURL)
	if !h.Persisted {
		fmt.Fprintln(out, "session storage is read-only; the access token was not saved")
	}
	return nil
}
