package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/acctkeeper/internal/account"
	"github.com/florianilch/acctkeeper/internal/accountstore"
	"github.com/florianilch/acctkeeper/internal/app"
	"github.com/florianilch/acctkeeper/internal/jwtclaims"
	"github.com/florianilch/acctkeeper/internal/notify"
)

func accountsCommand() *cli.Command {
	return &cli.Command{
		Name:    "accounts",
		Aliases: []string{"acc"},
		Usage:   "manage stored accounts",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list all accounts",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
					&cli.BoolFlag{Name: "show-passwords", Usage: "do not mask stored passwords"},
				},
				Action: withApp(listAction),
			},
			{
				Name:      "get",
				Usage:     "show one account",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "show-password", Usage: "do not mask the stored password"},
				},
				Action: withApp(getAction),
			},
			{
				Name:  "add",
				Usage: "add an account without contacting the service",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
					&cli.StringFlag{Name: "password", Usage: "account password"},
					&cli.StringFlag{Name: "token", Usage: "bearer token"},
				},
				Action: withApp(addAction),
			},
			{
				Name:      "import-token",
				Usage:     "import an account from a bearer token (reads stdin when omitted or -)",
				ArgsUsage: "[token]",
				Action:    withApp(importTokenAction),
			},
			{
				Name:  "import-credentials",
				Usage: "sign in with email and password and import the account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
					&cli.StringFlag{Name: "password", Usage: "account password (prompted when omitted)"},
				},
				Action: withApp(importCredentialsAction),
			},
			{
				Name:      "update-token",
				Usage:     "replace the stored token of an account",
				ArgsUsage: "<id> <token>",
				Action:    withApp(updateTokenAction),
			},
			{
				Name:      "update-quota",
				Usage:     "set the quota of an account",
				ArgsUsage: "<id> <remaining> <total>",
				Action:    withApp(updateQuotaAction),
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "delete an account",
				ArgsUsage: "<id>",
				Action:    withApp(deleteAction),
			},
			{
				Name:      "refresh",
				Usage:     "fetch the profile of one account, or of all with --all",
				ArgsUsage: "[id]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "refresh every account with a token"},
					&cli.BoolFlag{Name: "notify", Usage: "raise desktop alerts on quota changes"},
				},
				Action: withApp(refreshAction),
			},
			{
				Name:      "relogin",
				Usage:     "sign in again with the stored credentials",
				ArgsUsage: "<id>",
				Action:    withApp(reloginAction),
			},
			{
				Name:      "token",
				Usage:     "print a valid access token, signing in again when expired",
				ArgsUsage: "<id>",
				Action:    withApp(tokenAction),
			},
			{
				Name:  "watch",
				Usage: "report changes made to the accounts file by other processes",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "notify", Usage: "raise desktop alerts on quota changes"},
				},
				Action: withApp(watchAction),
			},
			{
				Name:   "path",
				Usage:  "print the accounts file location",
				Action: withApp(pathAction),
			},
		},
	}
}

func listAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	records, err := a.List(ctx)
	if err != nil {
		return err
	}
	show := cmd.Bool("show-passwords")
	for i := range records {
		records[i] = masked(records[i], show)
	}

	out := cmd.Root().Writer
	if cmd.Bool("json") {
		if records == nil {
			records = []account.Record{}
		}
		return writeJSON(out, records)
	}
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "no accounts")
		return err
	}
	_, err = fmt.Fprintln(out, renderAccounts(records))
	return err
}

func getAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	if err := requireArgs(cmd, 1, "<id>"); err != nil {
		return err
	}
	r, err := a.Get(ctx, cmd.Args().First())
	if err != nil {
		return err
	}
	return writeJSON(cmd.Root().Writer, masked(r, cmd.Bool("show-password")))
}

func addAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	email := strings.TrimSpace(cmd.String("email"))
	if email == "" {
		return app.ErrMissingEmail
	}
	r := account.Record{
		Email:    email,
		Password: cmd.String("password"),
		Status:   account.StatusActive,
	}
	if tok := strings.TrimSpace(cmd.String("token")); tok != "" {
		r.SetToken(tok, jwtclaims.ExtractExpiry)
	}

	added, err := a.Store().Add(r)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "account added", "id", added.ID)
	_, err = fmt.Fprintln(cmd.Root().Writer, added.ID)
	return err
}

func importTokenAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	token := cmd.Args().First()
	if token == "" || token == "-" {
		var err error
		if token, err = readLine(cmd.Root().Reader); err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
	}
	r, err := a.ImportToken(ctx, token)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "imported %s (%s)\n", r.Email, r.ID)
	return err
}

func importCredentialsAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	password := cmd.String("password")
	if password == "" {
		var err error
		if password, err = promptPassword(cmd.Root().Reader); err != nil {
			return err
		}
	}
	r, err := a.ImportCredentials(ctx, cmd.String("email"), password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "imported %s (%s)\n", r.Email, r.ID)
	return err
}

func updateTokenAction(_ context.Context, cmd *cli.Command, a *app.App) error {
	if err := requireArgs(cmd, 2, "<id> <token>"); err != nil {
		return err
	}
	r, err := a.Store().UpdateToken(cmd.Args().Get(0), strings.TrimSpace(cmd.Args().Get(1)))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "token updated for %s, expires %s\n", r.ID, orDash(r.TokenExpireTime))
	return err
}

func updateQuotaAction(_ context.Context, cmd *cli.Command, a *app.App) error {
	if err := requireArgs(cmd, 3, "<id> <remaining> <total>"); err != nil {
		return err
	}
	remaining, err := decimal.NewFromString(cmd.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid remaining quota: %w", err)
	}
	total, err := decimal.NewFromString(cmd.Args().Get(2))
	if err != nil {
		return fmt.Errorf("invalid total quota: %w", err)
	}
	r, err := a.Store().UpdateQuota(cmd.Args().Get(0), remaining, total)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "quota for %s: %s of %s remaining\n",
		r.ID, r.QuotaRemaining.String(), r.QuotaTotal.String())
	return err
}

func deleteAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	if err := requireArgs(cmd, 1, "<id>"); err != nil {
		return err
	}
	if err := a.Delete(ctx, cmd.Args().First()); err != nil {
		return err
	}
	_, err := fmt.Fprintln(cmd.Root().Writer, "deleted", cmd.Args().First())
	return err
}

func refreshAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	all := cmd.Bool("all")
	if all == (cmd.NArg() == 1) || cmd.NArg() > 1 {
		return fmt.Errorf("usage: %s <id> | --all", cmd.FullName())
	}

	var tracker *notify.Tracker
	if cmd.Bool("notify") {
		tracker = notify.NewTracker()
		if records, err := a.List(ctx); err == nil {
			tracker.Observe(records)
		}
	}

	out := cmd.Root().Writer
	var refreshed []account.Record
	var failed int

	if all {
		results, err := a.RefreshAll(ctx)
		if err != nil {
			return err
		}
		for _, res := range results {
			if res.Err != nil {
				failed++
				fmt.Fprintf(out, "%s\tfailed: %s\n", res.Email, UserMessage(res.Err))
				continue
			}
			refreshed = append(refreshed, res.Record)
			fmt.Fprintf(out, "%s\t%s remaining\n", res.Email, orDash(res.Record.QuotaRemaining.String()))
		}
	} else {
		r, err := a.RefreshAccount(ctx, cmd.Args().First())
		if err != nil {
			return err
		}
		refreshed = append(refreshed, r)
		fmt.Fprintf(out, "%s\t%s remaining\n", r.Email, orDash(r.QuotaRemaining.String()))
	}

	if tracker != nil {
		raise(ctx, tracker.Observe(refreshed))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed to refresh", failed, failed+len(refreshed))
	}
	return nil
}

func reloginAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	if err := requireArgs(cmd, 1, "<id>"); err != nil {
		return err
	}
	r, err := a.Relogin(ctx, cmd.Args().First())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "signed in %s, token expires %s\n", r.Email, orDash(r.TokenExpireTime))
	return err
}

func tokenAction(_ context.Context, cmd *cli.Command, a *app.App) error {
	if err := requireArgs(cmd, 1, "<id>"); err != nil {
		return err
	}
	tok, err := a.TokenSource(cmd.Args().First()).Token()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, tok.AccessToken)
	return err
}

func watchAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	var tracker *notify.Tracker
	if cmd.Bool("notify") {
		tracker = notify.NewTracker()
		if records, err := a.List(ctx); err == nil {
			tracker.Observe(records)
		}
	}

	out := cmd.Root().Writer
	fmt.Fprintln(out, "watching", a.Store().Path())
	err := a.Store().Watch(ctx, func(c *account.Collection, outcome accountstore.LoadOutcome) {
		fmt.Fprintf(out, "accounts changed: %d accounts (%s)\n", len(c.Accounts), outcome)
		if tracker != nil {
			raise(ctx, tracker.Observe(c.Accounts))
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func pathAction(_ context.Context, cmd *cli.Command, a *app.App) error {
	_, err := fmt.Fprintln(cmd.Root().Writer, a.Store().Path())
	return err
}

func raise(ctx context.Context, alerts []notify.Alert) {
	for _, alert := range alerts {
		if err := notify.Desktop(alert); err != nil {
			slog.WarnContext(ctx, "desktop notification failed", "email", alert.Email, "error", err)
		}
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echo when stdin is a terminal,
// otherwise it takes the first line of r.
func promptPassword(r io.Reader) (string, error) {
	f, ok := r.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return readLine(r)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}
