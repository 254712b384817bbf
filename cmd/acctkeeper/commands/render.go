package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/florianilch/acctkeeper/internal/account"
)

const passwordMask = "********"

var (
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	activeStyle  = cellStyle.Foreground(lipgloss.Color("42"))
	expiredStyle = cellStyle.Foreground(lipgloss.Color("196"))
)

var accountHeaders = []string{"ID", "EMAIL", "STATUS", "PLAN", "USED", "REMAINING", "TOTAL", "TOKEN EXPIRES"}

const statusColumn = 2

// renderAccounts draws records as a table.
func renderAccounts(records []account.Record) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.ID,
			r.Email,
			orDash(r.Status),
			orDash(r.SubscriptionType),
			orDash(r.QuotaUsed.String()),
			orDash(r.QuotaRemaining.String()),
			orDash(r.QuotaTotal.String()),
			orDash(r.TokenExpireTime),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(accountHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == statusColumn && row >= 0 && row < len(rows) {
				switch rows[row][col] {
				case account.StatusActive:
					return activeStyle
				case account.StatusExpired:
					return expiredStyle
				}
			}
			return cellStyle
		})

	return t.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// masked returns r with the password hidden unless show is set.
func masked(r account.Record, show bool) account.Record {
	if r.Password != "" && !show {
		r.Password = passwordMask
	}
	return r
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
