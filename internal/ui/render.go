package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mschirtzinger/acctsync/internal/account"
)

const timeLayout = "2006-01-02 15:04:05"

// AccountTable renders accounts as a bordered table. Secrets are masked
// unless reveal is set.
func AccountTable(accounts []*account.Account, reveal bool) string {
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, []string{
			a.Email,
			string(a.Status),
			secret(a.Password, reveal),
			account.Value(a.RecoveryEmail),
			secret(a.SecretKey, reveal),
			account.Value(a.BrowserID),
			a.UpdatedAt.Local().Format(timeLayout),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("EMAIL", "STATUS", "PASSWORD", "RECOVERY", "SECRET", "BROWSER", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(rows) {
				return cellStyle.Inherit(statusStyle(account.Status(rows[row][1])))
			}
			return cellStyle
		})
	return t.Render()
}

// AccountDetail renders every field of a, one per line.
func AccountDetail(a *account.Account, reveal bool) string {
	var b strings.Builder
	line := func(label, value string) {
		if value == "" {
			value = RenderMuted("-")
		}
		fmt.Fprintf(&b, "%s%s\n", labelStyle.Render(label), value)
	}
	line("Email", a.Email)
	line("Status", RenderStatus(a.Status))
	line("Password", secret(a.Password, reveal))
	line("Recovery email", account.Value(a.RecoveryEmail))
	line("Secret key", secret(a.SecretKey, reveal))
	line("Verification link", account.Value(a.VerificationLink))
	line("Browser ID", account.Value(a.BrowserID))
	line("Message", account.Value(a.Message))
	line("Updated", a.UpdatedAt.Local().Format(timeLayout))
	return b.String()
}

// StatusCounts renders per-status counts in lifecycle order, skipping zeros.
func StatusCounts(counts map[account.Status]int) string {
	var b strings.Builder
	total := 0
	for _, st := range account.AllStatuses {
		n := counts[st]
		if n == 0 {
			continue
		}
		total += n
		fmt.Fprintf(&b, "  %s %d\n", labelStyle.Render(RenderStatus(st)), n)
	}
	fmt.Fprintf(&b, "  %s %d\n", labelStyle.Render("total"), total)
	return b.String()
}

func statusStyle(s account.Status) lipgloss.Style {
	switch s {
	case account.StatusSubscribed, account.StatusVerified:
		return passStyle
	case account.StatusLinkReady, account.StatusPendingCheck:
		return accentStyle
	case account.StatusError, account.StatusIneligible:
		return failStyle
	case account.StatusRunning, account.StatusProcessing:
		return warnStyle
	default:
		return mutedStyle
	}
}

func secret(v *string, reveal bool) string {
	s := account.Value(v)
	if reveal || s == "" {
		return s
	}
	if len(s) <= 2 {
		return "**"
	}
	return s[:1] + strings.Repeat("*", min(len(s)-2, 8)) + s[len(s)-1:]
}
