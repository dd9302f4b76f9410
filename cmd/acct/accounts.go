package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/store"
	"github.com/mschirtzinger/acctsync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "accounts",
	Short:   "List accounts",
	Long: `List accounts ordered by email.

Examples:
  acct list --status verified
  acct list --missing-browser
  acct list --since "2 hours ago"
  acct list --since yesterday --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		statusFlag, _ := cmd.Flags().GetString("status")
		missing, _ := cmd.Flags().GetBool("missing-browser")
		sinceFlag, _ := cmd.Flags().GetString("since")
		reveal, _ := cmd.Flags().GetBool("reveal")
		asJSON, _ := cmd.Flags().GetBool("json")

		if statusFlag != "" && missing {
			return errors.New("--status and --missing-browser are mutually exclusive")
		}

		var since time.Time
		if sinceFlag != "" {
			t, err := parseSince(sinceFlag, time.Now())
			if err != nil {
				return err
			}
			since = t
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var accounts []*account.Account
		switch {
		case statusFlag != "":
			status, err := account.ParseStatus(statusFlag)
			if err != nil {
				return err
			}
			accounts, err = a.store.ByStatus(ctx, status)
			if err != nil {
				return err
			}
		case missing:
			accounts, err = a.store.MissingBrowserID(ctx)
		default:
			accounts, err = a.store.All(ctx)
		}
		if err != nil {
			return err
		}

		if !since.IsZero() {
			kept := accounts[:0]
			for _, acc := range accounts {
				if !acc.UpdatedAt.Before(since) {
					kept = append(kept, acc)
				}
			}
			accounts = kept
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if accounts == nil {
				accounts = []*account.Account{}
			}
			return enc.Encode(accounts)
		}
		if len(accounts) == 0 {
			fmt.Fprintf(out, "%s No accounts found\n", ui.RenderMuted("·"))
			return nil
		}
		fmt.Fprintln(out, ui.AccountTable(accounts, reveal))
		fmt.Fprintf(out, "%d accounts\n", len(accounts))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show EMAIL",
	GroupID: "accounts",
	Short:   "Show one account",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reveal, _ := cmd.Flags().GetBool("reveal")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		acc, err := a.store.Get(ctx, strings.TrimSpace(args[0]))
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("account %s not found", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.AccountDetail(acc, reveal))
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:     "set EMAIL",
	GroupID: "accounts",
	Short:   "Create or update an account",
	Long: `Merge the given fields into an account, creating it if needed.

Only flags that are passed are written; every other field keeps its stored
value. Passing an empty value (e.g. --link "") clears that field.

Examples:
  acct set a@example.com --password hunter2 --recovery b@example.com
  acct set a@example.com --status error --message "captcha timeout"
  acct set a@example.com --ask-password`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		email := strings.TrimSpace(args[0])

		patch, err := patchFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.store.Merge(ctx, email, patch)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch res.Outcome {
		case store.Inserted:
			fmt.Fprintf(out, "%s Created %s\n", ui.RenderPass("✓"), email)
		case store.Updated:
			fmt.Fprintf(out, "%s Updated %s\n", ui.RenderPass("✓"), email)
		default:
			fmt.Fprintf(out, "%s Nothing to change for %s\n", ui.RenderMuted("·"), email)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete EMAIL",
	GroupID: "accounts",
	Short:   "Delete an account",
	Long: `Delete an account from the database.

Asks for confirmation on a terminal; pass --yes to skip the prompt. The
next export drops the account from every status file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		email := strings.TrimSpace(args[0])
		yes, _ := cmd.Flags().GetBool("yes")

		if !yes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("refusing to delete without --yes when stdin is not a terminal")
			}
			confirmed := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete %s?", email)).
					Affirmative("Delete").
					Negative("Cancel").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s Cancelled\n", ui.RenderMuted("·"))
				return nil
			}
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.Delete(ctx, email); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", ui.RenderPass("✓"), email)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "accounts",
	Short:   "Show account counts per status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		counts, err := a.store.CountByStatus(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\n%s Accounts in %s\n\n", ui.RenderAccent("📊"), cfg.DBPath)
		fmt.Fprint(out, ui.StatusCounts(counts))
		fmt.Fprintln(out)
		return nil
	},
}

// readPassword reads a password without echo.
var readPassword = term.ReadPassword

// patchFromFlags builds a patch from the flags the user actually passed.
func patchFromFlags(cmd *cobra.Command) (account.Patch, error) {
	var p account.Patch
	flags := cmd.Flags()

	fields := map[string]**string{
		"password": &p.Password,
		"recovery": &p.RecoveryEmail,
		"secret":   &p.SecretKey,
		"link":     &p.VerificationLink,
		"browser":  &p.BrowserID,
		"message":  &p.Message,
	}
	for name, dst := range fields {
		if flags.Changed(name) {
			v, _ := flags.GetString(name)
			*dst = pointer.ToString(strings.TrimSpace(v))
		}
	}

	if flags.Changed("status") {
		v, _ := flags.GetString("status")
		status, err := account.ParseStatus(v)
		if err != nil {
			return account.Patch{}, err
		}
		p.Status = account.StatusPtr(status)
	}

	if ask, _ := flags.GetBool("ask-password"); ask {
		if flags.Changed("password") {
			return account.Patch{}, errors.New("--password and --ask-password are mutually exclusive")
		}
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		pw, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return account.Patch{}, fmt.Errorf("read password: %w", err)
		}
		p.Password = pointer.ToString(string(pw))
	}
	return p, nil
}

// parseSince accepts an absolute date or a natural-language expression such
// as "3 days ago" or "yesterday".
func parseSince(s string, now time.Time) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("parse --since %q: no date found", s)
	}
	return r.Time, nil
}

func init() {
	listCmd.Flags().String("status", "", "only accounts in this status")
	listCmd.Flags().Bool("missing-browser", false, "only accounts without a browser ID")
	listCmd.Flags().String("since", "", `only accounts updated since (e.g. "2024-05-01", "3 days ago")`)
	listCmd.Flags().Bool("reveal", false, "show passwords and secret keys")
	listCmd.Flags().Bool("json", false, "output JSON")

	showCmd.Flags().Bool("reveal", false, "show password and secret key")

	setCmd.Flags().String("password", "", "password")
	setCmd.Flags().Bool("ask-password", false, "prompt for the password without echo")
	setCmd.Flags().String("recovery", "", "recovery email")
	setCmd.Flags().String("secret", "", "2FA secret key")
	setCmd.Flags().String("link", "", "verification link")
	setCmd.Flags().String("browser", "", "browser profile ID")
	setCmd.Flags().String("status", "", "lifecycle status")
	setCmd.Flags().String("message", "", "status message")

	deleteCmd.Flags().BoolP("yes", "y", false, "skip confirmation")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statsCmd)
}
