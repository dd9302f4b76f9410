package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/acctsync/internal/bitbrowser"
	"github.com/mschirtzinger/acctsync/internal/reconcile/inventory"
	"github.com/mschirtzinger/acctsync/internal/ui"
)

var inventoryCmd = &cobra.Command{
	Use:     "inventory",
	GroupID: "sync",
	Short:   "Reconcile the database with the browser-profile inventory",
	Long: `Page through the automation tool's browser profiles and, for every
profile whose remark holds account data:

  - insert the account if it is unknown
  - fill blank fields (password, recovery email, secret key, browser ID)
  - never overwrite a value already stored

The run happens in the background while progress is printed. Ctrl-C stops it
between profiles.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("progress")
		if interval <= 0 {
			return fmt.Errorf("--progress must be positive, got %s", interval)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		client := bitbrowser.NewClient(cfg.Inventory.BaseURL, cfg.Inventory.Timeout)
		rec := inventory.New(client, a.store,
			inventory.WithLogger(logger.Named("inventory")),
			inventory.WithPageSize(cfg.Inventory.PageSize),
			inventory.WithPause(cfg.Inventory.Pause),
		)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Reconciling with %s...\n", ui.RenderAccent("→"), cfg.Inventory.BaseURL)
		task := rec.Start(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

	wait:
		for {
			select {
			case <-task.Done():
				break wait
			case <-ctx.Done():
				fmt.Fprintf(out, "%s Interrupted, stopping...\n", ui.RenderWarn("⚠"))
				task.Cancel()
				<-task.Done()
				break wait
			case <-ticker.C:
				t := task.Totals()
				fmt.Fprintf(out, "   page %d: %d inserted, %d updated, %d unchanged\n",
					t.Pages, t.Inserted, t.Updated, t.Unchanged)
			}
		}

		t := task.Totals()
		if err := task.Err(); err != nil {
			fmt.Fprintf(out, "%s Reconciliation stopped after %v: %v\n",
				ui.RenderFail("✗"), task.Elapsed().Round(time.Millisecond), err)
		} else {
			fmt.Fprintf(out, "%s Reconciliation complete in %v\n",
				ui.RenderPass("✓"), task.Elapsed().Round(time.Millisecond))
		}
		fmt.Fprintf(out, "   Pages:     %d\n", t.Pages)
		fmt.Fprintf(out, "   Inserted:  %d\n", t.Inserted)
		fmt.Fprintf(out, "   Updated:   %d\n", t.Updated)
		fmt.Fprintf(out, "   Unchanged: %d\n", t.Unchanged)
		fmt.Fprintf(out, "   Skipped:   %d\n", t.Skipped)
		if t.Failed > 0 {
			fmt.Fprintf(out, "   %s %d\n", ui.RenderWarn("Failed:   "), t.Failed)
		}
		return task.Err()
	},
}

func init() {
	inventoryCmd.Flags().Duration("progress", 2*time.Second, "progress report interval")

	rootCmd.AddCommand(inventoryCmd)
}
