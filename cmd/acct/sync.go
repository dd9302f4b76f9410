package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/reconcile/filesync"
	"github.com/mschirtzinger/acctsync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "sync",
	Short:   "Create the database and import the text files if it is empty",
	Long: `Create accounts.db (if needed), apply schema migrations and, when the
accounts table is empty, import the primary source and every status file.

Running init against a populated database only checks the schema.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if !a.imported {
			n, _ := a.store.Count(ctx)
			fmt.Fprintf(out, "%s Database ready: %d accounts in %s\n", ui.RenderPass("✓"), n, cfg.DBPath)
			return nil
		}
		printImport(out, a.initial, a.elapsed)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import",
	GroupID: "sync",
	Short:   "Merge the text files into the database",
	Long: `Merge the primary source and every status file into the database.

Records are merged, never replaced: fields missing from a file keep their
stored values. Missing files are skipped. A file that cannot be read is
reported and the remaining files are still imported.

With --status-only the primary source is skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		statusOnly, _ := cmd.Flags().GetBool("status-only")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if a.imported {
			printImport(out, a.initial, a.elapsed)
			return nil
		}
		fmt.Fprintf(out, "%s Importing from %s...\n", ui.RenderAccent("→"), cfg.Files.Dir)
		start := time.Now()

		var res filesync.ImportResult
		if statusOnly {
			res, err = a.syncer.ImportStatusFiles(ctx)
		} else {
			res, err = a.syncer.Import(ctx)
		}
		if err != nil {
			return err
		}
		printImport(out, res, time.Since(start))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "sync",
	Short:   "Regenerate the status files from the database",
	Long: `Rewrite every status file and the backup file from the database.

Each file is replaced atomically. Accounts in a working state (running,
processing) are never written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.syncer.Export(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		categories := make([]string, 0, len(res.Lines))
		for c := range res.Lines {
			categories = append(categories, c)
		}
		sort.Strings(categories)

		fmt.Fprintf(out, "%s Export complete\n", ui.RenderPass("✓"))
		for _, c := range categories {
			fmt.Fprintf(out, "   %-12s %d\n", c+":", res.Lines[c])
		}
		if res.Skipped > 0 {
			fmt.Fprintf(out, "   %s %d accounts in a working state skipped\n", ui.RenderMuted("·"), res.Skipped)
		}
		printFileErrors(out, res.Errors)
		return nil
	},
}

func printImport(out io.Writer, res filesync.ImportResult, elapsed time.Duration) {
	fmt.Fprintf(out, "%s Imported %d records in %v\n", ui.RenderPass("✓"), res.Total(), elapsed.Round(time.Millisecond))
	if res.Primary > 0 {
		fmt.Fprintf(out, "   %-12s %d\n", "primary:", res.Primary)
	}
	for _, st := range account.AllStatuses {
		if n := res.ByStatus[st]; n > 0 {
			fmt.Fprintf(out, "   %-12s %d\n", string(st)+":", n)
		}
	}
	if res.Failed > 0 {
		fmt.Fprintf(out, "%s %d records failed to merge (see log)\n", ui.RenderWarn("⚠"), res.Failed)
	}
	printFileErrors(out, res.Errors)
}

func printFileErrors(out io.Writer, errs []filesync.FileError) {
	for _, e := range errs {
		fmt.Fprintf(out, "%s %v\n", ui.RenderFail("✗"), e)
	}
}

func init() {
	importCmd.Flags().Bool("status-only", false, "skip the primary source")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
