package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mschirtzinger/acctsync/internal/config"
	"github.com/mschirtzinger/acctsync/internal/logging"
	"github.com/mschirtzinger/acctsync/internal/ui"
)

var (
	configFile string
	noColor    bool

	v        = config.New()
	cfg      *config.Config
	logger   = zap.NewNop()
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "acct",
	Short: "Account lifecycle store and reconciliation",
	Long: `acct keeps the account database in sync with the operator's text files
and with the browser-profile inventory of the automation tool.

The database (accounts.db) is the source of truth. Text files are imported
into it and regenerated from it by export.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.DisableColor()
		}

		loaded, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		cfg = loaded

		l, closer, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		logger, closeLog = l, closer
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		_ = logger.Sync()
		return closeLog()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "accounts", Title: "Accounts:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default ./acct.yaml)")
	flags.String("data-dir", ".", "directory holding accounts.db and the text files")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")

	bindFlags(v, map[string]string{
		"data_dir":   "data-dir",
		"log.level":  "log-level",
		"log.format": "log-format",
	})
}

func bindFlags(v *viper.Viper, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
