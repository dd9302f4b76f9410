package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/acctsync/internal/bitbrowser"
	"github.com/mschirtzinger/acctsync/internal/daemon"
	"github.com/mschirtzinger/acctsync/internal/monitor"
	"github.com/mschirtzinger/acctsync/internal/reconcile/filesync"
	"github.com/mschirtzinger/acctsync/internal/reconcile/inventory"
	"github.com/mschirtzinger/acctsync/internal/store"
	"github.com/mschirtzinger/acctsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Watch the status files and serve the monitor feed",
	Long: `Run in the foreground until interrupted:

  - run the bulk import if the database is empty, then re-import each
    status file when it is edited (the daemon's own exports are ignored)
  - refresh the per-status account gauge
  - with --monitor-addr (or monitor.addr), serve /ws, /stats, /health and
    /metrics
  - with --inventory, start one inventory reconciliation in the background
  - with --export-every, regenerate the status files periodically

Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runInventory, _ := cmd.Flags().GetBool("inventory")
		exportEvery, _ := cmd.Flags().GetDuration("export-every")
		if cmd.Flags().Changed("monitor-addr") {
			cfg.Monitor.Addr, _ = cmd.Flags().GetString("monitor-addr")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var handler *monitor.Handler
		notify := func(ev store.Event) {
			if handler != nil {
				handler.OnStoreEvent(ev)
			}
		}

		a, err := openApp(ctx, store.WithObserver(notify))
		if err != nil {
			return err
		}
		defer a.Close()

		var server *monitor.Server
		if cfg.Monitor.Addr != "" {
			server = monitor.NewServer(monitor.Config{
				Addr:   cfg.Monitor.Addr,
				Logger: logger.Named("monitor"),
			})
			handler = monitor.NewHandler(server, a.store, logger.Named("monitor"))
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				if err := server.Stop(); err != nil {
					logger.Warn("monitor shutdown", zap.Error(err))
				}
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "%s Monitor on http://%s\n", ui.RenderAccent("📡"), server.Addr())
			if a.imported {
				handler.OnImportComplete(a.initial, a.elapsed)
			}
		}

		dcfg := daemon.DefaultConfig(cfg.Layout().StatusPaths())
		dcfg.DebounceInterval = cfg.Daemon.Debounce
		dcfg.StatsInterval = cfg.Monitor.StatsInterval
		dcfg.Logger = logger.Named("daemon")

		d, err := daemon.New(a.syncer, a.store, dcfg)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Watching status files in %s\n", ui.RenderAccent("👀"), cfg.Files.Dir)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return d.Run(gctx)
		})
		if handler != nil {
			g.Go(func() error {
				handler.RunStats(gctx, cfg.Monitor.StatsInterval)
				return nil
			})
		}
		if runInventory {
			client := bitbrowser.NewClient(cfg.Inventory.BaseURL, cfg.Inventory.Timeout)
			task := inventory.New(client, a.store,
				inventory.WithLogger(logger.Named("inventory")),
				inventory.WithPageSize(cfg.Inventory.PageSize),
				inventory.WithPause(cfg.Inventory.Pause),
			).Start(gctx)
			g.Go(func() error {
				if handler != nil {
					handler.WatchTask(gctx, task, time.Second)
				}
				select {
				case <-task.Done():
				case <-gctx.Done():
					task.Cancel()
					<-task.Done()
				}
				if err := task.Err(); err != nil && gctx.Err() == nil {
					logger.Warn("inventory reconciliation failed", zap.Error(err))
				}
				return nil
			})
		}

		if exportEvery > 0 {
			g.Go(func() error {
				exportLoop(gctx, a.syncer, handler, exportEvery)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Daemon stopped\n", ui.RenderPass("✓"))
		return nil
	},
}

// exportLoop regenerates the status files every interval until ctx is
// canceled.
func exportLoop(ctx context.Context, syncer *filesync.Syncer, handler *monitor.Handler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := syncer.Export(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("periodic export failed", zap.Error(err))
				}
				continue
			}
			if handler != nil {
				handler.OnExportComplete(res)
			}
		}
	}
}

func init() {
	daemonCmd.Flags().String("monitor-addr", "", "serve the monitor feed on this address, e.g. 127.0.0.1:9090")
	daemonCmd.Flags().Bool("inventory", false, "start an inventory reconciliation on startup")
	daemonCmd.Flags().Duration("export-every", 0, "regenerate the status files at this interval (0 disables)")

	rootCmd.AddCommand(daemonCmd)
}
