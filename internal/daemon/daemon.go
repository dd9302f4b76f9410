package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/metrics"
	"github.com/mschirtzinger/acctsync/internal/reconcile/filesync"
)

// Importer loads status files into the store. *filesync.Syncer implements
// it.
type Importer interface {
	// ImportIfEmpty runs the one-time bulk import when the store is empty.
	ImportIfEmpty(ctx context.Context) (filesync.ImportResult, bool, error)
	// ImportStatusFile merges one changed status file.
	ImportStatusFile(ctx context.Context, status account.Status) (int, error)
}

// StatsSource reports account counts per status. *store.Store implements it.
type StatsSource interface {
	CountByStatus(ctx context.Context) (map[account.Status]int, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Files maps each watched status file path to its status.
	Files map[string]account.Status

	// DebounceInterval is how long a file must be quiet before it is
	// re-imported. Editors and exports write in bursts.
	DebounceInterval time.Duration

	// StatsInterval is how often the per-status account gauge is refreshed.
	// Zero disables the refresh.
	StatsInterval time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns defaults for the given files.
func DefaultConfig(files map[string]account.Status) Config {
	return Config{
		Files:            files,
		DebounceInterval: 500 * time.Millisecond,
		StatsInterval:    5 * time.Second,
		Logger:           zap.NewNop(),
	}
}

// Daemon re-imports status files when they change on disk.
type Daemon struct {
	importer Importer
	stats    StatsSource
	config   Config
	logger   *zap.Logger

	changeQueue   map[account.Status]time.Time
	changeQueueMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a daemon. stats may be nil.
func New(importer Importer, stats StatsSource, config Config) (*Daemon, error) {
	if importer == nil {
		return nil, errors.New("importer cannot be nil")
	}
	if len(config.Files) == 0 {
		return nil, errors.New("no status files to watch")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Daemon{
		importer:    importer,
		stats:       stats,
		config:      config,
		logger:      logger,
		changeQueue: make(map[account.Status]time.Time),
	}, nil
}

// Run performs the initial import if the store is empty, then watches the
// status files until ctx is canceled. Files are never re-read at start: a
// populated store is newer than any file on disk. It returns nil on
// cancellation.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting daemon", zap.Int("files", len(d.config.Files)))

	res, ran, err := d.importer.ImportIfEmpty(ctx)
	if err != nil {
		return fmt.Errorf("initial import failed: %w", err)
	}
	if ran {
		d.logger.Info("initial import complete", zap.Int("records", res.Total()), zap.Int("file_errors", len(res.Errors)))
	}
	d.refreshStats(ctx)

	fw, err := NewFileWatcher(d.config.Files)
	if err != nil {
		return err
	}
	if err := fw.Start(); err != nil {
		_ = fw.Stop()
		return err
	}

	d.wg.Add(2)
	go d.watchFileEvents(ctx, fw)
	go d.processChangeQueue(ctx)
	if d.stats != nil && d.config.StatsInterval > 0 {
		d.wg.Add(1)
		go d.refreshStatsLoop(ctx)
	}

	<-ctx.Done()
	d.logger.Info("stopping daemon")
	if err := fw.Stop(); err != nil {
		d.logger.Warn("error closing watcher", zap.Error(err))
	}
	d.wg.Wait()
	d.logger.Info("daemon stopped")
	return nil
}

// watchFileEvents queues changed status files.
func (d *Daemon) watchFileEvents(ctx context.Context, fw *FileWatcher) {
	defer d.wg.Done()

	events, errs := fw.Events(), fw.Errors()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			// Removing a status file never deletes accounts.
			if ev.Op == OpDelete {
				continue
			}
			d.logger.Debug("file event", zap.String("path", ev.Path), zap.Stringer("op", ev.Op))
			d.queueChange(ev.Status)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// queueChange records a change, restarting the debounce window.
func (d *Daemon) queueChange(status account.Status) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[status] = time.Now()
}

func (d *Daemon) processChangeQueue(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges(ctx)
		}
	}
}

// processPendingChanges re-imports files that have been quiet long enough.
func (d *Daemon) processPendingChanges(ctx context.Context) {
	now := time.Now()

	d.changeQueueMu.Lock()
	var ready []account.Status
	for st, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, st)
		delete(d.changeQueue, st)
	}
	d.changeQueueMu.Unlock()

	for _, st := range ready {
		n, err := d.importer.ImportStatusFile(ctx, st)
		if err != nil {
			d.logger.Warn("failed to re-import status file", zap.Stringer("status", st), zap.Error(err))
			continue
		}
		d.logger.Info("status file re-imported", zap.Stringer("status", st), zap.Int("records", n))
	}
	if len(ready) > 0 {
		d.refreshStats(ctx)
	}
}

func (d *Daemon) refreshStatsLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.refreshStats(ctx)
		}
	}
}

// refreshStats publishes per-status counts to the accounts gauge.
func (d *Daemon) refreshStats(ctx context.Context) {
	if d.stats == nil {
		return
	}
	counts, err := d.stats.CountByStatus(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("failed to refresh stats", zap.Error(err))
		}
		return
	}
	for _, st := range account.AllStatuses {
		metrics.Accounts.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
