// Package inventory links accounts to browser profiles listed by the
// automation API.
//
// A run pages through the listing from page 0 until an empty page. Every
// profile whose remark names an email is handed to Store.Backfill, which
// inserts unknown accounts as pending_check and fills blank columns of known
// ones. The store lock is taken once per profile, so foreground callers
// interleave with a long run.
//
// A failed page fetch aborts the run; totals gathered so far are kept. A
// profile that fails to merge is logged, counted and skipped.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/acctsync/internal/bitbrowser"
	"github.com/mschirtzinger/acctsync/internal/metrics"
	"github.com/mschirtzinger/acctsync/internal/parser"
	"github.com/mschirtzinger/acctsync/internal/store"
)

const (
	// DefaultPageSize is the listing page size.
	DefaultPageSize = 50
	// DefaultPause is the delay between page fetches.
	DefaultPause = 500 * time.Millisecond
)

// Lister returns one page of profiles. An empty page ends the listing.
type Lister interface {
	ListProfiles(ctx context.Context, page, pageSize int) ([]bitbrowser.Profile, error)
}

// Store is the subset of store.Store used by the reconciler.
type Store interface {
	Backfill(ctx context.Context, email, browserID string, f store.BackfillFields) (store.BackfillResult, error)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPageSize overrides DefaultPageSize. Non-positive values are ignored.
func WithPageSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithPause overrides DefaultPause. Negative values are ignored.
func WithPause(d time.Duration) Option {
	return func(r *Reconciler) {
		if d >= 0 {
			r.pause = d
		}
	}
}

// Reconciler runs inventory reconciliations.
type Reconciler struct {
	lister   Lister
	store    Store
	logger   *zap.Logger
	pageSize int
	pause    time.Duration
}

// New creates a Reconciler.
func New(lister Lister, st Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		lister:   lister,
		store:    st,
		logger:   zap.NewNop(),
		pageSize: DefaultPageSize,
		pause:    DefaultPause,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches a run in the background and returns immediately.
//
// The run is detached from ctx cancellation: it ends when the listing is
// exhausted, a page fetch fails, or Task.Cancel is called. Values carried by
// ctx remain visible to the run.
func (r *Reconciler) Start(ctx context.Context) *Task {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := newTask(cancel)
	go func() {
		defer cancel()
		t.finish(r.run(runCtx, t))
	}()
	return t
}

// Run performs a reconciliation on the calling goroutine. Canceling ctx
// stops the run between profiles.
func (r *Reconciler) Run(ctx context.Context) (Totals, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := newTask(cancel)
	t.finish(r.run(ctx, t))
	return t.Totals(), t.Err()
}

func (r *Reconciler) run(ctx context.Context, t *Task) error {
	log := r.logger.With(zap.String("task", t.ID()))
	log.Info("inventory reconciliation started", zap.Int("page_size", r.pageSize))

	metrics.InventoryRunning.Inc()
	defer metrics.InventoryRunning.Dec()

	err := r.pages(ctx, t, log)

	totals := t.Totals()
	fields := []zap.Field{
		zap.Int("pages", totals.Pages),
		zap.Int("inserted", totals.Inserted),
		zap.Int("updated", totals.Updated),
		zap.Int("skipped", totals.Skipped),
		zap.Int("failed", totals.Failed),
		zap.Duration("elapsed", time.Since(t.started)),
	}
	switch {
	case err == nil:
		metrics.InventoryRuns.WithLabelValues("ok").Inc()
		log.Info("inventory reconciliation complete", fields...)
	case errors.Is(err, context.Canceled):
		metrics.InventoryRuns.WithLabelValues("canceled").Inc()
		log.Warn("inventory reconciliation canceled", fields...)
	default:
		metrics.InventoryRuns.WithLabelValues("aborted").Inc()
		log.Error("inventory reconciliation aborted", append(fields, zap.Error(err))...)
	}
	return err
}

func (r *Reconciler) pages(ctx context.Context, t *Task, log *zap.Logger) error {
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		profiles, err := r.lister.ListProfiles(ctx, page, r.pageSize)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", page, err)
		}
		if len(profiles) == 0 {
			return nil
		}
		t.pages.Add(1)
		metrics.InventoryPages.Inc()

		before := t.Totals()
		for _, p := range profiles {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.profile(ctx, t, p, log)
		}
		after := t.Totals()
		log.Debug("inventory page processed",
			zap.Int("page", page),
			zap.Int("profiles", len(profiles)),
			zap.Int("inserted", after.Inserted-before.Inserted),
			zap.Int("updated", after.Updated-before.Updated))

		if err := sleep(ctx, r.pause); err != nil {
			return err
		}
	}
}

// profile reconciles one listing entry. Errors are recorded on t.
func (r *Reconciler) profile(ctx context.Context, t *Task, p bitbrowser.Profile, log *zap.Logger) {
	remark := strings.TrimSpace(p.Remark)
	if remark == "" || p.ID == "" {
		t.skipped.Add(1)
		metrics.ReconcileRecords.WithLabelValues("inventory", "skipped").Inc()
		return
	}

	rec := parser.ParseRemark(remark)
	if rec.Empty() {
		t.skipped.Add(1)
		metrics.ReconcileRecords.WithLabelValues("inventory", "skipped").Inc()
		return
	}

	res, err := r.store.Backfill(ctx, rec.EmailValue(), p.ID, store.BackfillFields{
		Password:      rec.Password,
		RecoveryEmail: rec.RecoveryEmail,
		SecretKey:     rec.SecretKey,
	})
	if err != nil {
		t.failed.Add(1)
		metrics.ReconcileRecords.WithLabelValues("inventory", "failed").Inc()
		log.Warn("failed to reconcile profile",
			zap.String("browser_id", p.ID),
			zap.String("email", rec.EmailValue()),
			zap.Error(err))
		return
	}

	switch res.Outcome {
	case store.Inserted:
		t.inserted.Add(1)
	case store.Updated:
		t.updated.Add(1)
	default:
		t.unchanged.Add(1)
	}
	metrics.ReconcileRecords.WithLabelValues("inventory", res.Outcome.String()).Inc()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
