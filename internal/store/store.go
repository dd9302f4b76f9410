// Package store owns the accounts table and is the only place that mutates
// it.
//
// # Merge semantics
//
// Merge is the single mutation primitive. Fields are presence-aware (see
// account.Patch): a nil field is left untouched, a pointer to "" overwrites.
// Backfill is the stricter variant used by inventory reconciliation: it only
// fills columns that are currently NULL or empty.
//
// # Concurrency
//
// One sync.Mutex guards the whole store. Every public operation holds it for
// its full check-then-write sequence, which runs in a single transaction.
//
// The mutex is NOT reentrant. A Store method must never be called while
// another Store method is running on the same goroutine, and in particular
// never from inside the function passed to Tx: that deadlocks. Callers that
// need several reads and writes as one unit use Tx and the Queries it hands
// out.
//
// # Errors
//
// Storage failures roll the transaction back, so a failed operation never
// leaves a partial write. The error is logged here and also returned;
// callers that only want best-effort behaviour may ignore it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/dbx"
	"github.com/mschirtzinger/acctsync/internal/metrics"
)

var (
	// ErrEmptyEmail is returned when an operation is called without an email.
	ErrEmptyEmail = errors.New("email is required")

	// ErrInvalidStatus is returned when a patch carries an unknown status.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrNotFound is returned by Get for unknown emails.
	ErrNotFound = errors.New("account not found")
)

// Outcome describes what a write did to the row.
type Outcome int

const (
	// Unchanged means the row existed and nothing was written.
	Unchanged Outcome = iota
	// Inserted means a new row was created.
	Inserted
	// Updated means an existing row was modified.
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// MergeResult reports the effect of Merge.
type MergeResult struct {
	Outcome Outcome
	Status  account.Status
}

// EventKind identifies a store change.
type EventKind string

const (
	EventInserted EventKind = "inserted"
	EventUpdated  EventKind = "updated"
	EventDeleted  EventKind = "deleted"
)

// Event is delivered to observers after a successful write.
type Event struct {
	Kind   EventKind
	Email  string
	Status account.Status
	At     time.Time
}

// Observer receives store events. It is called after the store mutex has
// been released, so it may call Store methods.
type Observer func(Event)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver registers an observer for write events.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// Store is the account state store.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	logger    *zap.Logger
	now       func() time.Time
	lastStamp time.Time
	observers []Observer
}

// New returns a Store over an initialized database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Merge inserts the account or updates the supplied fields of an existing
// one. A new row gets status pending unless the patch says otherwise.
func (s *Store) Merge(ctx context.Context, email string, p account.Patch) (MergeResult, error) {
	if strings.TrimSpace(email) == "" {
		s.logger.Warn("merge skipped: empty email")
		return MergeResult{}, ErrEmptyEmail
	}
	if p.Status != nil && !p.Status.Valid() {
		s.logger.Warn("merge skipped: invalid status", zap.String("email", email), zap.String("status", string(*p.Status)))
		return MergeResult{}, fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
	}

	var res MergeResult
	err := s.write(ctx, "merge", func(ctx context.Context, q *Queries) error {
		existing, err := q.Get(ctx, email)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := q.Insert(ctx, email, p); err != nil {
				return err
			}
			res.Outcome = Inserted
			res.Status = account.StatusPending
			if p.Status != nil {
				res.Status = *p.Status
			}
			return nil
		case err != nil:
			return err
		}

		res.Status = existing.Status
		changed, err := q.Update(ctx, email, p)
		if err != nil {
			return err
		}
		if changed {
			res.Outcome = Updated
			if p.Status != nil {
				res.Status = *p.Status
			}
		}
		return nil
	})
	if err != nil {
		return MergeResult{}, err
	}

	metrics.StoreOperations.WithLabelValues("merge", res.Outcome.String()).Inc()
	s.logger.Debug("account merged",
		zap.String("email", email),
		zap.Stringer("outcome", res.Outcome),
		zap.String("status", string(res.Status)))

	switch res.Outcome {
	case Inserted:
		s.notify(Event{Kind: EventInserted, Email: email, Status: res.Status})
	case Updated:
		s.notify(Event{Kind: EventUpdated, Email: email, Status: res.Status})
	}
	return res, nil
}

// UpdateStatus sets status and, when non-nil, message.
func (s *Store) UpdateStatus(ctx context.Context, email string, status account.Status, message *string) (MergeResult, error) {
	return s.Merge(ctx, email, account.Patch{Status: &status, Message: message})
}

// Delete removes the account. Deleting an unknown email is a no-op.
func (s *Store) Delete(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmptyEmail
	}

	var deleted bool
	err := s.write(ctx, "delete", func(ctx context.Context, q *Queries) error {
		var err error
		deleted, err = q.Delete(ctx, email)
		return err
	})
	if err != nil {
		return err
	}

	if deleted {
		metrics.StoreOperations.WithLabelValues("delete", "deleted").Inc()
		s.logger.Info("account deleted", zap.String("email", email))
		s.notify(Event{Kind: EventDeleted, Email: email})
	}
	return nil
}

// Get returns one account or ErrNotFound.
func (s *Store) Get(ctx context.Context, email string) (*account.Account, error) {
	var a *account.Account
	err := s.read(ctx, "get", func(ctx context.Context, q *Queries) error {
		var err error
		a, err = q.Get(ctx, email)
		return err
	})
	return a, err
}

// ByStatus returns a snapshot of the accounts in status.
func (s *Store) ByStatus(ctx context.Context, status account.Status) ([]*account.Account, error) {
	return s.list(ctx, "by_status", "status = ?", string(status))
}

// MissingBrowserID returns a snapshot of accounts not yet linked to an
// inventory profile.
func (s *Store) MissingBrowserID(ctx context.Context) ([]*account.Account, error) {
	return s.list(ctx, "missing_browser_id", "browser_id IS NULL OR browser_id = ''")
}

// All returns a snapshot of every account.
func (s *Store) All(ctx context.Context) ([]*account.Account, error) {
	return s.list(ctx, "all", "")
}

// Count returns the number of accounts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.read(ctx, "count", func(ctx context.Context, q *Queries) error {
		var err error
		n, err = q.Count(ctx)
		return err
	})
	return n, err
}

// CountByStatus returns the number of accounts per status.
func (s *Store) CountByStatus(ctx context.Context) (map[account.Status]int, error) {
	var out map[account.Status]int
	err := s.read(ctx, "count_by_status", func(ctx context.Context, q *Queries) error {
		var err error
		out, err = q.CountByStatus(ctx)
		return err
	})
	return out, err
}

// Tx runs fn inside one transaction while holding the store mutex.
// fn must use q for every statement and must not call Store methods.
// Tx does not notify observers.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, q *Queries) error) error {
	return s.write(ctx, "tx", fn)
}

func (s *Store) list(ctx context.Context, op, where string, args ...any) ([]*account.Account, error) {
	var out []*account.Account
	err := s.read(ctx, op, func(ctx context.Context, q *Queries) error {
		var err error
		out, err = q.List(ctx, where, args...)
		return err
	})
	return out, err
}

// write runs fn in a transaction under the mutex.
func (s *Store) write(ctx context.Context, op string, fn func(ctx context.Context, q *Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := s.stamp()
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &Queries{tx: tx, stamp: stamp})
	})
	if err != nil {
		s.fail(op, err)
	}
	return err
}

// read runs fn against the pool under the mutex.
func (s *Store) read(ctx context.Context, op string, fn func(ctx context.Context, q *Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(ctx, &Queries{tx: s.db}); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.fail(op, err)
		}
		return err
	}
	metrics.StoreOperations.WithLabelValues(op, "read").Inc()
	return nil
}

func (s *Store) fail(op string, err error) {
	metrics.StoreOperations.WithLabelValues(op, "error").Inc()
	s.logger.Error("store operation failed", zap.String("op", op), zap.Error(err))
}

// stamp returns the updated_at value for the next write. Values never go
// backwards within a process, even if the wall clock does. Callers hold mu.
func (s *Store) stamp() string {
	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now.Format(timestampLayout)
}

func (s *Store) notify(ev Event) {
	if len(s.observers) == 0 {
		return
	}
	ev.At = s.now()
	for _, o := range s.observers {
		o(ev)
	}
}
