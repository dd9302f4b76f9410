package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/storage/db"
)

// setupTestStore opens a fresh database with schema and wraps it in a Store.
func setupTestStore(t *testing.T, opts ...Option) (*Store, *db.DB) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, database.InitSchema(context.Background()))
	return New(database.RawDB(), opts...), database
}

func mustGet(t *testing.T, s *Store, email string) *account.Account {
	t.Helper()
	a, err := s.Get(context.Background(), email)
	require.NoError(t, err)
	return a
}

func TestMerge_InsertDefaultsToPending(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	res, err := s.Merge(ctx, "a@b.com", account.Patch{})
	require.NoError(t, err)
	assert.Equal(t, Inserted, res.Outcome)
	assert.Equal(t, account.StatusPending, res.Status)

	a := mustGet(t, s, "a@b.com")
	assert.Equal(t, account.StatusPending, a.Status)
	assert.Nil(t, a.Password)
	assert.Nil(t, a.RecoveryEmail)
	assert.Nil(t, a.BrowserID)
	assert.False(t, a.UpdatedAt.IsZero())
}

func TestMerge_InsertWithStatus(t *testing.T) {
	s, _ := setupTestStore(t)

	_, err := s.Merge(context.Background(), "a@b.com", account.Patch{
		Password: pointer.ToString("pw"),
		Status:   account.StatusPtr(account.StatusPendingCheck),
	})
	require.NoError(t, err)

	a := mustGet(t, s, "a@b.com")
	assert.Equal(t, account.StatusPendingCheck, a.Status)
	assert.Equal(t, "pw", account.Value(a.Password))
}

func TestMerge_DoesNotClearUnsuppliedFields(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, "a@b.com", account.Patch{Password: pointer.ToString("x")})
	require.NoError(t, err)

	res, err := s.Merge(ctx, "a@b.com", account.Patch{Status: account.StatusPtr(account.StatusVerified)})
	require.NoError(t, err)
	assert.Equal(t, Updated, res.Outcome)

	a := mustGet(t, s, "a@b.com")
	assert.Equal(t, "x", account.Value(a.Password))
	assert.Equal(t, account.StatusVerified, a.Status)
}

func TestMerge_ExplicitEmptyOverwrites(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, "a@b.com", account.Patch{RecoveryEmail: pointer.ToString("r@b.com")})
	require.NoError(t, err)
	_, err = s.Merge(ctx, "a@b.com", account.Patch{RecoveryEmail: pointer.ToString("")})
	require.NoError(t, err)

	a := mustGet(t, s, "a@b.com")
	require.NotNil(t, a.RecoveryEmail)
	assert.Equal(t, "", *a.RecoveryEmail)
}

func TestMerge_EmptyPatchOnExistingRowIsNoop(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, "a@b.com", account.Patch{})
	require.NoError(t, err)
	before := mustGet(t, s, "a@b.com")

	res, err := s.Merge(ctx, "a@b.com", account.Patch{})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Outcome)
	assert.True(t, before.UpdatedAt.Equal(mustGet(t, s, "a@b.com").UpdatedAt))
}

func TestMerge_Validation(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, "", account.Patch{})
	assert.ErrorIs(t, err, ErrEmptyEmail)

	_, err = s.Merge(ctx, "a@b.com", account.Patch{Status: account.StatusPtr("bogus")})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMerge_UpdatedAtMonotonic(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s, _ := setupTestStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	_, err := s.Merge(ctx, "a@b.com", account.Patch{})
	require.NoError(t, err)
	first := mustGet(t, s, "a@b.com").UpdatedAt

	_, err = s.UpdateStatus(ctx, "a@b.com", account.StatusRunning, nil)
	require.NoError(t, err)
	second := mustGet(t, s, "a@b.com").UpdatedAt

	assert.True(t, first.Equal(fixed), "got %v", first)
	assert.True(t, second.After(first), "updated_at must advance: %v -> %v", first, second)
}

func TestUpdateStatus_WithMessage(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, "a@b.com", account.Patch{Password: pointer.ToString("pw")})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, "a@b.com", account.StatusError, pointer.ToString("timeout"))
	require.NoError(t, err)

	a := mustGet(t, s, "a@b.com")
	assert.Equal(t, account.StatusError, a.Status)
	assert.Equal(t, "timeout", account.Value(a.Message))
	assert.Equal(t, "pw", account.Value(a.Password))
}

func TestDelete(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, "a@b.com", account.Patch{})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "a@b.com"))
	_, err = s.Get(ctx, "a@b.com")
	assert.ErrorIs(t, err, ErrNotFound)

	// Unknown email is a no-op.
	require.NoError(t, s.Delete(ctx, "missing@b.com"))

	assert.ErrorIs(t, s.Delete(ctx, ""), ErrEmptyEmail)
	assert.ErrorIs(t, s.Delete(ctx, "  \t"), ErrEmptyEmail)
}

func TestQueries(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, "a@b.com", account.Patch{Status: account.StatusPtr(account.StatusVerified), BrowserID: pointer.ToString("b1")})
	require.NoError(t, err)
	_, err = s.Merge(ctx, "c@b.com", account.Patch{Status: account.StatusPtr(account.StatusVerified), BrowserID: pointer.ToString("")})
	require.NoError(t, err)
	_, err = s.Merge(ctx, "b@b.com", account.Patch{})
	require.NoError(t, err)

	verified, err := s.ByStatus(ctx, account.StatusVerified)
	require.NoError(t, err)
	require.Len(t, verified, 2)
	assert.Equal(t, "a@b.com", verified[0].Email)
	assert.Equal(t, "c@b.com", verified[1].Email)

	missing, err := s.MissingBrowserID(ctx)
	require.NoError(t, err)
	var emails []string
	for _, a := range missing {
		emails = append(emails, a.Email)
	}
	assert.Equal(t, []string{"b@b.com", "c@b.com"}, emails)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[account.Status]int{account.StatusVerified: 2, account.StatusPending: 1}, counts)
}

func TestStorageFailureLeavesStateUntouched(t *testing.T) {
	s, database := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, "a@b.com", account.Patch{Password: pointer.ToString("pw")})
	require.NoError(t, err)

	// A failing statement inside a transaction must roll back earlier writes.
	err = s.Tx(ctx, func(ctx context.Context, q *Queries) error {
		if _, err := q.Update(ctx, "a@b.com", account.Patch{Password: pointer.ToString("changed")}); err != nil {
			return err
		}
		_, err := q.List(ctx, "no_such_column = 1")
		return err
	})
	require.Error(t, err)
	assert.Equal(t, "pw", account.Value(mustGet(t, s, "a@b.com").Password))

	// A closed engine surfaces as an error, not a panic.
	require.NoError(t, database.Close())
	_, err = s.Merge(ctx, "b@b.com", account.Patch{})
	assert.Error(t, err)
}

func TestTx_MultipleStatementsAsOneUnit(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	err := s.Tx(ctx, func(ctx context.Context, q *Queries) error {
		for i := 0; i < 3; i++ {
			if err := q.Insert(ctx, fmt.Sprintf("u%d@b.com", i), account.Patch{}); err != nil {
				return err
			}
		}
		n, err := q.Count(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, 3, n)
		return nil
	})
	require.NoError(t, err)
}

func TestObserver(t *testing.T) {
	var (
		mu     sync.Mutex
		events []Event
	)
	var s *Store
	s, _ = setupTestStore(t, WithObserver(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		// Observers run outside the lock and may read the store.
		_, _ = s.Count(context.Background())
	}))
	ctx := context.Background()

	_, err := s.Merge(ctx, "a@b.com", account.Patch{})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, "a@b.com", account.StatusVerified, nil)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "a@b.com"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, EventInserted, events[0].Kind)
	assert.Equal(t, EventUpdated, events[1].Kind)
	assert.Equal(t, account.StatusVerified, events[1].Status)
	assert.Equal(t, EventDeleted, events[2].Kind)
}

func TestConcurrentMerges(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker*2)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Every worker also hammers one shared email.
				if _, err := s.Merge(ctx, "shared@b.com", account.Patch{Message: pointer.ToString(fmt.Sprint(w))}); err != nil {
					errs <- err
				}
				email := fmt.Sprintf("w%d-%d@b.com", w, i)
				if _, err := s.Merge(ctx, email, account.Patch{Password: pointer.ToString("pw")}); err != nil {
					errs <- err
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(60 * time.Second):
		t.Fatal("concurrent merges did not finish: possible deadlock")
	}
	close(errs)
	for err := range errs {
		t.Errorf("merge failed: %v", err)
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker+1, n)
}
