package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/reconcile/filesync"
	"github.com/mschirtzinger/acctsync/internal/storage/db"
	"github.com/mschirtzinger/acctsync/internal/store"
)

func setupSyncer(t *testing.T) (*store.Store, *filesync.Syncer, filesync.Layout) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.InitSchema(context.Background()))

	st := store.New(database.RawDB())
	layout := filesync.DefaultLayout(t.TempDir())
	return st, filesync.New(st, layout), layout
}

func statusOf(t *testing.T, st *store.Store, email string) account.Status {
	t.Helper()
	a, err := st.Get(context.Background(), email)
	require.NoError(t, err)
	return a.Status
}

func fastConfig(layout filesync.Layout) Config {
	cfg := DefaultConfig(layout.StatusPaths())
	cfg.DebounceInterval = 50 * time.Millisecond
	cfg.StatsInterval = 0
	return cfg
}

func TestDaemon_StartKeepsNewerStoreState(t *testing.T) {
	st, syncer, layout := setupSyncer(t)
	ctx := context.Background()

	_, err := st.UpdateStatus(ctx, "a@b.com", account.StatusVerified, nil)
	require.NoError(t, err)
	_, err = syncer.Export(ctx)
	require.NoError(t, err)
	_, err = st.UpdateStatus(ctx, "a@b.com", account.StatusSubscribed, nil)
	require.NoError(t, err)

	stop := startDaemon(t, syncer, fastConfig(layout))
	time.Sleep(200 * time.Millisecond)
	stop()

	assert.Equal(t, account.StatusSubscribed, statusOf(t, st, "a@b.com"),
		"a stale status file must not revert the store on start")
}

func TestDaemon_FreshStoreRunsBulkImport(t *testing.T) {
	st, syncer, layout := setupSyncer(t)
	require.NoError(t, os.WriteFile(layout.PrimaryPath(), []byte("p@b.com----pw\n"), 0o644))
	require.NoError(t, os.WriteFile(layout.StatusPath(account.StatusVerified), []byte("a@b.com\n"), 0o644))

	stop := startDaemon(t, syncer, fastConfig(layout))
	defer stop()

	require.Eventually(t, func() bool {
		n, err := st.Count(context.Background())
		return err == nil && n == 2
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, account.StatusPendingCheck, statusOf(t, st, "p@b.com"))
	assert.Equal(t, account.StatusVerified, statusOf(t, st, "a@b.com"))

	_, ran, err := syncer.ImportIfEmpty(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestDaemon_IgnoresOwnExports(t *testing.T) {
	st, syncer, layout := setupSyncer(t)
	ctx := context.Background()

	_, err := st.UpdateStatus(ctx, "a@b.com", account.StatusSubscribed, nil)
	require.NoError(t, err)

	stop := startDaemon(t, syncer, fastConfig(layout))
	defer stop()

	// An operator edit is picked up once the watcher is running.
	verified := layout.StatusPath(account.StatusVerified)
	require.Eventually(t, func() bool {
		_ = os.WriteFile(verified, []byte("c@d.com\n"), 0o644)
		_, err := st.Get(ctx, "c@d.com")
		return err == nil
	}, 5*time.Second, 100*time.Millisecond)

	// An export followed by a newer write: the rewritten files must not
	// take the account back to the exported status.
	_, err = syncer.Export(ctx)
	require.NoError(t, err)
	_, err = st.UpdateStatus(ctx, "a@b.com", account.StatusError, nil)
	require.NoError(t, err)

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, account.StatusError, statusOf(t, st, "a@b.com"))
	assert.Equal(t, account.StatusVerified, statusOf(t, st, "c@d.com"))
}
