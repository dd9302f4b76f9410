package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/acctsync/internal/account"
)

func statusFiles(dir string) map[string]account.Status {
	return map[string]account.Status{
		filepath.Join(dir, "verified.txt"): account.StatusVerified,
		filepath.Join(dir, "error.txt"):    account.StatusError,
	}
}

func TestFileWatcher_StartStop(t *testing.T) {
	fw, err := NewFileWatcher(statusFiles(t.TempDir()))
	require.NoError(t, err)
	assert.False(t, fw.IsRunning())

	require.NoError(t, fw.Start())
	assert.True(t, fw.IsRunning())
	assert.Error(t, fw.Start(), "second Start must fail")

	require.NoError(t, fw.Stop())
	assert.False(t, fw.IsRunning())
	require.NoError(t, fw.Stop())
}

func TestFileWatcher_StopWithoutStart(t *testing.T) {
	fw, err := NewFileWatcher(statusFiles(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, fw.Stop())

	_, ok := <-fw.Events()
	assert.False(t, ok, "events channel must be closed")
}

func TestFileWatcher_MissingDirectory(t *testing.T) {
	fw, err := NewFileWatcher(statusFiles(filepath.Join(t.TempDir(), "nope")))
	require.NoError(t, err)
	defer fw.Stop()

	assert.Error(t, fw.Start())
}

func TestFileWatcher_StatusFileEvents(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWatcher(statusFiles(dir))
	require.NoError(t, err)
	defer fw.Stop()
	require.NoError(t, fw.Start())

	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "verified.txt"), []byte("a@b.com\n"), 0o644))

	select {
	case ev := <-fw.Events():
		assert.Equal(t, account.StatusVerified, ev.Status)
		assert.Equal(t, "verified.txt", filepath.Base(ev.Path))
		assert.Contains(t, []EventOp{OpCreate, OpModify}, ev.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for status file event")
	}
}

func TestFileWatcher_RenameIntoPlace(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWatcher(statusFiles(dir))
	require.NoError(t, err)
	defer fw.Stop()
	require.NoError(t, fw.Start())

	tmp := filepath.Join(dir, ".error.txt.123.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("a@b.com\n"), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "error.txt")))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-fw.Events():
			require.Equal(t, account.StatusError, ev.Status, "temp file must not produce events")
			if ev.Op == OpCreate {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for create event")
		}
	}
}

func TestEventOp_String(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "modify", OpModify.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "unknown", EventOp(42).String())
}
