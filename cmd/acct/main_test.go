package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/reconcile/filesync"
)

// execute runs the CLI against dir and returns its stdout.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--data-dir", dir, "--log-level", "error"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags clears flag state left over from a previous Execute.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func listJSON(t *testing.T, dir string, args ...string) []*account.Account {
	t.Helper()
	out, err := execute(t, dir, append([]string{"list", "--json"}, args...)...)
	require.NoError(t, err)

	var accounts []*account.Account
	require.NoError(t, json.Unmarshal([]byte(out), &accounts), out)
	return accounts
}

func TestInit_ImportsWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, filesync.DefaultPrimary, "a@b.com----pw1\nc@d.com----pw2\n")
	writeFile(t, dir, filesync.DefaultVerified, "a@b.com\n")

	out, err := execute(t, dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 3 records")

	out, err = execute(t, dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Database ready: 2 accounts")

	accounts := listJSON(t, dir)
	require.Len(t, accounts, 2)
	assert.Equal(t, "a@b.com", accounts[0].Email)
	assert.Equal(t, account.StatusVerified, accounts[0].Status)
	assert.Equal(t, account.StatusPendingCheck, accounts[1].Status)

	verified := listJSON(t, dir, "--status", "verified")
	require.Len(t, verified, 1)
	assert.Equal(t, "a@b.com", verified[0].Email)
}

func TestSetShowDelete(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "set", "a@b.com", "--password", "pw", "--browser", "b1")
	require.NoError(t, err)
	assert.Contains(t, out, "Created a@b.com")

	out, err = execute(t, dir, "set", "a@b.com", "--status", "error", "--message", "timeout")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated a@b.com")

	out, err = execute(t, dir, "set", "a@b.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to change")

	accounts := listJSON(t, dir)
	require.Len(t, accounts, 1)
	a := accounts[0]
	assert.Equal(t, account.StatusError, a.Status)
	assert.Equal(t, "pw", account.Value(a.Password), "unsupplied flags keep stored values")
	assert.Equal(t, "b1", account.Value(a.BrowserID))
	assert.Equal(t, "timeout", account.Value(a.Message))

	out, err = execute(t, dir, "show", "a@b.com", "--reveal")
	require.NoError(t, err)
	assert.Contains(t, out, "timeout")
	assert.Contains(t, out, "pw")

	_, err = execute(t, dir, "set", "a@b.com", "--status", "bogus")
	require.Error(t, err)

	out, err = execute(t, dir, "delete", "a@b.com", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted a@b.com")

	_, err = execute(t, dir, "show", "a@b.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestList_MissingBrowser(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "set", "a@b.com", "--browser", "b1")
	require.NoError(t, err)
	_, err = execute(t, dir, "set", "c@d.com", "--password", "pw")
	require.NoError(t, err)

	accounts := listJSON(t, dir, "--missing-browser")
	require.Len(t, accounts, 1)
	assert.Equal(t, "c@d.com", accounts[0].Email)

	_, err = execute(t, dir, "list", "--status", "verified", "--missing-browser")
	require.Error(t, err)
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "set", "a@b.com", "--password", "pw", "--status", "subscribed")
	require.NoError(t, err)
	_, err = execute(t, dir, "set", "c@d.com", "--status", "running")
	require.NoError(t, err)

	out, err := execute(t, dir, "export")
	require.NoError(t, err)
	assert.Contains(t, out, "Export complete")
	assert.Contains(t, out, "1 accounts in a working state skipped")

	data, err := os.ReadFile(filepath.Join(dir, filesync.DefaultSubscribed))
	require.NoError(t, err)
	assert.Equal(t, "a@b.com----pw", strings.TrimSpace(string(data)))
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "set", "a@b.com", "--status", "verified")
	require.NoError(t, err)

	out, err := execute(t, dir, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "verified")
	assert.Contains(t, out, "total")
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local)

	got, err := parseSince("2024-05-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local), got)

	got, err = parseSince("3 days ago", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -3).Day(), got.Day())

	_, err = parseSince("whenever", now)
	require.Error(t, err)
}

func TestPatchFromFlags_AskPassword(t *testing.T) {
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(int) ([]byte, error) { return []byte("s3cret"), nil }

	resetFlags(setCmd)
	require.NoError(t, setCmd.Flags().Set("ask-password", "true"))
	require.NoError(t, setCmd.Flags().Set("link", ""))
	setCmd.SetErr(&bytes.Buffer{})

	p, err := patchFromFlags(setCmd)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", account.Value(p.Password))
	require.NotNil(t, p.VerificationLink, "an explicit empty value is supplied")
	assert.Equal(t, "", *p.VerificationLink)
	assert.Nil(t, p.SecretKey)
	assert.Nil(t, p.Status)

	require.NoError(t, setCmd.Flags().Set("password", "x"))
	_, err = patchFromFlags(setCmd)
	require.Error(t, err)
	resetFlags(setCmd)
}

func TestFirstCommandRunsBulkImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, filesync.DefaultPrimary, "p@b.com----pw\nq@b.com----pw2\n")

	_, err := execute(t, dir, "set", "new@b.com", "--status", "verified")
	require.NoError(t, err)

	accounts := listJSON(t, dir)
	require.Len(t, accounts, 3)
	assert.Equal(t, "new@b.com", accounts[0].Email)
	assert.Equal(t, account.StatusVerified, accounts[0].Status)
	assert.Equal(t, "p@b.com", accounts[1].Email)
	assert.Equal(t, account.StatusPendingCheck, accounts[1].Status)
	assert.Equal(t, "pw", account.Value(accounts[1].Password))

	out, err := execute(t, dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Database ready: 3 accounts")
}

func TestStartLeavesNewerStoreState(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, filesync.DefaultVerified, "a@b.com\n")

	_, err := execute(t, dir, "init")
	require.NoError(t, err)
	_, err = execute(t, dir, "set", "a@b.com", "--status", "subscribed")
	require.NoError(t, err)

	// The stale verified file is not re-read on later starts.
	accounts := listJSON(t, dir)
	require.Len(t, accounts, 1)
	assert.Equal(t, account.StatusSubscribed, accounts[0].Status)
}
