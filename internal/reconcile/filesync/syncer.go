package filesync

import (
	"bufio"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/metrics"
	"github.com/mschirtzinger/acctsync/internal/parser"
	"github.com/mschirtzinger/acctsync/internal/source/accountsfile"
	"github.com/mschirtzinger/acctsync/internal/store"
)

// Store is the subset of store.Store used by the syncer.
type Store interface {
	Merge(ctx context.Context, email string, p account.Patch) (store.MergeResult, error)
	All(ctx context.Context) ([]*account.Account, error)
	Count(ctx context.Context) (int, error)
}

// AccountReader loads the primary source.
type AccountReader interface {
	ReadAccounts(path string) ([]accountsfile.Record, error)
}

// FileError records a file that could not be processed.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// ImportResult summarizes an import.
type ImportResult struct {
	// Primary is the number of primary source records merged.
	Primary int
	// ByStatus is the number of status file lines merged per status.
	ByStatus map[account.Status]int
	// Failed counts records whose merge returned an error.
	Failed int
	Errors []FileError
}

// Total returns the number of records merged.
func (r ImportResult) Total() int {
	n := r.Primary
	for _, c := range r.ByStatus {
		n += c
	}
	return n
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReader overrides the primary source reader.
func WithReader(r AccountReader) Option {
	return func(s *Syncer) {
		if r != nil {
			s.reader = r
		}
	}
}

// Syncer imports and exports the file layout.
type Syncer struct {
	store  Store
	layout Layout
	reader AccountReader
	logger *zap.Logger

	// written holds the content hash of every file the last Export wrote.
	writtenMu sync.Mutex
	written   map[string]contentSum
}

type contentSum [sha256.Size]byte

// New creates a Syncer over st using layout.
func New(st Store, layout Layout, opts ...Option) *Syncer {
	s := &Syncer{
		store:  st,
		layout: layout,
		reader:  accountsfile.Reader{},
		logger:  zap.NewNop(),
		written: make(map[string]contentSum),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout returns the file layout.
func (s *Syncer) Layout() Layout {
	return s.layout
}

// Import runs the primary source phase followed by the status file phase.
// The returned error is non-nil only when ctx is canceled; per-file failures
// are in ImportResult.Errors.
func (s *Syncer) Import(ctx context.Context) (ImportResult, error) {
	res := ImportResult{ByStatus: make(map[account.Status]int)}
	s.logger.Info("import started", zap.String("dir", s.layout.Dir))

	s.importPrimary(ctx, &res)
	if err := s.importStatusFiles(ctx, &res); err != nil {
		return res, err
	}

	s.logger.Info("import complete",
		zap.Int("primary", res.Primary),
		zap.Int("total", res.Total()),
		zap.Int("failed", res.Failed),
		zap.Int("file_errors", len(res.Errors)))
	return res, nil
}

// ImportIfEmpty runs Import only when the store holds no accounts. It
// reports whether an import ran.
func (s *Syncer) ImportIfEmpty(ctx context.Context) (ImportResult, bool, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return ImportResult{}, false, fmt.Errorf("count accounts: %w", err)
	}
	if n > 0 {
		s.logger.Debug("store not empty, skipping initial import", zap.Int("accounts", n))
		return ImportResult{}, false, nil
	}
	res, err := s.Import(ctx)
	return res, true, err
}

// ImportStatusFiles runs only the status file phase.
func (s *Syncer) ImportStatusFiles(ctx context.Context) (ImportResult, error) {
	res := ImportResult{ByStatus: make(map[account.Status]int)}
	err := s.importStatusFiles(ctx, &res)
	return res, err
}

// ImportStatusFile merges one status file after it changed on disk. Missing
// files are not an error. A file still holding exactly what this syncer's
// last Export wrote is skipped: the store already has that state or newer.
func (s *Syncer) ImportStatusFile(ctx context.Context, status account.Status) (int, error) {
	path := s.layout.StatusPath(status)
	if path == "" {
		return 0, fmt.Errorf("no file for status %q", status)
	}
	if s.ownWrite(path) {
		s.logger.Debug("status file unchanged since export, skipping", zap.String("path", path))
		return 0, nil
	}
	var res ImportResult
	return s.importFile(ctx, path, status, &res)
}

func (s *Syncer) remember(path string, sum contentSum) {
	s.writtenMu.Lock()
	defer s.writtenMu.Unlock()
	s.written[path] = sum
}

// ownWrite reports whether path holds exactly the content last exported.
func (s *Syncer) ownWrite(path string) bool {
	s.writtenMu.Lock()
	want, ok := s.written[path]
	s.writtenMu.Unlock()
	if !ok {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return sha256.Sum256(data) == want
}

func (s *Syncer) importPrimary(ctx context.Context, res *ImportResult) {
	path := s.layout.PrimaryPath()
	if path == "" {
		return
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("primary source missing, skipping", zap.String("path", path))
		return
	}

	recs, err := s.reader.ReadAccounts(path)
	if err != nil {
		s.logger.Warn("failed to read primary source", zap.String("path", path), zap.Error(err))
		res.Errors = append(res.Errors, FileError{Path: path, Err: err})
		return
	}

	for _, r := range recs {
		if ctx.Err() != nil {
			return
		}
		p := account.Patch{
			Password:      present(r.Password),
			RecoveryEmail: present(r.BackupEmail),
			SecretKey:     present(r.TwoFASecret),
			Status:        account.StatusPtr(account.StatusPendingCheck),
		}
		if _, err := s.store.Merge(ctx, r.Email, p); err != nil {
			res.Failed++
			metrics.ReconcileRecords.WithLabelValues("files", "failed").Inc()
			continue
		}
		res.Primary++
		metrics.ReconcileRecords.WithLabelValues("files", "merged").Inc()
	}
	s.logger.Info("primary source imported", zap.String("path", path), zap.Int("records", res.Primary))
}

func (s *Syncer) importStatusFiles(ctx context.Context, res *ImportResult) error {
	for _, st := range StatusOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.layout.StatusPath(st)
		n, err := s.importFile(ctx, path, st, res)
		if err != nil {
			s.logger.Warn("failed to import status file", zap.String("path", path), zap.Error(err))
			res.Errors = append(res.Errors, FileError{Path: path, Err: err})
			continue
		}
		if n > 0 {
			if res.ByStatus == nil {
				res.ByStatus = make(map[account.Status]int)
			}
			res.ByStatus[st] += n
			s.logger.Debug("status file imported", zap.String("path", path), zap.Stringer("status", st), zap.Int("lines", n))
		}
	}
	return nil
}

// importFile merges every line of path with status. Merge failures are
// counted in res and do not stop the file.
func (s *Syncer) importFile(ctx context.Context, path string, status account.Status, res *ImportResult) (int, error) {
	lines, err := readLines(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var merged int
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return merged, err
		}
		rec := parser.ParseLine(line)
		if rec.Empty() {
			metrics.ReconcileRecords.WithLabelValues("files", "skipped").Inc()
			continue
		}
		p := account.Patch{
			Password:         rec.Password,
			RecoveryEmail:    rec.RecoveryEmail,
			SecretKey:        rec.SecretKey,
			VerificationLink: rec.Link,
			Status:           account.StatusPtr(status),
		}
		if _, err := s.store.Merge(ctx, rec.EmailValue(), p); err != nil {
			res.Failed++
			metrics.ReconcileRecords.WithLabelValues("files", "failed").Inc()
			continue
		}
		merged++
		metrics.ReconcileRecords.WithLabelValues("files", "merged").Inc()
	}
	return merged, nil
}

// readLines returns the trimmed non-blank lines of path that do not start
// with '#'.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

func present(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
