package filesync

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/metrics"
	"github.com/mschirtzinger/acctsync/internal/parser"
)

// backupCategory labels the backup file in ExportResult and metrics.
const backupCategory = "backup"

// ExportResult summarizes an export.
type ExportResult struct {
	// Lines is the number of lines written per category: a status name or
	// "backup".
	Lines map[string]int
	// Skipped counts accounts in transient states.
	Skipped int
	Errors  []FileError
}

// Export rewrites every status file and the backup file from a snapshot of
// the store. The returned error is non-nil only when the snapshot could not
// be taken; per-file write failures are in ExportResult.Errors.
func (s *Syncer) Export(ctx context.Context) (ExportResult, error) {
	accounts, err := s.store.All(ctx)
	if err != nil {
		return ExportResult{}, fmt.Errorf("snapshot accounts: %w", err)
	}

	res := ExportResult{Lines: make(map[string]int)}
	byStatus := make(map[account.Status][]string, len(StatusOrder))
	var backup []string

	for _, a := range accounts {
		if !a.Status.Exportable() {
			if a.Status.Transient() {
				res.Skipped++
			}
			continue
		}
		line := IdentityLine(a)
		switch a.Status {
		case account.StatusLinkReady:
			if !account.Blank(a.VerificationLink) {
				byStatus[a.Status] = append(byStatus[a.Status], *a.VerificationLink+parser.Separator+line)
			}
			backup = append(backup, line)
		default:
			if s.layout.StatusPath(a.Status) != "" {
				byStatus[a.Status] = append(byStatus[a.Status], line)
			}
		}
	}

	write := func(category, path string, lines []string) {
		if path == "" {
			return
		}
		sum, err := writeLinesAtomic(path, lines)
		if err != nil {
			s.logger.Warn("failed to write export file", zap.String("path", path), zap.Error(err))
			res.Errors = append(res.Errors, FileError{Path: path, Err: err})
			return
		}
		s.remember(path, sum)
		res.Lines[category] = len(lines)
		metrics.ExportLines.WithLabelValues(category).Add(float64(len(lines)))
		s.logger.Debug("export file written", zap.String("path", path), zap.Int("lines", len(lines)))
	}

	for _, st := range StatusOrder {
		write(string(st), s.layout.StatusPath(st), byStatus[st])
	}
	write(backupCategory, s.layout.BackupPath(), backup)

	s.logger.Info("export complete",
		zap.Int("accounts", len(accounts)),
		zap.Int("skipped", res.Skipped),
		zap.Int("file_errors", len(res.Errors)))
	return res, nil
}

// IdentityLine renders the email followed by every non-empty credential
// field, joined by parser.Separator.
func IdentityLine(a *account.Account) string {
	parts := []string{a.Email}
	for _, v := range []*string{a.Password, a.RecoveryEmail, a.SecretKey} {
		if !account.Blank(v) {
			parts = append(parts, *v)
		}
	}
	return strings.Join(parts, parser.Separator)
}

// writeLinesAtomic replaces path with lines, one per line, via a temporary
// file in the same directory. It returns the SHA-256 of the written content.
func writeLinesAtomic(path string, lines []string) (contentSum, error) {
	var sum contentSum
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return sum, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return sum, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	h := sha256.New()
	w := bufio.NewWriter(io.MultiWriter(tmp, h))
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			tmp.Close()
			_ = os.Remove(tmpPath)
			return sum, fmt.Errorf("write temp file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return sum, fmt.Errorf("flush temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return sum, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return sum, fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return sum, fmt.Errorf("rename temp file: %w", err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
