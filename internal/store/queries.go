package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/dbx"
)

// timestampLayout sorts lexically and matches SQLite's CURRENT_TIMESTAMP
// format with added microseconds.
const timestampLayout = "2006-01-02 15:04:05.000000"

var parseLayouts = []string{
	timestampLayout,
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

const selectColumns = `email, password, recovery_email, secret_key, verification_link,
	browser_id, status, message, updated_at`

// Queries runs statements against one transaction. It takes no locks: it is
// only handed out by Store.Tx and Store's own operations, which already hold
// the store mutex.
type Queries struct {
	tx    dbx.DBTX
	stamp string
}

// Get returns the account or ErrNotFound.
func (q *Queries) Get(ctx context.Context, email string) (*account.Account, error) {
	row := q.tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", email, err)
	}
	return a, nil
}

// Insert creates a new row. Nil fields are stored as NULL; a nil status
// becomes pending.
func (q *Queries) Insert(ctx context.Context, email string, p account.Patch) error {
	status := account.StatusPending
	if p.Status != nil {
		status = *p.Status
	}

	_, err := q.tx.ExecContext(ctx, `
	INSERT INTO accounts (
		email, password, recovery_email, secret_key, verification_link,
		browser_id, status, message, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		email,
		nullable(p.Password),
		nullable(p.RecoveryEmail),
		nullable(p.SecretKey),
		nullable(p.VerificationLink),
		nullable(p.BrowserID),
		string(status),
		nullable(p.Message),
		q.stamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account %s: %w", email, err)
	}
	return nil
}

// Update writes the supplied fields of p and refreshes updated_at.
// It reports false when p supplies nothing.
func (q *Queries) Update(ctx context.Context, email string, p account.Patch) (bool, error) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	add("password", p.Password)
	add("recovery_email", p.RecoveryEmail)
	add("secret_key", p.SecretKey)
	add("verification_link", p.VerificationLink)
	add("browser_id", p.BrowserID)
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	add("message", p.Message)

	if len(sets) == 0 {
		return false, nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, q.stamp, email)

	query := `UPDATE accounts SET ` + strings.Join(sets, ", ") + ` WHERE email = ?`
	if _, err := q.tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("failed to update account %s: %w", email, err)
	}
	return true, nil
}

// Delete removes the row; a missing row is not an error.
func (q *Queries) Delete(ctx context.Context, email string) (bool, error) {
	res, err := q.tx.ExecContext(ctx, `DELETE FROM accounts WHERE email = ?`, email)
	if err != nil {
		return false, fmt.Errorf("failed to delete account %s: %w", email, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// List returns the accounts matching where (may be empty), ordered by email.
func (q *Queries) List(ctx context.Context, where string, args ...any) ([]*account.Account, error) {
	query := `SELECT ` + selectColumns + ` FROM accounts`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY email`

	rows, err := q.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []*account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return out, nil
}

// Count returns the number of rows.
func (q *Queries) Count(ctx context.Context) (int, error) {
	var n int
	if err := q.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// CountByStatus returns the number of rows per status.
func (q *Queries) CountByStatus(ctx context.Context) (map[account.Status]int, error) {
	rows, err := q.tx.QueryContext(ctx, `SELECT COALESCE(status, ''), COUNT(*) FROM accounts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count accounts by status: %w", err)
	}
	defer rows.Close()

	out := make(map[account.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		out[account.Status(status)] = n
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*account.Account, error) {
	var (
		a                                   account.Account
		pw, rec, secret, link, browser, msg sql.NullString
		status, updatedAt                   sql.NullString
	)
	if err := s.Scan(&a.Email, &pw, &rec, &secret, &link, &browser, &status, &msg, &updatedAt); err != nil {
		return nil, err
	}

	a.Password = fromNull(pw)
	a.RecoveryEmail = fromNull(rec)
	a.SecretKey = fromNull(secret)
	a.VerificationLink = fromNull(link)
	a.BrowserID = fromNull(browser)
	a.Message = fromNull(msg)
	a.Status = account.StatusPending
	if status.Valid && status.String != "" {
		a.Status = account.Status(status.String)
	}
	if updatedAt.Valid {
		a.UpdatedAt = parseTimestamp(updatedAt.String)
	}
	return &a, nil
}

func parseTimestamp(v string) time.Time {
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
