package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddNamedMigrationContext("00002_ensure_browser_id.go", upEnsureBrowserID, downEnsureBrowserID)
}

// upEnsureBrowserID adds accounts.browser_id to databases created before the
// column existed. Tables that already have it are left alone, so the step is
// safe on databases that never saw goose.
func upEnsureBrowserID(ctx context.Context, tx *sql.Tx) error {
	ok, err := ColumnExists(ctx, tx, "accounts", "browser_id")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE accounts ADD COLUMN browser_id TEXT`); err != nil {
		return fmt.Errorf("failed to add browser_id column: %w", err)
	}
	return nil
}

// downEnsureBrowserID keeps the column: dropping it would lose data.
func downEnsureBrowserID(ctx context.Context, tx *sql.Tx) error {
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ColumnExists reports whether table has a column named column, using
// PRAGMA table_info.
func ColumnExists(ctx context.Context, q querier, table, column string) (bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to read table info for %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("failed to scan table info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
