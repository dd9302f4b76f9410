// Package migrations embeds the accounts schema migrations run by goose.
//
// SQL migrations live next to this file. Migrations that need to inspect
// the live schema before acting are registered as Go migrations.
package migrations

import "embed"

// FS holds the embedded SQL migrations.
//
//go:embed *.sql
var FS embed.FS
