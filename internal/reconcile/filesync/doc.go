// Package filesync reconciles the account store with flat text files.
//
// # Files
//
// One primary source file holds newly acquired credentials. Five status
// files each hold the accounts in one lifecycle state, one line per account:
//
//	email----password----recovery_email----secret_key
//
// Empty fields are omitted, so a line carries only what is known. Lines of the
// link_ready file are prefixed with the verification link:
//
//	https://example.com/verify/abc----email----password
//
// Every link_ready account is also written to a backup file, with or without
// a link. The backup file is never imported.
//
// # Import
//
// Import reads the primary source first and merges each record with status
// pending_check. It then reads the status files in a fixed order and merges
// each line with the file's status, so the status files win. Lines are
// parsed by parser.ParseLine; fields a line does not carry are left
// untouched in the store.
//
// A missing file is skipped. A file that fails to read is logged and reported
// in the result while the remaining files are processed.
//
// # Export
//
// Export takes a snapshot of the store and rewrites every status file and the
// backup file from scratch. Accounts in running or processing are never
// written. Each file is written to a temporary sibling and renamed into
// place.
package filesync
