// Package daemon keeps the store in step with status files edited on disk.
//
// The daemon consists of two parts:
//
//   - FileWatcher: fsnotify-based monitoring of the directories that hold
//     the status files, reporting changes to those files only
//   - Daemon: runs the bulk import once if the store is empty, then
//     re-imports a file after it has been quiet for the debounce interval
//
// Deleting a status file does not delete accounts. Files rewritten by the
// syncer's own Export are recognized by content hash and not re-imported,
// so a status advanced after the export snapshot is never reverted.
//
// Example:
//
//	syncer := filesync.New(st, layout)
//	d, err := daemon.New(syncer, st, daemon.DefaultConfig(layout.StatusPaths()))
//	if err != nil {
//	    return err
//	}
//	return d.Run(ctx)
package daemon
