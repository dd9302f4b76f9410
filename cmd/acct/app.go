package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/acctsync/internal/reconcile/filesync"
	"github.com/mschirtzinger/acctsync/internal/storage/db"
	"github.com/mschirtzinger/acctsync/internal/store"
)

// app holds the opened database and the services built on it.
type app struct {
	db     *db.DB
	store  *store.Store
	syncer *filesync.Syncer

	// initial is the bulk import run by openApp, if imported is set.
	initial  filesync.ImportResult
	imported bool
	elapsed  time.Duration
}

// openApp opens the database, brings the schema up to date, wires the store
// and file syncer, and runs the one-time bulk import when the store is
// empty.
func openApp(ctx context.Context, opts ...store.Option) (*app, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := database.InitSchema(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	st := store.New(database.RawDB(), append([]store.Option{store.WithLogger(logger.Named("store"))}, opts...)...)
	syncer := filesync.New(st, cfg.Layout(), filesync.WithLogger(logger.Named("filesync")))
	a := &app{db: database, store: st, syncer: syncer}

	start := time.Now()
	res, imported, err := syncer.ImportIfEmpty(ctx)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("initial import: %w", err)
	}
	if imported {
		a.initial, a.imported, a.elapsed = res, true, time.Since(start)
		logger.Info("initial import complete",
			zap.Int("records", res.Total()),
			zap.Int("failed", res.Failed),
			zap.Int("file_errors", len(res.Errors)))
	}
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
