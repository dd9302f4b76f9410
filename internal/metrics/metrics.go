// Package metrics declares the Prometheus collectors shared by the store and
// the reconcilers. Collectors register with the default registry on import
// and are served by the monitor server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperations counts store operations partitioned by operation and
	// outcome (inserted, updated, unchanged, deleted, read, error).
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acct_store_operations_total",
			Help: "Account store operations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	// ReconcileRecords counts records handled by the reconcilers, partitioned
	// by source (files, inventory) and result (inserted, updated, skipped, failed).
	ReconcileRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acct_reconcile_records_total",
			Help: "Records processed by reconciliation, by source and result",
		},
		[]string{"source", "result"},
	)

	// InventoryRuns counts finished inventory runs by outcome (ok, aborted, canceled).
	InventoryRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acct_inventory_runs_total",
			Help: "Inventory reconciliation runs by outcome",
		},
		[]string{"outcome"},
	)

	// InventoryPages counts inventory pages fetched successfully.
	InventoryPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acct_inventory_pages_total",
			Help: "Inventory pages fetched",
		},
	)

	// InventoryRunning is 1 per reconciliation currently in flight.
	InventoryRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acct_inventory_running",
			Help: "Inventory reconciliations currently running",
		},
	)

	// ExportLines counts lines written by exports, by file category.
	ExportLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acct_export_lines_total",
			Help: "Lines written to status files by exports",
		},
		[]string{"category"},
	)

	// Accounts is the last observed number of accounts per status.
	Accounts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "acct_accounts",
			Help: "Accounts per status at the last stats refresh",
		},
		[]string{"status"},
	)
)
