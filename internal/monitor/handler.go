package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/reconcile/filesync"
	"github.com/mschirtzinger/acctsync/internal/reconcile/inventory"
	"github.com/mschirtzinger/acctsync/internal/store"
)

// StatsSource reports account counts per status. *store.Store implements it.
type StatsSource interface {
	CountByStatus(ctx context.Context) (map[account.Status]int, error)
}

// AccountUpdateData describes one store change.
type AccountUpdateData struct {
	Email  string `json:"email"`
	Action string `json:"action"`
	Status string `json:"status,omitempty"`
}

// StatsData holds account counts.
type StatsData struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// ImportCompleteData summarizes a file import.
type ImportCompleteData struct {
	Primary  int            `json:"primary"`
	ByStatus map[string]int `json:"by_status"`
	Failed   int            `json:"failed"`
	Errors   []string       `json:"errors,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// ExportCompleteData summarizes an export.
type ExportCompleteData struct {
	Lines   map[string]int `json:"lines"`
	Skipped int            `json:"skipped"`
	Errors  []string       `json:"errors,omitempty"`
}

// InventoryData reports the progress of one reconciliation task.
type InventoryData struct {
	TaskID  string           `json:"task_id"`
	Running bool             `json:"running"`
	Totals  inventory.Totals `json:"totals"`
	Error   string           `json:"error,omitempty"`
	Elapsed time.Duration    `json:"elapsed"`
}

// Handler turns store and reconciler events into feed messages.
type Handler struct {
	server *Server
	source StatsSource
	logger *zap.Logger

	mu         sync.Mutex
	stats      StatsData
	statsReady bool
}

// NewHandler connects a handler to server. It must be called before
// server.Start. source may be nil, in which case no stats are published.
func NewHandler(server *Server, source StatsSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		server: server,
		source: source,
		logger: logger,
		stats:  StatsData{ByStatus: make(map[string]int)},
	}
	server.welcome = h.statsMessage
	return h
}

// OnStoreEvent broadcasts a store change. Its signature matches
// store.Observer.
func (h *Handler) OnStoreEvent(ev store.Event) {
	h.broadcast(MessageTypeAccountUpdate, AccountUpdateData{
		Email:  ev.Email,
		Action: string(ev.Kind),
		Status: string(ev.Status),
	}, ev.At)
}

// OnImportComplete broadcasts an import summary.
func (h *Handler) OnImportComplete(res filesync.ImportResult, d time.Duration) {
	data := ImportCompleteData{
		Primary:  res.Primary,
		ByStatus: make(map[string]int, len(res.ByStatus)),
		Failed:   res.Failed,
		Duration: d,
	}
	for st, n := range res.ByStatus {
		data.ByStatus[string(st)] = n
	}
	for _, e := range res.Errors {
		data.Errors = append(data.Errors, e.Error())
	}
	h.broadcast(MessageTypeImportComplete, data, time.Time{})
}

// OnExportComplete broadcasts an export summary.
func (h *Handler) OnExportComplete(res filesync.ExportResult) {
	data := ExportCompleteData{Lines: res.Lines, Skipped: res.Skipped}
	for _, e := range res.Errors {
		data.Errors = append(data.Errors, e.Error())
	}
	h.broadcast(MessageTypeExportComplete, data, time.Time{})
}

// WatchTask broadcasts the progress of task every interval and once more
// when it ends. It returns when the task ends or ctx is canceled.
func (h *Handler) WatchTask(ctx context.Context, task *inventory.Task, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-task.Done():
			h.broadcast(MessageTypeInventory, inventoryData(task), time.Time{})
			return
		case <-ticker.C:
			h.broadcast(MessageTypeInventory, inventoryData(task), time.Time{})
		}
	}
}

// RefreshStats recomputes the counts and broadcasts them.
func (h *Handler) RefreshStats(ctx context.Context) error {
	if h.source == nil {
		return nil
	}
	counts, err := h.source.CountByStatus(ctx)
	if err != nil {
		return err
	}

	stats := StatsData{ByStatus: make(map[string]int, len(counts))}
	for st, n := range counts {
		stats.ByStatus[string(st)] = n
		stats.Total += n
	}

	h.mu.Lock()
	h.stats = stats
	h.statsReady = true
	h.mu.Unlock()

	h.broadcast(MessageTypeStats, stats, time.Time{})
	return nil
}

// RunStats refreshes stats every interval until ctx is canceled.
func (h *Handler) RunStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	if err := h.RefreshStats(ctx); err != nil {
		h.logger.Warn("failed to refresh stats", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.RefreshStats(ctx); err != nil && ctx.Err() == nil {
				h.logger.Warn("failed to refresh stats", zap.Error(err))
			}
		}
	}
}

// Stats returns the last computed counts.
func (h *Handler) Stats() (StatsData, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats, h.statsReady
}

func (h *Handler) statsMessage() (Message, bool) {
	stats, ok := h.Stats()
	if !ok {
		return Message{}, false
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return Message{}, false
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}, true
}

func (h *Handler) broadcast(typ MessageType, v any, at time.Time) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("failed to marshal message", zap.String("type", string(typ)), zap.Error(err))
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: at, Data: data})
}

func inventoryData(task *inventory.Task) InventoryData {
	d := InventoryData{
		TaskID:  task.ID(),
		Running: task.Running(),
		Totals:  task.Totals(),
		Elapsed: task.Elapsed(),
	}
	if err := task.Err(); err != nil {
		d.Error = err.Error()
	}
	return d
}
