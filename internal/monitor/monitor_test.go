package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/bitbrowser"
	"github.com/mschirtzinger/acctsync/internal/reconcile/filesync"
	"github.com/mschirtzinger/acctsync/internal/reconcile/inventory"
	"github.com/mschirtzinger/acctsync/internal/store"
)

type fixedStats map[account.Status]int

func (f fixedStats) CountByStatus(context.Context) (map[account.Status]int, error) {
	return f, nil
}

func startServer(t *testing.T, source StatsSource) (*Server, *Handler) {
	t.Helper()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "acct_test_total", Help: "test"}))

	srv := NewServer(Config{Addr: "127.0.0.1:0", Gatherer: reg})
	h := NewHandler(srv, source, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { require.NoError(t, srv.Stop()) })
	return srv, h
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool { return srv.ClientCount() >= 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType) Message {
	t.Helper()
	for i := 0; i < 20; i++ {
		if msg := readMessage(t, conn); msg.Type == typ {
			return msg
		}
	}
	t.Fatalf("no %s message received", typ)
	return Message{}
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(Config{})
	require.NoError(t, srv.Start())
	assert.NotEmpty(t, srv.Addr())
	require.NoError(t, srv.Stop())
}

func TestWebSocket_WelcomeStats(t *testing.T) {
	srv, h := startServer(t, fixedStats{account.StatusVerified: 2, account.StatusError: 1})
	require.NoError(t, h.RefreshStats(context.Background()))

	conn := dial(t, srv)
	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeStats, msg.Type)

	var stats StatsData
	require.NoError(t, json.Unmarshal(msg.Data, &stats))
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[string]int{"verified": 2, "error": 1}, stats.ByStatus)
}

func TestWebSocket_StoreEvents(t *testing.T) {
	srv, h := startServer(t, nil)
	conn := dial(t, srv)

	h.OnStoreEvent(store.Event{Kind: store.EventUpdated, Email: "a@b.com", Status: account.StatusVerified})

	msg := readUntil(t, conn, MessageTypeAccountUpdate)
	var data AccountUpdateData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, AccountUpdateData{Email: "a@b.com", Action: "updated", Status: "verified"}, data)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestWebSocket_ImportExport(t *testing.T) {
	srv, h := startServer(t, nil)
	conn := dial(t, srv)

	h.OnImportComplete(filesync.ImportResult{
		Primary:  2,
		ByStatus: map[account.Status]int{account.StatusVerified: 1},
	}, time.Second)
	msg := readUntil(t, conn, MessageTypeImportComplete)
	var imp ImportCompleteData
	require.NoError(t, json.Unmarshal(msg.Data, &imp))
	assert.Equal(t, 2, imp.Primary)
	assert.Equal(t, map[string]int{"verified": 1}, imp.ByStatus)

	h.OnExportComplete(filesync.ExportResult{Lines: map[string]int{"backup": 3}, Skipped: 1})
	msg = readUntil(t, conn, MessageTypeExportComplete)
	var exp ExportCompleteData
	require.NoError(t, json.Unmarshal(msg.Data, &exp))
	assert.Equal(t, 3, exp.Lines["backup"])
	assert.Equal(t, 1, exp.Skipped)
}

type emptyLister struct{}

func (emptyLister) ListProfiles(context.Context, int, int) ([]bitbrowser.Profile, error) {
	return nil, nil
}

func TestWatchTask(t *testing.T) {
	srv, h := startServer(t, nil)
	conn := dial(t, srv)

	task := inventory.New(emptyLister{}, nil).Start(context.Background())
	h.WatchTask(context.Background(), task, 10*time.Millisecond)

	msg := readUntil(t, conn, MessageTypeInventory)
	var data InventoryData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, task.ID(), data.TaskID)
}

func TestHealthMetricsStats(t *testing.T) {
	srv, h := startServer(t, fixedStats{account.StatusPending: 4})

	get := func(path string) (int, string) {
		resp, err := http.Get("http://" + srv.Addr() + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, body)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "acct_test_total")

	code, _ = get("/stats")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	require.NoError(t, h.RefreshStats(context.Background()))
	code, body = get("/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"total":4,"by_status":{"pending":4}}`, body)
}
