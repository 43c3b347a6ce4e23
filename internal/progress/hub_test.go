package progress

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlinterp/internal/interpret"
)

type countGauge struct{ n atomic.Int64 }

func (g *countGauge) Inc() { g.n.Add(1) }
func (g *countGauge) Dec() { g.n.Add(-1) }

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHub_ReplayAndBroadcast(t *testing.T) {
	gauge := &countGauge{}
	hub := NewHub("run-1", gauge)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Publish(interpret.Progress{Analysis: interpret.AnalysisImportance, Unit: "x", Done: 1, Total: 3, Value: 0.5})

	conn := dial(t, srv.URL)
	ev := readEvent(t, conn)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, interpret.AnalysisImportance, ev.Analysis)
	assert.Equal(t, 1, ev.Done)
	assert.Equal(t, 1, hub.Clients())
	assert.EqualValues(t, 1, gauge.n.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// The queued event is delivered again once Run starts.
	ev = readEvent(t, conn)
	assert.Equal(t, 1, ev.Done)

	hub.Publish(interpret.Progress{Analysis: interpret.AnalysisImportance, Unit: "y", Done: 2, Total: 3, Elapsed: 1500 * time.Millisecond})
	ev = readEvent(t, conn)
	assert.Equal(t, "y", ev.Unit)
	assert.Equal(t, 2, ev.Done)
	assert.InDelta(t, 1.5, ev.ElapsedSeconds, 1e-9)
}

func TestHub_Snapshot(t *testing.T) {
	hub := NewHub("", nil)
	hub.Publish(interpret.Progress{Analysis: interpret.AnalysisPartial, Done: 1, Total: 2})
	hub.Publish(interpret.Progress{Analysis: interpret.AnalysisImportance, Done: 1, Total: 2})
	hub.Publish(interpret.Progress{Analysis: interpret.AnalysisPartial, Done: 2, Total: 2})

	snap := hub.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, interpret.AnalysisPartial, snap[0].Analysis)
	assert.Equal(t, interpret.AnalysisImportance, snap[1].Analysis)
	assert.Equal(t, 2, snap[0].Done)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub("", nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < queueDepth*2; i++ {
			hub.Publish(interpret.Progress{Analysis: interpret.AnalysisInteraction, Done: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked with no consumer")
	}
	assert.Equal(t, queueDepth*2-1, hub.Snapshot()[0].Done)
}

func TestHub_PublishNeverBlocksOnStalledClient(t *testing.T) {
	hub := NewHub("", nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Publish(interpret.Progress{Analysis: interpret.AnalysisInteraction})
	conn := dial(t, srv.URL)
	readEvent(t, conn)
	require.Len(t, hub.subscribers(), 1)

	// Hold the subscriber's write lock so every broadcast to it stalls.
	stalled := hub.subscribers()[0]
	stalled.mu.Lock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueDepth*2; i++ {
			hub.Publish(interpret.Progress{Analysis: interpret.AnalysisInteraction, Done: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked behind a stalled subscriber")
	}
	assert.Equal(t, queueDepth*2-1, hub.Snapshot()[0].Done)
	assert.Equal(t, 1, hub.Clients())

	stalled.mu.Unlock()
	ev := readEvent(t, conn)
	assert.Equal(t, interpret.AnalysisInteraction, ev.Analysis)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	gauge := &countGauge{}
	hub := NewHub("run-2", gauge)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Publish(interpret.Progress{Analysis: interpret.AnalysisInteraction})
	conn := dial(t, srv.URL)
	readEvent(t, conn)

	stopped := make(chan struct{})
	go func() {
		hub.Run(context.Background())
		close(stopped)
	}()
	hub.Close()
	hub.Close()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 0, hub.Clients())
	assert.EqualValues(t, 0, gauge.n.Load())

	// Subscribers arriving after Close are turned away.
	late := dial(t, srv.URL)
	late.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := late.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Clients())
}

func TestServer_Routes(t *testing.T) {
	hub := NewHub("run-3", nil)
	hub.Publish(interpret.Progress{Analysis: interpret.AnalysisImportance, Done: 4, Total: 4})

	reg := prometheus.NewRegistry()
	calls := prometheus.NewCounter(prometheus.CounterOpts{Name: "model_predict_calls_total", Help: "calls"})
	reg.MustRegister(calls)
	calls.Add(3)

	s := NewServer(0, hub, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := httptest.NewServer(s.server.Handler)
	defer srv.Close()

	get := func(path string) (*http.Response, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, string(body)
	}

	resp, body := get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)

	resp, body = get("/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "model_predict_calls_total 3")

	resp, body = get("/api/progress")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var events []Event
	require.NoError(t, json.Unmarshal([]byte(body), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "run-3", events[0].RunID)
	assert.Equal(t, 4, events[0].Done)

	resp, _ = get("/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn := dial(t, srv.URL+"/progress")
	ev := readEvent(t, conn)
	assert.Equal(t, interpret.AnalysisImportance, ev.Analysis)
}

func TestServer_StartStop(t *testing.T) {
	hub := NewHub("", nil)
	s := NewServer(0, hub, nil)
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
