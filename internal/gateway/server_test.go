package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"botdash/internal/models"
	"botdash/internal/stream"
	"botdash/internal/transport"
)

func startServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := startHub(t, NewMemoryJournal(64))
	srv := NewServer(hub, NewOriginChecker([]string{"http://dash.local"}), 50*time.Millisecond, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", srv.ServeSSE)
	mux.HandleFunc("/stream/ws", srv.ServeWS)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return hub, ts
}

// readSSE читает кадры ответа в канал
func readSSE(t *testing.T, ctx context.Context, url, lastID string) <-chan stream.Frame {
	t.Helper()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	frames := make(chan stream.Frame, 64)
	go func() {
		defer resp.Body.Close()
		transport.ParseEventStream(resp.Body, func(f stream.Frame) { frames <- f })
	}()
	return frames
}

func nextFrame(t *testing.T, frames <-chan stream.Frame) stream.Frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return stream.Frame{}
	}
}

func TestServer_SSEReplayThenLive(t *testing.T) {
	hub, ts := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, _ := hub.Publish(ctx, models.EventBotStatus, models.BotStatus{BotID: "b1", Status: "running"}, "api")
	second, _ := hub.Publish(ctx, models.EventOrderUpdate, models.OrderUpdate{OrderID: "o1"}, "api")

	frames := readSSE(t, ctx, ts.URL+"/stream?mode=paper", first.ID)
	waitFor(t, func() bool { return hub.SubscriberCount() == 1 })

	got := nextFrame(t, frames)
	if got.ID != second.ID || got.Type != models.EventOrderUpdate {
		t.Errorf("replayed frame = %+v, want id %s", got, second.ID)
	}

	third, _ := hub.Publish(ctx, models.EventMetricsTick, models.MetricsTick{BotID: "b1", Equity: 1010}, "api")
	got = nextFrame(t, frames)
	if got.ID != third.ID || got.Type != models.EventMetricsTick {
		t.Errorf("live frame = %+v, want id %s", got, third.ID)
	}
	if !strings.Contains(string(got.Data), `"equity":1010`) {
		t.Errorf("unexpected data %s", got.Data)
	}
}

func TestServer_SSEUnsubscribesOnDisconnect(t *testing.T) {
	hub, ts := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	readSSE(t, ctx, ts.URL+"/stream", "")
	waitFor(t, func() bool { return hub.SubscriberCount() == 1 })

	cancel()
	waitFor(t, func() bool { return hub.SubscriberCount() == 0 })
}

func TestWriteSSE_MultilinePayload(t *testing.T) {
	var buf bytes.Buffer
	err := writeSSE(&buf, models.StreamEvent{ID: "1", Type: "botStatus", Data: []byte("{\n\"a\":1\r\n}")})
	if err != nil {
		t.Fatalf("writeSSE: %v", err)
	}

	want := "id: 1\nevent: botStatus\ndata: {\ndata: \"a\":1\ndata: }\n\n"
	if buf.String() != want {
		t.Errorf("writeSSE() = %q, want %q", buf.String(), want)
	}

	var frames []stream.Frame
	transport.ParseEventStream(&buf, func(f stream.Frame) { frames = append(frames, f) })
	if len(frames) != 1 || string(frames[0].Data) != "{\n\"a\":1\n}" {
		t.Errorf("round trip through parser failed: %+v", frames)
	}
}

func TestServer_WebSocketReplayThenLive(t *testing.T) {
	hub, ts := startServer(t)
	ctx := context.Background()

	first, _ := hub.Publish(ctx, models.EventPositionUpdate, models.PositionUpdate{Symbol: "BTCUSDT"}, "api")
	second, _ := hub.Publish(ctx, models.EventPositionUpdate, models.PositionUpdate{Symbol: "ETHUSDT"}, "api")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/ws?mode=live&lastEventId=" + first.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev models.StreamEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read replayed: %v", err)
	}
	if ev.ID != second.ID {
		t.Errorf("replayed id = %s, want %s", ev.ID, second.ID)
	}

	waitFor(t, func() bool { return hub.SubscriberCount() == 1 })
	third, _ := hub.Publish(ctx, models.EventBacktestProgress, models.BacktestProgress{BacktestID: "bt1", Progress: 0.5}, "api")

	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if ev.ID != third.ID || ev.Type != models.EventBacktestProgress {
		t.Errorf("live event = %+v, want id %s", ev, third.ID)
	}
}

func TestServer_WebSocketRejectsForeignOrigin(t *testing.T) {
	_, ts := startServer(t)

	header := http.Header{}
	header.Set("Origin", "http://evil.local")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}
