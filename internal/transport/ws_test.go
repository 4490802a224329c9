package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botdash/internal/stream"
)

func TestToWebSocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080/stream?mode=paper", "ws://localhost:8080/stream?mode=paper", false},
		{"https://dash.example.com/stream", "wss://dash.example.com/stream", false},
		{"ws://localhost/stream", "ws://localhost/stream", false},
		{"ftp://localhost/stream", "", true},
	}

	for _, tt := range tests {
		got, err := toWebSocketURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestWebSocket_ReceivesEnvelopes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	headers := make(chan http.Header, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"01A","type":"orderUpdate","data":{"order_id":"o1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`"plain"`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	sink := newRecordingSink()
	tr := NewWebSocket(WebSocketConfig{}, nil)
	conn, err := tr.Open(srv.URL+"/stream/ws?mode=live", stream.OpenOptions{Token: "tok", LastEventID: "01Z"}, sink)
	require.NoError(t, err)
	defer conn.Close()

	sink.waitOpen(t)
	frames := sink.waitFrames(t, 2)

	assert.Equal(t, "01A", frames[0].ID)
	assert.Equal(t, "orderUpdate", frames[0].Type)
	assert.JSONEq(t, `{"order_id":"o1"}`, string(frames[0].Data))

	assert.Empty(t, frames[1].Type)
	assert.Equal(t, `"plain"`, string(frames[1].Data))

	h := <-headers
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))
	assert.Equal(t, "01Z", h.Get("Last-Event-ID"))

	assert.Error(t, sink.waitError(t))
}

func TestWebSocket_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	sink := newRecordingSink()
	conn, err := NewWebSocket(WebSocketConfig{}, nil).Open(srv.URL+"/stream/ws", stream.OpenOptions{}, sink)
	require.NoError(t, err)
	defer conn.Close()

	err = sink.waitError(t)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

func TestWebSocket_CloseStopsWithoutError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sink := newRecordingSink()
	conn, err := NewWebSocket(WebSocketConfig{}, nil).Open(srv.URL, stream.OpenOptions{}, sink)
	require.NoError(t, err)

	sink.waitOpen(t)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case err := <-sink.errs:
		t.Fatalf("locally closed connection must not report an error, got %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWebSocket_UnsupportedScheme(t *testing.T) {
	_, err := NewWebSocket(WebSocketConfig{}, nil).Open("ftp://localhost/stream", stream.OpenOptions{}, newRecordingSink())
	assert.Error(t, err)
}
