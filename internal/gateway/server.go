package gateway

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"botdash/internal/models"
	"botdash/pkg/utils"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения: клиенты стрима ничего не шлют
	maxMessageSize = 4096

	// Интервал комментариев-heartbeat в SSE по умолчанию
	defaultHeartbeat = 15 * time.Second
)

// Server - HTTP обработчики стрима поверх Hub
//
// Endpoints (регистрируются в api.SetupRoutes):
//
//	GET /stream     - text/event-stream
//	GET /stream/ws  - WebSocket, конверты {"id","type","data"}
//
// Оба поддерживают Last-Event-ID (заголовок или ?lastEventId=)
// для докачки событий, пропущенных во время разрыва.
type Server struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	log       *utils.Logger
}

// NewServer создаёт обработчики; heartbeat <= 0 - 15s
func NewServer(hub *Hub, origins *OriginChecker, heartbeat time.Duration, logger *utils.Logger) *Server {
	if origins == nil {
		origins = NewOriginChecker(nil)
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return origins.Check(r.Header.Get("Origin"))
			},
		},
		heartbeat: heartbeat,
		log:       utils.OrGlobal(logger).WithComponent("stream-server"),
	}
}

func lastEventID(r *http.Request) string {
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("lastEventId")
}

// ============ SSE ============

// ServeSSE отдаёт события в формате text/event-stream
func (s *Server) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	mode := r.URL.Query().Get("mode")
	sub, err := s.hub.Subscribe("sse", mode)
	if err != nil {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.Unsubscribe(sub)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}

	cursor := lastEventID(r)
	replayed, err := s.hub.Replay(r.Context(), cursor)
	if err != nil {
		s.log.Warn("Replay failed", utils.String("last_event_id", cursor), utils.Err(err))
	}
	for _, ev := range replayed {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		cursor = ev.ID
	}
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-sub.Events():
			if !ok {
				// хаб отключил подписчика
				return
			}
			if cursor != "" && ev.ID <= cursor {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE пишет один кадр; многострочный payload разбивается на несколько data:
func writeSSE(w io.Writer, ev models.StreamEvent) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: %s\nevent: %s\n", ev.ID, ev.Type)
	for _, line := range bytes.Split(ev.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte("\r")))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	_, err := w.Write(buf.Bytes())
	return err
}

// ============ WebSocket ============

// ServeWS апгрейдит соединение и запускает readPump / writePump
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade error", utils.Err(err))
		return
	}

	sub, err := s.hub.Subscribe("ws", r.URL.Query().Get("mode"))
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream unavailable"))
		conn.Close()
		return
	}

	cursor := lastEventID(r)
	replayed, err := s.hub.Replay(r.Context(), cursor)
	if err != nil {
		s.log.Warn("Replay failed", utils.String("last_event_id", cursor), utils.Err(err))
	}

	done := make(chan struct{})
	go s.readPump(conn, done)
	s.writePump(conn, sub, replayed, cursor, done)
}

// readPump читает (и отбрасывает) сообщения клиента, контролируя живость по pong
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debug("WebSocket read error", utils.Err(err))
			}
			return
		}
	}
}

// writePump отправляет события подписчика: каждое событие - отдельное сообщение
func (s *Server) writePump(conn *websocket.Conn, sub *Subscriber, replayed []models.StreamEvent, cursor string, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.hub.Unsubscribe(sub)
		conn.Close()
	}()

	write := func(ev models.StreamEvent) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.Error("Failed to marshal event", utils.EventID(ev.ID), utils.Err(err))
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for _, ev := range replayed {
		if !write(ev) {
			return
		}
		cursor = ev.ID
	}

	for {
		select {
		case <-done:
			return

		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if cursor != "" && ev.ID <= cursor {
				continue
			}
			if !write(ev) {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
