package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"botdash/internal/models"
	"botdash/internal/stream"
	"botdash/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebSocketConfig - параметры WebSocket транспорта
type WebSocketConfig struct {
	HandshakeTimeout time.Duration // default: 10s
	PingInterval     time.Duration // default: 30s
	PongTimeout      time.Duration // default: 10s
	ReadLimit        int64         // максимальный размер сообщения, default: 1MB
}

// DefaultWebSocketConfig возвращает конфигурацию по умолчанию
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// WebSocket - stream.Transport поверх WebSocket.
// Каждое сообщение шлюза - JSON конверт {"id","type","data"} (models.StreamEvent).
type WebSocket struct {
	config WebSocketConfig
	dialer websocket.Dialer
	log    *utils.Logger
}

// NewWebSocket создаёт WebSocket транспорт
func NewWebSocket(config WebSocketConfig, logger *utils.Logger) *WebSocket {
	def := DefaultWebSocketConfig()
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = def.HandshakeTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = def.PongTimeout
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = def.ReadLimit
	}

	return &WebSocket{
		config: config,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		log: utils.OrGlobal(logger).WithComponent("ws-transport"),
	}
}

// wsConn - соединение, которое может быть закрыто до завершения dial
type wsConn struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// attach сохраняет установленное соединение; false если Close уже вызван
func (c *wsConn) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Open переводит http(s) URL в ws(s) и подключается в отдельной горутине
func (t *WebSocket) Open(rawURL string, opts stream.OpenOptions, sink stream.Sink) (stream.Conn, error) {
	wsURL, err := toWebSocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	if opts.LastEventID != "" {
		header.Set("Last-Event-ID", opts.LastEventID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &wsConn{cancel: cancel}
	go t.run(ctx, conn, wsURL, header, sink)
	return conn, nil
}

func toWebSocketURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid stream URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported stream URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func (t *WebSocket) run(ctx context.Context, c *wsConn, wsURL string, header http.Header, sink stream.Sink) {
	conn, resp, err := t.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			err = &StatusError{StatusCode: resp.StatusCode}
		}
		sink.OnError(fmt.Errorf("dial error: %w", err))
		return
	}
	if !c.attach(conn) {
		conn.Close()
		return
	}

	conn.SetReadLimit(t.config.ReadLimit)
	readDeadline := t.config.PingInterval + t.config.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	sink.OnOpen()

	done := make(chan struct{})
	go t.pingPump(c, conn, done)

	err = t.readPump(conn, readDeadline, sink)
	close(done)

	if c.isClosed() {
		return
	}
	c.Close()
	sink.OnError(err)
}

// readPump читает конверты до ошибки
func (t *WebSocket) readPump(conn *websocket.Conn, readDeadline time.Duration, sink stream.Sink) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		var env models.StreamEvent
		if err := json.Unmarshal(message, &env); err != nil || len(env.Data) == 0 {
			// не конверт - кадр без типа с исходным содержимым
			sink.OnFrame(stream.Frame{Data: message})
			continue
		}
		sink.OnFrame(stream.Frame{ID: env.ID, Type: env.Type, Data: env.Data})
	}
}

// pingPump отправляет ping для проверки соединения
func (t *WebSocket) pingPump(c *wsConn, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.config.PongTimeout))
			c.writeMu.Unlock()
			if err != nil {
				t.log.Debug("Ping failed", utils.Err(err))
				_ = conn.Close()
				return
			}
		}
	}
}
