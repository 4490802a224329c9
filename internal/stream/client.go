package stream

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"botdash/internal/clock"
	"botdash/internal/metrics"
	"botdash/internal/models"
	"botdash/pkg/utils"
)

// ErrConnectionClosed - соединение закрыто удалённой стороной без ошибки
var ErrConnectionClosed = errors.New("stream connection closed")

// Config - параметры StreamClient
type Config struct {
	// BaseURL - базовый URL шлюза, например http://localhost:8080
	BaseURL string
	// Path - путь стрима относительно BaseURL
	Path string
	// BaseDelay / MaxDelay - границы задержки переподключения
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		Path:      "/stream",
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
	}
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = "/stream"
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = DefaultMaxDelay
		if c.MaxDelay < c.BaseDelay {
			c.MaxDelay = c.BaseDelay
		}
	}
}

// reconnectSlot - не более одного ожидающего таймера переподключения
type reconnectSlot struct {
	timer clock.Timer
	gen   uint64
}

func (s *reconnectSlot) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

// Client держит одно долгоживущее соединение со стримом событий
//
// Назначение:
// Подключается к стриму, когда режим этого требует, переподключается
// с exponential backoff и раздаёт типизированные события обработчикам.
//
// Функции:
// - Машина состояний Disconnected / Connecting / Open / ReconnectScheduled
// - Backoff 1s, 2s, 4s ... 30s, сброс при успешном открытии
// - Реестр обработчиков по типу события (On / Off / Subscribe)
// - Отдельная горутина обработки: медленный обработчик не тормозит приём
// - Last-Event-ID для докачки пропущенных кадров после переподключения
//
// Использование:
// 1. Создать: NewClient(cfg, transport, clock, logger)
// 2. Установить токен: SetTokenProvider(store.GetToken)
// 3. Подписаться: Subscribe(models.EventBotStatus, fn)
// 4. Сообщать о режиме: SetEnvironment(mode)
// 5. Закрыть: Close()
type Client struct {
	cfg       Config
	baseURL   *url.URL
	transport Transport
	clock     clock.Clock
	log       *utils.Logger
	registry  *Registry
	dispatch  *dispatcher

	mu          sync.Mutex
	state       State
	mode        models.Mode
	conn        Conn
	gen         uint64 // поколение попытки подключения
	reconnect   reconnectSlot
	backoff     *backoff.ExponentialBackOff
	lastDelay   time.Duration
	lastEventID string
	closed      bool

	callbackMu    sync.RWMutex
	tokens        TokenProvider
	onStateChange func(State)
}

// NewClient создаёт клиента в состоянии Disconnected и режиме local
func NewClient(cfg Config, transport Transport, clk clock.Clock, logger *utils.Logger) (*Client, error) {
	if transport == nil {
		return nil, errors.New("stream transport is required")
	}
	cfg.applyDefaults()

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid stream base URL %q: scheme and host required", cfg.BaseURL)
	}

	clk = clock.OrReal(clk)
	c := &Client{
		cfg:       cfg,
		baseURL:   base,
		transport: transport,
		clock:     clk,
		log:       utils.OrGlobal(logger).WithComponent("stream"),
		registry:  NewRegistry(),
		state:     StateDisconnected,
		mode:      models.ModeLocal,
		backoff:   newBackOff(cfg.BaseDelay, cfg.MaxDelay, clk),
	}
	c.dispatch = newDispatcher(c.process)
	recordState(StateDisconnected)
	return c, nil
}

// SetTokenProvider устанавливает источник токена для подключения
func (c *Client) SetTokenProvider(fn TokenProvider) {
	c.callbackMu.Lock()
	c.tokens = fn
	c.callbackMu.Unlock()
}

// SetOnStateChange устанавливает callback смены состояния.
// Вызывается из горутины обработки, в порядке переходов.
func (c *Client) SetOnStateChange(fn func(State)) {
	c.callbackMu.Lock()
	c.onStateChange = fn
	c.callbackMu.Unlock()
}

// ============ Состояние ============

// State возвращает текущее состояние соединения
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode возвращает текущий режим окружения
func (c *Client) Mode() models.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// LastEventID возвращает id последнего принятого кадра
func (c *Client) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// ReconnectDelay возвращает задержку последнего запланированного переподключения
func (c *Client) ReconnectDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDelay
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	recordState(s)
	c.dispatch.push(queueItem{state: s, isState: true})
}

// streamURLLocked - {base}{path}?mode={mode}
func (c *Client) streamURLLocked() string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(c.cfg.Path, "/")
	q := u.Query()
	q.Set("mode", c.mode.String())
	u.RawQuery = q.Encode()
	return u.String()
}

// ============ Обработчики ============

// On регистрирует обработчик типа события; повтор того же *Handler игнорируется
func (c *Client) On(eventType string, h *Handler) {
	if c.registry.Add(eventType, h) {
		c.log.Debug("Handler registered", utils.EventType(eventType),
			utils.Handlers(c.registry.Len(eventType)))
	}
}

// Off снимает обработчик
func (c *Client) Off(eventType string, h *Handler) {
	c.registry.Remove(eventType, h)
}

// Subscribe регистрирует функцию и возвращает Handler для Off
func (c *Client) Subscribe(eventType string, fn HandlerFunc) *Handler {
	h := NewHandler(fn)
	c.On(eventType, h)
	return h
}

// ============ Управление соединением ============

// attempt - параметры одной попытки подключения
type attempt struct {
	gen  uint64
	url  string
	opts OpenOptions
}

// SetEnvironment сообщает о смене режима.
// Режим без стрима немедленно закрывает соединение без переподключения.
// Режим со стримом (пере)инициирует подключение; смена одного стримового
// режима на другой переподключает, так как режим входит в URL.
func (c *Client) SetEnvironment(mode models.Mode) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	prev := c.mode
	c.mode = mode
	log := c.log.WithMode(mode.String())

	// курсор докачки относится к стриму конкретного режима и сессии
	if prev != mode || !mode.RequiresStream() {
		c.lastEventID = ""
	}

	if !mode.RequiresStream() {
		conn := c.teardownLocked()
		c.mu.Unlock()
		closeConn(conn)
		if prev != mode {
			log.Info("Stream disabled for mode")
		}
		return
	}

	var stale Conn
	if prev != mode && (c.state == StateOpen || c.state == StateConnecting) {
		stale = c.teardownLocked()
	} else if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	a := c.prepareAttemptLocked()
	c.mu.Unlock()

	closeConn(stale)
	log.Info("Stream mode changed", utils.String("previous", prev.String()))
	c.open(a)
}

// Connect открывает соединение. Ничего не делает в состояниях Open и
// Connecting; из ReconnectScheduled отменяет таймер и подключается сразу.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	if !c.mode.RequiresStream() {
		c.mu.Unlock()
		c.log.Debug("Connect ignored: mode does not use the stream", utils.Mode(c.Mode().String()))
		return
	}
	a := c.prepareAttemptLocked()
	c.mu.Unlock()

	c.open(a)
}

// Disconnect закрывает соединение и отменяет переподключение.
// Безопасен в любом состоянии; таймер, который уже сработал, не подключится.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.teardownLocked()
	c.mu.Unlock()

	closeConn(conn)
}

// Close отключается и останавливает обработку событий.
// Нельзя вызывать из обработчика.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	conn := c.teardownLocked()
	c.closed = true
	c.mu.Unlock()

	closeConn(conn)
	c.dispatch.stop()
	c.log.Info("Stream client closed")
}

// teardownLocked переводит клиента в Disconnected и возвращает соединение для закрытия
func (c *Client) teardownLocked() Conn {
	c.gen++
	c.reconnect.cancel()
	c.backoff.Reset()
	c.lastDelay = 0

	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	return conn
}

func (c *Client) prepareAttemptLocked() attempt {
	c.reconnect.cancel()
	c.gen++
	c.setStateLocked(StateConnecting)
	metrics.StreamConnectAttempts.Inc()

	return attempt{
		gen:  c.gen,
		url:  c.streamURLLocked(),
		opts: OpenOptions{LastEventID: c.lastEventID},
	}
}

// open выполняет попытку без удержания c.mu: транспорт может вызвать Sink синхронно
func (c *Client) open(a attempt) {
	c.callbackMu.RLock()
	tokens := c.tokens
	c.callbackMu.RUnlock()
	if tokens != nil {
		a.opts.Token = tokens()
	}

	c.log.Debug("Opening stream", utils.URL(a.url))
	conn, err := c.transport.Open(a.url, a.opts, &attemptSink{client: c, gen: a.gen})

	c.mu.Lock()
	if a.gen != c.gen {
		// попытку отменили, пока шло открытие
		c.mu.Unlock()
		closeConn(conn)
		return
	}
	if err != nil {
		c.mu.Unlock()
		closeConn(conn)
		c.handleFailure(a.gen, err)
		return
	}
	c.conn = conn
	c.mu.Unlock()
}

// handleOpen - транспорт открыт
func (c *Client) handleOpen(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.backoff.Reset()
	c.lastDelay = 0
	c.setStateLocked(StateOpen)
	mode := c.mode
	c.mu.Unlock()

	c.log.WithMode(mode.String()).Info("Stream connected")
}

// handleFailure - ошибка открытия, ошибка или закрытие соединения
func (c *Client) handleFailure(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	// дальнейшие колбэки этой попытки игнорируются
	c.gen++
	conn := c.conn
	c.conn = nil

	if !c.mode.RequiresStream() || c.closed {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		closeConn(conn)
		c.log.Info("Stream disconnected", utils.Err(err))
		return
	}

	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = c.cfg.MaxDelay
	}
	c.lastDelay = delay
	c.scheduleReconnectLocked(delay)
	c.setStateLocked(StateReconnectScheduled)
	c.mu.Unlock()

	closeConn(conn)
	metrics.StreamReconnectsScheduled.Inc()
	metrics.StreamReconnectDelay.Observe(delay.Seconds())
	c.log.Warn("Stream connection lost, reconnect scheduled", utils.Delay(delay), utils.Err(err))
}

func (c *Client) scheduleReconnectLocked(delay time.Duration) {
	c.reconnect.cancel()
	gen := c.reconnect.gen
	c.reconnect.timer = c.clock.AfterFunc(delay, func() { c.fireReconnect(gen) })
}

func (c *Client) fireReconnect(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.reconnect.gen || c.state != StateReconnectScheduled || !c.mode.RequiresStream() {
		c.mu.Unlock()
		return
	}
	c.reconnect.timer = nil
	a := c.prepareAttemptLocked()
	c.mu.Unlock()

	c.log.Info("Reconnecting stream")
	c.open(a)
}

// handleFrame - приём кадра: только постановка в очередь
func (c *Client) handleFrame(gen uint64, f Frame) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		metrics.StreamFramesDropped.WithLabelValues("stale").Inc()
		return
	}
	if f.ID != "" {
		c.lastEventID = f.ID
	}
	c.mu.Unlock()

	if f.Type == "" {
		f.Type = models.EventMessage
	}
	metrics.StreamFramesReceived.WithLabelValues(f.Type).Inc()

	c.dispatch.push(queueItem{frame: f, received: c.clock.Now(), enqueued: time.Now()})
}

func closeConn(conn Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}

// ============ Обработка ============

// process выполняется в горутине dispatcher
func (c *Client) process(item queueItem) {
	if item.isState {
		c.callbackMu.RLock()
		fn := c.onStateChange
		c.callbackMu.RUnlock()
		if fn != nil {
			fn(item.state)
		}
		return
	}

	f := item.frame
	var payload interface{}
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		metrics.StreamFramesDropped.WithLabelValues("malformed").Inc()
		c.log.Warn("Dropping malformed stream frame",
			utils.EventType(f.Type), utils.EventID(f.ID), utils.Err(err))
		return
	}

	handlers := c.registry.Handlers(f.Type)
	if len(handlers) == 0 {
		metrics.StreamFramesDropped.WithLabelValues("no_handler").Inc()
		return
	}

	ev := Event{
		ID:         f.ID,
		Type:       f.Type,
		Data:       f.Data,
		Payload:    payload,
		ReceivedAt: item.received,
	}
	for _, h := range handlers {
		c.invoke(h, ev)
	}
	metrics.StreamDispatchLatency.Observe(float64(time.Since(item.enqueued).Microseconds()) / 1000)
}

// invoke вызывает обработчик, изолируя его ошибку или панику
func (c *Client) invoke(h *Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.StreamHandlerFailures.WithLabelValues(ev.Type, "panic").Inc()
			c.log.Error("Stream handler panicked",
				utils.EventType(ev.Type), utils.EventID(ev.ID), utils.Any("panic", r))
		}
	}()

	if err := h.fn(ev); err != nil {
		metrics.StreamHandlerFailures.WithLabelValues(ev.Type, "error").Inc()
		c.log.Warn("Stream handler failed",
			utils.EventType(ev.Type), utils.EventID(ev.ID), utils.Err(err))
	}
}

// ============ Sink ============

// attemptSink привязывает колбэки транспорта к поколению попытки
type attemptSink struct {
	client *Client
	gen    uint64
}

func (s *attemptSink) OnOpen() { s.client.handleOpen(s.gen) }

func (s *attemptSink) OnFrame(f Frame) { s.client.handleFrame(s.gen, f) }

func (s *attemptSink) OnError(err error) {
	if err == nil {
		err = ErrConnectionClosed
	}
	s.client.handleFailure(s.gen, err)
}
