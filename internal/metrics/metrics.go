package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики клиента дашборда и шлюза стрима
// ============================================================
//
// Клиент (session, stream):
// - состояние соединения и переподключения
// - принятые / отброшенные кадры, ошибки обработчиков
// - сигналы сессии (locked, expired, logout)
//
// Шлюз (hub, api, source):
// - подключенные подписчики, опубликованные события
// - попытки входа

const namespace = "botdash"

// ============ Stream client ============

// StreamState - текущее состояние StreamClient (1 для активного состояния)
var StreamState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "state",
		Help:      "Current stream connection state (1 = active)",
	},
	[]string{"state"}, // disconnected, connecting, open, reconnect_scheduled
)

// StreamConnectAttempts - количество попыток открыть транспорт
var StreamConnectAttempts = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "connect_attempts_total",
		Help:      "Total number of stream transport open attempts",
	},
)

// StreamReconnectsScheduled - количество запланированных переподключений
var StreamReconnectsScheduled = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "reconnects_scheduled_total",
		Help:      "Total number of scheduled stream reconnects",
	},
)

// StreamReconnectDelay - распределение задержек переподключения
var StreamReconnectDelay = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "reconnect_delay_seconds",
		Help:      "Scheduled reconnect delay in seconds",
		Buckets:   []float64{1, 2, 4, 8, 16, 30},
	},
)

// StreamFramesReceived - принятые кадры по типам
var StreamFramesReceived = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_received_total",
		Help:      "Total number of frames received from the stream",
	},
	[]string{"type"},
)

// StreamFramesDropped - отброшенные кадры
var StreamFramesDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_dropped_total",
		Help:      "Total number of dropped frames",
	},
	[]string{"reason"}, // malformed, stale, no_handler
)

// StreamHandlerFailures - ошибки и паники обработчиков
var StreamHandlerFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "handler_failures_total",
		Help:      "Total number of failed event handler invocations",
	},
	[]string{"type", "kind"}, // kind: error, panic
)

// StreamDispatchLatency - время обработки кадра всеми обработчиками
var StreamDispatchLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "dispatch_latency_ms",
		Help:      "Time to dispatch a frame to all handlers in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 50, 100},
	},
)

// ============ Session ============

// SessionSignals - сигналы жизненного цикла сессии
var SessionSignals = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "signals_total",
		Help:      "Total number of session lifecycle signals",
	},
	[]string{"signal"}, // locked, expired, redirect
)

// SessionBroadcasts - сообщения между вкладками
var SessionBroadcasts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "broadcasts_total",
		Help:      "Total number of cross-tab broadcast messages",
	},
	[]string{"direction", "type"}, // direction: sent, received, rejected
)

// ============ Gateway ============

// GatewaySubscribers - текущее количество подписчиков стрима
var GatewaySubscribers = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "subscribers",
		Help:      "Current number of stream subscribers",
	},
	[]string{"transport"}, // sse, ws
)

// GatewayEventsPublished - опубликованные события по типам
var GatewayEventsPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "events_published_total",
		Help:      "Total number of events published to the hub",
	},
	[]string{"type", "source"}, // source: api, kafka, simulator
)

// GatewaySlowSubscribers - подписчики, отключенные из-за переполнения буфера
var GatewaySlowSubscribers = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "slow_subscribers_total",
		Help:      "Total number of subscribers dropped for being too slow",
	},
)

// GatewayReplayedEvents - события, отправленные повторно по Last-Event-ID
var GatewayReplayedEvents = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "replayed_events_total",
		Help:      "Total number of events replayed from the journal",
	},
)

// LoginAttempts - попытки входа по результату
var LoginAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "login_attempts_total",
		Help:      "Total number of login attempts",
	},
	[]string{"result"}, // success, invalid, rate_limited
)

// ============ Sources ============

// SourceMessages - сообщения внешних источников событий
var SourceMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "messages_total",
		Help:      "Total number of messages consumed from event sources",
	},
	[]string{"source", "result"}, // result: published, malformed, rejected, failed
)
