package models

import (
	"encoding/json"
	"time"
)

// Типы событий realtime стрима
const (
	EventBotStatus        = "botStatus"        // смена статуса бота
	EventMetricsTick      = "metricsTick"      // периодические метрики бота
	EventComplianceAlert  = "complianceAlert"  // алерт комплаенса / риска
	EventBacktestProgress = "backtestProgress" // прогресс бэктеста
	EventOrderUpdate      = "orderUpdate"      // изменение ордера
	EventPositionUpdate   = "positionUpdate"   // изменение позиции
	EventMarketUpdate     = "marketUpdate"     // рыночные данные
	EventMessage          = "message"          // кадр без типа (catch-all)
)

// KnownEventTypes - все типизированные события стрима
var KnownEventTypes = []string{
	EventBotStatus,
	EventMetricsTick,
	EventComplianceAlert,
	EventBacktestProgress,
	EventOrderUpdate,
	EventPositionUpdate,
	EventMarketUpdate,
}

// IsKnownEventType проверяет, что тип события поддерживается стримом
func IsKnownEventType(t string) bool {
	if t == EventMessage {
		return true
	}
	for _, known := range KnownEventTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Статусы бота
const (
	BotStatusRunning = "running"
	BotStatusPaused  = "paused"
	BotStatusStopped = "stopped"
	BotStatusError   = "error"
)

// Уровни важности алертов
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// BotStatus - payload события botStatus
type BotStatus struct {
	BotID     string    `json:"bot_id"`
	Status    string    `json:"status"` // running, paused, stopped, error
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricsTick - payload события metricsTick
type MetricsTick struct {
	BotID         string    `json:"bot_id"`
	Equity        float64   `json:"equity"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	RealizedPnl   float64   `json:"realized_pnl"`
	OpenPositions int       `json:"open_positions"`
	LatencyMs     float64   `json:"latency_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// ComplianceAlert - payload события complianceAlert
type ComplianceAlert struct {
	ID        string                 `json:"id"`
	BotID     string                 `json:"bot_id,omitempty"`
	Rule      string                 `json:"rule"`
	Severity  string                 `json:"severity"` // info, warn, error, critical
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// BacktestProgress - payload события backtestProgress
type BacktestProgress struct {
	BacktestID string    `json:"backtest_id"`
	Progress   float64   `json:"progress"` // 0..1
	Stage      string    `json:"stage,omitempty"`
	Done       bool      `json:"done"`
	Timestamp  time.Time `json:"timestamp"`
}

// OrderUpdate - payload события orderUpdate
type OrderUpdate struct {
	OrderID   string    `json:"order_id"`
	BotID     string    `json:"bot_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`   // buy, sell
	Status    string    `json:"status"` // new, partially_filled, filled, cancelled, rejected
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Filled    float64   `json:"filled"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionUpdate - payload события positionUpdate
type PositionUpdate struct {
	BotID         string    `json:"bot_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // long, short
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	Timestamp     time.Time `json:"timestamp"`
}

// MarketUpdate - payload события marketUpdate
type MarketUpdate struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamEvent - событие в журнале шлюза (то, что уходит клиентам стрима)
type StreamEvent struct {
	ID        string          `json:"id" db:"id"` // ULID, монотонно возрастает
	Type      string          `json:"type" db:"type"`
	Data      json.RawMessage `json:"data" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
