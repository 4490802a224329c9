package source

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"botdash/internal/metrics"
	"botdash/internal/models"
	"botdash/pkg/utils"
)

// SimulatorConfig - параметры генератора событий
type SimulatorConfig struct {
	Interval time.Duration
	Bots     []string // идентификаторы ботов
	Symbols  []string
	Seed     int64
}

// alertEvery - раз в сколько тиков генерируется алерт комплаенса
const alertEvery = 10

// Simulator генерирует правдоподобные события ботов без внешнего источника
//
// Назначение:
// Локальная разработка дашборда и демо-стенд: шлюз поднимается без Kafka,
// а подписчики получают поток botStatus / metricsTick / marketUpdate.
//
// Функции:
// - Tick: один такт генерации (статус и метрики каждого бота, котировки символов)
// - Run: такты по тикеру до отмены ctx
// - Периодические complianceAlert при просадке equity
type Simulator struct {
	cfg       SimulatorConfig
	publisher Publisher
	log       *utils.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	ticks  int
	equity map[string]float64
	prices map[string]float64
	status map[string]string
}

// NewSimulator создаёт симулятор
func NewSimulator(cfg SimulatorConfig, publisher Publisher, logger *utils.Logger) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if len(cfg.Bots) == 0 {
		cfg.Bots = []string{"bot-1", "bot-2", "bot-3"}
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Simulator{
		cfg:       cfg,
		publisher: publisher,
		log:       utils.OrGlobal(logger).WithComponent("simulator"),
		rng:       rand.New(rand.NewSource(seed)),
		equity:    make(map[string]float64, len(cfg.Bots)),
		prices:    make(map[string]float64, len(cfg.Symbols)),
		status:    make(map[string]string, len(cfg.Bots)),
	}
	for _, id := range cfg.Bots {
		s.equity[id] = 10000
	}
	for i, sym := range cfg.Symbols {
		s.prices[sym] = 100 * float64(i+1)
	}
	return s
}

// Run генерирует такты до отмены ctx
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("Simulator started",
		utils.Int("bots", len(s.cfg.Bots)),
		utils.Int("symbols", len(s.cfg.Symbols)),
		utils.Delay(s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Warn("Simulator tick failed", utils.Err(err))
			}
		}
	}
}

// Tick публикует один такт событий; возвращает первую ошибку публикации
func (s *Simulator) Tick(ctx context.Context) error {
	events := s.generate(time.Now().UTC())

	var firstErr error
	for _, ev := range events {
		if _, err := s.publisher.Publish(ctx, ev.kind, ev.payload, "simulator"); err != nil {
			metrics.SourceMessages.WithLabelValues("simulator", "failed").Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("publish %s: %w", ev.kind, err)
			}
			continue
		}
		metrics.SourceMessages.WithLabelValues("simulator", "published").Inc()
	}
	return firstErr
}

type simEvent struct {
	kind    string
	payload interface{}
}

// generate продвигает модель на один такт
func (s *Simulator) generate(now time.Time) []simEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	var out []simEvent

	for _, id := range s.cfg.Bots {
		status := models.BotStatusRunning
		if s.rng.Float64() < 0.05 {
			status = models.BotStatusPaused
		}
		if status != s.status[id] {
			s.status[id] = status
			out = append(out, simEvent{models.EventBotStatus, models.BotStatus{
				BotID:     id,
				Status:    status,
				Timestamp: now,
			}})
		}

		// Случайное блуждание equity, ±0.5% за такт
		s.equity[id] *= 1 + (s.rng.Float64()-0.5)/100
		pnl := s.equity[id] - 10000
		out = append(out, simEvent{models.EventMetricsTick, models.MetricsTick{
			BotID:         id,
			Equity:        round2(s.equity[id]),
			UnrealizedPnl: round2(pnl),
			OpenPositions: s.rng.Intn(4),
			LatencyMs:     round2(5 + s.rng.Float64()*20),
			Timestamp:     now,
		}})

		if s.ticks%alertEvery == 0 && pnl < -100 {
			out = append(out, simEvent{models.EventComplianceAlert, models.ComplianceAlert{
				ID:        uuid.NewString(),
				BotID:     id,
				Rule:      "max_drawdown",
				Severity:  models.SeverityWarn,
				Message:   fmt.Sprintf("drawdown %.2f exceeds threshold", -pnl),
				Meta:      map[string]interface{}{"equity": round2(s.equity[id])},
				Timestamp: now,
			}})
		}
	}

	for _, sym := range s.cfg.Symbols {
		s.prices[sym] *= 1 + (s.rng.Float64()-0.5)/200
		last := s.prices[sym]
		spread := last * 0.0002
		out = append(out, simEvent{models.EventMarketUpdate, models.MarketUpdate{
			Symbol:    sym,
			Bid:       round2(last - spread/2),
			Ask:       round2(last + spread/2),
			Last:      round2(last),
			Volume:    round2(s.rng.Float64() * 10),
			Timestamp: now,
		}})
	}

	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
