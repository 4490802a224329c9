// Package gateway раздаёт события ботов подключенным дашбордам по SSE и WebSocket.
package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"

	"botdash/internal/metrics"
	"botdash/internal/models"
	"botdash/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrHubStopped - публикация после Stop
var ErrHubStopped = errors.New("hub stopped")

const (
	// Размер буфера отправки подписчика; переполнение = медленный подписчик
	subscriberSendBufferSize = 512

	// Максимум событий, докачиваемых при переподключении
	defaultReplayLimit = 1000
)

// Subscriber - одно подключение дашборда (SSE или WebSocket)
type Subscriber struct {
	id        string
	transport string
	mode      string
	send      chan models.StreamEvent
}

// ID возвращает идентификатор подписчика
func (s *Subscriber) ID() string { return s.id }

// Events - канал событий; закрывается хабом при отписке или переполнении
func (s *Subscriber) Events() <-chan models.StreamEvent { return s.send }

// Hub управляет подписчиками стрима
//
// Назначение:
// Центральная точка публикации событий ботов. Присваивает событиям ULID,
// пишет их в журнал для докачки и рассылает всем подписчикам.
//
// Функции:
// - Регистрация / отмена регистрации подписчиков
// - Publish: ULID + журнал + broadcast
// - Отключение медленных подписчиков (не блокируют остальных)
// - Докачка пропущенных событий по Last-Event-ID
//
// Использование:
// 1. Создать hub: hub := NewHub(journal, logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Публиковать: hub.Publish(ctx, models.EventBotStatus, payload, "api")
// 4. Остановить: hub.Stop()
type Hub struct {
	journal Journal
	log     *utils.Logger

	subscribers map[*Subscriber]bool
	mu          sync.RWMutex

	broadcast  chan models.StreamEvent
	register   chan *Subscriber
	unregister chan *Subscriber
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	entropyMu sync.Mutex
	entropy   io.Reader

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewHub создаёт Hub; journal == nil - журнал в памяти на 1024 события
func NewHub(journal Journal, logger *utils.Logger) *Hub {
	if journal == nil {
		journal = NewMemoryJournal(1024)
	}
	return &Hub{
		journal:     journal,
		log:         utils.OrGlobal(logger).WithComponent("hub"),
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan models.StreamEvent, 256),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Копирует список подписчиков под RLock, рассылает без блокировки,
// медленных удаляет под Write Lock.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			total := len(h.subscribers)
			h.mu.Unlock()
			metrics.GatewaySubscribers.WithLabelValues(sub.transport).Inc()
			h.log.Info("Subscriber connected",
				utils.String("subscriber", sub.id), utils.String("transport", sub.transport),
				utils.Mode(sub.mode), utils.Clients(total))

		case sub := <-h.unregister:
			h.mu.Lock()
			removed := h.removeLocked(sub)
			total := len(h.subscribers)
			h.mu.Unlock()
			if removed {
				h.log.Info("Subscriber disconnected",
					utils.String("subscriber", sub.id), utils.Clients(total))
			}

		case ev := <-h.broadcast:
			h.mu.RLock()
			subs := make([]*Subscriber, 0, len(h.subscribers))
			for sub := range h.subscribers {
				subs = append(subs, sub)
			}
			h.mu.RUnlock()

			var slow []*Subscriber
			for _, sub := range subs {
				select {
				case sub.send <- ev:
				default:
					slow = append(slow, sub)
				}
			}

			if len(slow) > 0 {
				h.mu.Lock()
				for _, sub := range slow {
					h.removeLocked(sub)
				}
				total := len(h.subscribers)
				h.mu.Unlock()
				h.dropped.Add(uint64(len(slow)))
				metrics.GatewaySlowSubscribers.Add(float64(len(slow)))
				h.log.Warn("Removed slow subscribers",
					utils.Int("count", len(slow)), utils.Clients(total))
			}

		case <-h.stop:
			h.mu.Lock()
			for sub := range h.subscribers {
				h.removeLocked(sub)
			}
			h.mu.Unlock()
			return
		}
	}
}

// removeLocked удаляет подписчика и закрывает его канал; вызывается под h.mu
func (h *Hub) removeLocked(sub *Subscriber) bool {
	if _, ok := h.subscribers[sub]; !ok {
		return false
	}
	delete(h.subscribers, sub)
	close(sub.send)
	metrics.GatewaySubscribers.WithLabelValues(sub.transport).Dec()
	return true
}

// Stop останавливает цикл и закрывает каналы всех подписчиков
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// newID выдаёт монотонный ULID
func (h *Hub) newID(now time.Time) string {
	h.entropyMu.Lock()
	defer h.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), h.entropy).String()
}

// Publish сериализует payload, присваивает ULID, пишет в журнал и рассылает.
// Ошибка журнала логируется: живые подписчики получают событие в любом случае.
func (h *Hub) Publish(ctx context.Context, eventType string, payload interface{}, source string) (models.StreamEvent, error) {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return models.StreamEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
	}
	if !json.Valid(data) {
		return models.StreamEvent{}, fmt.Errorf("%s payload is not valid JSON", eventType)
	}

	now := time.Now().UTC()
	ev := models.StreamEvent{
		ID:        h.newID(now),
		Type:      eventType,
		Data:      data,
		CreatedAt: now,
	}

	select {
	case <-h.stop:
		return models.StreamEvent{}, ErrHubStopped
	default:
	}

	if err := h.journal.Append(ctx, ev); err != nil {
		h.log.Error("Failed to append event to journal",
			utils.EventType(eventType), utils.EventID(ev.ID), utils.Err(err))
	}

	select {
	case h.broadcast <- ev:
	case <-h.stop:
		return ev, ErrHubStopped
	case <-ctx.Done():
		return ev, ctx.Err()
	}

	h.seq.Add(1)
	metrics.GatewayEventsPublished.WithLabelValues(eventType, source).Inc()
	return ev, nil
}

// Subscribe регистрирует подписчика
func (h *Hub) Subscribe(transport, mode string) (*Subscriber, error) {
	sub := &Subscriber{
		id:        h.newID(time.Now()),
		transport: transport,
		mode:      mode,
		send:      make(chan models.StreamEvent, subscriberSendBufferSize),
	}

	select {
	case h.register <- sub:
		return sub, nil
	case <-h.stop:
		return nil, ErrHubStopped
	}
}

// Unsubscribe снимает подписчика; повторный вызов безопасен
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.stop:
	}
}

// Replay возвращает события, пропущенные клиентом после lastID
func (h *Hub) Replay(ctx context.Context, lastID string) ([]models.StreamEvent, error) {
	if lastID == "" {
		return nil, nil
	}
	events, err := h.journal.Since(ctx, lastID, defaultReplayLimit)
	if err != nil {
		return nil, fmt.Errorf("replay since %s: %w", lastID, err)
	}
	metrics.GatewayReplayedEvents.Add(float64(len(events)))
	return events, nil
}

// SubscriberCount возвращает количество подписчиков
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Published - количество разосланных событий
func (h *Hub) Published() uint64 { return h.seq.Load() }

// DroppedSubscribers - количество отключенных медленных подписчиков
func (h *Hub) DroppedSubscribers() uint64 { return h.dropped.Load() }
