package bus

import (
	"context"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"botdash/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope - обёртка сообщения в Redis канале
type envelope struct {
	Origin string `json:"origin"`
	Data   []byte `json:"data"`
}

// Redis - шина поверх Redis pub/sub: вкладки живут в разных процессах
//
// Использование:
//
//	b := bus.NewRedis(client, "botdash:session", logger)
//	if err := b.Start(ctx); err != nil { ... }
//	defer b.Close()
type Redis struct {
	client  *redis.Client
	channel string
	tabID   string
	log     *utils.Logger

	mu       sync.RWMutex
	seq      uint64
	handlers map[uint64]func([]byte)
	order    []uint64

	pubsub *redis.PubSub
	done   chan struct{}
	closed bool
}

// NewRedis создаёт endpoint вкладки на канале channel
func NewRedis(client *redis.Client, channel string, logger *utils.Logger) *Redis {
	tabID := NewTabID()
	return &Redis{
		client:   client,
		channel:  channel,
		tabID:    tabID,
		log:      utils.OrGlobal(logger).WithComponent("bus").WithTab(tabID),
		handlers: make(map[uint64]func([]byte)),
	}
}

// ID возвращает идентификатор вкладки
func (r *Redis) ID() string {
	return r.tabID
}

// Start подписывается на канал и запускает цикл чтения.
// Возвращает управление после подтверждения подписки сервером.
func (r *Redis) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.mu.Lock()
	r.pubsub = pubsub
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.readLoop(pubsub.Channel(), r.done)

	r.log.Info("Cross-tab bus subscribed", utils.String("channel", r.channel))
	return nil
}

func (r *Redis) readLoop(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)

	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.log.Warn("Dropping malformed bus message", utils.Err(err))
			continue
		}
		if env.Origin == r.tabID {
			continue
		}

		r.mu.RLock()
		fns := make([]func([]byte), 0, len(r.order))
		for _, id := range r.order {
			if fn, ok := r.handlers[id]; ok {
				fns = append(fns, fn)
			}
		}
		r.mu.RUnlock()

		for _, fn := range fns {
			fn(env.Data)
		}
	}
}

// Publish отправляет сообщение остальным вкладкам
func (r *Redis) Publish(ctx context.Context, data []byte) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(envelope{Origin: r.tabID, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}

// Subscribe регистрирует обработчик сообщений других вкладок
func (r *Redis) Subscribe(fn func([]byte)) func() {
	r.mu.Lock()
	r.seq++
	id := r.seq
	r.handlers[id] = fn
	r.order = append(r.order, id)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
		for i, cur := range r.order {
			if cur == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
}

// Close отписывается от канала и дожидается остановки цикла чтения
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pubsub := r.pubsub
	done := r.done
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
