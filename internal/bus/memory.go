package bus

import (
	"context"
	"sync"
)

// Memory - in-process шина: все вкладки живут в одном процессе.
// Доставка синхронная, в горутине публикующего.
type Memory struct {
	mu   sync.RWMutex
	seq  uint64
	subs []*memorySub
}

type memorySub struct {
	id    uint64
	tabID string
	fn    func([]byte)
}

// MemoryTab - endpoint вкладки в Memory шине
type MemoryTab struct {
	hub    *Memory
	id     string
	mu     sync.Mutex
	closed bool
}

// NewMemory создаёт пустую шину
func NewMemory() *Memory {
	return &Memory{}
}

// Tab создаёт endpoint новой вкладки
func (m *Memory) Tab() *MemoryTab {
	return &MemoryTab{hub: m, id: NewTabID()}
}

// ID возвращает идентификатор вкладки
func (t *MemoryTab) ID() string {
	return t.id
}

// Publish доставляет копию data подписчикам всех остальных вкладок
func (t *MemoryTab) Publish(ctx context.Context, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.hub.mu.RLock()
	subs := make([]*memorySub, 0, len(t.hub.subs))
	for _, s := range t.hub.subs {
		if s.tabID != t.id {
			subs = append(subs, s)
		}
	}
	t.hub.mu.RUnlock()

	for _, s := range subs {
		msg := make([]byte, len(data))
		copy(msg, data)
		s.fn(msg)
	}
	return nil
}

// Subscribe регистрирует обработчик сообщений других вкладок
func (t *MemoryTab) Subscribe(fn func([]byte)) func() {
	t.hub.mu.Lock()
	t.hub.seq++
	sub := &memorySub{id: t.hub.seq, tabID: t.id, fn: fn}
	t.hub.subs = append(t.hub.subs, sub)
	t.hub.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.hub.unsubscribe(sub.id) })
	}
}

// Close отключает вкладку от шины
func (t *MemoryTab) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.hub.mu.Lock()
	kept := t.hub.subs[:0]
	for _, s := range t.hub.subs {
		if s.tabID != t.id {
			kept = append(kept, s)
		}
	}
	t.hub.subs = kept
	t.hub.mu.Unlock()
	return nil
}

func (m *Memory) unsubscribe(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}
