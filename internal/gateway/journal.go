package gateway

import (
	"context"
	"sync"

	"botdash/internal/models"
)

// Journal - хранилище опубликованных событий для докачки по Last-Event-ID.
// ID событий - ULID, поэтому лексикографический порядок совпадает с порядком публикации.
type Journal interface {
	Append(ctx context.Context, ev models.StreamEvent) error
	// Since возвращает события с ID > lastID в порядке публикации, не больше limit
	Since(ctx context.Context, lastID string, limit int) ([]models.StreamEvent, error)
}

// MemoryJournal - кольцевой буфер последних событий
type MemoryJournal struct {
	mu     sync.RWMutex
	events []models.StreamEvent
	start  int
	size   int
}

// NewMemoryJournal создаёт журнал на capacity событий
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryJournal{events: make([]models.StreamEvent, capacity)}
}

// Append добавляет событие, вытесняя самое старое при переполнении
func (j *MemoryJournal) Append(_ context.Context, ev models.StreamEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	capacity := len(j.events)
	if j.size < capacity {
		j.events[(j.start+j.size)%capacity] = ev
		j.size++
		return nil
	}
	j.events[j.start] = ev
	j.start = (j.start + 1) % capacity
	return nil
}

// Since возвращает события после lastID; пустой lastID - ничего не докачивать
func (j *MemoryJournal) Since(_ context.Context, lastID string, limit int) ([]models.StreamEvent, error) {
	if lastID == "" {
		return nil, nil
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	capacity := len(j.events)
	var out []models.StreamEvent
	for i := 0; i < j.size; i++ {
		ev := j.events[(j.start+i)%capacity]
		if ev.ID <= lastID {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Len - количество событий в журнале
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.size
}
