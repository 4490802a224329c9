package stream

import "sync"

// HandlerFunc обрабатывает событие стрима.
// Ошибка и паника логируются и не влияют на остальные обработчики.
type HandlerFunc func(Event) error

// Handler - регистрируемый обработчик. Идентичность определяется указателем:
// повторная регистрация того же *Handler для того же типа ничего не меняет.
type Handler struct {
	fn HandlerFunc
}

// NewHandler оборачивает функцию в Handler
func NewHandler(fn HandlerFunc) *Handler {
	return &Handler{fn: fn}
}

// Registry - обработчики по типам событий, в порядке регистрации
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]*Handler
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]*Handler)}
}

// Add регистрирует обработчик; false если он уже зарегистрирован или nil
func (r *Registry) Add(eventType string, h *Handler) bool {
	if h == nil || h.fn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.handlers[eventType] {
		if existing == h {
			return false
		}
	}
	r.handlers[eventType] = append(r.handlers[eventType], h)
	return true
}

// Remove снимает обработчик; false если его не было
func (r *Registry) Remove(eventType string, h *Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[eventType]
	for i, existing := range list {
		if existing != h {
			continue
		}
		// новый срез: снимки, выданные Handlers, не меняются
		next := make([]*Handler, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, eventType)
		} else {
			r.handlers[eventType] = next
		}
		return true
	}
	return false
}

// Handlers возвращает снимок обработчиков типа
func (r *Registry) Handlers(eventType string) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.handlers[eventType]
	out := make([]*Handler, len(list))
	copy(out, list)
	return out
}

// Len - количество обработчиков типа
func (r *Registry) Len(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}
