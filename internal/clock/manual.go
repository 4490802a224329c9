package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual - виртуальные часы для тестов.
//
// Время двигается только через Advance. Сработавшие таймеры вызываются
// синхронно в горутине, вызвавшей Advance, в порядке срока (при равном
// сроке - в порядке планирования). Таймеры, запланированные из callback,
// срабатывают в том же Advance, если их срок наступил.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	m     *Manual
	seq   uint64
	due   time.Time
	delay time.Duration
	fn    func()
}

// Scheduled - описание ожидающего таймера
type Scheduled struct {
	Delay time.Duration // задержка, с которой таймер был запланирован
	Due   time.Time
}

// NewManual создаёт часы, показывающие start
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{m: m, seq: m.seq, due: m.now.Add(d), delay: d, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.remove(t)
}

// remove вызывается под m.mu
func (m *Manual) remove(t *manualTimer) bool {
	for i, cur := range m.timers {
		if cur == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance сдвигает время на d, вызывая все таймеры со сроком <= now+d
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.remove(next)
		m.now = next.due
		m.mu.Unlock()
		next.fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// nextDue вызывается под m.mu
func (m *Manual) nextDue(target time.Time) *manualTimer {
	var best *manualTimer
	for _, t := range m.timers {
		if t.due.After(target) {
			continue
		}
		if best == nil || t.due.Before(best.due) || (t.due.Equal(best.due) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

// Pending возвращает ожидающие таймеры в порядке срока
func (m *Manual) Pending() []Scheduled {
	m.mu.Lock()
	defer m.mu.Unlock()

	timers := make([]*manualTimer, len(m.timers))
	copy(timers, m.timers)
	sort.Slice(timers, func(i, j int) bool {
		if timers[i].due.Equal(timers[j].due) {
			return timers[i].seq < timers[j].seq
		}
		return timers[i].due.Before(timers[j].due)
	})

	out := make([]Scheduled, len(timers))
	for i, t := range timers {
		out[i] = Scheduled{Delay: t.delay, Due: t.due}
	}
	return out
}

// PendingCount возвращает количество ожидающих таймеров
func (m *Manual) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
