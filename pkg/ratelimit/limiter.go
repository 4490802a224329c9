package ratelimit

import (
	"sync"
	"time"
)

// RateLimiter - Token Bucket rate limiter
//
// Алгоритм Token Bucket:
// - Ведро наполняется токенами с постоянной скоростью (rate токенов/сек)
// - Максимальная ёмкость ведра = burst (позволяет короткие всплески)
// - Каждый запрос потребляет 1 токен
// - Если токенов нет, запрос отклоняется
//
// Снаружи используется через KeyedLimiter: отдельное ведро на ключ (IP клиента).
type RateLimiter struct {
	rate       float64   // токенов в секунду
	burst      float64   // максимальная ёмкость (burst capacity)
	tokens     float64   // текущее количество токенов
	lastRefill time.Time // время последнего пополнения
	now        func() time.Time
	mu         sync.Mutex
}

// newRateLimiter создаёт rate limiter
//
// Параметры:
//   - rate: количество запросов в секунду
//   - burst: максимальный burst (не меньше rate, по умолчанию 2x rate)
func newRateLimiter(rate, burst float64, now func() time.Time) *RateLimiter {
	if rate <= 0 {
		rate = 10 // дефолт 10 req/sec
	}
	if burst <= 0 {
		burst = rate * 2 // дефолт burst = 2x rate
	}
	if burst < rate {
		burst = rate
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst, // начинаем с полным ведром
		lastRefill: now(),
		now:        now,
	}
}

// refill пополняет токены на основе прошедшего времени
// ВАЖНО: вызывается под lock'ом
func (rl *RateLimiter) refill() time.Time {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed > 0 {
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.burst {
			rl.tokens = rl.burst
		}
		rl.lastRefill = now
	}
	return now
}

// Allow проверяет доступность токена без блокировки
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}

	return false
}

// RetryAfter возвращает время до появления следующего токена (0 - есть сейчас)
func (rl *RateLimiter) RetryAfter() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
}

// full - ведро заполнено, лимитер можно выбросить без потери состояния
func (rl *RateLimiter) full() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens >= rl.burst
}

// ============================================================
// KeyedLimiter - отдельное ведро на каждый ключ (IP клиента)
// ============================================================

// KeyedLimiter ограничивает частоту по ключу
//
// Используется login эндпоинтом: ключ = IP клиента.
// Полные вёдра удаляются Cleanup, чтобы карта не росла бесконечно.
type KeyedLimiter struct {
	rate  float64
	burst float64
	now   func() time.Time

	limiters map[string]*RateLimiter
	mu       sync.Mutex
}

// NewKeyedLimiter создаёт limiter: perMinute запросов в минуту на ключ, всплеск = perMinute
func NewKeyedLimiter(perMinute int) *KeyedLimiter {
	return newKeyedLimiter(perMinute, time.Now)
}

func newKeyedLimiter(perMinute int, now func() time.Time) *KeyedLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &KeyedLimiter{
		rate:     float64(perMinute) / 60,
		burst:    float64(perMinute),
		now:      now,
		limiters: make(map[string]*RateLimiter),
	}
}

func (kl *KeyedLimiter) get(key string) *RateLimiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	rl, ok := kl.limiters[key]
	if !ok {
		rl = newRateLimiter(kl.rate, kl.burst, kl.now)
		kl.limiters[key] = rl
	}
	return rl
}

// Allow потребляет токен ключа
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.get(key).Allow()
}

// RetryAfter возвращает ожидание до следующей разрешённой попытки ключа
func (kl *KeyedLimiter) RetryAfter(key string) time.Duration {
	return kl.get(key).RetryAfter()
}

// Cleanup удаляет ключи с полными вёдрами, возвращает количество удалённых
func (kl *KeyedLimiter) Cleanup() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	removed := 0
	for key, rl := range kl.limiters {
		if rl.full() {
			delete(kl.limiters, key)
			removed++
		}
	}
	return removed
}

// Len возвращает количество отслеживаемых ключей
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}
