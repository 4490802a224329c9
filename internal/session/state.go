package session

import "time"

// Config - таймауты сессии
type Config struct {
	SessionTTL         time.Duration // абсолютное время жизни сессии
	IdleTimeout        time.Duration // окно бездействия до блокировки
	RevalidateInterval time.Duration // период фоновой проверки срока
}

// DefaultConfig: TTL 12 часов, idle 15 минут, ревалидация раз в минуту
func DefaultConfig() Config {
	return Config{
		SessionTTL:         12 * time.Hour,
		IdleTimeout:        15 * time.Minute,
		RevalidateInterval: 60 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.SessionTTL <= 0 {
		c.SessionTTL = def.SessionTTL
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.RevalidateInterval <= 0 {
		c.RevalidateInterval = def.RevalidateInterval
	}
}

// State - состояние сессии. Пустой Token = не аутентифицирован,
// нулевое время = значение отсутствует.
type State struct {
	Token        string
	RefreshToken string
	User         map[string]interface{}
	ExpiresAt    time.Time
	LastActivity time.Time
}

// Valid проверяет инвариант: токен есть и срок не истёк
func (s State) Valid(now time.Time) bool {
	return s.Token != "" && now.Before(s.ExpiresAt)
}

func (s State) clone() State {
	if s.User != nil {
		user := make(map[string]interface{}, len(s.User))
		for k, v := range s.User {
			user[k] = v
		}
		s.User = user
	}
	return s
}

// Reason - причина сигнала сессии
type Reason string

const (
	ReasonIdleTimeout    Reason = "idle-timeout"
	ReasonSessionExpired Reason = "session-expired"
	ReasonRemoteLogout   Reason = "remote-logout"
)

// ActivityKind - тип пользовательского ввода
type ActivityKind string

const (
	ActivityPointerDown ActivityKind = "pointerdown"
	ActivityKeyDown     ActivityKind = "keydown"
	ActivityScroll      ActivityKind = "scroll"
	ActivityTouchStart  ActivityKind = "touchstart"
)
