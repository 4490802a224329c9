package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config содержит всю конфигурацию приложения
//
// Порядок применения: значения по умолчанию -> YAML файл из CONFIG_FILE
// (если задан) -> переменные окружения. Один и тот же Config читают оба
// бинарника: шлюз (cmd/server) и headless дашборд (cmd/dashboard).
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Journal   JournalConfig   `yaml:"journal"`
	Security  SecurityConfig  `yaml:"security"`
	Session   SessionConfig   `yaml:"session"`
	Stream    StreamConfig    `yaml:"stream"`
	Bus       BusConfig       `yaml:"bus"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig - настройки HTTP сервера шлюза
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	UseHTTPS       bool          `yaml:"use_https"`
	CertFile       string        `yaml:"cert_file"`
	KeyFile        string        `yaml:"key_file"`
	AllowedOrigins []string      `yaml:"allowed_origins"` // пусто или "*" - любые
	Heartbeat      time.Duration `yaml:"heartbeat"`       // интервал ": ping" в SSE
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN собирает строку подключения lib/pq
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// JournalConfig - журнал событий для докачки по Last-Event-ID
type JournalConfig struct {
	Driver    string        `yaml:"driver"`    // memory, postgres
	Capacity  int           `yaml:"capacity"`  // размер кольца memory журнала
	Retention time.Duration `yaml:"retention"` // сколько хранить события в postgres
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	AdminUser         string        `yaml:"admin_user"`
	AdminPasswordHash string        `yaml:"admin_password_hash"` // bcrypt
	SessionTTL        time.Duration `yaml:"session_ttl"`         // срок жизни выдаваемого токена
	LoginRateLimit    int           `yaml:"login_rate_limit"`    // попыток входа в минуту с одного IP
	TrustedProxies    []string      `yaml:"trusted_proxies"`     // IP/CIDR прокси, чей X-Forwarded-For учитывается
}

// SessionConfig - таймеры клиентской сессии
type SessionConfig struct {
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	RevalidateInterval time.Duration `yaml:"revalidate_interval"`
}

// StreamConfig - настройки клиента стрима
type StreamConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Transport string        `yaml:"transport"` // sse, ws
	Mode      string        `yaml:"mode"`      // local, paper, live
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// BusConfig - транспорт широковещательных сообщений между вкладками
type BusConfig struct {
	Driver        string `yaml:"driver"` // memory, redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Channel       string `yaml:"channel"`
}

// KafkaConfig - источник событий ботов
type KafkaConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	Partition int32    `yaml:"partition"`
	Offset    string   `yaml:"offset"` // newest, oldest
}

// SimulatorConfig - генератор событий для локального шлюза
type SimulatorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Bots     []string      `yaml:"bots"`
	Symbols  []string      `yaml:"symbols"`
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig - отдельный listener для /metrics (дашборд)
type MetricsConfig struct {
	Addr string `yaml:"addr"` // пусто - выключено
}

// Defaults возвращает конфигурацию по умолчанию
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8080,
			Host:      "0.0.0.0",
			Heartbeat: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Name:     "botdash",
			User:     "user",
			Password: "password",
			SSLMode:  "disable",
		},
		Journal: JournalConfig{
			Driver:    "memory",
			Capacity:  1024,
			Retention: 24 * time.Hour,
		},
		Security: SecurityConfig{
			AdminUser:      "admin",
			SessionTTL:     12 * time.Hour,
			LoginRateLimit: 10,
		},
		Session: SessionConfig{
			IdleTimeout:        15 * time.Minute,
			RevalidateInterval: 60 * time.Second,
		},
		Stream: StreamConfig{
			BaseURL:   "http://localhost:8080",
			Transport: "sse",
			Mode:      "paper",
			BaseDelay: 1 * time.Second,
			MaxDelay:  30 * time.Second,
		},
		Bus: BusConfig{
			Driver:    "memory",
			RedisAddr: "localhost:6379",
			Channel:   "botdash:session",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "bot-events",
			Offset:  "newest",
		},
		Simulator: SimulatorConfig{
			Interval: 2 * time.Second,
			Bots:     []string{"bot-1", "bot-2"},
			Symbols:  []string{"BTCUSDT", "ETHUSDT"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load загружает конфигурацию: YAML из CONFIG_FILE, затем переменные окружения
func Load() (*Config, error) {
	base := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, base); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", base.Server.Port),
			Host:           getEnv("SERVER_HOST", base.Server.Host),
			UseHTTPS:       getEnvAsBool("USE_HTTPS", base.Server.UseHTTPS),
			CertFile:       getEnv("CERT_FILE", base.Server.CertFile),
			KeyFile:        getEnv("KEY_FILE", base.Server.KeyFile),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", base.Server.AllowedOrigins),
			Heartbeat:      getEnvAsDuration("STREAM_HEARTBEAT", base.Server.Heartbeat),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", base.Database.Driver),
			Host:     getEnv("DB_HOST", base.Database.Host),
			Port:     getEnvAsInt("DB_PORT", base.Database.Port),
			Name:     getEnv("DB_NAME", base.Database.Name),
			User:     getEnv("DB_USER", base.Database.User),
			Password: getEnv("DB_PASSWORD", base.Database.Password),
			SSLMode:  getEnv("DB_SSL_MODE", base.Database.SSLMode),
		},
		Journal: JournalConfig{
			Driver:    getEnv("JOURNAL_DRIVER", base.Journal.Driver),
			Capacity:  getEnvAsInt("JOURNAL_CAPACITY", base.Journal.Capacity),
			Retention: getEnvAsDuration("JOURNAL_RETENTION", base.Journal.Retention),
		},
		Security: SecurityConfig{
			JWTSecret:         getEnv("JWT_SECRET", base.Security.JWTSecret),
			AdminUser:         getEnv("ADMIN_USER", base.Security.AdminUser),
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", base.Security.AdminPasswordHash),
			SessionTTL:        getEnvAsDuration("SESSION_TTL", base.Security.SessionTTL),
			LoginRateLimit:    getEnvAsInt("LOGIN_RATE_LIMIT", base.Security.LoginRateLimit),
			TrustedProxies:    getEnvAsSlice("TRUSTED_PROXIES", base.Security.TrustedProxies),
		},
		Session: SessionConfig{
			IdleTimeout:        getEnvAsDuration("SESSION_IDLE_TIMEOUT", base.Session.IdleTimeout),
			RevalidateInterval: getEnvAsDuration("SESSION_REVALIDATE_INTERVAL", base.Session.RevalidateInterval),
		},
		Stream: StreamConfig{
			BaseURL:   getEnv("STREAM_BASE_URL", base.Stream.BaseURL),
			Transport: getEnv("STREAM_TRANSPORT", base.Stream.Transport),
			Mode:      getEnv("STREAM_MODE", base.Stream.Mode),
			BaseDelay: getEnvAsDuration("STREAM_RECONNECT_BASE_DELAY", base.Stream.BaseDelay),
			MaxDelay:  getEnvAsDuration("STREAM_RECONNECT_MAX_DELAY", base.Stream.MaxDelay),
		},
		Bus: BusConfig{
			Driver:        getEnv("BUS_DRIVER", base.Bus.Driver),
			RedisAddr:     getEnv("REDIS_ADDR", base.Bus.RedisAddr),
			RedisPassword: getEnv("REDIS_PASSWORD", base.Bus.RedisPassword),
			RedisDB:       getEnvAsInt("REDIS_DB", base.Bus.RedisDB),
			Channel:       getEnv("BUS_CHANNEL", base.Bus.Channel),
		},
		Kafka: KafkaConfig{
			Enabled:   getEnvAsBool("KAFKA_ENABLED", base.Kafka.Enabled),
			Brokers:   getEnvAsSlice("KAFKA_BROKERS", base.Kafka.Brokers),
			Topic:     getEnv("KAFKA_TOPIC", base.Kafka.Topic),
			Partition: int32(getEnvAsInt("KAFKA_PARTITION", int(base.Kafka.Partition))),
			Offset:    getEnv("KAFKA_OFFSET", base.Kafka.Offset),
		},
		Simulator: SimulatorConfig{
			Enabled:  getEnvAsBool("SIMULATOR_ENABLED", base.Simulator.Enabled),
			Interval: getEnvAsDuration("SIMULATOR_INTERVAL", base.Simulator.Interval),
			Bots:     getEnvAsSlice("SIMULATOR_BOTS", base.Simulator.Bots),
			Symbols:  getEnvAsSlice("SIMULATOR_SYMBOLS", base.Simulator.Symbols),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", base.Logging.Level),
			Format: getEnv("LOG_FORMAT", base.Logging.Format),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", base.Metrics.Addr),
		},
	}

	// Валидация числовых диапазонов и перечислений
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile накладывает YAML файл поверх значений по умолчанию
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ValidateSecurity проверяет параметры безопасности шлюза.
// Дашборду они не нужны, поэтому вызывается только из cmd/server.
func (c *Config) ValidateSecurity() error {
	// JWT_SECRET обязателен и не должен быть default значением
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required for authentication")
	}

	if c.Security.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET must be changed from default value in production")
	}

	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}

	if c.Security.AdminPasswordHash == "" {
		return fmt.Errorf("ADMIN_PASSWORD_HASH is required (bcrypt hash)")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Таймеры сессии
	if c.Security.SessionTTL < time.Minute {
		return fmt.Errorf("SESSION_TTL must be at least 1m, got %v", c.Security.SessionTTL)
	}

	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive, got %v", c.Session.IdleTimeout)
	}

	if c.Session.RevalidateInterval <= 0 {
		return fmt.Errorf("SESSION_REVALIDATE_INTERVAL must be positive, got %v", c.Session.RevalidateInterval)
	}

	// Backoff переподключения
	if c.Stream.BaseDelay <= 0 {
		return fmt.Errorf("STREAM_RECONNECT_BASE_DELAY must be positive, got %v", c.Stream.BaseDelay)
	}

	if c.Stream.MaxDelay < c.Stream.BaseDelay {
		return fmt.Errorf("STREAM_RECONNECT_MAX_DELAY (%v) must not be less than base delay (%v)",
			c.Stream.MaxDelay, c.Stream.BaseDelay)
	}

	if c.Server.Heartbeat <= 0 {
		return fmt.Errorf("STREAM_HEARTBEAT must be positive, got %v", c.Server.Heartbeat)
	}

	if c.Security.LoginRateLimit < 1 {
		return fmt.Errorf("LOGIN_RATE_LIMIT must be at least 1, got %d", c.Security.LoginRateLimit)
	}

	// Перечисления
	if err := oneOf("STREAM_TRANSPORT", c.Stream.Transport, "sse", "ws"); err != nil {
		return err
	}

	if err := oneOf("STREAM_MODE", c.Stream.Mode, "local", "paper", "live"); err != nil {
		return err
	}

	if err := oneOf("JOURNAL_DRIVER", c.Journal.Driver, "memory", "postgres"); err != nil {
		return err
	}

	if err := oneOf("BUS_DRIVER", c.Bus.Driver, "memory", "redis"); err != nil {
		return err
	}

	if err := oneOf("KAFKA_OFFSET", c.Kafka.Offset, "newest", "oldest"); err != nil {
		return err
	}

	if c.Journal.Driver == "memory" && c.Journal.Capacity < 1 {
		return fmt.Errorf("JOURNAL_CAPACITY must be positive, got %d", c.Journal.Capacity)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}

	if c.Simulator.Enabled && c.Simulator.Interval <= 0 {
		return fmt.Errorf("SIMULATOR_INTERVAL must be positive, got %v", c.Simulator.Interval)
	}

	return nil
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", name, strings.Join(allowed, ", "), value)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSlice читает список через запятую; пустые элементы отбрасываются
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
