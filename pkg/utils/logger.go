package utils

// logger.go - настройка логирования
//
// Назначение:
// Инициализация и настройка структурированного логирования на базе zap.
//
// Функции:
// - InitLogger: создать и настроить logger (формат json/text, уровень, вывод)
// - InitGlobalLogger / L / OrGlobal: глобальный экземпляр для компонентов без своего logger
// - Конструкторы полей для доменных сущностей (режим, тип события, вкладка)

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - параметры логирования
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json (по умолчанию) или text
	Output      string // путь к файлу; пусто = stderr
	Development bool
}

// Logger - обёртка над zap.Logger с доменными дочерними логгерами
type Logger struct {
	*zap.Logger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создаёт logger по конфигурации.
// Ошибка открытия файла не фатальна: вывод уходит в stderr.
func InitLogger(cfg LogConfig) *Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		if cfg.Development {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.Output != "" && cfg.Output != "stderr" {
		if cfg.Output == "stdout" {
			sink = zapcore.Lock(os.Stdout)
		} else if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	return &Logger{Logger: zap.New(core, opts...)}
}

// parseLevel переводит строку в уровень zap, по умолчанию info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitGlobalLogger создаёт logger и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
	return logger
}

// L возвращает глобальный logger, создавая его с настройками по умолчанию
func L() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// OrGlobal возвращает logger или глобальный, если передан nil
func OrGlobal(logger *Logger) *Logger {
	if logger != nil {
		return logger
	}
	return L()
}

// With возвращает дочерний logger с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// WithComponent - дочерний logger для компонента (session, stream, hub...)
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithMode - дочерний logger с режимом окружения
func (l *Logger) WithMode(mode string) *Logger {
	return l.With(Mode(mode))
}

// WithTab - дочерний logger с идентификатором вкладки
func (l *Logger) WithTab(tabID string) *Logger {
	return l.With(TabID(tabID))
}

// WithRequestID - дочерний logger с ID HTTP запроса
func (l *Logger) WithRequestID(id string) *Logger {
	return l.With(RequestID(id))
}

// ============ Конструкторы полей ============

func Component(name string) zap.Field { return zap.String("component", name) }
func Mode(mode string) zap.Field      { return zap.String("mode", mode) }
func EventType(t string) zap.Field    { return zap.String("event_type", t) }
func EventID(id string) zap.Field     { return zap.String("event_id", id) }
func State(state string) zap.Field    { return zap.String("state", state) }
func TabID(id string) zap.Field       { return zap.String("tab_id", id) }
func Attempt(n int) zap.Field         { return zap.Int("attempt", n) }
func Delay(d time.Duration) zap.Field { return zap.Duration("delay", d) }
func Reason(reason string) zap.Field  { return zap.String("reason", reason) }
func URL(u string) zap.Field          { return zap.String("url", u) }
func RequestID(id string) zap.Field   { return zap.String("request_id", id) }
func UserID(id string) zap.Field      { return zap.String("user_id", id) }
func Latency(ms float64) zap.Field    { return zap.Float64("latency_ms", ms) }
func Clients(n int) zap.Field         { return zap.Int("clients", n) }
func Handlers(n int) zap.Field        { return zap.Int("handlers", n) }

// Переэкспорт конструкторов zap, чтобы пакеты не импортировали zap напрямую
var (
	String = zap.String
	Int    = zap.Int
	Int64  = zap.Int64
	Bool   = zap.Bool
	Err    = zap.Error
	Any    = zap.Any
	Time   = zap.Time
)
