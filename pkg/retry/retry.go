package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config конфигурация для retry логики
//
// Экспоненциальный backoff с jitter (cenkalti/backoff):
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay) ± JitterFactor
//
// Jitter добавляет случайность чтобы избежать "thundering herd",
// когда много клиентов переподключаются одновременно
type Config struct {
	// MaxRetries - максимальное количество попыток (включая первую)
	// 0 или отрицательное = повторять до отмены ctx
	MaxRetries int

	// InitialDelay - начальная задержка между попытками
	// По умолчанию: 100ms
	InitialDelay time.Duration

	// MaxDelay - максимальная задержка между попытками
	// По умолчанию: 30s
	MaxDelay time.Duration

	// Multiplier - множитель для экспоненциального роста
	// По умолчанию: 2.0 (удвоение после каждой попытки)
	Multiplier float64

	// JitterFactor - фактор случайности (0.0 - 1.0)
	JitterFactor float64

	// RetryIf - функция для определения нужно ли retry'ить ошибку
	// По умолчанию: retry все ошибки
	RetryIf func(error) bool

	// OnRetry - callback вызываемый перед каждым retry
	// Полезно для логирования
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig возвращает конфигурацию по умолчанию
//
// - 4 попытки
// - Задержки: 100ms, 200ms, 400ms (+ jitter)
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NetworkConfig для подключения к брокерам и БД на старте
//
// - 5 попыток
// - Задержки: 500ms, 1s, 2s, 4s
// - Истёкший или отменённый контекст операции не повторяется
func NetworkConfig() Config {
	return Config{
		MaxRetries:   5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
		RetryIf:      IsRetryable,
	}
}

// validate проверяет и устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
}

// backOff строит стратегию cenkalti/backoff по конфигурации
func (c *Config) backOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialDelay
	exp.MaxInterval = c.MaxDelay
	exp.Multiplier = c.Multiplier
	exp.RandomizationFactor = c.JitterFactor
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b backoff.BackOff = exp
	if c.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.MaxRetries-1))
	}
	return backoff.WithContext(b, ctx)
}

// Do выполняет операцию с повторными попытками
//
// Возвращает:
//   - nil: операция успешна
//   - error: все попытки неудачны или ctx отменён, возвращает последнюю ошибку
//     операции (ctx.Err(), если операция ни разу не выполнилась)
//
// Пример:
//
//	err := retry.Do(ctx, func() error {
//	    return db.PingContext(ctx)
//	}, retry.NetworkConfig())
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и retry
//
//	pc, err := retry.DoWithResult(ctx, func() (sarama.PartitionConsumer, error) {
//	    return consumer.ConsumePartition(topic, partition, offset)
//	}, cfg)
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()

	var (
		result  T
		lastErr error
		attempt int
	)

	op := func() error {
		res, err := operation()
		if err == nil {
			result = res
			return nil
		}
		lastErr = err

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		attempt++
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
	}

	err := backoff.RetryNotify(op, cfg.backOff(ctx), notify)
	if err == nil {
		return result, nil
	}

	var zero T
	if ctx.Err() != nil && lastErr != nil {
		return zero, unwrapPermanent(lastErr)
	}
	return zero, unwrapPermanent(err)
}

// Permanent помечает ошибку как не подлежащую повтору
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsRetryable проверяет, стоит ли повторять ошибку: отмена контекста не повторяется
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
