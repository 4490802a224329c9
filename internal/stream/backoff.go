package stream

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"botdash/internal/clock"
)

const (
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// newBackOff - удвоение задержки без джиттера, от base до max, без общего лимита времени.
// NextBackOff возвращает текущую задержку и удваивает её для следующей ошибки.
func newBackOff(base, max time.Duration, clk clock.Clock) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clk,
	}
	b.Reset()
	return b
}
