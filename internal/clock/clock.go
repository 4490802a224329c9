// Package clock абстрагирует время и отложенные вызовы.
//
// SessionStore и StreamClient планируют таймеры только через Clock,
// поэтому в тестах реальное время заменяется на Manual.
package clock

import "time"

// Timer - отменяемый отложенный вызов
type Timer interface {
	// Stop отменяет вызов. Возвращает false, если вызов уже сработал или отменён.
	Stop() bool
}

// Clock - источник времени и планировщик
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

// Real возвращает Clock поверх time.Now / time.AfterFunc
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// OrReal возвращает c или реальные часы, если c == nil
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
