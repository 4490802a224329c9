package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Единый формат времени на границах системы: ответы API, сообщения
// между вкладками и журнал используют миллисекунды Unix epoch.
//
// Функции:
// - ToMillis / FromMillis: конвертация с сохранением "нулевого" значения
// - FormatDuration: человекочитаемый остаток времени (CLI дашборда)

// ToMillis конвертирует время в миллисекунды Unix.
// Нулевое время (значение отсутствует) кодируется как 0.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis конвертирует миллисекунды Unix в time.Time.
// 0 декодируется в нулевое время.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m0s"
//   - "77h0m0s" (дни переводятся в часы)
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		if hours > 0 {
			return (time.Duration(days*24+hours) * time.Hour).String()
		}
		return (time.Duration(days*24) * time.Hour).String()
	}

	if hours > 0 {
		if minutes > 0 {
			return (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute).String()
		}
		return (time.Duration(hours) * time.Hour).String()
	}

	if minutes > 0 {
		if seconds > 0 {
			return (time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second).String()
		}
		return (time.Duration(minutes) * time.Minute).String()
	}

	return (time.Duration(seconds) * time.Second).String()
}
