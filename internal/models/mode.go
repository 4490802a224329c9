package models

import (
	"fmt"
	"strings"
)

// Mode - режим окружения дашборда, задаётся хостом извне
type Mode string

// Режимы окружения
const (
	ModeLocal Mode = "local" // локальная симуляция: без стрима, сессия не критична
	ModePaper Mode = "paper" // бумажная торговля на живых данных
	ModeLive  Mode = "live"  // реальная торговля
)

// RequiresStream возвращает true, если режиму нужно живое соединение со стримом
func (m Mode) RequiresStream() bool {
	return m == ModePaper || m == ModeLive
}

// RequiresSession возвращает true, если режиму нужна валидная сессия
func (m Mode) RequiresSession() bool {
	return m == ModePaper || m == ModeLive
}

func (m Mode) String() string {
	return string(m)
}

// ParseMode разбирает строку режима (регистр не важен)
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLocal, "":
		return ModeLocal, nil
	case ModePaper:
		return ModePaper, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}
