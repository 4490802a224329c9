// Package bus - транспорт сообщений между вкладками (cross-tab broadcast).
//
// Семантика как у BroadcastChannel: сообщение доставляется всем подписчикам
// других вкладок того же канала, но не отправителю. Порядок доставки в
// пределах канала сохраняется.
package bus

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrClosed возвращается при публикации в закрытый канал
var ErrClosed = errors.New("bus: channel closed")

// Channel - endpoint одной вкладки
type Channel interface {
	Publish(ctx context.Context, data []byte) error
	Subscribe(fn func(data []byte)) (cancel func())
}

// NewTabID генерирует идентификатор вкладки
func NewTabID() string {
	return uuid.NewString()
}
