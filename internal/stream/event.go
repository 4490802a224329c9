package stream

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event - разобранный кадр, который получают обработчики
type Event struct {
	ID         string
	Type       string
	Data       []byte      // исходный JSON payload
	Payload    interface{} // payload, разобранный в map/slice/значение
	ReceivedAt time.Time
}

// Decode разбирает payload в типизированную структуру (см. models)
func (e Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s event: %w", e.Type, err)
	}
	return nil
}
