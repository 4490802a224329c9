package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"botdash/internal/api/middleware"
	"botdash/internal/gateway"
	"botdash/internal/models"
	"botdash/pkg/utils"
)

// EventPublisher публикует событие в стрим
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}, source string) (models.StreamEvent, error)
}

// PublishEventRequest тело запроса публикации
type PublishEventRequest struct {
	Type string              `json:"type"`
	Data jsoniter.RawMessage `json:"data"`
}

// PublishEventResponse ответ с присвоенным идентификатором
type PublishEventResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// EventHandler принимает события ботов от внешних процессов
//
// Endpoints:
// - POST /api/v1/events - опубликовать событие всем подписчикам стрима
//
// Тип события должен быть из models.KnownEventTypes, data - любой JSON.
// Идентификатор (ULID) присваивает хаб.
type EventHandler struct {
	publisher EventPublisher
	log       *utils.Logger
}

// NewEventHandler создает новый EventHandler
func NewEventHandler(publisher EventPublisher, logger *utils.Logger) *EventHandler {
	return &EventHandler{
		publisher: publisher,
		log:       utils.OrGlobal(logger).WithComponent("event-handler"),
	}
}

// PublishEvent публикует событие
// POST /api/v1/events
//
// Request Body:
//
//	{"type": "botStatus", "data": {"bot_id": "b1", "status": "running"}}
//
// Response:
// - 201 Created: {"id": "01J...", "type": "botStatus", "created_at": "..."}
// - 400 Bad Request: неизвестный тип или невалидный data
// - 503 Service Unavailable: хаб остановлен
func (h *EventHandler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var req PublishEventRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", err.Error())
		return
	}

	if req.Type == "" || req.Type == models.EventMessage || !models.IsKnownEventType(req.Type) {
		respondWithError(w, http.StatusBadRequest, "unknown_event_type", "Unknown event type", req.Type)
		return
	}

	if len(req.Data) == 0 {
		respondWithError(w, http.StatusBadRequest, "missing_data", "Event data is required", "")
		return
	}

	ev, err := h.publisher.Publish(r.Context(), req.Type, []byte(req.Data), "api")
	if err != nil {
		if errors.Is(err, gateway.ErrHubStopped) {
			respondWithError(w, http.StatusServiceUnavailable, "hub_stopped", "Stream is shutting down", "")
			return
		}
		h.log.Error("Failed to publish event",
			utils.EventType(req.Type),
			utils.RequestID(middleware.RequestIDFromContext(r.Context())),
			utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, "publish_failed", "Failed to publish event", "")
		return
	}

	respondWithJSON(w, http.StatusCreated, PublishEventResponse{
		ID:        ev.ID,
		Type:      ev.Type,
		CreatedAt: ev.CreatedAt,
	})
}
