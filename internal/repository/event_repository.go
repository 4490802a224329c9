package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"botdash/internal/models"
)

// Ошибки репозитория событий
var (
	ErrEventExists = errors.New("event already exists")
)

// Код PostgreSQL unique_violation
const pqUniqueViolation = "23505"

// EventsSchema - DDL журнала событий стрима
const EventsSchema = `
CREATE TABLE IF NOT EXISTS stream_events (
	id         CHAR(26)    PRIMARY KEY,
	type       VARCHAR(64) NOT NULL,
	payload    JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stream_events_created_at ON stream_events (created_at);`

// EventRepository - журнал событий стрима в таблице stream_events
//
// Назначение:
// Хранит опубликованные события, чтобы переподключившийся клиент
// получил пропущенное по Last-Event-ID. ULID сортируется лексикографически,
// поэтому "после lastID" это просто id > $1.
//
// Используется хабом шлюза как Journal при JOURNAL_DRIVER=postgres.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает новый экземпляр репозитория
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// EnsureSchema создает таблицу и индекс, если их нет
func (r *EventRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, EventsSchema); err != nil {
		return fmt.Errorf("create stream_events: %w", err)
	}
	return nil
}

// Append сохраняет событие
func (r *EventRepository) Append(ctx context.Context, ev models.StreamEvent) error {
	query := `
		INSERT INTO stream_events (id, type, payload, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, ev.ID, ev.Type, []byte(ev.Data), ev.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrEventExists
		}
		return err
	}

	return nil
}

// Since возвращает события после lastID в порядке публикации.
// Пустой lastID - клиент ничего не пропустил, возвращается nil.
func (r *EventRepository) Since(ctx context.Context, lastID string, limit int) ([]models.StreamEvent, error) {
	if lastID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT id, type, payload, created_at
		FROM stream_events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.StreamEvent
	for rows.Next() {
		var ev models.StreamEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Data = payload
		events = append(events, ev)
	}

	return events, rows.Err()
}

// DeleteOlderThan удаляет события старше before, возвращает количество удалённых
func (r *EventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM stream_events WHERE created_at < $1`

	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
