package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/orders-api/internal/models"
)

const orderEventsSchema = `CREATE TABLE IF NOT EXISTS order_events (
	id UUID PRIMARY KEY,
	action TEXT NOT NULL,
	order_id TEXT NULL,
	user_id TEXT NULL,
	request_id TEXT NOT NULL,
	program TEXT NOT NULL,
	ip_address TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS order_events_order_id_idx ON order_events (order_id, created_at DESC)`

// EventRepository persists the order request log.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs the repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// EnsureSchema creates the order_events table when missing.
func (r *EventRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, orderEventsSchema); err != nil {
		return fmt.Errorf("ensure order_events schema: %w", err)
	}
	return nil
}

// Create stores one event.
func (r *EventRepository) Create(ctx context.Context, event *models.OrderEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO order_events
	(id, action, order_id, user_id, request_id, program, ip_address, status_code, duration_ms, created_at)
	VALUES (:id, :action, :order_id, :user_id, :request_id, :program, :ip_address, :status_code, :duration_ms, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create order event: %w", err)
	}
	return nil
}

// ListByOrder returns the most recent events of an order.
func (r *EventRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]models.OrderEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const query = `SELECT id, action, order_id, user_id, request_id, program, ip_address, status_code, duration_ms, created_at
	FROM order_events WHERE order_id = $1 ORDER BY created_at DESC LIMIT $2`
	var events []models.OrderEvent
	if err := r.db.SelectContext(ctx, &events, query, orderID, limit); err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	return events, nil
}
