package models

import "time"

// Order event actions.
const (
	OrderEventList     = "LIST"
	OrderEventPrepare  = "PREPARE"
	OrderEventLinks    = "ISSUE_LINKS"
	OrderEventDelete   = "DELETE"
	OrderEventDownload = "DOWNLOAD"
)

// OrderEvent is one row of the order request log.
type OrderEvent struct {
	ID         string    `db:"id" json:"id"`
	Action     string    `db:"action" json:"action"`
	OrderID    *string   `db:"order_id" json:"order_id,omitempty"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	RequestID  string    `db:"request_id" json:"request_id"`
	Program    string    `db:"program" json:"program"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	StatusCode int       `db:"status_code" json:"status_code"`
	DurationMS int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
