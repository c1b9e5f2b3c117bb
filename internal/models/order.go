package models

import "time"

// Metadata keys attached to artifact data objects.
const (
	MetadataTicketCode    = "iticket_code"
	MetadataDownloadURL   = "download"
	MetadataTicketVersion = "iticket_version"
)

// Order preparation statuses returned when no task is dispatched.
const (
	PrepareStatusExists  = "exists"
	PrepareStatusEnabled = "enabled"
)

// Task names handled by the worker pool.
const (
	TaskPrepareOrder = "unrestricted_order"
	TaskDeleteOrders = "delete_orders"
)

// OrderEntry is one item of an order collection listing.
type OrderEntry struct {
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	ContentLength int64     `json:"content_length"`
	ModifiedAt    time.Time `json:"modified_at,omitempty"`
	Collection    bool      `json:"collection,omitempty"`
	URL           string    `json:"URL,omitempty"`
}

// DownloadLink is a freshly issued public download URL for one artifact.
type DownloadLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// PrepareOrderParams are the normalised parameters of an order preparation request.
type PrepareOrderParams struct {
	OrderID  string   `validate:"required"`
	PIDs     []string `validate:"dive,required"`
	FileName string   `validate:"required"`
	// Raw is the full request body with file_name rewritten.
	Raw      map[string]interface{}
}

// PrepareOrderResult is either a dispatched task id or a status.
type PrepareOrderResult struct {
	TaskID string `json:"task_id,omitempty"`
	Status string `json:"status,omitempty"`
}

// PrepareOrderTask is the payload handed to the order builder.
type PrepareOrderTask struct {
	OrderID    string                 `json:"order_id"`
	OrderPath  string                 `json:"order_path"`
	ZipName    string                 `json:"zip_file_name"`
	Parameters map[string]interface{} `json:"parameters"`
	Owner      string                 `json:"owner"`
}

// TicketRecord is the versioned ticket state persisted as artifact metadata.
type TicketRecord struct {
	Code    string
	URL     string
	Version int64
}
