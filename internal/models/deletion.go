package models

// Error codes reported by the bulk deletion task.
const (
	ErrCodeMissingRequestID   = "MISSING_REQUEST_ID"
	ErrCodeMissingOrdersParam = "MISSING_ORDERS_PARAMETER"
	ErrCodeEmptyOrdersParam   = "EMPTY_ORDERS_PARAMETER"
	ErrCodeOrderNotFound      = "ORDER_NOT_FOUND"
	ErrCodeUnexpectedError    = "UNEXPECTED_ERROR"
)

// DeletionStatusCompleted is the terminal status string of a processed batch.
const DeletionStatusCompleted = "COMPLETED"

var errorDescriptions = map[string]string{
	ErrCodeMissingRequestID:   "Request ID not provided",
	ErrCodeMissingOrdersParam: "Parameter 'orders' is missing",
	ErrCodeEmptyOrdersParam:   "Parameter 'orders' is empty",
	ErrCodeOrderNotFound:      "Order does not exist or you lack permissions",
	ErrCodeUnexpectedError:    "An unexpected error occurred",
}

// NewErrorRecord builds a record with the standard description of code.
func NewErrorRecord(code, subject string) ErrorRecord {
	return ErrorRecord{Code: code, Description: errorDescriptions[code], Subject: subject}
}

// ErrorRecord describes one failure reported to the completion callback.
type ErrorRecord struct {
	Code        string `json:"error"`
	Description string `json:"description"`
	Subject     string `json:"subject,omitempty"`
}

// DeleteOrdersTask is the payload of the bulk deletion task.
type DeleteOrdersTask struct {
	OrdersRoot string                 `json:"orders_root"`
	LocalRoot  string                 `json:"local_root"`
	Parameters map[string]interface{} `json:"parameters"`
}

// DeletionProgress is the PROGRESS meta of the bulk deletion task.
type DeletionProgress struct {
	Total  int `json:"total"`
	Step   int `json:"step"`
	Errors int `json:"errors"`
}

// Meta converts progress to task state meta.
func (p DeletionProgress) Meta() map[string]interface{} {
	return map[string]interface{}{"total": p.Total, "step": p.Step, "errors": p.Errors}
}

// CallbackPayload is posted to the completion callback when a deletion finishes.
type CallbackPayload struct {
	RequestID  string                 `json:"request_id"`
	Parameters map[string]interface{} `json:"parameters"`
	Errors     []ErrorRecord          `json:"errors,omitempty"`
}

// DeletionReport is the stored result of a bulk deletion task.
type DeletionReport struct {
	Status string        `json:"status"`
	Errors []ErrorRecord `json:"errors,omitempty"`
}
