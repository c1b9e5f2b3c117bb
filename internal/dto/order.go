package dto

// PrepareOrderRequest documents the body of POST /orders. The body may also be
// wrapped in a "parameters" object.
type PrepareOrderRequest struct {
	OrderNumber string   `json:"order_number" example:"42"`
	PIDs        []string `json:"pids,omitempty"`
	FileName    string   `json:"file_name,omitempty"`
}

// DeleteOrdersRequest documents the body of DELETE /orders. orders may be given at the
// top level or inside parameters.
type DeleteOrdersRequest struct {
	RequestID  string                 `json:"request_id" example:"r1"`
	Orders     []string               `json:"orders,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}
