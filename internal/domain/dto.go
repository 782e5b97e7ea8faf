package domain

type TableTransitionRequest struct {
	Status   TableStatus  `json:"status"`
	Expected *TableStatus `json:"expected,omitempty"`
}

type CreateOrderRequest struct {
	TableID  string `json:"table_id"`
	ServerID string `json:"server_id,omitempty"` // managers may seat on behalf of a server
}

// AddItemRequest is one line added to an open order.
type AddItemRequest struct {
	MenuItemID   string   `json:"menu_item_id"`
	Quantity     int      `json:"quantity"`
	Seat         *int     `json:"seat,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Addons       []string `json:"addons,omitempty"`
}

type PaymentRequest struct {
	Method PaymentMethod `json:"method"`
	Tip    float64       `json:"tip"`
}

type ProblemResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}
