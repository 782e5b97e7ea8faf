package domain

import "time"

// TableStatusMessage is the broker payload relayed to remote floor views.
type TableStatusMessage struct {
	TableID   string      `json:"table_id"`
	NewStatus TableStatus `json:"new_status"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
}

type OrderEventType string

const (
	EventOrderCreated     OrderEventType = "order.created"
	EventOrderItemAdded   OrderEventType = "order.item_added"
	EventOrderPrepStarted OrderEventType = "kitchen.preparation_started"
	EventOrderReady       OrderEventType = "kitchen.ready"
	EventOrderDelivered   OrderEventType = "order.delivered"
	EventOrderPaid        OrderEventType = "order.paid"
	EventOrderCancelled   OrderEventType = "order.cancelled"
)

type OrderEvent struct {
	Type       OrderEventType `json:"type"`
	OrderID    string         `json:"order_id"`
	TableID    string         `json:"table_id"`
	OldStatus  OrderStatus    `json:"old_status,omitempty"`
	NewStatus  OrderStatus    `json:"new_status"`
	ChangedBy  string         `json:"changed_by,omitempty"`
	Total      float64        `json:"total,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
