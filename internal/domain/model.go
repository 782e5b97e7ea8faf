package domain

import "time"

type TableStatus string

const (
	TableAvailable TableStatus = "AVAILABLE"
	TableOccupied  TableStatus = "OCCUPIED"
	TableDirty     TableStatus = "DIRTY"
)

func (s TableStatus) Valid() bool {
	switch s {
	case TableAvailable, TableOccupied, TableDirty:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderInProgress OrderStatus = "IN_PROGRESS"
	OrderReady      OrderStatus = "READY"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderPaid       OrderStatus = "PAID"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool { return s == OrderPaid || s == OrderCancelled }

type ItemStatus string

const (
	ItemOrdered       ItemStatus = "ORDERED"
	ItemInPreparation ItemStatus = "IN_PREPARATION"
	ItemReady         ItemStatus = "READY"
	ItemDelivered     ItemStatus = "DELIVERED"
)

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "CASH"
	PaymentCard  PaymentMethod = "CARD"
	PaymentOther PaymentMethod = "OTHER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentOther:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentNone      PaymentStatus = "NONE"
	PaymentCompleted PaymentStatus = "COMPLETED"
)

type Role string

const (
	RoleServer  Role = "SERVER"
	RoleBusboy  Role = "BUSBOY"
	RoleManager Role = "MANAGER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleServer, RoleBusboy, RoleManager:
		return true
	}
	return false
}

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

type Table struct {
	ID               string      `json:"id"`
	Number           string      `json:"number"`
	Status           TableStatus `json:"status"`
	Capacity         int         `json:"capacity"`
	PosX             int         `json:"pos_x"`
	PosY             int         `json:"pos_y"`
	AssignedServerID *string     `json:"assigned_server_id,omitempty"`
	Version          int64       `json:"version"`
}

// AssignedTo reports whether the table is assigned to userID.
func (t Table) AssignedTo(userID string) bool {
	return t.AssignedServerID != nil && *t.AssignedServerID == userID
}

type Order struct {
	ID            string        `json:"id"`
	TableID       string        `json:"table_id"`
	ServerID      string        `json:"server_id"`
	CreatedAt     time.Time     `json:"created_at"`
	Status        OrderStatus   `json:"status"`
	Subtotal      float64       `json:"subtotal"`
	Tax           float64       `json:"tax"`
	Tip           float64       `json:"tip"`
	Total         float64       `json:"total"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	Version       int64         `json:"version"`
	Items         []OrderItem   `json:"items"`
}

// Clone deep-copies the order so callers can mutate it without touching a shared instance.
func (o Order) Clone() Order {
	c := o
	c.Items = make([]OrderItem, len(o.Items))
	for i, it := range o.Items {
		c.Items[i] = it.Clone()
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return c
}

type OrderItem struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	MenuItemID    string     `json:"menu_item_id"`
	Name          string     `json:"name"`
	Quantity      int        `json:"quantity"`
	UnitPrice     float64    `json:"unit_price"`
	Addons        []string   `json:"addons,omitempty"`
	Seat          *int       `json:"seat,omitempty"`
	Instructions  string     `json:"instructions,omitempty"`
	Status        ItemStatus `json:"status"`
	PrepStartedAt *time.Time `json:"prep_started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func (it OrderItem) Clone() OrderItem {
	c := it
	c.Addons = append([]string(nil), it.Addons...)
	if it.Seat != nil {
		s := *it.Seat
		c.Seat = &s
	}
	if it.PrepStartedAt != nil {
		t := *it.PrepStartedAt
		c.PrepStartedAt = &t
	}
	if it.CompletedAt != nil {
		t := *it.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

type Addon struct {
	Name       string  `json:"name"`
	PriceDelta float64 `json:"price_delta"`
}

type MenuItem struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	CategoryID string  `json:"category_id"`
	Price      float64 `json:"price"`
	Available  bool    `json:"available"`
	Addons     []Addon `json:"addons,omitempty"`
}

// Addon looks up an add-on by name.
func (m MenuItem) Addon(name string) (Addon, bool) {
	for _, a := range m.Addons {
		if a.Name == name {
			return a, true
		}
	}
	return Addon{}, false
}
