package domain

import "time"

// Product is a catalog entry. Carton pricing drives order totals; the unit
// price is informational only.
type Product struct {
	ID             string  `json:"id" yaml:"id"`
	Name           string  `json:"name" yaml:"name"`
	Description    string  `json:"description" yaml:"description"`
	Category       string  `json:"category" yaml:"category"`
	UnitPrice      float64 `json:"unitPrice" yaml:"unitPrice"`
	CartonPrice    float64 `json:"cartonPrice" yaml:"cartonPrice"`
	UnitsPerCarton int     `json:"unitsPerCarton" yaml:"unitsPerCarton"`
	InStock        bool    `json:"inStock" yaml:"inStock"`
}

// Customer is a known sender. Created lazily on first confirmed order.
type Customer struct {
	ID        string
	Phone     string
	Name      string
	CreatedAt time.Time
}

// Address is a delivery address collected during the order dialogue.
type Address struct {
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

// OrderStatus is the lifecycle state of a persisted order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipped    OrderStatus = "SHIPPED"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

// Cancellable reports whether an order in this status may still be cancelled
// by the customer.
func (s OrderStatus) Cancellable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// OrderItem is a single line of an order: a product and a carton count.
type OrderItem struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"` // cartons
	Subtotal    float64 `json:"subtotal"` // quantity × carton price
}

// StatusChange is one append-only entry in an order's status history.
type StatusChange struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note,omitempty"`
}

// Order is a confirmed, persisted order.
type Order struct {
	ID         string
	CustomerID string
	Items      []OrderItem
	Address    Address
	Total      float64
	Status     OrderStatus
	History    []StatusChange
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
