package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned by store lookups when no record matches.
var ErrNotFound = errors.New("record not found")

// Store is the persistence capability for products, customers, and orders.
type Store interface {
	// Products
	UpsertProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	// Customers
	UpsertCustomer(ctx context.Context, c Customer) error
	GetCustomerByPhone(ctx context.Context, phone string) (*Customer, error)

	// Orders
	CreateOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	LatestOrderFor(ctx context.Context, customerID string) (*Order, error)
	// UpdateOrderStatus transitions an order and appends a history entry.
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus, note string) error

	Close() error
}
