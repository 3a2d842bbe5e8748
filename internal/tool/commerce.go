package tool

import (
	"context"
	"fmt"
	"strings"

	"shopbot/internal/domain"
)

// Builtin commerce tools exposed to the LLM path. Each wraps a store lookup
// so the model can answer catalog and order questions with real data.

// ProductSearchTool finds catalog products by name fragment.
type ProductSearchTool struct {
	store domain.Store
}

func NewProductSearchTool(store domain.Store) *ProductSearchTool {
	return &ProductSearchTool{store: store}
}

func (t *ProductSearchTool) Name() string { return "product_search" }

func (t *ProductSearchTool) Description() string {
	return "Search the product catalog by name. Returns matching products with carton pricing."
}

func (t *ProductSearchTool) Parameters() map[string]any {
	return Parameters(map[string]Param{
		"query": {Type: "string", Description: "product name or fragment to search for"},
	}, []string{"query"})
}

func (t *ProductSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := strings.ToLower(ArgsString(args, "query"))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	products, err := t.store.ListProducts(ctx)
	if err != nil {
		return "", fmt.Errorf("list products: %w", err)
	}

	var b strings.Builder
	found := 0
	for _, p := range products {
		if !strings.Contains(strings.ToLower(p.Name), query) && !strings.Contains(strings.ToLower(p.Category), query) {
			continue
		}
		found++
		fmt.Fprintf(&b, "%s (%s): $%.2f per carton of %d units", p.Name, p.Category, p.CartonPrice, p.UnitsPerCarton)
		if !p.InStock {
			b.WriteString(" [out of stock]")
		}
		b.WriteString("\n")
	}
	if found == 0 {
		return "no products match " + query, nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// ProductDetailsTool returns the full record for one product id.
type ProductDetailsTool struct {
	store domain.Store
}

func NewProductDetailsTool(store domain.Store) *ProductDetailsTool {
	return &ProductDetailsTool{store: store}
}

func (t *ProductDetailsTool) Name() string { return "product_details" }

func (t *ProductDetailsTool) Description() string {
	return "Get full details for a product by its id."
}

func (t *ProductDetailsTool) Parameters() map[string]any {
	return Parameters(map[string]Param{
		"id": {Type: "string", Description: "product id"},
	}, []string{"id"})
}

func (t *ProductDetailsTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	id := ArgsString(args, "id")
	if id == "" {
		return "", fmt.Errorf("id is required")
	}
	p, err := t.store.GetProduct(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get product %s: %w", id, err)
	}
	stock := "in stock"
	if !p.InStock {
		stock = "out of stock"
	}
	return fmt.Sprintf("%s — %s. $%.2f per carton of %d units ($%.2f/unit), %s.",
		p.Name, p.Description, p.CartonPrice, p.UnitsPerCarton, p.UnitPrice, stock), nil
}

// OrderStatusTool looks up a customer's most recent order.
type OrderStatusTool struct {
	store domain.Store
}

func NewOrderStatusTool(store domain.Store) *OrderStatusTool {
	return &OrderStatusTool{store: store}
}

func (t *OrderStatusTool) Name() string { return "order_status" }

func (t *OrderStatusTool) Description() string {
	return "Look up the most recent order for a customer phone number and report its status."
}

func (t *OrderStatusTool) Parameters() map[string]any {
	return Parameters(map[string]Param{
		"customer": {Type: "string", Description: "customer phone number"},
	}, []string{"customer"})
}

func (t *OrderStatusTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	customer := ArgsString(args, "customer")
	if customer == "" {
		return "", fmt.Errorf("customer is required")
	}
	o, err := t.store.LatestOrderFor(ctx, customer)
	if err != nil {
		if err == domain.ErrNotFound {
			return "no orders found for this customer", nil
		}
		return "", fmt.Errorf("latest order: %w", err)
	}
	return fmt.Sprintf("order %s: status %s, total $%.2f, %d item(s)", o.ID, o.Status, o.Total, len(o.Items)), nil
}

// DeliveryStatusTool reports the delivery address and status of the most
// recent order.
type DeliveryStatusTool struct {
	store domain.Store
}

func NewDeliveryStatusTool(store domain.Store) *DeliveryStatusTool {
	return &DeliveryStatusTool{store: store}
}

func (t *DeliveryStatusTool) Name() string { return "delivery_status" }

func (t *DeliveryStatusTool) Description() string {
	return "Report where a customer's most recent order is being delivered and its current status."
}

func (t *DeliveryStatusTool) Parameters() map[string]any {
	return Parameters(map[string]Param{
		"customer": {Type: "string", Description: "customer phone number"},
	}, []string{"customer"})
}

func (t *DeliveryStatusTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	customer := ArgsString(args, "customer")
	if customer == "" {
		return "", fmt.Errorf("customer is required")
	}
	o, err := t.store.LatestOrderFor(ctx, customer)
	if err != nil {
		if err == domain.ErrNotFound {
			return "no orders found for this customer", nil
		}
		return "", fmt.Errorf("latest order: %w", err)
	}
	a := o.Address
	return fmt.Sprintf("order %s (%s) ships to %s, %s, %s %s, %s",
		o.ID, o.Status, a.Street, a.City, a.State, a.Postcode, a.Country), nil
}
