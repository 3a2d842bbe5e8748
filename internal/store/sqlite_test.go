package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shopbot/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleProduct() domain.Product {
	return domain.Product{
		ID:             "pp-001",
		Name:           "Pulled Pork",
		Description:    "Slow-cooked pulled pork",
		Category:       "Meats",
		UnitPrice:      25.99,
		CartonPrice:    259.99,
		UnitsPerCarton: 10,
		InStock:        true,
	}
}

func TestProductRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := sampleProduct()
	if err := s.UpsertProduct(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetProduct(ctx, "pp-001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != p.Name || got.CartonPrice != p.CartonPrice || !got.InStock {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestUpsertProductUpdates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := sampleProduct()
	s.UpsertProduct(ctx, p)

	p.CartonPrice = 279.99
	p.InStock = false
	if err := s.UpsertProduct(ctx, p); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetProduct(ctx, "pp-001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CartonPrice != 279.99 || got.InStock {
		t.Fatalf("expected updated fields, got %+v", got)
	}

	products, err := s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("upsert must not duplicate, got %d products", len(products))
	}
}

func TestGetProductNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetProduct(context.Background(), "nope"); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCustomerByPhone(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := domain.Customer{ID: "61400000001", Name: "Sam", Phone: "61400000001"}
	if err := s.UpsertCustomer(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetCustomerByPhone(ctx, "61400000001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Sam" {
		t.Fatalf("unexpected customer %+v", got)
	}

	// An upsert with empty fields keeps existing values.
	if err := s.UpsertCustomer(ctx, domain.Customer{ID: "61400000001"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = s.GetCustomerByPhone(ctx, "61400000001")
	if got == nil || got.Name != "Sam" {
		t.Fatal("empty upsert must not clobber the name")
	}
}

func sampleOrder(id, customer string, created time.Time) domain.Order {
	return domain.Order{
		ID:         id,
		CustomerID: customer,
		Items: []domain.OrderItem{
			{ProductID: "pp-001", ProductName: "Pulled Pork", Quantity: 2, Subtotal: 519.98},
		},
		Address: domain.Address{
			Street: "123 Test St", City: "Sydney", State: "NSW", Postcode: "2000", Country: "Australia",
		},
		Total:  519.98,
		Status: domain.StatusPending,
		History: []domain.StatusChange{
			{Status: domain.StatusPending, Timestamp: created, Note: "order placed"},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertCustomer(ctx, domain.Customer{ID: "cust-1"})
	o := sampleOrder("ord-1", "cust-1", time.Now())
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Total != 519.98 || got.Status != domain.StatusPending {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].ProductName != "Pulled Pork" {
		t.Fatalf("items mismatch: %+v", got.Items)
	}
	if got.Address.City != "Sydney" || got.Address.Country != "Australia" {
		t.Fatalf("address mismatch: %+v", got.Address)
	}
	if len(got.History) != 1 || got.History[0].Note != "order placed" {
		t.Fatalf("history mismatch: %+v", got.History)
	}
}

func TestLatestOrderFor(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertCustomer(ctx, domain.Customer{ID: "cust-1"})
	now := time.Now()
	s.CreateOrder(ctx, sampleOrder("ord-old", "cust-1", now.Add(-time.Hour)))
	s.CreateOrder(ctx, sampleOrder("ord-new", "cust-1", now))

	got, err := s.LatestOrderFor(ctx, "cust-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.ID != "ord-new" {
		t.Fatalf("expected newest order, got %s", got.ID)
	}

	if _, err := s.LatestOrderFor(ctx, "nobody"); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertCustomer(ctx, domain.Customer{ID: "cust-1"})
	s.CreateOrder(ctx, sampleOrder("ord-1", "cust-1", time.Now()))

	if err := s.UpdateOrderStatus(ctx, "ord-1", domain.StatusCancelled, "cancelled by customer"); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.GetOrder(ctx, "ord-1")
	if got.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %v", got.Status)
	}
	if len(got.History) != 2 || got.History[1].Note != "cancelled by customer" {
		t.Fatalf("expected appended history entry, got %+v", got.History)
	}

	if err := s.UpdateOrderStatus(ctx, "missing", domain.StatusCancelled, ""); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.UpsertProduct(ctx, sampleProduct())
	s.Close()

	s2, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if _, err := s2.GetProduct(ctx, "pp-001"); err != nil {
		t.Fatalf("product must survive reopen: %v", err)
	}
}
