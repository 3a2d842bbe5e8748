package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"shopbot/internal/domain"
)

const validCatalog = `
products:
  - id: pp-001
    name: Pulled Pork
    description: Slow-cooked pulled pork
    category: Meats
    unitPrice: 25.99
    cartonPrice: 259.99
    unitsPerCarton: 10
    inStock: true
  - id: gb-010
    name: Garlic Bread
    category: Bakery
    cartonPrice: 89.50
    unitsPerCarton: 24
    inStock: true
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	products, err := Load(writeCatalog(t, validCatalog))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[0].CartonPrice != 259.99 || products[0].UnitsPerCarton != 10 {
		t.Fatalf("pricing mismatch: %+v", products[0])
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id": `
products:
  - name: No ID
    cartonPrice: 10
    unitsPerCarton: 1
`,
		"missing name": `
products:
  - id: x-1
    cartonPrice: 10
    unitsPerCarton: 1
`,
		"zero carton price": `
products:
  - id: x-1
    name: Free Stuff
    cartonPrice: 0
    unitsPerCarton: 1
`,
		"duplicate id": `
products:
  - id: x-1
    name: One
    cartonPrice: 10
    unitsPerCarton: 1
  - id: x-1
    name: Two
    cartonPrice: 10
    unitsPerCarton: 1
`,
		"not yaml": `{{{{`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeCatalog(t, content)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// seedStore records upserted products.
type seedStore struct {
	domain.Store
	products []domain.Product
}

func (s *seedStore) UpsertProduct(ctx context.Context, p domain.Product) error {
	s.products = append(s.products, p)
	return nil
}

func TestSeed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := &seedStore{}

	if err := Seed(context.Background(), store, writeCatalog(t, validCatalog), logger); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(store.products) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(store.products))
	}
}

func TestSeed_EmptyPathIsNoop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := &seedStore{}

	if err := Seed(context.Background(), store, "", logger); err != nil {
		t.Fatalf("seed with no path must be a no-op: %v", err)
	}
	if len(store.products) != 0 {
		t.Fatal("no products should be upserted")
	}
}
