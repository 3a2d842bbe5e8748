// Package catalog loads the product catalog from a YAML seed file and
// upserts it into the store on startup, so pricing edits are a file change
// plus a restart.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"shopbot/internal/domain"
)

type catalogFile struct {
	Products []domain.Product `yaml:"products"`
}

// Load parses a catalog YAML file and validates its entries.
func Load(path string) ([]domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read catalog file %s: %w", path, err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cannot parse catalog file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Products))
	for i, p := range f.Products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog entry %d: id is required", i)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("catalog entry %s: name is required", p.ID)
		}
		if p.CartonPrice <= 0 {
			return nil, fmt.Errorf("catalog entry %s: cartonPrice must be > 0", p.ID)
		}
		if p.UnitsPerCarton <= 0 {
			return nil, fmt.Errorf("catalog entry %s: unitsPerCarton must be > 0", p.ID)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("catalog entry %s: duplicate id", p.ID)
		}
		seen[p.ID] = true
	}

	return f.Products, nil
}

// Seed loads the catalog file and upserts every product into the store.
// A missing path is not an error; the store keeps whatever it already has.
func Seed(ctx context.Context, store domain.Store, path string, logger *slog.Logger) error {
	if path == "" {
		logger.Debug("no catalog file configured, skipping seed")
		return nil
	}

	products, err := Load(path)
	if err != nil {
		return err
	}

	for _, p := range products {
		if err := store.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}

	logger.Info("catalog seeded", "products", len(products), "path", path)
	return nil
}
