// Package store persists the catalog, customers, and orders in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"shopbot/internal/domain"
)

// SQLiteStore implements domain.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		description      TEXT,
		category         TEXT,
		unit_price       REAL NOT NULL DEFAULT 0,
		carton_price     REAL NOT NULL DEFAULT 0,
		units_per_carton INTEGER NOT NULL DEFAULT 1,
		in_stock         INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);

	CREATE TABLE IF NOT EXISTS customers (
		id         TEXT PRIMARY KEY,
		name       TEXT,
		phone      TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone);

	CREATE TABLE IF NOT EXISTS orders (
		id          TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		items       TEXT NOT NULL,
		street      TEXT,
		city        TEXT,
		state       TEXT,
		postcode    TEXT,
		country     TEXT,
		total       REAL NOT NULL DEFAULT 0,
		status      TEXT NOT NULL,
		history     TEXT,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, description, category, unit_price, carton_price, units_per_carton, in_stock)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description, category=excluded.category,
			unit_price=excluded.unit_price, carton_price=excluded.carton_price,
			units_per_carton=excluded.units_per_carton, in_stock=excluded.in_stock`,
		p.ID, p.Name, p.Description, p.Category, p.UnitPrice, p.CartonPrice, p.UnitsPerCarton, p.InStock,
	)
	return err
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, category, unit_price, carton_price, units_per_carton, in_stock
		 FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.UnitPrice, &p.CartonPrice, &p.UnitsPerCarton, &p.InStock)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, category, unit_price, carton_price, units_per_carton, in_stock
		 FROM products ORDER BY category, name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category,
			&p.UnitPrice, &p.CartonPrice, &p.UnitsPerCarton, &p.InStock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *SQLiteStore) UpsertCustomer(ctx context.Context, c domain.Customer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, phone)
		 VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=CASE WHEN excluded.name != '' THEN excluded.name ELSE customers.name END,
			phone=CASE WHEN excluded.phone != '' THEN excluded.phone ELSE customers.phone END`,
		c.ID, c.Name, c.Phone,
	)
	return err
}

func (s *SQLiteStore) GetCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone FROM customers WHERE phone = ?`, phone,
	).Scan(&c.ID, &c.Name, &c.Phone)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) CreateOrder(ctx context.Context, o domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	history, err := json.Marshal(o.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, items, street, city, state, postcode, country, total, status, history, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CustomerID, string(items),
		o.Address.Street, o.Address.City, o.Address.State, o.Address.Postcode, o.Address.Country,
		o.Total, string(o.Status), string(history), o.CreatedAt, o.UpdatedAt,
	)
	return err
}

const orderColumns = `id, customer_id, items, street, city, state, postcode, country, total, status, history, created_at, updated_at`

func (s *SQLiteStore) scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	var items, status string
	var history sql.NullString
	err := row.Scan(&o.ID, &o.CustomerID, &items,
		&o.Address.Street, &o.Address.City, &o.Address.State, &o.Address.Postcode, &o.Address.Country,
		&o.Total, &status, &history, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items for order %s: %w", o.ID, err)
	}
	if history.Valid && history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &o.History); err != nil {
			return nil, fmt.Errorf("unmarshal history for order %s: %w", o.ID, err)
		}
	}
	return &o, nil
}

func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return s.scanOrder(row)
}

func (s *SQLiteStore) LatestOrderFor(ctx context.Context, customerID string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = ?
		 ORDER BY created_at DESC LIMIT 1`, customerID)
	return s.scanOrder(row)
}

func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, note string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	now := time.Now()
	o.History = append(o.History, domain.StatusChange{Status: status, Timestamp: now, Note: note})
	history, err := json.Marshal(o.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, history = ?, updated_at = ? WHERE id = ?`,
		string(status), string(history), now, orderID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	s.logger.Info("order status updated", "order", orderID, "status", status)
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ domain.Store = (*SQLiteStore)(nil)
