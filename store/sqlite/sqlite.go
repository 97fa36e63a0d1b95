/*
Package sqlite provides a SQLite-backed implementation of inventory.Store.

PURPOSE:
  Persists products and sales in SQLite. The coordinator's atomic unit maps
  to one database transaction, so the stock snapshot, the validation and the
  writes commit or roll back together.

INTERFACES IMPLEMENTED:
  inventory.Store:   Catalog, sale reads, WithTx
  inventory.Ledgers: Inside WithTx, via txStore

KEY TABLES:
  products:   One row per product. quantity is CHECKed >= 0 and name UNIQUE
  sales:      One row per sale
  sale_items: Ordered sale lines. Cascade-deleted with their sale. No foreign
              key to products: deleting a product never touches sales

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within one process. Transactions are
  opened with BEGIN IMMEDIATE (_txlock=immediate), so a second process
  writing the same file waits on the write lock instead of failing at COMMIT
  with a stale read.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/inventory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  coordinator := inventory.NewCoordinator(store, inventory.Options{})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - inventory/store.go: Interface definitions
  - inventory/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/inventory-engine/inventory"
)

// Store implements inventory.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ inventory.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Lines keep submission order; product_id is a weak reference
	CREATE TABLE IF NOT EXISTS sale_items (
		sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		PRIMARY KEY (sale_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_sale_items_product
		ON sale_items(product_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CATALOG
// =============================================================================

const productColumns = `id, name, quantity, created_at, updated_at`

func (s *Store) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryProducts(ctx, s.db,
		`SELECT `+productColumns+` FROM products ORDER BY rowid`)
}

func (s *Store) GetProduct(ctx context.Context, id inventory.ProductID) (*inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getProduct(ctx, s.db, id)
}

func (s *Store) CreateProduct(ctx context.Context, name string, quantity int64) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	p := inventory.Product{
		ID:        inventory.ProductID(uuid.NewString()),
		Name:      name,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Quantity, formatTime(now), formatTime(now),
	)
	if err != nil {
		return inventory.Product{}, translateError("failed to create product", err)
	}
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, id inventory.ProductID, name string, quantity int64) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return setQuantity(ctx, s.db, id, name, quantity)
}

func (s *Store) DeleteProduct(ctx context.Context, id inventory.ProductID) (*inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := getProduct(ctx, s.db, id)
	if err != nil || p == nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete product: %w", err)
	}
	return p, nil
}

// =============================================================================
// SALE READS
// =============================================================================

func (s *Store) ListSales(ctx context.Context) ([]inventory.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.updated_at, i.product_id, i.quantity
		FROM sales s
		LEFT JOIN sale_items i ON i.sale_id = s.id
		ORDER BY s.rowid, i.position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var (
		sales []inventory.Sale
		index = make(map[inventory.SaleID]int)
	)
	for rows.Next() {
		var (
			id                   inventory.SaleID
			createdAt, updatedAt string
			productID            sql.NullString
			quantity             sql.NullInt64
		)
		if err := rows.Scan(&id, &createdAt, &updatedAt, &productID, &quantity); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		i, ok := index[id]
		if !ok {
			i = len(sales)
			index[id] = i
			sales = append(sales, inventory.Sale{
				ID:        id,
				Items:     []inventory.SaleItem{},
				CreatedAt: parseTime(createdAt),
				UpdatedAt: parseTime(updatedAt),
			})
		}
		if productID.Valid {
			sales[i].Items = append(sales[i].Items, inventory.SaleItem{
				ProductID: inventory.ProductID(productID.String),
				Quantity:  quantity.Int64,
			})
		}
	}
	return sales, rows.Err()
}

func (s *Store) GetSale(ctx context.Context, id inventory.SaleID) (*inventory.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getSale(ctx, s.db, id)
}

// =============================================================================
// TRANSACTIONAL STORE (inventory.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Ledgers) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError("failed to begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return translateError("failed to commit transaction", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetProduct(ctx context.Context, id inventory.ProductID) (*inventory.Product, error) {
	return getProduct(ctx, ts.tx, id)
}

func (ts *txStore) GetProducts(ctx context.Context, ids []inventory.ProductID) ([]inventory.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return queryProducts(ctx, ts.tx,
		`SELECT `+productColumns+` FROM products WHERE id IN (`+placeholders(len(ids))+`)`,
		args...)
}

func (ts *txStore) SetQuantity(ctx context.Context, id inventory.ProductID, name string, quantity int64) (inventory.Product, error) {
	return setQuantity(ctx, ts.tx, id, name, quantity)
}

func (ts *txStore) GetSale(ctx context.Context, id inventory.SaleID) (*inventory.Sale, error) {
	return getSale(ctx, ts.tx, id)
}

func (ts *txStore) InsertSale(ctx context.Context, items []inventory.SaleItem) (inventory.Sale, error) {
	now := time.Now().UTC()
	sale := inventory.Sale{
		ID:        inventory.SaleID(uuid.NewString()),
		Items:     inventory.CloneItems(items),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := ts.tx.ExecContext(ctx,
		`INSERT INTO sales (id, created_at, updated_at) VALUES (?, ?, ?)`,
		sale.ID, formatTime(now), formatTime(now),
	)
	if err != nil {
		return inventory.Sale{}, fmt.Errorf("failed to insert sale: %w", err)
	}
	if err := insertItems(ctx, ts.tx, sale.ID, sale.Items); err != nil {
		return inventory.Sale{}, err
	}
	return sale, nil
}

func (ts *txStore) ReplaceSale(ctx context.Context, id inventory.SaleID, items []inventory.SaleItem) (inventory.Sale, error) {
	existing, err := getSale(ctx, ts.tx, id)
	if err != nil {
		return inventory.Sale{}, err
	}
	if existing == nil {
		return inventory.Sale{}, inventory.ErrSaleNotFound
	}

	now := time.Now().UTC()
	if _, err := ts.tx.ExecContext(ctx,
		`UPDATE sales SET updated_at = ? WHERE id = ?`, formatTime(now), id); err != nil {
		return inventory.Sale{}, fmt.Errorf("failed to update sale: %w", err)
	}
	if _, err := ts.tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = ?`, id); err != nil {
		return inventory.Sale{}, fmt.Errorf("failed to clear sale items: %w", err)
	}
	if err := insertItems(ctx, ts.tx, id, items); err != nil {
		return inventory.Sale{}, err
	}

	existing.Items = inventory.CloneItems(items)
	existing.UpdatedAt = now
	return *existing, nil
}

func (ts *txStore) RemoveSale(ctx context.Context, id inventory.SaleID) (*inventory.Sale, error) {
	existing, err := getSale(ctx, ts.tx, id)
	if err != nil || existing == nil {
		return nil, err
	}
	if _, err := ts.tx.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete sale: %w", err)
	}
	return existing, nil
}

// =============================================================================
// SHARED QUERIES
// =============================================================================

func getProduct(ctx context.Context, db querier, id inventory.ProductID) (*inventory.Product, error) {
	products, err := queryProducts(ctx, db,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if err != nil || len(products) == 0 {
		return nil, err
	}
	return &products[0], nil
}

func queryProducts(ctx context.Context, db querier, query string, args ...any) ([]inventory.Product, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []inventory.Product
	for rows.Next() {
		var (
			p                    inventory.Product
			createdAt, updatedAt string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Quantity, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		products = append(products, p)
	}
	return products, rows.Err()
}

func setQuantity(ctx context.Context, db querier, id inventory.ProductID, name string, quantity int64) (inventory.Product, error) {
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx,
		`UPDATE products SET name = ?, quantity = ?, updated_at = ? WHERE id = ?`,
		name, quantity, formatTime(now), id,
	)
	if err != nil {
		return inventory.Product{}, translateError("failed to update product", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return inventory.Product{}, inventory.ErrProductNotFound
	}

	p, err := getProduct(ctx, db, id)
	if err != nil {
		return inventory.Product{}, err
	}
	if p == nil {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return *p, nil
}

func getSale(ctx context.Context, db querier, id inventory.SaleID) (*inventory.Sale, error) {
	var createdAt, updatedAt string
	err := db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM sales WHERE id = ?`, id,
	).Scan(&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT product_id, quantity FROM sale_items WHERE sale_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale items: %w", err)
	}
	defer rows.Close()

	sale := &inventory.Sale{
		ID:        id,
		Items:     []inventory.SaleItem{},
		CreatedAt: parseTime(createdAt),
		UpdatedAt: parseTime(updatedAt),
	}
	for rows.Next() {
		var item inventory.SaleItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		sale.Items = append(sale.Items, item)
	}
	return sale, rows.Err()
}

func insertItems(ctx context.Context, db querier, id inventory.SaleID, items []inventory.SaleItem) error {
	for i, item := range items {
		_, err := db.ExecContext(ctx,
			`INSERT INTO sale_items (sale_id, position, product_id, quantity) VALUES (?, ?, ?, ?)`,
			id, i, item.ProductID, item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("failed to insert sale item %d: %w", i, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// translateError maps SQLite constraint failures to inventory sentinels.
func translateError(msg string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %v", inventory.ErrProductExists, err)
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %v", inventory.ErrInvalidQuantity, err)
		}
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", inventory.ErrConcurrentModification, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
