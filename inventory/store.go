/*
store.go - Persistence interfaces for products and sales

PURPOSE:
  Defines the boundary between the stock rules and the database. Stores
  handle persistence; the coordinator decides what to write.

KEY INTERFACES:
  ProductLedger: Point lookup, batch lookup, quantity write
  SaleLedger:    Sale lookup, insert, replace, remove
  Ledgers:       Both ledgers seen through one atomic unit
  TxStore:       Runs a function inside a store-native atomic unit
  Catalog:       Direct product CRUD (the second writer of Quantity)
  Store:         Everything the HTTP layer needs

ATOMIC UNITS:
  Every coordinator operation runs inside TxStore.WithTx. The unit covers the
  snapshot read, the validation and every write, so two sales against the same
  product cannot both read the same starting quantity:
  - memory: one critical section, state restored if fn fails
  - sqlite: BEGIN IMMEDIATE transaction
  - redis:  WATCH on every key read, MULTI/EXEC for the writes; a changed
            watched key fails the unit with ErrConcurrentModification

ABSENT RECORDS:
  Lookups return (nil, nil) when the record does not exist. Errors are
  reserved for the store itself failing.

IMPLEMENTATIONS:
  - inventory/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/redis/redis.go: Redis documents with optimistic locking

SEE ALSO:
  - coordinator.go: The only caller of WithTx
*/
package inventory

import "context"

// =============================================================================
// LEDGERS - Used inside an atomic unit
// =============================================================================

// ProductLedger owns product records.
type ProductLedger interface {
	// GetProduct returns the product, or nil if it does not exist.
	GetProduct(ctx context.Context, id ProductID) (*Product, error)

	// GetProducts returns the existing products among ids in one round trip.
	// Missing ids are skipped. Duplicates in ids are allowed.
	GetProducts(ctx context.Context, ids []ProductID) ([]Product, error)

	// SetQuantity overwrites the product's name and quantity.
	// Returns ErrProductNotFound if the product does not exist.
	SetQuantity(ctx context.Context, id ProductID, name string, quantity int64) (Product, error)
}

// SaleLedger owns sale records.
type SaleLedger interface {
	// GetSale returns the sale, or nil if it does not exist.
	GetSale(ctx context.Context, id SaleID) (*Sale, error)

	// InsertSale stores a new sale and returns it with its issued id.
	InsertSale(ctx context.Context, items []SaleItem) (Sale, error)

	// ReplaceSale overwrites the items of an existing sale.
	// Returns ErrSaleNotFound if the sale does not exist.
	ReplaceSale(ctx context.Context, id SaleID, items []SaleItem) (Sale, error)

	// RemoveSale deletes the sale and returns its prior contents,
	// or nil if it did not exist.
	RemoveSale(ctx context.Context, id SaleID) (*Sale, error)
}

// Ledgers is the view of both ledgers inside one atomic unit.
type Ledgers interface {
	ProductLedger
	SaleLedger
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore runs fn inside a store-native atomic unit.
// If fn returns an error nothing fn wrote is kept.
// If fn returns nil every write is committed together.
type TxStore interface {
	WithTx(ctx context.Context, fn func(Ledgers) error) error
}

// =============================================================================
// CATALOG - Direct product and sale reads/writes outside the coordinator
// =============================================================================

// Catalog is the product CRUD surface.
type Catalog interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id ProductID) (*Product, error)

	// CreateProduct returns ErrProductExists when the name is taken.
	CreateProduct(ctx context.Context, name string, quantity int64) (Product, error)

	// UpdateProduct returns ErrProductNotFound when the product is missing.
	UpdateProduct(ctx context.Context, id ProductID, name string, quantity int64) (Product, error)

	// DeleteProduct returns the removed product, or nil if it did not exist.
	DeleteProduct(ctx context.Context, id ProductID) (*Product, error)
}

// SaleReader reads sales outside any atomic unit.
type SaleReader interface {
	ListSales(ctx context.Context) ([]Sale, error)
	GetSale(ctx context.Context, id SaleID) (*Sale, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	TxStore
	Catalog
	SaleReader
	Close() error
}
