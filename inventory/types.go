/*
Package inventory provides the stock-consistency engine for products and sales.

PURPOSE:
  A sale decrements product stock. Editing a sale reverts its old effect and
  applies the new one; deleting a sale gives the sold units back. This package
  owns the rules that keep per-product quantities correct while those
  compensating writes land across several independent records.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: A stocked item with a non-negative quantity
  - Sale: An ordered list of (product, quantity) lines
  - StockLevel: A candidate quantity for one product, carried with its name
  - Direction: Whether a delta gives stock back or takes it away

INVARIANTS:
  1. Product.Quantity is never negative after a committed operation
  2. A Sale only references products that existed when it was committed
  3. A Sale does not own its products (no cascading delete)

USAGE:
  sale, err := coordinator.Create(ctx, []inventory.SaleItem{
      {ProductID: p.ID, Quantity: 2},
  })
  if errors.Is(err, inventory.ErrInsufficientStock) {
      // nothing was written
  }

SEE ALSO:
  - snapshot.go: Batch stock reads
  - delta.go: Pure quantity arithmetic
  - coordinator.go: Create / Update / Delete orchestration
  - store.go: Ledger interfaces implemented by the stores
*/
package inventory

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ProductID identifies a product. Stores issue UUID strings.
type ProductID string

// SaleID identifies a sale. Stores issue UUID strings.
type SaleID string

// =============================================================================
// PRODUCT
// =============================================================================

// Product is a stocked item.
type Product struct {
	ID        ProductID
	Name      string
	Quantity  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// SALE
// =============================================================================

// SaleItem is one line of a sale.
type SaleItem struct {
	ProductID ProductID
	Quantity  int64
}

// Sale records units sold against products. Items keep the order they were
// submitted in; duplicate product lines are allowed and are summed whenever
// stock is computed.
type Sale struct {
	ID        SaleID
	Items     []SaleItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductIDs returns the product ids of the sale lines, in order, duplicates kept.
func (s Sale) ProductIDs() []ProductID {
	return ItemProductIDs(s.Items)
}

// ItemProductIDs returns the product ids referenced by items, in order.
func ItemProductIDs(items []SaleItem) []ProductID {
	ids := make([]ProductID, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	return ids
}

// CloneItems returns a copy of items so callers cannot alias stored slices.
func CloneItems(items []SaleItem) []SaleItem {
	if items == nil {
		return []SaleItem{}
	}
	out := make([]SaleItem, len(items))
	copy(out, items)
	return out
}

// =============================================================================
// STOCK
// =============================================================================

// StockLevel is the quantity a product should hold after an operation.
// Name travels with it because product writes replace the whole record.
type StockLevel struct {
	ProductID ProductID
	Name      string
	Quantity  int64
}

// Direction is the sign applied to a list of deltas.
type Direction int

const (
	// Decrease takes units out of stock (a sale being applied).
	Decrease Direction = iota
	// Increase puts units back into stock (a sale being reverted).
	Increase
)

func (d Direction) String() string {
	if d == Increase {
		return "increase"
	}
	return "decrease"
}
