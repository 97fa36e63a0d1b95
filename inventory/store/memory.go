// Package store provides in-process Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps products and sales in maps guarded by one RWMutex.
// Creation order is tracked separately so listings are stable.
type Memory struct {
	mu           sync.RWMutex
	products     map[inventory.ProductID]inventory.Product
	productOrder []inventory.ProductID
	sales        map[inventory.SaleID]inventory.Sale
	saleOrder    []inventory.SaleID

	now   func() time.Time
	newID func() string
}

var _ inventory.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		products: make(map[inventory.ProductID]inventory.Product),
		sales:    make(map[inventory.SaleID]inventory.Sale),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (m *Memory) Close() error { return nil }

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

func (m *Memory) ListProducts(_ context.Context) ([]inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]inventory.Product, 0, len(m.productOrder))
	for _, id := range m.productOrder {
		result = append(result, m.products[id])
	}
	return result, nil
}

func (m *Memory) GetProduct(_ context.Context, id inventory.ProductID) (*inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProductLocked(id), nil
}

func (m *Memory) CreateProduct(_ context.Context, name string, quantity int64) (inventory.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nameTakenLocked(name, "") {
		return inventory.Product{}, inventory.ErrProductExists
	}
	now := m.now()
	p := inventory.Product{
		ID:        inventory.ProductID(m.newID()),
		Name:      name,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.products[p.ID] = p
	m.productOrder = append(m.productOrder, p.ID)
	return p, nil
}

func (m *Memory) UpdateProduct(_ context.Context, id inventory.ProductID, name string, quantity int64) (inventory.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[id]; !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	if m.nameTakenLocked(name, id) {
		return inventory.Product{}, inventory.ErrProductExists
	}
	return m.setQuantityLocked(id, name, quantity)
}

func (m *Memory) DeleteProduct(_ context.Context, id inventory.ProductID) (*inventory.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	delete(m.products, id)
	m.productOrder = removeID(m.productOrder, id)
	return &p, nil
}

// -----------------------------------------------------------------------------
// Sales
// -----------------------------------------------------------------------------

func (m *Memory) ListSales(_ context.Context) ([]inventory.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]inventory.Sale, 0, len(m.saleOrder))
	for _, id := range m.saleOrder {
		result = append(result, cloneSale(m.sales[id]))
	}
	return result, nil
}

func (m *Memory) GetSale(_ context.Context, id inventory.SaleID) (*inventory.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSaleLocked(id), nil
}

// -----------------------------------------------------------------------------
// Locked helpers, shared with the transactional view
// -----------------------------------------------------------------------------

func (m *Memory) getProductLocked(id inventory.ProductID) *inventory.Product {
	p, ok := m.products[id]
	if !ok {
		return nil
	}
	return &p
}

func (m *Memory) getProductsLocked(ids []inventory.ProductID) []inventory.Product {
	seen := make(map[inventory.ProductID]bool, len(ids))
	var result []inventory.Product
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := m.products[id]; ok {
			result = append(result, p)
		}
	}
	return result
}

func (m *Memory) setQuantityLocked(id inventory.ProductID, name string, quantity int64) (inventory.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	p.Name = name
	p.Quantity = quantity
	p.UpdatedAt = m.now()
	m.products[id] = p
	return p, nil
}

func (m *Memory) nameTakenLocked(name string, except inventory.ProductID) bool {
	for id, p := range m.products {
		if id != except && p.Name == name {
			return true
		}
	}
	return false
}

func (m *Memory) getSaleLocked(id inventory.SaleID) *inventory.Sale {
	s, ok := m.sales[id]
	if !ok {
		return nil
	}
	s = cloneSale(s)
	return &s
}

func (m *Memory) insertSaleLocked(items []inventory.SaleItem) inventory.Sale {
	now := m.now()
	s := inventory.Sale{
		ID:        inventory.SaleID(m.newID()),
		Items:     inventory.CloneItems(items),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sales[s.ID] = s
	m.saleOrder = append(m.saleOrder, s.ID)
	return cloneSale(s)
}

func (m *Memory) replaceSaleLocked(id inventory.SaleID, items []inventory.SaleItem) (inventory.Sale, error) {
	s, ok := m.sales[id]
	if !ok {
		return inventory.Sale{}, inventory.ErrSaleNotFound
	}
	s.Items = inventory.CloneItems(items)
	s.UpdatedAt = m.now()
	m.sales[id] = s
	return cloneSale(s), nil
}

func (m *Memory) removeSaleLocked(id inventory.SaleID) *inventory.Sale {
	s, ok := m.sales[id]
	if !ok {
		return nil
	}
	delete(m.sales, id)
	m.saleOrder = removeID(m.saleOrder, id)
	return &s
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so units never interleave.
func (m *Memory) WithTx(ctx context.Context, fn func(inventory.Ledgers) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	products     map[inventory.ProductID]inventory.Product
	productOrder []inventory.ProductID
	sales        map[inventory.SaleID]inventory.Sale
	saleOrder    []inventory.SaleID
}

func (m *Memory) snapshot() memorySnapshot {
	products := make(map[inventory.ProductID]inventory.Product, len(m.products))
	for k, v := range m.products {
		products[k] = v
	}
	sales := make(map[inventory.SaleID]inventory.Sale, len(m.sales))
	for k, v := range m.sales {
		sales[k] = cloneSale(v)
	}
	return memorySnapshot{
		products:     products,
		productOrder: append([]inventory.ProductID{}, m.productOrder...),
		sales:        sales,
		saleOrder:    append([]inventory.SaleID{}, m.saleOrder...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.products = s.products
	m.productOrder = s.productOrder
	m.sales = s.sales
	m.saleOrder = s.saleOrder
}

// txMemoryView runs against the parent's maps while WithTx holds the lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetProduct(_ context.Context, id inventory.ProductID) (*inventory.Product, error) {
	return tv.parent.getProductLocked(id), nil
}

func (tv *txMemoryView) GetProducts(_ context.Context, ids []inventory.ProductID) ([]inventory.Product, error) {
	return tv.parent.getProductsLocked(ids), nil
}

func (tv *txMemoryView) SetQuantity(_ context.Context, id inventory.ProductID, name string, quantity int64) (inventory.Product, error) {
	return tv.parent.setQuantityLocked(id, name, quantity)
}

func (tv *txMemoryView) GetSale(_ context.Context, id inventory.SaleID) (*inventory.Sale, error) {
	return tv.parent.getSaleLocked(id), nil
}

func (tv *txMemoryView) InsertSale(_ context.Context, items []inventory.SaleItem) (inventory.Sale, error) {
	return tv.parent.insertSaleLocked(items), nil
}

func (tv *txMemoryView) ReplaceSale(_ context.Context, id inventory.SaleID, items []inventory.SaleItem) (inventory.Sale, error) {
	return tv.parent.replaceSaleLocked(id, items)
}

func (tv *txMemoryView) RemoveSale(_ context.Context, id inventory.SaleID) (*inventory.Sale, error) {
	return tv.parent.removeSaleLocked(id), nil
}

func cloneSale(s inventory.Sale) inventory.Sale {
	s.Items = inventory.CloneItems(s.Items)
	return s
}

func removeID[T comparable](ids []T, id T) []T {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
