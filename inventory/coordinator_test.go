package inventory_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/inventory/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestCoordinator(t *testing.T) (*inventory.Coordinator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	t.Cleanup(func() { mem.Close() })
	return inventory.NewCoordinator(mem, inventory.Options{RetryBackoff: time.Millisecond}), mem
}

func mustProduct(t *testing.T, mem *store.Memory, name string, qty int64) inventory.Product {
	t.Helper()
	p, err := mem.CreateProduct(context.Background(), name, qty)
	require.NoError(t, err)
	return p
}

func quantityOf(t *testing.T, mem *store.Memory, id inventory.ProductID) int64 {
	t.Helper()
	p, err := mem.GetProduct(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p, "product %s should exist", id)
	return p.Quantity
}

func line(id inventory.ProductID, qty int64) inventory.SaleItem {
	return inventory.SaleItem{ProductID: id, Quantity: qty}
}

type recordedOp struct {
	op      inventory.Operation
	outcome string
}

type fakeRecorder struct {
	mu      sync.Mutex
	ops     []recordedOp
	retries int
}

func (r *fakeRecorder) ObserveOperation(op inventory.Operation, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{op: op, outcome: outcome})
}

func (r *fakeRecorder) ObserveRetry(inventory.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_DecrementsStock(t *testing.T) {
	// GIVEN: P1 with 100 units
	// WHEN: Selling 2
	// THEN: The sale is stored and P1 holds 98

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 100)

	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 2)})

	require.NoError(t, err)
	assert.NotEmpty(t, sale.ID)
	assert.Equal(t, []inventory.SaleItem{line(p1.ID, 2)}, sale.Items)
	assert.Equal(t, int64(98), quantityOf(t, mem, p1.ID))

	stored, err := mem.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, sale.Items, stored.Items)
}

func TestCreate_InsufficientStock_NothingWritten(t *testing.T) {
	// GIVEN: P1 with 1 unit
	// WHEN: Selling 2
	// THEN: InsufficientStock, P1 still holds 1 and no sale exists

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 1)

	_, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 2)})

	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, p1.ID, stockErr.ProductID)
	assert.Equal(t, int64(1), stockErr.Available)
	assert.Equal(t, int64(2), stockErr.Requested)
	assert.Equal(t, int64(1), quantityOf(t, mem, p1.ID))

	sales, err := mem.ListSales(ctx)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestCreate_UnknownProduct_InvalidReference(t *testing.T) {
	// GIVEN: P1 exists, "ghost" does not
	// WHEN: Selling from both
	// THEN: InvalidReference naming ghost; P1 untouched and no sale stored

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)

	_, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 2), line("ghost", 1)})

	var refErr *inventory.InvalidReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, []inventory.ProductID{"ghost"}, refErr.Missing)
	assert.ErrorIs(t, err, inventory.ErrInvalidReference)
	assert.Equal(t, int64(10), quantityOf(t, mem, p1.ID))

	sales, err := mem.ListSales(ctx)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestCreate_DuplicateLinesAreSummed(t *testing.T) {
	// GIVEN: P1 with 5 units
	// WHEN: Two lines sell 3 each
	// THEN: Rejected, because together they need 6

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 5)

	_, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 3), line(p1.ID, 3)})

	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, int64(5), quantityOf(t, mem, p1.ID))
}

func TestCreate_DuplicateLinesWithinStock(t *testing.T) {
	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 6)

	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 3), line(p1.ID, 3)})

	require.NoError(t, err)
	assert.Len(t, sale.Items, 2, "lines are stored as submitted")
	assert.Equal(t, int64(0), quantityOf(t, mem, p1.ID))
}

func TestCreate_NegativeQuantity_InvalidQuantity(t *testing.T) {
	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 5)

	_, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, -3)})

	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	assert.Equal(t, int64(5), quantityOf(t, mem, p1.ID))
}

func TestCreate_OverflowingLines_InvalidQuantity(t *testing.T) {
	// GIVEN: P1 with 10 units
	// WHEN: Two lines of MaxInt64 each, whose sum wraps to -2
	// THEN: The sale is rejected and no stock is credited

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)

	_, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, math.MaxInt64), line(p1.ID, math.MaxInt64)})

	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	assert.Equal(t, int64(10), quantityOf(t, mem, p1.ID))

	sales, err := mem.ListSales(ctx)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestUpdate_OverflowingLines_SaleAndStockUnchanged(t *testing.T) {
	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)
	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 2)})
	require.NoError(t, err)

	_, err = c.Update(ctx, sale.ID, []inventory.SaleItem{line(p1.ID, math.MaxInt64), line(p1.ID, 1)})

	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	assert.Equal(t, int64(8), quantityOf(t, mem, p1.ID))
	stored, err := mem.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, sale.Items, stored.Items)
}

func TestCreate_ConcurrentSalesNeverOversell(t *testing.T) {
	// GIVEN: P1 with 10 units
	// WHEN: 25 concurrent sales of 1 unit each
	// THEN: Exactly 10 succeed and P1 ends at 0

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 1)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, inventory.ErrInsufficientStock) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 15, rejected)
	assert.Equal(t, int64(0), quantityOf(t, mem, p1.ID))
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdate_RevertsThenApplies(t *testing.T) {
	// GIVEN: Sale of 2 against P1, which now holds 98
	// WHEN: Changing the sale to 4
	// THEN: P1 holds 96 (98 + 2 - 4)

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 100)
	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 2)})
	require.NoError(t, err)
	require.Equal(t, int64(98), quantityOf(t, mem, p1.ID))

	updated, err := c.Update(ctx, sale.ID, []inventory.SaleItem{line(p1.ID, 4)})

	require.NoError(t, err)
	assert.Equal(t, sale.ID, updated.ID)
	assert.Equal(t, []inventory.SaleItem{line(p1.ID, 4)}, updated.Items)
	assert.Equal(t, int64(96), quantityOf(t, mem, p1.ID))
}

func TestUpdate_SwitchesProducts(t *testing.T) {
	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)
	p2 := mustProduct(t, mem, "Escudo do Capitao", 10)
	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 3)})
	require.NoError(t, err)

	_, err = c.Update(ctx, sale.ID, []inventory.SaleItem{line(p2.ID, 4)})

	require.NoError(t, err)
	assert.Equal(t, int64(10), quantityOf(t, mem, p1.ID))
	assert.Equal(t, int64(6), quantityOf(t, mem, p2.ID))
}

func TestUpdate_UsesRevertedStockForValidation(t *testing.T) {
	// GIVEN: P1 sold out by a sale of 5
	// WHEN: Changing that sale to 5 again
	// THEN: Allowed, because the old 5 units are given back first

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 5)
	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 5)})
	require.NoError(t, err)

	_, err = c.Update(ctx, sale.ID, []inventory.SaleItem{line(p1.ID, 5)})

	require.NoError(t, err)
	assert.Equal(t, int64(0), quantityOf(t, mem, p1.ID))
}

func TestUpdate_InsufficientStock_SaleAndStockUnchanged(t *testing.T) {
	// GIVEN: Sale of 2 against P1 (98 left)
	// WHEN: Changing the sale to 101
	// THEN: Rejected; neither the revert nor the sale change is kept

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 100)
	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 2)})
	require.NoError(t, err)

	_, err = c.Update(ctx, sale.ID, []inventory.SaleItem{line(p1.ID, 101)})

	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, int64(98), quantityOf(t, mem, p1.ID))
	stored, err := mem.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []inventory.SaleItem{line(p1.ID, 2)}, stored.Items)
}

func TestUpdate_UnknownSale(t *testing.T) {
	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 100)

	_, err := c.Update(ctx, "missing", []inventory.SaleItem{line(p1.ID, 1)})

	assert.ErrorIs(t, err, inventory.ErrSaleNotFound)
	assert.Equal(t, int64(100), quantityOf(t, mem, p1.ID))
}

func TestUpdate_UnknownNewProduct_InvalidReference(t *testing.T) {
	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 100)
	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 2)})
	require.NoError(t, err)

	_, err = c.Update(ctx, sale.ID, []inventory.SaleItem{line("ghost", 1)})

	assert.ErrorIs(t, err, inventory.ErrInvalidReference)
	assert.Equal(t, int64(98), quantityOf(t, mem, p1.ID))
}

func TestUpdate_OldProductDeleted_SkipsRevert(t *testing.T) {
	// GIVEN: A sale of P1 whose product was deleted afterwards
	// WHEN: Changing the sale to P2
	// THEN: P2 is decremented; the missing P1 is not an error

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)
	p2 := mustProduct(t, mem, "Escudo do Capitao", 10)
	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 2)})
	require.NoError(t, err)
	_, err = mem.DeleteProduct(ctx, p1.ID)
	require.NoError(t, err)

	_, err = c.Update(ctx, sale.ID, []inventory.SaleItem{line(p2.ID, 1)})

	require.NoError(t, err)
	assert.Equal(t, int64(9), quantityOf(t, mem, p2.ID))
}

// =============================================================================
// DELETE
// =============================================================================

func TestDelete_RestoresStock(t *testing.T) {
	// GIVEN: Sale of 2 against P1 (98 left)
	// WHEN: Deleting the sale
	// THEN: P1 is back at 100 and the sale is gone

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 100)
	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 2)})
	require.NoError(t, err)

	deleted, err := c.Delete(ctx, sale.ID)

	require.NoError(t, err)
	assert.Equal(t, sale.ID, deleted.ID)
	assert.Equal(t, sale.Items, deleted.Items)
	assert.Equal(t, int64(100), quantityOf(t, mem, p1.ID))

	gone, err := mem.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDelete_UnknownSale(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, err := c.Delete(context.Background(), "missing")

	assert.ErrorIs(t, err, inventory.ErrSaleNotFound)
}

func TestDelete_ProductGone_StillRemovesSale(t *testing.T) {
	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)
	p2 := mustProduct(t, mem, "Escudo do Capitao", 10)
	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 2), line(p2.ID, 3)})
	require.NoError(t, err)
	_, err = mem.DeleteProduct(ctx, p1.ID)
	require.NoError(t, err)

	_, err = c.Delete(ctx, sale.ID)

	require.NoError(t, err)
	assert.Equal(t, int64(10), quantityOf(t, mem, p2.ID))
	gone, err := mem.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCreateThenDelete_RoundTrip(t *testing.T) {
	// GIVEN: Several products
	// WHEN: Creating a sale and deleting it again
	// THEN: Every quantity is back to where it started

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 7)
	p2 := mustProduct(t, mem, "Escudo do Capitao", 3)

	sale, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 4), line(p2.ID, 3), line(p1.ID, 1)})
	require.NoError(t, err)
	_, err = c.Delete(ctx, sale.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(7), quantityOf(t, mem, p1.ID))
	assert.Equal(t, int64(3), quantityOf(t, mem, p2.ID))
}

// =============================================================================
// RETRIES AND OUTCOMES
// =============================================================================

// flakyStore fails the first n units with a conflict, then delegates.
type flakyStore struct {
	inner     inventory.TxStore
	conflicts int
	calls     int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(inventory.Ledgers) error) error {
	f.calls++
	if f.calls <= f.conflicts {
		return inventory.ErrConcurrentModification
	}
	return f.inner.WithTx(ctx, fn)
}

func TestRun_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)
	flaky := &flakyStore{inner: mem, conflicts: 2}
	rec := &fakeRecorder{}
	c := inventory.NewCoordinator(flaky, inventory.Options{MaxAttempts: 3, Recorder: rec})

	_, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 1)})

	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, 2, rec.retries)
	assert.Equal(t, []recordedOp{{op: inventory.OpCreate, outcome: "ok"}}, rec.ops)
	assert.Equal(t, int64(9), quantityOf(t, mem, p1.ID))
}

func TestRun_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)
	flaky := &flakyStore{inner: mem, conflicts: 10}
	rec := &fakeRecorder{}
	c := inventory.NewCoordinator(flaky, inventory.Options{MaxAttempts: 3, Recorder: rec})

	_, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 1)})

	assert.ErrorIs(t, err, inventory.ErrConcurrentModification)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, []recordedOp{{op: inventory.OpCreate, outcome: "conflict"}}, rec.ops)
	assert.Equal(t, int64(10), quantityOf(t, mem, p1.ID))
}

// partialStore reports a partial application without retrying.
type partialStore struct {
	calls int
}

func (p *partialStore) WithTx(context.Context, func(inventory.Ledgers) error) error {
	p.calls++
	return &inventory.PartiallyAppliedError{
		Applied: []inventory.ProductID{"A"},
		Failed:  []inventory.ProductID{"B"},
		Cause:   errors.New("WRONGTYPE"),
	}
}

func TestRun_NegativeBackoffUsesDefault(t *testing.T) {
	// GIVEN: A store that conflicts once and a negative RetryBackoff
	// WHEN: Creating a sale
	// THEN: The retry waits DefaultRetryBackoff instead of spinning

	mem := store.NewMemory()
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)
	flaky := &flakyStore{inner: mem, conflicts: 1}
	c := inventory.NewCoordinator(flaky, inventory.Options{RetryBackoff: -time.Second})

	start := time.Now()
	_, err := c.Create(context.Background(), []inventory.SaleItem{line(p1.ID, 1)})

	require.NoError(t, err)
	assert.Equal(t, 2, flaky.calls)
	assert.GreaterOrEqual(t, time.Since(start), inventory.DefaultRetryBackoff)
}

func TestRun_PartiallyAppliedIsNotRetried(t *testing.T) {
	ps := &partialStore{}
	rec := &fakeRecorder{}
	c := inventory.NewCoordinator(ps, inventory.Options{MaxAttempts: 5, Recorder: rec})

	_, err := c.Delete(context.Background(), "any")

	var partial *inventory.PartiallyAppliedError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []inventory.ProductID{"A"}, partial.Applied)
	assert.ErrorIs(t, err, inventory.ErrPartiallyApplied)
	assert.Equal(t, 1, ps.calls)
	assert.Equal(t, []recordedOp{{op: inventory.OpDelete, outcome: "partially_applied"}}, rec.ops)
}

func TestRun_OperationTimeout(t *testing.T) {
	mem := store.NewMemory()
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)
	flaky := &flakyStore{inner: mem, conflicts: 1000}
	c := inventory.NewCoordinator(flaky, inventory.Options{
		OperationTimeout: 20 * time.Millisecond,
		MaxAttempts:      1000,
		RetryBackoff:     5 * time.Millisecond,
	})

	_, err := c.Create(context.Background(), []inventory.SaleItem{line(p1.ID, 1)})

	assert.ErrorIs(t, err, inventory.ErrConcurrentModification)
	assert.ErrorContains(t, err, "gave up")
	assert.Less(t, flaky.calls, 1000)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&inventory.InvalidReferenceError{Missing: []inventory.ProductID{"x"}}, "invalid_reference"},
		{inventory.ErrInvalidQuantity, "invalid_quantity"},
		{&inventory.InsufficientStockError{}, "insufficient_stock"},
		{inventory.ErrSaleNotFound, "sale_not_found"},
		{inventory.ErrConcurrentModification, "conflict"},
		{&inventory.PartiallyAppliedError{Cause: errors.New("boom")}, "partially_applied"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("disk full"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, inventory.Outcome(tt.err))
		})
	}
}
