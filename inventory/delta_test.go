package inventory_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/inventory-engine/inventory"
)

func snap(entries map[inventory.ProductID]int64) inventory.Snapshot {
	s := make(inventory.Snapshot, len(entries))
	for id, qty := range entries {
		s[id] = inventory.StockEntry{Name: "product " + string(id), Quantity: qty}
	}
	return s
}

func item(id string, qty int64) inventory.SaleItem {
	return inventory.SaleItem{ProductID: inventory.ProductID(id), Quantity: qty}
}

// =============================================================================
// DELTA CALCULATOR TESTS
// =============================================================================

func TestComputeNewQuantities_Decrease(t *testing.T) {
	// GIVEN: A has 10, B has 5
	// WHEN: Selling 3 of A and 5 of B
	// THEN: A drops to 7 and B to 0, in item order

	base := snap(map[inventory.ProductID]int64{"A": 10, "B": 5})

	levels, err := inventory.ComputeNewQuantities(base, []inventory.SaleItem{item("A", 3), item("B", 5)}, inventory.Decrease)
	require.NoError(t, err)

	require.Len(t, levels, 2)
	assert.Equal(t, inventory.ProductID("A"), levels[0].ProductID)
	assert.Equal(t, int64(7), levels[0].Quantity)
	assert.Equal(t, "product A", levels[0].Name)
	assert.Equal(t, inventory.ProductID("B"), levels[1].ProductID)
	assert.Equal(t, int64(0), levels[1].Quantity)
}

func TestComputeNewQuantities_Increase(t *testing.T) {
	base := snap(map[inventory.ProductID]int64{"A": 7})

	levels, err := inventory.ComputeNewQuantities(base, []inventory.SaleItem{item("A", 3)}, inventory.Increase)
	require.NoError(t, err)

	require.Len(t, levels, 1)
	assert.Equal(t, int64(10), levels[0].Quantity)
}

func TestComputeNewQuantities_DuplicateLinesAreSummed(t *testing.T) {
	// GIVEN: A has 5
	// WHEN: Two lines sell 3 of A each
	// THEN: One level of -1 comes out, not two levels of 2

	base := snap(map[inventory.ProductID]int64{"A": 5})

	levels, err := inventory.ComputeNewQuantities(base, []inventory.SaleItem{item("A", 3), item("A", 3)}, inventory.Decrease)
	require.NoError(t, err)

	require.Len(t, levels, 1)
	assert.Equal(t, int64(-1), levels[0].Quantity)
}

func TestComputeNewQuantities_DoesNotModifySnapshot(t *testing.T) {
	base := snap(map[inventory.ProductID]int64{"A": 5})

	_, err := inventory.ComputeNewQuantities(base, []inventory.SaleItem{item("A", 2)}, inventory.Decrease)
	require.NoError(t, err)

	assert.Equal(t, int64(5), base.Quantity("A"))
}

func TestComputeNewQuantities_SkipsUnresolvedProducts(t *testing.T) {
	base := snap(map[inventory.ProductID]int64{"A": 5})

	levels, err := inventory.ComputeNewQuantities(base, []inventory.SaleItem{item("gone", 2), item("A", 1)}, inventory.Increase)
	require.NoError(t, err)

	require.Len(t, levels, 1)
	assert.Equal(t, inventory.ProductID("A"), levels[0].ProductID)
}

func TestComputeNewQuantities_RoundTrip(t *testing.T) {
	// GIVEN: Any snapshot and delta list
	// WHEN: Applying the deltas and then reverting them
	// THEN: Every quantity is back where it started

	base := snap(map[inventory.ProductID]int64{"A": 10, "B": 3, "C": 0})
	deltas := []inventory.SaleItem{item("A", 4), item("B", 3), item("A", 1), item("C", 0)}

	down, err := inventory.ComputeNewQuantities(base, deltas, inventory.Decrease)
	require.NoError(t, err)
	applied := base.With(down)
	up, err := inventory.ComputeNewQuantities(applied, deltas, inventory.Increase)
	require.NoError(t, err)
	reverted := applied.With(up)

	assert.Equal(t, base, reverted)
}

func TestSumItems_KeepsFirstSeenOrder(t *testing.T) {
	summed, err := inventory.SumItems([]inventory.SaleItem{item("B", 1), item("A", 2), item("B", 4)})

	require.NoError(t, err)
	assert.Equal(t, []inventory.SaleItem{item("B", 5), item("A", 2)}, summed)
}

func TestSumItems_OverflowIsRejected(t *testing.T) {
	_, err := inventory.SumItems([]inventory.SaleItem{item("A", math.MaxInt64), item("A", 1)})

	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestComputeNewQuantities_Overflow(t *testing.T) {
	// GIVEN: Quantities at the edges of the int64 range
	// WHEN: Summing or applying a delta past the edge
	// THEN: ErrInvalidQuantity comes out instead of a wrapped quantity

	tests := []struct {
		name  string
		stock int64
		lines []inventory.SaleItem
		dir   inventory.Direction
	}{
		{"duplicate max lines on decrease", 10, []inventory.SaleItem{item("A", math.MaxInt64), item("A", math.MaxInt64)}, inventory.Decrease},
		{"duplicate max lines on increase", 10, []inventory.SaleItem{item("A", math.MaxInt64), item("A", math.MaxInt64)}, inventory.Increase},
		{"restock past max", math.MaxInt64 - 1, []inventory.SaleItem{item("A", 2)}, inventory.Increase},
		{"sale below min", -2, []inventory.SaleItem{item("A", math.MaxInt64)}, inventory.Decrease},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := snap(map[inventory.ProductID]int64{"A": tt.stock})

			levels, err := inventory.ComputeNewQuantities(base, tt.lines, tt.dir)

			require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
			assert.Nil(t, levels)
			assert.Equal(t, tt.stock, base.Quantity("A"))
		})
	}
}

func TestComputeNewQuantities_MaxStockIsReachable(t *testing.T) {
	base := snap(map[inventory.ProductID]int64{"A": math.MaxInt64 - 1})

	levels, err := inventory.ComputeNewQuantities(base, []inventory.SaleItem{item("A", 1)}, inventory.Increase)

	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), levels[0].Quantity)
}

func TestFirstShortage(t *testing.T) {
	base := snap(map[inventory.ProductID]int64{"A": 10, "B": 5})
	levels := []inventory.StockLevel{
		{ProductID: "A", Quantity: 0},
		{ProductID: "B", Quantity: -2},
	}

	short := inventory.FirstShortage(base, levels)

	require.NotNil(t, short)
	assert.Equal(t, inventory.ProductID("B"), short.ProductID)
	assert.Equal(t, int64(5), short.Available)
	assert.Equal(t, int64(7), short.Requested)
	assert.Equal(t, int64(2), short.Shortfall)
	assert.True(t, errors.Is(short, inventory.ErrInsufficientStock))
}

func TestFirstShortage_NoneNegative(t *testing.T) {
	base := snap(map[inventory.ProductID]int64{"A": 1})

	assert.Nil(t, inventory.FirstShortage(base, []inventory.StockLevel{{ProductID: "A", Quantity: 0}}))
}

func TestChangedLevels_DropsNoOps(t *testing.T) {
	base := snap(map[inventory.ProductID]int64{"A": 10, "B": 5})
	levels := []inventory.StockLevel{
		{ProductID: "A", Quantity: 10},
		{ProductID: "B", Quantity: 4},
	}

	changed := inventory.ChangedLevels(base, levels)

	require.Len(t, changed, 1)
	assert.Equal(t, inventory.ProductID("B"), changed[0].ProductID)
}

// =============================================================================
// REBALANCE TESTS
// =============================================================================

func TestRebalance_RevertThenApply(t *testing.T) {
	// GIVEN: A at 7 after a sale of 3
	// WHEN: The sale is changed to 5 of A
	// THEN: A ends at 5 (7 + 3 - 5)

	base := snap(map[inventory.ProductID]int64{"A": 7})

	levels, err := inventory.Rebalance(base, []inventory.SaleItem{item("A", 3)}, []inventory.SaleItem{item("A", 5)})

	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, int64(5), levels[0].Quantity)
}

func TestRebalance_ValidatesOnlyFinalStock(t *testing.T) {
	// GIVEN: A at 0 after selling its 4 units
	// WHEN: The sale is changed to 4 of A
	// THEN: Nothing needs writing; the revert makes the units available again

	base := snap(map[inventory.ProductID]int64{"A": 0})

	levels, err := inventory.Rebalance(base, []inventory.SaleItem{item("A", 4)}, []inventory.SaleItem{item("A", 4)})

	require.NoError(t, err)
	assert.Empty(t, levels)
}

func TestRebalance_Shortage(t *testing.T) {
	base := snap(map[inventory.ProductID]int64{"A": 7})

	_, err := inventory.Rebalance(base, []inventory.SaleItem{item("A", 3)}, []inventory.SaleItem{item("A", 11)})

	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(10), stockErr.Available)
	assert.Equal(t, int64(1), stockErr.Shortfall)
}

func TestRebalance_MovesStockBetweenProducts(t *testing.T) {
	base := snap(map[inventory.ProductID]int64{"A": 7, "B": 5})

	levels, err := inventory.Rebalance(base, []inventory.SaleItem{item("A", 3)}, []inventory.SaleItem{item("B", 2)})

	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, inventory.StockLevel{ProductID: "A", Name: "product A", Quantity: 10}, levels[0])
	assert.Equal(t, inventory.StockLevel{ProductID: "B", Name: "product B", Quantity: 3}, levels[1])
}

// =============================================================================
// SNAPSHOT TESTS
// =============================================================================

type countingLedger struct {
	products map[inventory.ProductID]inventory.Product
	batches  int
	lastIDs  []inventory.ProductID
}

func (c *countingLedger) GetProduct(_ context.Context, id inventory.ProductID) (*inventory.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *countingLedger) GetProducts(_ context.Context, ids []inventory.ProductID) ([]inventory.Product, error) {
	c.batches++
	c.lastIDs = ids
	var out []inventory.Product
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *countingLedger) SetQuantity(_ context.Context, id inventory.ProductID, name string, qty int64) (inventory.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	p.Name, p.Quantity = name, qty
	c.products[id] = p
	return p, nil
}

func TestResolveSnapshot_OneBatchWithDistinctIDs(t *testing.T) {
	// GIVEN: A sale referencing A twice and an unknown product
	// WHEN: Resolving its snapshot
	// THEN: One batch read with distinct ids, and the unknown id reported missing

	ledger := &countingLedger{products: map[inventory.ProductID]inventory.Product{
		"A": {ID: "A", Name: "alpha", Quantity: 4},
	}}

	s, missing, err := inventory.ResolveSnapshot(context.Background(), ledger, []inventory.ProductID{"A", "X", "A"})

	require.NoError(t, err)
	assert.Equal(t, 1, ledger.batches)
	assert.Equal(t, []inventory.ProductID{"A", "X"}, ledger.lastIDs)
	assert.Equal(t, []inventory.ProductID{"X"}, missing)
	assert.Equal(t, inventory.StockEntry{Name: "alpha", Quantity: 4}, s["A"])
}

func TestResolveSnapshot_EmptyIDsSkipsRead(t *testing.T) {
	ledger := &countingLedger{}

	s, missing, err := inventory.ResolveSnapshot(context.Background(), ledger, nil)

	require.NoError(t, err)
	assert.Empty(t, s)
	assert.Empty(t, missing)
	assert.Zero(t, ledger.batches)
}

func TestApplyStock_AggregatesFailures(t *testing.T) {
	ledger := &countingLedger{products: map[inventory.ProductID]inventory.Product{
		"A": {ID: "A", Name: "alpha", Quantity: 4},
	}}

	err := inventory.ApplyStock(context.Background(), ledger, []inventory.StockLevel{
		{ProductID: "X", Quantity: 1},
		{ProductID: "A", Name: "alpha", Quantity: 2},
		{ProductID: "Y", Quantity: 1},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
	assert.Contains(t, err.Error(), "X")
	assert.Contains(t, err.Error(), "Y")
	assert.Equal(t, int64(2), ledger.products["A"].Quantity, "writes after a failure are still attempted")
}
