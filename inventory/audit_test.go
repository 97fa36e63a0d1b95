package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/inventory/store"
)

type staticSource struct {
	products []inventory.Product
	sales    []inventory.Sale
	err      error
}

func (s staticSource) ListProducts(context.Context) ([]inventory.Product, error) {
	return s.products, s.err
}

func (s staticSource) ListSales(context.Context) ([]inventory.Sale, error) {
	return s.sales, nil
}

func TestAudit_ReportsNegativeAndDangling(t *testing.T) {
	src := staticSource{
		products: []inventory.Product{
			{ID: "A", Quantity: 3},
			{ID: "B", Quantity: -1},
		},
		sales: []inventory.Sale{
			{ID: "s1", Items: []inventory.SaleItem{{ProductID: "A", Quantity: 1}, {ProductID: "gone", Quantity: 2}}},
		},
	}

	report, err := inventory.Audit(context.Background(), src)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Products)
	assert.Equal(t, 1, report.Sales)
	require.Len(t, report.NegativeProducts, 1)
	assert.Equal(t, inventory.ProductID("B"), report.NegativeProducts[0].ID)
	assert.Equal(t, []inventory.DanglingItem{{SaleID: "s1", ProductID: "gone", Quantity: 2}}, report.DanglingItems)
	assert.False(t, report.Clean())
}

func TestAudit_CleanAfterProductDelete(t *testing.T) {
	// GIVEN: A sale whose product was deleted
	// WHEN: Auditing
	// THEN: The dangling line is reported but the report stays clean

	ctx := context.Background()
	c, mem := newTestCoordinator(t)
	p1 := mustProduct(t, mem, "Martelo de Thor", 10)
	_, err := c.Create(ctx, []inventory.SaleItem{line(p1.ID, 2)})
	require.NoError(t, err)
	_, err = mem.DeleteProduct(ctx, p1.ID)
	require.NoError(t, err)

	report, err := inventory.Audit(ctx, mem)

	require.NoError(t, err)
	assert.Len(t, report.DanglingItems, 1)
	assert.True(t, report.Clean())
}

func TestAudit_PropagatesErrors(t *testing.T) {
	_, err := inventory.Audit(context.Background(), staticSource{err: errors.New("down")})

	assert.ErrorContains(t, err, "audit products")
}

var _ inventory.AuditSource = (*store.Memory)(nil)
