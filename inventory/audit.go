package inventory

import (
	"context"
	"fmt"
)

// =============================================================================
// DRIFT AUDIT - Read-only scan for stock that no operation should produce
// =============================================================================

// DanglingItem is a sale line whose product no longer exists.
type DanglingItem struct {
	SaleID    SaleID
	ProductID ProductID
	Quantity  int64
}

// DriftReport is the result of one audit pass.
type DriftReport struct {
	Products         int
	Sales            int
	NegativeProducts []Product
	DanglingItems    []DanglingItem
}

// Clean reports whether the pass found no negative stock. Dangling items are
// expected after product deletes and do not make a report dirty.
func (r DriftReport) Clean() bool {
	return len(r.NegativeProducts) == 0
}

// AuditSource is what an audit pass reads.
type AuditSource interface {
	ListProducts(ctx context.Context) ([]Product, error)
	ListSales(ctx context.Context) ([]Sale, error)
}

// Audit scans every product and sale once.
//
// Products are listed before sales, so a sale committed between the two
// reads may show up against the older product list; the scan is advisory.
func Audit(ctx context.Context, src AuditSource) (DriftReport, error) {
	products, err := src.ListProducts(ctx)
	if err != nil {
		return DriftReport{}, fmt.Errorf("audit products: %w", err)
	}
	sales, err := src.ListSales(ctx)
	if err != nil {
		return DriftReport{}, fmt.Errorf("audit sales: %w", err)
	}

	report := DriftReport{Products: len(products), Sales: len(sales)}
	known := make(map[ProductID]struct{}, len(products))
	for _, p := range products {
		known[p.ID] = struct{}{}
		if p.Quantity < 0 {
			report.NegativeProducts = append(report.NegativeProducts, p)
		}
	}
	for _, s := range sales {
		for _, item := range s.Items {
			if _, ok := known[item.ProductID]; !ok {
				report.DanglingItems = append(report.DanglingItems, DanglingItem{
					SaleID:    s.ID,
					ProductID: item.ProductID,
					Quantity:  item.Quantity,
				})
			}
		}
	}
	return report, nil
}
