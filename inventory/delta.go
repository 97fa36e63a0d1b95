package inventory

import "fmt"

// =============================================================================
// STOCK DELTA CALCULATOR - Pure quantity arithmetic, no I/O
// =============================================================================

// SumItems folds duplicate product lines into one line per product.
// The result keeps first-seen product order. A per-product total that does
// not fit in an int64 fails with ErrInvalidQuantity.
func SumItems(items []SaleItem) ([]SaleItem, error) {
	index := make(map[ProductID]int, len(items))
	out := make([]SaleItem, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			total, ok := addQuantity(out[i].Quantity, item.Quantity)
			if !ok {
				return nil, fmt.Errorf("%w: total for product %s overflows", ErrInvalidQuantity, item.ProductID)
			}
			out[i].Quantity = total
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, item)
	}
	return out, nil
}

// ComputeNewQuantities returns the candidate quantity of every product named
// in deltas after applying them to snap in the given direction.
//
// Duplicate product lines are summed first, so the result holds one level per
// product regardless of line order. Each product must be present in snap; a
// product that is not is skipped. snap itself is never modified.
//
// A total or a resulting quantity outside the int64 range fails with
// ErrInvalidQuantity instead of wrapping.
func ComputeNewQuantities(snap Snapshot, deltas []SaleItem, dir Direction) ([]StockLevel, error) {
	summed, err := SumItems(deltas)
	if err != nil {
		return nil, err
	}
	levels := make([]StockLevel, 0, len(summed))
	for _, d := range summed {
		entry, ok := snap[d.ProductID]
		if !ok {
			continue
		}
		var qty int64
		if dir == Increase {
			qty, ok = addQuantity(entry.Quantity, d.Quantity)
		} else {
			qty, ok = subQuantity(entry.Quantity, d.Quantity)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s of %d on product %s (stock %d) overflows",
				ErrInvalidQuantity, dir, d.Quantity, d.ProductID, entry.Quantity)
		}
		levels = append(levels, StockLevel{
			ProductID: d.ProductID,
			Name:      entry.Name,
			Quantity:  qty,
		})
	}
	return levels, nil
}

// FirstShortage returns an InsufficientStockError for the first level that
// went negative, measured against the stock it was computed from.
// Returns nil when every level is >= 0.
func FirstShortage(base Snapshot, levels []StockLevel) *InsufficientStockError {
	for _, level := range levels {
		if level.Quantity >= 0 {
			continue
		}
		available := base.Quantity(level.ProductID)
		return &InsufficientStockError{
			ProductID: level.ProductID,
			Available: available,
			Requested: available - level.Quantity,
			Shortfall: -level.Quantity,
		}
	}
	return nil
}

// ChangedLevels drops levels whose quantity equals the one in snap,
// so no-op deltas do not produce writes.
func ChangedLevels(snap Snapshot, levels []StockLevel) []StockLevel {
	out := make([]StockLevel, 0, len(levels))
	for _, level := range levels {
		if entry, ok := snap[level.ProductID]; ok && entry.Quantity == level.Quantity {
			continue
		}
		out = append(out, level)
	}
	return out
}

func addQuantity(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func subQuantity(a, b int64) (int64, bool) {
	diff := a - b
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return 0, false
	}
	return diff, true
}
