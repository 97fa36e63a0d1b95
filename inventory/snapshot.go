package inventory

import (
	"context"
	"fmt"
)

// =============================================================================
// STOCK SNAPSHOT - Point-in-time quantities of the products an operation touches
// =============================================================================

// StockEntry is what a snapshot knows about one product.
type StockEntry struct {
	Name     string
	Quantity int64
}

// Snapshot maps product ids to their quantity at read time.
// It is a value: computing new quantities never changes it.
type Snapshot map[ProductID]StockEntry

// Has reports whether id resolved.
func (s Snapshot) Has(id ProductID) bool {
	_, ok := s[id]
	return ok
}

// Quantity returns the quantity for id, zero if it did not resolve.
func (s Snapshot) Quantity(id ProductID) int64 {
	return s[id].Quantity
}

// With returns a copy of the snapshot with levels applied on top.
// Used to chain a revert and an apply in one validated batch.
func (s Snapshot) With(levels []StockLevel) Snapshot {
	out := make(Snapshot, len(s))
	for id, entry := range s {
		out[id] = entry
	}
	for _, level := range levels {
		out[level.ProductID] = StockEntry{Name: level.Name, Quantity: level.Quantity}
	}
	return out
}

// ResolveSnapshot reads the current stock for ids in one batch.
//
// ids may contain duplicates and is not assumed to be deduplicated. Ids that
// do not resolve are absent from the snapshot and returned in missing, in
// first-seen order. A missing id is not an error by itself; the caller decides.
func ResolveSnapshot(ctx context.Context, products ProductLedger, ids []ProductID) (Snapshot, []ProductID, error) {
	distinct := DistinctProductIDs(ids)
	if len(distinct) == 0 {
		return Snapshot{}, nil, nil
	}

	found, err := products.GetProducts(ctx, distinct)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve stock snapshot: %w", err)
	}

	snap := make(Snapshot, len(found))
	for _, p := range found {
		snap[p.ID] = StockEntry{Name: p.Name, Quantity: p.Quantity}
	}

	var missing []ProductID
	for _, id := range distinct {
		if !snap.Has(id) {
			missing = append(missing, id)
		}
	}
	return snap, missing, nil
}

// DistinctProductIDs returns ids without duplicates, keeping first-seen order.
func DistinctProductIDs(ids []ProductID) []ProductID {
	seen := make(map[ProductID]struct{}, len(ids))
	out := make([]ProductID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
