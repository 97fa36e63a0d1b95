package inventory

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// ApplyStock writes every level through products as one batch.
//
// All writes are attempted even when one fails, and every failure is folded
// into the returned error, so the caller sees the whole batch outcome before
// it moves on to the sale write. Inside WithTx a non-nil result discards the
// batch.
func ApplyStock(ctx context.Context, products ProductLedger, levels []StockLevel) error {
	var errs error
	for _, level := range levels {
		if _, err := products.SetQuantity(ctx, level.ProductID, level.Name, level.Quantity); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("set quantity of %s to %d: %w", level.ProductID, level.Quantity, err))
		}
	}
	return errs
}
