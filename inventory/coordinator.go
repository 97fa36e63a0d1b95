/*
coordinator.go - Sale create / update / delete with consistent stock

PURPOSE:
  Orchestrates the stock-consistency protocol. Every operation follows the
  same shape:

    1. Snapshot   - read the affected products in one batch
    2. Validate   - compute the post-operation stock, reject if any is < 0
    3. Apply      - write the changed quantities as one batch
    4. Record     - write (or remove) the sale

CONSISTENCY:
  All four steps run inside one TxStore.WithTx unit, so the quantities that
  were validated are the quantities that get overwritten. Without that, two
  sales against the same product can both read 10 units, both pass
  validation and both write, overselling stock (lost update).

  Stores that use optimistic locking report a lost race as
  ErrConcurrentModification. The coordinator retries those up to
  MaxAttempts times with a linear backoff. Any other error ends the
  operation.

UPDATE:
  An update reverts the old items and applies the new ones against a single
  snapshot covering both item lists, in one validated batch. The old sale's
  effect is never committed separately from the new one.

REJECTIONS:
  InvalidReference, InvalidQuantity, InsufficientStock and SaleNotFound are
  returned before any write, so a rejected operation leaves every stored
  record untouched.

TIMEOUTS:
  Each operation runs under OperationTimeout, retries included.

SEE ALSO:
  - snapshot.go: ResolveSnapshot
  - delta.go: ComputeNewQuantities, FirstShortage
  - store.go: TxStore contract
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/inventory-engine/logger"
	"go.uber.org/zap"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Operation names a coordinator operation for logs and metrics.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Recorder receives operation outcomes. metrics.Prometheus implements it.
type Recorder interface {
	ObserveOperation(op Operation, outcome string, elapsed time.Duration)
	ObserveRetry(op Operation)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(Operation, string, time.Duration) {}
func (nopRecorder) ObserveRetry(Operation)                            {}

// Options configures a Coordinator. A zero timeout or attempt count falls
// back to the default. A zero RetryBackoff retries immediately and a negative
// one is treated as unset, using DefaultRetryBackoff.
type Options struct {
	OperationTimeout time.Duration
	MaxAttempts      int
	RetryBackoff     time.Duration
	Logger           *zap.Logger
	Recorder         Recorder
}

const (
	DefaultOperationTimeout = 5 * time.Second
	DefaultMaxAttempts      = 5
	DefaultRetryBackoff     = 10 * time.Millisecond
)

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator applies sales to stock.
type Coordinator struct {
	store       TxStore
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
	recorder    Recorder
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store TxStore, opts Options) *Coordinator {
	c := &Coordinator{
		store:       store,
		timeout:     opts.OperationTimeout,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.RetryBackoff,
		logger:      opts.Logger,
		recorder:    opts.Recorder,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultOperationTimeout
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.backoff < 0 {
		c.backoff = DefaultRetryBackoff
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	return c
}

// Create records a sale and takes its units out of stock.
func (c *Coordinator) Create(ctx context.Context, items []SaleItem) (Sale, error) {
	var created Sale
	err := c.run(ctx, OpCreate, func(ctx context.Context, l Ledgers) error {
		if err := checkQuantities(items); err != nil {
			return err
		}

		snap, missing, err := ResolveSnapshot(ctx, l, ItemProductIDs(items))
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return &InvalidReferenceError{Missing: missing}
		}

		levels, err := ComputeNewQuantities(snap, items, Decrease)
		if err != nil {
			return err
		}
		if short := FirstShortage(snap, levels); short != nil {
			return short
		}

		if err := ApplyStock(ctx, l, ChangedLevels(snap, levels)); err != nil {
			return err
		}

		sale, err := l.InsertSale(ctx, items)
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		created = sale
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	return created, nil
}

// Update replaces the items of a sale, reverting the old items and applying
// the new ones as one validated batch.
func (c *Coordinator) Update(ctx context.Context, id SaleID, items []SaleItem) (Sale, error) {
	var updated Sale
	err := c.run(ctx, OpUpdate, func(ctx context.Context, l Ledgers) error {
		if err := checkQuantities(items); err != nil {
			return err
		}

		existing, err := l.GetSale(ctx, id)
		if err != nil {
			return fmt.Errorf("load sale: %w", err)
		}
		if existing == nil {
			return fmt.Errorf("%w: %s", ErrSaleNotFound, id)
		}

		ids := append(existing.ProductIDs(), ItemProductIDs(items)...)
		snap, missing, err := ResolveSnapshot(ctx, l, ids)
		if err != nil {
			return err
		}
		if bad := missingAmong(missing, items); len(bad) > 0 {
			return &InvalidReferenceError{Missing: bad}
		}

		levels, err := Rebalance(snap, existing.Items, items)
		if err != nil {
			return err
		}

		if err := ApplyStock(ctx, l, levels); err != nil {
			return err
		}

		sale, err := l.ReplaceSale(ctx, id, items)
		if err != nil {
			return fmt.Errorf("replace sale: %w", err)
		}
		updated = sale
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	return updated, nil
}

// Delete removes a sale and gives its units back to stock.
// Returns the sale as it was before removal.
func (c *Coordinator) Delete(ctx context.Context, id SaleID) (Sale, error) {
	var deleted Sale
	err := c.run(ctx, OpDelete, func(ctx context.Context, l Ledgers) error {
		existing, err := l.GetSale(ctx, id)
		if err != nil {
			return fmt.Errorf("load sale: %w", err)
		}
		if existing == nil {
			return fmt.Errorf("%w: %s", ErrSaleNotFound, id)
		}

		snap, missing, err := ResolveSnapshot(ctx, l, existing.ProductIDs())
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			// Products deleted since the sale have no stock to restore.
			c.loggerFor(ctx).Debug("skipping revert for deleted products",
				zap.String("sale_id", string(id)),
				zap.Int("missing", len(missing)),
			)
		}

		levels, err := ComputeNewQuantities(snap, existing.Items, Increase)
		if err != nil {
			return err
		}
		if err := ApplyStock(ctx, l, ChangedLevels(snap, levels)); err != nil {
			return err
		}

		removed, err := l.RemoveSale(ctx, id)
		if err != nil {
			return fmt.Errorf("remove sale: %w", err)
		}
		if removed == nil {
			return fmt.Errorf("%w: %s", ErrSaleNotFound, id)
		}
		deleted = *removed
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	return deleted, nil
}

// Rebalance computes the writes needed to move stock from the effect of
// oldItems to the effect of newItems.
//
// oldItems are reverted on top of snap first, then newItems are applied on
// top of the reverted stock. Only the final stock is validated. Products in
// oldItems that are absent from snap are skipped. The returned levels only
// include products whose quantity actually changes.
func Rebalance(snap Snapshot, oldItems, newItems []SaleItem) ([]StockLevel, error) {
	restored, err := ComputeNewQuantities(snap, oldItems, Increase)
	if err != nil {
		return nil, err
	}
	reverted := snap.With(restored)

	applied, err := ComputeNewQuantities(reverted, newItems, Decrease)
	if err != nil {
		return nil, err
	}
	if short := FirstShortage(reverted, applied); short != nil {
		return nil, short
	}
	final := reverted.With(applied)

	order := DistinctProductIDs(append(ItemProductIDs(oldItems), ItemProductIDs(newItems)...))
	levels := make([]StockLevel, 0, len(order))
	for _, id := range order {
		entry, ok := final[id]
		if !ok {
			continue
		}
		levels = append(levels, StockLevel{ProductID: id, Name: entry.Name, Quantity: entry.Quantity})
	}
	return ChangedLevels(snap, levels), nil
}

// =============================================================================
// EXECUTION
// =============================================================================

func (c *Coordinator) run(ctx context.Context, op Operation, fn func(context.Context, Ledgers) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log := c.loggerFor(ctx).With(zap.String("operation", string(op)))

	var err error
	for attempt := 1; ; attempt++ {
		err = c.store.WithTx(ctx, func(l Ledgers) error {
			return fn(ctx, l)
		})
		if err == nil || !IsRetryable(err) || attempt >= c.maxAttempts {
			break
		}

		c.recorder.ObserveRetry(op)
		log.Warn("stock write conflicted, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if waitErr := sleep(ctx, c.backoff*time.Duration(attempt)); waitErr != nil {
			err = fmt.Errorf("%w (gave up after %d attempts: %v)", err, attempt, waitErr)
			break
		}
	}

	outcome := Outcome(err)
	c.recorder.ObserveOperation(op, outcome, time.Since(start))

	switch {
	case err == nil:
		log.Debug("sale operation committed", zap.Duration("elapsed", time.Since(start)))
	case IsClientError(err) || IsNotFound(err):
		log.Debug("sale operation rejected", zap.String("outcome", outcome), zap.Error(err))
	default:
		log.Error("sale operation failed", zap.String("outcome", outcome), zap.Error(err))
	}
	return err
}

func (c *Coordinator) loggerFor(ctx context.Context) *zap.Logger {
	return logger.FromContextOr(ctx, c.logger)
}

// Outcome classifies an operation result for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrSaleNotFound):
		return "sale_not_found"
	case errors.Is(err, ErrPartiallyApplied):
		return "partially_applied"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func checkQuantities(items []SaleItem) error {
	for _, item := range items {
		if item.Quantity < 0 {
			return fmt.Errorf("%w: product %s has quantity %d", ErrInvalidQuantity, item.ProductID, item.Quantity)
		}
	}
	return nil
}

// missingAmong returns the ids in missing that items reference.
func missingAmong(missing []ProductID, items []SaleItem) []ProductID {
	if len(missing) == 0 {
		return nil
	}
	wanted := make(map[ProductID]struct{}, len(items))
	for _, item := range items {
		wanted[item.ProductID] = struct{}{}
	}
	var out []ProductID
	for _, id := range missing {
		if _, ok := wanted[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
