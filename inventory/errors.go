/*
errors.go - Centralized error types for the inventory engine

PURPOSE:
  The coordinator never panics on an expected business outcome. Every
  decision point returns one of a small, closed set of errors that the HTTP
  layer maps to a status code.

ERROR CATEGORIES:
  1. Rejections - the request was refused and nothing was written
     (InvalidReference, InvalidQuantity, InsufficientStock, SaleNotFound)
  2. Conflicts - a concurrent writer won; retrying may succeed
     (ConcurrentModification)
  3. Drift - some writes landed and some did not (PartiallyApplied)
  4. Catalog - direct product CRUD (ProductNotFound, ProductExists)

USAGE:
  Match with errors.Is on the sentinel, or errors.As on the structured type
  when the details matter:

    var stockErr *inventory.InsufficientStockError
    if errors.As(err, &stockErr) {
        log.Printf("short by %d", stockErr.Shortfall)
    }

SEE ALSO:
  - coordinator.go: Produces these errors
  - api/errors.go: Maps them to HTTP responses
*/
package inventory

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidReference is returned when a sale references a product that
	// does not exist.
	ErrInvalidReference = errors.New("invalid product reference")

	// ErrInvalidQuantity is returned when a sale line carries a negative quantity.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInsufficientStock is returned when an operation would drive a product
	// quantity below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrSaleNotFound is returned when an operation targets a missing sale.
	ErrSaleNotFound = errors.New("sale not found")

	// ErrPartiallyApplied is returned when a store committed some writes of an
	// operation but not all of them.
	ErrPartiallyApplied = errors.New("operation partially applied")

	// ErrConcurrentModification is returned when optimistic locking detects a
	// conflicting writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrProductNotFound is returned by catalog operations on a missing product.
	ErrProductNotFound = errors.New("product not found")

	// ErrProductExists is returned when creating a product whose name is taken.
	ErrProductExists = errors.New("product already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidReferenceError lists the product ids that did not resolve.
type InvalidReferenceError struct {
	Missing []ProductID
}

func (e *InvalidReferenceError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = string(id)
	}
	return fmt.Sprintf("invalid product reference: %s", strings.Join(ids, ", "))
}

func (e *InvalidReferenceError) Unwrap() error {
	return ErrInvalidReference
}

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	ProductID ProductID
	Available int64
	Requested int64
	Shortfall int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d, shortfall %d",
		e.ProductID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// PartiallyAppliedError reports which product writes landed before a failure.
// Operators use Applied to repair the drift by hand.
type PartiallyAppliedError struct {
	Applied []ProductID
	Failed  []ProductID
	Cause   error
}

func (e *PartiallyAppliedError) Error() string {
	return fmt.Sprintf("operation partially applied (%d written, %d failed): %v",
		len(e.Applied), len(e.Failed), e.Cause)
}

func (e *PartiallyAppliedError) Unwrap() []error {
	return []error{ErrPartiallyApplied, e.Cause}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrProductExists)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSaleNotFound) ||
		errors.Is(err, ErrProductNotFound)
}
