package api

import (
	"errors"
	"net/http"

	"github.com/warp/inventory-engine/inventory"
)

// Error codes returned in ErrorBody.Code.
const (
	codeInvalidData  = "invalid_data"
	codeNotFound     = "not_found"
	codeStockProblem = "stock_problem"
	codeConflict     = "conflict"
	codePartial      = "partially_applied"
	codeInternal     = "internal_error"
	codeBadRequest   = "bad_request"
)

// apiError is a fully rendered failure: status, code and message.
type apiError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e apiError) body() ErrorResponse {
	return ErrorResponse{Err: ErrorBody{Code: e.Code, Message: e.Message, Details: e.Details}}
}

func invalidData(message string) apiError {
	return apiError{Status: http.StatusUnprocessableEntity, Code: codeInvalidData, Message: message}
}

var (
	errMissingProductData = invalidData(`"name" and "quantity" are required`)
	errShortName          = invalidData(`"name" length must be at least 5 characters long`)
	errQuantityBelowOne   = invalidData(`"quantity" must be larger than or equal to 1`)
	errQuantityNaN        = invalidData(`"quantity" must be a number`)
	errQuantityNotInt     = invalidData(`"quantity" must be an integer`)
	errWrongID            = invalidData("Wrong id format")
	errProductExists      = invalidData("Product already exists")
	errInvalidSaleLine    = invalidData("Wrong product ID or invalid quantity")
	errWrongSaleID        = invalidData("Wrong sale ID format")

	errSaleNotFound = apiError{Status: http.StatusNotFound, Code: codeNotFound, Message: "Sale not found"}
	errBadBody      = apiError{Status: http.StatusBadRequest, Code: codeBadRequest, Message: "Invalid request body"}
	errConflict     = apiError{Status: http.StatusConflict, Code: codeConflict, Message: "Stock changed concurrently, retry the request"}
	errInternal     = apiError{Status: http.StatusInternalServerError, Code: codeInternal, Message: "Internal server error"}
)

// productError maps a catalog error to its response.
func productError(err error) apiError {
	switch {
	case errors.Is(err, inventory.ErrProductExists):
		return errProductExists
	case errors.Is(err, inventory.ErrProductNotFound):
		return errWrongID
	case errors.Is(err, inventory.ErrConcurrentModification):
		return errConflict
	default:
		return errInternal
	}
}

// saleError maps a coordinator error to its response. A missing sale is a
// 404 on read and update but a 422 on delete; clients depend on both.
func saleError(op inventory.Operation, err error) apiError {
	var (
		stockErr *inventory.InsufficientStockError
		refErr   *inventory.InvalidReferenceError
		partErr  *inventory.PartiallyAppliedError
	)

	switch {
	case errors.As(err, &stockErr):
		return apiError{
			Status:  http.StatusNotFound,
			Code:    codeStockProblem,
			Message: "Such amount is not permitted to sell",
			Details: map[string]any{
				"productId": stockErr.ProductID,
				"available": stockErr.Available,
				"requested": stockErr.Requested,
			},
		}
	case errors.As(err, &refErr):
		e := errInvalidSaleLine
		e.Details = map[string]any{"missing": refErr.Missing}
		return e
	case errors.Is(err, inventory.ErrInvalidReference), errors.Is(err, inventory.ErrInvalidQuantity):
		return errInvalidSaleLine
	case errors.Is(err, inventory.ErrSaleNotFound):
		if op == inventory.OpDelete {
			return errWrongSaleID
		}
		return errSaleNotFound
	case errors.As(err, &partErr):
		return apiError{
			Status:  http.StatusInternalServerError,
			Code:    codePartial,
			Message: "Stock was partially updated and needs operator repair",
			Details: map[string]any{"applied": partErr.Applied, "failed": partErr.Failed},
		}
	case errors.Is(err, inventory.ErrPartiallyApplied):
		return apiError{Status: http.StatusInternalServerError, Code: codePartial, Message: "Stock was partially updated and needs operator repair"}
	case errors.Is(err, inventory.ErrConcurrentModification):
		return errConflict
	default:
		return errInternal
	}
}
