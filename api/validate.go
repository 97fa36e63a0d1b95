package api

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

// productInput is a ProductRequest after quantity parsing.
type productInput struct {
	Name     string `validate:"required,min=5"`
	Quantity int64  `validate:"gte=1"`
}

// saleLineInput is a SaleLineRequest after quantity parsing. A single line
// is capped at maxLineQuantity; the coordinator still rejects per-product
// totals that leave the int64 range.
type saleLineInput struct {
	ProductID string `validate:"required,uuid"`
	Quantity  int64  `validate:"gte=1,lte=1000000000"`
}

const maxLineQuantity = 1_000_000_000

type saleInput struct {
	Items []saleLineInput `validate:"dive"`
}

var (
	errQuantityMissing    = errors.New("quantity missing")
	errQuantityNotNumber  = errors.New("quantity is not a number")
	errQuantityNotInteger = errors.New("quantity is not an integer")
)

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// parseQuantity accepts a JSON number or a numeric string holding an
// integer. Fractional and out-of-range values are rejected.
func parseQuantity(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, errQuantityMissing
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, errQuantityNotNumber
		}
		s = strings.TrimSpace(str)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errQuantityNotNumber
	}
	if !d.IsInteger() {
		return 0, errQuantityNotInteger
	}
	if !d.BigInt().IsInt64() {
		return 0, errQuantityNotNumber
	}
	return d.IntPart(), nil
}

// validateProduct checks a product body in the order clients have always
// seen: presence, name length, then quantity.
func (h *Handler) validateProduct(req ProductRequest) (productInput, *apiError) {
	quantity, qtyErr := parseQuantity(req.Quantity)
	if req.Name == nil || errors.Is(qtyErr, errQuantityMissing) {
		return productInput{}, &errMissingProductData
	}

	in := productInput{Name: *req.Name, Quantity: quantity}
	if qtyErr != nil {
		// Placeholder so the struct check below only reports the name.
		in.Quantity = 1
	}

	if err := h.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return productInput{}, &errMissingProductData
		}
		for _, fe := range fieldErrs {
			if fe.Field() == "Name" {
				return productInput{}, &errShortName
			}
		}
		return productInput{}, &errQuantityBelowOne
	}

	switch {
	case errors.Is(qtyErr, errQuantityNotInteger):
		return productInput{}, &errQuantityNotInt
	case qtyErr != nil:
		return productInput{}, &errQuantityNaN
	}
	return in, nil
}

// validateSaleLines checks a sale body. Any bad line rejects the whole body.
func (h *Handler) validateSaleLines(lines []SaleLineRequest) ([]inventory.SaleItem, *apiError) {
	in := saleInput{Items: make([]saleLineInput, len(lines))}
	for i, line := range lines {
		quantity, err := parseQuantity(line.Quantity)
		if err != nil {
			return nil, &errInvalidSaleLine
		}
		in.Items[i] = saleLineInput{ProductID: line.ProductID, Quantity: quantity}
	}

	if err := h.validate.Struct(in); err != nil {
		return nil, &errInvalidSaleLine
	}

	items := make([]inventory.SaleItem, len(in.Items))
	for i, line := range in.Items {
		items[i] = inventory.SaleItem{ProductID: inventory.ProductID(line.ProductID), Quantity: line.Quantity}
	}
	return items, nil
}

// validID reports whether id has the shape the stores issue.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
