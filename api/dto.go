/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Product:
    ProductDTO, ProductRequest, ProductListResponse

  Sale:
    SaleDTO, SaleItemDTO, SaleLineRequest, SaleListResponse

  Audit:
    AuditReportDTO

  Errors:
    ErrorResponse, ErrorBody

QUANTITIES:
  Request quantities arrive as json.RawMessage so that numeric strings and
  fractional values can be told apart from missing ones. validate.go turns
  them into int64.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Request validation
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Quantity  int64     `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProductRequest is the body of POST and PUT /products.
type ProductRequest struct {
	Name     *string         `json:"name"`
	Quantity json.RawMessage `json:"quantity"`
}

// ProductListResponse wraps GET /products.
type ProductListResponse struct {
	Products []ProductDTO `json:"products"`
}

// =============================================================================
// SALES
// =============================================================================

// SaleItemDTO is one sale line.
type SaleItemDTO struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

// SaleDTO represents a sale in API responses.
type SaleDTO struct {
	ID        string        `json:"id"`
	Items     []SaleItemDTO `json:"items"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// SaleLineRequest is one element of the POST and PUT /sales body array.
type SaleLineRequest struct {
	ProductID string          `json:"productId"`
	Quantity  json.RawMessage `json:"quantity"`
}

// SaleListResponse wraps GET /sales.
type SaleListResponse struct {
	Sales []SaleDTO `json:"sales"`
}

// =============================================================================
// AUDIT
// =============================================================================

// DanglingItemDTO is a sale line whose product is gone.
type DanglingItemDTO struct {
	SaleID    string `json:"saleId"`
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

// AuditReportDTO is the response of GET /admin/audit.
type AuditReportDTO struct {
	Products         int               `json:"products"`
	Sales            int               `json:"sales"`
	Clean            bool              `json:"clean"`
	NegativeProducts []ProductDTO      `json:"negativeProducts"`
	DanglingItems    []DanglingItemDTO `json:"danglingItems"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Err ErrorBody `json:"err"`
}

// ErrorBody carries a machine-readable code and a human message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toProductDTO(p inventory.Product) ProductDTO {
	return ProductDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		Quantity:  p.Quantity,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toProductDTOs(products []inventory.Product) []ProductDTO {
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	return dtos
}

func toSaleDTO(s inventory.Sale) SaleDTO {
	items := make([]SaleItemDTO, len(s.Items))
	for i, item := range s.Items {
		items[i] = SaleItemDTO{ProductID: string(item.ProductID), Quantity: item.Quantity}
	}
	return SaleDTO{
		ID:        string(s.ID),
		Items:     items,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toSaleDTOs(sales []inventory.Sale) []SaleDTO {
	dtos := make([]SaleDTO, len(sales))
	for i, s := range sales {
		dtos[i] = toSaleDTO(s)
	}
	return dtos
}

func toAuditReportDTO(r inventory.DriftReport) AuditReportDTO {
	dangling := make([]DanglingItemDTO, len(r.DanglingItems))
	for i, d := range r.DanglingItems {
		dangling[i] = DanglingItemDTO{
			SaleID:    string(d.SaleID),
			ProductID: string(d.ProductID),
			Quantity:  d.Quantity,
		}
	}
	return AuditReportDTO{
		Products:         r.Products,
		Sales:            r.Sales,
		Clean:            r.Clean(),
		NegativeProducts: toProductDTOs(r.NegativeProducts),
		DanglingItems:    dangling,
	}
}
