/*
handlers.go - HTTP API handlers for the inventory engine

PURPOSE:
  Exposes the product catalog and the sale coordinator via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  store and the coordinator.

ENDPOINTS:
  Products:
    GET    /products           List all products
    POST   /products           Create product
    GET    /products/{id}      Get product
    PUT    /products/{id}      Replace product name and quantity
    DELETE /products/{id}      Delete product

  Sales:
    GET    /sales              List all sales
    POST   /sales              Record a sale (takes stock)
    GET    /sales/{id}         Get sale
    PUT    /sales/{id}         Replace sale items (rebalances stock)
    DELETE /sales/{id}         Delete sale (returns stock)

  Admin:
    GET    /admin/audit        Run a stock drift audit now

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Catalog CRUD and sale reads
  - Sales: The coordinator, the only writer of sales
  - Logger: Fallback when no request logger is in the context

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (before any store call)
  3. Call the store or the coordinator
  4. Serialize response
  5. Handle errors (see errors.go)

ERROR HANDLING:
  Errors are returned as {"err":{"code","message"}} with:
  - 400: Body is not JSON
  - 404: Sale not found, insufficient stock
  - 409: Stock kept changing under the request
  - 422: Validation errors, unknown product, duplicate name
  - 500: Partial application, internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - validate.go: Body validation
  - errors.go: Error to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/logger"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// SaleService runs sale operations against stock. inventory.Coordinator
// implements it.
type SaleService interface {
	Create(ctx context.Context, items []inventory.SaleItem) (inventory.Sale, error)
	Update(ctx context.Context, id inventory.SaleID, items []inventory.SaleItem) (inventory.Sale, error)
	Delete(ctx context.Context, id inventory.SaleID) (inventory.Sale, error)
}

var _ SaleService = (*inventory.Coordinator)(nil)

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	Store  inventory.Store
	Sales  SaleService
	Logger *zap.Logger

	validate *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(store inventory.Store, sales SaleService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:    store,
		Sales:    sales,
		Logger:   log,
		validate: newValidator(),
	}
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns every product in creation order.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		h.fail(w, r, errInternal, err)
		return
	}
	writeJSON(w, http.StatusOK, ProductListResponse{Products: toProductDTOs(products)})
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(id) {
		h.fail(w, r, errWrongID, nil)
		return
	}

	product, err := h.Store.GetProduct(r.Context(), inventory.ProductID(id))
	if err != nil {
		h.fail(w, r, errInternal, err)
		return
	}
	if product == nil {
		h.fail(w, r, errWrongID, nil)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*product))
}

// CreateProduct adds a product to the catalog.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, verr := h.validateProduct(req)
	if verr != nil {
		h.fail(w, r, *verr, nil)
		return
	}

	product, err := h.Store.CreateProduct(r.Context(), in.Name, in.Quantity)
	if err != nil {
		h.fail(w, r, productError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(product))
}

// UpdateProduct overwrites a product's name and quantity.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, verr := h.validateProduct(req)
	if verr != nil {
		h.fail(w, r, *verr, nil)
		return
	}
	if !validID(id) {
		h.fail(w, r, errWrongID, nil)
		return
	}

	product, err := h.Store.UpdateProduct(r.Context(), inventory.ProductID(id), in.Name, in.Quantity)
	if err != nil {
		h.fail(w, r, productError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(product))
}

// DeleteProduct removes a product. Sales that reference it are kept.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(id) {
		h.fail(w, r, errWrongID, nil)
		return
	}

	product, err := h.Store.DeleteProduct(r.Context(), inventory.ProductID(id))
	if err != nil {
		h.fail(w, r, productError(err), err)
		return
	}
	if product == nil {
		h.fail(w, r, errWrongID, nil)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*product))
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// ListSales returns every sale in creation order.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.Store.ListSales(r.Context())
	if err != nil {
		h.fail(w, r, errInternal, err)
		return
	}
	writeJSON(w, http.StatusOK, SaleListResponse{Sales: toSaleDTOs(sales)})
}

// GetSale returns a single sale.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(id) {
		h.fail(w, r, errSaleNotFound, nil)
		return
	}

	sale, err := h.Store.GetSale(r.Context(), inventory.SaleID(id))
	if err != nil {
		h.fail(w, r, errInternal, err)
		return
	}
	if sale == nil {
		h.fail(w, r, errSaleNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// CreateSale records a sale and takes its units out of stock.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var lines []SaleLineRequest
	if !h.decode(w, r, &lines) {
		return
	}
	items, verr := h.validateSaleLines(lines)
	if verr != nil {
		h.fail(w, r, *verr, nil)
		return
	}

	sale, err := h.Sales.Create(r.Context(), items)
	if err != nil {
		h.fail(w, r, saleError(inventory.OpCreate, err), err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// UpdateSale replaces a sale's items and rebalances stock.
func (h *Handler) UpdateSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var lines []SaleLineRequest
	if !h.decode(w, r, &lines) {
		return
	}
	items, verr := h.validateSaleLines(lines)
	if verr != nil {
		h.fail(w, r, *verr, nil)
		return
	}
	if !validID(id) {
		h.fail(w, r, errSaleNotFound, nil)
		return
	}

	sale, err := h.Sales.Update(r.Context(), inventory.SaleID(id), items)
	if err != nil {
		h.fail(w, r, saleError(inventory.OpUpdate, err), err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// DeleteSale removes a sale and returns its units to stock.
func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(id) {
		h.fail(w, r, errWrongSaleID, nil)
		return
	}

	sale, err := h.Sales.Delete(r.Context(), inventory.SaleID(id))
	if err != nil {
		h.fail(w, r, saleError(inventory.OpDelete, err), err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Audit scans products and sales for drift and returns the report.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	report, err := inventory.Audit(r.Context(), h.Store)
	if err != nil {
		h.fail(w, r, errInternal, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.fail(w, r, errBadBody, nil)
		return false
	}
	return true
}

// fail writes e. Server-side failures are logged with cause.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, e apiError, cause error) {
	if e.Status >= http.StatusInternalServerError {
		logger.FromContextOr(r.Context(), h.Logger).Error("request failed",
			zap.String("code", e.Code),
			zap.Error(cause),
		)
	}
	writeJSON(w, e.Status, e.body())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
