package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/inventory-engine/inventory"
)

// productDoc is the stored form of a product.
type productDoc struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Quantity  int64     `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type saleItemDoc struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

// saleDoc is the stored form of a sale.
type saleDoc struct {
	ID        string        `json:"id"`
	Items     []saleItemDoc `json:"itemsSold"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func encodeProduct(p inventory.Product) ([]byte, error) {
	data, err := json.Marshal(productDoc{
		ID:        string(p.ID),
		Name:      p.Name,
		Quantity:  p.Quantity,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode product %s: %w", p.ID, err)
	}
	return data, nil
}

func decodeProduct(raw []byte) (inventory.Product, error) {
	var doc productDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return inventory.Product{}, fmt.Errorf("failed to decode product: %w", err)
	}
	return inventory.Product{
		ID:        inventory.ProductID(doc.ID),
		Name:      doc.Name,
		Quantity:  doc.Quantity,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func encodeSale(s inventory.Sale) ([]byte, error) {
	doc := saleDoc{
		ID:        string(s.ID),
		Items:     make([]saleItemDoc, len(s.Items)),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	for i, item := range s.Items {
		doc.Items[i] = saleItemDoc{ProductID: string(item.ProductID), Quantity: item.Quantity}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sale %s: %w", s.ID, err)
	}
	return data, nil
}

func decodeSale(raw []byte) (inventory.Sale, error) {
	var doc saleDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return inventory.Sale{}, fmt.Errorf("failed to decode sale: %w", err)
	}
	sale := inventory.Sale{
		ID:        inventory.SaleID(doc.ID),
		Items:     make([]inventory.SaleItem, len(doc.Items)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for i, item := range doc.Items {
		sale.Items[i] = inventory.SaleItem{ProductID: inventory.ProductID(item.ProductID), Quantity: item.Quantity}
	}
	return sale, nil
}
