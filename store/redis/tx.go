package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// TRANSACTIONAL STORE (inventory.TxStore interface)
// =============================================================================

// WithTx runs fn against a view that watches every key it reads and buffers
// every write, then sends the writes as one MULTI/EXEC.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Ledgers) error) error {
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		view := newTxView(s, tx)
		if err := fn(view); err != nil {
			return err
		}
		return view.commit(ctx)
	})
	if errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("%w: %v", inventory.ErrConcurrentModification, err)
	}
	return err
}

type saleWrite struct {
	id      inventory.SaleID
	sale    *inventory.Sale // nil removes the sale
	created bool
}

// txView caches what it has read so a unit sees its own buffered writes.
// A nil cache entry records a key that was read and found absent.
type txView struct {
	store *Store
	tx    *goredis.Tx

	products     map[inventory.ProductID]*inventory.Product
	productDirty []inventory.ProductID
	sales        map[inventory.SaleID]*inventory.Sale
	saleWrites   []saleWrite
}

func newTxView(s *Store, tx *goredis.Tx) *txView {
	return &txView{
		store:    s,
		tx:       tx,
		products: make(map[inventory.ProductID]*inventory.Product),
		sales:    make(map[inventory.SaleID]*inventory.Sale),
	}
}

func (v *txView) GetProduct(ctx context.Context, id inventory.ProductID) (*inventory.Product, error) {
	if p, ok := v.products[id]; ok {
		return copyProduct(p), nil
	}
	if err := v.tx.Watch(ctx, v.store.keys.product(id)).Err(); err != nil {
		return nil, fmt.Errorf("failed to watch product: %w", err)
	}
	p, err := v.store.getProduct(ctx, v.tx, id)
	if err != nil {
		return nil, err
	}
	v.products[id] = p
	return copyProduct(p), nil
}

func (v *txView) GetProducts(ctx context.Context, ids []inventory.ProductID) ([]inventory.Product, error) {
	distinct := inventory.DistinctProductIDs(ids)

	var unread []inventory.ProductID
	for _, id := range distinct {
		if _, ok := v.products[id]; !ok {
			unread = append(unread, id)
		}
	}
	if len(unread) > 0 {
		keys := make([]string, len(unread))
		for i, id := range unread {
			keys[i] = v.store.keys.product(id)
		}
		if err := v.tx.Watch(ctx, keys...).Err(); err != nil {
			return nil, fmt.Errorf("failed to watch products: %w", err)
		}
		found, err := v.store.mgetProducts(ctx, v.tx, unread)
		if err != nil {
			return nil, err
		}
		for _, id := range unread {
			v.products[id] = nil
		}
		for i := range found {
			p := found[i]
			v.products[p.ID] = &p
		}
	}

	result := make([]inventory.Product, 0, len(distinct))
	for _, id := range distinct {
		if p := v.products[id]; p != nil {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (v *txView) SetQuantity(ctx context.Context, id inventory.ProductID, name string, quantity int64) (inventory.Product, error) {
	p, err := v.GetProduct(ctx, id)
	if err != nil {
		return inventory.Product{}, err
	}
	if p == nil {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	p.Name = name
	p.Quantity = quantity
	p.UpdatedAt = time.Now().UTC()

	if !containsID(v.productDirty, id) {
		v.productDirty = append(v.productDirty, id)
	}
	v.products[id] = copyProduct(p)
	return *p, nil
}

func (v *txView) GetSale(ctx context.Context, id inventory.SaleID) (*inventory.Sale, error) {
	if s, ok := v.sales[id]; ok {
		return copySale(s), nil
	}
	if err := v.tx.Watch(ctx, v.store.keys.sale(id)).Err(); err != nil {
		return nil, fmt.Errorf("failed to watch sale: %w", err)
	}
	s, err := v.store.getSale(ctx, v.tx, id)
	if err != nil {
		return nil, err
	}
	v.sales[id] = s
	return copySale(s), nil
}

func (v *txView) InsertSale(_ context.Context, items []inventory.SaleItem) (inventory.Sale, error) {
	now := time.Now().UTC()
	sale := inventory.Sale{
		ID:        inventory.SaleID(uuid.NewString()),
		Items:     inventory.CloneItems(items),
		CreatedAt: now,
		UpdatedAt: now,
	}
	v.sales[sale.ID] = copySale(&sale)
	v.saleWrites = append(v.saleWrites, saleWrite{id: sale.ID, sale: copySale(&sale), created: true})
	return sale, nil
}

func (v *txView) ReplaceSale(ctx context.Context, id inventory.SaleID, items []inventory.SaleItem) (inventory.Sale, error) {
	sale, err := v.GetSale(ctx, id)
	if err != nil {
		return inventory.Sale{}, err
	}
	if sale == nil {
		return inventory.Sale{}, inventory.ErrSaleNotFound
	}
	sale.Items = inventory.CloneItems(items)
	sale.UpdatedAt = time.Now().UTC()

	v.sales[id] = copySale(sale)
	v.saleWrites = append(v.saleWrites, saleWrite{id: id, sale: copySale(sale)})
	return *sale, nil
}

func (v *txView) RemoveSale(ctx context.Context, id inventory.SaleID) (*inventory.Sale, error) {
	sale, err := v.GetSale(ctx, id)
	if err != nil || sale == nil {
		return nil, err
	}
	v.sales[id] = nil
	v.saleWrites = append(v.saleWrites, saleWrite{id: id})
	return sale, nil
}

// =============================================================================
// COMMIT
// =============================================================================

type productWrite struct {
	id   inventory.ProductID
	data []byte
	cmd  *goredis.StatusCmd
}

// commit sends every buffered write in one MULTI/EXEC.
func (v *txView) commit(ctx context.Context) error {
	if len(v.productDirty) == 0 && len(v.saleWrites) == 0 {
		return nil
	}

	writes := make([]productWrite, 0, len(v.productDirty))
	for _, id := range v.productDirty {
		data, err := encodeProduct(*v.products[id])
		if err != nil {
			return err
		}
		writes = append(writes, productWrite{id: id, data: data})
	}
	saleData := make([][]byte, len(v.saleWrites))
	for i, w := range v.saleWrites {
		if w.sale == nil {
			continue
		}
		data, err := encodeSale(*w.sale)
		if err != nil {
			return err
		}
		saleData[i] = data
	}

	keys := v.store.keys
	var saleCmds []goredis.Cmder
	_, err := v.tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i := range writes {
			writes[i].cmd = pipe.Set(ctx, keys.product(writes[i].id), writes[i].data, 0)
		}
		for i, w := range v.saleWrites {
			switch {
			case w.sale == nil:
				saleCmds = append(saleCmds,
					pipe.Del(ctx, keys.sale(w.id)),
					pipe.ZRem(ctx, keys.sales(), string(w.id)),
				)
			case w.created:
				saleCmds = append(saleCmds,
					pipe.Set(ctx, keys.sale(w.id), saleData[i], 0),
					pipe.ZAdd(ctx, keys.sales(), goredis.Z{Score: score(w.sale.CreatedAt), Member: string(w.id)}),
				)
			default:
				saleCmds = append(saleCmds, pipe.Set(ctx, keys.sale(w.id), saleData[i], 0))
			}
		}
		return nil
	})
	if err == nil || errors.Is(err, goredis.TxFailedErr) {
		return err
	}
	return execFailure(writes, saleCmds, err)
}

// execFailure reports a failed EXEC. If any command inside it ran, the batch
// is partially applied and the product writes are split by outcome.
func execFailure(writes []productWrite, saleCmds []goredis.Cmder, cause error) error {
	var applied, failed []inventory.ProductID
	for _, w := range writes {
		if w.cmd != nil && w.cmd.Err() == nil {
			applied = append(applied, w.id)
		} else {
			failed = append(failed, w.id)
		}
	}
	saleApplied := false
	for _, cmd := range saleCmds {
		if cmd.Err() == nil {
			saleApplied = true
		}
	}

	if len(applied) == 0 && !saleApplied {
		return fmt.Errorf("failed to apply stock batch: %w", cause)
	}
	return &inventory.PartiallyAppliedError{
		Applied: applied,
		Failed:  failed,
		Cause:   cause,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func copyProduct(p *inventory.Product) *inventory.Product {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func copySale(s *inventory.Sale) *inventory.Sale {
	if s == nil {
		return nil
	}
	c := *s
	c.Items = inventory.CloneItems(s.Items)
	return &c
}

func containsID(ids []inventory.ProductID, id inventory.ProductID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
