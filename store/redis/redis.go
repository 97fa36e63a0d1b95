/*
Package redis provides a Redis-backed implementation of inventory.Store.

PURPOSE:
  Stores products and sales as independent JSON documents, the way a
  document database would. Redis has no multi-key transaction with reads,
  so the atomic unit is built from optimistic locking.

KEYS (prefix defaults to "inventory:"):
  {prefix}product:{id}   Product document
  {prefix}sale:{id}      Sale document
  {prefix}products       ZSET of product ids scored by creation time
  {prefix}sales          ZSET of sale ids scored by creation time
  {prefix}product-names  HASH name -> product id, for name uniqueness

ATOMIC UNIT (WithTx):
  1. Every document read inside the unit is WATCHed before it is read
  2. Writes are buffered in the unit, not sent
  3. On success the buffered writes go out as one MULTI/EXEC
  4. If any watched key changed, EXEC is discarded and the unit fails
     with inventory.ErrConcurrentModification; the coordinator retries

  EXEC is not a rollback boundary: a command that fails at run time does not
  undo the others. When that happens the unit returns a
  *inventory.PartiallyAppliedError listing which product writes landed.

SEE ALSO:
  - inventory/store.go: Interface definitions
  - store/sqlite/sqlite.go: Transactional SQL implementation
*/
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

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "inventory:"

// catalogAttempts bounds the WATCH retries of direct catalog writes.
const catalogAttempts = 5

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store implements inventory.Store on Redis.
type Store struct {
	client *goredis.Client
	keys   keyspace
}

var _ inventory.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, opts.Prefix), nil
}

// NewWithClient creates a store with an existing Redis client.
func NewWithClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, keys: keyspace{prefix: prefix}}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	ids, err := s.client.ZRange(ctx, s.keys.products(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list product ids: %w", err)
	}
	productIDs := make([]inventory.ProductID, len(ids))
	for i, id := range ids {
		productIDs[i] = inventory.ProductID(id)
	}
	return s.mgetProducts(ctx, s.client, productIDs)
}

func (s *Store) GetProduct(ctx context.Context, id inventory.ProductID) (*inventory.Product, error) {
	return s.getProduct(ctx, s.client, id)
}

func (s *Store) CreateProduct(ctx context.Context, name string, quantity int64) (inventory.Product, error) {
	var created inventory.Product
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		taken, err := tx.HExists(ctx, s.keys.names(), name).Result()
		if err != nil {
			return fmt.Errorf("failed to check product name: %w", err)
		}
		if taken {
			return inventory.ErrProductExists
		}

		now := time.Now().UTC()
		p := inventory.Product{
			ID:        inventory.ProductID(uuid.NewString()),
			Name:      name,
			Quantity:  quantity,
			CreatedAt: now,
			UpdatedAt: now,
		}
		data, err := encodeProduct(p)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.keys.product(p.ID), data, 0)
			pipe.ZAdd(ctx, s.keys.products(), goredis.Z{Score: score(now), Member: string(p.ID)})
			pipe.HSet(ctx, s.keys.names(), name, string(p.ID))
			return nil
		})
		if err != nil {
			return err
		}
		created = p
		return nil
	}, s.keys.names())
	if err != nil {
		return inventory.Product{}, err
	}
	return created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, id inventory.ProductID, name string, quantity int64) (inventory.Product, error) {
	var updated inventory.Product
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		current, err := s.getProduct(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return inventory.ErrProductNotFound
		}

		if name != current.Name {
			owner, err := tx.HGet(ctx, s.keys.names(), name).Result()
			if err != nil && !errors.Is(err, goredis.Nil) {
				return fmt.Errorf("failed to check product name: %w", err)
			}
			if err == nil && owner != string(id) {
				return inventory.ErrProductExists
			}
		}

		p := *current
		p.Name = name
		p.Quantity = quantity
		p.UpdatedAt = time.Now().UTC()
		data, err := encodeProduct(p)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.keys.product(id), data, 0)
			if name != current.Name {
				pipe.HDel(ctx, s.keys.names(), current.Name)
				pipe.HSet(ctx, s.keys.names(), name, string(id))
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = p
		return nil
	}, s.keys.product(id), s.keys.names())
	if err != nil {
		return inventory.Product{}, err
	}
	return updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id inventory.ProductID) (*inventory.Product, error) {
	var deleted *inventory.Product
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		current, err := s.getProduct(ctx, tx, id)
		if err != nil || current == nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, s.keys.product(id))
			pipe.ZRem(ctx, s.keys.products(), string(id))
			pipe.HDel(ctx, s.keys.names(), current.Name)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = current
		return nil
	}, s.keys.product(id))
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// =============================================================================
// SALE READS
// =============================================================================

func (s *Store) ListSales(ctx context.Context) ([]inventory.Sale, error) {
	ids, err := s.client.ZRange(ctx, s.keys.sales(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sale ids: %w", err)
	}
	if len(ids) == 0 {
		return []inventory.Sale{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.sale(inventory.SaleID(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sales: %w", err)
	}

	sales := make([]inventory.Sale, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		sale, err := decodeSale([]byte(raw))
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id inventory.SaleID) (*inventory.Sale, error) {
	return s.getSale(ctx, s.client, id)
}

// =============================================================================
// SHARED READS
// =============================================================================

// reader is satisfied by both *goredis.Client and *goredis.Tx.
type reader interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	MGet(ctx context.Context, keys ...string) *goredis.SliceCmd
}

func (s *Store) getProduct(ctx context.Context, c reader, id inventory.ProductID) (*inventory.Product, error) {
	raw, err := c.Get(ctx, s.keys.product(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	p, err := decodeProduct(raw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) mgetProducts(ctx context.Context, c reader, ids []inventory.ProductID) ([]inventory.Product, error) {
	if len(ids) == 0 {
		return []inventory.Product{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.product(id)
	}
	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	products := make([]inventory.Product, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		p, err := decodeProduct([]byte(raw))
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func (s *Store) getSale(ctx context.Context, c reader, id inventory.SaleID) (*inventory.Sale, error) {
	raw, err := c.Get(ctx, s.keys.sale(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}
	sale, err := decodeSale(raw)
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// watch runs fn under WATCH on keys, retrying a few times when a watched key
// changes before EXEC.
func (s *Store) watch(ctx context.Context, fn func(*goredis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < catalogAttempts; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("%w: catalog write kept conflicting", inventory.ErrConcurrentModification)
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// =============================================================================
// KEYSPACE
// =============================================================================

type keyspace struct {
	prefix string
}

func (k keyspace) product(id inventory.ProductID) string { return k.prefix + "product:" + string(id) }
func (k keyspace) sale(id inventory.SaleID) string       { return k.prefix + "sale:" + string(id) }
func (k keyspace) products() string                      { return k.prefix + "products" }
func (k keyspace) sales() string                         { return k.prefix + "sales" }
func (k keyspace) names() string                         { return k.prefix + "product-names" }
