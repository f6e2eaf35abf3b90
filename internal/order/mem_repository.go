package order

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository keeps the catalog stock and orders in process memory behind
// one mutex.
type MemRepository struct {
	mu       sync.Mutex
	products map[uuid.UUID]*Product
	orders   map[uuid.UUID]*Order
	now      func() time.Time
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		products: make(map[uuid.UUID]*Product),
		orders:   make(map[uuid.UUID]*Order),
		now:      time.Now,
	}
}

// PutProduct creates or replaces a catalog entry.
func (r *MemRepository) PutProduct(p Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = &p
}

func (r *MemRepository) Product(id uuid.UUID) (Product, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, false
	}
	return *p, true
}

type memTx struct {
	r    *MemRepository
	undo []func()
}

func (r *MemRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{r: r}
	if err := fn(ctx, tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (r *MemRepository) run(fn func(tx *memTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&memTx{r: r})
}

func (r *MemRepository) LockProducts(ctx context.Context, ids []uuid.UUID) (out map[uuid.UUID]Product, err error) {
	err = r.run(func(tx *memTx) error {
		out, err = tx.LockProducts(ctx, ids)
		return err
	})
	return
}

func (r *MemRepository) DecrementStock(ctx context.Context, productID uuid.UUID, qty int) error {
	return r.run(func(tx *memTx) error {
		return tx.DecrementStock(ctx, productID, qty)
	})
}

func (r *MemRepository) InsertOrder(ctx context.Context, o Order) (created *Order, err error) {
	err = r.run(func(tx *memTx) error {
		created, err = tx.InsertOrder(ctx, o)
		return err
	})
	return
}

func (r *MemRepository) GetOrder(ctx context.Context, id uuid.UUID) (o *Order, err error) {
	err = r.run(func(tx *memTx) error {
		o, err = tx.GetOrder(ctx, id)
		return err
	})
	return
}

func (r *MemRepository) LockOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.GetOrder(ctx, id)
}

func (r *MemRepository) AppendTimeline(ctx context.Context, id uuid.UUID, entry TimelineEntry) (o *Order, err error) {
	err = r.run(func(tx *memTx) error {
		o, err = tx.AppendTimeline(ctx, id, entry)
		return err
	})
	return
}

func (r *MemRepository) UpdateCourier(ctx context.Context, id uuid.UUID, loc Location, eta *int) (o *Order, err error) {
	err = r.run(func(tx *memTx) error {
		o, err = tx.UpdateCourier(ctx, id, loc, eta)
		return err
	})
	return
}

func (r *MemRepository) ListOrders(ctx context.Context, f Filter) (out []Order, err error) {
	err = r.run(func(tx *memTx) error {
		out, err = tx.ListOrders(ctx, f)
		return err
	})
	return
}

// memTx operations. The caller holds r.mu.

func (tx *memTx) LockProducts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	out := make(map[uuid.UUID]Product, len(ids))
	for _, id := range ids {
		if p, ok := tx.r.products[id]; ok {
			out[id] = *p
		}
	}
	return out, nil
}

func (tx *memTx) DecrementStock(_ context.Context, productID uuid.UUID, qty int) error {
	p, ok := tx.r.products[productID]
	if !ok || p.Stock < qty {
		return ErrInsufficientStock
	}

	prev := p.Stock
	p.Stock -= qty
	tx.undo = append(tx.undo, func() { p.Stock = prev })
	return nil
}

func (tx *memTx) InsertOrder(_ context.Context, o Order) (*Order, error) {
	r := tx.r
	now := r.now()
	o.CreatedAt, o.UpdatedAt = now, now
	stored := cloneOrder(o)
	r.orders[o.ID] = &stored
	tx.undo = append(tx.undo, func() { delete(r.orders, o.ID) })

	out := cloneOrder(stored)
	return &out, nil
}

func (tx *memTx) GetOrder(_ context.Context, id uuid.UUID) (*Order, error) {
	o, ok := tx.r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	out := cloneOrder(*o)
	return &out, nil
}

func (tx *memTx) LockOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return tx.GetOrder(ctx, id)
}

func (tx *memTx) AppendTimeline(_ context.Context, id uuid.UUID, entry TimelineEntry) (*Order, error) {
	o, ok := tx.r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}

	prev := cloneOrder(*o)
	o.Timeline = append(o.Timeline, entry)
	o.Status = entry.Status
	o.UpdatedAt = tx.r.now()
	tx.undo = append(tx.undo, func() { *o = prev })

	out := cloneOrder(*o)
	return &out, nil
}

func (tx *memTx) UpdateCourier(_ context.Context, id uuid.UUID, loc Location, eta *int) (*Order, error) {
	o, ok := tx.r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}

	prev := cloneOrder(*o)
	o.Courier.Location = loc
	if eta != nil {
		o.ETAMinutes = *eta
	}
	o.UpdatedAt = tx.r.now()
	tx.undo = append(tx.undo, func() { *o = prev })

	out := cloneOrder(*o)
	return &out, nil
}

func (tx *memTx) ListOrders(_ context.Context, f Filter) ([]Order, error) {
	var out []Order
	for _, o := range tx.r.orders {
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		out = append(out, cloneOrder(*o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// cloneOrder copies the slices so callers never alias stored state.
func cloneOrder(o Order) Order {
	o.Items = slices.Clone(o.Items)
	o.Timeline = slices.Clone(o.Timeline)
	return o
}

// StaticAddressBook is an AddressBook backed by a fixed map.
type StaticAddressBook map[uuid.UUID]Customer

func (b StaticAddressBook) Customer(_ context.Context, userID uuid.UUID) (*Customer, error) {
	c := b[userID]
	return &c, nil
}
