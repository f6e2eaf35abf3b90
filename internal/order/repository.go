package order

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/medoswift-realtime/internal/apperr"
)

var (
	ErrOrderNotFound     = fmt.Errorf("%w: order not found", apperr.ErrNotFound)
	ErrProductNotFound   = fmt.Errorf("%w: unknown product in cart", apperr.ErrValidation)
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", apperr.ErrConflict)
)

type Store interface {
	// LockProducts loads the catalog rows for ids and holds them against
	// concurrent checkouts until the unit of work ends. Unknown ids are
	// absent from the result.
	LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
	// DecrementStock subtracts qty only if stock >= qty, otherwise
	// ErrInsufficientStock.
	DecrementStock(ctx context.Context, productID uuid.UUID, qty int) error

	InsertOrder(ctx context.Context, o Order) (*Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	// LockOrder is GetOrder that also serializes timeline appends on id.
	LockOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	// AppendTimeline adds entry to the end of the timeline and sets the
	// order status to entry.Status.
	AppendTimeline(ctx context.Context, id uuid.UUID, entry TimelineEntry) (*Order, error)
	// UpdateCourier overwrites the courier location and, when eta is not
	// nil, the ETA. Status and timeline are untouched.
	UpdateCourier(ctx context.Context, id uuid.UUID, loc Location, eta *int) (*Order, error)
	ListOrders(ctx context.Context, f Filter) ([]Order, error)
}

// Repository is a Store that can run a unit of work atomically.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// AddressBook exposes the saved addresses and default payment method kept
// by the profile service.
type AddressBook interface {
	Customer(ctx context.Context, userID uuid.UUID) (*Customer, error)
}
