package order

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medoswift-realtime/internal/apperr"
	"github.com/hackgods/medoswift-realtime/internal/auth"
	"github.com/hackgods/medoswift-realtime/internal/realtime"
)

const listLimit = 200

var (
	ErrInvalidStatus   = fmt.Errorf("%w: unknown order status", apperr.ErrValidation)
	ErrInvalidLocation = fmt.Errorf("%w: lat must be within [-90,90] and lng within [-180,180]", apperr.ErrValidation)
	ErrInvalidETA      = fmt.Errorf("%w: eta must be between 1 and 240 minutes", apperr.ErrValidation)
	ErrNotOwner        = fmt.Errorf("%w: order belongs to another user", apperr.ErrForbidden)
	ErrAdminOnly       = fmt.Errorf("%w: administrator role required", apperr.ErrForbidden)
)

type CourierUpdate struct {
	Lat        float64
	Lng        float64
	ETAMinutes *int
}

// Lifecycle governs status changes and courier tracking after checkout.
// Any status may follow any other; the timeline only grows.
type Lifecycle struct {
	repo   Repository
	events realtime.Publisher
	now    func() time.Time
}

func NewLifecycle(repo Repository, events realtime.Publisher) *Lifecycle {
	return &Lifecycle{
		repo:   repo,
		events: events,
		now:    time.Now,
	}
}

func (l *Lifecycle) Transition(ctx context.Context, orderID uuid.UUID, actor auth.Actor, status Status) (*Order, error) {
	if !actor.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	var updated *Order
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx Store) error {
		current, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}

		at := l.now().UTC()
		if n := len(current.Timeline); n > 0 && at.Before(current.Timeline[n-1].At) {
			at = current.Timeline[n-1].At
		}

		updated, err = tx.AppendTimeline(ctx, orderID, TimelineEntry{Status: status, At: at})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("order status changed id=%s status=%q by=%s", updated.ID, updated.Status, actor.ID)
	l.events.Publish(realtime.OrderTopic(updated.ID), realtime.EventOrderUpdate, map[string]any{
		"orderId":  updated.ID.String(),
		"status":   updated.Status,
		"timeline": updated.Timeline,
	})
	l.events.Publish(realtime.UserTopic(updated.UserID), realtime.EventOrderUpdate, map[string]any{
		"orderId": updated.ID.String(),
		"status":  updated.Status,
	})
	return updated, nil
}

// UpdateCourier moves the courier and optionally resets the ETA. Only the
// order topic is notified.
func (l *Lifecycle) UpdateCourier(ctx context.Context, orderID uuid.UUID, actor auth.Actor, u CourierUpdate) (*Order, error) {
	if !actor.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if u.Lat < -90 || u.Lat > 90 || u.Lng < -180 || u.Lng > 180 {
		return nil, ErrInvalidLocation
	}
	if u.ETAMinutes != nil && (*u.ETAMinutes < 1 || *u.ETAMinutes > 240) {
		return nil, ErrInvalidETA
	}

	updated, err := l.repo.UpdateCourier(ctx, orderID, Location{Lat: u.Lat, Lng: u.Lng}, u.ETAMinutes)
	if err != nil {
		return nil, err
	}

	l.events.Publish(realtime.OrderTopic(updated.ID), realtime.EventOrderTrack, map[string]any{
		"orderId":    updated.ID.String(),
		"courier":    updated.Courier,
		"etaMinutes": updated.ETAMinutes,
	})
	return updated, nil
}

// Get returns the order to its owner or an administrator.
func (l *Lifecycle) Get(ctx context.Context, orderID uuid.UUID, actor auth.Actor) (*Order, error) {
	o, err := l.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != actor.ID && !actor.IsAdmin() {
		return nil, ErrNotOwner
	}
	return o, nil
}

func (l *Lifecycle) Snapshot(ctx context.Context, orderID uuid.UUID, actor auth.Actor) (*Snapshot, error) {
	o, err := l.Get(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		OrderID:         o.ID,
		Status:          o.Status,
		Timeline:        o.Timeline,
		Courier:         o.Courier,
		ETAMinutes:      o.ETAMinutes,
		ShippingAddress: o.ShippingAddress,
	}, nil
}

// ListForActor returns a user's own orders, the latest orders for an
// administrator and nothing for doctors.
func (l *Lifecycle) ListForActor(ctx context.Context, actor auth.Actor) ([]Order, error) {
	f := Filter{Limit: listLimit}
	switch actor.Role {
	case auth.RoleDoctor:
		return []Order{}, nil
	case auth.RoleUser:
		f.UserID = &actor.ID
	}

	orders, err := l.repo.ListOrders(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
