package order

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medoswift-realtime/internal/apperr"
	"github.com/hackgods/medoswift-realtime/internal/realtime"
)

const (
	MaxCartLines = 50
	MaxLineQty   = 20

	freeDeliveryThreshold = 499.0
	standardDeliveryFee   = 25.0

	courierName = "MedoSwift Rider"
	defaultLat  = 12.9716
	defaultLng  = 77.5946
)

var (
	ErrEmptyCart            = fmt.Errorf("%w: cart is empty", apperr.ErrValidation)
	ErrCartTooLarge         = fmt.Errorf("%w: cart has more than %d lines", apperr.ErrValidation, MaxCartLines)
	ErrInvalidQuantity      = fmt.Errorf("%w: quantity must be between 1 and %d", apperr.ErrValidation, MaxLineQty)
	ErrInvalidPaymentMethod = fmt.Errorf("%w: payment method must be UPI, Card or Cash", apperr.ErrValidation)
	ErrNoAddress            = fmt.Errorf("%w: add an address before checkout", apperr.ErrValidation)
	ErrAddressNotFound      = fmt.Errorf("%w: address not found", apperr.ErrValidation)
)

type CheckoutRequest struct {
	Items         []CartLine
	AddressID     *uuid.UUID
	PaymentMethod PaymentMethod
	// MockPaid records the order as paid. Nil means paid.
	MockPaid *bool
}

// Ledger turns a cart into an order. Stock validation and decrement for
// every line happen in one unit of work.
type Ledger struct {
	repo      Repository
	addresses AddressBook
	events    realtime.Publisher
	now       func() time.Time
}

func NewLedger(repo Repository, addresses AddressBook, events realtime.Publisher) *Ledger {
	return &Ledger{
		repo:      repo,
		addresses: addresses,
		events:    events,
		now:       time.Now,
	}
}

func (l *Ledger) Checkout(ctx context.Context, userID uuid.UUID, req CheckoutRequest) (*Order, error) {
	lines, err := normalizeCart(req.Items)
	if err != nil {
		return nil, err
	}
	if req.PaymentMethod != "" && !req.PaymentMethod.Valid() {
		return nil, ErrInvalidPaymentMethod
	}

	customer, err := l.addresses.Customer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	address, err := pickAddress(customer.Addresses, req.AddressID)
	if err != nil {
		return nil, err
	}

	method := req.PaymentMethod
	if method == "" {
		method = customer.DefaultPaymentMethod
	}
	if !method.Valid() {
		method = PaymentUPI
	}
	payment := Payment{Method: method, Status: PaymentPaid}
	if req.MockPaid != nil && !*req.MockPaid {
		payment.Status = PaymentPending
	}

	var created *Order
	err = l.repo.WithTx(ctx, func(ctx context.Context, tx Store) error {
		ids := make([]uuid.UUID, len(lines))
		for i, line := range lines {
			ids[i] = line.ProductID
		}
		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return fmt.Errorf("lock products: %w", err)
		}

		// Every line is checked before any stock moves.
		items := make([]Item, 0, len(lines))
		subtotal := 0.0
		for _, line := range lines {
			p, ok := products[line.ProductID]
			if !ok {
				return ErrProductNotFound
			}
			if p.Stock < line.Qty {
				return fmt.Errorf("%w for %s", ErrInsufficientStock, p.Name)
			}
			items = append(items, Item{ProductID: p.ID, Name: p.Name, Price: p.Price, Qty: line.Qty})
			subtotal += p.Price * float64(line.Qty)
		}

		for _, line := range lines {
			if err := tx.DecrementStock(ctx, line.ProductID, line.Qty); err != nil {
				return err
			}
		}

		subtotal = roundMoney(subtotal)
		fee := DeliveryFee(subtotal)
		now := l.now().UTC()

		created, err = tx.InsertOrder(ctx, Order{
			ID:              uuid.New(),
			UserID:          userID,
			Items:           items,
			Subtotal:        subtotal,
			DeliveryFee:     fee,
			Total:           roundMoney(subtotal + fee),
			ShippingAddress: address,
			Payment:         payment,
			Status:          StatusPlaced,
			Timeline:        []TimelineEntry{{Status: StatusPlaced, At: now}},
			Courier:         seedCourier(address),
			ETAMinutes:      EstimateETA(subtotal),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("order placed id=%s user=%s lines=%d total=%.2f", created.ID, userID, len(created.Items), created.Total)
	l.events.Publish(realtime.UserTopic(userID), realtime.EventOrderNew, map[string]any{
		"orderId": created.ID.String(),
	})
	return created, nil
}

// DeliveryFee is free from the threshold up and flat below it.
func DeliveryFee(subtotal float64) float64 {
	if subtotal >= freeDeliveryThreshold {
		return 0
	}
	return standardDeliveryFee
}

// EstimateETA returns round(12 + subtotal/80) minutes clamped to [12, 45].
func EstimateETA(subtotal float64) int {
	eta := int(math.Round(12 + subtotal/80))
	return min(45, max(12, eta))
}

// normalizeCart merges repeated products, keeping first-seen order, and
// bounds the merged quantity of each product.
func normalizeCart(in []CartLine) ([]CartLine, error) {
	if len(in) == 0 {
		return nil, ErrEmptyCart
	}
	if len(in) > MaxCartLines {
		return nil, ErrCartTooLarge
	}

	index := make(map[uuid.UUID]int, len(in))
	out := make([]CartLine, 0, len(in))
	for _, line := range in {
		if line.Qty < 1 {
			return nil, ErrInvalidQuantity
		}
		if i, ok := index[line.ProductID]; ok {
			out[i].Qty += line.Qty
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	for _, line := range out {
		if line.Qty > MaxLineQty {
			return nil, ErrInvalidQuantity
		}
	}
	return out, nil
}

func pickAddress(addresses []Address, id *uuid.UUID) (Address, error) {
	if len(addresses) == 0 {
		return Address{}, ErrNoAddress
	}
	if id == nil {
		return addresses[0], nil
	}
	for _, a := range addresses {
		if a.ID == *id {
			return a, nil
		}
	}
	return Address{}, ErrAddressNotFound
}

func seedCourier(a Address) Courier {
	lat, lng := defaultLat, defaultLng
	if a.Lat != nil {
		lat = *a.Lat
	}
	if a.Lng != nil {
		lng = *a.Lng
	}
	return Courier{
		Name:     courierName,
		Location: Location{Lat: lat + 0.01, Lng: lng - 0.01},
	}
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
