package order

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPlaced    Status = "Placed"
	StatusConfirmed Status = "Confirmed"
	StatusOnWay     Status = "On Way"
	StatusDelivered Status = "Delivered"
	StatusCancelled Status = "Cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPlaced, StatusConfirmed, StatusOnWay, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentUPI  PaymentMethod = "UPI"
	PaymentCard PaymentMethod = "Card"
	PaymentCash PaymentMethod = "Cash"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentUPI || m == PaymentCard || m == PaymentCash
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type Item struct {
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Qty       int       `json:"qty"`
}

type Address struct {
	ID      uuid.UUID `json:"id"`
	Label   string    `json:"label"`
	Line1   string    `json:"line1"`
	Line2   string    `json:"line2"`
	City    string    `json:"city"`
	State   string    `json:"state"`
	Pincode string    `json:"pincode"`
	Lat     *float64  `json:"lat,omitempty"`
	Lng     *float64  `json:"lng,omitempty"`
}

type Payment struct {
	Method PaymentMethod `json:"method"`
	Status PaymentStatus `json:"status"`
}

type TimelineEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Courier struct {
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	Location Location `json:"location"`
}

// Order is a materialized checkout. Status always equals the status of the
// last timeline entry.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"userId"`
	Items           []Item          `json:"items"`
	Subtotal        float64         `json:"subtotal"`
	DeliveryFee     float64         `json:"deliveryFee"`
	Total           float64         `json:"total"`
	ShippingAddress Address         `json:"shippingAddress"`
	Payment         Payment         `json:"payment"`
	Status          Status          `json:"status"`
	Timeline        []TimelineEntry `json:"timeline"`
	Courier         Courier         `json:"courier"`
	ETAMinutes      int             `json:"etaMinutes"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Product is the stock-bearing catalog entry read and decremented at
// checkout.
type Product struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Price float64   `json:"price"`
	Stock int       `json:"stock"`
}

type CartLine struct {
	ProductID uuid.UUID
	Qty       int
}

// Customer is what the profile service knows about a buyer.
type Customer struct {
	Addresses            []Address
	DefaultPaymentMethod PaymentMethod
}

// Snapshot is the canonical tracking state a client reads to resynchronize
// after missing live events.
type Snapshot struct {
	OrderID         uuid.UUID       `json:"orderId"`
	Status          Status          `json:"status"`
	Timeline        []TimelineEntry `json:"timeline"`
	Courier         Courier         `json:"courier"`
	ETAMinutes      int             `json:"etaMinutes"`
	ShippingAddress Address         `json:"shippingAddress"`
}

// Filter narrows ListOrders. A nil UserID matches every owner.
type Filter struct {
	UserID *uuid.UUID
	Limit  int
}
