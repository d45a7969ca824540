package domain

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

var ErrInvalidTransition = errors.New("invalid order status transition")

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled},
	StatusPaid:    {StatusShipped},
	StatusShipped: {StatusDelivered},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID              string
	UserID          string
	Status          Status
	Items           []OrderItem
	TotalCents      int64
	ShippingAddress string
	BillingAddress  string
	PaymentMethod   string
	PaymentRef      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem snapshots product, name, quantity and price at checkout time;
// later catalog or price changes never touch it.
type OrderItem struct {
	ProductID      string
	ProductName    string
	Quantity       int
	UnitPriceCents int64
}

// NewOrder computes the total from the item snapshot once; it is never
// recomputed.
func NewOrder(id, userID string, items []OrderItem, shipping, billing, paymentMethod string) Order {
	var total int64
	for _, item := range items {
		total += int64(item.Quantity) * item.UnitPriceCents
	}
	now := time.Now().UTC()
	return Order{
		ID:              id,
		UserID:          userID,
		Status:          StatusPending,
		Items:           items,
		TotalCents:      total,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		PaymentMethod:   paymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Transition validates and applies a status change.
func (o *Order) Transition(to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}
