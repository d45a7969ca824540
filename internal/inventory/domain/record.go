package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("inventory record not found")
	ErrInvalidMovement   = errors.New("invalid movement")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("concurrent modification")
)

// Record tracks one product at one store. Quantity is physical stock on
// hand, Reserved the part of it held for in-flight checkouts. At all times
// 0 <= Reserved <= Quantity.
type Record struct {
	ID                string
	ProductID         string
	StoreID           string
	Quantity          int
	Reserved          int
	LowStockThreshold int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Available is the stock a new reservation can still claim.
func (r *Record) Available() int {
	return r.Quantity - r.Reserved
}

// LowStock reports whether availability has fallen to the threshold. A zero
// threshold disables the signal.
func (r *Record) LowStock() bool {
	return r.LowStockThreshold > 0 && r.Available() <= r.LowStockThreshold
}

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
	MovementReturn     MovementType = "return"
	MovementReserve    MovementType = "reserve"
	MovementRelease    MovementType = "release"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjustment, MovementReturn, MovementReserve, MovementRelease:
		return true
	}
	return false
}

// Movement is one row of the stock ledger. The ledger is the source of
// truth; the counters on Record are a projection of it.
type Movement struct {
	ID          string
	RecordID    string
	Type        MovementType
	Quantity    int
	Reference   string
	Notes       string
	PerformedBy string
	CreatedAt   time.Time
}

// Validate checks type and quantity without looking at record state.
// Adjustments carry a signed delta and must be non-zero; every other type
// must be positive.
func (m *Movement) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMovement, m.Type)
	}
	if m.Type == MovementAdjustment {
		if m.Quantity == 0 {
			return fmt.Errorf("%w: adjustment delta must be non-zero", ErrInvalidMovement)
		}
		return nil
	}
	if m.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidMovement)
	}
	return nil
}

// Apply folds one movement into the counters, enforcing the reservation
// invariant. The record is unchanged when an error is returned.
func (r *Record) Apply(m Movement) error {
	if err := m.Validate(); err != nil {
		return err
	}

	switch m.Type {
	case MovementIn, MovementReturn:
		r.Quantity += m.Quantity

	case MovementOut:
		// An out consumes reserved stock first: committing a reservation as
		// sold is a single out movement.
		if m.Quantity > r.Quantity {
			return fmt.Errorf("%w: out of %d exceeds quantity %d", ErrInsufficientStock, m.Quantity, r.Quantity)
		}
		r.Quantity -= m.Quantity
		if r.Reserved > m.Quantity {
			r.Reserved -= m.Quantity
		} else {
			r.Reserved = 0
		}

	case MovementAdjustment:
		q := r.Quantity + m.Quantity
		if q < 0 {
			q = 0
		}
		if r.Reserved > q {
			return fmt.Errorf("%w: adjustment below reserved %d", ErrInvalidMovement, r.Reserved)
		}
		r.Quantity = q

	case MovementReserve:
		if m.Quantity > r.Available() {
			return fmt.Errorf("%w: %d available", ErrInsufficientStock, r.Available())
		}
		r.Reserved += m.Quantity

	case MovementRelease:
		if r.Reserved > m.Quantity {
			r.Reserved -= m.Quantity
		} else {
			r.Reserved = 0
		}
	}

	r.UpdatedAt = m.CreatedAt
	return nil
}

// Replay folds a movement history into counters from zero. Applied to a
// record's full ledger it reproduces the stored Quantity and Reserved
// exactly.
func Replay(movements []Movement) (quantity, reserved int, err error) {
	var r Record
	for _, m := range movements {
		if err := r.Apply(m); err != nil {
			return 0, 0, fmt.Errorf("replay movement %s: %w", m.ID, err)
		}
	}
	return r.Quantity, r.Reserved, nil
}
