package domain

import (
	"errors"
	"testing"
)

func TestNewOrder_TotalFromSnapshot(t *testing.T) {
	o := NewOrder("o1", "u1", []OrderItem{
		{ProductID: "p1", Quantity: 2, UnitPriceCents: 1500},
		{ProductID: "p2", Quantity: 1, UnitPriceCents: 400},
	}, "ship", "bill", "card")
	if o.TotalCents != 3400 {
		t.Errorf("total = %d, want 3400", o.TotalCents)
	}
	if o.Status != StatusPending {
		t.Errorf("status = %s, want pending", o.Status)
	}
}

func TestTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusCancelled, true},
		{StatusPaid, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusPending, StatusShipped, false},
		{StatusPaid, StatusCancelled, false},
		{StatusDelivered, StatusPending, false},
		{StatusCancelled, StatusPaid, false},
	}
	for _, tc := range cases {
		o := Order{Status: tc.from}
		err := o.Transition(tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: err = %v, want ErrInvalidTransition", tc.from, tc.to, err)
		}
	}
}

func TestTransition_UnknownStatus(t *testing.T) {
	o := Order{Status: StatusPending}
	if err := o.Transition(Status("teleported")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}
