package domain

import "time"

// Cart is a user's mutable pre-checkout collection. An empty cart is a valid
// persistent state; clearing removes items, never the cart itself.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem snapshots the unit price at the moment the product was added.
type CartItem struct {
	ProductID      string
	Quantity       int
	UnitPriceCents int64
	UpdatedAt      time.Time
}

// TotalCents is the display total; the checkout total is computed from the
// same snapshot when the order is created.
func (c *Cart) TotalCents() int64 {
	var total int64
	for _, item := range c.Items {
		total += int64(item.Quantity) * item.UnitPriceCents
	}
	return total
}

func (c *Cart) Item(productID string) (CartItem, bool) {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}
