package application

import (
	"context"

	"github.com/openmart/marketplace/internal/cart/domain"
)

type CartStore interface {
	// GetByUser returns the user's cart with items, creating the empty cart
	// on first touch.
	GetByUser(ctx context.Context, userID string) (domain.Cart, error)

	// UpsertItem inserts the item or adds delta to an existing line. The
	// price snapshot is refreshed on insert only.
	UpsertItem(ctx context.Context, cartID string, item domain.CartItem) error

	// SetItemQuantity overwrites the quantity of an existing line.
	SetItemQuantity(ctx context.Context, cartID, productID string, quantity int) error

	RemoveItem(ctx context.Context, cartID, productID string) error

	// Clear deletes all items; the cart row survives.
	Clear(ctx context.Context, cartID string) error
}
