package application

import (
	"context"

	cartdomain "github.com/openmart/marketplace/internal/cart/domain"
	"github.com/openmart/marketplace/internal/order/domain"
)

type OrderRepository interface {
	// CreateWithOutbox persists the order, all of its items and the outbox
	// event in a single transaction.
	CreateWithOutbox(ctx context.Context, o domain.Order, eventType string, payload []byte) error
	Get(ctx context.Context, id string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	// UpdateStatus commits the transition only if the stored status still
	// matches from.
	UpdateStatus(ctx context.Context, id string, from, to domain.Status) error
}

// CartStore is the slice of the cart service checkout needs.
type CartStore interface {
	GetByUser(ctx context.Context, userID string) (cartdomain.Cart, error)
	Clear(ctx context.Context, cartID string) error
}

// ReservationEngine is the inventory collaborator. Reserve failures surface
// as invdomain.ErrInsufficientStock.
type ReservationEngine interface {
	Reserve(ctx context.Context, productID, storeID string, quantity int, reference string) error
	Release(ctx context.Context, productID, storeID string, quantity int, reference string) error
	CommitReservedAsSold(ctx context.Context, productID, storeID string, quantity int, reference string) error
}

// NameResolver looks up product display names for order-line snapshots.
// Failures are tolerated; checkout substitutes a placeholder.
type NameResolver interface {
	ProductName(ctx context.Context, productID string) (string, error)
}
