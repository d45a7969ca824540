package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmart/marketplace/internal/cart/domain"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidPrice    = errors.New("unit price must not be negative")
	ErrItemNotFound    = errors.New("cart item not found")
)

type Service struct {
	log   *slog.Logger
	store CartStore
}

func NewService(log *slog.Logger, store CartStore) *Service {
	return &Service{log: log, store: store}
}

func (s *Service) Get(ctx context.Context, userID string) (domain.Cart, error) {
	return s.store.GetByUser(ctx, userID)
}

// AddItem adds quantity of a product, incrementing an existing line. The
// unit price is snapshotted when the line is first created.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int, unitPriceCents int64) (domain.Cart, error) {
	if quantity <= 0 {
		return domain.Cart{}, ErrInvalidQuantity
	}
	if unitPriceCents < 0 {
		return domain.Cart{}, ErrInvalidPrice
	}
	cart, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	item := domain.CartItem{ProductID: productID, Quantity: quantity, UnitPriceCents: unitPriceCents}
	if err := s.store.UpsertItem(ctx, cart.ID, item); err != nil {
		return domain.Cart{}, fmt.Errorf("add cart item: %w", err)
	}
	return s.store.GetByUser(ctx, userID)
}

// SetItemQuantity pins a line to an absolute quantity; zero or less removes
// the line.
func (s *Service) SetItemQuantity(ctx context.Context, userID, productID string, quantity int) (domain.Cart, error) {
	cart, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	if _, ok := cart.Item(productID); !ok {
		return domain.Cart{}, ErrItemNotFound
	}
	if quantity <= 0 {
		if err := s.store.RemoveItem(ctx, cart.ID, productID); err != nil {
			return domain.Cart{}, fmt.Errorf("remove cart item: %w", err)
		}
	} else {
		if err := s.store.SetItemQuantity(ctx, cart.ID, productID, quantity); err != nil {
			return domain.Cart{}, fmt.Errorf("set cart item quantity: %w", err)
		}
	}
	return s.store.GetByUser(ctx, userID)
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	cart, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.store.Clear(ctx, cart.ID)
}
