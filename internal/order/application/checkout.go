package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	cartdomain "github.com/openmart/marketplace/internal/cart/domain"
	invdomain "github.com/openmart/marketplace/internal/inventory/domain"
	"github.com/openmart/marketplace/internal/order/domain"
)

var (
	ErrEmptyCart     = errors.New("cart is empty")
	ErrOrderNotFound = errors.New("order not found")
)

// InsufficientStockError names the first item whose reservation failed.
type InsufficientStockError struct {
	ProductID string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
}

func (e *InsufficientStockError) Unwrap() error { return invdomain.ErrInsufficientStock }

// PlaceholderProductName is used when the catalog lookup fails; naming is
// best-effort, stock consistency is not.
const PlaceholderProductName = "Unknown product"

// compensationTimeout bounds the release pass when the request context is
// already cancelled or expired.
const compensationTimeout = 10 * time.Second

// CheckoutService coordinates the cart-to-order saga: reserve every line,
// create the order, commit the reservations, clear the cart, compensating
// with releases on any failure before the order exists.
type CheckoutService struct {
	log       *slog.Logger
	orders    OrderRepository
	carts     CartStore
	inventory ReservationEngine
	names     NameResolver
	tracer    trace.Tracer
}

func NewCheckoutService(log *slog.Logger, orders OrderRepository, carts CartStore, inventory ReservationEngine, names NameResolver) *CheckoutService {
	return &CheckoutService{
		log:       log,
		orders:    orders,
		carts:     carts,
		inventory: inventory,
		names:     names,
		tracer:    otel.Tracer("checkout"),
	}
}

type CheckoutInput struct {
	UserID          string
	StoreID         string
	ShippingAddress string
	BillingAddress  string
	PaymentMethod   string
}

// Checkout runs the saga. On success the created order is returned and the
// cart is cleared. A reservation shortfall or any failure before the order
// insert releases every reservation taken for this attempt and leaves the
// cart untouched.
func (s *CheckoutService) Checkout(ctx context.Context, in CheckoutInput) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "Checkout")
	defer span.End()

	cart, err := s.carts.GetByUser(ctx, in.UserID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return domain.Order{}, ErrEmptyCart
	}

	// Ascending product id keeps the per-row lock order identical across
	// concurrent checkouts.
	items := append([]cartdomain.CartItem(nil), cart.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	attemptID := uuid.NewString()
	reserved := make([]cartdomain.CartItem, 0, len(items))
	for _, item := range items {
		if err := s.reserveOne(ctx, in.StoreID, item, attemptID); err != nil {
			s.releaseAll(ctx, in.StoreID, reserved, attemptID)
			if errors.Is(err, invdomain.ErrInsufficientStock) {
				return domain.Order{}, &InsufficientStockError{ProductID: item.ProductID}
			}
			return domain.Order{}, fmt.Errorf("reserve %s: %w", item.ProductID, err)
		}
		reserved = append(reserved, item)
	}

	// Name lookups happen after all reservations so a slow catalog never
	// sits inside the reservation critical section.
	orderItems := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		orderItems = append(orderItems, domain.OrderItem{
			ProductID:      item.ProductID,
			ProductName:    s.resolveName(ctx, item.ProductID),
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	o := domain.NewOrder(uuid.NewString(), in.UserID, orderItems,
		in.ShippingAddress, in.BillingAddress, in.PaymentMethod)

	event := domain.OrderCreated{OrderID: o.ID, UserID: o.UserID, TotalCents: o.TotalCents}
	for _, item := range o.Items {
		event.Items = append(event.Items, domain.OrderCreatedItem{
			ProductID: item.ProductID, Quantity: item.Quantity, UnitPriceCents: item.UnitPriceCents,
		})
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.releaseAll(ctx, in.StoreID, reserved, attemptID)
		return domain.Order{}, fmt.Errorf("marshal order event: %w", err)
	}
	if err := s.orders.CreateWithOutbox(ctx, o, "OrderCreated", payload); err != nil {
		s.releaseAll(ctx, in.StoreID, reserved, attemptID)
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	// The order exists from here on. Failures below no longer roll anything
	// back: the reservations belong to the order now, and releasing them
	// would let the stock be resold underneath it. They are logged for the
	// reconciliation job instead.
	for _, item := range reserved {
		if err := s.inventory.CommitReservedAsSold(ctx, item.ProductID, in.StoreID, item.Quantity, o.ID); err != nil {
			s.log.Error("reservation commit failed, reconciliation required",
				"order_id", o.ID, "product_id", item.ProductID, "store_id", in.StoreID,
				"quantity", item.Quantity, "err", err)
		}
	}
	if err := s.carts.Clear(ctx, cart.ID); err != nil {
		s.log.Error("cart clear failed after checkout, reconciliation required",
			"order_id", o.ID, "cart_id", cart.ID, "err", err)
	}
	return o, nil
}

func (s *CheckoutService) reserveOne(ctx context.Context, storeID string, item cartdomain.CartItem, attemptID string) error {
	ctx, span := s.tracer.Start(ctx, "Checkout.Reserve")
	defer span.End()
	return s.inventory.Reserve(ctx, item.ProductID, storeID, item.Quantity, attemptID)
}

// releaseAll compensates every reservation taken for this attempt. It runs
// detached from the request context so a cancelled or timed-out checkout
// still gets its stock back; a failed release is logged for reconciliation.
func (s *CheckoutService) releaseAll(ctx context.Context, storeID string, items []cartdomain.CartItem, attemptID string) {
	if len(items) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "Checkout.Compensate")
	defer span.End()

	for _, item := range items {
		if err := s.inventory.Release(ctx, item.ProductID, storeID, item.Quantity, attemptID); err != nil {
			s.log.Error("compensating release failed, reconciliation required",
				"attempt_id", attemptID, "product_id", item.ProductID, "store_id", storeID,
				"quantity", item.Quantity, "err", err)
		}
	}
}

func (s *CheckoutService) resolveName(ctx context.Context, productID string) string {
	name, err := s.names.ProductName(ctx, productID)
	if err != nil || name == "" {
		s.log.Warn("product name lookup failed, using placeholder", "product_id", productID, "err", err)
		return PlaceholderProductName
	}
	return name
}

func (s *CheckoutService) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.orders.Get(ctx, id)
}

func (s *CheckoutService) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// UpdateStatus applies a validated transition; the conditional write keeps
// two concurrent transitions from both winning.
func (s *CheckoutService) UpdateStatus(ctx context.Context, id string, to domain.Status) (domain.Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	from := o.Status
	if err := o.Transition(to); err != nil {
		return domain.Order{}, err
	}
	if err := s.orders.UpdateStatus(ctx, id, from, to); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}
