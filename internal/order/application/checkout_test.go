package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	cartdomain "github.com/openmart/marketplace/internal/cart/domain"
	invdomain "github.com/openmart/marketplace/internal/inventory/domain"
	"github.com/openmart/marketplace/internal/order/domain"
)

type fakeOrders struct {
	mu        sync.Mutex
	created   []domain.Order
	events    []string
	failNext  error
	statusLog []string
}

func (f *fakeOrders) CreateWithOutbox(_ context.Context, o domain.Order, eventType string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.created = append(f.created, o)
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeOrders) Get(_ context.Context, id string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.created {
		if o.ID == id {
			return o, nil
		}
	}
	return domain.Order{}, ErrOrderNotFound
}

func (f *fakeOrders) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.created {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id string, from, to domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.created {
		if f.created[i].ID == id && f.created[i].Status == from {
			f.created[i].Status = to
			f.statusLog = append(f.statusLog, fmt.Sprintf("%s:%s->%s", id, from, to))
			return nil
		}
	}
	return ErrOrderNotFound
}

type fakeCarts struct {
	mu       sync.Mutex
	cart     cartdomain.Cart
	cleared  bool
	clearErr error
}

func (f *fakeCarts) GetByUser(_ context.Context, userID string) (cartdomain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.cart
	cp.UserID = userID
	cp.Items = append([]cartdomain.CartItem(nil), f.cart.Items...)
	return cp, nil
}

func (f *fakeCarts) Clear(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	f.cleared = true
	f.cart.Items = nil
	return nil
}

type invCall struct {
	op        string
	productID string
	quantity  int
	reference string
}

type fakeInventory struct {
	mu    sync.Mutex
	calls []invCall

	// failReserve maps product id to the error its reservation returns.
	failReserve map[string]error
	commitErr   error
	releaseErr  error

	// cancelCtx, when set, is cancelled right before the matching product's
	// reservation returns, simulating a client disconnect mid-saga.
	cancelOn  string
	cancelCtx context.CancelFunc

	// releaseSawLiveCtx records whether Release ran with an uncancelled
	// context even though the checkout context was cancelled.
	releaseSawLiveCtx bool
}

func (f *fakeInventory) record(op, productID string, qty int, ref string) {
	f.calls = append(f.calls, invCall{op: op, productID: productID, quantity: qty, reference: ref})
}

func (f *fakeInventory) Reserve(_ context.Context, productID, _ string, quantity int, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelOn == productID && f.cancelCtx != nil {
		f.cancelCtx()
	}
	if err, ok := f.failReserve[productID]; ok {
		return err
	}
	f.record("reserve", productID, quantity, reference)
	return nil
}

func (f *fakeInventory) Release(ctx context.Context, productID, _ string, quantity int, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	if ctx.Err() == nil {
		f.releaseSawLiveCtx = true
	}
	f.record("release", productID, quantity, reference)
	return nil
}

func (f *fakeInventory) CommitReservedAsSold(_ context.Context, productID, _ string, quantity int, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.record("commit", productID, quantity, reference)
	return nil
}

func (f *fakeInventory) ops(op string) []invCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []invCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeNames struct {
	names map[string]string
	err   error
}

func (f *fakeNames) ProductName(_ context.Context, productID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.names[productID], nil
}

func twoItemCart() cartdomain.Cart {
	return cartdomain.Cart{
		ID: "cart-1",
		Items: []cartdomain.CartItem{
			{ProductID: "p-b", Quantity: 1, UnitPriceCents: 400},
			{ProductID: "p-a", Quantity: 2, UnitPriceCents: 1500},
		},
	}
}

func newSaga(orders *fakeOrders, carts *fakeCarts, inv *fakeInventory, names *fakeNames) *CheckoutService {
	if names == nil {
		names = &fakeNames{names: map[string]string{"p-a": "Alpha", "p-b": "Beta"}}
	}
	return NewCheckoutService(slog.New(slog.NewTextHandler(io.Discard, nil)), orders, carts, inv, names)
}

func input() CheckoutInput {
	return CheckoutInput{
		UserID: "u1", StoreID: "s1",
		ShippingAddress: "1 Ship St", BillingAddress: "2 Bill Rd", PaymentMethod: "card",
	}
}

func TestCheckout_HappyPath(t *testing.T) {
	orders := &fakeOrders{}
	carts := &fakeCarts{cart: twoItemCart()}
	inv := &fakeInventory{}
	svc := newSaga(orders, carts, inv, nil)

	o, err := svc.Checkout(context.Background(), input())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if o.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", o.Status)
	}
	if o.TotalCents != 3400 {
		t.Errorf("total = %d, want 3400", o.TotalCents)
	}
	if len(o.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(o.Items))
	}
	if o.Items[0].ProductName != "Alpha" || o.Items[1].ProductName != "Beta" {
		t.Errorf("names = %q, %q", o.Items[0].ProductName, o.Items[1].ProductName)
	}

	if len(orders.created) != 1 || orders.events[0] != "OrderCreated" {
		t.Errorf("created = %d orders, events = %v", len(orders.created), orders.events)
	}
	if !carts.cleared {
		t.Error("cart not cleared")
	}
	if got := inv.ops("commit"); len(got) != 2 {
		t.Errorf("commits = %v, want 2", got)
	}
	if got := inv.ops("release"); len(got) != 0 {
		t.Errorf("unexpected releases: %v", got)
	}
}

func TestCheckout_ReservesInAscendingProductOrder(t *testing.T) {
	orders := &fakeOrders{}
	carts := &fakeCarts{cart: twoItemCart()} // cart order p-b, p-a
	inv := &fakeInventory{}
	svc := newSaga(orders, carts, inv, nil)

	if _, err := svc.Checkout(context.Background(), input()); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	reserves := inv.ops("reserve")
	if len(reserves) != 2 || reserves[0].productID != "p-a" || reserves[1].productID != "p-b" {
		t.Errorf("reserve order = %v, want p-a then p-b", reserves)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	orders := &fakeOrders{}
	carts := &fakeCarts{cart: cartdomain.Cart{ID: "cart-1"}}
	inv := &fakeInventory{}
	svc := newSaga(orders, carts, inv, nil)

	_, err := svc.Checkout(context.Background(), input())
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("err = %v, want ErrEmptyCart", err)
	}
	if len(inv.calls) != 0 || len(orders.created) != 0 {
		t.Errorf("empty cart produced side effects: inv=%v orders=%d", inv.calls, len(orders.created))
	}
}

func TestCheckout_SecondReservationFails(t *testing.T) {
	orders := &fakeOrders{}
	carts := &fakeCarts{cart: twoItemCart()}
	inv := &fakeInventory{failReserve: map[string]error{"p-b": invdomain.ErrInsufficientStock}}
	svc := newSaga(orders, carts, inv, nil)

	_, err := svc.Checkout(context.Background(), input())

	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if insufficient.ProductID != "p-b" {
		t.Errorf("failing product = %s, want p-b", insufficient.ProductID)
	}
	if !errors.Is(err, invdomain.ErrInsufficientStock) {
		t.Error("error does not unwrap to ErrInsufficientStock")
	}

	// p-a was reserved first (ascending order) and must be released.
	releases := inv.ops("release")
	if len(releases) != 1 || releases[0].productID != "p-a" || releases[0].quantity != 2 {
		t.Errorf("releases = %v, want one release of p-a x2", releases)
	}
	if len(orders.created) != 0 {
		t.Error("order created despite failed reservation")
	}
	if carts.cleared {
		t.Error("cart cleared despite failed reservation")
	}
}

func TestCheckout_ReleaseReferencesTheAttempt(t *testing.T) {
	orders := &fakeOrders{}
	carts := &fakeCarts{cart: twoItemCart()}
	inv := &fakeInventory{failReserve: map[string]error{"p-b": invdomain.ErrInsufficientStock}}
	svc := newSaga(orders, carts, inv, nil)

	_, _ = svc.Checkout(context.Background(), input())

	reserves, releases := inv.ops("reserve"), inv.ops("release")
	if len(reserves) == 0 || len(releases) == 0 {
		t.Fatalf("reserves = %v, releases = %v", reserves, releases)
	}
	if reserves[0].reference == "" || reserves[0].reference != releases[0].reference {
		t.Errorf("release reference %q does not match reserve reference %q",
			releases[0].reference, reserves[0].reference)
	}
}

func TestCheckout_OrderInsertFailureReleasesEverything(t *testing.T) {
	orders := &fakeOrders{failNext: errors.New("pg down")}
	carts := &fakeCarts{cart: twoItemCart()}
	inv := &fakeInventory{}
	svc := newSaga(orders, carts, inv, nil)

	_, err := svc.Checkout(context.Background(), input())
	if err == nil {
		t.Fatal("expected error")
	}
	releases := inv.ops("release")
	if len(releases) != 2 {
		t.Errorf("releases = %v, want both items released", releases)
	}
	if carts.cleared {
		t.Error("cart cleared despite failed order insert")
	}
}

func TestCheckout_NameLookupFailureIsNonFatal(t *testing.T) {
	orders := &fakeOrders{}
	carts := &fakeCarts{cart: twoItemCart()}
	inv := &fakeInventory{}
	svc := newSaga(orders, carts, inv, &fakeNames{err: errors.New("catalog down")})

	o, err := svc.Checkout(context.Background(), input())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	for _, item := range o.Items {
		if item.ProductName != PlaceholderProductName {
			t.Errorf("item %s name = %q, want placeholder", item.ProductID, item.ProductName)
		}
	}
}

func TestCheckout_CommitFailureStillReturnsOrder(t *testing.T) {
	orders := &fakeOrders{}
	carts := &fakeCarts{cart: twoItemCart()}
	inv := &fakeInventory{commitErr: errors.New("inventory down")}
	svc := newSaga(orders, carts, inv, nil)

	o, err := svc.Checkout(context.Background(), input())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if o.ID == "" || len(orders.created) != 1 {
		t.Fatal("order not created")
	}
	// The reservation backs the created order; releasing it here would let
	// the stock be resold underneath the order.
	if got := inv.ops("release"); len(got) != 0 {
		t.Errorf("commit failure triggered releases: %v", got)
	}
}

func TestCheckout_CartClearFailureStillReturnsOrder(t *testing.T) {
	orders := &fakeOrders{}
	carts := &fakeCarts{cart: twoItemCart(), clearErr: errors.New("pg down")}
	inv := &fakeInventory{}
	svc := newSaga(orders, carts, inv, nil)

	o, err := svc.Checkout(context.Background(), input())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if o.ID == "" {
		t.Fatal("no order returned")
	}
}

func TestCheckout_CancellationTriggersCompensation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	orders := &fakeOrders{}
	carts := &fakeCarts{cart: twoItemCart()}
	inv := &fakeInventory{
		cancelOn:    "p-b",
		cancelCtx:   cancel,
		failReserve: map[string]error{"p-b": context.Canceled},
	}
	svc := newSaga(orders, carts, inv, nil)

	_, err := svc.Checkout(ctx, input())
	if err == nil {
		t.Fatal("expected error from cancelled checkout")
	}
	releases := inv.ops("release")
	if len(releases) != 1 || releases[0].productID != "p-a" {
		t.Fatalf("releases = %v, want p-a released", releases)
	}
	// Compensation must run on a live context even though the request
	// context is gone.
	if !inv.releaseSawLiveCtx {
		t.Error("release ran on the cancelled request context")
	}
	if len(orders.created) != 0 {
		t.Error("order created after cancellation")
	}
}

func TestCheckout_CompensationFailureIsSurvived(t *testing.T) {
	orders := &fakeOrders{failNext: errors.New("pg down")}
	carts := &fakeCarts{cart: twoItemCart()}
	inv := &fakeInventory{releaseErr: errors.New("inventory down")}
	svc := newSaga(orders, carts, inv, nil)

	// The checkout error must be the original failure; the failed releases
	// are logged for reconciliation, not surfaced.
	_, err := svc.Checkout(context.Background(), input())
	if err == nil || errors.Is(err, invdomain.ErrInsufficientStock) {
		t.Fatalf("err = %v, want the order insert failure", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	orders := &fakeOrders{}
	carts := &fakeCarts{cart: twoItemCart()}
	svc := newSaga(orders, carts, &fakeInventory{}, nil)

	o, err := svc.Checkout(context.Background(), input())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	updated, err := svc.UpdateStatus(context.Background(), o.ID, domain.StatusPaid)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.StatusPaid {
		t.Errorf("status = %s, want paid", updated.Status)
	}

	if _, err := svc.UpdateStatus(context.Background(), o.ID, domain.StatusPending); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("backward transition: err = %v, want ErrInvalidTransition", err)
	}
}

func TestCheckout_TotalIgnoresLaterPriceChanges(t *testing.T) {
	orders := &fakeOrders{}
	carts := &fakeCarts{cart: twoItemCart()}
	inv := &fakeInventory{}
	svc := newSaga(orders, carts, inv, nil)

	o, err := svc.Checkout(context.Background(), input())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	want := o.TotalCents

	// A later price change in the cart never reaches the stored order.
	carts.mu.Lock()
	for i := range carts.cart.Items {
		carts.cart.Items[i].UnitPriceCents *= 10
	}
	carts.mu.Unlock()

	got, err := svc.Get(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalCents != want {
		t.Errorf("total = %d, want %d", got.TotalCents, want)
	}
}
