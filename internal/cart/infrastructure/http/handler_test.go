package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openmart/marketplace/internal/cart/application"
	"github.com/openmart/marketplace/internal/cart/domain"
)

type fakeStore struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart
}

func newFakeStore() *fakeStore {
	return &fakeStore{carts: map[string]*domain.Cart{}}
}

func (f *fakeStore) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.carts {
		if c.UserID == userID {
			return *c, nil
		}
	}
	c := &domain.Cart{ID: uuid.NewString(), UserID: userID, UpdatedAt: time.Now().UTC()}
	f.carts[c.ID] = c
	return *c, nil
}

func (f *fakeStore) UpsertItem(ctx context.Context, cartID string, item domain.CartItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.carts[cartID]
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			c.Items[i].Quantity += item.Quantity
			return nil
		}
	}
	c.Items = append(c.Items, item)
	return nil
}

func (f *fakeStore) SetItemQuantity(ctx context.Context, cartID, productID string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.carts[cartID]
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			return nil
		}
	}
	return application.ErrItemNotFound
}

func (f *fakeStore) RemoveItem(ctx context.Context, cartID, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.carts[cartID]
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return application.ErrItemNotFound
}

func (f *fakeStore) Clear(ctx context.Context, cartID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[cartID].Items = nil
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := application.NewService(log, newFakeStore())
	h := NewHandler(log, svc)
	r := chi.NewRouter()
	r.Mount("/cart", h.Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any, user string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestGetCart_CreatesEmptyCart(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/cart", nil, "user-1")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got cartResp
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.UserID != "user-1" || len(got.Items) != 0 || got.TotalCents != 0 {
		t.Errorf("cart = %+v", got)
	}
}

func TestAddItem_AccumulatesQuantity(t *testing.T) {
	srv := newTestServer(t)

	add := addItemReq{ProductID: "p-1", Quantity: 2, UnitPriceCents: 750}
	resp := do(t, http.MethodPost, srv.URL+"/cart/items", add, "user-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first add status = %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, srv.URL+"/cart/items", add, "user-1")
	defer resp.Body.Close()
	var got cartResp
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 4 || got.TotalCents != 3000 {
		t.Errorf("cart = %+v", got)
	}
}

func TestAddItem_Validation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		req  addItemReq
	}{
		{"missing product", addItemReq{Quantity: 1, UnitPriceCents: 100}},
		{"zero quantity", addItemReq{ProductID: "p-1", UnitPriceCents: 100}},
		{"negative price", addItemReq{ProductID: "p-1", Quantity: 1, UnitPriceCents: -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/cart/items", tc.req, "user-1")
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d", resp.StatusCode)
			}
		})
	}
}

func TestSetQuantity_ZeroRemovesLine(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/cart/items",
		addItemReq{ProductID: "p-1", Quantity: 3, UnitPriceCents: 100}, "user-1")
	resp.Body.Close()

	resp = do(t, http.MethodPut, srv.URL+"/cart/items/p-1", setQuantityReq{Quantity: 0}, "user-1")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got cartResp
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 0 {
		t.Errorf("items = %+v", got.Items)
	}
}

func TestClearCart(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/cart/items",
		addItemReq{ProductID: "p-1", Quantity: 1, UnitPriceCents: 100}, "user-1")
	resp.Body.Close()

	resp = do(t, http.MethodDelete, srv.URL+"/cart", nil, "user-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/cart", nil, "user-1")
	defer resp.Body.Close()
	var got cartResp
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 0 {
		t.Errorf("items = %+v", got.Items)
	}
}

func TestCart_RequiresUser(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/cart", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
