package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openmart/marketplace/internal/order/application"
	"github.com/openmart/marketplace/internal/order/domain"
)

// UserHeader carries the authenticated user id, set by the edge proxy.
const UserHeader = "X-User-ID"

// IdempotencyHeader lets a client replay a checkout safely.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore remembers checkout responses per user and key so a
// retried request returns the original order instead of placing a second
// one.
type IdempotencyStore interface {
	RequestKey(userID, key string) string
	Seen(ctx context.Context, key string) (bool, error)
	Recall(ctx context.Context, key string) (body []byte, found bool, err error)
	Remember(ctx context.Context, key string, body []byte) error
	Forget(ctx context.Context, key string) error
}

type Handler struct {
	log     *slog.Logger
	service *application.CheckoutService
	idem    IdempotencyStore
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.CheckoutService, idem IdempotencyStore) *Handler {
	return &Handler{
		log:     log,
		service: service,
		idem:    idem,
		tracer:  otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.checkout)
	r.Get("/orders", h.listByUser)
	r.Get("/orders/{id}", h.get)
	r.Put("/orders/{id}/status", h.updateStatus)
	return r
}

type checkoutReq struct {
	UserID          string `json:"user_id,omitempty"`
	StoreID         string `json:"store_id"`
	ShippingAddress string `json:"shipping_address"`
	BillingAddress  string `json:"billing_address"`
	PaymentMethod   string `json:"payment_method"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Checkout")
	defer span.End()

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	// The gateway header is authoritative; the body field exists for
	// service-to-service callers that carry no user headers.
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		userID = req.UserID
	}
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	if req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "store_id is required")
		return
	}

	// Claim the key before running the checkout so two concurrent first
	// requests cannot both place an order. The loser of the race either
	// replays the stored response or is told to retry.
	var idemKey string
	if key := r.Header.Get(IdempotencyHeader); key != "" && h.idem != nil {
		idemKey = h.idem.RequestKey(userID, key)
		seen, err := h.idem.Seen(ctx, idemKey)
		if err != nil {
			h.log.Error("idempotency claim failed", "err", err)
		} else if seen {
			body, found, err := h.idem.Recall(ctx, idemKey)
			if err != nil {
				h.log.Error("idempotency lookup failed", "err", err)
			} else if found {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(body)
				return
			}
			writeError(w, http.StatusConflict, "checkout with this key is already in progress")
			return
		}
	}

	o, err := h.service.Checkout(ctx, application.CheckoutInput{
		UserID:          userID,
		StoreID:         req.StoreID,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		if idemKey != "" {
			if ferr := h.idem.Forget(ctx, idemKey); ferr != nil {
				h.log.Error("idempotency release failed", "err", ferr)
			}
		}
		h.writeCheckoutError(w, err)
		return
	}

	resp := toOrderResp(o)
	if idemKey != "" {
		if body, err := json.Marshal(resp); err == nil {
			if err := h.idem.Remember(ctx, idemKey, body); err != nil {
				h.log.Error("idempotency store failed", "order_id", o.ID, "err", err)
			}
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	o, err := h.service.Get(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, application.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.log.Error("get order failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *Handler) listByUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
		return
	}

	orders, err := h.service.ListByUser(ctx, userID)
	if err != nil {
		h.log.Error("list orders failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]orderResp, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResp(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrderStatus")
	defer span.End()

	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	o, err := h.service.UpdateStatus(ctx, chi.URLParam(r, "id"), domain.Status(req.Status))
	if errors.Is(err, application.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.log.Error("update status failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

// Checkout rejections carry a machine-readable code next to the human
// message so clients can branch without parsing prose.
func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	var insufficient *application.InsufficientStockError
	switch {
	case errors.Is(err, application.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "cart is empty",
			"code":  "empty_cart",
		})
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":      "Insufficient stock",
			"code":       "insufficient_stock:" + insufficient.ProductID,
			"product_id": insufficient.ProductID,
		})
	default:
		h.log.Error("checkout failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type orderResp struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Status          string          `json:"status"`
	Items           []orderItemResp `json:"items"`
	TotalCents      int64           `json:"total_cents"`
	ShippingAddress string          `json:"shipping_address"`
	BillingAddress  string          `json:"billing_address"`
	PaymentMethod   string          `json:"payment_method"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

type orderItemResp struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

func toOrderResp(o domain.Order) orderResp {
	items := make([]orderItemResp, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResp{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			SubtotalCents:  int64(item.Quantity) * item.UnitPriceCents,
		})
	}
	return orderResp{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          string(o.Status),
		Items:           items,
		TotalCents:      o.TotalCents,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		PaymentMethod:   o.PaymentMethod,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
