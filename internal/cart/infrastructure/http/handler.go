package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openmart/marketplace/internal/cart/application"
	"github.com/openmart/marketplace/internal/cart/domain"
)

// UserHeader carries the authenticated user id injected by the gateway.
const UserHeader = "X-User-ID"

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("cart-http"),
	}
}

// Routes is mounted under /cart by the service main.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{productID}", h.setItemQuantity)
	r.Delete("/", h.clear)
	return r
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetCart")
	defer span.End()

	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	cart, err := h.service.Get(ctx, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResp(cart))
}

type addItemReq struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AddCartItem")
	defer span.End()

	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	var req addItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}
	cart, err := h.service.AddItem(ctx, userID, req.ProductID, req.Quantity, req.UnitPriceCents)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCartResp(cart))
}

type setQuantityReq struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) setItemQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SetCartItemQuantity")
	defer span.End()

	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	var req setQuantityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	cart, err := h.service.SetItemQuantity(ctx, userID, chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResp(cart))
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ClearCart")
	defer span.End()

	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	if err := h.service.Clear(ctx, userID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cartItemResp struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type cartResp struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Items      []cartItemResp `json:"items"`
	TotalCents int64          `json:"total_cents"`
	UpdatedAt  string         `json:"updated_at"`
}

func toCartResp(cart domain.Cart) cartResp {
	items := make([]cartItemResp, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemResp{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			SubtotalCents:  int64(item.Quantity) * item.UnitPriceCents,
		})
	}
	return cartResp{
		ID:         cart.ID,
		UserID:     cart.UserID,
		Items:      items,
		TotalCents: cart.TotalCents(),
		UpdatedAt:  cart.UpdatedAt.Format(time.RFC3339),
	}
}

func userFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return "", false
	}
	return userID, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, application.ErrInvalidQuantity), errors.Is(err, application.ErrInvalidPrice):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("cart request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
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
