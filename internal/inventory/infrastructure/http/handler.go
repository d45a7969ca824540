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

	"github.com/openmart/marketplace/internal/inventory/application"
	"github.com/openmart/marketplace/internal/inventory/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("inventory-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/inventory/check", h.checkAvailability)
	r.Post("/inventory/reserve", h.reserve)
	r.Post("/inventory/release", h.release)
	r.Post("/inventory/commit", h.commit)
	r.Get("/inventory", h.listByProduct)
	r.Put("/inventory/{productID}/{storeID}", h.setStock)
	r.Post("/inventory/{id}/movements", h.createMovement)
	r.Get("/inventory/{id}/movements", h.listMovements)
	return r
}

type checkReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	StoreID   string `json:"store_id,omitempty"`
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CheckAvailability")
	defer span.End()

	var req checkReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	avail, err := h.service.CheckAvailability(ctx, req.ProductID, req.Quantity, req.StoreID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

type reservationReq struct {
	ProductID   string `json:"product_id"`
	StoreID     string `json:"store_id"`
	Quantity    int    `json:"quantity"`
	Reference   string `json:"reference,omitempty"`
	PerformedBy string `json:"performed_by,omitempty"`
}

func (req *reservationReq) validate() string {
	if req.ProductID == "" {
		return "product_id is required"
	}
	if req.StoreID == "" {
		return "store_id is required"
	}
	return ""
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReserveStock")
	defer span.End()

	req, ok := h.decodeReservation(w, r)
	if !ok {
		return
	}
	_, err := h.service.Reserve(ctx, req.ProductID, req.StoreID, req.Quantity, req.Reference, req.PerformedBy)
	if errors.Is(err, domain.ErrInsufficientStock) {
		h.writeInsufficient(ctx, w, req)
		return
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Stock reserved successfully"})
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReleaseStock")
	defer span.End()

	req, ok := h.decodeReservation(w, r)
	if !ok {
		return
	}
	_, err := h.service.Release(ctx, req.ProductID, req.StoreID, req.Quantity, req.Reference, req.PerformedBy)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Stock released successfully"})
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CommitReservedAsSold")
	defer span.End()

	req, ok := h.decodeReservation(w, r)
	if !ok {
		return
	}
	_, err := h.service.CommitReservedAsSold(ctx, req.ProductID, req.StoreID, req.Quantity, req.Reference, req.PerformedBy)
	if errors.Is(err, domain.ErrInsufficientStock) {
		h.writeInsufficient(ctx, w, req)
		return
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Stock committed successfully"})
}

func (h *Handler) decodeReservation(w http.ResponseWriter, r *http.Request) (reservationReq, bool) {
	var req reservationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return req, false
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return req, false
	}
	return req, true
}

// writeInsufficient reports the rejection together with what is actually
// available, matching what storefront clients expect to render.
func (h *Handler) writeInsufficient(ctx context.Context, w http.ResponseWriter, req reservationReq) {
	available := 0
	if rec, err := h.service.Get(ctx, req.ProductID, req.StoreID); err == nil {
		available = rec.Available()
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":     "Insufficient stock",
		"available": available,
	})
}

func (h *Handler) listByProduct(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListInventory")
	defer span.End()

	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		writeError(w, http.StatusBadRequest, "product_id query parameter is required")
		return
	}
	recs, err := h.service.ListByProduct(ctx, productID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]recordResp, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordResp(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type setStockReq struct {
	Quantity          int    `json:"quantity"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	PerformedBy       string `json:"performed_by,omitempty"`
}

func (h *Handler) setStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SetStock")
	defer span.End()

	var req setStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	rec, err := h.service.SetStock(ctx, chi.URLParam(r, "productID"), chi.URLParam(r, "storeID"),
		req.Quantity, req.LowStockThreshold, req.PerformedBy)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResp(rec))
}

type movementReq struct {
	MovementType string `json:"movement_type"`
	Quantity     int    `json:"quantity"`
	Reference    string `json:"reference,omitempty"`
	Notes        string `json:"notes,omitempty"`
	PerformedBy  string `json:"performed_by"`
}

type movementResp struct {
	ID           string `json:"id"`
	RecordID     string `json:"record_id"`
	MovementType string `json:"movement_type"`
	Quantity     int    `json:"quantity"`
	Reference    string `json:"reference,omitempty"`
	Notes        string `json:"notes,omitempty"`
	PerformedBy  string `json:"performed_by"`
	CreatedAt    string `json:"created_at"`
}

func (h *Handler) createMovement(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateMovement")
	defer span.End()

	var req movementReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	rec, err := h.service.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	_, m, err := h.service.ApplyMovement(ctx, rec.ProductID, rec.StoreID, domain.Movement{
		Type:        domain.MovementType(req.MovementType),
		Quantity:    req.Quantity,
		Reference:   req.Reference,
		Notes:       req.Notes,
		PerformedBy: req.PerformedBy,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementResp(m))
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListMovements")
	defer span.End()

	ms, err := h.service.ListMovements(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]movementResp, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMovementResp(m))
	}
	writeJSON(w, http.StatusOK, out)
}

type recordResp struct {
	ID                string `json:"id"`
	ProductID         string `json:"product_id"`
	StoreID           string `json:"store_id"`
	Quantity          int    `json:"quantity"`
	Reserved          int    `json:"reserved"`
	Available         int    `json:"available"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	UpdatedAt         string `json:"updated_at"`
}

func toRecordResp(rec domain.Record) recordResp {
	return recordResp{
		ID:                rec.ID,
		ProductID:         rec.ProductID,
		StoreID:           rec.StoreID,
		Quantity:          rec.Quantity,
		Reserved:          rec.Reserved,
		Available:         rec.Available(),
		LowStockThreshold: rec.LowStockThreshold,
		UpdatedAt:         rec.UpdatedAt.Format(time.RFC3339),
	}
}

func toMovementResp(m domain.Movement) movementResp {
	return movementResp{
		ID:           m.ID,
		RecordID:     m.RecordID,
		MovementType: string(m.Type),
		Quantity:     m.Quantity,
		Reference:    m.Reference,
		Notes:        m.Notes,
		PerformedBy:  m.PerformedBy,
		CreatedAt:    m.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "inventory record not found")
	case errors.Is(err, application.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidMovement),
		errors.Is(err, domain.ErrInsufficientStock):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("inventory request failed", "err", err)
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
