package inventoryhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	invdomain "github.com/openmart/marketplace/internal/inventory/domain"
)

// Client calls the inventory service over JSON/HTTP. It satisfies the
// checkout ReservationEngine port; a reservation rejected for lack of stock
// comes back as invdomain.ErrInsufficientStock so the saga can tell a
// shortfall from an outage.
type Client struct {
	baseURL string
	http    *http.Client
	tracer  trace.Tracer
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		tracer: otel.Tracer("inventory-client"),
	}
}

type reservationReq struct {
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id"`
	Quantity  int    `json:"quantity"`
	Reference string `json:"reference,omitempty"`
}

func (c *Client) Reserve(ctx context.Context, productID, storeID string, quantity int, reference string) error {
	return c.post(ctx, "/inventory/reserve", reservationReq{
		ProductID: productID, StoreID: storeID, Quantity: quantity, Reference: reference,
	})
}

func (c *Client) Release(ctx context.Context, productID, storeID string, quantity int, reference string) error {
	return c.post(ctx, "/inventory/release", reservationReq{
		ProductID: productID, StoreID: storeID, Quantity: quantity, Reference: reference,
	})
}

func (c *Client) CommitReservedAsSold(ctx context.Context, productID, storeID string, quantity int, reference string) error {
	return c.post(ctx, "/inventory/commit", reservationReq{
		ProductID: productID, StoreID: storeID, Quantity: quantity, Reference: reference,
	})
}

func (c *Client) post(ctx context.Context, path string, body reservationReq) error {
	ctx, span := c.tracer.Start(ctx, "inventory"+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("inventory %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var apiErr struct {
		Error     string `json:"error"`
		Available int    `json:"available"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &apiErr)

	if resp.StatusCode == http.StatusBadRequest && apiErr.Error == "Insufficient stock" {
		return fmt.Errorf("%w: %d available", invdomain.ErrInsufficientStock, apiErr.Available)
	}
	err = fmt.Errorf("inventory %s: status %d: %s", path, resp.StatusCode, apiErr.Error)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
