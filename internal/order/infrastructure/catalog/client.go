package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Client resolves product display names from the catalog service. Checkout
// treats any failure here as non-fatal, so the client keeps a short timeout
// and never retries.
type Client struct {
	baseURL string
	http    *http.Client
	tracer  trace.Tracer
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tracer:  otel.Tracer("catalog-client"),
	}
}

func (c *Client) ProductName(ctx context.Context, productID string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.ProductName", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products/"+productID, nil)
	if err != nil {
		return "", err
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("catalog lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("catalog lookup %s: status %d", productID, resp.StatusCode)
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("catalog decode: %w", err)
	}
	return body.Name, nil
}
