package domain

// OrderCreated is published through the outbox in the same transaction as
// the order insert.
type OrderCreated struct {
	OrderID    string             `json:"order_id"`
	UserID     string             `json:"user_id"`
	TotalCents int64              `json:"total_cents"`
	Items      []OrderCreatedItem `json:"items"`
}

type OrderCreatedItem struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}
