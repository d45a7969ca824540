package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmart/marketplace/internal/cart/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	var cart domain.Cart
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id=$1`, userID).
		Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.create(ctx, userID)
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT product_id, quantity, unit_price_cents, updated_at
		FROM cart_items WHERE cart_id=$1 ORDER BY product_id`, cart.ID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPriceCents, &item.UpdatedAt); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	return cart, rows.Err()
}

func (r *Repository) create(ctx context.Context, userID string) (domain.Cart, error) {
	now := time.Now().UTC()
	cart := domain.Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	// Another request may race us to the first touch; keep whichever row won.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO carts (id, user_id, created_at, updated_at) VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING`, cart.ID, userID, now)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("create cart: %w", err)
	}
	err = r.pool.QueryRow(ctx, `SELECT id, created_at, updated_at FROM carts WHERE user_id=$1`, userID).
		Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("reload cart: %w", err)
	}
	return cart, nil
}

func (r *Repository) UpsertItem(ctx context.Context, cartID string, item domain.CartItem) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity, unit_price_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at=$5`,
		cartID, item.ProductID, item.Quantity, item.UnitPriceCents, now)
	if err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return r.touch(ctx, cartID, now)
}

func (r *Repository) SetItemQuantity(ctx context.Context, cartID, productID string, quantity int) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`UPDATE cart_items SET quantity=$3, updated_at=$4 WHERE cart_id=$1 AND product_id=$2`,
		cartID, productID, quantity, now)
	if err != nil {
		return fmt.Errorf("set cart item quantity: %w", err)
	}
	return r.touch(ctx, cartID, now)
}

func (r *Repository) RemoveItem(ctx context.Context, cartID, productID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM cart_items WHERE cart_id=$1 AND product_id=$2`, cartID, productID)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return r.touch(ctx, cartID, time.Now().UTC())
}

func (r *Repository) Clear(ctx context.Context, cartID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cartID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return r.touch(ctx, cartID, time.Now().UTC())
}

func (r *Repository) touch(ctx context.Context, cartID string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE carts SET updated_at=$2 WHERE id=$1`, cartID, now)
	if err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}
