package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmart/marketplace/internal/inventory/domain"
	"github.com/openmart/marketplace/pkg/tracing"
)

// Repository persists inventory records and their movement ledger. Movements
// are applied under a row lock so the ledger append and the counter update
// commit together.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const recordColumns = `id, product_id, store_id, quantity, reserved, low_stock_threshold, created_at, updated_at`

func scanRecord(row pgx.Row) (domain.Record, error) {
	var rec domain.Record
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.StoreID, &rec.Quantity, &rec.Reserved,
		&rec.LowStockThreshold, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("scan inventory record: %w", err)
	}
	return rec, nil
}

func (r *Repository) Get(ctx context.Context, productID, storeID string) (domain.Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM inventory_records WHERE product_id=$1 AND store_id=$2`,
		productID, storeID)
	return scanRecord(row)
}

func (r *Repository) GetByID(ctx context.Context, id string) (domain.Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM inventory_records WHERE id=$1`, id)
	return scanRecord(row)
}

func (r *Repository) ListByProduct(ctx context.Context, productID string) ([]domain.Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM inventory_records WHERE product_id=$1 ORDER BY store_id`,
		productID)
	if err != nil {
		return nil, fmt.Errorf("list inventory records: %w", err)
	}
	defer rows.Close()

	var recs []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *Repository) Ensure(ctx context.Context, productID, storeID string, lowStockThreshold int) (domain.Record, error) {
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO inventory_records (id, product_id, store_id, quantity, reserved, low_stock_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $5, $5)
		ON CONFLICT (product_id, store_id)
		DO UPDATE SET low_stock_threshold=$4, updated_at=$5
		RETURNING `+recordColumns,
		uuid.NewString(), productID, storeID, lowStockThreshold, now)
	return scanRecord(row)
}

// ApplyMovement locks the record row, validates the movement through the
// domain, and commits the updated counters together with the ledger append.
// Concurrent reservations against the same record serialize on the lock, so
// the sum of successful reserves can never exceed quantity.
func (r *Repository) ApplyMovement(ctx context.Context, productID, storeID string, m domain.Movement) (domain.Record, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM inventory_records WHERE product_id=$1 AND store_id=$2 FOR UPDATE`,
		productID, storeID)
	rec, err := scanRecord(row)
	if err != nil {
		return domain.Record{}, err
	}

	if err := rec.Apply(m); err != nil {
		return domain.Record{}, err
	}
	m.RecordID = rec.ID

	_, err = tx.Exec(ctx,
		`UPDATE inventory_records SET quantity=$2, reserved=$3, updated_at=$4 WHERE id=$1`,
		rec.ID, rec.Quantity, rec.Reserved, rec.UpdatedAt)
	if err != nil {
		return domain.Record{}, fmt.Errorf("update inventory record: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO inventory_movements (id, record_id, movement_type, quantity, reference, notes, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.RecordID, string(m.Type), m.Quantity, m.Reference, m.Notes, m.PerformedBy, m.CreatedAt)
	if err != nil {
		return domain.Record{}, fmt.Errorf("append inventory movement: %w", err)
	}

	if err := r.queueEvents(ctx, tx, rec, m); err != nil {
		return domain.Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Record{}, fmt.Errorf("commit movement: %w", err)
	}
	return rec, nil
}

func (r *Repository) ListMovements(ctx context.Context, recordID string) ([]domain.Movement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, record_id, movement_type, quantity, reference, notes, performed_by, created_at
		FROM inventory_movements WHERE record_id=$1 ORDER BY seq`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var ms []domain.Movement
	for rows.Next() {
		var m domain.Movement
		var typ string
		if err := rows.Scan(&m.ID, &m.RecordID, &typ, &m.Quantity, &m.Reference, &m.Notes, &m.PerformedBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		m.Type = domain.MovementType(typ)
		ms = append(ms, m)
	}
	return ms, rows.Err()
}

type stockCommittedEvent struct {
	RecordID  string `json:"record_id"`
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id"`
	Quantity  int    `json:"quantity"`
	Reference string `json:"reference,omitempty"`
}

type lowStockEvent struct {
	RecordID  string `json:"record_id"`
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id"`
	Available int    `json:"available"`
	Threshold int    `json:"threshold"`
}

// queueEvents writes outbox rows in the same transaction as the movement so
// downstream consumers see them iff the movement committed.
func (r *Repository) queueEvents(ctx context.Context, tx pgx.Tx, rec domain.Record, m domain.Movement) error {
	if m.Type == domain.MovementOut {
		payload, err := json.Marshal(stockCommittedEvent{
			RecordID: rec.ID, ProductID: rec.ProductID, StoreID: rec.StoreID,
			Quantity: m.Quantity, Reference: m.Reference,
		})
		if err != nil {
			return fmt.Errorf("marshal stock committed event: %w", err)
		}
		if err := insertOutbox(ctx, tx, rec.ID, "StockCommitted", payload); err != nil {
			return err
		}
	}
	reduced := m.Type == domain.MovementOut || m.Type == domain.MovementReserve ||
		(m.Type == domain.MovementAdjustment && m.Quantity < 0)
	if reduced && rec.LowStock() {
		payload, err := json.Marshal(lowStockEvent{
			RecordID: rec.ID, ProductID: rec.ProductID, StoreID: rec.StoreID,
			Available: rec.Available(), Threshold: rec.LowStockThreshold,
		})
		if err != nil {
			return fmt.Errorf("marshal low stock event: %w", err)
		}
		if err := insertOutbox(ctx, tx, rec.ID, "LowStock", payload); err != nil {
			return err
		}
	}
	return nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status, created_at)
		VALUES ('inventory', $1, $2, $3, $4, 'pending', $5)`,
		aggregateID, eventType, payload, tracing.Traceparent(ctx), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("queue outbox event: %w", err)
	}
	return nil
}
