package application

import (
	"context"

	"github.com/openmart/marketplace/internal/inventory/domain"
)

// RecordStore is the persistence port for inventory records and their
// movement ledger.
type RecordStore interface {
	Get(ctx context.Context, productID, storeID string) (domain.Record, error)
	GetByID(ctx context.Context, id string) (domain.Record, error)
	ListByProduct(ctx context.Context, productID string) ([]domain.Record, error)

	// Ensure creates the record with zero counters if it does not exist and
	// updates the low-stock threshold. Counters are never written here; they
	// change only through ApplyMovement.
	Ensure(ctx context.Context, productID, storeID string, lowStockThreshold int) (domain.Record, error)

	// ApplyMovement validates m against the current record state and, on
	// success, appends the ledger row and writes the updated counters as a
	// single atomic step. A reader must never observe one without the other.
	// Implementations either hold a row lock for the duration or return
	// domain.ErrConflict on concurrent modification.
	ApplyMovement(ctx context.Context, productID, storeID string, m domain.Movement) (domain.Record, error)

	ListMovements(ctx context.Context, recordID string) ([]domain.Movement, error)
}
