package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openmart/marketplace/internal/inventory/domain"
)

const defaultMaxReserveRetries = 3

var ErrInvalidQuantity = errors.New("quantity must be positive")

// Service is the reservation engine plus the movement-ledger operations
// behind the inventory HTTP API.
type Service struct {
	log        *slog.Logger
	store      RecordStore
	maxRetries int
}

func NewService(log *slog.Logger, store RecordStore) *Service {
	return &Service{log: log, store: store, maxRetries: defaultMaxReserveRetries}
}

// WithMaxRetries bounds the optimistic retry budget for reserve/release.
func (s *Service) WithMaxRetries(n int) *Service {
	if n > 0 {
		s.maxRetries = n
	}
	return s
}

type StoreAvailability struct {
	StoreID           string `json:"store_id"`
	QuantityAvailable int    `json:"quantity_available"`
}

type Availability struct {
	Available         bool                `json:"available"`
	QuantityAvailable int                 `json:"quantity_available"`
	Stores            []StoreAvailability `json:"stores,omitempty"`
}

// CheckAvailability never mutates state. With a store id it answers for that
// record alone; without one it sums availability across stores and reports
// the per-store breakdown, largest first.
func (s *Service) CheckAvailability(ctx context.Context, productID string, quantity int, storeID string) (Availability, error) {
	if quantity <= 0 {
		return Availability{}, ErrInvalidQuantity
	}

	if storeID != "" {
		rec, err := s.store.Get(ctx, productID, storeID)
		if errors.Is(err, domain.ErrNotFound) {
			return Availability{Available: false, QuantityAvailable: 0}, nil
		}
		if err != nil {
			return Availability{}, err
		}
		avail := rec.Available()
		return Availability{Available: avail >= quantity, QuantityAvailable: avail}, nil
	}

	recs, err := s.store.ListByProduct(ctx, productID)
	if err != nil {
		return Availability{}, err
	}
	var total int
	var stores []StoreAvailability
	for _, rec := range recs {
		avail := rec.Available()
		total += avail
		if avail > 0 {
			stores = append(stores, StoreAvailability{StoreID: rec.StoreID, QuantityAvailable: avail})
		}
	}
	sort.Slice(stores, func(i, j int) bool {
		if stores[i].QuantityAvailable != stores[j].QuantityAvailable {
			return stores[i].QuantityAvailable > stores[j].QuantityAvailable
		}
		return stores[i].StoreID < stores[j].StoreID
	})
	return Availability{Available: total >= quantity, QuantityAvailable: total, Stores: stores}, nil
}

// Reserve places a hold on stock. It succeeds only if available stock covers
// the request at the moment of commit; a concurrent-write conflict is retried
// up to the budget and then reported as insufficient stock.
func (s *Service) Reserve(ctx context.Context, productID, storeID string, quantity int, reference, performedBy string) (domain.Record, error) {
	if quantity <= 0 {
		return domain.Record{}, ErrInvalidQuantity
	}
	m := s.newMovement(domain.MovementReserve, quantity, reference, performedBy)
	return s.applyWithRetry(ctx, productID, storeID, m)
}

// Release undoes a prior reserve, clamped at zero.
func (s *Service) Release(ctx context.Context, productID, storeID string, quantity int, reference, performedBy string) (domain.Record, error) {
	if quantity <= 0 {
		return domain.Record{}, ErrInvalidQuantity
	}
	m := s.newMovement(domain.MovementRelease, quantity, reference, performedBy)
	return s.applyWithRetry(ctx, productID, storeID, m)
}

// CommitReservedAsSold converts a reservation into a permanent sale with a
// single out movement, so ledger replay stays exact.
func (s *Service) CommitReservedAsSold(ctx context.Context, productID, storeID string, quantity int, reference, performedBy string) (domain.Record, error) {
	if quantity <= 0 {
		return domain.Record{}, ErrInvalidQuantity
	}
	m := s.newMovement(domain.MovementOut, quantity, reference, performedBy)
	return s.applyWithRetry(ctx, productID, storeID, m)
}

// ApplyMovement records an arbitrary stock event. Type and quantity are
// validated by the domain; the id and timestamp are assigned here.
func (s *Service) ApplyMovement(ctx context.Context, productID, storeID string, m domain.Movement) (domain.Record, domain.Movement, error) {
	if !m.Type.Valid() {
		return domain.Record{}, domain.Movement{}, fmt.Errorf("%w: unknown type %q", domain.ErrInvalidMovement, m.Type)
	}
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now().UTC()
	rec, err := s.store.ApplyMovement(ctx, productID, storeID, m)
	if err != nil {
		return domain.Record{}, domain.Movement{}, err
	}
	m.RecordID = rec.ID
	return rec, m, nil
}

// SetStock upserts a record through the ledger: the threshold is written
// directly, the quantity change is expressed as an adjustment movement.
func (s *Service) SetStock(ctx context.Context, productID, storeID string, quantity, lowStockThreshold int, performedBy string) (domain.Record, error) {
	if quantity < 0 {
		return domain.Record{}, ErrInvalidQuantity
	}
	rec, err := s.store.Ensure(ctx, productID, storeID, lowStockThreshold)
	if err != nil {
		return domain.Record{}, err
	}
	delta := quantity - rec.Quantity
	if delta == 0 {
		return rec, nil
	}
	m := s.newMovement(domain.MovementAdjustment, delta, "", performedBy)
	m.Notes = "stock level set"
	return s.applyWithRetry(ctx, productID, storeID, m)
}

func (s *Service) Get(ctx context.Context, productID, storeID string) (domain.Record, error) {
	return s.store.Get(ctx, productID, storeID)
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Record, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListByProduct(ctx context.Context, productID string) ([]domain.Record, error) {
	return s.store.ListByProduct(ctx, productID)
}

func (s *Service) ListMovements(ctx context.Context, recordID string) ([]domain.Movement, error) {
	return s.store.ListMovements(ctx, recordID)
}

func (s *Service) newMovement(t domain.MovementType, quantity int, reference, performedBy string) domain.Movement {
	return domain.Movement{
		ID:          uuid.NewString(),
		Type:        t,
		Quantity:    quantity,
		Reference:   reference,
		PerformedBy: performedBy,
		CreatedAt:   time.Now().UTC(),
	}
}

func (s *Service) applyWithRetry(ctx context.Context, productID, storeID string, m domain.Movement) (domain.Record, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		rec, err := s.store.ApplyMovement(ctx, productID, storeID, m)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Record{}, err
		}
		lastErr = err
	}
	s.log.Warn("movement retry budget exhausted",
		"product_id", productID, "store_id", storeID, "type", string(m.Type), "err", lastErr)
	return domain.Record{}, fmt.Errorf("%w: retries exhausted", domain.ErrInsufficientStock)
}
