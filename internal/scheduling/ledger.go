package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medoswift-realtime/internal/apperr"
)

const (
	MaxBatchSize       = 200
	maxAvailableListed = 200
)

var (
	ErrEmptyBatch       = fmt.Errorf("%w: at least one slot is required", apperr.ErrValidation)
	ErrBatchTooLarge    = fmt.Errorf("%w: at most %d slots per batch", apperr.ErrValidation, MaxBatchSize)
	ErrInvalidSlotRange = fmt.Errorf("%w: slot end must be after start", apperr.ErrValidation)
)

// Ledger is the sole authority over slot reservation state.
type Ledger struct {
	store SlotStore
}

func NewLedger(store SlotStore) *Ledger {
	return &Ledger{store: store}
}

// CreateBatch inserts every proposed slot that does not already exist for
// the doctor at the same start time and returns the ones it created. The
// whole batch is rejected if any proposal has end <= start.
func (l *Ledger) CreateBatch(ctx context.Context, doctorID uuid.UUID, proposed []ProposedSlot) ([]Slot, error) {
	if len(proposed) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(proposed) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	for _, p := range proposed {
		if !p.End.After(p.Start) {
			return nil, ErrInvalidSlotRange
		}
	}

	created := make([]Slot, 0, len(proposed))
	for _, p := range proposed {
		s, ok, err := l.store.InsertSlot(ctx, Slot{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			StartTime: p.Start.UTC(),
			EndTime:   p.End.UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("create slot batch: %w", err)
		}
		if ok {
			created = append(created, *s)
		}
	}
	return created, nil
}

// ListAvailable returns the doctor's unreserved slots ordered by start. If
// day is non-nil only slots starting on that UTC calendar day are returned.
func (l *Ledger) ListAvailable(ctx context.Context, doctorID uuid.UUID, day *time.Time) ([]Slot, error) {
	var from, to time.Time
	if day != nil {
		d := day.UTC()
		from = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		to = from.AddDate(0, 0, 1)
	}

	slots, err := l.store.ListAvailableSlots(ctx, doctorID, from, to, maxAvailableListed)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

// Reserve claims the slot if and only if it is currently free. Concurrent
// callers on the same slot resolve to exactly one success; the rest get
// ErrSlotUnavailable.
func (l *Ledger) Reserve(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	return l.store.ReserveSlot(ctx, slotID)
}

// Release frees the slot. Idempotent.
func (l *Ledger) Release(ctx context.Context, slotID uuid.UUID) error {
	return l.store.ReleaseSlot(ctx, slotID)
}
