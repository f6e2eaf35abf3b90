package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medoswift-realtime/internal/apperr"
)

var (
	ErrSlotNotFound        = fmt.Errorf("%w: slot not found", apperr.ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("%w: appointment not found", apperr.ErrNotFound)
	ErrSlotUnavailable     = fmt.Errorf("%w: slot not available", apperr.ErrConflict)
)

// SlotStore is the storage contract behind the slot ledger.
type SlotStore interface {
	// InsertSlot stores s unless a slot already exists for the same
	// (doctor, start). It reports whether a row was created.
	InsertSlot(ctx context.Context, s Slot) (*Slot, bool, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ListAvailableSlots returns unreserved slots ordered by start. A zero
	// from/to leaves that bound open.
	ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit int) ([]Slot, error)

	// ReserveSlot flips reserved from false to true in a single conditional
	// write. Returns ErrSlotUnavailable when the slot is missing or already
	// reserved.
	ReserveSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ReleaseSlot sets reserved to false. Releasing a free slot is a no-op.
	ReleaseSlot(ctx context.Context, id uuid.UUID) error
}

type AppointmentStore interface {
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// TransitionAppointment moves id from one status to another only if it
	// is currently in from. Returns ErrAppointmentNotFound when no row
	// matched.
	TransitionAppointment(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)

	// FindOrphanedReservations returns reserved slots with no active
	// appointment that were last touched before the cutoff.
	FindOrphanedReservations(ctx context.Context, before time.Time) ([]Slot, error)
	// ReleaseOrphan frees id only while it is still reserved, untouched
	// since before, and held by no active appointment. It reports whether
	// the slot was released.
	ReleaseOrphan(ctx context.Context, id uuid.UUID, before time.Time) (bool, error)
}

type Store interface {
	SlotStore
	AppointmentStore
}

// Repository is a Store that can run a unit of work atomically.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// DoctorDirectory exposes the doctor-approval flag kept by the profile
// service.
type DoctorDirectory interface {
	IsApproved(ctx context.Context, doctorID uuid.UUID) (bool, error)
}
