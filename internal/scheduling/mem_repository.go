package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type slotKey struct {
	doctorID uuid.UUID
	start    int64
}

// MemRepository keeps slots and appointments in process memory behind one
// mutex. It provides the same atomicity contract as the Postgres store for
// a single-process deployment and for tests.
type MemRepository struct {
	mu       sync.Mutex
	slots    map[uuid.UUID]*Slot
	slotKeys map[slotKey]uuid.UUID
	appts    map[uuid.UUID]*Appointment
	now      func() time.Time
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		slots:    make(map[uuid.UUID]*Slot),
		slotKeys: make(map[slotKey]uuid.UUID),
		appts:    make(map[uuid.UUID]*Appointment),
		now:      time.Now,
	}
}

// memTx runs store operations against the locked maps and records how to
// undo each mutation.
type memTx struct {
	r    *MemRepository
	undo []func()
}

func (r *MemRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{r: r}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (r *MemRepository) run(fn func(tx *memTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&memTx{r: r})
}

func (r *MemRepository) InsertSlot(ctx context.Context, s Slot) (created *Slot, ok bool, err error) {
	err = r.run(func(tx *memTx) error {
		created, ok, err = tx.InsertSlot(ctx, s)
		return err
	})
	return
}

func (r *MemRepository) GetSlot(ctx context.Context, id uuid.UUID) (s *Slot, err error) {
	err = r.run(func(tx *memTx) error {
		s, err = tx.GetSlot(ctx, id)
		return err
	})
	return
}

func (r *MemRepository) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit int) (out []Slot, err error) {
	err = r.run(func(tx *memTx) error {
		out, err = tx.ListAvailableSlots(ctx, doctorID, from, to, limit)
		return err
	})
	return
}

func (r *MemRepository) ReserveSlot(ctx context.Context, id uuid.UUID) (s *Slot, err error) {
	err = r.run(func(tx *memTx) error {
		s, err = tx.ReserveSlot(ctx, id)
		return err
	})
	return
}

func (r *MemRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	return r.run(func(tx *memTx) error {
		return tx.ReleaseSlot(ctx, id)
	})
}

func (r *MemRepository) InsertAppointment(ctx context.Context, a Appointment) (created *Appointment, err error) {
	err = r.run(func(tx *memTx) error {
		created, err = tx.InsertAppointment(ctx, a)
		return err
	})
	return
}

func (r *MemRepository) GetAppointment(ctx context.Context, id uuid.UUID) (a *Appointment, err error) {
	err = r.run(func(tx *memTx) error {
		a, err = tx.GetAppointment(ctx, id)
		return err
	})
	return
}

func (r *MemRepository) TransitionAppointment(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (a *Appointment, err error) {
	err = r.run(func(tx *memTx) error {
		a, err = tx.TransitionAppointment(ctx, id, from, to)
		return err
	})
	return
}

func (r *MemRepository) ListAppointments(ctx context.Context, f AppointmentFilter) (out []Appointment, err error) {
	err = r.run(func(tx *memTx) error {
		out, err = tx.ListAppointments(ctx, f)
		return err
	})
	return
}

func (r *MemRepository) FindOrphanedReservations(ctx context.Context, before time.Time) (out []Slot, err error) {
	err = r.run(func(tx *memTx) error {
		out, err = tx.FindOrphanedReservations(ctx, before)
		return err
	})
	return
}

func (r *MemRepository) ReleaseOrphan(ctx context.Context, id uuid.UUID, before time.Time) (released bool, err error) {
	err = r.run(func(tx *memTx) error {
		released, err = tx.ReleaseOrphan(ctx, id, before)
		return err
	})
	return
}

// memTx operations. The caller holds r.mu.

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) InsertSlot(_ context.Context, s Slot) (*Slot, bool, error) {
	r := tx.r
	key := slotKey{doctorID: s.DoctorID, start: s.StartTime.UnixNano()}
	if _, exists := r.slotKeys[key]; exists {
		return nil, false, nil
	}

	now := r.now()
	s.Reserved = false
	s.CreatedAt, s.UpdatedAt = now, now
	stored := s
	r.slots[s.ID] = &stored
	r.slotKeys[key] = s.ID
	tx.undo = append(tx.undo, func() {
		delete(r.slots, s.ID)
		delete(r.slotKeys, key)
	})

	out := stored
	return &out, true, nil
}

func (tx *memTx) GetSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	s, ok := tx.r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	out := *s
	return &out, nil
}

func (tx *memTx) ListAvailableSlots(_ context.Context, doctorID uuid.UUID, from, to time.Time, limit int) ([]Slot, error) {
	var out []Slot
	for _, s := range tx.r.slots {
		if s.DoctorID != doctorID || s.Reserved {
			continue
		}
		if !from.IsZero() && s.StartTime.Before(from) {
			continue
		}
		if !to.IsZero() && !s.StartTime.Before(to) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *memTx) ReserveSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	s, ok := tx.r.slots[id]
	if !ok || s.Reserved {
		return nil, ErrSlotUnavailable
	}

	prev := *s
	s.Reserved = true
	s.UpdatedAt = tx.r.now()
	tx.undo = append(tx.undo, func() { *s = prev })

	out := *s
	return &out, nil
}

func (tx *memTx) ReleaseSlot(_ context.Context, id uuid.UUID) error {
	s, ok := tx.r.slots[id]
	if !ok || !s.Reserved {
		return nil
	}

	prev := *s
	s.Reserved = false
	s.UpdatedAt = tx.r.now()
	tx.undo = append(tx.undo, func() { *s = prev })
	return nil
}

func (tx *memTx) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	r := tx.r
	for _, existing := range r.appts {
		if existing.SlotID == a.SlotID && existing.Active() {
			return nil, ErrSlotUnavailable
		}
	}

	now := r.now()
	a.CreatedAt, a.UpdatedAt = now, now
	stored := a
	r.appts[a.ID] = &stored
	tx.undo = append(tx.undo, func() { delete(r.appts, a.ID) })

	out := stored
	return &out, nil
}

func (tx *memTx) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := tx.r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := *a
	return &out, nil
}

func (tx *memTx) TransitionAppointment(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	a, ok := tx.r.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	prev := *a
	a.Status = to
	a.UpdatedAt = tx.r.now()
	tx.undo = append(tx.undo, func() { *a = prev })

	out := *a
	return &out, nil
}

func (tx *memTx) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	var out []Appointment
	for _, a := range tx.r.appts {
		if f.UserID != nil && a.UserID != *f.UserID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (tx *memTx) FindOrphanedReservations(_ context.Context, before time.Time) ([]Slot, error) {
	held := make(map[uuid.UUID]bool)
	for _, a := range tx.r.appts {
		if a.Active() {
			held[a.SlotID] = true
		}
	}

	var out []Slot
	for _, s := range tx.r.slots {
		if s.Reserved && !held[s.ID] && s.UpdatedAt.Before(before) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (tx *memTx) ReleaseOrphan(_ context.Context, id uuid.UUID, before time.Time) (bool, error) {
	s, ok := tx.r.slots[id]
	if !ok || !s.Reserved || !s.UpdatedAt.Before(before) {
		return false, nil
	}
	for _, a := range tx.r.appts {
		if a.SlotID == id && a.Active() {
			return false, nil
		}
	}

	prev := *s
	s.Reserved = false
	s.UpdatedAt = tx.r.now()
	tx.undo = append(tx.undo, func() { *s = prev })
	return true, nil
}

// StaticDoctors is a DoctorDirectory backed by a fixed approval map.
type StaticDoctors map[uuid.UUID]bool

func (d StaticDoctors) IsApproved(_ context.Context, doctorID uuid.UUID) (bool, error) {
	return d[doctorID], nil
}
