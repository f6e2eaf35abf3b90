package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medoswift-realtime/internal/apperr"
	"github.com/hackgods/medoswift-realtime/internal/auth"
	"github.com/hackgods/medoswift-realtime/internal/config"
	"github.com/hackgods/medoswift-realtime/internal/realtime"
)

const listLimit = 200

var (
	ErrDoctorUnavailable    = fmt.Errorf("%w: doctor not available", apperr.ErrNotFound)
	ErrDoctorNotApproved    = fmt.Errorf("%w: doctor not approved", apperr.ErrForbidden)
	ErrInvalidMode          = fmt.Errorf("%w: mode must be online or inperson", apperr.ErrValidation)
	ErrNotParticipant       = fmt.Errorf("%w: not a participant of this appointment", apperr.ErrForbidden)
	ErrNotAssignedDoctor    = fmt.Errorf("%w: not the assigned doctor", apperr.ErrForbidden)
	ErrAppointmentCompleted = fmt.Errorf("%w: appointment already completed", apperr.ErrInvalidState)
	ErrAppointmentNotActive = fmt.Errorf("%w: appointment is not confirmed", apperr.ErrInvalidState)
)

// Coordinator composes slot reservation with the appointment lifecycle:
// confirmed -> cancelled | completed, both terminal.
type Coordinator struct {
	repo    Repository
	doctors DoctorDirectory
	events  realtime.Publisher
	cfg     config.Config
	now     func() time.Time
}

func NewCoordinator(repo Repository, doctors DoctorDirectory, events realtime.Publisher, cfg config.Config) *Coordinator {
	return &Coordinator{
		repo:    repo,
		doctors: doctors,
		events:  events,
		cfg:     cfg,
		now:     time.Now,
	}
}

// CreateSlots publishes a batch of availability for an approved doctor.
func (c *Coordinator) CreateSlots(ctx context.Context, doctorID uuid.UUID, proposed []ProposedSlot) ([]Slot, error) {
	approved, err := c.doctors.IsApproved(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("check doctor approval: %w", err)
	}
	if !approved {
		return nil, ErrDoctorNotApproved
	}
	return NewLedger(c.repo).CreateBatch(ctx, doctorID, proposed)
}

func (c *Coordinator) AvailableSlots(ctx context.Context, doctorID uuid.UUID, day *time.Time) ([]Slot, error) {
	return NewLedger(c.repo).ListAvailable(ctx, doctorID, day)
}

// Book reserves the slot and creates a confirmed appointment in one unit of
// work. If the reservation fails nothing is written.
func (c *Coordinator) Book(ctx context.Context, userID, doctorID, slotID uuid.UUID, mode Mode) (*Appointment, error) {
	if mode == "" {
		mode = ModeOnline
	}
	if mode != ModeOnline && mode != ModeInPerson {
		return nil, ErrInvalidMode
	}

	approved, err := c.doctors.IsApproved(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("check doctor approval: %w", err)
	}
	if !approved {
		return nil, ErrDoctorUnavailable
	}

	var created *Appointment
	err = c.repo.WithTx(ctx, func(ctx context.Context, tx Store) error {
		slot, err := NewLedger(tx).Reserve(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.DoctorID != doctorID {
			return ErrSlotUnavailable
		}

		appt := Appointment{
			ID:       uuid.New(),
			UserID:   userID,
			DoctorID: doctorID,
			SlotID:   slot.ID,
			Status:   StatusConfirmed,
			Mode:     mode,
		}
		if mode == ModeOnline {
			appt.MeetingLink = c.meetingLink(slot.ID)
		}

		created, err = tx.InsertAppointment(ctx, appt)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("appointment booked id=%s slot=%s doctor=%s user=%s", created.ID, created.SlotID, doctorID, userID)
	c.events.Publish(realtime.UserTopic(doctorID), realtime.EventAppointmentNew, map[string]any{
		"appointmentId": created.ID.String(),
		"slotId":        created.SlotID.String(),
		"status":        created.Status,
	})
	return created, nil
}

// Cancel may be called by the booking user, the assigned doctor or an
// administrator. Cancelling an already cancelled appointment returns it
// unchanged and does not touch the slot again.
func (c *Coordinator) Cancel(ctx context.Context, appointmentID uuid.UUID, actor auth.Actor) (*Appointment, error) {
	var (
		result  *Appointment
		changed bool
	)

	err := c.repo.WithTx(ctx, func(ctx context.Context, tx Store) error {
		appt, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if actor.ID != appt.UserID && actor.ID != appt.DoctorID && !actor.IsAdmin() {
			return ErrNotParticipant
		}

		switch appt.Status {
		case StatusCancelled:
			result = appt
			return nil
		case StatusCompleted:
			return ErrAppointmentCompleted
		}

		updated, err := tx.TransitionAppointment(ctx, appt.ID, StatusConfirmed, StatusCancelled)
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another transition; report the winner's state.
			current, err := tx.GetAppointment(ctx, appt.ID)
			if err != nil {
				return err
			}
			if current.Status == StatusCancelled {
				result = current
				return nil
			}
			return ErrAppointmentCompleted
		}
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}

		if err := NewLedger(tx).Release(ctx, appt.SlotID); err != nil {
			return err
		}
		result, changed = updated, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		log.Printf("appointment cancelled id=%s slot=%s by=%s", result.ID, result.SlotID, actor.ID)
		c.publishUpdate(result)
	}
	return result, nil
}

// Complete is allowed only for the assigned doctor and only from confirmed.
func (c *Coordinator) Complete(ctx context.Context, appointmentID, doctorID uuid.UUID) (*Appointment, error) {
	appt, err := c.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != doctorID {
		return nil, ErrNotAssignedDoctor
	}
	if appt.Status != StatusConfirmed {
		return nil, ErrAppointmentNotActive
	}

	updated, err := c.repo.TransitionAppointment(ctx, appointmentID, StatusConfirmed, StatusCompleted)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrAppointmentNotActive
	}
	if err != nil {
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	c.publishUpdate(updated)
	return updated, nil
}

// ListForActor returns the actor's own appointments: booked ones for users,
// assigned ones for doctors and the latest ones for administrators.
func (c *Coordinator) ListForActor(ctx context.Context, actor auth.Actor) ([]Appointment, error) {
	f := AppointmentFilter{Limit: listLimit}
	switch actor.Role {
	case auth.RoleUser:
		f.UserID = &actor.ID
	case auth.RoleDoctor:
		f.DoctorID = &actor.ID
	}

	appts, err := c.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// ReconcileSlots releases reservations that have no active appointment and
// are older than grace. It returns the number of slots released.
func (c *Coordinator) ReconcileSlots(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := c.now().Add(-grace)
	orphans, err := c.repo.FindOrphanedReservations(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find orphaned reservations: %w", err)
	}

	released := 0
	for _, s := range orphans {
		ok, err := c.repo.ReleaseOrphan(ctx, s.ID, cutoff)
		if err != nil {
			log.Printf("failed to release orphaned slot %s: %v", s.ID, err)
			continue
		}
		if !ok {
			log.Printf("orphaned slot id=%s was claimed before release, skipping", s.ID)
			continue
		}
		log.Printf("released orphaned slot id=%s doctor=%s", s.ID, s.DoctorID)
		released++
	}
	return released, nil
}

func (c *Coordinator) publishUpdate(appt *Appointment) {
	payload := map[string]any{
		"appointmentId": appt.ID.String(),
		"status":        appt.Status,
	}
	c.events.Publish(realtime.UserTopic(appt.UserID), realtime.EventAppointmentUpdate, payload)
	c.events.Publish(realtime.UserTopic(appt.DoctorID), realtime.EventAppointmentUpdate, payload)
}

// meetingLink derives a consultation room name from the slot and the
// current time. It is unique only with high probability.
func (c *Coordinator) meetingLink(slotID uuid.UUID) string {
	id := slotID.String()
	return fmt.Sprintf("%s/medoswift-%s-%s",
		c.cfg.MeetingBaseURL,
		id[len(id)-6:],
		strconv.FormatInt(c.now().UnixMilli(), 36),
	)
}
