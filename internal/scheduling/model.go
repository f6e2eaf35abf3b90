package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

type Mode string

const (
	ModeOnline   Mode = "online"
	ModeInPerson Mode = "inperson"
)

type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Reserved  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProposedSlot is one interval a doctor offers in a batch.
type ProposedSlot struct {
	Start time.Time
	End   time.Time
}

type Appointment struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	DoctorID    uuid.UUID
	SlotID      uuid.UUID
	Status      AppointmentStatus
	Mode        Mode
	MeetingLink string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active reports whether the appointment still holds its slot.
func (a Appointment) Active() bool { return a.Status != StatusCancelled }

// AppointmentFilter narrows ListAppointments. Nil ids match everything.
type AppointmentFilter struct {
	UserID   *uuid.UUID
	DoctorID *uuid.UUID
	Limit    int
}
