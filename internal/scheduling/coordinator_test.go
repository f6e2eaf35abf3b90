package scheduling

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/hackgods/medoswift-realtime/internal/apperr"
	"github.com/hackgods/medoswift-realtime/internal/auth"
	"github.com/hackgods/medoswift-realtime/internal/config"
	"github.com/hackgods/medoswift-realtime/internal/realtime"
)

type published struct {
	topic string
	event string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(topic, event string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, event: event})
}

func (p *recordingPublisher) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.event == event {
			n++
		}
	}
	return n
}

type CoordinatorTestSuite struct {
	suite.Suite
	ctx      context.Context
	repo     *MemRepository
	events   *recordingPublisher
	coord    *Coordinator
	doctor   uuid.UUID
	pending  uuid.UUID
	patient  uuid.UUID
	slotID   uuid.UUID
	nextSlot uuid.UUID
}

func (s *CoordinatorTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = NewMemRepository()
	s.events = &recordingPublisher{}
	s.doctor = uuid.New()
	s.pending = uuid.New()
	s.patient = uuid.New()

	doctors := StaticDoctors{s.doctor: true, s.pending: false}
	s.coord = NewCoordinator(s.repo, doctors, s.events, config.Config{MeetingBaseURL: "https://meet.example.org"})

	created, err := s.coord.CreateSlots(s.ctx, s.doctor, []ProposedSlot{
		{Start: at(9, 0), End: at(9, 30)},
		{Start: at(9, 30), End: at(10, 0)},
	})
	s.Require().NoError(err)
	s.Require().Len(created, 2)
	s.slotID, s.nextSlot = created[0].ID, created[1].ID
}

func (s *CoordinatorTestSuite) slot(id uuid.UUID) *Slot {
	slot, err := s.repo.GetSlot(s.ctx, id)
	s.Require().NoError(err)
	return slot
}

func (s *CoordinatorTestSuite) TestCreateSlotsRequiresApprovedDoctor() {
	_, err := s.coord.CreateSlots(s.ctx, s.pending, []ProposedSlot{{Start: at(12, 0), End: at(12, 30)}})
	s.ErrorIs(err, ErrDoctorNotApproved)
	s.ErrorIs(err, apperr.ErrForbidden)
}

func (s *CoordinatorTestSuite) TestBookOnline() {
	appt, err := s.coord.Book(s.ctx, s.patient, s.doctor, s.slotID, ModeOnline)
	s.Require().NoError(err)

	s.Equal(StatusConfirmed, appt.Status)
	s.Equal(s.slotID, appt.SlotID)
	slotStr := s.slotID.String()
	s.True(strings.HasPrefix(appt.MeetingLink, "https://meet.example.org/medoswift-"+slotStr[len(slotStr)-6:]+"-"))
	s.True(s.slot(s.slotID).Reserved)
	s.Equal(1, s.events.count(realtime.EventAppointmentNew))
}

func (s *CoordinatorTestSuite) TestBookInPersonHasNoMeetingLink() {
	appt, err := s.coord.Book(s.ctx, s.patient, s.doctor, s.slotID, ModeInPerson)
	s.Require().NoError(err)
	s.Empty(appt.MeetingLink)
}

func (s *CoordinatorTestSuite) TestBookRejectsUnapprovedDoctorAndBadMode() {
	_, err := s.coord.Book(s.ctx, s.patient, s.pending, s.slotID, ModeOnline)
	s.ErrorIs(err, ErrDoctorUnavailable)

	_, err = s.coord.Book(s.ctx, s.patient, s.doctor, s.slotID, Mode("phone"))
	s.ErrorIs(err, apperr.ErrValidation)
	s.False(s.slot(s.slotID).Reserved)
}

func (s *CoordinatorTestSuite) TestBookSlotOfAnotherDoctorLeavesNoPartialState() {
	other := uuid.New()
	coord := NewCoordinator(s.repo, StaticDoctors{s.doctor: true, other: true}, s.events, config.Config{})

	_, err := coord.Book(s.ctx, s.patient, other, s.slotID, ModeOnline)
	s.ErrorIs(err, ErrSlotUnavailable)
	s.False(s.slot(s.slotID).Reserved, "reservation must roll back")

	appts, err := s.repo.ListAppointments(s.ctx, AppointmentFilter{})
	s.Require().NoError(err)
	s.Empty(appts)
}

func (s *CoordinatorTestSuite) TestConcurrentBookingsOneWinner() {
	const racers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []*Appointment
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			appt, err := s.coord.Book(s.ctx, uuid.New(), s.doctor, s.slotID, ModeOnline)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, appt)
				return
			}
			if s.ErrorIs(err, apperr.ErrConflict) {
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Require().Len(winners, 1)
	s.Equal(racers-1, conflicts)

	appts, err := s.repo.ListAppointments(s.ctx, AppointmentFilter{})
	s.Require().NoError(err)
	s.Len(appts, 1)
	s.Equal(winners[0].ID, appts[0].ID)

	slotDay := at(0, 0)
	available, err := s.coord.AvailableSlots(s.ctx, s.doctor, &slotDay)
	s.Require().NoError(err)
	s.Require().Len(available, 1)
	s.Equal(s.nextSlot, available[0].ID)
}

func (s *CoordinatorTestSuite) TestCancelIsIdempotentAndReleasesOnce() {
	appt, err := s.coord.Book(s.ctx, s.patient, s.doctor, s.slotID, ModeOnline)
	s.Require().NoError(err)

	first, err := s.coord.Cancel(s.ctx, appt.ID, auth.Actor{ID: s.patient, Role: auth.RoleUser})
	s.Require().NoError(err)
	s.Equal(StatusCancelled, first.Status)
	s.False(s.slot(s.slotID).Reserved)

	// Someone else takes the freed slot; a repeated cancel must not free it.
	rebooked, err := s.coord.Book(s.ctx, uuid.New(), s.doctor, s.slotID, ModeOnline)
	s.Require().NoError(err)

	second, err := s.coord.Cancel(s.ctx, appt.ID, auth.Actor{ID: s.patient, Role: auth.RoleUser})
	s.Require().NoError(err)
	s.Equal(StatusCancelled, second.Status)
	s.Equal(first.UpdatedAt, second.UpdatedAt)
	s.True(s.slot(s.slotID).Reserved)

	current, err := s.repo.GetAppointment(s.ctx, rebooked.ID)
	s.Require().NoError(err)
	s.Equal(StatusConfirmed, current.Status)
	s.Equal(2, s.events.count(realtime.EventAppointmentUpdate), "one update per participant, once")
}

func (s *CoordinatorTestSuite) TestCancelAuthorization() {
	appt, err := s.coord.Book(s.ctx, s.patient, s.doctor, s.slotID, ModeOnline)
	s.Require().NoError(err)

	_, err = s.coord.Cancel(s.ctx, appt.ID, auth.Actor{ID: uuid.New(), Role: auth.RoleUser})
	s.ErrorIs(err, apperr.ErrForbidden)
	s.True(s.slot(s.slotID).Reserved)

	_, err = s.coord.Cancel(s.ctx, appt.ID, auth.Actor{ID: s.doctor, Role: auth.RoleDoctor})
	s.NoError(err)

	appt2, err := s.coord.Book(s.ctx, s.patient, s.doctor, s.nextSlot, ModeOnline)
	s.Require().NoError(err)
	_, err = s.coord.Cancel(s.ctx, appt2.ID, auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin})
	s.NoError(err)

	_, err = s.coord.Cancel(s.ctx, uuid.New(), auth.Actor{ID: s.patient, Role: auth.RoleUser})
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *CoordinatorTestSuite) TestComplete() {
	appt, err := s.coord.Book(s.ctx, s.patient, s.doctor, s.slotID, ModeOnline)
	s.Require().NoError(err)

	_, err = s.coord.Complete(s.ctx, appt.ID, uuid.New())
	s.ErrorIs(err, apperr.ErrForbidden)

	done, err := s.coord.Complete(s.ctx, appt.ID, s.doctor)
	s.Require().NoError(err)
	s.Equal(StatusCompleted, done.Status)
	s.True(s.slot(s.slotID).Reserved, "completed appointments keep their slot")

	_, err = s.coord.Complete(s.ctx, appt.ID, s.doctor)
	s.ErrorIs(err, apperr.ErrInvalidState)

	_, err = s.coord.Cancel(s.ctx, appt.ID, auth.Actor{ID: s.patient, Role: auth.RoleUser})
	s.ErrorIs(err, ErrAppointmentCompleted)
}

func (s *CoordinatorTestSuite) TestCompleteCancelledIsInvalidState() {
	appt, err := s.coord.Book(s.ctx, s.patient, s.doctor, s.slotID, ModeOnline)
	s.Require().NoError(err)
	_, err = s.coord.Cancel(s.ctx, appt.ID, auth.Actor{ID: s.patient, Role: auth.RoleUser})
	s.Require().NoError(err)

	_, err = s.coord.Complete(s.ctx, appt.ID, s.doctor)
	s.ErrorIs(err, ErrAppointmentNotActive)
}

func (s *CoordinatorTestSuite) TestListForActor() {
	_, err := s.coord.Book(s.ctx, s.patient, s.doctor, s.slotID, ModeOnline)
	s.Require().NoError(err)
	_, err = s.coord.Book(s.ctx, uuid.New(), s.doctor, s.nextSlot, ModeOnline)
	s.Require().NoError(err)

	mine, err := s.coord.ListForActor(s.ctx, auth.Actor{ID: s.patient, Role: auth.RoleUser})
	s.Require().NoError(err)
	s.Len(mine, 1)

	assigned, err := s.coord.ListForActor(s.ctx, auth.Actor{ID: s.doctor, Role: auth.RoleDoctor})
	s.Require().NoError(err)
	s.Len(assigned, 2)

	all, err := s.coord.ListForActor(s.ctx, auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin})
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *CoordinatorTestSuite) TestReconcileReleasesOrphanedReservations() {
	_, err := s.repo.ReserveSlot(s.ctx, s.slotID)
	s.Require().NoError(err)
	_, err = s.coord.Book(s.ctx, s.patient, s.doctor, s.nextSlot, ModeOnline)
	s.Require().NoError(err)

	s.coord.now = func() time.Time { return time.Now().Add(time.Minute) }
	released, err := s.coord.ReconcileSlots(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(1, released)
	s.False(s.slot(s.slotID).Reserved)
	s.True(s.slot(s.nextSlot).Reserved)
}

// interleavingRepo runs between after the orphan scan and before any
// release, the window a second reconciler and a booking can race into.
type interleavingRepo struct {
	*MemRepository
	between func()
}

func (r *interleavingRepo) FindOrphanedReservations(ctx context.Context, before time.Time) ([]Slot, error) {
	out, err := r.MemRepository.FindOrphanedReservations(ctx, before)
	if err == nil && r.between != nil {
		r.between()
	}
	return out, err
}

func (s *CoordinatorTestSuite) TestReconcileSkipsSlotRebookedAfterScan() {
	_, err := s.repo.ReserveSlot(s.ctx, s.slotID)
	s.Require().NoError(err)

	var rebooked *Appointment
	repo := &interleavingRepo{MemRepository: s.repo}
	repo.between = func() {
		s.Require().NoError(s.repo.ReleaseSlot(s.ctx, s.slotID))
		rebooked, err = s.coord.Book(s.ctx, s.patient, s.doctor, s.slotID, ModeInPerson)
		s.Require().NoError(err)
	}
	reconciler := NewCoordinator(repo, StaticDoctors{s.doctor: true}, s.events, config.Config{})
	reconciler.now = func() time.Time { return time.Now().Add(time.Minute) }

	released, err := reconciler.ReconcileSlots(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(0, released)
	s.True(s.slot(s.slotID).Reserved)

	appt, err := s.repo.GetAppointment(s.ctx, rebooked.ID)
	s.Require().NoError(err)
	s.Equal(StatusConfirmed, appt.Status)

	_, err = s.coord.Book(s.ctx, uuid.New(), s.doctor, s.slotID, ModeOnline)
	s.ErrorIs(err, ErrSlotUnavailable)
}

func (s *CoordinatorTestSuite) TestReleaseOrphanGuards() {
	_, err := s.coord.Book(s.ctx, s.patient, s.doctor, s.slotID, ModeOnline)
	s.Require().NoError(err)
	future := time.Now().Add(time.Minute)

	ok, err := s.repo.ReleaseOrphan(s.ctx, s.slotID, future)
	s.Require().NoError(err)
	s.False(ok, "held by an active appointment")

	ok, err = s.repo.ReleaseOrphan(s.ctx, s.nextSlot, future)
	s.Require().NoError(err)
	s.False(ok, "not reserved")

	_, err = s.repo.ReserveSlot(s.ctx, s.nextSlot)
	s.Require().NoError(err)
	ok, err = s.repo.ReleaseOrphan(s.ctx, s.nextSlot, time.Now().Add(-time.Minute))
	s.Require().NoError(err)
	s.False(ok, "touched after the cutoff")

	ok, err = s.repo.ReleaseOrphan(s.ctx, s.nextSlot, future)
	s.Require().NoError(err)
	s.True(ok)
	s.False(s.slot(s.nextSlot).Reserved)
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}
