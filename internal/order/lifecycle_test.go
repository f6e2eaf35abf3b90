package order

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/hackgods/medoswift-realtime/internal/apperr"
	"github.com/hackgods/medoswift-realtime/internal/auth"
	"github.com/hackgods/medoswift-realtime/internal/realtime"
)

type LifecycleTestSuite struct {
	suite.Suite
	ctx       context.Context
	f         *fixture
	lifecycle *Lifecycle
	admin     auth.Actor
	owner     auth.Actor
	order     *Order
}

func (s *LifecycleTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.f = newFixture(s.T())
	s.lifecycle = NewLifecycle(s.f.repo, s.f.hub)
	s.admin = auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin}
	s.owner = auth.Actor{ID: s.f.user, Role: auth.RoleUser}

	id := s.f.product(s.T(), "Dolo 650", 30, 50)
	o, err := s.f.ledger.Checkout(s.ctx, s.f.user, CheckoutRequest{Items: []CartLine{{ProductID: id, Qty: 2}}})
	s.Require().NoError(err)
	s.order = o
}

func (s *LifecycleTestSuite) next(c *realtime.Client) realtime.Event {
	select {
	case frame, ok := <-c.Send:
		s.Require().True(ok)
		var ev realtime.Event
		s.Require().NoError(json.Unmarshal(frame, &ev))
		return ev
	case <-time.After(time.Second):
		s.FailNow("timeout waiting for event")
		return realtime.Event{}
	}
}

func (s *LifecycleTestSuite) empty(c *realtime.Client) {
	select {
	case frame := <-c.Send:
		s.Failf("unexpected frame", "%s", frame)
	default:
	}
}

func (s *LifecycleTestSuite) TestStatusProgressionIsBroadcastInOrder() {
	tracker := realtime.NewClient(s.f.user, false, 16)
	s.f.hub.Join(tracker, realtime.OrderTopic(s.order.ID))

	for _, st := range []Status{StatusConfirmed, StatusOnWay, StatusDelivered} {
		_, err := s.lifecycle.Transition(s.ctx, s.order.ID, s.admin, st)
		s.Require().NoError(err)
	}

	for _, want := range []Status{StatusConfirmed, StatusOnWay, StatusDelivered} {
		ev := s.next(tracker)
		s.Equal(realtime.EventOrderUpdate, ev.Name)
		var payload struct {
			OrderID  string          `json:"orderId"`
			Status   Status          `json:"status"`
			Timeline []TimelineEntry `json:"timeline"`
		}
		s.Require().NoError(json.Unmarshal(ev.Data, &payload))
		s.Equal(s.order.ID.String(), payload.OrderID)
		s.Equal(want, payload.Status)
		s.Equal(want, payload.Timeline[len(payload.Timeline)-1].Status)
	}
	s.empty(tracker)

	snap, err := s.lifecycle.Snapshot(s.ctx, s.order.ID, s.owner)
	s.Require().NoError(err)
	s.Equal(StatusDelivered, snap.Status)
	s.Require().Len(snap.Timeline, 4)
	s.Equal(StatusPlaced, snap.Timeline[0].Status)
	s.Equal(StatusDelivered, snap.Timeline[3].Status)
}

func (s *LifecycleTestSuite) TestReconnectGetsNoBackfillButSnapshotIsCurrent() {
	topic := realtime.OrderTopic(s.order.ID)
	first := realtime.NewClient(s.f.user, false, 16)
	s.f.hub.Join(first, topic)
	s.f.hub.Drop(first)

	_, err := s.lifecycle.Transition(s.ctx, s.order.ID, s.admin, StatusConfirmed)
	s.Require().NoError(err)
	_, err = s.lifecycle.Transition(s.ctx, s.order.ID, s.admin, StatusOnWay)
	s.Require().NoError(err)

	second := realtime.NewClient(s.f.user, false, 16)
	s.f.hub.Join(second, topic)
	s.empty(second)

	snap, err := s.lifecycle.Snapshot(s.ctx, s.order.ID, s.owner)
	s.Require().NoError(err)
	s.Equal(StatusOnWay, snap.Status)
	s.Require().Len(snap.Timeline, 3)
	s.Equal([]Status{StatusPlaced, StatusConfirmed, StatusOnWay},
		[]Status{snap.Timeline[0].Status, snap.Timeline[1].Status, snap.Timeline[2].Status})
	s.Equal(s.order.ShippingAddress.ID, snap.ShippingAddress.ID)
}

func (s *LifecycleTestSuite) TestUserTopicGetsSlimUpdate() {
	inbox := realtime.NewClient(s.f.user, false, 16)
	s.f.hub.Join(inbox, realtime.UserTopic(s.f.user))

	_, err := s.lifecycle.Transition(s.ctx, s.order.ID, s.admin, StatusCancelled)
	s.Require().NoError(err)

	ev := s.next(inbox)
	s.Equal(realtime.EventOrderUpdate, ev.Name)
	s.JSONEq(`{"orderId":"`+s.order.ID.String()+`","status":"Cancelled"}`, string(ev.Data))
}

func (s *LifecycleTestSuite) TestTimelineNeverGoesBackwards() {
	last := s.order.Timeline[0].At
	s.lifecycle.now = func() time.Time { return last.Add(-time.Hour) }

	o, err := s.lifecycle.Transition(s.ctx, s.order.ID, s.admin, StatusConfirmed)
	s.Require().NoError(err)
	s.Require().Len(o.Timeline, 2)
	s.False(o.Timeline[1].At.Before(o.Timeline[0].At))

	// Any status may follow any other.
	o, err = s.lifecycle.Transition(s.ctx, s.order.ID, s.admin, StatusPlaced)
	s.Require().NoError(err)
	s.Len(o.Timeline, 3)
	s.Equal(StatusPlaced, o.Status)
}

func (s *LifecycleTestSuite) TestTransitionValidation() {
	_, err := s.lifecycle.Transition(s.ctx, s.order.ID, s.owner, StatusDelivered)
	s.ErrorIs(err, apperr.ErrForbidden)

	_, err = s.lifecycle.Transition(s.ctx, s.order.ID, s.admin, Status("Lost"))
	s.ErrorIs(err, ErrInvalidStatus)

	_, err = s.lifecycle.Transition(s.ctx, uuid.New(), s.admin, StatusConfirmed)
	s.ErrorIs(err, apperr.ErrNotFound)

	o, err := s.lifecycle.Get(s.ctx, s.order.ID, s.owner)
	s.Require().NoError(err)
	s.Len(o.Timeline, 1)
}

func (s *LifecycleTestSuite) TestCourierTrackGoesToOrderTopicOnly() {
	tracker := realtime.NewClient(s.f.user, false, 16)
	inbox := realtime.NewClient(s.f.user, false, 16)
	s.f.hub.Join(tracker, realtime.OrderTopic(s.order.ID))
	s.f.hub.Join(inbox, realtime.UserTopic(s.f.user))

	eta := 9
	o, err := s.lifecycle.UpdateCourier(s.ctx, s.order.ID, s.admin, CourierUpdate{Lat: 12.95, Lng: 77.6, ETAMinutes: &eta})
	s.Require().NoError(err)
	s.Equal(Location{Lat: 12.95, Lng: 77.6}, o.Courier.Location)
	s.Equal(9, o.ETAMinutes)
	s.Equal(StatusPlaced, o.Status)
	s.Len(o.Timeline, 1)

	ev := s.next(tracker)
	s.Equal(realtime.EventOrderTrack, ev.Name)
	s.Contains(string(ev.Data), `"etaMinutes":9`)
	s.empty(inbox)

	o, err = s.lifecycle.UpdateCourier(s.ctx, s.order.ID, s.admin, CourierUpdate{Lat: 13, Lng: 77.7})
	s.Require().NoError(err)
	s.Equal(9, o.ETAMinutes, "eta is kept when omitted")
}

func (s *LifecycleTestSuite) TestCourierValidation() {
	_, err := s.lifecycle.UpdateCourier(s.ctx, s.order.ID, s.admin, CourierUpdate{Lat: 91, Lng: 0})
	s.ErrorIs(err, ErrInvalidLocation)

	eta := 241
	_, err = s.lifecycle.UpdateCourier(s.ctx, s.order.ID, s.admin, CourierUpdate{ETAMinutes: &eta})
	s.ErrorIs(err, ErrInvalidETA)

	_, err = s.lifecycle.UpdateCourier(s.ctx, s.order.ID, s.owner, CourierUpdate{})
	s.ErrorIs(err, apperr.ErrForbidden)
}

func (s *LifecycleTestSuite) TestSnapshotAuthorization() {
	stranger := auth.Actor{ID: uuid.New(), Role: auth.RoleUser}
	_, err := s.lifecycle.Snapshot(s.ctx, s.order.ID, stranger)
	s.ErrorIs(err, apperr.ErrForbidden)

	_, err = s.lifecycle.Snapshot(s.ctx, s.order.ID, s.admin)
	s.NoError(err)

	_, err = s.lifecycle.Snapshot(s.ctx, uuid.New(), s.admin)
	s.ErrorIs(err, ErrOrderNotFound)
}

func (s *LifecycleTestSuite) TestListForActor() {
	mine, err := s.lifecycle.ListForActor(s.ctx, s.owner)
	s.Require().NoError(err)
	s.Len(mine, 1)

	other, err := s.lifecycle.ListForActor(s.ctx, auth.Actor{ID: uuid.New(), Role: auth.RoleUser})
	s.Require().NoError(err)
	s.Empty(other)

	doctor, err := s.lifecycle.ListForActor(s.ctx, auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor})
	s.Require().NoError(err)
	s.Empty(doctor)

	all, err := s.lifecycle.ListForActor(s.ctx, s.admin)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func TestLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(LifecycleTestSuite))
}
