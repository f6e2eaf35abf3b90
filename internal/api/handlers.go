package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/medoswift-realtime/internal/auth"
	"github.com/hackgods/medoswift-realtime/internal/order"
	"github.com/hackgods/medoswift-realtime/internal/scheduling"
)

func actorFrom(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization token")
	}
	return actor, ok
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// Slots

func listSlotsHandler(coord *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctorId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
			return
		}

		var day *time.Time
		if raw := r.URL.Query().Get("date"); raw != "" {
			d, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			day = &d
		}

		slots, err := coord.AvailableSlots(r.Context(), doctorID, day)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ListResponse[SlotResponse]{Items: toSlotResponses(slots)})
	}
}

func createSlotsHandler(coord *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		var req CreateSlotsRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		proposed := make([]scheduling.ProposedSlot, 0, len(req.Slots))
		for _, s := range req.Slots {
			proposed = append(proposed, scheduling.ProposedSlot{Start: s.StartTime, End: s.EndTime})
		}

		created, err := coord.CreateSlots(r.Context(), actor.ID, proposed)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, ListResponse[SlotResponse]{Items: toSlotResponses(created)})
	}
}

// Appointments

func bookAppointmentHandler(coord *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		var req BookAppointmentRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		appt, err := coord.Book(r.Context(), actor.ID, uuid.MustParse(req.DoctorID), uuid.MustParse(req.SlotID), scheduling.Mode(req.Mode))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func myAppointmentsHandler(coord *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}

		appts, err := coord.ListForActor(r.Context(), actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		items := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			items = append(items, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, ListResponse[AppointmentResponse]{Items: items})
	}
}

func cancelAppointmentHandler(coord *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, err := coord.Cancel(r.Context(), id, actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(coord *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, err := coord.Complete(r.Context(), id, actor.ID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// Orders

func checkoutHandler(ledger *order.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		var req CheckoutRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		in := order.CheckoutRequest{
			Items:         make([]order.CartLine, 0, len(req.Items)),
			PaymentMethod: order.PaymentMethod(req.PaymentMethod),
			MockPaid:      req.MockPaid,
		}
		for _, it := range req.Items {
			in.Items = append(in.Items, order.CartLine{ProductID: uuid.MustParse(it.ProductID), Qty: it.Qty})
		}
		if req.AddressID != "" {
			id := uuid.MustParse(req.AddressID)
			in.AddressID = &id
		}

		o, err := ledger.Checkout(r.Context(), actor.ID, in)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, OrderResponse{Order: o})
	}
}

func myOrdersHandler(lifecycle *order.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}

		orders, err := lifecycle.ListForActor(r.Context(), actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if orders == nil {
			orders = []order.Order{}
		}
		writeJSON(w, http.StatusOK, ListResponse[order.Order]{Items: orders})
	}
}

func getOrderHandler(lifecycle *order.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		o, err := lifecycle.Get(r.Context(), id, actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, OrderResponse{Order: o})
	}
}

func trackOrderHandler(lifecycle *order.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		snap, err := lifecycle.Snapshot(r.Context(), id, actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func orderStatusHandler(lifecycle *order.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req OrderStatusRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		o, err := lifecycle.Transition(r.Context(), id, actor, order.Status(req.Status))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, OrderResponse{Order: o})
	}
}

func courierLocationHandler(lifecycle *order.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req CourierLocationRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		o, err := lifecycle.UpdateCourier(r.Context(), id, actor, order.CourierUpdate{
			Lat:        *req.Lat,
			Lng:        *req.Lng,
			ETAMinutes: req.ETAMinutes,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, OrderResponse{Order: o})
	}
}
