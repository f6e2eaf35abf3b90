package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medoswift-realtime/internal/order"
	"github.com/hackgods/medoswift-realtime/internal/scheduling"
)

type ProposedSlotRequest struct {
	StartTime time.Time `json:"startTime" validate:"required"`
	EndTime   time.Time `json:"endTime" validate:"required,gtfield=StartTime"`
}

type CreateSlotsRequest struct {
	Slots []ProposedSlotRequest `json:"slots" validate:"required,min=1,max=200,dive"`
}

type BookAppointmentRequest struct {
	DoctorID string `json:"doctorId" validate:"required,uuid"`
	SlotID   string `json:"slotId" validate:"required,uuid"`
	Mode     string `json:"mode" validate:"omitempty,oneof=online inperson"`
}

type CartItemRequest struct {
	ProductID string `json:"medicineId" validate:"required,uuid"`
	Qty       int    `json:"qty" validate:"required,min=1,max=20"`
}

type CheckoutRequest struct {
	Items         []CartItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
	AddressID     string            `json:"addressId" validate:"omitempty,uuid"`
	PaymentMethod string            `json:"paymentMethod" validate:"omitempty,oneof=UPI Card Cash"`
	MockPaid      *bool             `json:"mockPaid"`
}

type OrderStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type CourierLocationRequest struct {
	Lat        *float64 `json:"lat" validate:"required,min=-90,max=90"`
	Lng        *float64 `json:"lng" validate:"required,min=-180,max=180"`
	ETAMinutes *int     `json:"etaMinutes" validate:"omitempty,min=1,max=240"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctorId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Reserved  bool      `json:"reserved"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"userId"`
	DoctorID    uuid.UUID `json:"doctorId"`
	SlotID      uuid.UUID `json:"slotId"`
	Status      string    `json:"status"`
	Mode        string    `json:"mode"`
	MeetingLink string    `json:"meetingLink,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

type OrderResponse struct {
	Order *order.Order `json:"order"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Reserved:  s.Reserved,
	}
}

func toSlotResponses(slots []scheduling.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		UserID:      a.UserID,
		DoctorID:    a.DoctorID,
		SlotID:      a.SlotID,
		Status:      string(a.Status),
		Mode:        string(a.Mode),
		MeetingLink: a.MeetingLink,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}
