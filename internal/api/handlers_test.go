package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medoswift-realtime/internal/apperr"
	"github.com/hackgods/medoswift-realtime/internal/auth"
	"github.com/hackgods/medoswift-realtime/internal/config"
	"github.com/hackgods/medoswift-realtime/internal/order"
	"github.com/hackgods/medoswift-realtime/internal/realtime"
	"github.com/hackgods/medoswift-realtime/internal/scheduling"
)

type memGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *memGuard) Claim(_ context.Context, scope, key string) (func(context.Context), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := scope + ":" + key
	if g.seen[k] {
		return nil, apperr.ErrConflict
	}
	g.seen[k] = true
	return func(context.Context) {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.seen, k)
	}, nil
}

type testServer struct {
	handler  http.Handler
	authn    *auth.Authenticator
	products *order.MemRepository
	doctor   auth.Actor
	user     auth.Actor
	admin    auth.Actor
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	ts := &testServer{
		authn:    auth.NewAuthenticator("test-secret"),
		products: order.NewMemRepository(),
		doctor:   auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor},
		user:     auth.Actor{ID: uuid.New(), Role: auth.RoleUser},
		admin:    auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin},
	}

	hub := realtime.NewHub()
	coord := scheduling.NewCoordinator(
		scheduling.NewMemRepository(),
		scheduling.StaticDoctors{ts.doctor.ID: true},
		hub,
		config.Config{MeetingBaseURL: "https://meet.jit.si"},
	)
	book := order.StaticAddressBook{
		ts.user.ID: {Addresses: []order.Address{{ID: uuid.New(), Line1: "1 Residency Rd"}}, DefaultPaymentMethod: order.PaymentUPI},
	}

	ts.handler = NewRouter(RouterConfig{
		Coordinator: coord,
		Checkout:    order.NewLedger(ts.products, book, hub),
		Lifecycle:   order.NewLifecycle(ts.products, hub),
		Hub:         hub,
		Auth:        ts.authn,
		Idempotency: &memGuard{seen: make(map[string]bool)},
		Limiter:     limiter,
		WSBuffer:    8,
		Env:         "test",
	})
	return ts
}

func (ts *testServer) do(t *testing.T, actor *auth.Actor, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		token, err := ts.authn.IssueToken(*actor, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthWithoutBackends(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, nil, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, nil, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "disabled", ready.Dependencies["postgres"])
	assert.Equal(t, "disabled", ready.Dependencies["redis"])
}

func TestSlotBookingFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	start := time.Date(2026, 11, 3, 10, 0, 0, 0, time.UTC)

	rec := ts.do(t, &ts.doctor, http.MethodPost, "/slots", CreateSlotsRequest{Slots: []ProposedSlotRequest{
		{StartTime: start, EndTime: start.Add(30 * time.Minute)},
		{StartTime: start.Add(30 * time.Minute), EndTime: start.Add(time.Hour)},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[ListResponse[SlotResponse]](t, rec)
	require.Len(t, created.Items, 2)
	slotID := created.Items[0].ID

	listPath := "/slots?doctorId=" + ts.doctor.ID.String() + "&date=2026-11-03"
	rec = ts.do(t, nil, http.MethodGet, listPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListResponse[SlotResponse]](t, rec).Items, 2)

	booking := BookAppointmentRequest{DoctorID: ts.doctor.ID.String(), SlotID: slotID.String()}
	rec = ts.do(t, &ts.user, http.MethodPost, "/appointments", booking)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "confirmed", appt.Status)
	assert.Equal(t, "online", appt.Mode)
	assert.Contains(t, appt.MeetingLink, "https://meet.jit.si/medoswift-")

	other := auth.Actor{ID: uuid.New(), Role: auth.RoleUser}
	rec = ts.do(t, &other, http.MethodPost, "/appointments", booking)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, nil, http.MethodGet, listPath, nil)
	remaining := decode[ListResponse[SlotResponse]](t, rec).Items
	require.Len(t, remaining, 1)
	assert.NotEqual(t, slotID, remaining[0].ID)

	rec = ts.do(t, &ts.doctor, http.MethodGet, "/appointments/mine", nil)
	assert.Len(t, decode[ListResponse[AppointmentResponse]](t, rec).Items, 1)

	rec = ts.do(t, &other, http.MethodPatch, "/appointments/"+appt.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &ts.user, http.MethodPatch, "/appointments/"+appt.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[AppointmentResponse](t, rec).Status)

	rec = ts.do(t, &ts.doctor, http.MethodPatch, "/appointments/"+appt.ID.String()+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decode[ErrorResponse](t, rec).Error)
}

func TestAuthAndRoleEnforcement(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, nil, http.MethodGet, "/appointments/mine", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, &ts.user, http.MethodPost, "/slots", CreateSlotsRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &ts.doctor, http.MethodPost, "/orders", CheckoutRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &ts.user, http.MethodPatch, "/orders/"+uuid.NewString()+"/status", OrderStatusRequest{Status: "Delivered"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, nil, http.MethodGet, "/slots?doctorId=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, &ts.user, http.MethodPost, "/orders", CheckoutRequest{
		Items: []CartItemRequest{{ProductID: uuid.NewString(), Qty: 21}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, &ts.user, http.MethodPost, "/appointments", BookAppointmentRequest{
		DoctorID: ts.doctor.ID.String(), SlotID: uuid.NewString(), Mode: "phone",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	start := time.Date(2026, 11, 3, 10, 0, 0, 0, time.UTC)
	rec = ts.do(t, &ts.doctor, http.MethodPost, "/slots", CreateSlotsRequest{Slots: []ProposedSlotRequest{
		{StartTime: start, EndTime: start},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, &ts.admin, http.MethodPatch, "/orders/not-a-uuid/courier", CourierLocationRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	productID := uuid.New()
	ts.products.PutProduct(order.Product{ID: productID, Name: "Dolo 650", Price: 30, Stock: 3})

	rec := ts.do(t, &ts.user, http.MethodPost, "/orders", CheckoutRequest{
		Items: []CartItemRequest{{ProductID: productID.String(), Qty: 5}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	p, _ := ts.products.Product(productID)
	assert.Equal(t, 3, p.Stock)

	rec = ts.do(t, &ts.user, http.MethodPost, "/orders", CheckoutRequest{
		Items: []CartItemRequest{{ProductID: productID.String(), Qty: 2}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decode[OrderResponse](t, rec).Order
	assert.Equal(t, 60.0, placed.Subtotal)
	assert.Equal(t, 85.0, placed.Total)
	orderPath := "/orders/" + placed.ID.String()

	for _, status := range []string{"Confirmed", "On Way"} {
		rec = ts.do(t, &ts.admin, http.MethodPatch, orderPath+"/status", OrderStatusRequest{Status: status})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	lat, lng, eta := 12.97, 77.59, 7
	rec = ts.do(t, &ts.admin, http.MethodPatch, orderPath+"/courier", CourierLocationRequest{Lat: &lat, Lng: &lng, ETAMinutes: &eta})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, &ts.user, http.MethodGet, orderPath+"/track", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[order.Snapshot](t, rec)
	assert.Equal(t, order.StatusOnWay, snap.Status)
	assert.Len(t, snap.Timeline, 3)
	assert.Equal(t, 7, snap.ETAMinutes)

	stranger := auth.Actor{ID: uuid.New(), Role: auth.RoleUser}
	rec = ts.do(t, &stranger, http.MethodGet, orderPath+"/track", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(t, &stranger, http.MethodGet, orderPath, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &ts.admin, http.MethodGet, "/orders/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, &ts.user, http.MethodGet, "/orders/mine", nil)
	assert.Len(t, decode[ListResponse[order.Order]](t, rec).Items, 1)
	rec = ts.do(t, &stranger, http.MethodGet, "/orders/mine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestIdempotencyKey(t *testing.T) {
	ts := newTestServer(t, nil)
	productID := uuid.New()
	ts.products.PutProduct(order.Product{ID: productID, Name: "ORS", Price: 20, Stock: 10})
	body := CheckoutRequest{Items: []CartItemRequest{{ProductID: productID.String(), Qty: 1}}}

	rec := ts.do(t, &ts.user, http.MethodPost, "/orders", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, &ts.user, http.MethodPost, "/orders", body, "Idempotency-Key", "abc")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_request", decode[ErrorResponse](t, rec).Error)

	p, _ := ts.products.Product(productID)
	assert.Equal(t, 9, p.Stock)

	// A failed request releases its key.
	bad := CheckoutRequest{Items: []CartItemRequest{{ProductID: uuid.NewString(), Qty: 1}}}
	rec = ts.do(t, &ts.user, http.MethodPost, "/orders", bad, "Idempotency-Key", "retry-me")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, &ts.user, http.MethodPost, "/orders", body, "Idempotency-Key", "retry-me")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	ts := newTestServer(t, NewRateLimiter(0.001, 1))
	body := BookAppointmentRequest{DoctorID: ts.doctor.ID.String(), SlotID: uuid.NewString()}

	rec := ts.do(t, &ts.user, http.MethodPost, "/appointments", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, &ts.user, http.MethodPost, "/appointments", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := auth.Actor{ID: uuid.New(), Role: auth.RoleUser}
	rec = ts.do(t, &other, http.MethodPost, "/appointments", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
