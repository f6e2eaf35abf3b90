package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/medoswift-realtime/internal/auth"
	"github.com/hackgods/medoswift-realtime/internal/order"
	"github.com/hackgods/medoswift-realtime/internal/scheduling"
)

const (
	memDoctorCount   = 5
	memUserCount     = 20
	memProductCount  = 30
	memSlotDays      = 7
	memSlotsPerDay   = 16
	memSlotLength    = 30 * time.Minute
	memFirstSlotHour = 9
	demoTokenTTL     = 24 * time.Hour
)

// memoryStores is the in-memory backend filled with demo data, so a server
// started without Postgres can book and check out right away.
type memoryStores struct {
	appts      *scheduling.MemRepository
	doctors    scheduling.StaticDoctors
	orders     *order.MemRepository
	addresses  order.StaticAddressBook
	doctorIDs  []uuid.UUID
	userIDs    []uuid.UUID
	productIDs []uuid.UUID
}

func seedMemory(ctx context.Context, faker *gofakeit.Faker) (*memoryStores, error) {
	m := &memoryStores{
		appts:     scheduling.NewMemRepository(),
		doctors:   scheduling.StaticDoctors{},
		orders:    order.NewMemRepository(),
		addresses: order.StaticAddressBook{},
	}

	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	ledger := scheduling.NewLedger(m.appts)
	for i := 0; i < memDoctorCount; i++ {
		id := uuid.New()
		m.doctors[id] = true
		m.doctorIDs = append(m.doctorIDs, id)

		proposed := make([]scheduling.ProposedSlot, 0, memSlotDays*memSlotsPerDay)
		for d := 0; d < memSlotDays; d++ {
			for s := 0; s < memSlotsPerDay; s++ {
				start := day.AddDate(0, 0, d).Add(time.Duration(memFirstSlotHour)*time.Hour + time.Duration(s)*memSlotLength)
				proposed = append(proposed, scheduling.ProposedSlot{Start: start, End: start.Add(memSlotLength)})
			}
		}
		if _, err := ledger.CreateBatch(ctx, id, proposed); err != nil {
			return nil, fmt.Errorf("seed slots for doctor %s: %w", id, err)
		}
	}

	methods := []order.PaymentMethod{order.PaymentUPI, order.PaymentCard, order.PaymentCash}
	for i := 0; i < memUserCount; i++ {
		id := uuid.New()
		addr := faker.Address()
		// Around Bengaluru.
		lat := 12.9716 + faker.Float64Range(-0.15, 0.15)
		lng := 77.5946 + faker.Float64Range(-0.15, 0.15)
		m.addresses[id] = order.Customer{
			DefaultPaymentMethod: methods[faker.Number(0, len(methods)-1)],
			Addresses: []order.Address{{
				ID:      uuid.New(),
				Label:   "Home",
				Line1:   addr.Street,
				City:    addr.City,
				State:   addr.State,
				Pincode: addr.Zip,
				Lat:     &lat,
				Lng:     &lng,
			}},
		}
		m.userIDs = append(m.userIDs, id)
	}

	suffixes := []string{"250mg", "500mg", "650mg", "10ml", "Syrup", "Gel", "Forte"}
	for i := 0; i < memProductCount; i++ {
		p := order.Product{
			ID:    uuid.New(),
			Name:  faker.LastName() + "ex " + suffixes[faker.Number(0, len(suffixes)-1)],
			Price: float64(faker.Number(20, 900)),
			Stock: faker.Number(10, 60),
		}
		m.orders.PutProduct(p)
		m.productIDs = append(m.productIDs, p.ID)
	}

	log.Printf("memory backend seeded doctors=%d users=%d products=%d slots=%d",
		len(m.doctorIDs), len(m.userIDs), len(m.productIDs), memDoctorCount*memSlotDays*memSlotsPerDay)
	return m, nil
}

// logDemoTokens prints one token per role so the seeded data can be driven
// from curl or a websocket client.
func logDemoTokens(authn *auth.Authenticator, m *memoryStores) {
	actors := []auth.Actor{
		{ID: m.userIDs[0], Role: auth.RoleUser},
		{ID: m.doctorIDs[0], Role: auth.RoleDoctor},
		{ID: uuid.New(), Role: auth.RoleAdmin},
	}
	for _, a := range actors {
		token, err := authn.IssueToken(a, demoTokenTTL)
		if err != nil {
			log.Printf("failed to issue demo token role=%s: %v", a.Role, err)
			continue
		}
		log.Printf("demo token role=%s id=%s token=%s", a.Role, a.ID, token)
	}
	log.Printf("demo product id=%s doctor id=%s", m.productIDs[0], m.doctorIDs[0])
}
