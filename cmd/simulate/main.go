package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/medoswift-realtime/internal/auth"
	"github.com/hackgods/medoswift-realtime/internal/config"
	"github.com/hackgods/medoswift-realtime/internal/db"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	CancelRatio   float64
	CheckoutRatio float64
	ReadRatio     float64
	UserLimit     int
	SlotLimit     int
	ProductLimit  int
	PostgresDSN   string
	JWTSecret     string
}

type bookable struct {
	SlotID   uuid.UUID
	DoctorID uuid.UUID
}

// booked is an appointment or order created during the run, with the
// token of the user who owns it.
type booked struct {
	ID    uuid.UUID
	Token string
}

type DataPool struct {
	Users    []string // bearer tokens
	Slots    []bookable
	Products []uuid.UUID

	mu           sync.RWMutex
	appointments []booked
	orders       []booked
}

func (dp *DataPool) add(list *[]booked, b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	*list = append(*list, b)
}

func (dp *DataPool) random(list *[]booked, rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(*list) == 0 {
		return booked{}, false
	}
	return (*list)[rng.Intn(len(*list))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[len(latencies)*95/100]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking  OperationMetrics
	Cancel   OperationMetrics
	Checkout OperationMetrics
	Track    OperationMetrics
	ListMine OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f cancel=%.2f checkout=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.CancelRatio, cfg.CheckoutRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d users, %d slots, %d products", len(dataPool.Users), len(dataPool.Slots), len(dataPool.Products))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:"+baseCfg.HTTPPort),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.35),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		CheckoutRatio: getFloat("SIM_CHECKOUT_RATIO", 0.25),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		UserLimit:     getInt("SIM_USER_LIMIT", 500),
		SlotLimit:     getInt("SIM_SLOT_LIMIT", 400),
		ProductLimit:  getInt("SIM_PRODUCT_LIMIT", 40),
		PostgresDSN:   baseCfg.PostgresDSN,
		JWTSecret:     baseCfg.JWTSecret,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.CheckoutRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.CheckoutRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}
	authn := auth.NewAuthenticator(cfg.JWTSecret)
	tokenTTL := cfg.Duration + time.Hour

	userIDs, err := loadIDs(ctx, pool, `
		SELECT u.id FROM users u
		WHERE u.role = 'user'
		  AND EXISTS (SELECT 1 FROM user_addresses a WHERE a.user_id = u.id)
		LIMIT $1
	`, cfg.UserLimit)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for _, id := range userIDs {
		token, err := authn.IssueToken(auth.Actor{ID: id, Role: auth.RoleUser}, tokenTTL)
		if err != nil {
			return nil, err
		}
		dataPool.Users = append(dataPool.Users, token)
	}

	rows, err := pool.Query(ctx, `
		SELECT s.id, s.doctor_id
		FROM availability_slots s
		JOIN doctor_profiles p ON p.user_id = s.doctor_id AND p.approved
		WHERE s.reserved = false AND s.start_time > now()
		ORDER BY s.start_time
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b bookable
		if err := rows.Scan(&b.SlotID, &b.DoctorID); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dataPool.Products, err = loadIDs(ctx, pool, `
		SELECT id FROM products WHERE stock > 0 LIMIT $1
	`, cfg.ProductLimit)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	if len(dataPool.Users) == 0 {
		return nil, fmt.Errorf("no users loaded")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no slots loaded")
	}
	if len(dataPool.Products) == 0 {
		return nil, fmt.Errorf("no products loaded")
	}

	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, sql string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio+s.config.CheckoutRatio:
				s.doCheckout(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doTrack(ctx, rng)
				} else {
					s.doListMine(ctx, rng)
				}
			}
		}
	}
}

// call sends body as JSON with token and returns the status and response
// body. Transport errors come back as status 0.
func (s *Simulator) call(ctx context.Context, method, path, token string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	token := s.pool.Users[rng.Intn(len(s.pool.Users))]
	mode := "online"
	if rng.Intn(4) == 0 {
		mode = "inperson"
	}

	start := time.Now()
	status, body := s.call(ctx, http.MethodPost, "/appointments", token, map[string]string{
		"doctorId": slot.DoctorID.String(),
		"slotId":   slot.SlotID.String(),
		"mode":     mode,
	})
	latency := time.Since(start)

	if status == http.StatusCreated {
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(body, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.add(&s.pool.appointments, booked{ID: appt.ID, Token: token})
		}
	}
	s.metrics.Booking.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.random(&s.pool.appointments, rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _ := s.call(ctx, http.MethodPatch, "/appointments/"+appt.ID.String()+"/cancel", appt.Token, nil)
	s.metrics.Cancel.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doCheckout(ctx context.Context, rng *rand.Rand) {
	token := s.pool.Users[rng.Intn(len(s.pool.Users))]

	lines := rng.Intn(3) + 1
	items := make([]map[string]any, 0, lines)
	for i := 0; i < lines; i++ {
		items = append(items, map[string]any{
			"medicineId": s.pool.Products[rng.Intn(len(s.pool.Products))].String(),
			"qty":        rng.Intn(3) + 1,
		})
	}

	start := time.Now()
	status, body := s.call(ctx, http.MethodPost, "/orders", token, map[string]any{"items": items})
	latency := time.Since(start)

	if status == http.StatusCreated {
		var resp struct {
			Order struct {
				ID uuid.UUID `json:"id"`
			} `json:"order"`
		}
		if json.Unmarshal(body, &resp) == nil && resp.Order.ID != uuid.Nil {
			s.pool.add(&s.pool.orders, booked{ID: resp.Order.ID, Token: token})
		}
	}
	s.metrics.Checkout.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doTrack(ctx context.Context, rng *rand.Rand) {
	o, ok := s.pool.random(&s.pool.orders, rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _ := s.call(ctx, http.MethodGet, "/orders/"+o.ID.String()+"/track", o.Token, nil)
	s.metrics.Track.Record(time.Since(start), status == http.StatusOK, false)
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	token := s.pool.Users[rng.Intn(len(s.pool.Users))]
	path := "/appointments/mine"
	if rng.Intn(2) == 0 {
		path = "/orders/mine"
	}

	start := time.Now()
	status, _ := s.call(ctx, http.MethodGet, path, token, nil)
	s.metrics.ListMine.Record(time.Since(start), status == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Checkout", &s.metrics.Checkout)
	printOperationReport("Track", &s.metrics.Track)
	printOperationReport("List mine", &s.metrics.ListMine)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
