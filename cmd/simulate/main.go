package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-slot-scheduling/internal/api"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	RaceClients   int
	BookingRatio  float64
	DecisionRatio float64
	ReadRatio     float64
	PatientLimit  int
	DoctorLimit   int
	HorizonDays   int
	Location      *time.Location
	PostgresDSN   string
}

// target is one doctor's calendar day that has at least one bookable slot.
type target struct {
	DoctorID uuid.UUID
	Date     string
	Slots    []string
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID
	mu       sync.RWMutex
	pending  []booking // Thread-safe list of bookings awaiting a doctor decision
}

type booking struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
}

func (dp *DataPool) AddPending(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.pending = append(dp.pending, b)
}

func (dp *DataPool) TakePending(rng *rand.Rand) (booking, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.pending) == 0 {
		return booking{}, false
	}
	idx := rng.Intn(len(dp.pending))
	b := dp.pending[idx]
	dp.pending[idx] = dp.pending[len(dp.pending)-1]
	dp.pending = dp.pending[:len(dp.pending)-1]
	return b, true
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
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type SimMetrics struct {
	Race      OperationMetrics
	Booking   OperationMetrics
	Decision  OperationMetrics
	ReadSlots OperationMetrics
	ReadList  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics SimMetrics
	logger  *logrus.Logger
}

func main() {
	cfg := loadConfig()
	logger := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("APP_ENV", "dev"))

	if err := validateConfig(cfg); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"duration":       cfg.Duration,
		"workers":        cfg.Workers,
		"race_clients":   cfg.RaceClients,
		"booking_ratio":  cfg.BookingRatio,
		"decision_ratio": cfg.DecisionRatio,
		"read_ratio":     cfg.ReadRatio,
	}).Info("simulate starting")

	// Load data from Postgres
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatalf("load data pool: %v", err)
	}

	logger.Infof("loaded: %d patients, %d doctors with availability", len(dataPool.Patients), len(dataPool.Doctors))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}

	winners := sim.RunRace()
	sim.Run()
	sim.PrintReport(winners)

	if winners != 1 {
		logger.Errorf("slot race produced %d winners, expected exactly 1", winners)
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		RaceClients:   getInt("SIM_RACE_CLIENTS", 50),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.4),
		DecisionRatio: getFloat("SIM_DECISION_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.4),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:   getInt("SIM_DOCTOR_LIMIT", 100),
		HorizonDays:   baseCfg.HorizonDays,
		Location:      baseCfg.Location,
		PostgresDSN:   baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.DecisionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.DecisionRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.RaceClients < 2 {
		return fmt.Errorf("SIM_RACE_CLIENTS must be >= 2")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	// Load patients
	rows, err := pool.Query(ctx, `
		SELECT id FROM patients LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}

	// Load doctors that publish a template
	rows, err = pool.Query(ctx, `
		SELECT DISTINCT doctor_id FROM doctor_availability
		WHERE is_available
		LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, id)
	}

	if len(dataPool.Patients) < cfg.RaceClients {
		return nil, fmt.Errorf("need at least %d patients, loaded %d", cfg.RaceClients, len(dataPool.Patients))
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors with availability loaded")
	}

	return dataPool, nil
}

// RunRace sends RaceClients concurrent bookings for one slot from distinct
// patients and returns how many succeeded.
func (s *Simulator) RunRace() int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	t, ok := s.findTarget(ctx, rng, s.pool.Patients[0])
	if !ok {
		s.logger.Fatal("no bookable slot found for the race")
	}
	slot := t.Slots[0]
	s.logger.WithFields(logrus.Fields{
		"doctor_id": t.DoctorID,
		"date":      t.Date,
		"time_slot": slot,
		"clients":   s.config.RaceClients,
	}).Info("racing patients for one slot")

	patients := append([]uuid.UUID(nil), s.pool.Patients...)
	rng.Shuffle(len(patients), func(i, j int) { patients[i], patients[j] = patients[j], patients[i] })
	patients = patients[:s.config.RaceClients]

	var (
		wg      sync.WaitGroup
		winners int64
	)
	start := make(chan struct{})
	for _, p := range patients {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			<-start
			id, status, latency, err := s.book(ctx, patientID, t.DoctorID, t.Date, slot)
			success := err == nil && status == http.StatusCreated
			if success {
				atomic.AddInt64(&winners, 1)
				s.pool.AddPending(booking{ID: id, DoctorID: t.DoctorID})
			}
			s.metrics.Race.Record(latency, success, status == http.StatusConflict)
		}(p)
	}
	close(start)
	wg.Wait()

	return int(winners)
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Infof("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// Select operation based on ratios
			r := rng.Float64()
			if r < s.config.BookingRatio {
				s.doBooking(ctx, rng)
			} else if r < s.config.BookingRatio+s.config.DecisionRatio {
				s.doDecision(ctx, rng)
			} else if rng.Intn(2) == 0 {
				s.doReadSlots(ctx, rng)
			} else {
				s.doListByPatient(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	t, ok := s.findTarget(ctx, rng, patientID)
	if !ok {
		return
	}

	id, status, latency, err := s.book(ctx, patientID, t.DoctorID, t.Date, t.Slots[rng.Intn(len(t.Slots))])
	if ctx.Err() != nil {
		return
	}
	success := err == nil && status == http.StatusCreated
	if success {
		s.pool.AddPending(booking{ID: id, DoctorID: t.DoctorID})
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doDecision(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakePending(rng)
	if !ok {
		return
	}

	action := "confirm"
	if rng.Intn(3) == 0 {
		action = "reject"
	}
	body, _ := json.Marshal(api.TransitionRequest{Action: action})

	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/transitions", b.ID), body, b.DoctorID, "doctor", nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Decision.Record(time.Since(start), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doReadSlots(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	date := time.Now().In(s.config.Location).AddDate(0, 0, rng.Intn(s.config.HorizonDays+1)).Format("2006-01-02")

	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/doctors/%s/slots?date=%s", doctorID, date), nil, uuid.Nil, "", nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ReadSlots.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/patients/%s/appointments?limit=20&offset=0", patientID), nil, uuid.Nil, "", nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ReadList.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// findTarget looks for a doctor day with bookable slots as seen by patientID.
func (s *Simulator) findTarget(ctx context.Context, rng *rand.Rand, patientID uuid.UUID) (target, bool) {
	today := time.Now().In(s.config.Location)
	for attempt := 0; attempt < 10; attempt++ {
		doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
		for d := 1; d <= s.config.HorizonDays; d++ {
			date := today.AddDate(0, 0, d).Format("2006-01-02")

			var resp api.SlotsResponse
			status, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/doctors/%s/slots?date=%s", doctorID, date), nil, patientID, "patient", &resp)
			if err != nil || status != http.StatusOK {
				continue
			}

			t := target{DoctorID: doctorID, Date: date}
			for _, slot := range resp.Slots {
				if !slot.Disabled {
					t.Slots = append(t.Slots, slot.TimeSlot)
				}
			}
			if len(t.Slots) > 0 {
				return t, true
			}
		}
	}
	return target{}, false
}

func (s *Simulator) book(ctx context.Context, patientID, doctorID uuid.UUID, date, slot string) (uuid.UUID, int, time.Duration, error) {
	body, _ := json.Marshal(api.CreateAppointmentRequest{
		DoctorID: doctorID.String(),
		Date:     date,
		TimeSlot: slot,
		Reason:   "simulated visit",
	})

	var resp api.AppointmentResponse
	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, "/appointments", body, patientID, "patient", &resp)
	return resp.ID, status, time.Since(start), err
}

func (s *Simulator) do(ctx context.Context, method, path string, body []byte, actorID uuid.UUID, role string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if actorID != uuid.Nil {
		req.Header.Set(api.HeaderActorID, actorID.String())
		req.Header.Set(api.HeaderActorRole, role)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport(winners int) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Slot race: %d clients, %d winner(s)\n", s.config.RaceClients, winners)
	fmt.Println()

	printOperationReport("Slot race", &s.metrics.Race)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Doctor decision", &s.metrics.Decision)
	printOperationReport("Read slots", &s.metrics.ReadSlots)
	printOperationReport("List by patient", &s.metrics.ReadList)
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
