package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logger"
	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

type SimConfig struct {
	APIBaseURL      string        `env:"SIM_API_BASE_URL" envDefault:"http://localhost:8080"`
	Duration        time.Duration `env:"SIM_DURATION" envDefault:"30s"`
	Workers         int           `env:"SIM_WORKERS" envDefault:"10"`
	BookingRatio    float64       `env:"SIM_BOOKING_RATIO" envDefault:"0.5"`
	RescheduleRatio float64       `env:"SIM_RESCHEDULE_RATIO" envDefault:"0.1"`
	CancelRatio     float64       `env:"SIM_CANCEL_RATIO" envDefault:"0.1"`
	ReadRatio       float64       `env:"SIM_READ_RATIO" envDefault:"0.3"`
	PatientLimit    int           `env:"SIM_PATIENT_LIMIT" envDefault:"4000"`
	DoctorLimit     int           `env:"SIM_DOCTOR_LIMIT" envDefault:"10"` // few doctors keep slots contended
	DaysAhead       int           `env:"SIM_DAYS_AHEAD" envDefault:"3"`
}

// target is one bookable slot discovered through the availability endpoint.
type target struct {
	DoctorID uuid.UUID
	Date     schedule.Date
	Start    schedule.TimeOfDay
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID
	Targets  []target

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Limited   int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status == http.StatusTooManyRequests:
		atomic.AddInt64(&om.Limited, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Booking      OperationMetrics
	Reschedule   OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
	List         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	token   string
	log     *zap.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(baseCfg.Env)
	defer func() { _ = log.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("reschedule", cfg.RescheduleRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	// Staff can book on behalf of any patient.
	token, err := auth.NewTokenManager(baseCfg.JWTSecret, time.Hour).
		Issue(auth.Actor{ID: uuid.New(), Role: auth.RoleStaff})
	if err != nil {
		log.Fatal("issue token", zap.Error(err))
	}

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		token:  token,
		log:    log,
	}

	sim.pool, err = sim.loadDataPool(ctx, pgPool, baseCfg.Location())
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	log.Info("data loaded",
		zap.Int("patients", len(sim.pool.Patients)),
		zap.Int("doctors", len(sim.pool.Doctors)),
		zap.Int("slots", len(sim.pool.Targets)),
	)

	sim.Run()
	sim.PrintReport()
}

// loadConfig reads the SIM_* settings and scales the operation ratios to sum to one.
func loadConfig() (SimConfig, error) {
	cfg, err := config.Parse[SimConfig]()
	if err != nil {
		return SimConfig{}, err
	}

	switch {
	case cfg.Workers <= 0:
		return SimConfig{}, errors.New("SIM_WORKERS must be > 0")
	case cfg.Duration <= 0:
		return SimConfig{}, errors.New("SIM_DURATION must be > 0")
	case cfg.DaysAhead <= 0:
		return SimConfig{}, errors.New("SIM_DAYS_AHEAD must be > 0")
	case cfg.BookingRatio < 0 || cfg.RescheduleRatio < 0 || cfg.CancelRatio < 0 || cfg.ReadRatio < 0:
		return SimConfig{}, errors.New("SIM_*_RATIO must not be negative")
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total == 0 {
		return SimConfig{}, errors.New("at least one SIM_*_RATIO must be positive")
	}
	cfg.BookingRatio /= total
	cfg.RescheduleRatio /= total
	cfg.CancelRatio /= total
	cfg.ReadRatio /= total

	return cfg, nil
}

// loadDataPool reads patients and doctors from Postgres and asks the API which
// slots they offer over the next few days. A small doctor set keeps
// contention on each slot high.
func (s *Simulator) loadDataPool(ctx context.Context, pool *pgxpool.Pool, loc *time.Location) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, s.config.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT d.id FROM doctors d
		JOIN doctor_schedules s ON s.doctor_id = d.id
		WHERE d.is_active
		LIMIT $1
	`, s.config.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Doctors = append(dp.Doctors, id)
	}
	rows.Close()

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dp.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors with a schedule loaded")
	}

	today := schedule.DateOf(time.Now().In(loc))
	for _, doctorID := range dp.Doctors {
		for i := 1; i <= s.config.DaysAhead; i++ {
			av, err := s.fetchAvailability(ctx, doctorID, today.AddDays(i))
			if err != nil {
				return nil, err
			}
			for _, slot := range av.Slots {
				if slot.Available {
					dp.Targets = append(dp.Targets, target{DoctorID: doctorID, Date: av.Date, Start: slot.StartTime})
				}
			}
		}
	}
	if len(dp.Targets) == 0 {
		return nil, fmt.Errorf("no open slots in the next %d days", s.config.DaysAhead)
	}

	return dp, nil
}

func (s *Simulator) fetchAvailability(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (*appointment.Availability, error) {
	url := fmt.Sprintf("%s/doctors/%s/availability?date=%s", s.config.APIBaseURL, doctorID, date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get availability: status %d", resp.StatusCode)
	}
	var av appointment.Availability
	if err := json.NewDecoder(resp.Body).Decode(&av); err != nil {
		return nil, fmt.Errorf("decode availability: %w", err)
	}
	return &av, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doAvailability(ctx, rng)
			} else {
				s.doList(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body := map[string]any{
		"doctor_id":        t.DoctorID.String(),
		"patient_id":       patientID.String(),
		"appointment_date": t.Date.String(),
		"start_time":       t.Start.String(),
		"appointment_type": "regular",
		"reason":           "load test",
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	latency, status := s.call(ctx, http.MethodPost, "/appointments", body, &created)
	if status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
	}
	s.metrics.Booking.Record(latency, status)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	body := map[string]any{
		"appointment_date": t.Date.String(),
		"start_time":       t.Start.String(),
		"reason":           "load test",
	}
	latency, status := s.call(ctx, http.MethodPut, "/appointments/"+id.String()+"/reschedule", body, nil)
	s.metrics.Reschedule.Record(latency, status)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	latency, status := s.call(ctx, http.MethodDelete, "/appointments/"+id.String(), map[string]any{"reason": "load test"}, nil)
	s.metrics.Cancel.Record(latency, status)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	path := fmt.Sprintf("/doctors/%s/availability?date=%s", t.DoctorID, t.Date)
	latency, status := s.call(ctx, http.MethodGet, path, nil, nil)
	s.metrics.Availability.Record(latency, status)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	path := fmt.Sprintf("/appointments?patient_id=%s&limit=20&offset=0", patientID)
	latency, status := s.call(ctx, http.MethodGet, path, nil, nil)
	s.metrics.List.Record(latency, status)
}

// call sends an authenticated request and returns its latency and status.
// Transport errors report status 0.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (time.Duration, int) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, 0
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return latency, resp.StatusCode
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %d\n", len(s.pool.Targets))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("List by patient", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	limited := atomic.LoadInt64(&om.Limited)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if limited > 0 {
		fmt.Printf("  Rate limited: %d (%.1f%%)\n", limited, pct(limited))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
