package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/account"
	"github.com/hackgods/token-queue-scheduling/internal/api"
	"github.com/hackgods/token-queue-scheduling/internal/bootstrap"
	"github.com/hackgods/token-queue-scheduling/internal/config"
)

type SimConfig struct {
	APIBaseURL     string        `env:"SIM_API_BASE_URL" envDefault:"http://localhost:8080"`
	Duration       time.Duration `env:"SIM_DURATION" envDefault:"5m"`
	Workers        int           `env:"SIM_WORKERS" envDefault:"10"`
	Patients       int           `env:"SIM_PATIENTS" envDefault:"40"`
	Lead           time.Duration `env:"SIM_LEAD" envDefault:"1m"`
	DuplicateRatio float64       `env:"SIM_DUPLICATE_RATIO" envDefault:"0.1"`
}

const simIntervalMinutes = 2

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
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
	default:
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
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

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

type Metrics struct {
	Booking  OperationMetrics
	Bookable OperationMetrics
	Tick     OperationMetrics
	CallNext OperationMetrics
	Complete OperationMetrics
	Skip     OperationMetrics
	Queue    OperationMetrics
}

type Simulator struct {
	config    SimConfig
	jwtSecret string
	client    *http.Client
	metrics   Metrics

	doctor   uuid.UUID
	admin    uuid.UUID
	patients []uuid.UUID

	appointmentID uuid.UUID
	startTime     time.Time
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}
	var sc SimConfig
	if err := env.Parse(&sc); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if err := validateConfig(sc); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d patients=%d lead=%s", sc.Duration, sc.Workers, sc.Patients, sc.Lead)

	ctx, cancel := context.WithTimeout(context.Background(), sc.Duration)
	defer cancel()

	sim := &Simulator{
		config:    sc,
		jwtSecret: cfg.JWTSecret,
		client:    &http.Client{Timeout: 10 * time.Second},
		admin:     uuid.New(),
	}

	if err := sim.registerAccounts(ctx, cfg); err != nil {
		log.Fatalf("register accounts: %v", err)
	}
	if err := sim.createAppointment(ctx); err != nil {
		log.Fatalf("create appointment: %v", err)
	}

	sim.Run(ctx)
	sim.PrintReport()
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Patients <= 0 {
		return fmt.Errorf("SIM_PATIENTS must be > 0")
	}
	if cfg.Duration <= cfg.Lead {
		return fmt.Errorf("SIM_DURATION must be longer than SIM_LEAD")
	}
	return nil
}

// registerAccounts writes the doctor and patients straight into the store
// the API server reads from.
func (s *Simulator) registerAccounts(ctx context.Context, cfg config.Config) error {
	deps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	now := time.Now()
	s.doctor = uuid.New()
	err = deps.SaveDoctor(ctx, &account.Doctor{
		Account: account.Account{ID: s.doctor, Name: "Dr. " + gofakeit.Name(), Email: "sim-" + s.doctor.String() + "@clinic.test",
			Role: account.RoleDoctor, Active: true, CreatedAt: now, UpdatedAt: now},
		Profile: account.DoctorProfile{AccountID: s.doctor, Specialization: "General Practice",
			LicenseNumber: "SIM-" + s.doctor.String(), ApprovalStatus: account.ApprovalApproved, Active: true},
	})
	if err != nil {
		return fmt.Errorf("save doctor: %w", err)
	}

	for i := 0; i < s.config.Patients; i++ {
		id := uuid.New()
		err := deps.SavePatient(ctx, &account.Patient{
			Account: account.Account{ID: id, Name: gofakeit.Name(), Email: "sim-" + id.String() + "@example.com",
				Role: account.RolePatient, Active: true, CreatedAt: now, UpdatedAt: now},
			Profile: account.PatientProfile{AccountID: id},
		})
		if err != nil {
			return fmt.Errorf("save patient: %w", err)
		}
		s.patients = append(s.patients, id)
	}

	log.Printf("registered doctor=%s patients=%d", s.doctor, len(s.patients))
	return nil
}

func (s *Simulator) createAppointment(ctx context.Context) error {
	start := time.Now().Add(s.config.Lead).Truncate(time.Minute).Add(time.Minute)
	interval := simIntervalMinutes
	req := api.CreateAppointmentRequest{
		Title:       "Simulated clinic",
		StartTime:   start,
		EndTime:     start.Add(time.Duration(s.config.Patients*simIntervalMinutes+10) * time.Minute),
		MaxPatients: s.config.Patients,
		TokenRules:  &api.TokenRulesRequest{IntervalTimeMinutes: &interval},
	}

	var resp api.AppointmentResponse
	status, err := s.call(ctx, http.MethodPost, "/appointments", s.doctor, account.RoleDoctor, req, &resp)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", status)
	}

	s.appointmentID = resp.ID
	s.startTime = start
	log.Printf("appointment %s starts at %s", resp.ID, start.Format(time.TimeOnly))
	return nil
}

// Run books every patient concurrently, waits for the appointment to start,
// then plays the doctor working through the queue.
func (s *Simulator) Run(ctx context.Context) {
	s.bookAll(ctx)

	wait := time.Until(s.startTime)
	log.Printf("bookings done, waiting %s for the appointment to start", wait.Round(time.Second))
	select {
	case <-ctx.Done():
		return
	case <-time.After(wait):
	}

	s.timed(ctx, &s.metrics.Tick, http.MethodPost, "/admin/lifecycle/tick", s.admin, account.RoleAdmin, nil, nil)
	s.serveQueue(ctx)
	log.Println("simulation complete")
}

func (s *Simulator) bookAll(ctx context.Context) {
	jobs := make(chan uuid.UUID)
	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for patientID := range jobs {
				path := fmt.Sprintf("/appointments/%s/tokens", s.appointmentID)
				s.timed(ctx, &s.metrics.Booking, http.MethodPost, path, patientID, account.RolePatient, nil, nil)
				if gofakeit.Float64Range(0, 1) < s.config.DuplicateRatio {
					s.timed(ctx, &s.metrics.Booking, http.MethodPost, path, patientID, account.RolePatient, nil, nil)
				}
				s.timed(ctx, &s.metrics.Bookable, http.MethodGet, fmt.Sprintf("/doctors/%s/appointments", s.doctor),
					patientID, account.RolePatient, nil, nil)
			}
		}()
	}

	for _, p := range s.patients {
		select {
		case jobs <- p:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
}

func (s *Simulator) serveQueue(ctx context.Context) {
	base := fmt.Sprintf("/appointments/%s", s.appointmentID)
	for ctx.Err() == nil {
		s.timed(ctx, &s.metrics.Queue, http.MethodGet, base+"/queue", s.doctor, account.RoleDoctor, nil, nil)

		var next api.CallNextResponse
		status := s.timed(ctx, &s.metrics.CallNext, http.MethodPost, base+"/next", s.doctor, account.RoleDoctor, nil, &next)
		if status == http.StatusNotFound {
			log.Println("queue empty")
			return
		}
		if status != http.StatusOK {
			time.Sleep(time.Second)
			continue
		}

		tokenPath := fmt.Sprintf("%s/tokens/%s", base, next.Token.ID)
		if status := s.timed(ctx, &s.metrics.Complete, http.MethodPost, tokenPath+"/complete", s.doctor, account.RoleDoctor, nil, nil); status == http.StatusConflict {
			// Slot has not started yet; skip instead of waiting for it.
			s.timed(ctx, &s.metrics.Skip, http.MethodPost, tokenPath+"/skip", s.doctor, account.RoleDoctor, nil, nil)
		}
	}
}

// timed performs one request and records it, returning the status or 0 on transport failure.
func (s *Simulator) timed(ctx context.Context, om *OperationMetrics, method, path string, actor uuid.UUID, role account.Role, body, out any) int {
	start := time.Now()
	status, err := s.call(ctx, method, path, actor, role, body, out)
	if err != nil {
		log.Printf("request error method=%s path=%s err=%v", method, path, err)
	}
	om.Record(time.Since(start), status)
	return status
}

func (s *Simulator) call(ctx context.Context, method, path string, actor uuid.UUID, role account.Role, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.jwtSecret != "" {
		token, err := api.IssueActorToken(s.jwtSecret, api.Actor{ID: actor, Role: role}, time.Hour)
		if err != nil {
			return 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set("X-Actor-ID", actor.String())
		req.Header.Set("X-Actor-Role", string(role))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Appointment: %s\n", s.appointmentID)
	fmt.Printf("Workers: %d  Patients: %d\n", s.config.Workers, len(s.patients))
	fmt.Println()

	printOperationReport("Book token", &s.metrics.Booking)
	printOperationReport("List bookable", &s.metrics.Bookable)
	printOperationReport("Lifecycle tick", &s.metrics.Tick)
	printOperationReport("Queue view", &s.metrics.Queue)
	printOperationReport("Call next", &s.metrics.CallNext)
	printOperationReport("Complete", &s.metrics.Complete)
	printOperationReport("Skip", &s.metrics.Skip)
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
