package appointment

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/account"
	"github.com/hackgods/token-queue-scheduling/internal/config"
	"github.com/hackgods/token-queue-scheduling/internal/db"
	redisclient "github.com/hackgods/token-queue-scheduling/internal/redis"
)

// at returns 2030-01-07 hh:mm UTC. Tests run on that day.
func at(hh, mm int) time.Time {
	return time.Date(2030, time.January, 7, hh, mm, 0, 0, time.UTC)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestStore(t *testing.T) *SQLiteRepository {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewSQLiteRepository(conn)
}

func testConfig() config.Config {
	return config.Config{SaveRetries: 3}
}

type fixture struct {
	repo   *SQLiteRepository
	svc    *Service
	clock  *fakeClock
	doctor *account.Doctor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newTestStore(t)
	clock := newFakeClock(at(9, 0))
	f := &fixture{
		repo:  repo,
		svc:   NewService(repo, redisclient.NewLocalLocker(), testConfig(), WithClock(clock.Now)),
		clock: clock,
	}
	f.doctor = f.addDoctor(t, account.ApprovalApproved, true)
	return f
}

func (f *fixture) addDoctor(t *testing.T, approval account.ApprovalStatus, active bool) *account.Doctor {
	t.Helper()
	id := uuid.New()
	d := &account.Doctor{
		Account: account.Account{
			ID:        id,
			Name:      gofakeit.Name(),
			Email:     fmt.Sprintf("%s.%s", id.String()[:8], gofakeit.Email()),
			Role:      account.RoleDoctor,
			Active:    true,
			CreatedAt: at(8, 0),
			UpdatedAt: at(8, 0),
		},
		Profile: account.DoctorProfile{
			AccountID:      id,
			Specialization: "General Medicine",
			LicenseNumber:  "LIC-" + id.String(),
			ApprovalStatus: approval,
			Active:         active,
		},
	}
	if err := f.repo.SaveDoctor(context.Background(), d); err != nil {
		t.Fatalf("save doctor: %v", err)
	}
	return d
}

func (f *fixture) addPatient(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	p := &account.Patient{
		Account: account.Account{
			ID:        id,
			Name:      gofakeit.Name(),
			Email:     fmt.Sprintf("%s.%s", id.String()[:8], gofakeit.Email()),
			Role:      account.RolePatient,
			Active:    true,
			CreatedAt: at(8, 0),
			UpdatedAt: at(8, 0),
		},
		Profile: account.PatientProfile{AccountID: id},
	}
	if err := f.repo.SavePatient(context.Background(), p); err != nil {
		t.Fatalf("save patient: %v", err)
	}
	return id
}

func rules(interval, penalty, grace int) *TokenRules {
	return &TokenRules{
		IntervalTimeMinutes: interval,
		TokenPenaltyAmount:  penalty,
		GracePeriodMinutes:  grace,
		AutoMarkLateEnabled: true,
	}
}

func (f *fixture) createAppointment(t *testing.T, start, end time.Time, maxPatients int, r *TokenRules) *Appointment {
	t.Helper()
	appt, err := f.svc.CreateAppointment(context.Background(), CreateAppointmentInput{
		Title:       "Morning clinic",
		DoctorID:    f.doctor.ID,
		MaxPatients: maxPatients,
		StartTime:   start,
		EndTime:     end,
		TokenRules:  r,
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return appt
}

// bookN books n fresh patients and returns their tokens in booking order.
func (f *fixture) bookN(t *testing.T, apptID uuid.UUID, n int) []*Token {
	t.Helper()
	tokens := make([]*Token, 0, n)
	for i := 0; i < n; i++ {
		_, tok, err := f.svc.BookToken(context.Background(), apptID, f.addPatient(t))
		if err != nil {
			t.Fatalf("book token %d: %v", i+1, err)
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// startAt moves the clock to now and runs the status advance so the
// appointment is ongoing.
func (f *fixture) startAt(t *testing.T, apptID uuid.UUID, now time.Time) {
	t.Helper()
	f.clock.Set(now)
	if _, err := f.svc.AdvanceStatuses(context.Background()); err != nil {
		t.Fatalf("advance statuses: %v", err)
	}
	appt := f.load(t, apptID)
	if appt.Status != StatusOngoing {
		t.Fatalf("appointment status = %s, want ongoing", appt.Status)
	}
}

func (f *fixture) load(t *testing.T, id uuid.UUID) *Appointment {
	t.Helper()
	appt, err := f.repo.GetAppointmentByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load appointment: %v", err)
	}
	return appt
}

func tokenByNumber(t *testing.T, appt *Appointment, n int) *Token {
	t.Helper()
	for _, tok := range appt.Tokens() {
		if tok.TokenNumber == n {
			return tok
		}
	}
	t.Fatalf("token #%d not found", n)
	return nil
}

func tokenNumbers(tokens []*Token) []int {
	out := make([]int, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.TokenNumber
	}
	return out
}
