package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/account"
	"github.com/hackgods/token-queue-scheduling/internal/appointment"
	"github.com/hackgods/token-queue-scheduling/internal/config"
	"github.com/hackgods/token-queue-scheduling/internal/db"
	"github.com/hackgods/token-queue-scheduling/internal/monitor"
	redisclient "github.com/hackgods/token-queue-scheduling/internal/redis"
)

var day = time.Date(2030, time.January, 7, 0, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time {
	return day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type testServer struct {
	handler http.Handler
	repo    *appointment.SQLiteRepository
	clock   *testClock
	doctor  uuid.UUID
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	repo := appointment.NewSQLiteRepository(conn)
	clock := &testClock{now: at(9, 0)}
	svc := appointment.NewService(repo, redisclient.NewLocalLocker(), config.Config{SaveRetries: 3},
		appointment.WithClock(clock.Now))

	s := &testServer{repo: repo, clock: clock}
	s.handler = NewRouter(RouterConfig{
		Service:            svc,
		Monitor:            monitor.New(svc, time.Minute, 5*time.Second),
		SQLite:             conn,
		Env:                "test",
		Version:            "v-test",
		JWTSecret:          secret,
		CORSAllowedOrigins: []string{"*"},
	})
	s.doctor = s.addDoctor(t)
	return s
}

func (s *testServer) addDoctor(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := s.clock.Now()
	err := s.repo.SaveDoctor(context.Background(), &account.Doctor{
		Account: account.Account{ID: id, Name: "Dr. " + gofakeit.LastName(), Email: id.String() + "@clinic.test",
			Role: account.RoleDoctor, Active: true, CreatedAt: now, UpdatedAt: now},
		Profile: account.DoctorProfile{AccountID: id, Specialization: "General Medicine",
			LicenseNumber: "LIC-" + id.String(), ApprovalStatus: account.ApprovalApproved, Active: true},
	})
	if err != nil {
		t.Fatalf("save doctor: %v", err)
	}
	return id
}

func (s *testServer) addPatient(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := s.clock.Now()
	err := s.repo.SavePatient(context.Background(), &account.Patient{
		Account: account.Account{ID: id, Name: gofakeit.Name(), Email: id.String() + "@example.com",
			Role: account.RolePatient, Active: true, CreatedAt: now, UpdatedAt: now},
		Profile: account.PatientProfile{AccountID: id},
	})
	if err != nil {
		t.Fatalf("save patient: %v", err)
	}
	return id
}

type requestOpt func(*http.Request)

func asActor(id uuid.UUID, role account.Role) requestOpt {
	return func(r *http.Request) {
		r.Header.Set("X-Actor-ID", id.String())
		r.Header.Set("X-Actor-Role", string(role))
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, opts ...requestOpt) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, rec.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rec, status)
	if got := decode[ErrorResponse](t, rec); got.Error != code {
		t.Fatalf("error code = %q, want %q (details %q)", got.Error, code, got.Details)
	}
}

func (s *testServer) createAppointment(t *testing.T, req CreateAppointmentRequest) AppointmentResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/appointments", req, asActor(s.doctor, account.RoleDoctor))
	expectStatus(t, rec, http.StatusCreated)
	return decode[AppointmentResponse](t, rec)
}

func TestQueueLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, "")
	doctor := asActor(s.doctor, account.RoleDoctor)
	admin := asActor(uuid.New(), account.RoleAdmin)

	appt := s.createAppointment(t, CreateAppointmentRequest{
		Title:       "Morning clinic",
		Date:        "2030-01-07",
		StartTime:   at(10, 0),
		EndTime:     at(11, 0),
		MaxPatients: 3,
	})
	if appt.Status != "scheduled" || appt.TokenRules.IntervalTimeMinutes != 5 || !appt.TokenRules.AutoMarkLateEnabled {
		t.Fatalf("created = %+v", appt)
	}
	base := "/appointments/" + appt.ID.String()

	p1, p2 := s.addPatient(t), s.addPatient(t)
	var booked []TokenResponse
	for _, p := range []uuid.UUID{p1, p2} {
		rec := s.do(t, http.MethodPost, base+"/tokens", nil, asActor(p, account.RolePatient))
		expectStatus(t, rec, http.StatusCreated)
		booked = append(booked, decode[BookTokenResponse](t, rec).Token)
	}
	if booked[0].TokenNumber != 1 || booked[1].TokenNumber != 2 {
		t.Fatalf("token numbers = %d, %d", booked[0].TokenNumber, booked[1].TokenNumber)
	}
	if !booked[1].ScheduleStartTime.Equal(at(10, 5)) {
		t.Fatalf("token 2 starts %v, want 10:05", booked[1].ScheduleStartTime)
	}

	expectError(t, s.do(t, http.MethodPost, base+"/tokens", nil, asActor(p1, account.RolePatient)),
		http.StatusConflict, "DUPLICATE_BOOKING")

	// Not started yet.
	expectError(t, s.do(t, http.MethodPost, base+"/next", nil, doctor), http.StatusConflict, "APPOINTMENT_NOT_ONGOING")

	s.clock.Set(at(10, 1))
	rec := s.do(t, http.MethodPost, "/admin/lifecycle/tick", nil, admin)
	expectStatus(t, rec, http.StatusOK)
	if tick := decode[TickResponse](t, rec); tick.OngoingCount != 1 || tick.Skipped {
		t.Fatalf("tick = %+v, want one appointment started", tick)
	}

	expectError(t, s.do(t, http.MethodPost, base+"/next", nil, asActor(p1, account.RolePatient)),
		http.StatusForbidden, "NOT_APPOINTMENT_OWNER")

	rec = s.do(t, http.MethodPost, base+"/next", nil, doctor)
	expectStatus(t, rec, http.StatusOK)
	called := decode[CallNextResponse](t, rec)
	if called.Token.ID != booked[0].ID || called.Token.ConsultationStartTime == nil || len(called.Penalties) != 0 {
		t.Fatalf("called = %+v", called)
	}

	rec = s.do(t, http.MethodGet, base+"/current", nil, doctor)
	expectStatus(t, rec, http.StatusOK)
	if cur := decode[CurrentTokenResponse](t, rec); cur.Current == nil || cur.Current.TokenNumber != 1 {
		t.Fatalf("current = %+v", cur.Current)
	}

	rec = s.do(t, http.MethodPost, base+"/tokens/"+booked[0].ID.String()+"/complete", nil, doctor)
	expectStatus(t, rec, http.StatusOK)
	if done := decode[TokenResponse](t, rec); done.Status != "completed" || done.ConsultationEndTime == nil {
		t.Fatalf("completed token = %+v", done)
	}

	rec = s.do(t, http.MethodPost, base+"/tokens/"+booked[1].ID.String()+"/emergency", nil, doctor)
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, http.MethodGet, base+"/queue", nil, doctor)
	expectStatus(t, rec, http.StatusOK)
	queue := decode[QueueResponse](t, rec)
	if len(queue.Tokens) != 2 || queue.Tokens[0].Status != "emergency" || queue.Current == nil || queue.Current.ID != booked[1].ID {
		t.Fatalf("queue = %+v", queue)
	}

	expectError(t, s.do(t, http.MethodPut, base+"/delay", map[string]int{"minutes": -1}, doctor),
		http.StatusBadRequest, "INVALID_DELAY")
	rec = s.do(t, http.MethodPut, base+"/delay", map[string]int{"minutes": 7}, doctor)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[AppointmentResponse](t, rec); got.GlobalDelay != 7 {
		t.Fatalf("global delay = %d, want 7", got.GlobalDelay)
	}

	rec = s.do(t, http.MethodPost, base+"/tokens/"+booked[1].ID.String()+"/skip", nil, doctor)
	expectStatus(t, rec, http.StatusOK)
	expectError(t, s.do(t, http.MethodPost, base+"/next", nil, doctor), http.StatusNotFound, "QUEUE_EMPTY")

	rec = s.do(t, http.MethodGet, "/doctors/"+s.doctor.String()+"/stats?date=2030-01-07", nil, doctor)
	expectStatus(t, rec, http.StatusOK)
	stats := decode[DayStatsResponse](t, rec)
	if stats.Appointments != 1 || stats.CompletedTokens != 1 || stats.SkippedTokens != 1 || stats.Date != "2030-01-07" {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCreateAppointmentErrors(t *testing.T) {
	s := newTestServer(t, "")
	doctor := asActor(s.doctor, account.RoleDoctor)
	interval := 20

	tests := []struct {
		name   string
		body   any
		opts   []requestOpt
		status int
		code   string
	}{
		{"no actor", CreateAppointmentRequest{Title: "x"}, nil, http.StatusUnauthorized, "missing_actor"},
		{"bad json", "not an object", []requestOpt{doctor}, http.StatusBadRequest, "invalid_request_body"},
		{"bad date", CreateAppointmentRequest{Title: "x", Date: "07/01/2030", StartTime: at(10, 0), EndTime: at(11, 0), MaxPatients: 1},
			[]requestOpt{doctor}, http.StatusBadRequest, "invalid_date"},
		{"past start", CreateAppointmentRequest{Title: "x", StartTime: at(8, 0), EndTime: at(11, 0), MaxPatients: 1},
			[]requestOpt{doctor}, http.StatusBadRequest, "START_NOT_IN_FUTURE"},
		{"partial rules over capacity", CreateAppointmentRequest{Title: "x", StartTime: at(10, 0), EndTime: at(11, 0), MaxPatients: 4,
			TokenRules: &TokenRulesRequest{IntervalTimeMinutes: &interval}}, []requestOpt{doctor}, http.StatusConflict, "INTERVAL_EXCEEDS_WINDOW"},
		{"not a doctor", CreateAppointmentRequest{Title: "x", StartTime: at(10, 0), EndTime: at(11, 0), MaxPatients: 1},
			[]requestOpt{asActor(uuid.New(), account.RolePatient)}, http.StatusNotFound, "DOCTOR_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, s.do(t, http.MethodPost, "/appointments", tt.body, tt.opts...), tt.status, tt.code)
		})
	}
}

func TestPathAndAccessErrors(t *testing.T) {
	s := newTestServer(t, "")
	doctor := asActor(s.doctor, account.RoleDoctor)

	expectError(t, s.do(t, http.MethodGet, "/appointments/not-a-uuid/queue", nil, doctor),
		http.StatusBadRequest, "invalid_id")
	expectError(t, s.do(t, http.MethodGet, "/appointments/"+uuid.NewString()+"/queue", nil, doctor),
		http.StatusNotFound, "APPOINTMENT_NOT_FOUND")
	expectError(t, s.do(t, http.MethodGet, "/doctors/"+s.doctor.String()+"/stats", nil, asActor(uuid.New(), account.RoleDoctor)),
		http.StatusForbidden, "NOT_APPOINTMENT_OWNER")
	expectError(t, s.do(t, http.MethodPost, "/admin/lifecycle/tick", nil, doctor),
		http.StatusForbidden, "admin_required")

	req := httptest.NewRequest(http.MethodGet, "/appointments/"+uuid.NewString()+"/queue", nil)
	req.Header.Set("X-Actor-ID", "nobody")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusUnauthorized, "invalid_actor")
}

func TestListBookableIsPublic(t *testing.T) {
	s := newTestServer(t, "")
	appt := s.createAppointment(t, CreateAppointmentRequest{
		Title:       "Evening clinic",
		StartTime:   at(17, 0),
		EndTime:     at(18, 0),
		MaxPatients: 4,
	})
	p := s.addPatient(t)
	expectStatus(t, s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/tokens", nil, asActor(p, account.RolePatient)),
		http.StatusCreated)

	rec := s.do(t, http.MethodGet, "/doctors/"+s.doctor.String()+"/appointments", nil)
	expectStatus(t, rec, http.StatusOK)
	list := decode[[]BookableResponse](t, rec)
	if len(list) != 1 || list[0].Appointment.ID != appt.ID || list[0].Booked != 1 || list[0].Available != 3 {
		t.Fatalf("bookable = %+v", list)
	}
}

func TestPatientTokensAreOwnerOnly(t *testing.T) {
	s := newTestServer(t, "")
	morning := s.createAppointment(t, CreateAppointmentRequest{
		Title:       "Morning clinic",
		StartTime:   at(10, 0),
		EndTime:     at(11, 0),
		MaxPatients: 4,
	})
	evening := s.createAppointment(t, CreateAppointmentRequest{
		Title:       "Evening clinic",
		StartTime:   at(17, 0),
		EndTime:     at(18, 0),
		MaxPatients: 4,
	})
	p, other := s.addPatient(t), s.addPatient(t)
	for _, id := range []uuid.UUID{morning.ID, evening.ID} {
		expectStatus(t, s.do(t, http.MethodPost, "/appointments/"+id.String()+"/tokens", nil, asActor(p, account.RolePatient)),
			http.StatusCreated)
	}

	path := "/patients/" + p.String() + "/tokens"
	rec := s.do(t, http.MethodGet, path, nil, asActor(p, account.RolePatient))
	expectStatus(t, rec, http.StatusOK)
	list := decode[[]PatientTokenResponse](t, rec)
	if len(list) != 2 || list[0].Appointment.ID != morning.ID || list[1].Appointment.ID != evening.ID {
		t.Fatalf("tokens = %+v, want morning then evening", list)
	}
	if list[0].Token.PatientID != p || list[0].Token.Status != "queued" {
		t.Fatalf("token = %+v", list[0].Token)
	}

	rec = s.do(t, http.MethodGet, path+"/count", nil, asActor(uuid.New(), account.RoleAdmin))
	expectStatus(t, rec, http.StatusOK)
	if counts := decode[PatientTokenCountsResponse](t, rec); counts.Total != 2 || counts.Queued != 2 {
		t.Fatalf("counts = %+v", counts)
	}

	expectError(t, s.do(t, http.MethodGet, path, nil, asActor(other, account.RolePatient)),
		http.StatusForbidden, "NOT_APPOINTMENT_OWNER")
	expectError(t, s.do(t, http.MethodGet, path, nil), http.StatusUnauthorized, "missing_actor")
	missing := uuid.New()
	expectError(t, s.do(t, http.MethodGet, "/patients/"+missing.String()+"/tokens", nil, asActor(missing, account.RolePatient)),
		http.StatusNotFound, "PATIENT_NOT_FOUND")
}

func TestJWTActor(t *testing.T) {
	const secret = "test-secret"
	s := newTestServer(t, secret)

	token, err := IssueActorToken(secret, Actor{ID: s.doctor, Role: account.RoleDoctor}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	bearer := func(tok string) requestOpt {
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
	}

	req := CreateAppointmentRequest{Title: "Clinic", StartTime: at(10, 0), EndTime: at(11, 0), MaxPatients: 2}
	expectStatus(t, s.do(t, http.MethodPost, "/appointments", req, bearer(token)), http.StatusCreated)

	// Headers are ignored once tokens are required.
	expectError(t, s.do(t, http.MethodPost, "/appointments", req, asActor(s.doctor, account.RoleDoctor)),
		http.StatusUnauthorized, "missing_actor")

	forged, err := IssueActorToken("other-secret", Actor{ID: s.doctor, Role: account.RoleDoctor}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	expectError(t, s.do(t, http.MethodPost, "/appointments", req, bearer(forged)), http.StatusUnauthorized, "invalid_actor")

	expired, err := IssueActorToken(secret, Actor{ID: s.doctor, Role: account.RoleDoctor}, -time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	expectError(t, s.do(t, http.MethodPost, "/appointments", req, bearer(expired)), http.StatusUnauthorized, "invalid_actor")
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodGet, "/health/live", nil)
	expectStatus(t, rec, http.StatusOK)
	if live := decode[LivenessResponse](t, rec); live.Version != "v-test" {
		t.Fatalf("live = %+v", live)
	}

	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	expectStatus(t, rec, http.StatusOK)
	ready := decode[ReadinessResponse](t, rec)
	if ready.Status != "ok" || ready.Dependencies["sqlite"] != "ok" {
		t.Fatalf("ready = %+v", ready)
	}
	if _, ok := ready.Dependencies["postgres"]; ok {
		t.Fatal("unconfigured postgres reported")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestReadinessFailsWhenStoreIsDown(t *testing.T) {
	conn, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn.Close()

	h := NewHealthHandler(nil, conn, nil, "test", "v")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	expectStatus(t, rec, http.StatusServiceUnavailable)
}
