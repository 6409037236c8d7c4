package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/account"
	"github.com/hackgods/token-queue-scheduling/internal/appointment"
	"github.com/hackgods/token-queue-scheduling/internal/config"
)

func newDoctor(now time.Time) *account.Doctor {
	id := uuid.New()
	return &account.Doctor{
		Account: account.Account{ID: id, Name: "Dr. Hossain", Email: id.String() + "@clinic.test",
			Role: account.RoleDoctor, Active: true, CreatedAt: now, UpdatedAt: now},
		Profile: account.DoctorProfile{AccountID: id, Specialization: "ENT",
			LicenseNumber: "LIC-" + id.String(), ApprovalStatus: account.ApprovalApproved, Active: true},
	}
}

func TestOpenSQLiteWithLocalLocks(t *testing.T) {
	cfg := config.Config{
		StoreDriver:     config.StoreSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "nested", "queue.db"),
		LockBackend:     config.LockLocal,
		SaveRetries:     3,
		DoctorCacheSize: 8,
	}
	ctx := context.Background()

	d, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if d.SQLite == nil || d.PgPool != nil || d.Redis != nil {
		t.Fatalf("deps = %+v, want only sqlite", d)
	}

	now := time.Now()
	doctor := newDoctor(now)
	id := doctor.ID
	if err := d.SaveDoctor(ctx, doctor); err != nil {
		t.Fatalf("save doctor: %v", err)
	}

	svc := d.Service(cfg)
	start := now.Add(time.Hour).Truncate(time.Minute)
	appt, err := svc.CreateAppointment(ctx, appointment.CreateAppointmentInput{
		Title:       "Clinic",
		DoctorID:    id,
		MaxPatients: 2,
		StartTime:   start,
		EndTime:     start.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := d.Store.GetAppointmentByID(ctx, appt.ID); err != nil {
		t.Fatalf("load created appointment: %v", err)
	}
}

func TestSaveDoctorRefreshesCachedProfile(t *testing.T) {
	cfg := config.Config{
		StoreDriver:     config.StoreSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "queue.db"),
		LockBackend:     config.LockLocal,
		SaveRetries:     3,
		DoctorCacheSize: 8,
	}
	ctx := context.Background()

	d, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	svc := d.Service(cfg)

	now := time.Now()
	doctor := newDoctor(now)
	if err := d.SaveDoctor(ctx, doctor); err != nil {
		t.Fatalf("save doctor: %v", err)
	}

	// Resolving the doctor puts it in the cache.
	if got, err := d.Doctors.GetDoctorByID(ctx, doctor.ID); err != nil || !got.CanHost() {
		t.Fatalf("cached doctor = %+v, %v", got, err)
	}

	doctor.Profile.ApprovalStatus = account.ApprovalPending
	if err := d.SaveDoctor(ctx, doctor); err != nil {
		t.Fatalf("update doctor: %v", err)
	}

	start := now.Add(time.Hour).Truncate(time.Minute)
	_, err = svc.CreateAppointment(ctx, appointment.CreateAppointmentInput{
		Title:       "Clinic",
		DoctorID:    doctor.ID,
		MaxPatients: 2,
		StartTime:   start,
		EndTime:     start.Add(30 * time.Minute),
	})
	if !errors.Is(err, appointment.ErrDoctorInactive) {
		t.Fatalf("create with suspended doctor err = %v, want doctor inactive", err)
	}
}
