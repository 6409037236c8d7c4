package account

import (
	"context"
	"errors"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

var errMissing = errors.New("missing")

type countingDirectory struct {
	doctors      map[uuid.UUID]*Doctor
	doctorCalls  int
	patientCalls int
}

func (d *countingDirectory) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d.doctorCalls++
	doc, ok := d.doctors[id]
	if !ok {
		return nil, errMissing
	}
	return doc, nil
}

func (d *countingDirectory) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	d.patientCalls++
	return &Patient{Account: Account{ID: id, Role: RolePatient}}, nil
}

func newDoctor() *Doctor {
	id := uuid.New()
	return &Doctor{
		Account: Account{ID: id, Name: gofakeit.Name(), Email: gofakeit.Email(), Role: RoleDoctor, Active: true},
		Profile: DoctorProfile{AccountID: id, ApprovalStatus: ApprovalApproved, Active: true},
	}
}

func TestCachedDirectory_HitsCache(t *testing.T) {
	doc := newDoctor()
	next := &countingDirectory{doctors: map[uuid.UUID]*Doctor{doc.ID: doc}}
	cache, err := NewCachedDirectory(next, 4)
	if err != nil {
		t.Fatalf("NewCachedDirectory: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := cache.GetDoctorByID(context.Background(), doc.ID)
		if err != nil {
			t.Fatalf("GetDoctorByID: %v", err)
		}
		if got.Name != doc.Name {
			t.Fatalf("name = %q, want %q", got.Name, doc.Name)
		}
	}
	if next.doctorCalls != 1 {
		t.Fatalf("backing lookups = %d, want 1", next.doctorCalls)
	}

	cache.Invalidate(doc.ID)
	if _, err := cache.GetDoctorByID(context.Background(), doc.ID); err != nil {
		t.Fatalf("GetDoctorByID after invalidate: %v", err)
	}
	if next.doctorCalls != 2 {
		t.Fatalf("backing lookups after invalidate = %d, want 2", next.doctorCalls)
	}
}

func TestCachedDirectory_ErrorsAreNotCached(t *testing.T) {
	next := &countingDirectory{doctors: map[uuid.UUID]*Doctor{}}
	cache, err := NewCachedDirectory(next, 0)
	if err != nil {
		t.Fatalf("NewCachedDirectory: %v", err)
	}
	id := uuid.New()
	for i := 0; i < 2; i++ {
		if _, err := cache.GetDoctorByID(context.Background(), id); !errors.Is(err, errMissing) {
			t.Fatalf("err = %v, want errMissing", err)
		}
	}
	if next.doctorCalls != 2 {
		t.Fatalf("backing lookups = %d, want 2", next.doctorCalls)
	}
}

func TestCachedDirectory_PatientsPassThrough(t *testing.T) {
	next := &countingDirectory{}
	cache, err := NewCachedDirectory(next, 2)
	if err != nil {
		t.Fatalf("NewCachedDirectory: %v", err)
	}
	id := uuid.New()
	cache.GetPatientByID(context.Background(), id)
	cache.GetPatientByID(context.Background(), id)
	if next.patientCalls != 2 {
		t.Fatalf("patient lookups = %d, want 2", next.patientCalls)
	}
}

func TestDoctorCanHost(t *testing.T) {
	d := newDoctor()
	if !d.CanHost() {
		t.Fatal("approved active doctor should host")
	}
	d.Profile.ApprovalStatus = ApprovalPending
	if d.CanHost() {
		t.Fatal("pending doctor must not host")
	}
}
