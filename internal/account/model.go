package account

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/hackgods/token-queue-scheduling/internal/errors"
)

var (
	ErrDoctorNotFound  = apperrors.New(apperrors.CodeDoctorNotFound, "doctor not found")
	ErrPatientNotFound = apperrors.New(apperrors.CodePatientNotFound, "patient not found")
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Account is the generic identity record every role profile hangs off.
type Account struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Role      Role
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DoctorProfile struct {
	AccountID      uuid.UUID
	Specialization string
	LicenseNumber  string
	ApprovalStatus ApprovalStatus
	Active         bool
}

type PatientProfile struct {
	AccountID  uuid.UUID
	Age        *int
	BloodGroup *string
}

// Doctor is an account tagged with its doctor profile.
type Doctor struct {
	Account
	Profile DoctorProfile
}

// CanHost reports whether the doctor may author appointments.
func (d *Doctor) CanHost() bool {
	return d.Account.Active && d.Profile.Active && d.Profile.ApprovalStatus == ApprovalApproved
}

// Patient is an account tagged with its patient profile.
type Patient struct {
	Account
	Profile PatientProfile
}

// Directory resolves account references held by appointments and tokens.
type Directory interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}
