package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/account"
	apperrors "github.com/hackgods/token-queue-scheduling/internal/errors"
)

var (
	ErrAppointmentNotFound = apperrors.New(apperrors.CodeAppointmentNotFound, "appointment not found")
	// ErrVersionConflict means the appointment was saved by someone else since it was loaded.
	ErrVersionConflict = apperrors.New(apperrors.CodeVersionConflict, "appointment was modified concurrently")
)

// Repository contains all store interactions needed by the service.
// Appointments are loaded and saved whole, tokens included.
type Repository interface {
	account.Directory

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindByDoctorAndDateRange returns the doctor's appointments whose Date falls in [from, to).
	FindByDoctorAndDateRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	FindAllOngoing(ctx context.Context) ([]*Appointment, error)
	// FindByPatient returns every appointment holding a token of the patient.
	FindByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, appt *Appointment) error
	// SaveAppointment writes the appointment and upserts its tokens if the
	// stored version still matches appt.Version, then bumps appt.Version.
	// Otherwise it returns ErrVersionConflict.
	SaveAppointment(ctx context.Context, appt *Appointment) error

	// Lifecycle
	AdvanceStatuses(ctx context.Context, now time.Time) (StatusAdvanceResult, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
