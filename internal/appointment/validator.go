package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/account"
	apperrors "github.com/hackgods/token-queue-scheduling/internal/errors"
	redisclient "github.com/hackgods/token-queue-scheduling/internal/redis"
)

var (
	ErrTitleEmpty         = apperrors.New(apperrors.CodeTitleEmpty, "title must not be empty")
	ErrInvalidMaxPatients = apperrors.New(apperrors.CodeInvalidMaxPatients, "max patients must be at least 1")
	ErrInvalidTokenRules  = apperrors.New(apperrors.CodeInvalidTokenRules, "invalid token rules")
	ErrDoctorInactive     = apperrors.New(apperrors.CodeDoctorInactive, "doctor is not approved or not active")
	ErrStartNotInFuture   = apperrors.New(apperrors.CodeStartNotInFuture, "start time must be in the future")
	ErrStartNotBeforeEnd  = apperrors.New(apperrors.CodeStartNotBeforeEnd, "start time must be before end time")
	ErrDateMismatch       = apperrors.New(apperrors.CodeDateMismatch, "date does not match the start time's calendar day")
	ErrIntervalExceeds    = apperrors.New(apperrors.CodeIntervalExceedsWindow, "interval time too large for the appointment window")
	ErrSlotCollision      = apperrors.New(apperrors.CodeSlotCollision, "doctor already has an appointment in this time range")
	ErrDoctorScheduleBusy = apperrors.New(apperrors.CodeAppointmentBusy, "doctor schedule is being modified, please retry")
)

// CreateAppointmentInput describes a new appointment. Date is optional and,
// when given, must be the calendar day of StartTime. Nil TokenRules means defaults.
type CreateAppointmentInput struct {
	Title       string
	DoctorID    uuid.UUID
	MaxPatients int
	Date        *time.Time
	StartTime   time.Time
	EndTime     time.Time
	TokenRules  *TokenRules
}

// ValidateTokenRules checks rule values against their minimums.
func ValidateTokenRules(r TokenRules) error {
	switch {
	case r.IntervalTimeMinutes < MinIntervalTimeMinutes:
		return ErrInvalidTokenRules.WithMetadata("interval_time_minutes", fmt.Sprintf("must be >= %d", MinIntervalTimeMinutes))
	case r.TokenPenaltyAmount < MinTokenPenaltyAmount:
		return ErrInvalidTokenRules.WithMetadata("token_penalty_amount", fmt.Sprintf("must be >= %d", MinTokenPenaltyAmount))
	case r.GracePeriodMinutes < 0:
		return ErrInvalidTokenRules.WithMetadata("grace_period_minutes", "must be >= 0")
	}
	return nil
}

// dayBounds returns the start of t's calendar day in loc and the start of the next one.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// CreateAppointment validates and stores a new appointment for a doctor.
// The collision check and insert run under the doctor's lock so two
// overlapping appointments cannot be created concurrently.
func (s *Service) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (*Appointment, error) {
	rules := DefaultTokenRules()
	if in.TokenRules != nil {
		rules = *in.TokenRules
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrTitleEmpty
	}
	if in.MaxPatients < 1 {
		return nil, ErrInvalidMaxPatients
	}
	if err := ValidateTokenRules(rules); err != nil {
		return nil, err
	}

	doctor, err := s.directory.GetDoctorByID(ctx, in.DoctorID)
	if err != nil {
		if errors.Is(err, account.ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.CanHost() {
		return nil, ErrDoctorInactive
	}

	now := s.clock()
	if !in.StartTime.After(now) {
		return nil, ErrStartNotInFuture
	}
	if !in.StartTime.Before(in.EndTime) {
		return nil, ErrStartNotBeforeEnd
	}

	loc := s.cfg.Location()
	dayStart, dayEnd := dayBounds(in.StartTime, loc)
	if in.Date != nil {
		if given, _ := dayBounds(*in.Date, loc); !given.Equal(dayStart) {
			return nil, ErrDateMismatch.
				WithMetadata("date", in.Date.In(loc).Format(time.DateOnly)).
				WithMetadata("start_day", dayStart.Format(time.DateOnly))
		}
	}

	window := in.EndTime.Sub(in.StartTime)
	needed := rules.Interval() * time.Duration(in.MaxPatients)
	if needed > window {
		return nil, apperrors.Newf(apperrors.CodeIntervalExceedsWindow,
			"interval time too large: %d minutes per patient x %d patients = %d minutes, but appointment is only %d minutes long",
			rules.IntervalTimeMinutes, in.MaxPatients, int(needed.Minutes()), int(window.Minutes()),
		).WithMetadata("shortfall_minutes", fmt.Sprint(int((needed - window).Minutes())))
	}

	appt := &Appointment{
		ID:          uuid.New(),
		Title:       title,
		DoctorID:    doctor.ID,
		MaxPatients: in.MaxPatients,
		Date:        dayStart,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Status:      StatusScheduled,
		TokenRules:  rules,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.locker.WithLock(ctx, redisclient.DoctorKey(doctor.ID), func(lockCtx context.Context) error {
		existing, err := s.repo.FindByDoctorAndDateRange(lockCtx, doctor.ID, dayStart, dayEnd)
		if err != nil {
			return fmt.Errorf("check doctor schedule: %w", err)
		}
		for _, other := range existing {
			if other.Status == StatusCompleted {
				continue
			}
			if overlaps(other.StartTime, other.EndTime, appt.StartTime, appt.EndTime) {
				return ErrSlotCollision.WithMetadata("appointment_id", other.ID.String())
			}
		}

		if err := s.repo.CreateAppointment(lockCtx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrDoctorScheduleBusy
		}
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":    doctor.ID.String(),
		"title":        appt.Title,
		"start_time":   appt.StartTime,
		"end_time":     appt.EndTime,
		"max_patients": appt.MaxPatients,
	})
	return appt, nil
}
