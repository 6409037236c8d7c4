package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/account"
	"github.com/hackgods/token-queue-scheduling/internal/config"
	"github.com/hackgods/token-queue-scheduling/internal/db"
	apperrors "github.com/hackgods/token-queue-scheduling/internal/errors"
	redisclient "github.com/hackgods/token-queue-scheduling/internal/redis"
)

const (
	EventAppointmentCreated = "APPOINTMENT_CREATED"
	EventTokenBooked        = "TOKEN_BOOKED"
	EventTokenPenalized     = "TOKEN_PENALIZED"
	EventTokenCalled        = "TOKEN_CALLED"
	EventTokenCompleted     = "TOKEN_COMPLETED"
	EventTokenEmergency     = "TOKEN_EMERGENCY"
	EventTokenSkipped       = "TOKEN_SKIPPED"
	EventGlobalDelayUpdated = "GLOBAL_DELAY_UPDATED"
)

var (
	ErrNotOwner              = apperrors.New(apperrors.CodeNotAppointmentOwner, "actor does not own this appointment")
	ErrAppointmentNotOngoing = apperrors.New(apperrors.CodeAppointmentNotOngoing, "appointment is not ongoing")
	ErrAppointmentClosed     = apperrors.New(apperrors.CodeAppointmentClosed, "appointment is not accepting bookings")
	ErrQueueFull             = apperrors.New(apperrors.CodeQueueFull, "appointment has no free tokens")
	ErrDuplicateBooking      = apperrors.New(apperrors.CodeDuplicateBooking, "patient already holds a token for this appointment")
	ErrTokenNotFound         = apperrors.New(apperrors.CodeTokenNotFound, "token not found")
	ErrTokenTooEarly         = apperrors.New(apperrors.CodeTokenTooEarly, "token slot has not started yet")
	ErrInvalidTransition     = apperrors.New(apperrors.CodeTokenInvalidTransition, "token cannot move to the requested status")
	ErrQueueEmpty            = apperrors.New(apperrors.CodeQueueEmpty, "no patients waiting")
	ErrAppointmentBusy       = apperrors.New(apperrors.CodeAppointmentBusy, "appointment is being modified, please retry")
	ErrInvalidDelay          = apperrors.New(apperrors.CodeInvalidDelay, "global delay must not be negative")
)

type Service struct {
	repo      Repository
	directory account.Directory
	locker    redisclient.Locker
	cfg       config.Config
	clock     func() time.Time
	retry     db.RetryConfig
}

type Option func(*Service)

// WithClock replaces time.Now as the engine's source of "now".
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithDirectory resolves doctors and patients through d instead of the repository.
func WithDirectory(d account.Directory) Option {
	return func(s *Service) { s.directory = d }
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		directory: repo,
		locker:    locker,
		cfg:       cfg,
		clock:     time.Now,
		retry: db.RetryConfig{
			MaxRetries: cfg.SaveRetries,
			BaseDelay:  20 * time.Millisecond,
			MaxDelay:   250 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the engine clock.
func (s *Service) Now() time.Time { return s.clock() }

// mutation loads an appointment, applies a change and reports whether it
// must be persisted. The change is saved whenever changed is true, even if
// err is also set, so a mutation can record state and still fail the call.
type mutation func(appt *Appointment, now time.Time) (changed bool, err error)

// update runs one read-modify-write of an appointment under its lock and
// retries when the store reports a concurrent save.
func (s *Service) update(ctx context.Context, id uuid.UUID, fn mutation) (*Appointment, error) {
	var result *Appointment
	var fnErr error

	err := s.locker.WithLock(ctx, redisclient.AppointmentKey(id), func(lockCtx context.Context) error {
		return db.Retry(lockCtx, s.retry, isVersionConflict, func() error {
			appt, err := s.repo.GetAppointmentByID(lockCtx, id)
			if err != nil {
				return err
			}

			now := s.clock()
			changed, ferr := fn(appt, now)
			if changed {
				appt.UpdatedAt = now
				if err := s.repo.SaveAppointment(lockCtx, appt); err != nil {
					return err
				}
			}
			result, fnErr = appt, ferr
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrAppointmentBusy
		}
		if errors.Is(err, ErrVersionConflict) || apperrors.CodeOf(err) != apperrors.CodeUnknown {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment %s: %w", id, err)
	}
	return result, fnErr
}

func isVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

func requireOwner(appt *Appointment, actorID uuid.UUID) error {
	if appt.DoctorID != actorID {
		return ErrNotOwner
	}
	return nil
}

func requireOngoing(appt *Appointment) error {
	if appt.Status != StatusOngoing {
		return ErrAppointmentNotOngoing.WithMetadata("status", string(appt.Status))
	}
	return nil
}

// BookToken gives the patient the next token number on the appointment.
func (s *Service) BookToken(ctx context.Context, appointmentID, patientID uuid.UUID) (*Appointment, *Token, error) {
	if _, err := s.directory.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, account.ErrPatientNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load patient: %w", err)
	}

	var booked *Token
	appt, err := s.update(ctx, appointmentID, func(appt *Appointment, now time.Time) (bool, error) {
		if !appt.AcceptsBookings() {
			return false, ErrAppointmentClosed.WithMetadata("status", string(appt.Status))
		}
		if appt.IsFull() {
			return false, ErrQueueFull.WithMetadata("max_patients", fmt.Sprint(appt.MaxPatients))
		}
		if _, ok := appt.TokenForPatient(patientID); ok {
			return false, ErrDuplicateBooking
		}

		number := appt.TokenCount() + 1
		start, end := bookingSlot(appt, number, now)
		booked = &Token{
			ID:                uuid.New(),
			PatientID:         patientID,
			TokenNumber:       number,
			ScheduleStartTime: start,
			ScheduleEndTime:   end,
			Status:            TokenQueued,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		appt.appendToken(booked)
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logEvent(ctx, appt.ID, EventTokenBooked, map[string]any{
		"token_id":       booked.ID.String(),
		"patient_id":     patientID.String(),
		"token_number":   booked.TokenNumber,
		"schedule_start": booked.ScheduleStartTime,
		"schedule_end":   booked.ScheduleEndTime,
	})
	return appt, booked, nil
}

// SweepResult summarizes one pass of SweepLatePenalties.
type SweepResult struct {
	Appointments int
	Penalized    int
	Failed       int
}

// SweepLatePenalties penalizes overdue queued tokens on every ongoing
// appointment with auto-marking enabled. A failure on one appointment is
// logged and collected; the rest are still swept.
func (s *Service) SweepLatePenalties(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	ongoing, err := s.repo.FindAllOngoing(ctx)
	if err != nil {
		return res, fmt.Errorf("find ongoing appointments: %w", err)
	}

	var errs []error
	for _, candidate := range ongoing {
		if !candidate.TokenRules.AutoMarkLateEnabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		var relocations []Relocation
		_, err := s.update(ctx, candidate.ID, func(appt *Appointment, now time.Time) (bool, error) {
			// Status and rules may have moved since the candidate list was read.
			if appt.Status != StatusOngoing || !appt.TokenRules.AutoMarkLateEnabled {
				return false, nil
			}
			relocations = penalizeLate(appt, now, true)
			return len(relocations) > 0, nil
		})
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("appointment %s: %w", candidate.ID, err))
			log.Printf("penalty sweep failed appointment_id=%s err=%v", candidate.ID, err)
			continue
		}

		res.Appointments++
		res.Penalized += len(relocations)
		s.logPenalties(ctx, candidate.ID, "sweep", relocations)
	}

	return res, errors.Join(errs...)
}

// CallResult is the outcome of CallNextPatient.
type CallResult struct {
	Appointment *Appointment
	Token       *Token
	Penalties   []Relocation
}

// CallNextPatient starts the consultation of the head of the serving order.
// A late first queued token is penalized first, whether or not an emergency
// is ahead of it.
func (s *Service) CallNextPatient(ctx context.Context, appointmentID, actorID uuid.UUID) (*CallResult, error) {
	res := &CallResult{}
	appt, err := s.update(ctx, appointmentID, func(appt *Appointment, now time.Time) (bool, error) {
		res.Penalties = nil
		if err := requireOwner(appt, actorID); err != nil {
			return false, err
		}
		if err := requireOngoing(appt); err != nil {
			return false, err
		}

		if len(servingOrder(appt)) == 0 {
			return false, ErrQueueEmpty
		}

		// The first queued token is checked even when an emergency is served.
		// A called token still queued here was a no-show.
		if queued := appt.Queued(); len(queued) > 0 && isLate(queued[0], appt.TokenRules.Grace(), now) {
			res.Penalties = append(res.Penalties, penalize(appt, queued, 0, now))
		}

		order := servingOrder(appt)
		if len(order) == 0 {
			return true, ErrQueueEmpty
		}

		next := order[0]
		next.ConsultationStartTime = &now
		next.UpdatedAt = now
		res.Token = next
		return true, nil
	})
	if len(res.Penalties) > 0 && (err == nil || errors.Is(err, ErrQueueEmpty)) {
		s.logPenalties(ctx, appointmentID, "call_next", res.Penalties)
	}
	if err != nil {
		return nil, err
	}

	res.Appointment = appt
	s.logEvent(ctx, appt.ID, EventTokenCalled, map[string]any{
		"token_id":     res.Token.ID.String(),
		"token_number": res.Token.TokenNumber,
		"status":       res.Token.Status,
		"actor_id":     actorID.String(),
	})
	return res, nil
}

// transitionToken resolves a token on an ongoing appointment owned by
// actorID and moves it to status after checking the status graph.
func (s *Service) transitionToken(ctx context.Context, appointmentID, tokenID, actorID uuid.UUID, to TokenStatus, apply func(t *Token, now time.Time) error) (*Appointment, *Token, error) {
	var token *Token
	appt, err := s.update(ctx, appointmentID, func(appt *Appointment, now time.Time) (bool, error) {
		if err := requireOwner(appt, actorID); err != nil {
			return false, err
		}
		if err := requireOngoing(appt); err != nil {
			return false, err
		}
		t, ok := appt.Token(tokenID)
		if !ok {
			return false, ErrTokenNotFound
		}
		if !CanTransition(t.Status, to) {
			return false, ErrInvalidTransition.
				WithMetadata("from", string(t.Status)).
				WithMetadata("to", string(to))
		}
		if apply != nil {
			if err := apply(t, now); err != nil {
				return false, err
			}
		}
		t.Status = to
		t.UpdatedAt = now
		token = t
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return appt, token, nil
}

// MarkCompleted closes the consultation. The doctor cannot complete a token
// before its slot has started.
func (s *Service) MarkCompleted(ctx context.Context, appointmentID, tokenID, actorID uuid.UUID) (*Appointment, *Token, error) {
	appt, t, err := s.transitionToken(ctx, appointmentID, tokenID, actorID, TokenCompleted, func(t *Token, now time.Time) error {
		if now.Before(t.ScheduleStartTime) {
			return ErrTokenTooEarly.WithMetadata("schedule_start", t.ScheduleStartTime.Format(time.RFC3339))
		}
		if t.ConsultationStartTime == nil {
			t.ConsultationStartTime = &now
		}
		end := now
		t.ConsultationEndTime = &end
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.logEvent(ctx, appt.ID, EventTokenCompleted, map[string]any{
		"token_id":     t.ID.String(),
		"token_number": t.TokenNumber,
		"actor_id":     actorID.String(),
	})
	return appt, t, nil
}

// MarkEmergency moves a token to the front of the serving order. Its slot is left alone.
func (s *Service) MarkEmergency(ctx context.Context, appointmentID, tokenID, actorID uuid.UUID) (*Appointment, *Token, error) {
	appt, t, err := s.transitionToken(ctx, appointmentID, tokenID, actorID, TokenEmergency, nil)
	if err != nil {
		return nil, nil, err
	}
	s.logEvent(ctx, appt.ID, EventTokenEmergency, map[string]any{
		"token_id":     t.ID.String(),
		"token_number": t.TokenNumber,
		"actor_id":     actorID.String(),
	})
	return appt, t, nil
}

func (s *Service) SkipToken(ctx context.Context, appointmentID, tokenID, actorID uuid.UUID) (*Appointment, *Token, error) {
	appt, t, err := s.transitionToken(ctx, appointmentID, tokenID, actorID, TokenSkipped, func(t *Token, now time.Time) error {
		t.ConsultationEndTime = &now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.logEvent(ctx, appt.ID, EventTokenSkipped, map[string]any{
		"token_id":     t.ID.String(),
		"token_number": t.TokenNumber,
		"actor_id":     actorID.String(),
	})
	return appt, t, nil
}

// GetCurrentToken returns the head of the serving order, or nil when nobody is waiting.
func (s *Service) GetCurrentToken(ctx context.Context, appointmentID, actorID uuid.UUID) (*Token, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(appt, actorID); err != nil {
		return nil, err
	}
	order := servingOrder(appt)
	if len(order) == 0 {
		return nil, nil
	}
	return order[0], nil
}

// QueueView is the doctor's view of an appointment queue.
type QueueView struct {
	Appointment *Appointment
	// Tokens lists emergency tokens first, then all others by token number.
	Tokens    []*Token
	Current   *Token
	Penalties []Relocation
}

// GetQueueView returns the queue in display order. On an ongoing appointment
// with auto-marking enabled, overdue queued tokens are penalized first.
func (s *Service) GetQueueView(ctx context.Context, appointmentID, actorID uuid.UUID) (*QueueView, error) {
	view := &QueueView{}
	appt, err := s.update(ctx, appointmentID, func(appt *Appointment, now time.Time) (bool, error) {
		if err := requireOwner(appt, actorID); err != nil {
			return false, err
		}
		if appt.Status != StatusOngoing || !appt.TokenRules.AutoMarkLateEnabled {
			return false, nil
		}
		view.Penalties = penalizeLate(appt, now, false)
		return len(view.Penalties) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	s.logPenalties(ctx, appt.ID, "queue_view", view.Penalties)

	view.Appointment = appt
	view.Tokens = displayOrder(appt)
	if order := servingOrder(appt); len(order) > 0 {
		view.Current = order[0]
	}
	return view, nil
}

// UpdateGlobalDelay records the announced delay. Token slots are not shifted.
func (s *Service) UpdateGlobalDelay(ctx context.Context, appointmentID, actorID uuid.UUID, minutes int) (*Appointment, error) {
	if minutes < 0 {
		return nil, ErrInvalidDelay.WithMetadata("minutes", fmt.Sprint(minutes))
	}

	var previous int
	appt, err := s.update(ctx, appointmentID, func(appt *Appointment, now time.Time) (bool, error) {
		if err := requireOwner(appt, actorID); err != nil {
			return false, err
		}
		previous = appt.GlobalDelay
		if appt.GlobalDelay == minutes {
			return false, nil
		}
		appt.GlobalDelay = minutes
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if previous != minutes {
		s.logEvent(ctx, appt.ID, EventGlobalDelayUpdated, map[string]any{
			"previous_minutes": previous,
			"minutes":          minutes,
			"actor_id":         actorID.String(),
		})
	}
	return appt, nil
}

// AdvanceStatuses moves appointments forward by time using the engine clock.
func (s *Service) AdvanceStatuses(ctx context.Context) (StatusAdvanceResult, error) {
	res, err := s.repo.AdvanceStatuses(ctx, s.clock())
	if err != nil {
		return res, fmt.Errorf("advance statuses: %w", err)
	}
	return res, nil
}

func (s *Service) logPenalties(ctx context.Context, appointmentID uuid.UUID, source string, relocations []Relocation) {
	for _, r := range relocations {
		s.logEvent(ctx, appointmentID, EventTokenPenalized, map[string]any{
			"token_id":       r.TokenID.String(),
			"token_number":   r.TokenNumber,
			"penalty_amount": r.PenaltyAmount,
			"after_token":    r.AfterToken,
			"moved_to_end":   r.MovedToEnd,
			"previous_start": r.PreviousStart,
			"new_start":      r.NewStart,
			"new_end":        r.NewEnd,
			"source":         source,
		})
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
