package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// bookableHorizon bounds how far ahead ListBookable looks.
const bookableHorizon = 30 * 24 * time.Hour

// DayStats aggregates one doctor's appointments on one calendar day.
type DayStats struct {
	DoctorID              uuid.UUID
	Date                  time.Time
	Appointments          int
	CompletedAppointments int
	TotalTokens           int
	CompletedTokens       int
	EmergencyTokens       int
	SkippedTokens         int
	LateTokens            int
	// AverageConsultation is measured over completed tokens with both timestamps.
	AverageConsultation time.Duration
}

func (s *Service) DoctorDayStats(ctx context.Context, doctorID uuid.UUID, day time.Time) (DayStats, error) {
	from, to := dayBounds(day, s.cfg.Location())
	stats := DayStats{DoctorID: doctorID, Date: from}

	appts, err := s.repo.FindByDoctorAndDateRange(ctx, doctorID, from, to)
	if err != nil {
		return stats, fmt.Errorf("load doctor appointments: %w", err)
	}

	var consultTotal time.Duration
	var consultCount int
	for _, a := range appts {
		stats.Appointments++
		if a.Status == StatusCompleted {
			stats.CompletedAppointments++
		}
		for _, t := range a.tokens {
			stats.TotalTokens++
			switch t.Status {
			case TokenCompleted:
				stats.CompletedTokens++
				if t.ConsultationStartTime != nil && t.ConsultationEndTime != nil {
					consultTotal += t.ConsultationEndTime.Sub(*t.ConsultationStartTime)
					consultCount++
				}
			case TokenEmergency:
				stats.EmergencyTokens++
			case TokenSkipped:
				stats.SkippedTokens++
			case TokenLatePenalty:
				stats.LateTokens++
			}
		}
	}
	if consultCount > 0 {
		stats.AverageConsultation = consultTotal / time.Duration(consultCount)
	}
	return stats, nil
}

// Bookable is an appointment patients can still take a token on.
type Bookable struct {
	Appointment *Appointment
	Booked      int
	Available   int
}

// ListBookable returns the doctor's scheduled or ongoing appointments from
// today onward that have free tokens and have not ended.
func (s *Service) ListBookable(ctx context.Context, doctorID uuid.UUID) ([]Bookable, error) {
	now := s.clock()
	from, _ := dayBounds(now, s.cfg.Location())

	appts, err := s.repo.FindByDoctorAndDateRange(ctx, doctorID, from, from.Add(bookableHorizon))
	if err != nil {
		return nil, fmt.Errorf("load doctor appointments: %w", err)
	}

	out := make([]Bookable, 0, len(appts))
	for _, a := range appts {
		if !a.AcceptsBookings() || a.IsFull() || !a.EndTime.After(now) {
			continue
		}
		out = append(out, Bookable{
			Appointment: a,
			Booked:      a.TokenCount(),
			Available:   a.MaxPatients - a.TokenCount(),
		})
	}
	return out, nil
}

// PatientToken is one of a patient's tokens with the appointment holding it.
type PatientToken struct {
	Appointment *Appointment
	Token       *Token
}

// PatientTokens lists the patient's tokens across all appointments, ordered
// by appointment start. Schedule times reflect any penalty relocation.
func (s *Service) PatientTokens(ctx context.Context, patientID uuid.UUID) ([]PatientToken, error) {
	if _, err := s.directory.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}
	appts, err := s.repo.FindByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient appointments: %w", err)
	}

	out := make([]PatientToken, 0, len(appts))
	for _, a := range appts {
		if t, ok := a.TokenForPatient(patientID); ok {
			out = append(out, PatientToken{Appointment: a, Token: t})
		}
	}
	return out, nil
}

// PatientTokenCounts tallies the patient's tokens by status.
type PatientTokenCounts struct {
	Total     int
	Queued    int
	Completed int
	Skipped   int
	Emergency int
	Late      int
}

func (s *Service) PatientTokenCounts(ctx context.Context, patientID uuid.UUID) (PatientTokenCounts, error) {
	var counts PatientTokenCounts
	tokens, err := s.PatientTokens(ctx, patientID)
	if err != nil {
		return counts, err
	}
	for _, pt := range tokens {
		counts.Total++
		switch pt.Token.Status {
		case TokenQueued:
			counts.Queued++
		case TokenCompleted:
			counts.Completed++
		case TokenSkipped:
			counts.Skipped++
		case TokenEmergency:
			counts.Emergency++
		case TokenLatePenalty:
			counts.Late++
		}
	}
	return counts, nil
}
