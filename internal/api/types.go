package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/appointment"
	"github.com/hackgods/token-queue-scheduling/internal/monitor"
)

type ErrorResponse struct {
	Error    string            `json:"error"`
	Details  string            `json:"details,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TokenRulesRequest fields are optional; missing ones take the defaults.
type TokenRulesRequest struct {
	IntervalTimeMinutes *int  `json:"interval_time_minutes"`
	TokenPenaltyAmount  *int  `json:"token_penalty_amount"`
	GracePeriodMinutes  *int  `json:"grace_period_minutes"`
	AutoMarkLateEnabled *bool `json:"auto_mark_late_enabled"`
}

func (r *TokenRulesRequest) rules() *appointment.TokenRules {
	if r == nil {
		return nil
	}
	out := appointment.DefaultTokenRules()
	if r.IntervalTimeMinutes != nil {
		out.IntervalTimeMinutes = *r.IntervalTimeMinutes
	}
	if r.TokenPenaltyAmount != nil {
		out.TokenPenaltyAmount = *r.TokenPenaltyAmount
	}
	if r.GracePeriodMinutes != nil {
		out.GracePeriodMinutes = *r.GracePeriodMinutes
	}
	if r.AutoMarkLateEnabled != nil {
		out.AutoMarkLateEnabled = *r.AutoMarkLateEnabled
	}
	return &out
}

type CreateAppointmentRequest struct {
	Title       string             `json:"title"`
	Date        string             `json:"date,omitempty"` // YYYY-MM-DD
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	MaxPatients int                `json:"max_patients"`
	TokenRules  *TokenRulesRequest `json:"token_rules,omitempty"`
}

type UpdateDelayRequest struct {
	Minutes *int `json:"minutes"`
}

type TokenRulesResponse struct {
	IntervalTimeMinutes int  `json:"interval_time_minutes"`
	TokenPenaltyAmount  int  `json:"token_penalty_amount"`
	GracePeriodMinutes  int  `json:"grace_period_minutes"`
	AutoMarkLateEnabled bool `json:"auto_mark_late_enabled"`
}

type TokenResponse struct {
	ID                    uuid.UUID  `json:"id"`
	PatientID             uuid.UUID  `json:"patient_id"`
	TokenNumber           int        `json:"token_number"`
	ScheduleStartTime     time.Time  `json:"schedule_start_time"`
	ScheduleEndTime       time.Time  `json:"schedule_end_time"`
	Status                string     `json:"status"`
	PenaltyCount          int        `json:"penalty_count"`
	ConsultationStartTime *time.Time `json:"consultation_start_time,omitempty"`
	ConsultationEndTime   *time.Time `json:"consultation_end_time,omitempty"`
}

type AppointmentResponse struct {
	ID          uuid.UUID          `json:"id"`
	Title       string             `json:"title"`
	DoctorID    uuid.UUID          `json:"doctor_id"`
	MaxPatients int                `json:"max_patients"`
	Date        string             `json:"date"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	Status      string             `json:"status"`
	GlobalDelay int                `json:"global_delay"`
	TokenRules  TokenRulesResponse `json:"token_rules"`
	TokenCount  int                `json:"token_count"`
	Version     int64              `json:"version"`
}

type RelocationResponse struct {
	TokenID       uuid.UUID `json:"token_id"`
	TokenNumber   int       `json:"token_number"`
	PenaltyAmount int       `json:"penalty_amount"`
	AfterToken    int       `json:"after_token"`
	MovedToEnd    bool      `json:"moved_to_end"`
	NewStart      time.Time `json:"new_start"`
	NewEnd        time.Time `json:"new_end"`
}

type BookTokenResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Token       TokenResponse       `json:"token"`
}

type CallNextResponse struct {
	Token     TokenResponse        `json:"token"`
	Penalties []RelocationResponse `json:"penalties"`
}

type QueueResponse struct {
	Appointment AppointmentResponse  `json:"appointment"`
	Tokens      []TokenResponse      `json:"tokens"`
	Current     *TokenResponse       `json:"current"`
	Penalties   []RelocationResponse `json:"penalties"`
}

type CurrentTokenResponse struct {
	Current *TokenResponse `json:"current"`
}

type DayStatsResponse struct {
	DoctorID                   uuid.UUID `json:"doctor_id"`
	Date                       string    `json:"date"`
	Appointments               int       `json:"appointments"`
	CompletedAppointments      int       `json:"completed_appointments"`
	TotalTokens                int       `json:"total_tokens"`
	CompletedTokens            int       `json:"completed_tokens"`
	EmergencyTokens            int       `json:"emergency_tokens"`
	SkippedTokens              int       `json:"skipped_tokens"`
	LateTokens                 int       `json:"late_tokens"`
	AverageConsultationSeconds float64   `json:"average_consultation_seconds"`
}

type BookableResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Booked      int                 `json:"booked"`
	Available   int                 `json:"available"`
}

type PatientTokenResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Token       TokenResponse       `json:"token"`
}

type PatientTokenCountsResponse struct {
	Total     int `json:"total_tokens"`
	Queued    int `json:"queued_tokens"`
	Completed int `json:"completed_tokens"`
	Skipped   int `json:"skipped_tokens"`
	Emergency int `json:"emergency_tokens"`
	Late      int `json:"late_tokens"`
}

type TickResponse struct {
	Skipped             bool   `json:"skipped"`
	CompletedCount      int64  `json:"completed_count"`
	OngoingCount        int64  `json:"ongoing_count"`
	AdvanceError        string `json:"advance_error,omitempty"`
	SweptAppointments   int    `json:"swept_appointments"`
	Penalized           int    `json:"penalized"`
	FailedAppointments  int    `json:"failed_appointments"`
	SweepError          string `json:"sweep_error,omitempty"`
	DurationMillisecond int64  `json:"duration_ms"`
}

func toTokenResponse(t *appointment.Token) TokenResponse {
	return TokenResponse{
		ID:                    t.ID,
		PatientID:             t.PatientID,
		TokenNumber:           t.TokenNumber,
		ScheduleStartTime:     t.ScheduleStartTime,
		ScheduleEndTime:       t.ScheduleEndTime,
		Status:                string(t.Status),
		PenaltyCount:          t.PenaltyCount,
		ConsultationStartTime: t.ConsultationStartTime,
		ConsultationEndTime:   t.ConsultationEndTime,
	}
}

func toOptionalToken(t *appointment.Token) *TokenResponse {
	if t == nil {
		return nil
	}
	resp := toTokenResponse(t)
	return &resp
}

func toTokenResponses(tokens []*appointment.Token) []TokenResponse {
	out := make([]TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, toTokenResponse(t))
	}
	return out
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		Title:       a.Title,
		DoctorID:    a.DoctorID,
		MaxPatients: a.MaxPatients,
		Date:        a.Date.Format(time.DateOnly),
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		Status:      string(a.Status),
		GlobalDelay: a.GlobalDelay,
		TokenRules: TokenRulesResponse{
			IntervalTimeMinutes: a.TokenRules.IntervalTimeMinutes,
			TokenPenaltyAmount:  a.TokenRules.TokenPenaltyAmount,
			GracePeriodMinutes:  a.TokenRules.GracePeriodMinutes,
			AutoMarkLateEnabled: a.TokenRules.AutoMarkLateEnabled,
		},
		TokenCount: a.TokenCount(),
		Version:    a.Version,
	}
}

func toRelocationResponses(rs []appointment.Relocation) []RelocationResponse {
	out := make([]RelocationResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, RelocationResponse{
			TokenID:       r.TokenID,
			TokenNumber:   r.TokenNumber,
			PenaltyAmount: r.PenaltyAmount,
			AfterToken:    r.AfterToken,
			MovedToEnd:    r.MovedToEnd,
			NewStart:      r.NewStart,
			NewEnd:        r.NewEnd,
		})
	}
	return out
}

func toDayStatsResponse(s appointment.DayStats) DayStatsResponse {
	return DayStatsResponse{
		DoctorID:                   s.DoctorID,
		Date:                       s.Date.Format(time.DateOnly),
		Appointments:               s.Appointments,
		CompletedAppointments:      s.CompletedAppointments,
		TotalTokens:                s.TotalTokens,
		CompletedTokens:            s.CompletedTokens,
		EmergencyTokens:            s.EmergencyTokens,
		SkippedTokens:              s.SkippedTokens,
		LateTokens:                 s.LateTokens,
		AverageConsultationSeconds: s.AverageConsultation.Seconds(),
	}
}

func toPatientTokenResponses(list []appointment.PatientToken) []PatientTokenResponse {
	out := make([]PatientTokenResponse, 0, len(list))
	for _, pt := range list {
		out = append(out, PatientTokenResponse{
			Appointment: toAppointmentResponse(pt.Appointment),
			Token:       toTokenResponse(pt.Token),
		})
	}
	return out
}

func toPatientTokenCountsResponse(c appointment.PatientTokenCounts) PatientTokenCountsResponse {
	return PatientTokenCountsResponse{
		Total:     c.Total,
		Queued:    c.Queued,
		Completed: c.Completed,
		Skipped:   c.Skipped,
		Emergency: c.Emergency,
		Late:      c.Late,
	}
}

func toTickResponse(res monitor.TickResult) TickResponse {
	resp := TickResponse{
		Skipped:             res.Skipped,
		CompletedCount:      res.Advance.CompletedCount,
		OngoingCount:        res.Advance.OngoingCount,
		SweptAppointments:   res.Sweep.Appointments,
		Penalized:           res.Sweep.Penalized,
		FailedAppointments:  res.Sweep.Failed,
		DurationMillisecond: res.Duration.Milliseconds(),
	}
	if res.AdvanceErr != nil {
		resp.AdvanceError = res.AdvanceErr.Error()
	}
	if res.SweepErr != nil {
		resp.SweepError = res.SweepErr.Error()
	}
	return resp
}
