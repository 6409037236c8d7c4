package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusOngoing   AppointmentStatus = "ongoing"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

type TokenStatus string

const (
	TokenQueued      TokenStatus = "queued"
	TokenCompleted   TokenStatus = "completed"
	TokenSkipped     TokenStatus = "skipped"
	TokenLatePenalty TokenStatus = "late_penalty"
	TokenEmergency   TokenStatus = "emergency"
)

// tokenTransitions lists the statuses a token may move to. Nothing returns to queued.
var tokenTransitions = map[TokenStatus][]TokenStatus{
	TokenQueued:      {TokenLatePenalty, TokenEmergency, TokenCompleted, TokenSkipped},
	TokenLatePenalty: {TokenEmergency, TokenCompleted, TokenSkipped},
	TokenEmergency:   {TokenCompleted, TokenSkipped},
}

// CanTransition reports whether a token in status from may move to status to.
func CanTransition(from, to TokenStatus) bool {
	for _, s := range tokenTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const (
	DefaultIntervalTimeMinutes = 5
	DefaultTokenPenaltyAmount  = 1
	DefaultGracePeriodMinutes  = 5

	MinIntervalTimeMinutes = 2
	MinTokenPenaltyAmount  = 1
)

// TokenRules are fixed when the appointment is created.
type TokenRules struct {
	IntervalTimeMinutes int
	TokenPenaltyAmount  int
	GracePeriodMinutes  int
	AutoMarkLateEnabled bool
}

func DefaultTokenRules() TokenRules {
	return TokenRules{
		IntervalTimeMinutes: DefaultIntervalTimeMinutes,
		TokenPenaltyAmount:  DefaultTokenPenaltyAmount,
		GracePeriodMinutes:  DefaultGracePeriodMinutes,
		AutoMarkLateEnabled: true,
	}
}

func (r TokenRules) Interval() time.Duration {
	return time.Duration(r.IntervalTimeMinutes) * time.Minute
}

func (r TokenRules) Grace() time.Duration {
	return time.Duration(r.GracePeriodMinutes) * time.Minute
}

type Token struct {
	ID                    uuid.UUID
	PatientID             uuid.UUID
	TokenNumber           int
	ScheduleStartTime     time.Time
	ScheduleEndTime       time.Time
	Status                TokenStatus
	PenaltyCount          int
	ConsultationStartTime *time.Time
	ConsultationEndTime   *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// InConsultation reports whether the doctor has called the token and not
// yet closed it.
func (t *Token) InConsultation() bool {
	return t.ConsultationStartTime != nil && t.ConsultationEndTime == nil
}

// Appointment is the aggregate root: the appointment row plus its token queue.
// Tokens are kept in booking order (ascending TokenNumber) and indexed by id.
type Appointment struct {
	ID          uuid.UUID
	Title       string
	DoctorID    uuid.UUID
	MaxPatients int
	Date        time.Time
	StartTime   time.Time
	EndTime     time.Time
	Status      AppointmentStatus
	GlobalDelay int
	TokenRules  TokenRules
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	tokens []*Token
	byID   map[uuid.UUID]*Token
}

// SetTokens replaces the token list, sorting by TokenNumber and rebuilding the index.
func (a *Appointment) SetTokens(tokens []*Token) {
	a.tokens = make([]*Token, len(tokens))
	copy(a.tokens, tokens)
	sortByTokenNumber(a.tokens)
	a.byID = make(map[uuid.UUID]*Token, len(a.tokens))
	for _, t := range a.tokens {
		a.byID[t.ID] = t
	}
}

// Tokens returns the tokens in booking order. The slice is a copy; the tokens are not.
func (a *Appointment) Tokens() []*Token {
	out := make([]*Token, len(a.tokens))
	copy(out, a.tokens)
	return out
}

func (a *Appointment) TokenCount() int { return len(a.tokens) }

// Token looks a token up by id.
func (a *Appointment) Token(id uuid.UUID) (*Token, bool) {
	t, ok := a.byID[id]
	return t, ok
}

// TokenForPatient returns the patient's token on this appointment, if any.
func (a *Appointment) TokenForPatient(patientID uuid.UUID) (*Token, bool) {
	for _, t := range a.tokens {
		if t.PatientID == patientID {
			return t, true
		}
	}
	return nil, false
}

// LastToken is the token with the highest TokenNumber, regardless of status.
func (a *Appointment) LastToken() (*Token, bool) {
	if len(a.tokens) == 0 {
		return nil, false
	}
	return a.tokens[len(a.tokens)-1], true
}

func (a *Appointment) appendToken(t *Token) {
	if a.byID == nil {
		a.byID = make(map[uuid.UUID]*Token)
	}
	a.tokens = append(a.tokens, t)
	a.byID[t.ID] = t
}

// Queued returns tokens still waiting in booking order.
func (a *Appointment) Queued() []*Token {
	return a.withStatus(TokenQueued)
}

func (a *Appointment) withStatus(status TokenStatus) []*Token {
	var out []*Token
	for _, t := range a.tokens {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

func (a *Appointment) IsFull() bool {
	return len(a.tokens) >= a.MaxPatients
}

func (a *Appointment) AcceptsBookings() bool {
	return a.Status == StatusScheduled || a.Status == StatusOngoing
}

// Clone returns a deep copy so callers can mutate without touching cached state.
func (a *Appointment) Clone() *Appointment {
	cp := *a
	tokens := make([]*Token, len(a.tokens))
	for i, t := range a.tokens {
		tc := *t
		if t.ConsultationStartTime != nil {
			v := *t.ConsultationStartTime
			tc.ConsultationStartTime = &v
		}
		if t.ConsultationEndTime != nil {
			v := *t.ConsultationEndTime
			tc.ConsultationEndTime = &v
		}
		tokens[i] = &tc
	}
	cp.SetTokens(tokens)
	return &cp
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// StatusAdvanceResult counts appointments moved by one bulk status update.
type StatusAdvanceResult struct {
	CompletedCount int64
	OngoingCount   int64
	Timestamp      time.Time
}
