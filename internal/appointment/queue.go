package appointment

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

func sortByTokenNumber(tokens []*Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].TokenNumber < tokens[j].TokenNumber
	})
}

// servingOrder is the order patients are seen in: emergency tokens first,
// then queued tokens, each by token number. Penalized, completed and
// skipped tokens are never served from here.
func servingOrder(a *Appointment) []*Token {
	order := a.withStatus(TokenEmergency)
	return append(order, a.Queued()...)
}

// displayOrder puts emergency tokens on top and keeps everything else by token number.
func displayOrder(a *Appointment) []*Token {
	tokens := a.Tokens()
	sort.SliceStable(tokens, func(i, j int) bool {
		ei := tokens[i].Status == TokenEmergency
		ej := tokens[j].Status == TokenEmergency
		if ei != ej {
			return ei
		}
		return tokens[i].TokenNumber < tokens[j].TokenNumber
	})
	return tokens
}

// bookingSlot places token n at start + (n-1)*interval. When that moment has
// already passed on a running appointment the slot starts after the last
// queued token, or now if nobody is waiting.
func bookingSlot(a *Appointment, tokenNumber int, now time.Time) (time.Time, time.Time) {
	interval := a.TokenRules.Interval()
	start := a.StartTime.Add(time.Duration(tokenNumber-1) * interval)

	if start.Before(now) && a.Status == StatusOngoing {
		start = now
		for _, t := range a.Queued() {
			if t.ScheduleEndTime.After(start) {
				start = t.ScheduleEndTime
			}
		}
	}
	return start, start.Add(interval)
}

func isLate(t *Token, grace time.Duration, now time.Time) bool {
	return now.After(t.ScheduleEndTime.Add(grace))
}

// Relocation records one late token being pushed back down the queue.
type Relocation struct {
	TokenID       uuid.UUID
	TokenNumber   int
	PenaltyAmount int
	// AfterToken is the token number the late token now follows.
	AfterToken    int
	MovedToEnd    bool
	PreviousStart time.Time
	PreviousEnd   time.Time
	NewStart      time.Time
	NewEnd        time.Time
}

// penalize marks queued[idx] late and reschedules it behind the P-th token
// still queued after it, or behind the last token of the appointment when
// nobody is left. The token keeps its number; only its window moves.
func penalize(a *Appointment, queued []*Token, idx int, now time.Time) Relocation {
	t := queued[idx]
	rules := a.TokenRules
	remaining := queued[idx+1:]

	reloc := Relocation{
		TokenID:       t.ID,
		TokenNumber:   t.TokenNumber,
		PenaltyAmount: rules.TokenPenaltyAmount,
		PreviousStart: t.ScheduleStartTime,
		PreviousEnd:   t.ScheduleEndTime,
	}

	if len(remaining) > 0 {
		target := remaining[min(rules.TokenPenaltyAmount-1, len(remaining)-1)]
		reloc.AfterToken = target.TokenNumber
		reloc.NewStart = target.ScheduleEndTime.Add(time.Minute)
	} else {
		last, _ := a.LastToken()
		reloc.AfterToken = last.TokenNumber
		reloc.MovedToEnd = true
		reloc.NewStart = last.ScheduleEndTime
	}
	reloc.NewEnd = reloc.NewStart.Add(rules.Interval())

	t.Status = TokenLatePenalty
	t.PenaltyCount = rules.TokenPenaltyAmount
	t.ScheduleStartTime = reloc.NewStart
	t.ScheduleEndTime = reloc.NewEnd
	t.UpdatedAt = now
	return reloc
}

// penalizeLate walks the queued tokens in booking order and penalizes each
// one whose window plus grace has passed. A token already called by the
// doctor is never penalized. requireBookedEarly additionally
// skips tokens booked within the grace period, so a fresh late booking is
// not punished for a slot it never had a chance to make.
func penalizeLate(a *Appointment, now time.Time, requireBookedEarly bool) []Relocation {
	grace := a.TokenRules.Grace()
	queued := a.Queued()

	var out []Relocation
	for i, t := range queued {
		if t.InConsultation() || !isLate(t, grace, now) {
			continue
		}
		if requireBookedEarly && now.Sub(t.CreatedAt) <= grace {
			continue
		}
		out = append(out, penalize(a, queued, i, now))
	}
	return out
}
