package appointment

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

// memAppointment builds an ongoing appointment starting at 10:00 with n
// queued tokens booked at 09:00 on consecutive slots.
func memAppointment(n int, r TokenRules) *Appointment {
	a := &Appointment{
		ID:          uuid.New(),
		MaxPatients: n,
		StartTime:   at(10, 0),
		EndTime:     at(10, 0).Add(time.Duration(n) * r.Interval()),
		Status:      StatusOngoing,
		TokenRules:  r,
	}
	tokens := make([]*Token, n)
	for i := range tokens {
		start := a.StartTime.Add(time.Duration(i) * r.Interval())
		tokens[i] = &Token{
			ID:                uuid.New(),
			PatientID:         uuid.New(),
			TokenNumber:       i + 1,
			ScheduleStartTime: start,
			ScheduleEndTime:   start.Add(r.Interval()),
			Status:            TokenQueued,
			CreatedAt:         at(9, 0),
		}
	}
	a.SetTokens(tokens)
	return a
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TokenStatus
		want     bool
	}{
		{TokenQueued, TokenLatePenalty, true},
		{TokenQueued, TokenEmergency, true},
		{TokenQueued, TokenCompleted, true},
		{TokenQueued, TokenSkipped, true},
		{TokenLatePenalty, TokenCompleted, true},
		{TokenLatePenalty, TokenEmergency, true},
		{TokenEmergency, TokenCompleted, true},
		{TokenEmergency, TokenSkipped, true},
		{TokenLatePenalty, TokenQueued, false},
		{TokenEmergency, TokenLatePenalty, false},
		{TokenCompleted, TokenSkipped, false},
		{TokenSkipped, TokenCompleted, false},
		{TokenCompleted, TokenQueued, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestSetTokensSortsAndIndexes(t *testing.T) {
	a := &Appointment{}
	t3 := &Token{ID: uuid.New(), TokenNumber: 3}
	t1 := &Token{ID: uuid.New(), TokenNumber: 1}
	t2 := &Token{ID: uuid.New(), TokenNumber: 2}
	a.SetTokens([]*Token{t3, t1, t2})

	if got := tokenNumbers(a.Tokens()); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("token order = %v, want [1 2 3]", got)
	}
	if got, ok := a.Token(t2.ID); !ok || got != t2 {
		t.Fatalf("Token(t2) = %v, %v", got, ok)
	}
	if last, _ := a.LastToken(); last != t3 {
		t.Fatalf("LastToken = #%d, want #3", last.TokenNumber)
	}
}

func TestServingAndDisplayOrder(t *testing.T) {
	a := memAppointment(5, *rules(10, 1, 5))
	tokens := a.Tokens()
	tokens[0].Status = TokenCompleted
	tokens[1].Status = TokenLatePenalty
	tokens[3].Status = TokenEmergency
	tokens[4].Status = TokenEmergency

	if got := tokenNumbers(servingOrder(a)); !reflect.DeepEqual(got, []int{4, 5, 3}) {
		t.Errorf("servingOrder = %v, want [4 5 3]", got)
	}
	if got := tokenNumbers(displayOrder(a)); !reflect.DeepEqual(got, []int{4, 5, 1, 2, 3}) {
		t.Errorf("displayOrder = %v, want [4 5 1 2 3]", got)
	}
}

func TestBookingSlot(t *testing.T) {
	r := *rules(10, 1, 5)

	t.Run("ideal start in the future", func(t *testing.T) {
		a := memAppointment(0, r)
		a.Status = StatusScheduled
		start, end := bookingSlot(a, 3, at(9, 0))
		if !start.Equal(at(10, 20)) || !end.Equal(at(10, 30)) {
			t.Fatalf("slot = [%v, %v), want [10:20, 10:30)", start, end)
		}
	})

	t.Run("ongoing and past ideal start follows the last queued token", func(t *testing.T) {
		a := memAppointment(2, r)
		// #2 was itself booked late and runs 10:25-10:35.
		late := a.Tokens()[1]
		late.ScheduleStartTime, late.ScheduleEndTime = at(10, 25), at(10, 35)

		start, end := bookingSlot(a, 3, at(10, 27))
		if !start.Equal(at(10, 35)) || !end.Equal(at(10, 45)) {
			t.Fatalf("slot = [%v, %v), want [10:35, 10:45)", start, end)
		}
	})

	t.Run("ongoing with nobody waiting starts now", func(t *testing.T) {
		a := memAppointment(2, r)
		for _, tok := range a.Tokens() {
			tok.Status = TokenCompleted
		}
		start, end := bookingSlot(a, 3, at(10, 45))
		if !start.Equal(at(10, 45)) || !end.Equal(at(10, 55)) {
			t.Fatalf("slot = [%v, %v), want [10:45, 10:55)", start, end)
		}
	})

	t.Run("scheduled with past ideal start keeps ideal", func(t *testing.T) {
		a := memAppointment(0, r)
		a.Status = StatusScheduled
		start, _ := bookingSlot(a, 2, at(10, 30))
		if !start.Equal(at(10, 10)) {
			t.Fatalf("start = %v, want 10:10", start)
		}
	})
}

func TestPenalizeTargetsPthRemainingToken(t *testing.T) {
	// Grace 5, penalty 2: at 10:16 token #1 (ends 10:10) is late and moves
	// one minute past the second remaining queued token (#3, ends 10:30).
	a := memAppointment(5, *rules(10, 2, 5))

	relocs := penalizeLate(a, at(10, 16), true)
	if len(relocs) != 1 {
		t.Fatalf("relocations = %d, want 1", len(relocs))
	}
	r := relocs[0]
	if r.TokenNumber != 1 || r.AfterToken != 3 || r.MovedToEnd {
		t.Fatalf("relocation = %+v, want token 1 after token 3", r)
	}

	tok := tokenByNumber(t, a, 1)
	if tok.Status != TokenLatePenalty || tok.PenaltyCount != 2 {
		t.Fatalf("token #1 status=%s penalty=%d", tok.Status, tok.PenaltyCount)
	}
	if !tok.ScheduleStartTime.Equal(at(10, 31)) || !tok.ScheduleEndTime.Equal(at(10, 41)) {
		t.Fatalf("token #1 slot = [%v, %v), want [10:31, 10:41)", tok.ScheduleStartTime, tok.ScheduleEndTime)
	}
}

func TestPenalizeClampsTargetToLastRemaining(t *testing.T) {
	a := memAppointment(3, *rules(10, 5, 0))

	// Only #1 is late at 10:11; two tokens remain so the target is #3.
	relocs := penalizeLate(a, at(10, 11), true)
	if len(relocs) != 1 || relocs[0].AfterToken != 3 {
		t.Fatalf("relocations = %+v, want one after token 3", relocs)
	}
	if got := tokenByNumber(t, a, 1).ScheduleStartTime; !got.Equal(at(10, 31)) {
		t.Fatalf("new start = %v, want 10:31", got)
	}
}

func TestPenalizeLoneTokenMovesToEnd(t *testing.T) {
	a := memAppointment(3, *rules(10, 1, 5))
	tokens := a.Tokens()
	tokens[0].Status = TokenCompleted
	tokens[1].Status = TokenCompleted

	// #3 ends at 10:30 and is the last token, so it restarts at its own end.
	relocs := penalizeLate(a, at(10, 40), true)
	if len(relocs) != 1 || !relocs[0].MovedToEnd {
		t.Fatalf("relocations = %+v, want one moved to end", relocs)
	}
	if !tokens[2].ScheduleStartTime.Equal(at(10, 30)) || !tokens[2].ScheduleEndTime.Equal(at(10, 40)) {
		t.Fatalf("slot = [%v, %v), want [10:30, 10:40)", tokens[2].ScheduleStartTime, tokens[2].ScheduleEndTime)
	}
}

func TestPenalizeRelocationInvariant(t *testing.T) {
	for _, penalty := range []int{1, 2, 3, 7} {
		r := *rules(10, penalty, 2)
		a := memAppointment(6, r)
		ends := map[int]time.Time{}
		for _, tok := range a.Tokens() {
			ends[tok.TokenNumber] = tok.ScheduleEndTime
		}

		// At 10:35 tokens #1..#3 are past end+grace.
		relocs := penalizeLate(a, at(10, 35), true)
		if len(relocs) != 3 {
			t.Fatalf("penalty %d: relocations = %d, want 3", penalty, len(relocs))
		}
		for _, rel := range relocs {
			if rel.NewEnd.Sub(rel.NewStart) != r.Interval() {
				t.Errorf("penalty %d: token #%d window %v, want %v", penalty, rel.TokenNumber, rel.NewEnd.Sub(rel.NewStart), r.Interval())
			}
			if rel.NewStart.Before(ends[rel.AfterToken]) {
				t.Errorf("penalty %d: token #%d starts %v before target #%d ends %v", penalty, rel.TokenNumber, rel.NewStart, rel.AfterToken, ends[rel.AfterToken])
			}
		}
	}
}

func TestPenalizeLateCreationGuard(t *testing.T) {
	a := memAppointment(2, *rules(10, 1, 5))
	tokens := a.Tokens()
	// Booked at 10:14, three minutes ago: inside grace, so the sweep leaves it alone.
	tokens[0].CreatedAt = at(10, 14)

	if relocs := penalizeLate(a, at(10, 17), true); len(relocs) != 0 {
		t.Fatalf("sweep relocations = %d, want 0", len(relocs))
	}
	if relocs := penalizeLate(a, at(10, 17), false); len(relocs) != 1 {
		t.Fatalf("inline relocations = %d, want 1", len(relocs))
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := memAppointment(2, *rules(10, 1, 5))
	now := at(10, 0)
	a.Tokens()[0].ConsultationStartTime = &now

	cp := a.Clone()
	cp.Tokens()[0].Status = TokenCompleted
	*cp.Tokens()[0].ConsultationStartTime = at(11, 0)

	if a.Tokens()[0].Status != TokenQueued {
		t.Fatal("clone shares token structs")
	}
	if !a.Tokens()[0].ConsultationStartTime.Equal(now) {
		t.Fatal("clone shares consultation timestamps")
	}
}
