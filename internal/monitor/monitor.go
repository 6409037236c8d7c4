// Package monitor drives appointment lifecycle jobs on a fixed period.
package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hackgods/token-queue-scheduling/internal/appointment"
)

var ErrAlreadyStarted = errors.New("monitor already started")

// Jobs are the two lifecycle jobs run on every tick.
type Jobs interface {
	AdvanceStatuses(ctx context.Context) (appointment.StatusAdvanceResult, error)
	SweepLatePenalties(ctx context.Context) (appointment.SweepResult, error)
}

// TickResult reports what one tick did. Job errors are recorded, never returned.
type TickResult struct {
	Skipped    bool
	Advance    appointment.StatusAdvanceResult
	AdvanceErr error
	Sweep      appointment.SweepResult
	SweepErr   error
	Duration   time.Duration
}

// Monitor owns the periodic status advance and penalty sweep. Ticks never
// overlap: a tick requested while another is in flight is skipped.
type Monitor struct {
	jobs       Jobs
	interval   time.Duration
	runTimeout time.Duration

	inFlight atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(jobs Jobs, interval, runTimeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{jobs: jobs, interval: interval, runTimeout: runTimeout}
}

// Run ticks once immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	log.Printf("lifecycle monitor running interval=%s", m.interval)

	m.Tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("lifecycle monitor stopping")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Start runs the monitor in a background goroutine.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	go func() {
		defer close(done)
		m.Run(runCtx)
	}()
	return nil
}

// Stop cancels a started monitor and waits for the current tick to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick runs the status advance and then the penalty sweep. A failing job
// is logged and the other still runs.
func (m *Monitor) Tick(ctx context.Context) TickResult {
	if !m.inFlight.CompareAndSwap(false, true) {
		log.Println("lifecycle tick skipped, previous tick still running")
		return TickResult{Skipped: true}
	}
	defer m.inFlight.Store(false)

	if m.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.runTimeout)
		defer cancel()
	}

	start := time.Now()
	var res TickResult

	res.Advance, res.AdvanceErr = m.jobs.AdvanceStatuses(ctx)
	if res.AdvanceErr != nil {
		log.Printf("status advance error: %v", res.AdvanceErr)
	} else if res.Advance.CompletedCount > 0 || res.Advance.OngoingCount > 0 {
		log.Printf("status advance completed=%d ongoing=%d", res.Advance.CompletedCount, res.Advance.OngoingCount)
	}

	res.Sweep, res.SweepErr = m.jobs.SweepLatePenalties(ctx)
	if res.SweepErr != nil {
		log.Printf("penalty sweep error: appointments=%d failed=%d err=%v", res.Sweep.Appointments, res.Sweep.Failed, res.SweepErr)
	} else if res.Sweep.Penalized > 0 {
		log.Printf("penalty sweep appointments=%d penalized=%d", res.Sweep.Appointments, res.Sweep.Penalized)
	}

	res.Duration = time.Since(start)
	return res
}
