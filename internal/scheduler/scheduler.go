// Package scheduler drives refresh cycles on a fixed set of cadences.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"marketwatch/internal/metrics"
)

type State string

const (
	Stopped State = "STOPPED"
	Running State = "RUNNING"
)

var allowedIntervals = []int{15, 30, 60, 120}

var (
	ErrInvalidInterval = errors.New("invalid refresh interval")
	ErrAlreadyRunning  = errors.New("scheduler already running")
	ErrBusy            = errors.New("refresh cycle already in flight")
)

type ConfigError struct {
	IntervalSec int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("refresh interval %ds not in %v", e.IntervalSec, allowedIntervals)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidInterval }

// AllowedIntervals returns the accepted cadences in seconds.
func AllowedIntervals() []int { return slices.Clone(allowedIntervals) }

func ValidateInterval(sec int) error {
	if !slices.Contains(allowedIntervals, sec) {
		return &ConfigError{IntervalSec: sec}
	}
	return nil
}

// CycleFunc runs one refresh. It must return once ctx is cancelled.
type CycleFunc func(ctx context.Context)

type Option func(*Scheduler)

func WithClock(c Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// Status is a point-in-time view for callers outside the package.
type Status struct {
	State       State     `json:"state"`
	IntervalSec int       `json:"interval_sec"`
	NextRunAt   time.Time `json:"next_run_at,omitzero"`
	Busy        bool      `json:"busy"`
}

// Scheduler runs a CycleFunc immediately on Start and then every interval.
// A tick that finds the previous cycle still running is dropped.
type Scheduler struct {
	run     CycleFunc
	clock   Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    State
	interval int
	timer    Timer
	gen      uint64
	next     time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	// pending is a start cycle waiting for a cancelled one to unwind.
	pending  context.Context

	busy     atomic.Bool
	inflight sync.WaitGroup
}

func New(run CycleFunc, intervalSec int, opts ...Option) (*Scheduler, error) {
	if err := ValidateInterval(intervalSec); err != nil {
		return nil, err
	}
	s := &Scheduler{
		run:      run,
		clock:    realClock{},
		log:      slog.Default(),
		state:    Stopped,
		interval: intervalSec,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Start moves to RUNNING, runs a cycle now and schedules the next tick.
func (s *Scheduler) Start(intervalSec int) error {
	if err := ValidateInterval(intervalSec); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = Running
	s.interval = intervalSec
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ctx := s.ctx
	s.scheduleLocked()
	started := s.busy.CompareAndSwap(false, true)
	if started {
		s.inflight.Add(1)
	} else {
		// A cycle from before the last Stop is still unwinding; it hands
		// over to this one when it returns.
		s.pending = ctx
	}
	s.mu.Unlock()

	s.log.Info("scheduler started", "interval_sec", intervalSec, "queued", !started)
	if started {
		go s.loop(ctx)
	}
	return nil
}

// Reconfigure changes the cadence. When running, the pending tick is
// replaced by one at now+interval; no extra cycle is run.
func (s *Scheduler) Reconfigure(intervalSec int) error {
	if err := ValidateInterval(intervalSec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.interval
	s.interval = intervalSec
	if s.state == Running {
		s.scheduleLocked()
	}
	s.log.Info("scheduler reconfigured", "from_sec", prev, "to_sec", intervalSec, "state", s.state)
	return nil
}

// Stop cancels the pending tick and the in-flight cycle's context. It does
// not wait; use Wait for that. Calling Stop twice is harmless.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return
	}
	s.state = Stopped
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.next = time.Time{}
	s.pending = nil
	s.cancel()
	s.log.Info("scheduler stopped")
}

// Wait blocks until no cycle is in flight.
func (s *Scheduler) Wait() { s.inflight.Wait() }

// TriggerNow runs a cycle out of band without moving the next tick.
func (s *Scheduler) TriggerNow() error {
	s.mu.Lock()
	ctx := s.ctx
	if s.state != Running || ctx == nil {
		ctx = context.Background()
	}
	s.mu.Unlock()
	if !s.launch(ctx, "manual") {
		return ErrBusy
	}
	return nil
}

func (s *Scheduler) Interval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Running
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, IntervalSec: s.interval, NextRunAt: s.next, Busy: s.busy.Load()}
}

// scheduleLocked replaces the pending timer. Callbacks from older timers
// see a stale generation and do nothing.
func (s *Scheduler) scheduleLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	d := time.Duration(s.interval) * time.Second
	s.next = s.clock.Now().Add(d)
	s.timer = s.clock.AfterFunc(d, func() { s.tick(gen) })
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	if s.state != Running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.scheduleLocked()
	s.mu.Unlock()

	s.launch(ctx, "tick")
}

// launch starts a cycle unless one is already running.
func (s *Scheduler) launch(ctx context.Context, reason string) bool {
	if !s.busy.CompareAndSwap(false, true) {
		s.metrics.TickSkipped()
		s.log.Warn("refresh skipped, previous cycle still running", "trigger", reason)
		return false
	}
	s.inflight.Add(1)
	go s.loop(ctx)
	return true
}

// loop runs a cycle and then any start cycle queued behind it. busy is
// released under mu so Start either wins the CAS or queues, never neither.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.inflight.Done()
	for {
		s.run(ctx)

		s.mu.Lock()
		next := s.pending
		s.pending = nil
		if next == nil || next.Err() != nil {
			s.busy.Store(false)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		ctx = next
	}
}
