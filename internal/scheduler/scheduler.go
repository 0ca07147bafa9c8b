// Package scheduler fires the reconciliation sweeps on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	cronlib "github.com/robfig/cron/v3"
)

// ErrUnknownSweep is returned by RunNow for a name that was never registered.
var ErrUnknownSweep = errors.New("unknown sweep")

// cronParser accepts standard 5-field expressions and descriptors like "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// SweepFunc performs one run of a sweep.
type SweepFunc func(ctx context.Context) error

type entry struct {
	name     string
	spec     string
	schedule cronlib.Schedule
	run      SweepFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLocation evaluates cron expressions in loc instead of the local zone.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLocker guards every firing with a lock so that only one scheduler
// instance applies it.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// Scheduler runs each registered sweep in its own goroutine. Firings of one
// sweep never overlap; different sweeps are not coordinated.
type Scheduler struct {
	clock    clockwork.Clock
	location *time.Location
	locker   Locker
	lockTTL  time.Duration
	logger   *slog.Logger

	entries []*entry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:    clockwork.NewRealClock(),
		location: time.Local,
		lockTTL:  time.Minute,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a sweep. It must be called before Start.
func (s *Scheduler) Register(name, spec string, run SweepFunc) error {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for sweep %s: %w", spec, name, err)
	}
	for _, e := range s.entries {
		if e.name == name {
			return fmt.Errorf("sweep %s registered twice", name)
		}
	}
	s.entries = append(s.entries, &entry{name: name, spec: spec, schedule: schedule, run: run})
	return nil
}

// Start launches one goroutine per registered sweep.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
	s.logger.Info("Scheduler started",
		slog.Int("sweeps", len(s.entries)),
		slog.String("location", s.location.String()),
	)
}

// Stop cancels pending firings and waits for running sweeps to return.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// RunNow fires the named sweep immediately, bypassing its schedule and lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, e := range s.entries {
		if e.name == name {
			return s.execute(ctx, e)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownSweep, name)
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	next := e.schedule.Next(s.clock.Now().In(s.location))
	s.logger.Info("Sweep scheduled",
		slog.String("sweep", e.name),
		slog.String("schedule", e.spec),
		slog.Time("next_run", next),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(next.Sub(s.clock.Now())):
		}

		s.fire(ctx, e, next)
		next = e.schedule.Next(s.clock.Now().In(s.location))
	}
}

func (s *Scheduler) fire(ctx context.Context, e *entry, at time.Time) {
	if s.locker != nil {
		key := fmt.Sprintf("%s:%d", e.name, at.Unix())
		ok, err := s.locker.Acquire(ctx, key, s.lockTTL)
		if err != nil {
			s.logger.Error("Failed to acquire sweep lock",
				slog.String("sweep", e.name),
				slog.String("error", err.Error()),
			)
			return
		}
		if !ok {
			s.logger.Info("Sweep firing taken by another instance",
				slog.String("sweep", e.name),
				slog.Time("scheduled_at", at),
			)
			return
		}
	}

	if err := s.execute(ctx, e); err != nil {
		s.logger.Error("Sweep failed",
			slog.String("sweep", e.name),
			slog.String("error", err.Error()),
		)
	}
}

// execute runs a sweep, turning a panic into an error.
func (s *Scheduler) execute(ctx context.Context, e *entry) (err error) {
	start := s.clock.Now()
	s.logger.Info("Running sweep", slog.String("sweep", e.name))

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sweep panicked",
				slog.String("sweep", e.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("sweep %s panicked: %v", e.name, r)
		}
	}()

	if err := e.run(ctx); err != nil {
		return err
	}
	s.logger.Info("Sweep finished",
		slog.String("sweep", e.name),
		slog.Duration("took", s.clock.Since(start)),
	)
	return nil
}
