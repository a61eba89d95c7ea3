// Package scheduler drives the ground-truth refresh and the snapshot publish
// cadences and owns the process-level failure envelope.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/atomic"

	"github.com/i474232898/quarter-sensor-simulator/internal/publisher"
)

// State is the coordinator lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateTerminal
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminal:
		return "terminal"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrTerminal is returned by Run after an unclassified failure, once the
// process has been told to stop.
var ErrTerminal = errors.New("coordinator entered terminal state")

// Fetcher refreshes the shared ground truth. Its errors are always transient.
type Fetcher interface {
	Refresh(ctx context.Context) error
}

// Publisher runs one publish cycle.
type Publisher interface {
	Publish(ctx context.Context) (publisher.Result, error)
}

// Config holds the two cadences.
type Config struct {
	// LongInterval bounds ground-truth staleness.
	LongInterval time.Duration
	// ShortInterval is the publish rate and the rate at which refresh due-ness is checked.
	ShortInterval time.Duration
}

// Coordinator schedules the Fetcher and Publisher on independent gocron jobs
// that share nothing but the ground-truth cell behind them.
type Coordinator struct {
	cfg       Config
	fetcher   Fetcher
	publisher Publisher
	scheduler *gocron.Scheduler

	state       *atomic.Int32
	lastAttempt *atomic.Time
	fatal       chan error
	now         func() time.Time
}

// New creates a new Coordinator.
func New(cfg Config, fetcher Fetcher, pub Publisher) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		fetcher:     fetcher,
		publisher:   pub,
		scheduler:   gocron.NewScheduler(time.UTC),
		state:       atomic.NewInt32(int32(StateStarting)),
		lastAttempt: atomic.NewTime(time.Time{}),
		fatal:       make(chan error, 1),
		now:         time.Now,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Run performs the startup refresh, schedules both jobs and blocks until ctx
// is done. After an unclassified failure it stops all jobs and idles until
// ctx is done, then returns an error wrapping ErrTerminal.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.cfg.ShortInterval <= 0 || c.cfg.LongInterval <= 0 {
		return fmt.Errorf("scheduler: intervals must be positive (long=%s short=%s)", c.cfg.LongInterval, c.cfg.ShortInterval)
	}

	log.Printf("INFO: scheduler: startup ground truth refresh")
	c.lastAttempt.Store(c.now())
	c.runJob("refresh", func() error { return c.fetcher.Refresh(ctx) }, isTransientRefresh)

	if c.State() == StateTerminal {
		return c.idle(ctx, <-c.fatal)
	}

	_, err := c.scheduler.Every(c.cfg.ShortInterval).WaitForSchedule().SingletonMode().Do(func() {
		c.runJob("refresh", func() error {
			_, err := c.refreshIfDue(ctx)
			return err
		}, isTransientRefresh)
	})
	if err != nil {
		return fmt.Errorf("scheduler: schedule refresh job: %w", err)
	}

	_, err = c.scheduler.Every(c.cfg.ShortInterval).SingletonMode().Do(func() {
		c.runJob("publish", func() error {
			_, err := c.publisher.Publish(ctx)
			return err
		}, isTransientPublish)
	})
	if err != nil {
		return fmt.Errorf("scheduler: schedule publish job: %w", err)
	}

	c.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	c.scheduler.StartAsync()
	log.Printf("INFO: scheduler: running (publish every %s, ground truth every %s)", c.cfg.ShortInterval, c.cfg.LongInterval)

	select {
	case <-ctx.Done():
		c.scheduler.Stop()
		c.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))
		log.Printf("INFO: scheduler: stopped")
		return nil
	case cause := <-c.fatal:
		c.scheduler.Stop()
		return c.idle(ctx, cause)
	}
}

// refreshIfDue refreshes the ground truth when at least LongInterval has
// passed since the last attempt. A failed attempt still counts, so failures
// never shorten the wait.
func (c *Coordinator) refreshIfDue(ctx context.Context) (bool, error) {
	now := c.now()
	if now.Sub(c.lastAttempt.Load()) < c.cfg.LongInterval {
		return false, nil
	}
	c.lastAttempt.Store(now)
	return true, c.fetcher.Refresh(ctx)
}

// runJob executes fn with panic recovery. Transient errors are left to the
// component that already logged them; anything else is terminal.
func (c *Coordinator) runJob(name string, fn func() error, transient func(error) bool) {
	err := safeRun(fn)
	if err == nil || transient(err) {
		return
	}
	c.fail(name, err)
}

func (c *Coordinator) fail(job string, err error) {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateTerminal)) &&
		!c.state.CompareAndSwap(int32(StateStarting), int32(StateTerminal)) {
		return
	}

	stack := debug.Stack()
	var pe *panicError
	if errors.As(err, &pe) {
		stack = pe.stack
	}
	log.Printf("ERROR: scheduler: unclassified failure in %s job: %v\n%s", job, err, stack)

	select {
	case c.fatal <- err:
	default:
	}
}

func (c *Coordinator) idle(ctx context.Context, cause error) error {
	log.Printf("ERROR: scheduler: terminal state, all jobs stopped; idling until the process is terminated")
	<-ctx.Done()
	return fmt.Errorf("%w: %v", ErrTerminal, cause)
}

func isTransientRefresh(err error) bool {
	var pe *panicError
	return !errors.As(err, &pe)
}

func isTransientPublish(err error) bool {
	return errors.Is(err, publisher.ErrNoGroundTruth) ||
		errors.Is(err, publisher.ErrRegistryRead) ||
		errors.Is(err, publisher.ErrSnapshotWrite)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// safeRun executes fn and turns a panic into a *panicError carrying the stack.
func safeRun(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec, stack: debug.Stack()}
		}
	}()
	return fn()
}
