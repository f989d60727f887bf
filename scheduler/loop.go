package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"leadpilot/metrics"
	"leadpilot/utils"
)

// TickFunc is one self-contained unit of polling work
type TickFunc func(ctx context.Context) error

// Loop runs a tick, sleeps a jittered interval, and repeats until its context
// is cancelled. Tick failures and panics are logged and never stop the loop.
type Loop struct {
	name    string
	tick    TickFunc
	bands   Bands
	timeout time.Duration
	rng     *rand.Rand
	logger  *utils.Logger
	metrics *metrics.Metrics
}

// NewLoop creates a loop. timeout bounds each tick; zero means unbounded.
func NewLoop(name string, tick TickFunc, bands Bands, timeout time.Duration, logger *utils.Logger, m *metrics.Metrics) *Loop {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Loop{
		name:    name,
		tick:    tick,
		bands:   bands,
		timeout: timeout,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(len(name)))),
		logger:  logger.Named("scheduler"),
		metrics: m,
	}
}

// Name returns the loop name
func (l *Loop) Name() string {
	return l.name
}

// Run blocks until ctx is done and returns ctx.Err()
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Starting %s loop", l.name)
	for {
		l.RunOnce(ctx)

		wait := l.bands.Interval(l.rng)
		l.logger.Debug("%s loop sleeping for %s", l.name, wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("Stopping %s loop", l.name)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce runs a single tick with panic recovery and the tick timeout
func (l *Loop) RunOnce(ctx context.Context) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	runID := uuid.NewString()[:8]
	start := time.Now()

	tickCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			l.logger.Error("%s tick %s panicked: %v\n%s", l.name, runID, r, debug.Stack())
		}
		l.metrics.RecordTick(l.name, err, time.Since(start))
	}()

	l.logger.Debug("%s tick %s started", l.name, runID)
	if err = l.tick(tickCtx); err != nil {
		if ctx.Err() != nil {
			l.logger.Debug("%s tick %s interrupted by shutdown: %v", l.name, runID, err)
			return err
		}
		l.logger.Error("%s tick %s failed after %s: %v", l.name, runID, time.Since(start).Round(time.Millisecond), err)
		return err
	}
	l.logger.Debug("%s tick %s finished in %s", l.name, runID, time.Since(start).Round(time.Millisecond))
	return nil
}
