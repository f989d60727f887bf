package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"leadpilot/metrics"
	"leadpilot/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastBands() Bands {
	return Bands{{Weight: 1, Min: time.Millisecond, Max: 2 * time.Millisecond}}
}

func TestBandsFromConfig(t *testing.T) {
	def := utils.DefaultConfig()
	bands, err := BandsFromConfig(def.Schedule.MonitorBands)
	require.NoError(t, err)
	assert.Len(t, bands, 3)

	tests := []struct {
		name string
		cfg  []utils.BandConfig
	}{
		{"empty", nil},
		{"negative weight", []utils.BandConfig{{Weight: -1, Min: time.Second, Max: 2 * time.Second}}},
		{"inverted range", []utils.BandConfig{{Weight: 1, Min: 2 * time.Second, Max: time.Second}}},
		{"zero min", []utils.BandConfig{{Weight: 1, Max: time.Second}}},
		{"zero weights", []utils.BandConfig{{Weight: 0, Min: time.Second, Max: 2 * time.Second}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BandsFromConfig(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestIntervalStaysInBands(t *testing.T) {
	def := utils.DefaultConfig()
	bands, err := BandsFromConfig(def.Schedule.InboxBands)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	counts := make([]int, len(bands))
	const draws = 10000
	for i := 0; i < draws; i++ {
		d := bands.Interval(rng)
		require.GreaterOrEqual(t, d, 30*time.Second)
		require.LessOrEqual(t, d, 150*time.Second)
		for j, b := range bands {
			if d >= b.Min && d <= b.Max {
				counts[j]++
				break
			}
		}
	}

	// the mid band carries the majority of draws
	assert.Greater(t, counts[0], draws/2)
	assert.Greater(t, counts[0], counts[1])
	assert.Greater(t, counts[1], 0)
}

func TestIntervalFixedBand(t *testing.T) {
	b := Bands{{Weight: 1, Min: 5 * time.Second, Max: 5 * time.Second}}
	assert.Equal(t, 5*time.Second, b.Interval(rand.New(rand.NewPCG(3, 4))))
	assert.Equal(t, time.Minute, Bands(nil).Interval(rand.New(rand.NewPCG(3, 4))))
}

func TestLoopSurvivesErrorsAndPanics(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tick := func(context.Context) error {
		n := calls.Add(1)
		switch n {
		case 1:
			return errors.New("upstream 503")
		case 2:
			panic("nil map")
		case 4:
			cancel()
		}
		return nil
	}

	m := metrics.NewMetrics()
	l := NewLoop("leads", tick, fastBands(), time.Second, nil, m)

	err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, calls.Load(), int32(4))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TicksTotal.WithLabelValues("leads", "error")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.TicksTotal.WithLabelValues("leads", "success")), float64(2))
}

func TestRunOnceAppliesTimeout(t *testing.T) {
	l := NewLoop("inbox", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, fastBands(), 20*time.Millisecond, nil, nil)

	start := time.Now()
	err := l.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunOnceReportsPanicAsError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	l := NewLoop("inbox", func(context.Context) error { panic("boom") }, fastBands(), 0, utils.NewLoggerWithCore(core), nil)

	err := l.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "scheduler", logs.All()[0].LoggerName)
}

func TestRunOnceSkipsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	l := NewLoop("leads", func(context.Context) error { called = true; return nil }, fastBands(), 0, nil, nil)
	assert.ErrorIs(t, l.RunOnce(ctx), context.Canceled)
	assert.False(t, called)
}

func TestSlowLoopDoesNotBlockOther(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	slow := NewLoop("leads", func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, fastBands(), 0, nil, nil)

	var fastCalls atomic.Int32
	fast := NewLoop("inbox", func(context.Context) error {
		fastCalls.Add(1)
		return nil
	}, fastBands(), 0, nil, nil)

	done := make(chan struct{}, 2)
	go func() { slow.Run(ctx); done <- struct{}{} }()
	go func() { fast.Run(ctx); done <- struct{}{} }()

	require.Eventually(t, func() bool { return fastCalls.Load() >= 3 }, 5*time.Second, time.Millisecond)
	close(release)
	cancel()
	<-done
	<-done
}
