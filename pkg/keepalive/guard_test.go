package keepalive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

// workload returns cumulative cpu time growing by utilization[i] * poll on the i-th call after
// the baseline. Calls listed in fails return an error.
type workload struct {
	mu          sync.Mutex
	poll        time.Duration
	utilization []float64
	fails       map[int]bool
	calls       int
	cpu         time.Duration
}

func (w *workload) Sample(ctx context.Context) (time.Duration, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	call := w.calls
	w.calls++
	if call > 0 {
		u := w.utilization[len(w.utilization)-1]
		if call-1 < len(w.utilization) {
			u = w.utilization[call-1]
		}
		w.cpu += time.Duration(u * float64(w.poll))
	}
	if w.fails[call] {
		return 0, errors.New("cannot read /proc")
	}
	return w.cpu, nil
}

func steady(poll time.Duration, u float64) *workload {
	return &workload{poll: poll, utilization: []float64{u}}
}

type recorder struct {
	mu    sync.Mutex
	times []time.Time
	err   error
}

func (r *recorder) ReportActivity(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.times = append(r.times, at)
	return nil
}

func (r *recorder) reports() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.times...)
}

// drive starts a guard with a manual tick source, feeds n ticks one poll apart and stops it.
func drive(t *testing.T, cfg Config, s Sampler, r Reporter, n int) *Guard {
	t.Helper()
	ticks := make(chan time.Time)
	g, err := Start(context.Background(), cfg, s, r, WithTicks(ticks), WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		ticks <- t0.Add(time.Duration(i) * cfg.PollInterval)
	}
	g.Stop()
	return g
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"zero poll interval", Config{0, 0.5, time.Minute}, "poll interval"},
		{"negative poll interval", Config{-time.Second, 0.5, time.Minute}, "poll interval"},
		{"zero threshold", Config{time.Second, 0, time.Minute}, "busy threshold"},
		{"threshold above one", Config{time.Second, 1.01, time.Minute}, "busy threshold"},
		{"zero idle timeout", Config{time.Second, 0.5, 0}, "idle timeout"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Start(context.Background(), c.cfg, steady(time.Second, 1), &recorder{})
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, c.field, cfgErr.Field)
		})
	}

	t.Run("threshold of one is valid", func(t *testing.T) {
		assert.NoError(t, Config{time.Second, 1, time.Minute}.Validate())
		assert.NoError(t, DefaultConfig().Validate())
	})
}

func TestBusyWorkloadRefreshesEveryCycle(t *testing.T) {
	for _, threshold := range []float64{0.05, 0.2, 0.5, 0.99, 1} {
		cfg := Config{PollInterval: time.Minute, BusyThreshold: threshold, IdleTimeout: 15 * time.Minute}
		r := &recorder{}
		u := threshold + 0.01
		if threshold == 1 {
			u = 1.5 // several cores
		}
		g := drive(t, cfg, steady(cfg.PollInterval, u), r, 10)

		reports := r.reports()
		require.Len(t, reports, 10, "threshold %v", threshold)
		for i, at := range reports {
			assert.Equal(t, t0.Add(time.Duration(i+1)*time.Minute), at)
		}
		status := g.Status()
		assert.Equal(t, int64(10), status.BusyCycles)
		assert.Equal(t, reports[9], *status.LastActiveAt)
	}
}

func TestIdleWorkloadNeverReports(t *testing.T) {
	cfg := Config{PollInterval: time.Minute, BusyThreshold: 0.2, IdleTimeout: 15 * time.Minute}
	r := &recorder{}
	g := drive(t, cfg, steady(cfg.PollInterval, 0.19), r, 20)

	assert.Empty(t, r.reports())
	status := g.Status()
	assert.Nil(t, status.LastActiveAt)
	assert.Equal(t, int64(20), status.Samples)
	assert.InDelta(t, 0.19, status.LastUtilization, 1e-9)
}

func TestSampleErrorSkipsCycle(t *testing.T) {
	cfg := Config{PollInterval: time.Minute, BusyThreshold: 0.2, IdleTimeout: 15 * time.Minute}
	w := steady(cfg.PollInterval, 0.9)
	w.fails = map[int]bool{2: true}
	r := &recorder{}
	g := drive(t, cfg, w, r, 4)

	// tick 2 fails, tick 3 only re-baselines
	assert.Equal(t, []time.Time{t0.Add(time.Minute), t0.Add(4 * time.Minute)}, r.reports())
	status := g.Status()
	assert.Equal(t, int64(1), status.SampleErrors)
	assert.Equal(t, int64(2), status.Samples)
}

func TestFailedBaselineIsNotFatal(t *testing.T) {
	cfg := Config{PollInterval: time.Minute, BusyThreshold: 0.2, IdleTimeout: 15 * time.Minute}
	w := steady(cfg.PollInterval, 0.9)
	w.fails = map[int]bool{0: true}
	r := &recorder{}
	drive(t, cfg, w, r, 2)

	assert.Equal(t, []time.Time{t0.Add(2 * time.Minute)}, r.reports())
}

func TestReporterFailureKeepsLastActive(t *testing.T) {
	cfg := Config{PollInterval: time.Minute, BusyThreshold: 0.2, IdleTimeout: 15 * time.Minute}
	r := &recorder{err: errors.New("hub unavailable")}
	g := drive(t, cfg, steady(cfg.PollInterval, 0.9), r, 3)

	status := g.Status()
	assert.Nil(t, status.LastActiveAt)
	assert.Equal(t, int64(3), status.ReportErrors)
	assert.Equal(t, int64(0), status.Reports)
}

func TestLastActiveNeverMovesBackwards(t *testing.T) {
	cfg := Config{PollInterval: time.Minute, BusyThreshold: 0.1, IdleTimeout: 15 * time.Minute}
	r := &recorder{}
	ticks := make(chan time.Time)
	g, err := Start(context.Background(), cfg, steady(cfg.PollInterval, 1), r, WithTicks(ticks), WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)

	ticks <- t0.Add(5 * time.Minute)
	ticks <- t0.Add(3 * time.Minute) // clock stepped back, window rejected
	ticks <- t0.Add(4 * time.Minute) // new baseline
	ticks <- t0.Add(4*time.Minute + 30*time.Second)
	g.Stop()

	assert.Equal(t, []time.Time{t0.Add(5 * time.Minute), t0.Add(5 * time.Minute)}, r.reports())
	assert.Equal(t, t0.Add(5*time.Minute), *g.Status().LastActiveAt)
	assert.Equal(t, int64(1), g.Status().SampleErrors)
}

func TestStopIsIdempotent(t *testing.T) {
	g, err := Start(context.Background(), DefaultConfig(), steady(time.Minute, 0), &recorder{})
	require.NoError(t, err)
	g.Stop()
	g.Stop()
	select {
	case <-g.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, err := Start(ctx, DefaultConfig(), steady(time.Minute, 0), &recorder{})
	require.NoError(t, err)
	cancel()
	select {
	case <-g.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop should exit when the context is cancelled")
	}
}

func TestMultiReporter(t *testing.T) {
	a, b := &recorder{}, &recorder{err: errors.New("down")}
	c := &recorder{}
	err := MultiReporter{a, b, c}.ReportActivity(context.Background(), t0)
	assert.EqualError(t, err, "down")
	assert.Len(t, a.reports(), 1)
	assert.Len(t, c.reports(), 1)
}
