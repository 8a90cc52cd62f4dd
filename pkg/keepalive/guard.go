package keepalive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"notebook-agent/pkg/monitoring"
)

type sample struct {
	at  time.Time
	cpu time.Duration
}

// Status is a point-in-time view of the guard, served on the status endpoint.
type Status struct {
	PollIntervalSeconds float64             `json:"poll_interval_seconds"`
	BusyThreshold       float64             `json:"busy_threshold"`
	IdleTimeoutSeconds  float64             `json:"idle_timeout_seconds"`
	StartedAt           time.Time           `json:"started_at"`
	LastSampleAt        *time.Time          `json:"last_sample_at,omitempty"`
	LastUtilization     float64             `json:"last_utilization"`
	LastActiveAt        *time.Time          `json:"last_active_at,omitempty"`
	Samples             int64               `json:"samples"`
	SampleErrors        int64               `json:"sample_errors"`
	BusyCycles          int64               `json:"busy_cycles"`
	Reports             int64               `json:"reports"`
	ReportErrors        int64               `json:"report_errors"`
	Datasets            monitoring.Datasets `json:"datasets"`
}

type Option func(*Guard)

func WithLogger(log logr.Logger) Option {
	return func(g *Guard) { g.Log = log }
}

// WithClock sets the time source used for the baseline sample.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithTicks replaces the poll ticker. Each received time ends one sampling window.
func WithTicks(ticks <-chan time.Time) Option {
	return func(g *Guard) { g.ticks = ticks }
}

// Guard samples CPU usage every poll interval and refreshes the liveness marker while the
// tracked processes are busy. It can only postpone culling: any failure leaves the marker stale.
type Guard struct {
	Log logr.Logger

	cfg      Config
	sampler  Sampler
	reporter Reporter
	now      func() time.Time
	ticks    <-chan time.Time

	prev *sample

	mu         sync.Mutex
	status     Status
	history    *monitoring.History
	idleWarned bool
	lastActive time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Start validates cfg, takes the baseline sample and runs the sampling loop until ctx is
// cancelled or Stop is called.
func Start(ctx context.Context, cfg Config, sampler Sampler, reporter Reporter, opts ...Option) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil || reporter == nil {
		return nil, fmt.Errorf("guard needs both a sampler and a reporter")
	}

	g := &Guard{
		Log:      logr.Discard(),
		cfg:      cfg,
		sampler:  sampler,
		reporter: reporter,
		now:      time.Now,
		history:  monitoring.NewHistory(cfg.PollInterval),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.Log = g.Log.WithValues("pollInterval", cfg.PollInterval, "busyThreshold", cfg.BusyThreshold, "idleTimeout", cfg.IdleTimeout)

	started := g.now()
	g.status = Status{
		PollIntervalSeconds: cfg.PollInterval.Seconds(),
		BusyThreshold:       cfg.BusyThreshold,
		IdleTimeoutSeconds:  cfg.IdleTimeout.Seconds(),
		StartedAt:           started,
	}
	// Idle time is counted from start, as the culler counts it from the last disconnect.
	g.lastActive = started

	ctx, g.cancel = context.WithCancel(ctx)
	g.baseline(ctx, started)

	var ticker *time.Ticker
	if g.ticks == nil {
		ticker = time.NewTicker(cfg.PollInterval)
		g.ticks = ticker.C
	}

	g.Log.Info("activity guard started")
	go func() {
		defer close(g.done)
		if ticker != nil {
			defer ticker.Stop()
		}
		g.loop(ctx)
	}()
	return g, nil
}

// Stop ends the sampling loop and waits for it to exit. It is safe to call more than once.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() {
		g.cancel()
	})
	<-g.done
}

// Done is closed when the sampling loop has exited.
func (g *Guard) Done() <-chan struct{} {
	return g.done
}

func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.status
	s.Datasets = g.history.Datasets()
	return s
}

func (g *Guard) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			g.Log.Info("activity guard stopped", "reason", ctx.Err())
			return
		case now, ok := <-g.ticks:
			if !ok {
				g.Log.Info("activity guard stopped", "reason", "tick source closed")
				return
			}
			g.cycle(ctx, now)
		}
	}
}

func (g *Guard) baseline(ctx context.Context, now time.Time) {
	cpu, err := g.sampler.Sample(ctx)
	if err != nil {
		g.sampleFailed(now, err)
		return
	}
	g.prev = &sample{at: now, cpu: cpu}
}

func (g *Guard) cycle(ctx context.Context, now time.Time) {
	log := g.Log.WithValues("at", now)

	cpu, err := g.sampler.Sample(ctx)
	if err != nil {
		g.sampleFailed(now, err)
		return
	}

	prev := g.prev
	g.prev = &sample{at: now, cpu: cpu}
	if prev == nil {
		log.V(1).Info("new baseline sample after a failed read")
		return
	}

	wall := now.Sub(prev.at)
	used := cpu - prev.cpu
	if wall <= 0 || used < 0 {
		// the clock went backwards or the process tree was replaced
		g.sampleFailed(now, fmt.Errorf("inconsistent window: wall %s, cpu %s", wall, used))
		return
	}

	utilization := used.Seconds() / wall.Seconds()
	busy := utilization >= g.cfg.BusyThreshold
	g.record(now, utilization, busy)
	log.V(1).Info("sampled cpu", "utilization", utilization, "busy", busy)

	if !busy {
		g.checkIdle(now, utilization)
		return
	}
	g.report(ctx, now, utilization)
}

func (g *Guard) record(now time.Time, utilization float64, busy bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	at := now
	g.status.LastSampleAt = &at
	g.status.LastUtilization = utilization
	g.status.Samples++
	if busy {
		g.status.BusyCycles++
	}
	g.history.Add(now, int64(utilization*100))
	utilizationGauge.Set(utilization)
}

func (g *Guard) report(ctx context.Context, now time.Time, utilization float64) {
	g.mu.Lock()
	at := now
	if at.Before(g.lastActive) {
		at = g.lastActive
	}
	g.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, g.cfg.PollInterval)
	defer cancel()
	if err := g.reporter.ReportActivity(rctx, at); err != nil {
		g.mu.Lock()
		g.status.ReportErrors++
		lastActive := g.lastActive
		g.mu.Unlock()
		reportsTotal.WithLabelValues("error").Inc()
		g.Log.Error(err, "cannot refresh liveness marker", "at", now, "utilization", utilization, "lastActive", lastActive)
		return
	}

	g.mu.Lock()
	g.lastActive = at
	g.status.LastActiveAt = &at
	g.status.Reports++
	g.idleWarned = false
	g.mu.Unlock()
	reportsTotal.WithLabelValues("ok").Inc()
	lastActivityGauge.Set(float64(at.Unix()))
	g.Log.V(1).Info("liveness marker refreshed", "at", at, "utilization", utilization)
}

func (g *Guard) checkIdle(now time.Time, utilization float64) {
	g.mu.Lock()
	idle := now.Sub(g.lastActive)
	warn := idle >= g.cfg.IdleTimeout && !g.idleWarned
	if warn {
		g.idleWarned = true
	}
	lastActive := g.lastActive
	g.mu.Unlock()

	if warn {
		g.Log.Info("no cpu activity reported within idle timeout, session is eligible for culling",
			"at", now, "lastActive", lastActive, "idle", idle, "utilization", utilization)
	}
}

func (g *Guard) sampleFailed(now time.Time, err error) {
	g.prev = nil
	g.mu.Lock()
	g.status.SampleErrors++
	g.mu.Unlock()
	sampleErrorsTotal.Inc()
	g.Log.Error(&SampleError{At: now, Err: err}, "skipping sampling cycle")
}
