package culler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	cron "github.com/robfig/cron/v3"

	"notebook-agent/pkg/marker"
)

// Policy is the idle-culling rule: a session idle for longer than IdleTimeout is culled.
type Policy struct {
	IdleTimeout time.Duration
}

type Decision struct {
	LastActivity time.Time
	CheckedAt    time.Time
	Idle         time.Duration
	Cull         bool
	// Recorded is false when no marker existed and LastActivity is the watcher's Since.
	Recorded bool
}

func (p Policy) Evaluate(lastActivity time.Time, now time.Time) Decision {
	idle := now.Sub(lastActivity)
	if idle < 0 {
		idle = 0
	}
	return Decision{
		LastActivity: lastActivity,
		CheckedAt:    now,
		Idle:         idle,
		Cull:         idle > p.IdleTimeout,
	}
}

// MarkerSource yields the last activity recorded for a session. It returns an error
// satisfying errors.Is(err, os.ErrNotExist) when nothing was recorded yet.
type MarkerSource interface {
	LastActivity(ctx context.Context) (time.Time, error)
}

// FileSource reads a marker written by marker.File.
type FileSource string

func (f FileSource) LastActivity(ctx context.Context) (time.Time, error) {
	return marker.Read(string(f))
}

// Watcher evaluates the policy against a marker on a fixed schedule, independently of the
// process that refreshes the marker.
type Watcher struct {
	Log      logr.Logger
	Policy   Policy
	Source   MarkerSource
	Interval time.Duration
	// Since is used as the last activity while the marker does not exist.
	Since time.Time
	// OnDecision receives every successful evaluation.
	OnDecision func(Decision)
	Now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// Check evaluates the policy once.
func (w *Watcher) Check(ctx context.Context) (Decision, error) {
	now := time.Now()
	if w.Now != nil {
		now = w.Now()
	}
	last, err := w.Source.LastActivity(ctx)
	recorded := true
	if errors.Is(err, os.ErrNotExist) {
		last = w.Since
		recorded = false
	} else if err != nil {
		return Decision{}, fmt.Errorf("cannot read liveness marker: %w", err)
	}
	d := w.Policy.Evaluate(last, now)
	d.Recorded = recorded
	return d, nil
}

// Start schedules Check every Interval until Stop.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("watcher already started")
	}
	if w.Interval <= 0 {
		return fmt.Errorf("invalid watch interval %s", w.Interval)
	}

	c := cron.New()
	if _, err := c.AddFunc("@every "+w.Interval.String(), w.tick); err != nil {
		return err
	}
	c.Start()
	w.cron = c
	w.Log.Info("culler watcher started", "interval", w.Interval, "idleTimeout", w.Policy.IdleTimeout)
	return nil
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (w *Watcher) tick() {
	d, err := w.Check(context.Background())
	if err != nil {
		w.Log.Error(err, "culler check failed")
		return
	}
	log := w.Log.WithValues("lastActivity", d.LastActivity, "idle", d.Idle, "idleTimeout", w.Policy.IdleTimeout)
	if d.Cull {
		log.Info("session is eligible for culling")
	} else {
		log.V(1).Info("session is active")
	}
	if w.OnDecision != nil {
		w.OnDecision(d)
	}
}
