package culler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notebook-agent/pkg/marker"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type staticSource struct {
	at  time.Time
	err error
}

func (s staticSource) LastActivity(ctx context.Context) (time.Time, error) {
	return s.at, s.err
}

func TestPolicyEvaluate(t *testing.T) {
	p := Policy{IdleTimeout: 15 * time.Minute}

	t.Run("Test within timeout", func(t *testing.T) {
		d := p.Evaluate(t0, t0.Add(15*time.Minute))
		assert.False(t, d.Cull)
		assert.Equal(t, 15*time.Minute, d.Idle)
	})

	t.Run("Test past timeout", func(t *testing.T) {
		d := p.Evaluate(t0, t0.Add(15*time.Minute+time.Second))
		assert.True(t, d.Cull)
	})

	t.Run("Test marker in the future", func(t *testing.T) {
		d := p.Evaluate(t0.Add(time.Minute), t0)
		assert.False(t, d.Cull)
		assert.Equal(t, time.Duration(0), d.Idle)
	})
}

func TestWatcherCheck(t *testing.T) {
	now := func() time.Time { return t0.Add(20 * time.Minute) }

	t.Run("Test missing marker counts from session start", func(t *testing.T) {
		w := &Watcher{
			Log:    logr.Discard(),
			Policy: Policy{IdleTimeout: 15 * time.Minute},
			Source: FileSource(filepath.Join(t.TempDir(), "absent")),
			Since:  t0,
			Now:    now,
		}
		d, err := w.Check(context.Background())
		require.NoError(t, err)
		assert.True(t, d.Cull)
		assert.False(t, d.Recorded)
		assert.Equal(t, t0, d.LastActivity)
	})

	t.Run("Test fresh marker keeps the session", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "marker")
		require.NoError(t, marker.NewFile(path).ReportActivity(context.Background(), t0.Add(19*time.Minute)))
		w := &Watcher{Policy: Policy{IdleTimeout: 15 * time.Minute}, Source: FileSource(path), Since: t0, Now: now}
		d, err := w.Check(context.Background())
		require.NoError(t, err)
		assert.False(t, d.Cull)
		assert.True(t, d.Recorded)
		assert.Equal(t, time.Minute, d.Idle)
	})

	t.Run("Test unreadable marker is an error", func(t *testing.T) {
		w := &Watcher{Source: staticSource{err: errors.New("permission denied")}, Now: now}
		_, err := w.Check(context.Background())
		assert.Error(t, err)
		assert.False(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestWatcherSchedule(t *testing.T) {
	var mu sync.Mutex
	var decisions []Decision
	w := &Watcher{
		Log:      logr.Discard(),
		Policy:   Policy{IdleTimeout: time.Hour},
		Source:   staticSource{at: time.Now()},
		Interval: time.Second,
		OnDecision: func(d Decision) {
			mu.Lock()
			decisions = append(decisions, d)
			mu.Unlock()
		},
	}
	require.NoError(t, w.Start())
	assert.Error(t, w.Start())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(decisions) > 0
	}, 5*time.Second, 100*time.Millisecond)
	w.Stop()
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, decisions[0].Cull)
}

func TestWatcherInvalidInterval(t *testing.T) {
	w := &Watcher{Log: logr.Discard(), Source: staticSource{}}
	assert.Error(t, w.Start())
}
