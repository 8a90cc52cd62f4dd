package sampler

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/karlseguin/ccache"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/tklauser/go-sysconf"

	"notebook-agent/pkg/monitoring"
)

const DefaultProcRoot = "/proc"

var clockTicks = func() float64 {
	if tck, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && tck > 0 {
		return float64(tck)
	}
	return 100
}()

// ProcessSampler reports the cpu time of a process and all of its descendants, including
// descendants that already exited and were waited for.
type ProcessSampler struct {
	Log      logr.Logger
	Pid      int32
	// ProcRoot is where the per-process stat files are read from.
	ProcRoot string

	handles *ccache.Cache
	ttl     time.Duration
}

// NewProcessSampler keeps process handles for ttl, normally a few poll intervals.
func NewProcessSampler(pid int32, ttl time.Duration) *ProcessSampler {
	return &ProcessSampler{
		Log:      logr.Discard(),
		Pid:      pid,
		ProcRoot: DefaultProcRoot,
		handles:  ccache.New(ccache.Configure().MaxSize(1000).ItemsToPrune(100)),
		ttl:      ttl,
	}
}

func (s *ProcessSampler) Sample(ctx context.Context) (time.Duration, error) {
	root, err := s.handle(ctx, s.Pid)
	if err != nil {
		return 0, err
	}
	seconds, err := s.tree(ctx, root, 0)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// handle returns a cached handle for pid, dropping it when the pid was reused.
func (s *ProcessSampler) handle(ctx context.Context, pid int32) (*process.Process, error) {
	cacheKey := "pid:" + strconv.Itoa(int(pid))
	item := s.handles.Get(cacheKey)
	if item != nil && !item.Expired() {
		proc := item.Value().(*process.Process)
		if running, err := proc.IsRunningWithContext(ctx); err == nil && running {
			s.handles.Set(cacheKey, proc, s.ttl)
			return proc, nil
		}
		s.handles.Delete(cacheKey)
	}

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to get process handler from pid %d: %w", pid, err)
	}
	s.handles.Set(cacheKey, proc, s.ttl)
	return proc, nil
}

func (s *ProcessSampler) tree(ctx context.Context, proc *process.Process, depth int) (float64, error) {
	times, err := proc.TimesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get cpu times of pid %d: %w", proc.Pid, err)
	}
	total := times.User + times.System + times.Nice

	// exited children are folded into cutime/cstime of the process that waited for them
	reaped, err := s.reaped(proc.Pid)
	if err != nil {
		return 0, fmt.Errorf("failed to get reaped children cpu time of pid %d: %w", proc.Pid, err)
	}
	total += reaped

	children, _ := proc.ChildrenWithContext(ctx)
	for _, child := range children {
		h, err := s.handle(ctx, child.Pid)
		if err != nil {
			continue
		}
		// children may exit while we walk the tree
		sub, err := s.tree(ctx, h, depth+1)
		if err != nil {
			s.Log.V(1).Info("skipping vanished process", "pid", child.Pid, "depth", depth+1, "error", err.Error())
			continue
		}
		total += sub
	}
	return total, nil
}

func (s *ProcessSampler) reaped(pid int32) (float64, error) {
	root := s.ProcRoot
	if root == "" {
		root = DefaultProcRoot
	}
	cutime, cstime, err := monitoring.ReadReapedTicks(filepath.Join(root, strconv.Itoa(int(pid)), "stat"))
	if err != nil {
		return 0, err
	}
	return float64(cutime+cstime) / clockTicks, nil
}
