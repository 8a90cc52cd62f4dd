package sampler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"notebook-agent/pkg/monitoring"
)

const DefaultCgroupRoot = "/sys/fs/cgroup"

// CgroupSampler reports the cpu time charged to the container's cgroup.
type CgroupSampler struct {
	Root string
}

func (s CgroupSampler) Sample(ctx context.Context) (time.Duration, error) {
	root := s.Root
	if root == "" {
		root = DefaultCgroupRoot
	}

	// cgroup v2
	stat := filepath.Join(root, "cpu.stat")
	if _, err := os.Stat(stat); err == nil {
		usec, err := monitoring.ReadStatField(stat, "usage_usec")
		if err != nil {
			return 0, err
		}
		return time.Duration(usec) * time.Microsecond, nil
	}

	// cgroup v1
	for _, dir := range []string{"cpuacct", "cpu,cpuacct", "."} {
		usage := filepath.Join(root, dir, "cpuacct.usage")
		if _, err := os.Stat(usage); err != nil {
			continue
		}
		nsec, err := monitoring.ReadNumber(usage)
		if err != nil {
			return 0, err
		}
		return time.Duration(nsec), nil
	}
	return 0, fmt.Errorf("no cpu accounting found under %s", root)
}
