package keepalive

import (
	"context"
	"errors"
	"time"
)

// Sampler returns the cumulative CPU time consumed by the tracked processes.
type Sampler interface {
	Sample(ctx context.Context) (time.Duration, error)
}

type SamplerFunc func(ctx context.Context) (time.Duration, error)

func (f SamplerFunc) Sample(ctx context.Context) (time.Duration, error) {
	return f(ctx)
}

// Reporter refreshes the liveness marker the culler consults.
type Reporter interface {
	ReportActivity(ctx context.Context, at time.Time) error
}

type ReporterFunc func(ctx context.Context, at time.Time) error

func (f ReporterFunc) ReportActivity(ctx context.Context, at time.Time) error {
	return f(ctx, at)
}

// MultiReporter reports to every reporter and joins their errors.
type MultiReporter []Reporter

func (m MultiReporter) ReportActivity(ctx context.Context, at time.Time) error {
	var errs []error
	for _, r := range m {
		if err := r.ReportActivity(ctx, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
