package keepalive

import (
	"fmt"
	"time"
)

// ConfigError is returned by Start for guard parameters that can never work.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// SampleError is a failed CPU accounting read. The guard logs it and skips the cycle.
type SampleError struct {
	At  time.Time
	Err error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("cpu sample at %s failed: %v", e.At.Format(time.RFC3339), e.Err)
}

func (e *SampleError) Unwrap() error {
	return e.Err
}
