package keepalive

import "time"

const (
	DefaultPollInterval  = time.Minute
	DefaultBusyThreshold = 0.2
	DefaultIdleTimeout   = 15 * time.Minute
)

type Config struct {
	// PollInterval is the length of one sampling window.
	PollInterval time.Duration
	// BusyThreshold is the cpu_time/wall_time ratio at or above which the window counts as activity.
	BusyThreshold float64
	// IdleTimeout is the culler's timeout. The guard only uses it for diagnostics.
	IdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  DefaultPollInterval,
		BusyThreshold: DefaultBusyThreshold,
		IdleTimeout:   DefaultIdleTimeout,
	}
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return &ConfigError{Field: "poll interval", Value: c.PollInterval, Reason: "must be positive"}
	}
	if !(c.BusyThreshold > 0 && c.BusyThreshold <= 1) {
		return &ConfigError{Field: "busy threshold", Value: c.BusyThreshold, Reason: "must be in (0,1]"}
	}
	if c.IdleTimeout <= 0 {
		return &ConfigError{Field: "idle timeout", Value: c.IdleTimeout, Reason: "must be positive"}
	}
	return nil
}
