package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"notebook-agent/pkg/keepalive"
)

const (
	EnvPrefix = "NOTEBOOK_AGENT"

	SamplerProcess = "process"
	SamplerCgroup  = "cgroup"

	ReporterFile = "file"
	ReporterHub  = "hub"
	ReporterKube = "kube"
)

type Hub struct {
	APIURL   string
	APIToken string
	User     string
	Server   string
}

type Sync struct {
	Source      string
	Branch      string
	NotebookDir string
	HomeDir     string
	StateDir    string
	CacheDir    string
}

type Hooks struct {
	Dir        string
	ScriptsDir string
	Timeout    time.Duration
}

// Config is everything the agent reads from config.yaml, NOTEBOOK_AGENT_* and flags.
type Config struct {
	Guard          keepalive.Config
	Pid            int32
	SamplerType    string
	CgroupRoot     string
	ReporterTypes  []string
	MarkerPath     string
	Hub            Hub
	CullerInterval time.Duration
	StatusAddr     string
	Sync           Sync
	Hooks          Hooks
}

// New returns a viper instance with the defaults, search paths and environment bindings set.
// Callers bind their flags on it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/notebook-agent/") // path to look for the config file in
	v.AddConfigPath(".")                    // optionally look for config in the working directory

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("guard.pollInterval", keepalive.DefaultPollInterval)
	v.SetDefault("guard.busyThreshold", keepalive.DefaultBusyThreshold)
	v.SetDefault("guard.idleTimeout", keepalive.DefaultIdleTimeout)
	v.SetDefault("guard.pid", 0)
	v.SetDefault("sampler.type", SamplerProcess)
	v.SetDefault("sampler.cgroupRoot", "/sys/fs/cgroup")
	v.SetDefault("reporter.types", []string{ReporterFile})
	v.SetDefault("reporter.markerPath", "/tmp/notebook-agent/last-activity")
	v.SetDefault("culler.interval", time.Duration(0))
	v.SetDefault("status.addr", "")
	v.SetDefault("sync.branch", "main")
	v.SetDefault("sync.homeDir", "/home/jovyan")
	v.SetDefault("hooks.dir", "/usr/local/bin/before-notebook.d")
	v.SetDefault("hooks.scriptsDir", "/opt/notebook-scripts")
	v.SetDefault("hooks.timeout", 10*time.Minute)

	// the spawner injects these without our prefix
	_ = v.BindEnv("hub.apiURL", "JUPYTERHUB_API_URL")
	_ = v.BindEnv("hub.apiToken", "JUPYTERHUB_API_TOKEN")
	_ = v.BindEnv("hub.user", "JUPYTERHUB_USER")
	_ = v.BindEnv("hub.server", "JUPYTERHUB_SERVER_NAME")
	return v
}

// Load reads the config file, if any, and validates the result. configFile overrides the
// search paths and must exist.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("fatal error config file: %w", err)
		}
	}

	home := v.GetString("sync.homeDir")
	c := &Config{
		Guard: keepalive.Config{
			PollInterval:  v.GetDuration("guard.pollInterval"),
			BusyThreshold: v.GetFloat64("guard.busyThreshold"),
			IdleTimeout:   v.GetDuration("guard.idleTimeout"),
		},
		Pid:            v.GetInt32("guard.pid"),
		SamplerType:    strings.ToLower(v.GetString("sampler.type")),
		CgroupRoot:     v.GetString("sampler.cgroupRoot"),
		ReporterTypes:  splitList(v.GetStringSlice("reporter.types")),
		MarkerPath:     v.GetString("reporter.markerPath"),
		CullerInterval: v.GetDuration("culler.interval"),
		StatusAddr:     v.GetString("status.addr"),
		Hub: Hub{
			APIURL:   v.GetString("hub.apiURL"),
			APIToken: v.GetString("hub.apiToken"),
			User:     v.GetString("hub.user"),
			Server:   v.GetString("hub.server"),
		},
		Sync: Sync{
			Source:      v.GetString("sync.source"),
			Branch:      v.GetString("sync.branch"),
			NotebookDir: orDefault(v.GetString("sync.notebookDir"), filepath.Join(home, "notebooks")),
			HomeDir:     home,
			StateDir:    orDefault(v.GetString("sync.stateDir"), filepath.Join(home, ".notebook-sync")),
			CacheDir:    orDefault(v.GetString("sync.cacheDir"), filepath.Join(home, ".cache", "notebook-sync")),
		},
		Hooks: Hooks{
			Dir:        v.GetString("hooks.dir"),
			ScriptsDir: v.GetString("hooks.scriptsDir"),
			Timeout:    v.GetDuration("hooks.timeout"),
		},
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if err := c.Guard.Validate(); err != nil {
		return err
	}
	if c.Pid < 0 {
		return &keepalive.ConfigError{Field: "pid", Value: c.Pid, Reason: "must not be negative"}
	}
	switch c.SamplerType {
	case SamplerProcess, SamplerCgroup:
	default:
		return &keepalive.ConfigError{Field: "sampler type", Value: c.SamplerType, Reason: "must be process or cgroup"}
	}
	if len(c.ReporterTypes) == 0 {
		return &keepalive.ConfigError{Field: "reporter types", Value: c.ReporterTypes, Reason: "at least one reporter is required"}
	}
	for _, t := range c.ReporterTypes {
		switch t {
		case ReporterFile:
			if c.MarkerPath == "" {
				return &keepalive.ConfigError{Field: "marker path", Value: c.MarkerPath, Reason: "is required by the file reporter"}
			}
		case ReporterHub:
			required := []struct{ field, value string }{
				{"hub api url", c.Hub.APIURL},
				{"hub api token", c.Hub.APIToken},
				{"hub user", c.Hub.User},
			}
			for _, r := range required {
				if r.value == "" {
					return &keepalive.ConfigError{Field: r.field, Value: r.value, Reason: "is required by the hub reporter"}
				}
			}
		case ReporterKube:
		default:
			return &keepalive.ConfigError{Field: "reporter types", Value: t, Reason: "must be file, hub or kube"}
		}
	}
	if c.CullerInterval < 0 {
		return &keepalive.ConfigError{Field: "culler interval", Value: c.CullerInterval, Reason: "must not be negative"}
	}
	if c.CullerInterval > 0 && c.CullerInterval < c.Guard.PollInterval {
		return &keepalive.ConfigError{Field: "culler interval", Value: c.CullerInterval, Reason: "must not be shorter than the poll interval"}
	}
	if c.Hooks.Timeout < 0 {
		return &keepalive.ConfigError{Field: "hooks timeout", Value: c.Hooks.Timeout, Reason: "must not be negative"}
	}
	return nil
}

// splitList accepts both yaml lists and the comma separated form used in env variables.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, s := range strings.Split(item, ",") {
			s = strings.ToLower(strings.TrimSpace(s))
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
