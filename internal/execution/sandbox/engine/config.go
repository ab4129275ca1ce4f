package engine

import (
	"time"

	"runbox/internal/execution/sandbox/monitorproto"
)

const (
	defaultOutputMaxBytes int64 = 64 * 1024
	defaultGracePeriod          = 500 * time.Millisecond
	maxGracePeriod              = time.Second
	defaultConfirmTimeout       = 2 * time.Second
)

// Config controls process supervision.
type Config struct {
	// PollInterval is the monitor sampling period.
	PollInterval time.Duration `yaml:"pollInterval"`
	// GracePeriod separates the polite signal from the forced kill. Capped at one second.
	GracePeriod time.Duration `yaml:"gracePeriod"`
	// ConfirmTimeout bounds how long the tree may linger after SIGKILL.
	ConfirmTimeout time.Duration `yaml:"confirmTimeout"`
	// OutputMaxBytes caps each of stdout and stderr.
	OutputMaxBytes int64 `yaml:"outputMaxBytes"`
	// ExitCodes are reported for limit kills.
	ExitCodes monitorproto.ExitCodeMapping `yaml:"exitCodes"`
	ProcRoot  string                       `yaml:"procRoot"`
	// MonitorHelper is the helper binary used by delegated supervision.
	MonitorHelper string `yaml:"monitorHelper"`
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.GracePeriod > maxGracePeriod {
		c.GracePeriod = maxGracePeriod
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = defaultConfirmTimeout
	}
	if c.OutputMaxBytes <= 0 {
		c.OutputMaxBytes = defaultOutputMaxBytes
	}
	if c.MonitorHelper == "" {
		c.MonitorHelper = "exec-monitor"
	}
	c.ExitCodes = c.ExitCodes.WithDefaults()
	return c
}
