package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// InitDeviceWaitConfig tunes how long init waits for the root block device to appear.
type InitDeviceWaitConfig struct {
	Attempts    int    `yaml:",omitempty"`
	Interval    string `yaml:",omitempty"` // e.g. 10us
	Backoff     string `yaml:",omitempty"` // constant or exponential
	MaxInterval string `yaml:"max_interval,omitempty"`
}

type InitConfig struct {
	DeviceWait *InitDeviceWaitConfig `yaml:"device_wait,omitempty"`
	LogLevel   string                `yaml:"log_level,omitempty"`
}

const initConfigPath = "/etc/nerves_initramfs.yaml"

const (
	// Device nodes show up asynchronously, these defaults give roughly 10ms for the root device
	// to appear.
	defaultWaitAttempts    = 1000
	defaultWaitInterval    = 10 * time.Microsecond
	defaultWaitMaxInterval = time.Second
)

const (
	backoffConstant    = "constant"
	backoffExponential = "exponential"
)

// waitPolicy is the parsed form of InitDeviceWaitConfig
type waitPolicy struct {
	attempts    int
	interval    time.Duration
	backoff     string
	maxInterval time.Duration
}

func defaultWaitPolicy() waitPolicy {
	return waitPolicy{
		attempts:    defaultWaitAttempts,
		interval:    defaultWaitInterval,
		backoff:     backoffConstant,
		maxInterval: defaultWaitMaxInterval,
	}
}

func (c *InitConfig) waitPolicy() (waitPolicy, error) {
	p := defaultWaitPolicy()
	w := c.DeviceWait
	if w == nil {
		return p, nil
	}

	if w.Attempts < 0 {
		return p, fmt.Errorf("device_wait.attempts must not be negative: %d", w.Attempts)
	}
	if w.Attempts != 0 {
		p.attempts = w.Attempts
	}
	if w.Interval != "" {
		d, err := time.ParseDuration(w.Interval)
		if err != nil {
			return p, fmt.Errorf("device_wait.interval: %w", err)
		}
		p.interval = d
	}
	if w.MaxInterval != "" {
		d, err := time.ParseDuration(w.MaxInterval)
		if err != nil {
			return p, fmt.Errorf("device_wait.max_interval: %w", err)
		}
		p.maxInterval = d
	}
	switch w.Backoff {
	case "":
	case backoffConstant, backoffExponential:
		p.backoff = w.Backoff
	default:
		return p, fmt.Errorf("device_wait.backoff: unknown policy %q", w.Backoff)
	}

	return p, nil
}

func parseInitConfig(data []byte) (*InitConfig, error) {
	var c InitConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// readInitConfig reads the config generated at image build time. The file is optional.
func readInitConfig(path string) (*InitConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &InitConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	return parseInitConfig(data)
}
