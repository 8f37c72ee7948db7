package main

// The types below mirror the config that init reads at boot, keep them in sync with init/config.go.

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

const (
	initConfigPath = "/etc/nerves_initramfs.yaml"
	scriptPath     = "/nerves_initramfs.conf"
)
