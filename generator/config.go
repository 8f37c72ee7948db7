package main

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UserConfig is a format for the generator config file, flags values are applied on top of it
type UserConfig struct {
	Compression string                `yaml:",omitempty"`                   // output file compression
	InitBinary  string                `yaml:"init_binary,omitempty"`        // path to the init binary
	Script      string                `yaml:",omitempty"`                   // path to the configuration script
	ExtraFiles  string                `yaml:"extra_files,omitempty"`        // comma-separated list of host_path[:image_path]
	DeviceWait  *InitDeviceWaitConfig `yaml:"device_wait,omitempty"`
	LogLevel    string                `yaml:"log_level,omitempty"`
}

// extraFile is a host file copied to the image under dest
type extraFile struct {
	src, dest string
}

// An internal structure that represents configuration for the generator.
// It is essentially combination of UserConfig + flags
type generatorConfig struct {
	compression    string
	extraFiles     []extraFile
	output         string
	forceOverwrite bool // overwrite output file
	initBinary     string
	script         string
	initConfig     InitConfig
}

func parseExtraFile(s string) (extraFile, error) {
	src, dest, ok := strings.Cut(s, ":")
	if !ok {
		dest = src
	}
	if src == "" {
		return extraFile{}, fmt.Errorf("extra file %q: empty host path", s)
	}
	if !path.IsAbs(dest) {
		return extraFile{}, fmt.Errorf("extra file %q: image path %s must be absolute", s, dest)
	}
	return extraFile{src: src, dest: path.Clean(dest)}, nil
}

func validateDeviceWait(w *InitDeviceWaitConfig) error {
	if w.Attempts < 0 {
		return fmt.Errorf("device_wait.attempts must not be negative: %d", w.Attempts)
	}
	if w.Interval != "" {
		if _, err := time.ParseDuration(w.Interval); err != nil {
			return fmt.Errorf("device_wait.interval: %v", err)
		}
	}
	if w.MaxInterval != "" {
		if _, err := time.ParseDuration(w.MaxInterval); err != nil {
			return fmt.Errorf("device_wait.max_interval: %v", err)
		}
	}
	switch w.Backoff {
	case "", "constant", "exponential":
	default:
		return fmt.Errorf("device_wait.backoff: unknown policy %q", w.Backoff)
	}
	return nil
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "", "debug", "info", "warning", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
}

// read user config from the specified file. If file parameter is empty string then "empty" configuration is considered
// (as if empty file is specified).
// once the user config is parsed, flags values are applied on top of it.
func readGeneratorConfig(file string, flags *buildCommand) (*generatorConfig, error) {
	var u UserConfig

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("%s: %v", file, err)
		}
	}

	var conf generatorConfig

	conf.compression = u.Compression
	if flags.Compression != "" {
		conf.compression = flags.Compression
	}
	if conf.compression == "" {
		conf.compression = "zstd"
	}

	conf.initBinary = u.InitBinary
	if flags.InitBinary != "" {
		conf.initBinary = flags.InitBinary
	}
	if conf.initBinary == "" {
		return nil, fmt.Errorf("init binary is not specified, use --init-binary")
	}

	conf.script = u.Script
	if flags.Script != "" {
		conf.script = flags.Script
	}

	var extra []string
	if u.ExtraFiles != "" {
		extra = strings.Split(u.ExtraFiles, ",")
	}
	extra = append(extra, flags.ExtraFiles...)
	for _, e := range extra {
		f, err := parseExtraFile(strings.TrimSpace(e))
		if err != nil {
			return nil, err
		}
		conf.extraFiles = append(conf.extraFiles, f)
	}

	wait := InitDeviceWaitConfig{}
	if u.DeviceWait != nil {
		wait = *u.DeviceWait
	}
	if flags.WaitAttempts != 0 {
		wait.Attempts = flags.WaitAttempts
	}
	if flags.WaitInterval != "" {
		wait.Interval = flags.WaitInterval
	}
	if flags.WaitBackoff != "" {
		wait.Backoff = flags.WaitBackoff
	}
	if flags.WaitMaxInterval != "" {
		wait.MaxInterval = flags.WaitMaxInterval
	}
	if err := validateDeviceWait(&wait); err != nil {
		return nil, err
	}
	if wait != (InitDeviceWaitConfig{}) {
		conf.initConfig.DeviceWait = &wait
	}

	conf.initConfig.LogLevel = u.LogLevel
	if flags.LogLevel != "" {
		conf.initConfig.LogLevel = flags.LogLevel
	}
	if err := validateLogLevel(conf.initConfig.LogLevel); err != nil {
		return nil, err
	}

	conf.output = flags.Args.Output
	conf.forceOverwrite = flags.Force

	return &conf, nil
}
