package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitConfigDefaults(t *testing.T) {
	t.Parallel()

	c, err := readInitConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Nil(t, c.DeviceWait)

	p, err := c.waitPolicy()
	require.NoError(t, err)
	require.Equal(t, 1000, p.attempts)
	require.Equal(t, 10*time.Microsecond, p.interval)
	require.Equal(t, backoffConstant, p.backoff)
}

func TestInitConfigParse(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "nerves_initramfs.yaml")
	data := `device_wait:
  attempts: 50
  interval: 2ms
  backoff: exponential
  max_interval: 100ms
log_level: debug
`
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))

	c, err := readInitConfig(file)
	require.NoError(t, err)
	require.Equal(t, "debug", c.LogLevel)

	p, err := c.waitPolicy()
	require.NoError(t, err)
	require.Equal(t, waitPolicy{
		attempts:    50,
		interval:    2 * time.Millisecond,
		backoff:     backoffExponential,
		maxInterval: 100 * time.Millisecond,
	}, p)
}

func TestInitConfigInvalid(t *testing.T) {
	t.Parallel()

	check := func(data string) {
		c, err := parseInitConfig([]byte(data))
		require.NoError(t, err)
		_, err = c.waitPolicy()
		require.Error(t, err)
	}

	check("device_wait:\n  attempts: -1\n")
	check("device_wait:\n  interval: soon\n")
	check("device_wait:\n  max_interval: 5 parsecs\n")
	check("device_wait:\n  backoff: fibonacci\n")

	_, err := parseInitConfig([]byte("device_wait: [1, 2"))
	require.Error(t, err)
}
