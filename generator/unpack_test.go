package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testImage(t *testing.T, compression string) string {
	output := filepath.Join(t.TempDir(), "image")
	img, err := NewImage(output, compression)
	require.NoError(t, err)
	defer img.Cleanup()

	require.NoError(t, img.AppendContent("/init", 0o755, []byte("#!init")))
	require.NoError(t, img.AppendDirEntry("/mnt"))
	require.NoError(t, img.AppendContent("/etc/nerves_initramfs.yaml", 0o644, []byte("log_level: debug\n")))
	require.NoError(t, img.Close())
	return output
}

func TestLs(t *testing.T) {
	t.Parallel()

	for _, compression := range []string{"none", "xz", "lz4"} {
		var out bytes.Buffer
		require.NoError(t, runLs(testImage(t, compression), &out))
		require.Equal(t, "init\nmnt/\netc/\netc/nerves_initramfs.yaml\n", out.String(), compression)
	}
}

func TestCat(t *testing.T) {
	t.Parallel()

	image := testImage(t, "gzip")

	var out bytes.Buffer
	require.NoError(t, runCat(image, "/etc/nerves_initramfs.yaml", &out))
	require.Equal(t, "log_level: debug\n", out.String())

	out.Reset()
	require.NoError(t, runCat(image, "init", &out))
	require.Equal(t, "#!init", out.String())

	err := runCat(image, "/sbin/init", &out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "file /sbin/init not found")
}

func TestUnpack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, runUnpack(testImage(t, "zstd"), dir))

	data, err := os.ReadFile(filepath.Join(dir, "etc", "nerves_initramfs.yaml"))
	require.NoError(t, err)
	require.Equal(t, "log_level: debug\n", string(data))

	fi, err := os.Stat(filepath.Join(dir, "init"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), fi.Mode().Perm())

	fi, err = os.Stat(filepath.Join(dir, "mnt"))
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestProcessUnknownImage(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(file, []byte(strings.Repeat("x", 64)), 0o644))

	err := runLs(file, &bytes.Buffer{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown image format")
}
