package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemZeroBytes(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	MemZeroBytes(data)
	require.Equal(t, make([]byte, 16), data)
}

func TestFixedArrayToString(t *testing.T) {
	t.Parallel()

	check := func(input []byte, expected string) {
		require.Equal(t, expected, fixedArrayToString(input))
	}

	check([]byte{}, "")
	check([]byte("r"), "r")
	check([]byte("rootfs\x00\x00\x00"), "rootfs")
	check([]byte("h\x00llo"), "h")
	check([]byte{'\x00'}, "")
}

func TestStripQuotes(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", stripQuotes(`"abc"`))
	require.Equal(t, "abc", stripQuotes(`'abc'`))
	require.Equal(t, `"abc'`, stripQuotes(`"abc'`))
	require.Equal(t, `"`, stripQuotes(`"`))
	require.Equal(t, "", stripQuotes(`""`))
	require.Equal(t, "abc", stripQuotes("abc"))
}

func TestDeviceNoRegularFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "regular")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	// regular files have no device number
	devNo, err := deviceNo(file)
	require.NoError(t, err)
	require.Equal(t, uint64(0), devNo)

	_, err = deviceNo(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
