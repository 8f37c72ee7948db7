package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileType(t *testing.T) {
	dir := t.TempDir()
	check := func(compression, expectedType string) {
		fileName := dir + "/" + compression
		img, err := NewImage(fileName, compression)
		require.NoError(t, err)

		require.NoError(t, img.AppendContent("/foo.txt", 0o644, []byte("hello, world!")))
		require.NoError(t, img.Close())

		f, err := os.Open(fileName)
		require.NoError(t, err)
		defer f.Close()

		kind, err := filetype(f)
		require.NoError(t, err)

		require.Equal(t, expectedType, kind)
	}

	check("zstd", "zstd")
	check("gzip", "gzip")
	check("xz", "xz")
	check("lz4", "lz4")
	check("none", "cpio")
}

func TestFileTypeUnknown(t *testing.T) {
	kind, err := filetype(bytes.NewReader([]byte("hi")))
	require.NoError(t, err)
	require.Equal(t, "", kind)

	kind, err = filetype(bytes.NewReader(nil))
	require.NoError(t, err)
	require.Equal(t, "", kind)
}
