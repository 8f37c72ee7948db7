package main

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

// The kernel unpacker understands only the legacy lz4 framing.

func newLz4Reader(r io.Reader) io.Reader {
	return lz4.NewReader(r)
}

func newLz4Writer(w io.Writer) (io.WriteCloser, error) {
	zw := lz4.NewWriter(w)
	if err := zw.Apply(lz4.LegacyOption(true)); err != nil {
		return nil, err
	}
	return zw, nil
}
