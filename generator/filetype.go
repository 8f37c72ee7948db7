package main

import (
	"bytes"
	"io"
)

// magic numbers of the image formats the kernel initramfs unpacker understands
var imageMagics = []struct {
	kind  string
	magic []byte
}{
	{"cpio", []byte("070701")}, // "new" ascii cpio format
	{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{"gzip", []byte{0x1f, 0x8b}},
	{"xz", []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{"lz4", []byte{0x02, 0x21, 0x4c, 0x18}}, // legacy format used by linux loader
}

// filetype detects the image format by its magic. It returns an empty string for unknown formats.
// The read position is left at the start of r.
func filetype(r io.ReadSeeker) (string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	head := make([]byte, 8)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	head = head[:n]
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	for _, m := range imageMagics {
		if bytes.HasPrefix(head, m.magic) {
			return m.kind, nil
		}
	}
	return "", nil
}
