package main

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cavaliergopher/cpio"
	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

type set map[string]bool

type Image struct {
	file       *renameio.PendingFile
	compressor io.WriteCloser // nil for uncompressed images
	out        *cpio.Writer
	contains   set // whether image contains the file
}

func NewImage(path string, compression string) (*Image, error) {
	file, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, err
	}

	var compressor io.WriteCloser
	switch compression {
	case "zstd":
		compressor, err = zstd.NewWriter(file)
	case "gzip":
		compressor = gzip.NewWriter(file)
	case "xz":
		// the kernel xz decompressor supports CRC32 checksums only
		conf := xz.WriterConfig{CheckSum: xz.CRC32}
		if err = conf.Verify(); err == nil {
			compressor, err = conf.NewWriter(file)
		}
	case "lz4":
		compressor, err = newLz4Writer(file)
	case "none":
	default:
		err = fmt.Errorf("Unknown compression format: %s", compression)
	}
	if err != nil {
		_ = file.Cleanup()
		return nil, err
	}

	var out *cpio.Writer
	if compressor != nil {
		out = cpio.NewWriter(compressor)
	} else {
		out = cpio.NewWriter(file)
	}

	return &Image{
		file:       file,
		compressor: compressor,
		out:        out,
		contains:   make(set),
	}, nil
}

// Cleanup removes the temporary file. It is a no-op after a successful Close.
func (img *Image) Cleanup() {
	_ = img.file.Cleanup()
}

func (img *Image) Close() error {
	if err := img.out.Close(); err != nil {
		return err
	}
	if img.compressor != nil {
		if err := img.compressor.Close(); err != nil {
			return err
		}
	}
	return img.file.CloseAtomicallyReplace()
}

// AppendDirEntry appends directory entry to the image (and its parent if it is needed).
// It does not add the directory content
func (img *Image) AppendDirEntry(dir string) error {
	if img.contains[dir] {
		return nil
	}
	img.contains[dir] = true

	if dir == "/" {
		return nil
	}

	parent := path.Dir(dir)
	if err := img.AppendDirEntry(parent); err != nil {
		return err
	}

	hdr := &cpio.Header{
		Name: strings.TrimPrefix(dir, "/"),
		Mode: cpio.FileMode(0o755) | cpio.TypeDir,
	}
	return img.out.WriteHeader(hdr)
}

// AppendContent adds a regular file with the given content, parent directories are added as needed.
func (img *Image) AppendContent(dest string, mode os.FileMode, content []byte) error {
	dest = path.Clean(dest)

	if img.contains[dest] {
		return fmt.Errorf("file %s is added to the image twice", dest)
	}
	img.contains[dest] = true

	// append parent dirs first
	if err := img.AppendDirEntry(path.Dir(dest)); err != nil {
		return err
	}

	hdr := &cpio.Header{
		Name: strings.TrimPrefix(dest, "/"),
		Mode: cpio.FileMode(mode.Perm()) | cpio.TypeReg,
		Size: int64(len(content)),
	}
	if err := img.out.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := img.out.Write(content)
	return err
}

// AppendFile copies the host file src to dest in the image.
// If input is a directory then content is added to the image recursively. Symlinks are followed.
func (img *Image) AppendFile(src, dest string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}

	if fi.IsDir() {
		if err := img.AppendDirEntry(path.Clean(dest)); err != nil {
			return err
		}

		files, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := img.AppendFile(filepath.Join(src, f.Name()), path.Join(dest, f.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s: only regular files and directories can be added to the image", src)
	}
	content, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	debug("adding %s as %s", src, dest)
	return img.AppendContent(dest, fi.Mode().Perm(), content)
}

func elfSectionContent(s *elf.Section) (string, error) {
	b, err := s.Data()
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, '\x00'); i != -1 {
		b = b[:i]
	}
	return string(b), nil
}

// checkStaticElf warns if the binary cannot run from the image. The image carries no shared libraries
// so the binary has to be statically linked.
func checkStaticElf(name string, content []byte) {
	ef, err := elf.NewFile(bytes.NewReader(content))
	if err != nil {
		warning("%s is not an ELF binary: %v", name, err)
		return
	}
	defer ef.Close()

	if ef.Type != elf.ET_EXEC && ef.Type != elf.ET_DYN {
		warning("%s is not an executable, ELF type %v", name, ef.Type)
		return
	}
	if is := ef.Section(".interp"); is != nil {
		interp, err := elfSectionContent(is)
		if err != nil {
			warning("%s: %v", name, err)
			return
		}
		warning("%s is dynamically linked (interpreter %s)", name, interp)
	}
}
