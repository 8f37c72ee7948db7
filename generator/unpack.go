package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cavaliergopher/cpio"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

var errStop = fmt.Errorf("Stop Processing")

type processCpioEntryFn func(header *cpio.Header, reader *cpio.Reader) error

func processImage(file string, fn processCpioEntryFn) error {
	input, err := os.Open(file)
	if err != nil {
		return err
	}
	defer input.Close()

	var img *cpio.Reader

	kind, err := filetype(input)
	if err != nil {
		return err
	}

	switch kind {
	case "cpio":
		img = cpio.NewReader(input)
	case "zstd":
		zst, err := zstd.NewReader(input)
		if err != nil {
			return err
		}
		defer zst.Close()
		img = cpio.NewReader(zst)
	case "gzip":
		gz, err := gzip.NewReader(input)
		if err != nil {
			return err
		}
		defer gz.Close()
		img = cpio.NewReader(gz)
	case "xz":
		conf := xz.ReaderConfig{}
		if err := conf.Verify(); err != nil {
			return err
		}
		x, err := conf.NewReader(input)
		if err != nil {
			return err
		}
		img = cpio.NewReader(x)
	case "lz4":
		img = cpio.NewReader(newLz4Reader(input))
	default:
		return fmt.Errorf("%s: unknown image format", file)
	}

	for {
		hdr, err := img.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		err = fn(hdr, img)
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func runUnpack(image, dir string) error {
	fn := func(hdr *cpio.Header, r *cpio.Reader) error {
		out := filepath.Join(dir, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		m := hdr.Mode & 0o770000
		switch m {
		case cpio.TypeDir:
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
		case cpio.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, out); err != nil {
				return err
			}
		case cpio.TypeSocket, cpio.TypeBlock, cpio.TypeChar, cpio.TypeFifo:
			// for device files create an empty regular file
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			f.Close()
		case cpio.TypeReg:
			fout, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return err
			}
			_, err = io.Copy(fout, r)
			if cerr := fout.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
		default:
			warning("Unknown type for file %s: %#o", hdr.Name, m)
		}
		return nil
	}
	return processImage(image, fn)
}

func runCat(image, file string, w io.Writer) error {
	name := strings.TrimPrefix(filepath.Clean(file), "/")
	found := false
	fn := func(hdr *cpio.Header, r *cpio.Reader) error {
		if hdr.Name == name {
			found = true
			if _, err := io.Copy(w, r); err != nil {
				return err
			}
			return errStop
		}
		return nil
	}
	if err := processImage(image, fn); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: file %s not found", image, file)
	}
	return nil
}

func runLs(image string, w io.Writer) error {
	fn := func(hdr *cpio.Header, r *cpio.Reader) error {
		m := hdr.Mode & 0o770000
		switch m {
		case cpio.TypeDir:
			fmt.Fprintf(w, "%s/\n", hdr.Name)
		case cpio.TypeSymlink:
			fmt.Fprintf(w, "%s -> %s\n", hdr.Name, hdr.Linkname)
		case cpio.TypeSocket, cpio.TypeBlock, cpio.TypeChar, cpio.TypeFifo, cpio.TypeReg:
			fmt.Fprintln(w, hdr.Name)
		default:
			warning("Unknown mode for file %s: %#o", hdr.Name, m)
		}
		return nil
	}
	return processImage(image, fn)
}
