package main

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

const newRoot = "/mnt"

func mountReadOnly(k kernel, source, fstype, spec, path string) error {
	if err := k.Mount(source, newRoot, fstype, unix.MS_RDONLY, ""); err != nil {
		return fmt.Errorf("Expecting %s filesystem on %s(%s): %w", fstype, spec, path, err)
	}
	return nil
}

// mountPlain mounts the resolved device directly
func mountPlain(k kernel, spec string, dev *resolvedDevice, fstype string) error {
	path := dev.path
	if err := dev.Close(); err != nil {
		debug("close(%s): %v", path, err)
	}
	return mountReadOnly(k, path, fstype, spec, path)
}

// mountEncrypted maps the resolved device through /dev/loop0 and a dm-crypt target and mounts
// the decrypted view.
func mountEncrypted(k kernel, b *cryptBuilder, spec string, dev *resolvedDevice, fstype, cipher, secret string) error {
	size, err := dev.file.Seek(0, io.SeekEnd)
	if err != nil {
		dev.Close()
		return fmt.Errorf("seek(%s): %w", dev.path, err)
	}
	if _, err := dev.file.Seek(0, io.SeekStart); err != nil {
		dev.Close()
		return fmt.Errorf("seek(%s): %w", dev.path, err)
	}
	debug("%s(%s) is %d bytes", spec, dev.path, size)

	loopFd, err := attachLoop(k, int(dev.file.Fd()))
	// the loop device holds its own reference to the backing file
	_ = dev.Close()
	if err != nil {
		return err
	}

	mapped, err := b.create(size, cipher, secret)
	if err != nil {
		return err
	}

	if err := mountReadOnly(k, mapped, fstype, spec, dev.path); err != nil {
		return err
	}

	// the mount keeps the loop device busy now
	_ = k.Close(loopFd)
	return nil
}
