package main

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

type mountPoint struct {
	path string
	mode uint32
}

var initramfsDirs = []mountPoint{
	{"/mnt", 0o755},
	{"/dev", 0o755},
	{"/sys", 0o555},
	{"/proc", 0o555},
}

type pseudoFs struct {
	source, target, fstype string
	flags                  uintptr
	data                   string
}

var pseudoFilesystems = []pseudoFs{
	// devtmpfs must be enabled in the kernel, it is not mounted automatically for an initramfs
	{"devtmpfs", "/dev", "devtmpfs", unix.MS_NOSUID | unix.MS_NOEXEC, "mode=755,size=5%"},
	{"sysfs", "/sys", "sysfs", unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC, ""},
	{"proc", "/proc", "proc", unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC, ""},
}

// setupInitramfs creates the mount points and mounts the pseudo filesystems. Failures do not
// stop the boot, all of them are returned so the caller can report them.
func setupInitramfs(k kernel) error {
	var errs *multierror.Error

	for _, d := range initramfsDirs {
		if err := k.Mkdir(d.path, d.mode); err != nil && !errors.Is(err, unix.EEXIST) {
			errs = multierror.Append(errs, fmt.Errorf("mkdir(%s): %w", d.path, err))
		}
	}

	for _, fs := range pseudoFilesystems {
		if err := k.Mount(fs.source, fs.target, fs.fstype, fs.flags, fs.data); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("Can't mount %s: %w", fs.target, err))
		}
	}

	return errs.ErrorOrNil()
}
