package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

var (
	rootSkipList    = []string{".", "..", "dev", "mnt", "proc", "sys"}
	nonrootSkipList = []string{".", ".."}
)

// cleanupFrame is a directory being emptied by cleanupDir
type cleanupFrame struct {
	dir     *os.File
	entries []os.DirEntry
	skip    []string
	parent  int // -1 for the top level directory
	name    string
}

func newCleanupFrame(fd int, parent int, name string, skip []string) (*cleanupFrame, error) {
	dir := os.NewFile(uintptr(fd), name)
	entries, err := dir.ReadDir(-1)
	if err != nil {
		_ = dir.Close()
		return nil, fmt.Errorf("readdir(%s): %w", name, err)
	}
	return &cleanupFrame{dir: dir, entries: entries, skip: skip, parent: parent, name: name}, nil
}

// cleanupDir removes the content of the directory referred by dirfd and takes ownership of the
// descriptor. All removals are relative to the parent descriptor so symlinks are never followed
// and other mounts are only entered if they are mounted on a directory inside the tree.
// Entries listed in skip are kept at the top level, deeper levels only skip "." and "..".
// Failures are collected and the walk continues.
func cleanupDir(dirfd int, skip []string) error {
	var errs *multierror.Error

	top, err := newCleanupFrame(dirfd, -1, ".", skip)
	if err != nil {
		return err
	}
	stack := []*cleanupFrame{top}

	for len(stack) > 0 {
		f := stack[len(stack)-1]

		if len(f.entries) == 0 {
			stack = stack[:len(stack)-1]
			_ = f.dir.Close()
			if f.parent != -1 {
				if err := unix.Unlinkat(f.parent, f.name, unix.AT_REMOVEDIR); err != nil {
					errs = multierror.Append(errs, fmt.Errorf("unlinkat directory %s: %w", f.name, err))
				}
			}
			continue
		}

		entry := f.entries[0]
		f.entries = f.entries[1:]
		name := entry.Name()
		if slices.Contains(f.skip, name) {
			continue
		}
		parent := int(f.dir.Fd())

		if !entry.IsDir() {
			if err := unix.Unlinkat(parent, name, 0); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("unlinkat %s: %w", name, err))
			}
			continue
		}

		fd, err := unix.Openat(parent, name, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("openat %s: %w", name, err))
			// the directory might be empty already
			if err := unix.Unlinkat(parent, name, unix.AT_REMOVEDIR); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("unlinkat directory %s: %w", name, err))
			}
			continue
		}
		child, err := newCleanupFrame(fd, parent, name, nonrootSkipList)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		stack = append(stack, child)
	}

	return errs.ErrorOrNil()
}

// switchRoot makes staging the new root directory. Everything left in the initramfs is removed
// since the memory it occupies cannot be reclaimed otherwise.
func switchRoot(k kernel, staging string) error {
	if err := k.Mount("/dev", staging+"/dev", "", unix.MS_MOVE, ""); err != nil {
		warning("moving /dev failed: %v", err)
	}

	// the next init mounts them again
	if err := k.Unmount("/sys", 0); err != nil {
		warning("unmounting /sys failed: %v", err)
	}
	if err := k.Unmount("/proc", 0); err != nil {
		warning("unmounting /proc failed: %v", err)
	}

	rootFd, err := k.Open("/", unix.O_RDONLY|unix.O_DIRECTORY)
	if err != nil {
		warning("open(/): %v", err)
	} else {
		logEach(cleanupDir(rootFd, rootSkipList), warning)
	}

	if err := k.Rmdir("/sys"); err != nil {
		debug("rmdir(/sys): %v", err)
	}
	if err := k.Rmdir("/proc"); err != nil {
		debug("rmdir(/proc): %v", err)
	}

	if err := k.Chdir(staging); err != nil {
		debug("chdir(%s): %v", staging, err)
	}

	if err := k.Mount(".", "/", "", unix.MS_MOVE, ""); err != nil {
		return fmt.Errorf("moving / failed: %w", err)
	}

	// fix ".."
	if err := k.Chroot("."); err != nil {
		debug("chroot(.): %v", err)
	}

	return nil
}
