package main

import (
	"fmt"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

type fakeIoctl struct {
	path string
	req  uintptr
	buf  []byte
}

// fakeKernel records the syscalls issued by the boot code. Opening "/" gives a real descriptor of
// the root directory so cleanup runs against an actual tree.
type fakeKernel struct {
	t *testing.T

	pid      int
	root     string
	calls    []string
	failures map[string]error

	nextFd  int
	fds     map[int]string
	realFds map[int]bool
	ioctls  []fakeIoctl
	exec    []string
}

func newFakeKernel(t *testing.T) *fakeKernel {
	return &fakeKernel{
		t:        t,
		pid:      1,
		root:     t.TempDir(),
		failures: make(map[string]error),
		nextFd:   100,
		fds:      make(map[int]string),
		realFds:  make(map[int]bool),
	}
}

// fail makes every call whose record starts with prefix return err
func (k *fakeKernel) fail(prefix string, err error) {
	k.failures[prefix] = err
}

func (k *fakeKernel) record(format string, v ...interface{}) error {
	c := fmt.Sprintf(format, v...)
	k.calls = append(k.calls, c)
	for prefix, err := range k.failures {
		if strings.HasPrefix(c, prefix) {
			return err
		}
	}
	return nil
}

// callsWith returns the recorded calls starting with prefix
func (k *fakeKernel) callsWith(prefix string) []string {
	var out []string
	for _, c := range k.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (k *fakeKernel) Getpid() int { return k.pid }

func (k *fakeKernel) Mkdir(path string, mode uint32) error {
	return k.record("mkdir %s %o", path, mode)
}

func (k *fakeKernel) Rmdir(path string) error { return k.record("rmdir %s", path) }

func (k *fakeKernel) Mount(source, target, fstype string, flags uintptr, data string) error {
	return k.record("mount %s %s %s %#x %s", source, target, fstype, flags, data)
}

func (k *fakeKernel) Unmount(target string, flags int) error {
	return k.record("unmount %s", target)
}

func (k *fakeKernel) Chdir(path string) error { return k.record("chdir %s", path) }

func (k *fakeKernel) Chroot(path string) error { return k.record("chroot %s", path) }

func (k *fakeKernel) Open(path string, mode int) (int, error) {
	if err := k.record("open %s", path); err != nil {
		return -1, err
	}
	if path == "/" {
		fd, err := unix.Open(k.root, mode|unix.O_CLOEXEC, 0)
		if err != nil {
			return -1, err
		}
		k.realFds[fd] = true
		return fd, nil
	}
	fd := k.nextFd
	k.nextFd++
	k.fds[fd] = path
	return fd, nil
}

func (k *fakeKernel) Close(fd int) error {
	if k.realFds[fd] {
		delete(k.realFds, fd)
		return unix.Close(fd)
	}
	path, ok := k.fds[fd]
	if !ok {
		k.t.Errorf("close of unknown fd %d", fd)
		return unix.EBADF
	}
	delete(k.fds, fd)
	return k.record("close %s", path)
}

func (k *fakeKernel) IoctlSetInt(fd int, req uint, value int) error {
	return k.record("ioctl %s %#x", k.fds[fd], req)
}

func (k *fakeKernel) IoctlBuffer(fd int, req uintptr, buf []byte) error {
	if err := k.record("ioctl %s %#x", k.fds[fd], req); err != nil {
		return err
	}
	k.ioctls = append(k.ioctls, fakeIoctl{path: k.fds[fd], req: req, buf: append([]byte(nil), buf...)})
	return nil
}

func (k *fakeKernel) Exec(argv0 string, argv []string, envv []string) error {
	k.exec = append([]string{argv0}, argv...)
	return k.record("exec %s", argv0)
}
