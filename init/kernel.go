package main

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// kernel is the set of syscalls the boot sequence performs. The real implementation talks to the
// running kernel, tests substitute a recording fake.
type kernel interface {
	Getpid() int
	Mkdir(path string, mode uint32) error
	Rmdir(path string) error
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
	Chdir(path string) error
	Chroot(path string) error
	Open(path string, mode int) (int, error)
	Close(fd int) error
	IoctlSetInt(fd int, req uint, value int) error
	IoctlBuffer(fd int, req uintptr, buf []byte) error
	Exec(argv0 string, argv []string, envv []string) error
}

type unixKernel struct{}

func (unixKernel) Getpid() int { return unix.Getpid() }

func (unixKernel) Mkdir(path string, mode uint32) error { return unix.Mkdir(path, mode) }

func (unixKernel) Rmdir(path string) error { return unix.Rmdir(path) }

func (unixKernel) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (unixKernel) Unmount(target string, flags int) error { return unix.Unmount(target, flags) }

func (unixKernel) Chdir(path string) error { return unix.Chdir(path) }

func (unixKernel) Chroot(path string) error { return unix.Chroot(path) }

func (unixKernel) Open(path string, mode int) (int, error) {
	return unix.Open(path, mode|unix.O_CLOEXEC, 0)
}

func (unixKernel) Close(fd int) error { return unix.Close(fd) }

func (unixKernel) IoctlSetInt(fd int, req uint, value int) error {
	return unix.IoctlSetInt(fd, req, value)
}

func (unixKernel) IoctlBuffer(fd int, req uintptr, buf []byte) error {
	err := ioctl(uintptr(fd), req, uintptr(unsafe.Pointer(&buf[0])))
	runtime.KeepAlive(buf)
	return err
}

func (unixKernel) Exec(argv0 string, argv []string, envv []string) error {
	return unix.Exec(argv0, argv, envv)
}
