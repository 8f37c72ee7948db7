package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	directionWrite = 1
	directionRead  = 2

	numberBits    = 8
	typeBits      = 8
	sizeBits      = 14
	directionBits = 2

	numberShift    = 0
	typeShift      = numberShift + numberBits
	sizeShift      = typeShift + typeBits
	directionShift = sizeShift + sizeBits
)

// ioc calculates the ioctl command for the specified direction, type, number and size
func ioc(dir, t, nr, size uintptr) uintptr {
	return (dir << directionShift) | (t << typeShift) | (nr << numberShift) | (size << sizeShift)
}

// iowr calculates the ioctl command for a read/write-ioctl of the specified type, number and size
func iowr(t, nr, size uintptr) uintptr {
	return ioc(directionWrite|directionRead, t, nr, size)
}

// device-mapper control commands, see include/uapi/linux/dm-ioctl.h
const (
	dmIoctlType = 0xfd

	dmDevCreateCmd  = 3
	dmDevSuspendCmd = 6
	dmTableLoadCmd  = 9
)

func dmIoctl(cmd uintptr) uintptr {
	return iowr(dmIoctlType, cmd, unix.SizeofDmIoctl)
}

var (
	dmDevCreate  = dmIoctl(dmDevCreateCmd)
	dmDevSuspend = dmIoctl(dmDevSuspendCmd)
	dmTableLoad  = dmIoctl(dmTableLoadCmd)
)

// ioctl executes an ioctl command on the specified file descriptor
func ioctl(fd, cmd, ptr uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, cmd, ptr)
	if errno != 0 {
		return fmt.Errorf("ioctl(0x%x): %w", cmd, errno)
	}
	return nil
}
