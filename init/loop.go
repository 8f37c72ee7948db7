package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const loopDevice = "/dev/loop0"

// attachLoop binds backingFd to /dev/loop0 and returns the descriptor of the loop device.
// Nothing else runs in the initramfs so the first loop device is always free.
func attachLoop(k kernel, backingFd int) (int, error) {
	loopFd, err := k.Open(loopDevice, unix.O_RDONLY)
	if err != nil {
		return -1, fmt.Errorf("Enable CONFIG_BLK_DEV_LOOP in kernel: open(%s): %w", loopDevice, err)
	}

	if err := k.IoctlSetInt(loopFd, unix.LOOP_SET_FD, backingFd); err != nil {
		_ = k.Close(loopFd)
		return -1, fmt.Errorf("LOOP_SET_FD failed: %w", err)
	}

	return loopFd, nil
}
