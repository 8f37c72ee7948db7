package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openTestDevice(t *testing.T, path string, size int64) *resolvedDevice {
	file := filepath.Join(t.TempDir(), "blk")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	require.NoError(t, os.Truncate(file, size))
	f, err := os.Open(file)
	require.NoError(t, err)
	return &resolvedDevice{path: path, file: f}
}

func TestMountPlain(t *testing.T) {
	t.Parallel()

	k := newFakeKernel(t)
	dev := openTestDevice(t, "/dev/mmcblk0p2", 4096)

	require.NoError(t, mountPlain(k, "/dev/mmcblk0p2", dev, "ext4"))
	require.Nil(t, dev.file)
	require.Equal(t, []string{"mount /dev/mmcblk0p2 /mnt ext4 0x1 "}, k.calls)
}

func TestMountPlainWrongFilesystem(t *testing.T) {
	t.Parallel()

	k := newFakeKernel(t)
	k.fail("mount", unix.EINVAL)
	dev := openTestDevice(t, "/dev/mmcblk0p2", 4096)

	err := mountPlain(k, "PARTLABEL=rootfs", dev, "squashfs")
	require.ErrorContains(t, err, "Expecting squashfs filesystem on PARTLABEL=rootfs(/dev/mmcblk0p2)")
}

func TestMountEncrypted(t *testing.T) {
	t.Parallel()

	k := newFakeKernel(t)
	b, _ := newTestCryptBuilder(k, "")
	const size = 8 * 1024 * 1024
	dev := openTestDevice(t, "/dev/mmcblk0p3", size)

	require.NoError(t, mountEncrypted(k, b, "/dev/mmcblk0p3", dev, "squashfs", "aes-cbc-plain", "00"))
	require.Nil(t, dev.file)
	require.Equal(t, []string{
		"open /dev/loop0",
		"ioctl /dev/loop0 0x4c00",
		"open /dev/mapper/control",
		"ioctl /dev/mapper/control 0xc138fd03",
		"ioctl /dev/mapper/control 0xc138fd09",
		"ioctl /dev/mapper/control 0xc138fd06",
		"close /dev/mapper/control",
		"mount /dev/dm-0 /mnt squashfs 0x1 ",
		"close /dev/loop0",
	}, k.calls)

	spec, params := decodeDmTarget(t, k.ioctls[1].buf)
	require.Equal(t, uint64(size/512), spec.Length)
	require.Equal(t, "aes-cbc-plain 00 0 /dev/loop0 0", params)
}

func TestMountEncryptedFailures(t *testing.T) {
	t.Parallel()

	check := func(prefix, message string) *fakeKernel {
		k := newFakeKernel(t)
		b, _ := newTestCryptBuilder(k, "")
		k.fail(prefix, unix.EINVAL)
		dev := openTestDevice(t, "/dev/mmcblk0p3", 1<<20)

		err := mountEncrypted(k, b, "/dev/mmcblk0p3", dev, "squashfs", "aes-cbc-plain", "00")
		require.ErrorContains(t, err, message)
		require.Nil(t, dev.file)
		return k
	}

	k := check("open /dev/loop0", "Enable CONFIG_BLK_DEV_LOOP in kernel")
	require.Empty(t, k.callsWith("open /dev/mapper"))
	check("ioctl /dev/loop0", "LOOP_SET_FD failed")
	check("ioctl /dev/mapper/control 0xc138fd09", "Check CONFIG_DM_CRYPT and crypto algs enabled")
	k = check("mount /dev/dm-0", "Expecting squashfs filesystem on /dev/mmcblk0p3(/dev/mmcblk0p3)")
	require.Empty(t, k.callsWith("close /dev/loop0"))
}
