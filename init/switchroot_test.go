package main

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func writeTree(t *testing.T, root string, files ...string) {
	for _, f := range files {
		p := filepath.Join(root, f)
		if f[len(f)-1] == '/' {
			require.NoError(t, os.MkdirAll(p, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(f), 0o644))
	}
}

func listTree(t *testing.T, root string) []string {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel != "." {
			out = append(out, rel)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func openDir(t *testing.T, dir string) int {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	return fd
}

func TestCleanupDirRootSkipList(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root,
		"init",
		"nerves_initramfs.conf",
		"etc/nerves_initramfs.yaml",
		"lib/modules/a/b/c/deep.ko",
		"sbin/",
		"dev/console",
		"mnt/sbin/init",
		"proc/",
		"sys/",
	)
	require.NoError(t, os.Symlink("/mnt", filepath.Join(root, "mntlink")))
	// a symlink deeper in the tree must be removed, not followed
	require.NoError(t, os.Symlink("../../mnt", filepath.Join(root, "lib/modules/escape")))

	require.NoError(t, cleanupDir(openDir(t, root), rootSkipList))

	require.Equal(t, []string{"dev", "dev/console", "mnt", "mnt/sbin", "mnt/sbin/init", "proc", "sys"}, listTree(t, root))
}

func TestCleanupDirNonRootSkipList(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, "dev/x", "mnt/y", "proc/z", "sys/", "a/b/c")

	require.NoError(t, cleanupDir(openDir(t, root), nonrootSkipList))
	require.Empty(t, listTree(t, root))
}

func TestCleanupDirCollectsFailures(t *testing.T) {
	t.Parallel()

	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}

	root := t.TempDir()
	writeTree(t, root, "locked/a", "locked/b", "free/c", "file")
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o500))
	defer os.Chmod(locked, 0o755)

	err := cleanupDir(openDir(t, root), nonrootSkipList)
	require.Error(t, err)
	// the walk continues past the failures
	require.Equal(t, []string{"locked", "locked/a", "locked/b"}, listTree(t, root))
}

func TestSwitchRoot(t *testing.T) {
	t.Parallel()

	k := newFakeKernel(t)
	writeTree(t, k.root, "init", "etc/x", "dev/", "mnt/", "proc/", "sys/")

	require.NoError(t, switchRoot(k, "/mnt"))
	require.Equal(t, []string{
		"mount /dev /mnt/dev  0x2000 ",
		"unmount /sys",
		"unmount /proc",
		"open /",
		"rmdir /sys",
		"rmdir /proc",
		"chdir /mnt",
		"mount . /  0x2000 ",
		"chroot .",
	}, k.calls)
	require.Equal(t, []string{"dev", "mnt", "proc", "sys"}, listTree(t, k.root))
}

func TestSwitchRootBestEffortSteps(t *testing.T) {
	t.Parallel()

	k := newFakeKernel(t)
	for _, c := range []string{"mount /dev", "unmount", "open /", "rmdir", "chdir", "chroot"} {
		k.fail(c, unix.EINVAL)
	}

	require.NoError(t, switchRoot(k, "/mnt"))
	require.Len(t, k.callsWith("mount . /"), 1)
}

func TestSwitchRootMoveFailureIsFatal(t *testing.T) {
	t.Parallel()

	k := newFakeKernel(t)
	k.fail("mount . /", unix.EINVAL)

	err := switchRoot(k, "/mnt")
	require.ErrorContains(t, err, "moving / failed")
	require.Empty(t, k.callsWith("chroot"))
}

func TestSetupInitramfs(t *testing.T) {
	t.Parallel()

	k := newFakeKernel(t)
	k.fail("mkdir /dev", unix.EEXIST)
	require.NoError(t, setupInitramfs(k))
	require.Equal(t, []string{
		"mkdir /mnt 755",
		"mkdir /dev 755",
		"mkdir /sys 555",
		"mkdir /proc 555",
		"mount devtmpfs /dev devtmpfs 0xa mode=755,size=5%",
		"mount sysfs /sys sysfs 0xe ",
		"mount proc /proc proc 0xe ",
	}, k.calls)
}

func TestSetupInitramfsCollectsFailures(t *testing.T) {
	t.Parallel()

	k := newFakeKernel(t)
	k.fail("mkdir /mnt", unix.EROFS)
	k.fail("mount sysfs", unix.ENODEV)
	k.fail("mount proc", unix.ENODEV)

	err := setupInitramfs(k)
	require.Error(t, err)
	require.Contains(t, err.Error(), "mkdir(/mnt)")
	require.Contains(t, err.Error(), "Can't mount /sys")
	require.Contains(t, err.Error(), "Can't mount /proc")
	// every mount is still attempted
	require.Len(t, k.callsWith("mount"), 3)
}
