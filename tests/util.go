package tests

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/anatol/vmtest"
)

var (
	kernelImage string // kernel with virtio-blk, ext4, loop and dm-crypt built in
	binariesDir string
)

func fileExists(file string) bool {
	_, err := os.Stat(file)
	return err == nil
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if testing.Verbose() {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %v", name, err)
	}
	return nil
}

// compileBinaries builds static init, generator and the test rootfs init into dir
func compileBinaries(dir string) error {
	for _, pkg := range []string{"init", "generator", "tests/hello"} {
		output := filepath.Join(dir, filepath.Base(pkg))
		if err := run("go", "build", "-o", output, "../"+pkg); err != nil {
			return err
		}
	}
	return nil
}

type Opts struct {
	compression string
	disk        string
	script      string   // content of the configuration script
	args        []string // arguments passed to init after "--"
	buildArgs   []string // extra generator flags
}

func buildVmInstance(t *testing.T, opts Opts) (*vmtest.Qemu, error) {
	if kernelImage == "" {
		t.Skip("qemu tests need NERVES_INITRAMFS_TEST_KERNEL")
	}
	dir := t.TempDir()
	output := filepath.Join(dir, "nerves_initramfs.img")

	buildArgs := []string{"build", "--init-binary", filepath.Join(binariesDir, "init")}
	if opts.compression != "" {
		buildArgs = append(buildArgs, "--compression", opts.compression)
	}
	if opts.script != "" {
		script := filepath.Join(dir, "nerves_initramfs.conf")
		if err := os.WriteFile(script, []byte(opts.script), 0o644); err != nil {
			return nil, err
		}
		buildArgs = append(buildArgs, "--script", script)
	}
	buildArgs = append(buildArgs, opts.buildArgs...)
	buildArgs = append(buildArgs, output)
	if err := run(filepath.Join(binariesDir, "generator"), buildArgs...); err != nil {
		return nil, err
	}

	var disks []vmtest.QemuDisk
	if opts.disk != "" {
		if err := checkAsset(opts.disk); err != nil {
			return nil, err
		}
		disks = append(disks, vmtest.QemuDisk{Path: opts.disk, Format: "raw", Controller: "virtio-blk-pci"})
	}

	params := []string{"-m", "512", "-no-reboot"}
	if os.Getenv("TEST_DISABLE_KVM") != "1" {
		params = append(params, "-enable-kvm", "-cpu", "host")
	}

	kernelArgs := []string{"console=ttyS0", "panic=-1"}
	if len(opts.args) > 0 {
		kernelArgs = append(kernelArgs, "--")
		kernelArgs = append(kernelArgs, opts.args...)
	}

	vmOpts := vmtest.QemuOptions{
		OperatingSystem: vmtest.OS_LINUX,
		Kernel:          kernelImage,
		InitRamFs:       output,
		Params:          params,
		Disks:           disks,
		Append:          kernelArgs,
		Verbose:         testing.Verbose(),
		Timeout:         40 * time.Second,
	}
	return vmtest.NewQemu(&vmOpts)
}

func waitArgs(attempts int) []string {
	return []string{"--wait-attempts", strconv.Itoa(attempts), "--wait-interval", "10ms"}
}
