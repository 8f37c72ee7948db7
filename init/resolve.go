package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

// resolvedDevice is an opened block device. The owner closes it once it is no longer needed.
type resolvedDevice struct {
	path string // path under /dev, used as the mount source
	file *os.File
}

func (d *resolvedDevice) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// blockResolver finds block devices by path, filesystem or partition attributes
type blockResolver struct {
	devDir        string
	sysClassBlock string
}

func newBlockResolver() *blockResolver {
	return &blockResolver{devDir: "/dev", sysClassBlock: "/sys/class/block"}
}

// hostPath maps a /dev path to the directory where device nodes live
func (r *blockResolver) hostPath(devPath string) string {
	return filepath.Join(r.devDir, strings.TrimPrefix(devPath, "/dev/"))
}

func (r *blockResolver) open(devPath string) (*resolvedDevice, error) {
	f, err := os.Open(r.hostPath(devPath))
	if err != nil {
		return nil, err
	}
	return &resolvedDevice{path: devPath, file: f}, nil
}

// Resolve opens the device described by spec. A malformed spec is reported as a permanent error,
// all other errors mean the device has not appeared (yet).
func (r *blockResolver) Resolve(spec string) (*resolvedDevice, error) {
	ref, err := parseDeviceRef(spec)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if ref.format == refPath {
		return r.open(ref.data.(string))
	}

	devices, err := os.ReadDir(r.sysClassBlock)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		devPath := "/dev/" + d.Name()
		path, err := r.match(ref, devPath)
		if err != nil {
			debug("%s: %v", devPath, err)
			continue
		}
		if path != "" {
			return r.open(path)
		}
	}

	return nil, fmt.Errorf("%s: no matching block device", spec)
}

// match probes the device and returns the path of the referenced device if devPath is it, or
// holds it in its partition table
func (r *blockResolver) match(ref *deviceRef, devPath string) (string, error) {
	f, err := os.Open(r.hostPath(devPath))
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := readBlkInfo(f)
	if err != nil {
		return "", err
	}
	debug("blkinfo for %s: type=%s UUID=%s LABEL=%s", devPath, info.format, info.uuid, info.label)

	if ref.isPartitionRef() {
		if path, ok := ref.resolveFromPartitionTable(devPath, info); ok {
			return path, nil
		}
		return "", nil
	}
	if ref.matchesBlkInfo(info) {
		return devPath, nil
	}
	return "", nil
}
