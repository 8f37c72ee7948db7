package main

import (
	"encoding/binary"
	"fmt"

	"github.com/anatol/devmapper.go"
	"golang.org/x/sys/unix"
)

const (
	dmControlPath = "/dev/mapper/control"
	dmMappedPath  = "/dev/dm-0"

	dmName       = "rootfs"
	dmUUID       = "CRYPT-PLAIN-rootfs"
	dmTargetType = "crypt"

	dmBufferSize = 16384
	sectorSize   = 512
)

var dmVersion = [3]uint32{4, 0, 0}

// dmRequest encodes device-mapper ioctl requests into a fixed size buffer. The same buffer is
// reused for every request and wiped in between since table requests carry the key.
type dmRequest struct {
	buf []byte
}

func newDmRequest() *dmRequest {
	return &dmRequest{buf: make([]byte, dmBufferSize)}
}

func (r *dmRequest) wipe() {
	MemZeroBytes(r.buf)
}

func dmHeader(flags uint32, targets uint32) *unix.DmIoctl {
	hdr := &unix.DmIoctl{
		Version:      dmVersion,
		Data_size:    dmBufferSize,
		Data_start:   unix.SizeofDmIoctl,
		Target_count: targets,
		Flags:        flags,
	}
	copy(hdr.Name[:], dmName)
	return hdr
}

// encode fills the buffer with the header followed by the optional target spec and its
// NUL terminated parameter string.
func (r *dmRequest) encode(hdr *unix.DmIoctl, target *unix.DmTargetSpec, params string) error {
	need := unix.SizeofDmIoctl
	if target != nil {
		need += unix.SizeofDmTargetSpec + len(params) + 1
	}
	if need > len(r.buf) {
		return fmt.Errorf("device-mapper request needs %d bytes, buffer is %d", need, len(r.buf))
	}

	r.wipe()
	off, err := binary.Encode(r.buf, binary.NativeEndian, hdr)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	n, err := binary.Encode(r.buf[off:], binary.NativeEndian, target)
	if err != nil {
		return err
	}
	off += n
	copy(r.buf[off:], params)
	// the terminating NUL is already there after wipe()
	return nil
}

// cryptBuilder creates the "rootfs" crypt mapping on top of the loop device
type cryptBuilder struct {
	k            kernel
	req          *dmRequest
	lookupMapper func(path string) (name, uuid string, err error)
}

func newCryptBuilder(k kernel) *cryptBuilder {
	return &cryptBuilder{
		k:            k,
		req:          newDmRequest(),
		lookupMapper: lookupMapperDevice,
	}
}

func lookupMapperDevice(path string) (string, string, error) {
	devNo, err := deviceNo(path)
	if err != nil {
		return "", "", err
	}
	info, err := devmapper.InfoByDevno(devNo)
	if err != nil {
		return "", "", fmt.Errorf("devmapper.Info(%s): %v", path, err)
	}
	return info.Name, info.UUID, nil
}

func cryptParams(cipher, secret string) string {
	return fmt.Sprintf("%s %s 0 %s 0", cipher, secret, loopDevice)
}

// create sets up the mapping over /dev/loop0 and returns the path of the mapped device.
// size is the size of the backing device in bytes.
func (b *cryptBuilder) create(size int64, cipher, secret string) (string, error) {
	if name, _, err := b.lookupMapper(dmMappedPath); err == nil {
		return "", fmt.Errorf("%s is already mapped as '%s'", dmMappedPath, name)
	}

	control, err := b.k.Open(dmControlPath, unix.O_RDWR)
	if err != nil {
		return "", fmt.Errorf("Enable CONFIG_DM_CRYPT in kernel: open(%s): %w", dmControlPath, err)
	}
	defer b.k.Close(control)
	defer b.req.wipe()

	if err := b.submit(control, dmDevCreate, dmCreateHeader(), nil, ""); err != nil {
		return "", fmt.Errorf("Enable CONFIG_DM_CRYPT in kernel: %w", err)
	}

	target := &unix.DmTargetSpec{
		Sector_start: 0,
		Length:       uint64(size / sectorSize),
	}
	copy(target.Target_type[:], dmTargetType)
	err = b.submit(control, dmTableLoad, dmHeader(unix.DM_SECURE_DATA_FLAG, 1), target, cryptParams(cipher, secret))
	if err != nil {
		return "", fmt.Errorf("Check CONFIG_DM_CRYPT and crypto algs enabled: %w", err)
	}

	// without DM_SUSPEND_FLAG this request resumes the device which makes the loaded table live
	if err := b.submit(control, dmDevSuspend, dmHeader(unix.DM_SECURE_DATA_FLAG, 0), nil, ""); err != nil {
		return "", fmt.Errorf("DM_DEV_SUSPEND failed: %w", err)
	}

	name, _, err := b.lookupMapper(dmMappedPath)
	switch {
	case err != nil:
		warning("unable to verify %s: %v", dmMappedPath, err)
	case name != dmName:
		return "", fmt.Errorf("%s is mapped as '%s', expected '%s'", dmMappedPath, name, dmName)
	}

	return dmMappedPath, nil
}

func dmCreateHeader() *unix.DmIoctl {
	hdr := dmHeader(0, 0)
	copy(hdr.Uuid[:], dmUUID)
	return hdr
}

func (b *cryptBuilder) submit(fd int, cmd uintptr, hdr *unix.DmIoctl, target *unix.DmTargetSpec, params string) error {
	if err := b.req.encode(hdr, target, params); err != nil {
		return err
	}
	return b.k.IoctlBuffer(fd, cmd, b.req.buf)
}
