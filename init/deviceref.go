package main

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type refFormat uint8

const (
	refPath           refFormat = iota // path to the block device, e.g. "/dev/sda".
	refGptUUID                         // uuid of the gpt partition
	refGptUUIDPartoff                  // offset against a gpt partition with uuid
	refGptLabel
	refMbrUUID // dos partition in form of "<disk id>-<partition number>"
	refFsUUID
	refFsLabel
)

// The are many ways a user can specify root partition (using name, fs uuid, fs label, gpt attribute, ...).
// This struct abstracts this information and provides a convenient matching functions.
type deviceRef struct {
	format refFormat
	data   interface{}
}

type gptPartoffData struct {
	uuid   uuid.UUID
	offset int
}

type mbrPartData struct {
	diskID uint32
	num    int // starts with 1
}

func (d *deviceRef) isPartitionRef() bool {
	return d.format == refGptUUID || d.format == refGptUUIDPartoff || d.format == refGptLabel || d.format == refMbrUUID
}

func (d *deviceRef) matchesBlkInfo(info *blkInfo) bool {
	if !info.isFilesystem() {
		return false
	}
	switch d.format {
	case refFsUUID:
		return info.uuid != "" && strings.EqualFold(d.data.(string), info.uuid)
	case refFsLabel:
		return info.label != "" && d.data.(string) == info.label
	default:
		return false
	}
}

// calculateDevPath returns the partition device name. The kernel adds a 'p' separator if the disk
// name ends with a digit, e.g. mmcblk0p1, nvme0n1p1, loop0p1.
func calculateDevPath(parent string, partition int) string {
	name := parent
	if base := filepath.Base(parent); base != "" && base[len(base)-1] >= '0' && base[len(base)-1] <= '9' {
		name += "p"
	}
	name += strconv.Itoa(partition + 1) // devname partitions start with "1"
	return name
}

// resolveFromPartitionTable checks whether the partition table of the disk at devPath contains the
// referenced partition and returns the partition device path
func (d *deviceRef) resolveFromPartitionTable(devPath string, info *blkInfo) (string, bool) {
	switch d.format {
	case refGptUUID, refGptUUIDPartoff, refGptLabel:
		for _, p := range info.gptParts {
			switch d.format {
			case refGptUUID:
				if d.data.(uuid.UUID) == p.uuid {
					return calculateDevPath(devPath, p.num), true
				}
			case refGptUUIDPartoff:
				data := d.data.(gptPartoffData)
				if data.uuid == p.uuid {
					return calculateDevPath(devPath, p.num+data.offset), true
				}
			case refGptLabel:
				if d.data.(string) == p.name {
					return calculateDevPath(devPath, p.num), true
				}
			}
		}
	case refMbrUUID:
		if info.format != "mbr" {
			return "", false
		}
		data := d.data.(mbrPartData)
		if data.diskID != info.mbrID {
			return "", false
		}
		for _, num := range info.mbrParts {
			if num == data.num-1 {
				return calculateDevPath(devPath, num), true
			}
		}
	}

	return "", false
}

var mbrPartUUIDRe = regexp.MustCompile(`^([0-9a-fA-F]{8})-([0-9a-fA-F]{2})$`)

func parseMbrPartUUID(s string) (*deviceRef, bool) {
	m := mbrPartUUIDRe.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	id, _ := strconv.ParseUint(m[1], 16, 32)
	num, _ := strconv.ParseUint(m[2], 16, 8)
	if num == 0 {
		return nil, false
	}
	return &deviceRef{refMbrUUID, mbrPartData{uint32(id), int(num)}}, true
}

// normalizeFsUUID lowercases RFC 4122 UUIDs, other forms like the vfat "ABCD-1234" are kept as is
func normalizeFsUUID(s string) string {
	if u, err := uuid.Parse(s); err == nil {
		return u.String()
	}
	return s
}

func parsePartUUID(param, value string) (*deviceRef, error) {
	value = stripQuotes(value)
	if ref, ok := parseMbrPartUUID(value); ok {
		return ref, nil
	}
	u, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("unable to parse UUID parameter %s: %v", param, err)
	}
	return &deviceRef{refGptUUID, u}, nil
}

func parseDeviceRef(param string) (*deviceRef, error) {
	if param == "" {
		return nil, fmt.Errorf("block device is not specified")
	}

	if strings.HasPrefix(param, "UUID=") {
		id := stripQuotes(strings.TrimPrefix(param, "UUID="))
		if id == "" {
			return nil, fmt.Errorf("unable to parse UUID parameter %s", param)
		}
		return &deviceRef{refFsUUID, normalizeFsUUID(id)}, nil
	}
	if strings.HasPrefix(param, "/dev/disk/by-uuid/") {
		id := strings.TrimPrefix(param, "/dev/disk/by-uuid/")
		return &deviceRef{refFsUUID, normalizeFsUUID(id)}, nil
	}
	if strings.HasPrefix(param, "LABEL=") {
		label := stripQuotes(strings.TrimPrefix(param, "LABEL="))
		return &deviceRef{refFsLabel, label}, nil
	}
	if strings.HasPrefix(param, "/dev/disk/by-label/") {
		label := strings.TrimPrefix(param, "/dev/disk/by-label/")
		return &deviceRef{refFsLabel, label}, nil
	}

	if strings.HasPrefix(param, "PARTUUID=") {
		value := strings.TrimPrefix(param, "PARTUUID=")

		if idx := strings.Index(value, "/PARTNROFF="); idx != -1 {
			off := value[idx+11:]
			value = value[:idx]
			partnoff, err := strconv.Atoi(off)
			if err != nil {
				return nil, fmt.Errorf("unable to parse PARTNROFF= value %s", off)
			}
			u, err := uuid.Parse(stripQuotes(value))
			if err != nil {
				return nil, fmt.Errorf("unable to parse UUID parameter %s: %v", param, err)
			}
			return &deviceRef{refGptUUIDPartoff, gptPartoffData{u, partnoff}}, nil
		}
		return parsePartUUID(param, value)
	}
	if strings.HasPrefix(param, "/dev/disk/by-partuuid/") {
		return parsePartUUID(param, strings.TrimPrefix(param, "/dev/disk/by-partuuid/"))
	}
	if strings.HasPrefix(param, "PARTLABEL=") {
		label := stripQuotes(strings.TrimPrefix(param, "PARTLABEL="))
		return &deviceRef{refGptLabel, label}, nil
	}
	if strings.HasPrefix(param, "/dev/disk/by-partlabel/") {
		label := strings.TrimPrefix(param, "/dev/disk/by-partlabel/")
		return &deviceRef{refGptLabel, label}, nil
	}

	if strings.HasPrefix(param, "/dev/") {
		return &deviceRef{refPath, param}, nil
	}

	return nil, fmt.Errorf("unable to parse block device '%s'", param)
}
