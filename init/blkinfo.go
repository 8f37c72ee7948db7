package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"
)

type gptPart struct {
	num      int // starts with 0
	typeGUID uuid.UUID
	uuid     uuid.UUID
	name     string
}

type blkInfo struct {
	format string // gpt, mbr, ext4, btrfs, ...
	uuid   string
	label  string

	gptParts []gptPart
	mbrID    uint32
	mbrParts []int // indexes of the used primary partitions
}

// isFilesystem reports whether the device holds a filesystem rather than a partition table
func (b *blkInfo) isFilesystem() bool {
	return b.format != "gpt" && b.format != "mbr"
}

type probeFn func(r io.ReaderAt) *blkInfo

var probes = []probeFn{probeGpt, probeSquashfs, probeExt4, probeBtrfs, probeXfs, probeVfat, probeMbr}

// readBlkInfo detects the partition table or filesystem stored on the block device
func readBlkInfo(r io.ReaderAt) (*blkInfo, error) {
	for _, fn := range probes {
		if info := fn(r); info != nil {
			return info, nil
		}
	}

	return nil, fmt.Errorf("cannot detect block device type")
}

// gptGUID converts the mixed-endian on-disk form into a UUID
func gptGUID(b []byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:16])
	return u
}

func probeGpt(r io.ReaderAt) *blkInfo {
	const (
		// https://wiki.osdev.org/GPT
		tableHeaderOffset = 0x200
		signatureOffset   = 0x0
		guidOffset        = 0x38
		entriesLbaOffset  = 0x48
		numEntriesOffset  = 0x50
		entrySizeOffset   = 0x54
		sectorSize        = 512
		maxEntries        = 256

		entryTypeOffset = 0x0
		entryUUIDOffset = 0x10
		entryNameOffset = 0x38
		entryNameLength = 72
	)
	hdr := make([]byte, 0x5c)
	if _, err := r.ReadAt(hdr, tableHeaderOffset); err != nil {
		return nil
	}
	if !bytes.Equal(hdr[signatureOffset:signatureOffset+8], []byte("EFI PART")) {
		return nil
	}
	info := &blkInfo{format: "gpt", uuid: gptGUID(hdr[guidOffset:]).String()}

	entriesLba := binary.LittleEndian.Uint64(hdr[entriesLbaOffset:])
	numEntries := binary.LittleEndian.Uint32(hdr[numEntriesOffset:])
	entrySize := binary.LittleEndian.Uint32(hdr[entrySizeOffset:])
	if numEntries > maxEntries || entrySize < entryNameOffset+entryNameLength {
		return info
	}

	table := make([]byte, int(numEntries)*int(entrySize))
	if _, err := r.ReadAt(table, int64(entriesLba)*sectorSize); err != nil {
		return info
	}
	var zero uuid.UUID
	for i := 0; i < int(numEntries); i++ {
		entry := table[i*int(entrySize):]
		typeGUID := gptGUID(entry[entryTypeOffset:])
		if typeGUID == zero {
			continue // unused entry
		}

		name := make([]uint16, entryNameLength/2)
		for j := range name {
			name[j] = binary.LittleEndian.Uint16(entry[entryNameOffset+2*j:])
		}
		info.gptParts = append(info.gptParts, gptPart{
			num:      i,
			typeGUID: typeGUID,
			uuid:     gptGUID(entry[entryUUIDOffset:]),
			name:     strings.TrimRight(string(utf16.Decode(name)), "\x00"),
		})
	}

	return info
}

func probeMbr(r io.ReaderAt) *blkInfo {
	const (
		// https://wiki.osdev.org/MBR_(x86)
		bootSignatureOffset = 0x1fe
		bootSignature       = "\x55\xaa"
		idOffset            = 0x1b8
		partTableOffset     = 0x1be
		partEntrySize       = 16
		partTypeOffset      = 4
	)
	sector := make([]byte, 512)
	if _, err := r.ReadAt(sector, 0); err != nil {
		return nil
	}
	if string(sector[bootSignatureOffset:]) != bootSignature {
		return nil
	}

	info := &blkInfo{format: "mbr", mbrID: binary.LittleEndian.Uint32(sector[idOffset:])}
	info.uuid = fmt.Sprintf("%08x", info.mbrID)
	for i := 0; i < 4; i++ {
		entry := sector[partTableOffset+i*partEntrySize:]
		if entry[0] != 0x00 && entry[0] != 0x80 {
			// not a partition table, e.g. a filesystem boot sector
			return nil
		}
		if entry[partTypeOffset] != 0 {
			info.mbrParts = append(info.mbrParts, i)
		}
	}
	return info
}

func probeSquashfs(r io.ReaderAt) *blkInfo {
	magic := make([]byte, 4)
	if _, err := r.ReadAt(magic, 0); err != nil {
		return nil
	}
	if string(magic) != "hsqs" {
		return nil
	}
	// squashfs has neither uuid nor label
	return &blkInfo{format: "squashfs"}
}

func probeExt4(r io.ReaderAt) *blkInfo {
	const (
		// from fs/ext4/ext4.h
		extSuperblockOffset = 0x400
		extMagicOffset      = 0x38
		extUUIDOffset       = 0x68
		extLabelOffset      = 0x78
		extMagic            = "\x53\xef"
	)

	magic := make([]byte, 2)
	if _, err := r.ReadAt(magic, extSuperblockOffset+extMagicOffset); err != nil {
		return nil
	}
	if string(magic) != extMagic {
		return nil
	}
	id := make([]byte, 16)
	if _, err := r.ReadAt(id, extSuperblockOffset+extUUIDOffset); err != nil {
		return nil
	}
	label := make([]byte, 16)
	if _, err := r.ReadAt(label, extSuperblockOffset+extLabelOffset); err != nil {
		return nil
	}
	return &blkInfo{format: "ext4", uuid: uuidString(id), label: fixedArrayToString(label)}
}

func probeBtrfs(r io.ReaderAt) *blkInfo {
	// https://btrfs.wiki.kernel.org/index.php/On-disk_Format
	const (
		btrfsSuperblockOffset = 0x10000
		btrfsMagicOffset      = 0x40
		btrfsUUIDOffset       = 0x11b
		btrfsLabelOffset      = 0x12b
		btrfsMagic            = "_BHRfS_M"
	)

	magic := make([]byte, 8)
	if _, err := r.ReadAt(magic, btrfsSuperblockOffset+btrfsMagicOffset); err != nil {
		return nil
	}
	if !bytes.Equal(magic, []byte(btrfsMagic)) {
		return nil
	}
	id := make([]byte, 16)
	if _, err := r.ReadAt(id, btrfsSuperblockOffset+btrfsUUIDOffset); err != nil {
		return nil
	}
	label := make([]byte, 256)
	if _, err := r.ReadAt(label, btrfsSuperblockOffset+btrfsLabelOffset); err != nil {
		return nil
	}
	return &blkInfo{format: "btrfs", uuid: uuidString(id), label: fixedArrayToString(label)}
}

func probeXfs(r io.ReaderAt) *blkInfo {
	// https://righteousit.wordpress.com/2018/05/21/xfs-part-1-superblock
	const (
		xfsSuperblockOffset = 0x0
		xfsMagicOffset      = 0x0
		xfsUUIDOffset       = 0x20
		xfsLabelOffset      = 0x6c
		xfsMagic            = "XFSB"
	)

	magic := make([]byte, 4)
	if _, err := r.ReadAt(magic, xfsSuperblockOffset+xfsMagicOffset); err != nil {
		return nil
	}
	if !bytes.Equal(magic, []byte(xfsMagic)) {
		return nil
	}
	id := make([]byte, 16)
	if _, err := r.ReadAt(id, xfsSuperblockOffset+xfsUUIDOffset); err != nil {
		return nil
	}
	label := make([]byte, 12)
	if _, err := r.ReadAt(label, xfsSuperblockOffset+xfsLabelOffset); err != nil {
		return nil
	}
	return &blkInfo{format: "xfs", uuid: uuidString(id), label: fixedArrayToString(label)}
}

func probeVfat(r io.ReaderAt) *blkInfo {
	// https://en.wikipedia.org/wiki/Design_of_the_FAT_file_system#Boot_Sector
	const (
		fat32TypeOffset   = 0x52
		fat32SerialOffset = 0x43
		fat32LabelOffset  = 0x47
		fatTypeOffset     = 0x36
		fatSerialOffset   = 0x27
		fatLabelOffset    = 0x2b
	)
	sector := make([]byte, 512)
	if _, err := r.ReadAt(sector, 0); err != nil {
		return nil
	}
	if string(sector[0x1fe:]) != "\x55\xaa" {
		return nil
	}

	var serialOffset, labelOffset int
	switch {
	case string(sector[fat32TypeOffset:fat32TypeOffset+5]) == "FAT32":
		serialOffset, labelOffset = fat32SerialOffset, fat32LabelOffset
	case string(sector[fatTypeOffset:fatTypeOffset+4]) == "FAT1":
		serialOffset, labelOffset = fatSerialOffset, fatLabelOffset
	default:
		return nil
	}

	serial := binary.LittleEndian.Uint32(sector[serialOffset:])
	label := strings.TrimRight(string(sector[labelOffset:labelOffset+11]), " \x00")
	if label == "NO NAME" {
		label = ""
	}
	return &blkInfo{
		format: "vfat",
		uuid:   fmt.Sprintf("%04X-%04X", serial>>16, serial&0xffff),
		label:  label,
	}
}

func uuidString(id []byte) string {
	u, err := uuid.FromBytes(id)
	if err != nil {
		return ""
	}
	return u.String()
}
