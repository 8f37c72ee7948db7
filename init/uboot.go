package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
)

const (
	ubootBlockSize = 512
	ubootMaxBlocks = 2048
	ubootVarPrefix = "uboot_env."
)

// parseUbootEnv decodes a U-Boot environment block: a little-endian CRC32 of the payload followed
// by NUL separated name=value pairs. An empty string ends the list.
func parseUbootEnv(data []byte) (map[string]string, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("environment is too short: %d bytes", len(data))
	}
	expected := binary.LittleEndian.Uint32(data)
	payload := data[4:]
	if actual := crc32.ChecksumIEEE(payload); actual != expected {
		return nil, fmt.Errorf("environment CRC mismatch: expected %08x, got %08x", expected, actual)
	}

	env := make(map[string]string)
	for _, kv := range bytes.Split(payload, []byte{0}) {
		if len(kv) == 0 {
			break
		}
		name, val, ok := strings.Cut(string(kv), "=")
		if !ok || name == "" {
			continue
		}
		env[name] = val
	}
	return env, nil
}

// loadUbootEnv imports the U-Boot environment into the store as uboot_env.<name> strings.
// The device is expected to be present already, it is tried once.
func loadUbootEnv(r resolver, v *vars) error {
	path := v.getString("uboot_env.path")
	start := v.getNumber("uboot_env.start")
	count := v.getNumber("uboot_env.count")
	if start < 0 || count <= 0 || count > ubootMaxBlocks {
		return fmt.Errorf("invalid U-Boot environment location: start=%d count=%d", start, count)
	}

	dev, err := r.Resolve(path)
	if err != nil {
		return err
	}
	defer dev.Close()

	data := make([]byte, count*ubootBlockSize)
	if _, err := dev.file.ReadAt(data, start*ubootBlockSize); err != nil {
		return fmt.Errorf("read(%s): %w", path, err)
	}
	env, err := parseUbootEnv(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	for name, val := range env {
		v.setString(ubootVarPrefix+name, val)
	}
	v.setBool("uboot_env.loaded", true)
	debug("loaded %d U-Boot variables from %s", len(env), path)
	return nil
}
