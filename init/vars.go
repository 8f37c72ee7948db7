package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type valueKind uint8

const (
	kindString valueKind = iota
	kindBool
	kindNumber
)

func (k valueKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindBool:
		return "bool"
	case kindNumber:
		return "number"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// value is a typed scalar held by the configuration store
type value struct {
	kind    valueKind
	str     string
	boolean bool
	number  int64
}

func stringValue(s string) value { return value{kind: kindString, str: s} }
func boolValue(b bool) value     { return value{kind: kindBool, boolean: b} }
func numberValue(n int64) value  { return value{kind: kindNumber, number: n} }

func (v value) String() string {
	switch v.kind {
	case kindBool:
		return strconv.FormatBool(v.boolean)
	case kindNumber:
		return strconv.FormatInt(v.number, 10)
	default:
		return v.str
	}
}

// asBool converts the value to a boolean. Strings coming from the kernel command line or
// the U-Boot environment are accepted in their usual spellings.
func (v value) asBool() bool {
	switch v.kind {
	case kindBool:
		return v.boolean
	case kindNumber:
		return v.number != 0
	default:
		switch strings.ToLower(strings.TrimSpace(v.str)) {
		case "1", "true", "yes", "on", "y":
			return true
		default:
			return false
		}
	}
}

func (v value) asNumber() int64 {
	switch v.kind {
	case kindNumber:
		return v.number
	case kindBool:
		if v.boolean {
			return 1
		}
		return 0
	default:
		n, err := strconv.ParseInt(strings.TrimSpace(v.str), 0, 64)
		if err != nil {
			return 0
		}
		return n
	}
}

// vars is the configuration store. Keys are dotted names like "rootfs.path".
type vars struct {
	values map[string]value
}

func newVars() *vars {
	return &vars{values: make(map[string]value)}
}

// defaultVars returns the store populated with the built-in defaults
func defaultVars() *vars {
	v := newVars()

	v.setString("rootfs.fstype", "squashfs")
	v.setString("rootfs.path", "/dev/mmcblk0p2")
	v.setBool("rootfs.encrypted", false)
	v.setString("rootfs.cipher", "")
	v.setString("rootfs.secret", "")

	v.setString("uboot_env.path", "/dev/mmcblk0")
	v.setBool("uboot_env.loaded", false)
	v.setBool("uboot_env.modified", false)
	v.setNumber("uboot_env.start", 256)
	v.setNumber("uboot_env.count", 256)

	v.setBool("run_repl", false)

	return v
}

func (v *vars) set(key string, val value) {
	v.values[key] = val
}

func (v *vars) setString(key, s string)       { v.set(key, stringValue(s)) }
func (v *vars) setBool(key string, b bool)    { v.set(key, boolValue(b)) }
func (v *vars) setNumber(key string, n int64) { v.set(key, numberValue(n)) }

func (v *vars) get(key string) (value, bool) {
	val, ok := v.values[key]
	return val, ok
}

// getString returns the value converted to a string, missing keys read as ""
func (v *vars) getString(key string) string {
	return v.values[key].String()
}

func (v *vars) getBool(key string) bool {
	val, ok := v.values[key]
	return ok && val.asBool()
}

func (v *vars) getNumber(key string) int64 {
	val, ok := v.values[key]
	if !ok {
		return 0
	}
	return val.asNumber()
}

func (v *vars) keys() []string {
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
