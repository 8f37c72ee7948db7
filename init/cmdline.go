package main

import (
	"strings"
)

const argPrefix = "--nerves_initramfs="

// parseArgs applies the process arguments to the configuration store. Arguments look like
// "--nerves_initramfs=key" which sets the boolean key to true, or "--nerves_initramfs=key=value"
// which sets a string. Everything else belongs to the real init and is ignored.
func parseArgs(v *vars, argv []string) {
	if len(argv) == 0 {
		return
	}
	for _, arg := range argv[1:] {
		if !strings.HasPrefix(arg, argPrefix) {
			continue
		}
		param := strings.TrimPrefix(arg, argPrefix)
		// separate key/value based on the first = character
		if idx := strings.IndexByte(param, '='); idx > -1 {
			key, val := param[:idx], param[idx+1:]
			if key == "" {
				warning("ignoring argument without a key: %s", arg)
				continue
			}
			v.setString(key, val)
		} else {
			if param == "" {
				warning("ignoring argument without a key: %s", arg)
				continue
			}
			v.setBool(param, true)
		}
	}
}
