package main

import (
	"bytes"
	"fmt"
	"os"
	"syscall"
)

func MemZeroBytes(bytes []byte) {
	for i := range bytes {
		bytes[i] = 0
	}
}

func fixedArrayToString(buff []byte) string {
	idx := bytes.IndexByte(buff, 0)
	if idx != -1 {
		buff = buff[:idx]
	}
	return string(buff)
}

// stripQuotes removes a matching pair of surrounding quotes
func stripQuotes(in string) string {
	if len(in) >= 2 && (in[0] == '"' || in[0] == '\'') && in[len(in)-1] == in[0] {
		return in[1 : len(in)-1]
	}
	return in
}

// deviceNo returns major/minor device number for the given device file
func deviceNo(path string) (uint64, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	sys, ok := stat.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("cannot determine the device major and minor numbers for %s", path)
	}

	return sys.Rdev, nil
}
