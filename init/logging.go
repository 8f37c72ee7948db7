package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/siderolabs/go-kmsg"
	"golang.org/x/sys/unix"
)

const programName = "nerves_initramfs"

const (
	levelError = iota
	levelWarning
	levelInfo
	levelDebug
)

var (
	verbosityLevel = levelInfo // by default show info messages and errors

	// logOutput is stderr until /dev/kmsg can be opened
	logOutput io.Writer = os.Stderr
	logToKmsg bool

	exit = os.Exit
)

// openKmsg switches the log output to the kernel log buffer. It is safe to call it before /dev is
// mounted, in that case messages keep going to stderr.
func openKmsg() {
	if logToKmsg {
		return
	}
	f, err := os.OpenFile("/dev/kmsg", os.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return
	}
	logOutput = &kmsg.Writer{KmsgWriter: f}
	logToKmsg = true
}

func parseLogLevel(level string) (int, error) {
	switch strings.ToLower(level) {
	case "debug":
		return levelDebug, nil
	case "info", "":
		return levelInfo, nil
	case "warning", "warn":
		return levelWarning, nil
	case "error":
		return levelError, nil
	default:
		return levelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

func writeLine(kernelLevel int, msg string) {
	if logToKmsg {
		// The maximum size of the kmsg is determined by LOG_LINE_MAX in kernel/printk/printk.c
		// Currently the kernel limit is 976. Trim our messages to something smaller than the limit.
		if len(msg) > 903 {
			msg = msg[:900] + "..."
		}
		_, _ = fmt.Fprint(logOutput, "<", kernelLevel, ">", programName, ": ", msg, "\n")
		return
	}
	_, _ = fmt.Fprint(logOutput, programName, ": ", msg, "\r\n")
}

func printMessage(format string, requestedLevel, kernelLevel int, v ...interface{}) {
	if verbosityLevel < requestedLevel {
		return
	}
	writeLine(kernelLevel, fmt.Sprintf(format, v...))
}

func debug(format string, v ...interface{}) {
	printMessage(format, levelDebug, 7, v...)
}

func info(format string, v ...interface{}) {
	printMessage(format, levelInfo, 6, v...)
}

func warning(format string, v ...interface{}) {
	printMessage(format, levelWarning, 4, v...)
}

// this is for critical error messages, call this function 'severe' to avoid name clashing with error class
func severe(format string, v ...interface{}) {
	printMessage(format, levelError, 2, v...)
}

// logEach logs every error wrapped in a multierror on its own line
func logEach(err error, log func(format string, v ...interface{})) {
	if err == nil {
		return
	}
	if merr, ok := err.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			log("%v", e)
		}
		return
	}
	log("%v", err)
}

func fatalMarker(marker string) {
	if logToKmsg {
		_, _ = fmt.Fprint(logOutput, "<2>", programName, ": ", marker, "\n")
		return
	}
	_, _ = fmt.Fprint(logOutput, "\r\n\r\n", marker, "\r\n")
}

// fatal logs the message regardless of the verbosity level and terminates the process.
// Running as PID 1 the non-zero exit makes the kernel panic.
func fatal(format string, v ...interface{}) {
	fatalMarker("FATAL ERROR:")
	severe(format, v...)
	fatalMarker("CANNOT CONTINUE.")
	exit(1)
}

const sysKmsgFile = "/proc/sys/kernel/printk_devkmsg"

func disableKmsgThrottling() error {
	data, err := os.ReadFile(sysKmsgFile)
	if err != nil {
		return err
	}
	enable := []byte("on\n")
	if bytes.Equal(data, enable) {
		return nil
	}

	return os.WriteFile(sysKmsgFile, enable, 0o644)
}
