package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

const replPrompt = "nerves_initramfs> "

type lineReader interface {
	ReadLine() (string, error)
}

// evalInteractive evaluates one shell line and echoes the outcome
func evalInteractive(s *script, out io.Writer, line string) {
	val, err := s.evalLine(line)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	if val != nil {
		fmt.Fprintln(out, val.String())
	}
}

// replTerminal runs the shell with line editing until the input is closed (Ctrl-D)
func replTerminal(s *script, t lineReader, out io.Writer) error {
	for {
		line, err := t.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, term.ErrPasteIndicator) {
			return err
		}
		evalInteractive(s, out, line)
	}
}

// replLines runs the shell over a plain stream, e.g. a serial console that is not a tty
func replLines(s *script, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, replPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		evalInteractive(s, out, scanner.Text())
	}
}

// runShell starts the diagnostic shell on the console. Boot continues once the input is closed.
func runShell(s *script, in *os.File, out io.Writer) error {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return replLines(s, in, out)
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("MakeRaw: %v", err)
	}
	defer term.Restore(fd, state)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{in, out}, replPrompt)
	if width, height, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(width, height)
	}
	return replTerminal(s, t, t)
}
