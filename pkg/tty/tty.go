// Package tty captures and restores the state of a terminal: its termios
// attributes, its foreground process group and the descriptor flags of the
// file descriptor used to reach it.
package tty

import (
	"errors"
	"fmt"
	"io"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
)

// ErrNotTerminal is returned by Capture when the file descriptor does not
// refer to a terminal.
var ErrNotTerminal = errors.New("not a terminal")

// Field selects which parts of a State Apply writes back.
type Field uint8

const (
	// Attrs are the termios attributes.
	Attrs Field = 1 << iota
	// Flags are the descriptor flags (F_SETFL).
	Flags
	// ForegroundGroup is the foreground process group of the terminal.
	ForegroundGroup

	All = Attrs | Flags | ForegroundGroup
)

// State is a snapshot of a terminal. States are never modified after they
// are captured, derived states are copies.
type State struct {
	termios unix.Termios
	flags   int
	pgrp    int
	hasPgrp bool
}

// Capture reads the state of the terminal referred to by fd.
// The foreground process group is optional: it is only known when fd is the
// controlling terminal of the caller.
func Capture(fd int) (*State, error) {
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, fmt.Errorf("%w: fd %d: %v", ErrNotTerminal, fd, err)
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return nil, fmt.Errorf("fcntl(%d, F_GETFL): %w", fd, err)
	}
	s := &State{termios: *t, flags: flags}
	if pgrp, err := Foreground(fd); err == nil {
		s.pgrp, s.hasPgrp = pgrp, true
	}
	return s, nil
}

// Apply writes the parts of s selected by what to the terminal referred to
// by fd. Every selected part is attempted even if an earlier one fails, the
// returned error joins all failures.
func (s *State) Apply(fd int, what Field) error {
	var errs []error
	if what&Attrs != 0 {
		t := s.termios
		if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &t); err != nil {
			errs = append(errs, fmt.Errorf("tcsetattr(%d): %w", fd, err))
		}
	}
	if what&Flags != 0 {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, s.flags); err != nil {
			errs = append(errs, fmt.Errorf("fcntl(%d, F_SETFL): %w", fd, err))
		}
	}
	if what&ForegroundGroup != 0 && s.hasPgrp {
		if err := SetForeground(fd, s.pgrp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Raw returns a copy of s with echo, canonical mode and CR/NL input
// translation disabled. ISIG is left alone so that the terminal driver
// still turns ^C into SIGINT. Output processing is cleared only when
// clearOflag is set.
func (s *State) Raw(clearOflag bool) *State {
	r := *s
	t := &r.termios
	t.Iflag &^= unix.INLCR | unix.IGNCR | unix.ICRNL
	if clearOflag {
		t.Oflag = 0
	}
	t.Lflag &^= unix.ECHO | unix.ICANON
	t.Cflag &^= unix.CSIZE
	t.Cflag |= unix.CLOCAL | unix.CS8
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	return &r
}

// WithPgrp returns a copy of s whose foreground process group is pgrp.
func (s *State) WithPgrp(pgrp int) *State {
	r := *s
	r.pgrp, r.hasPgrp = pgrp, true
	return &r
}

// WithPgrpOf returns a copy of s with the foreground process group of o,
// known or not.
func (s *State) WithPgrpOf(o *State) *State {
	r := *s
	r.pgrp, r.hasPgrp = o.pgrp, o.hasPgrp
	return &r
}

// Pgrp returns the foreground process group recorded in s.
func (s *State) Pgrp() (pgrp int, ok bool) {
	return s.pgrp, s.hasPgrp
}

// Flags returns the descriptor flags recorded in s.
func (s *State) Flags() int {
	return s.flags
}

// Termios returns a copy of the termios attributes recorded in s.
func (s *State) Termios() unix.Termios {
	return s.termios
}

// Equal reports whether s and o describe the same terminal state.
func (s *State) Equal(o *State) bool {
	if s == nil || o == nil {
		return s == o
	}
	return *s == *o
}

// Describe writes a human readable dump of s to w.
func (s *State) Describe(w io.Writer) {
	fmt.Fprintf(w, "File descriptor flags = %s\n", DescribeFlags(s.flags))
	pgrp := -1
	if s.hasPgrp {
		pgrp = s.pgrp
	}
	fmt.Fprintf(w, "Process group = %d\n", pgrp)
	t := &s.termios
	fmt.Fprintf(w, "c_iflag = %#x, c_oflag = %#x,\n", t.Iflag, t.Oflag)
	describeCflagLflag(w, t)
	fmt.Fprintf(w, "c_cc: ")
	for _, c := range t.Cc {
		fmt.Fprintf(w, "%#x ", c)
	}
	fmt.Fprintf(w, "\n")
}

// DescribeFlags formats descriptor flags as returned by F_GETFL.
func DescribeFlags(flags int) string {
	var s string
	switch flags & unix.O_ACCMODE {
	case unix.O_RDONLY:
		s = "O_RDONLY"
	case unix.O_WRONLY:
		s = "O_WRONLY"
	case unix.O_RDWR:
		s = "O_RDWR"
	}
	flags &^= unix.O_ACCMODE
	if flags&unix.O_NONBLOCK != 0 {
		s += " | O_NONBLOCK"
	}
	flags &^= unix.O_NONBLOCK
	if flags&unix.O_APPEND != 0 {
		s += " | O_APPEND"
	}
	flags &^= unix.O_APPEND
	if flags != 0 {
		s += fmt.Sprintf(" | %#x", flags)
	}
	return s
}

// Foreground returns the foreground process group of the terminal referred
// to by fd.
func Foreground(fd int) (int, error) {
	pgrp, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
	if err != nil {
		return -1, fmt.Errorf("tcgetpgrp(%d): %w", fd, err)
	}
	return pgrp, nil
}

// SetForeground makes pgrp the foreground process group of the terminal
// referred to by fd. Callers that are not in the foreground must ignore
// SIGTTOU first.
func SetForeground(fd, pgrp int) error {
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgrp); err != nil {
		return fmt.Errorf("tcsetpgrp(%d, %d): %w", fd, pgrp, err)
	}
	return nil
}

// IsTerminal reports whether fd refers to a terminal.
func IsTerminal(fd int) bool {
	return isatty.IsTerminal(uintptr(fd))
}

// SameFile reports whether the file named name is the file referred to by
// fd. The name "/dev/tty" always designates the caller's own terminal.
// When either side cannot be inspected known is false.
func SameFile(name string, fd int) (same, known bool) {
	if name == "/dev/tty" {
		return true, true
	}
	var a, b unix.Stat_t
	if err := unix.Stat(name, &a); err != nil {
		return false, false
	}
	if err := unix.Fstat(fd, &b); err != nil {
		return false, false
	}
	return a.Dev == b.Dev && a.Ino == b.Ino, true
}
