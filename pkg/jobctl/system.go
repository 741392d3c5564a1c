package jobctl

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/go-delve/jobctl/pkg/tty"
)

// Tribool is a boolean that can also be unknown.
type Tribool int8

const (
	Unknown Tribool = iota - 1
	False
	True
)

func (t Tribool) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// System is the boundary between the controller and the operating system.
type System interface {
	Capture(fd int) (*tty.State, error)
	Apply(s *tty.State, fd int, what tty.Field) error
	Foreground(fd int) (int, error)
	SetForeground(fd, pgrp int) error

	Getpgid(pid int) (int, error)
	Getsid(pid int) (int, error)
	Kill(pid int, sig syscall.Signal) error

	// SharingInputTerminal reports whether the standard input of process
	// pid is the file referred to by fd.
	SharingInputTerminal(pid, fd int) Tribool
	// IsDebuggerTerminal reports whether the terminal named name is the
	// one referred to by fd.
	IsDebuggerTerminal(name string, fd int) Tribool

	// OpenPTY allocates a new pseudo-terminal pair.
	OpenPTY() (master, slave *os.File, err error)
	// InheritSize copies the window size of the terminal referred to by
	// fromFd to the one referred to by toFd.
	InheritSize(fromFd, toFd int) error
}

// Reaper disposes of session leaders of debugger-created terminals.
type Reaper interface {
	// Hangup tells the session leader pid that its terminal is going away.
	Hangup(pid int) error
	// Reap waits for pid to exit.
	Reap(pid int) (unix.WaitStatus, error)
}

type hostSystem struct{}

// HostSystem returns a System backed by the host operating system.
func HostSystem() System {
	return hostSystem{}
}

func (hostSystem) Capture(fd int) (*tty.State, error) {
	return tty.Capture(fd)
}

func (hostSystem) Apply(s *tty.State, fd int, what tty.Field) error {
	return s.Apply(fd, what)
}

func (hostSystem) Foreground(fd int) (int, error) {
	return tty.Foreground(fd)
}

func (hostSystem) SetForeground(fd, pgrp int) error {
	return tty.SetForeground(fd, pgrp)
}

func (hostSystem) Getpgid(pid int) (int, error) {
	return unix.Getpgid(pid)
}

func (hostSystem) Getsid(pid int) (int, error) {
	return unix.Getsid(pid)
}

func (hostSystem) Kill(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}

func (hostSystem) SharingInputTerminal(pid, fd int) Tribool {
	return sharingInputTerminal(pid, fd)
}

func (hostSystem) IsDebuggerTerminal(name string, fd int) Tribool {
	same, known := tty.SameFile(name, fd)
	switch {
	case !known:
		return Unknown
	case same:
		return True
	default:
		return False
	}
}

func (hostSystem) OpenPTY() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("could not allocate pseudo-terminal: %w", err)
	}
	return master, slave, nil
}

// InheritSize works on the raw descriptors: going through an *os.File
// would put a non-blocking pty master back into blocking mode.
func (hostSystem) InheritSize(fromFd, toFd int) error {
	ws, err := unix.IoctlGetWinsize(fromFd, unix.TIOCGWINSZ)
	if err != nil {
		return fmt.Errorf("getting window size of %d: %w", fromFd, err)
	}
	if err := unix.IoctlSetWinsize(toFd, unix.TIOCSWINSZ, ws); err != nil {
		return fmt.Errorf("setting window size of %d: %w", toFd, err)
	}
	return nil
}

type hostReaper struct{}

// HostReaper returns a Reaper that signals and waits for session leaders
// directly.
func HostReaper() Reaper {
	return hostReaper{}
}

func (hostReaper) Hangup(pid int) error {
	return unix.Kill(pid, unix.SIGHUP)
}

func (hostReaper) Reap(pid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return ws, err
		}
		if wpid != pid {
			return ws, fmt.Errorf("wait4 returned %d", wpid)
		}
		return ws, nil
	}
}
