package jobctl

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/go-delve/jobctl/pkg/tty"
)

// Spawner decides which terminal a new inferior is started on. A spawn
// goes through Prefork, ConfigureChild, the start of the process, and then
// Postfork (or Abort if the process could not be started).
type Spawner struct {
	c *Controller

	pending bool
	// name is the terminal selected for the child, empty means the
	// debugger's terminal.
	name     string
	master   *os.File
	masterFd int
	slave    *os.File
	opened   *os.File
}

// NewSpawner returns a spawner for inferiors whose terminals are tracked
// by c.
func (c *Controller) NewSpawner() *Spawner {
	return &Spawner{c: c, masterFd: -1}
}

// Prefork selects the terminal of the next inferior. A non empty name is
// used as is. Otherwise, if possible, a new pseudo-terminal is created. If
// creating it fails a *SetupError is returned and the inferior will share
// the debugger's terminal, the spawn can proceed.
func (s *Spawner) Prefork(name string) error {
	s.Abort()
	s.pending = true

	if name != "" {
		s.name = name
		return nil
	}
	if !s.c.caps.ManagedTerminals || s.c.loop == nil {
		return nil
	}

	master, slave, err := s.c.sys.OpenPTY()
	if err != nil {
		return &SetupError{Err: err}
	}
	fd := int(master.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		master.Close()
		slave.Close()
		return &SetupError{Err: fmt.Errorf("could not make pty master non-blocking: %w", err)}
	}
	s.master, s.masterFd, s.slave, s.name = master, fd, slave, slave.Name()

	if s.c.initial != nil {
		if err := s.c.sys.Apply(s.c.initial, fd, tty.Attrs); err != nil {
			s.c.mlog.Debugf("setting tty state of %s: %v", s.name, err)
		}
	}
	s.c.mlog.Debugf("created terminal %s", s.name)
	return nil
}

// CreatedManagedTTY reports whether Prefork created a pseudo-terminal.
func (s *Spawner) CreatedManagedTTY() bool {
	return s.master != nil
}

// TTYName returns the name of the terminal selected by Prefork, empty if
// the inferior shares the debugger's terminal.
func (s *Spawner) TTYName() string {
	return s.name
}

// switchesTerminal reports whether the child must be moved to a terminal
// other than the debugger's. When it can not be told whether name is the
// debugger's terminal it is assumed that it is.
func (s *Spawner) switchesTerminal() bool {
	return s.name != "" && s.c.sys.IsDebuggerTerminal(s.name, s.c.stdinFd) == False
}

// CreateSession reports whether the child must be made the leader of a new
// session, that is whether it runs on another terminal and job control is
// available.
func (s *Spawner) CreateSession() bool {
	return s.c.caps.JobControl && s.switchesTerminal()
}

// ConfigureChild sets up cmd so that the child process switches to the
// terminal selected by Prefork. The child is detached from the debugger's
// terminal by starting a new session, the selected terminal becomes its
// standard input, output, error and controlling terminal.
func (s *Spawner) ConfigureChild(cmd *exec.Cmd) error {
	if !s.pending {
		internalError("ConfigureChild called without Prefork")
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	attr := cmd.SysProcAttr

	if !s.switchesTerminal() {
		// Every child gets its own process group so that the terminal's
		// foreground can be moved to it.
		attr.Setpgid = s.c.caps.JobControl
		return nil
	}

	f := s.slave
	if f == nil {
		var err error
		f, err = os.OpenFile(s.name, os.O_RDWR|syscall.O_NOCTTY, 0)
		if err != nil {
			return fmt.Errorf("could not open terminal %s: %w", s.name, err)
		}
		s.opened = f
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = f, f, f

	if s.CreateSession() {
		attr.Setsid = true
		attr.Setctty = true
		attr.Ctty = 0
	} else {
		attr.Setpgid = s.c.caps.JobControl
	}
	return nil
}

// Postfork records the terminal of inf, which was started after Prefork
// and ConfigureChild. If a pseudo-terminal was created its output starts
// being forwarded to the debugger's stdout.
func (s *Spawner) Postfork(inf Inferior) error {
	if !s.pending {
		internalError("Postfork called without Prefork")
	}
	defer s.Abort()

	rec := s.c.record(inf)
	if rec.terminal != nil {
		internalError("inferior %d already has a terminal", inf.Num())
	}
	t := newManagedTerminal(s.name)
	t.acquire()
	rec.terminal = t

	if s.name == "" {
		t.name = "/dev/tty"
		return nil
	}
	if s.master == nil {
		return nil
	}

	t.master, t.masterFd = s.master, s.masterFd
	s.master, s.masterFd = nil, -1

	sid, err := s.c.sys.Getsid(inf.Pid())
	if err != nil {
		s.c.mlog.Debugf("getsid(%d): %v", inf.Pid(), err)
		sid = inf.Pid()
	}
	t.sessionLeader = sid

	s.c.loop.Register(t.masterFd, "pty-"+t.name, func(fd int, hangup bool) {
		s.c.onPtyOutput(t, hangup)
	})
	s.c.mlog.Debugf("inferior %d runs on %s (sid=%d)", inf.Num(), t.name, sid)
	return nil
}

// Abort discards the terminal selected by Prefork, used when the child
// could not be started. Postfork calls it once it is done, it closes the
// parent's copy of the terminal the child was given.
func (s *Spawner) Abort() {
	if s.master != nil {
		s.master.Close()
	}
	if s.slave != nil {
		s.slave.Close()
	}
	if s.opened != nil {
		s.opened.Close()
	}
	s.master, s.masterFd, s.slave, s.opened = nil, -1, nil, nil
	s.name = ""
	s.pending = false
}
