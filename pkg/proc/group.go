package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/go-delve/jobctl/pkg/jobctl"
	"github.com/go-delve/jobctl/pkg/logflags"
)

// ErrNoProgram is returned by Launch when no program is given.
var ErrNoProgram = errors.New("no program specified")

// ErrExited is returned when an operation is requested on an inferior that
// already exited.
var ErrExited = errors.New("inferior has exited")

// LaunchConfig contains the options used to start an inferior.
type LaunchConfig struct {
	// TTY is the terminal the inferior is started on. When empty the
	// inferior gets a terminal created by the debugger, if possible, or
	// shares the debugger's terminal.
	TTY string
	// Dir is the working directory of the inferior.
	Dir string
	// Env is the environment of the inferior, nil means the debugger's.
	Env []string
}

// Group is the set of inferiors started by the debugger. It owns the
// terminal controller and acts as its Reaper, so that session leaders the
// group already waited for are not waited for twice.
//
// Like the controller, a Group must only be used from the goroutine
// running the event loop.
type Group struct {
	ctrl *jobctl.Controller
	sp   *jobctl.Spawner

	stdin, stdout, stderr *os.File

	inferiors map[int]*Inferior
	byPid     map[int]*Inferior
	nextNum   int

	// reaped contains the pids of inferiors already waited for, until
	// the controller reaps them as session leaders.
	reaped map[int]bool

	// Selected is the current inferior of the user interface.
	Selected *Inferior

	wait4 func(pid int, ws *unix.WaitStatus, options int) (int, error)
	kill  func(pid int, sig syscall.Signal) error

	log logflags.Logger
}

// NewGroup creates the terminal controller described by cfg and a group of
// inferiors using it. Any Reaper in cfg is replaced by the group.
func NewGroup(cfg jobctl.Config) *Group {
	grp := &Group{
		stdin:     cfg.Stdin,
		stdout:    cfg.Stdout,
		stderr:    os.Stderr,
		inferiors: make(map[int]*Inferior),
		byPid:     make(map[int]*Inferior),
		reaped:    make(map[int]bool),
		nextNum:   1,
		wait4: func(pid int, ws *unix.WaitStatus, options int) (int, error) {
			return unix.Wait4(pid, ws, options, nil)
		},
		kill: unix.Kill,
		log:  logflags.ProcLogger(),
	}
	if grp.stdin == nil {
		grp.stdin = os.Stdin
	}
	if grp.stdout == nil {
		grp.stdout = os.Stdout
	}
	cfg.Reaper = grp
	grp.ctrl = jobctl.New(cfg)
	grp.sp = grp.ctrl.NewSpawner()
	return grp
}

// Controller returns the terminal controller of the group.
func (grp *Group) Controller() *jobctl.Controller {
	return grp.ctrl
}

// Inferiors returns the inferiors that did not exit yet, by number.
func (grp *Group) Inferiors() []*Inferior {
	r := make([]*Inferior, 0, len(grp.inferiors))
	for _, inf := range grp.inferiors {
		r = append(r, inf)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].num < r[j].num })
	return r
}

// Inferior returns the live inferior with the given number.
func (grp *Group) Inferior(num int) (*Inferior, error) {
	inf := grp.inferiors[num]
	if inf == nil {
		return nil, fmt.Errorf("no inferior number %d", num)
	}
	return inf, nil
}

// Launch starts a new inferior running argv. The inferior is running, but
// does not own the terminal, when Launch returns: call Continue to put it
// in the foreground.
//
// If a terminal could not be created for the inferior it is started on the
// debugger's terminal and a warning is logged.
func (grp *Group) Launch(argv []string, cfg LaunchConfig) (*Inferior, error) {
	if len(argv) == 0 {
		return nil, ErrNoProgram
	}
	if err := grp.sp.Prefork(cfg.TTY); err != nil {
		var serr *jobctl.SetupError
		if !errors.As(err, &serr) {
			return nil, err
		}
		logflags.WarnLogger().Warnf("%v", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env
	cmd.Stdin, cmd.Stdout, cmd.Stderr = grp.stdin, grp.stdout, grp.stderr
	if err := grp.sp.ConfigureChild(cmd); err != nil {
		grp.sp.Abort()
		return nil, err
	}
	ttyName := grp.sp.TTYName()
	if err := cmd.Start(); err != nil {
		grp.sp.Abort()
		return nil, err
	}

	inf := &Inferior{
		num:    grp.nextNum,
		pid:    cmd.Process.Pid,
		args:   argv,
		tty:    ttyName,
		status: Running,
	}
	grp.nextNum++
	// The group waits for the process itself.
	cmd.Process.Release()

	grp.inferiors[inf.num] = inf
	grp.byPid[inf.pid] = inf
	if err := grp.sp.Postfork(inf); err != nil {
		grp.log.Errorf("recording terminal of %v: %v", inf, err)
	}
	grp.ctrl.TerminalInit(inf)
	if grp.Selected == nil {
		grp.Selected = inf
	}
	if logflags.Proc() {
		grp.log.Debugf("started %v tty=%q", inf, ttyName)
	}
	return inf, nil
}

// signal sends sig to the process group of inf, or to inf alone if it is
// not the leader of its own process group.
func (grp *Group) signal(inf *Inferior, sig syscall.Signal) error {
	pid := inf.pid
	if pgid, err := unix.Getpgid(inf.pid); err == nil && pgid == inf.pid {
		pid = -pid
	}
	if logflags.Proc() {
		grp.log.Debugf("kill(%d, %v)", pid, sig)
	}
	return grp.kill(pid, sig)
}

// Continue gives the terminal to inf and resumes it if it is stopped.
func (grp *Group) Continue(inf *Inferior) error {
	if inf.status == Exited {
		return ErrExited
	}
	grp.ctrl.TerminalInferior(inf)
	if inf.status != Stopped {
		return nil
	}
	if err := grp.signal(inf, unix.SIGCONT); err != nil {
		return fmt.Errorf("could not resume %v: %w", inf, err)
	}
	inf.status = Running
	return nil
}

// Stop stops the process group of inf. The stop is reported by Poll.
func (grp *Group) Stop(inf *Inferior) error {
	if inf.status == Exited {
		return ErrExited
	}
	if err := grp.signal(inf, unix.SIGSTOP); err != nil {
		return fmt.Errorf("could not stop %v: %w", inf, err)
	}
	return nil
}

// Kill kills inf. Its exit is reported by Poll.
func (grp *Group) Kill(inf *Inferior) error {
	if inf.status == Exited {
		return ErrExited
	}
	if err := grp.kill(inf.pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("could not kill %v: %w", inf, err)
	}
	return nil
}

// Interrupt sends SIGINT to inf alone.
func (grp *Group) Interrupt(inf *Inferior) error {
	if inf.status == Exited {
		return ErrExited
	}
	grp.ctrl.Interrupt(inf)
	return nil
}

// ownsTerminal reports whether inf is the inferior the terminal was given
// to.
func (grp *Group) ownsTerminal(inf *Inferior) bool {
	rec := grp.ctrl.Record(inf)
	return rec != nil && rec.Ownership() == jobctl.InferiorOwns && grp.ctrl.State() == jobctl.InferiorOwns
}

// Poll collects the status changes of every inferior without blocking.
// Exited inferiors are removed from the group and their terminal record is
// released.
//
// An inferior that owns the terminal and is stopped by SIGTTIN or SIGTTOU
// tried to use the terminal before it was moved to the foreground, it is
// continued without reporting the stop.
func (grp *Group) Poll() ([]Event, error) {
	var evs []Event
	for {
		var ws unix.WaitStatus
		pid, err := grp.wait4(-1, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			return evs, nil
		case err != nil:
			return evs, err
		case pid <= 0:
			return evs, nil
		}

		inf := grp.byPid[pid]
		if inf == nil {
			grp.log.Debugf("wait4: status %#x for unknown process %d", uint32(ws), pid)
			continue
		}
		inf.ws = ws
		if logflags.Proc() {
			grp.log.Debugf("wait4: %v status %#x", inf, uint32(ws))
		}

		switch {
		case ws.Stopped():
			sig := ws.StopSignal()
			if (sig == unix.SIGTTIN || sig == unix.SIGTTOU) && grp.ownsTerminal(inf) {
				if err := grp.signal(inf, unix.SIGCONT); err == nil {
					continue
				}
			}
			inf.status = Stopped
			evs = append(evs, Event{Inferior: inf, Kind: EventStopped, Status: ws})
		case ws.Continued():
			inf.status = Running
			evs = append(evs, Event{Inferior: inf, Kind: EventContinued, Status: ws})
		case ws.Exited():
			grp.exited(inf)
			evs = append(evs, Event{Inferior: inf, Kind: EventExited, Status: ws})
		case ws.Signaled():
			grp.exited(inf)
			evs = append(evs, Event{Inferior: inf, Kind: EventSignaled, Status: ws})
		}
	}
}

func (grp *Group) exited(inf *Inferior) {
	inf.status = Exited
	delete(grp.inferiors, inf.num)
	delete(grp.byPid, inf.pid)
	grp.reaped[inf.pid] = true
	if grp.Selected == inf {
		grp.Selected = nil
	}

	if grp.ownsTerminal(inf) {
		grp.ctrl.TerminalSaveInferior(inf)
		grp.ctrl.TerminalOurs(inf)
	}
	grp.ctrl.InferiorExit(inf)
}

// Hangup sends SIGHUP to the session leader pid, unless it is an inferior
// that already exited.
func (grp *Group) Hangup(pid int) error {
	if grp.reaped[pid] {
		return nil
	}
	return grp.kill(pid, unix.SIGHUP)
}

// Reap waits for the session leader pid. A session leader that is an
// inferior the group already waited for is reported as a normal exit, its
// actual status was reported by Poll.
func (grp *Group) Reap(pid int) (unix.WaitStatus, error) {
	if grp.reaped[pid] {
		delete(grp.reaped, pid)
		return 0, nil
	}
	var ws unix.WaitStatus
	for {
		wpid, err := grp.wait4(pid, &ws, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return ws, err
		}
		if wpid != pid {
			return ws, fmt.Errorf("wait4 returned %d", wpid)
		}
		break
	}
	if inf := grp.byPid[pid]; inf != nil {
		inf.status = Exited
		inf.ws = ws
		delete(grp.inferiors, inf.num)
		delete(grp.byPid, pid)
	}
	return ws, nil
}

// KillAll kills every inferior and waits for them, used when the debugger
// exits.
func (grp *Group) KillAll() {
	for _, inf := range grp.Inferiors() {
		if err := grp.kill(inf.pid, unix.SIGKILL); err != nil {
			grp.log.Debugf("kill %v: %v", inf, err)
			continue
		}
		var ws unix.WaitStatus
		for {
			_, err := grp.wait4(inf.pid, &ws, 0)
			if !errors.Is(err, unix.EINTR) {
				break
			}
		}
		inf.ws = ws
		grp.exited(inf)
	}
}
