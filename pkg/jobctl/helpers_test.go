package jobctl

import (
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/go-delve/jobctl/pkg/eventloop"
	"github.com/go-delve/jobctl/pkg/tty"
)

type fakeInferior struct {
	num, pid int
}

func (i *fakeInferior) Num() int { return i.num }
func (i *fakeInferior) Pid() int { return i.pid }

type killCall struct {
	pid int
	sig syscall.Signal
}

// fakeSystem uses real terminals for termios and descriptor flags but
// fakes everything that touches process groups, sessions and signals.
type fakeSystem struct {
	System

	stdinFd int
	ourPgrp int

	fg       int
	fgErr    error
	setFg    []int
	kills    []killCall
	sharing  Tribool
	debugTTY map[string]Tribool
	ptyErr   error
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{System: HostSystem(), sharing: True, ourPgrp: 100, fg: 100}
}

func (f *fakeSystem) Capture(fd int) (*tty.State, error) {
	st, err := f.System.Capture(fd)
	if err != nil {
		return nil, err
	}
	if fd == f.stdinFd && f.ourPgrp != 0 {
		st = st.WithPgrp(f.ourPgrp)
	}
	return st, nil
}

func (f *fakeSystem) Foreground(fd int) (int, error) {
	return f.fg, f.fgErr
}

func (f *fakeSystem) SetForeground(fd, pgrp int) error {
	f.setFg = append(f.setFg, pgrp)
	f.fg = pgrp
	return nil
}

func (f *fakeSystem) Getpgid(pid int) (int, error) {
	return pid, nil
}

func (f *fakeSystem) Getsid(pid int) (int, error) {
	return pid, nil
}

func (f *fakeSystem) Kill(pid int, sig syscall.Signal) error {
	f.kills = append(f.kills, killCall{pid, sig})
	return nil
}

func (f *fakeSystem) SharingInputTerminal(pid, fd int) Tribool {
	return f.sharing
}

func (f *fakeSystem) IsDebuggerTerminal(name string, fd int) Tribool {
	if r, ok := f.debugTTY[name]; ok {
		return r
	}
	return f.System.IsDebuggerTerminal(name, fd)
}

func (f *fakeSystem) OpenPTY() (*os.File, *os.File, error) {
	if f.ptyErr != nil {
		return nil, nil, f.ptyErr
	}
	return f.System.OpenPTY()
}

type fakeSignals struct {
	ignored  map[os.Signal]bool
	notified map[os.Signal]chan<- os.Signal
	resets   []os.Signal
}

func newFakeSignals() *fakeSignals {
	return &fakeSignals{ignored: map[os.Signal]bool{}, notified: map[os.Signal]chan<- os.Signal{}}
}

func (s *fakeSignals) Ignored(sig os.Signal) bool { return s.ignored[sig] }

func (s *fakeSignals) Ignore(sigs ...os.Signal) {
	for _, sig := range sigs {
		s.ignored[sig] = true
		delete(s.notified, sig)
	}
}

func (s *fakeSignals) Reset(sigs ...os.Signal) {
	for _, sig := range sigs {
		delete(s.ignored, sig)
		delete(s.notified, sig)
		s.resets = append(s.resets, sig)
	}
}

func (s *fakeSignals) Notify(c chan<- os.Signal, sigs ...os.Signal) {
	for _, sig := range sigs {
		delete(s.ignored, sig)
		s.notified[sig] = c
	}
}

type fakeReaper struct {
	hangups []int
	reaped  []int
	status  unix.WaitStatus
	err     error
}

func (r *fakeReaper) Hangup(pid int) error {
	r.hangups = append(r.hangups, pid)
	return nil
}

func (r *fakeReaper) Reap(pid int) (unix.WaitStatus, error) {
	r.reaped = append(r.reaped, pid)
	return r.status, r.err
}

// testEnv is a debugger running on a pseudo-terminal, the test plays the
// user through the master side.
type testEnv struct {
	c       *Controller
	sys     *fakeSystem
	sigs    *fakeSignals
	reaper  *fakeReaper
	loop    *eventloop.Loop
	ints    chan os.Signal
	user    *os.File // master side of the debugger's terminal
	stdin   *os.File
	stdoutR *os.File
}

func newTestEnv(t *testing.T, caps Capabilities) *testEnv {
	t.Helper()
	user, stdin, err := pty.Open()
	if err != nil {
		t.Skipf("could not allocate a pseudo-terminal: %v", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	loop, err := eventloop.New()
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{
		sys:     newFakeSystem(),
		sigs:    newFakeSignals(),
		reaper:  &fakeReaper{},
		loop:    loop,
		ints:    make(chan os.Signal, 1),
		user:    user,
		stdin:   stdin,
		stdoutR: stdoutR,
	}
	env.sigs.Notify(env.ints, syscall.SIGINT)
	env.c = New(Config{
		Caps:             caps,
		System:           env.sys,
		Reaper:           env.reaper,
		Loop:             loop,
		Stdin:            stdin,
		Stdout:           stdoutW,
		Interrupts:       env.ints,
		InterruptSignals: []os.Signal{syscall.SIGINT},
		signals:          env.sigs,
	})
	env.sys.stdinFd = env.c.stdinFd
	env.c.Init()
	t.Cleanup(func() {
		loop.Close()
		stdoutW.Close()
		stdoutR.Close()
		stdin.Close()
		user.Close()
	})
	return env
}

func (env *testEnv) stdinState(t *testing.T) *tty.State {
	t.Helper()
	st, err := tty.Capture(env.c.stdinFd)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func mustPanicInternal(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		err, ok := r.(error)
		var ierr *InternalError
		if !ok || !errors.As(err, &ierr) {
			t.Fatalf("expected an internal error, got %#v", r)
		}
	}()
	fn()
}
