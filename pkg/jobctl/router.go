package jobctl

import (
	"os"
	"syscall"

	"github.com/go-delve/jobctl/pkg/logflags"
)

// SignalRouter decides where interrupts go while an inferior owns the
// terminal.
type SignalRouter struct {
	caps   Capabilities
	sys    System
	tab    signalTable
	notify map[os.Signal]chan<- os.Signal
	saved  *sigGuard
	log    logflags.Logger
}

func newSignalRouter(caps Capabilities, sys System, tab signalTable, notify map[os.Signal]chan<- os.Signal) *SignalRouter {
	return &SignalRouter{caps: caps, sys: sys, tab: tab, notify: notify, log: logflags.TerminalLogger()}
}

// EnterInferiorOwns makes the debugger ignore SIGINT and SIGQUIT when the
// terminal has no job control. With job control the kernel already
// delivers them to the foreground process group.
func (r *SignalRouter) EnterInferiorOwns() {
	if r.caps.JobControl || r.saved != nil {
		return
	}
	r.saved = ignoreSignals(r.tab, r.notify, syscall.SIGINT, syscall.SIGQUIT)
}

// LeaveInferiorOwns restores the SIGINT and SIGQUIT dispositions saved by
// EnterInferiorOwns.
func (r *SignalRouter) LeaveInferiorOwns() {
	if r.saved == nil {
		return
	}
	r.saved.release()
	r.saved = nil
}

// Holding reports whether the debugger's interrupt handlers are currently
// replaced.
func (r *SignalRouter) Holding() bool {
	return r.saved != nil
}

// InterruptSingle sends SIGINT to one process, never to a process group.
func (r *SignalRouter) InterruptSingle(pid int) {
	if pid <= 0 {
		internalError("interrupt of invalid pid %d", pid)
	}
	if err := r.sys.Kill(pid, syscall.SIGINT); err != nil {
		r.log.Debugf("kill(%d, SIGINT): %v", pid, err)
	}
}

// routeInterrupt forwards an interrupt typed by the user. When the
// terminal's foreground group is not ours the interrupt goes to that
// group, as if it had been typed on the terminal. Otherwise the first
// candidate gets it.
func (r *SignalRouter) routeInterrupt(stdin, ourPgrp int, candidates []Inferior) {
	if r.caps.JobControl {
		fg, err := r.sys.Foreground(stdin)
		if err == nil && fg != -1 && fg != ourPgrp {
			if logflags.Terminal() {
				r.log.Debugf("passing interrupt to foreground process group %d", fg)
			}
			if err := r.sys.Kill(-fg, syscall.SIGINT); err != nil {
				r.log.Debugf("kill(-%d, SIGINT): %v", fg, err)
			}
			return
		}
	}

	if len(candidates) == 0 {
		internalError("no inferior resumed in the foreground found")
	}
	inf := candidates[0]
	if inf.Pid() <= 0 {
		internalError("inferior %d has no process", inf.Num())
	}
	if logflags.Terminal() {
		r.log.Debugf("passing interrupt to inferior %d (pid %d)", inf.Num(), inf.Pid())
	}
	if err := r.sys.Kill(inf.Pid(), syscall.SIGINT); err != nil {
		r.log.Debugf("kill(%d, SIGINT): %v", inf.Pid(), err)
	}
}
