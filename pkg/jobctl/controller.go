// Package jobctl decides who owns the debugger's terminal, the debugger
// itself or one of the inferiors, and moves the terminal between them as
// inferiors are resumed and stopped.
//
// Inferiors started without an explicit terminal can be given a
// pseudo-terminal created by the debugger, their I/O is then copied to and
// from the debugger's own terminal by the event loop instead of having the
// inferior and the debugger compete for the same terminal.
//
// A Controller is not safe for concurrent use. Every method must be called
// from the goroutine running the event loop, signals should be funneled to
// that goroutine (see eventloop.Loop.Post).
package jobctl

import (
	"fmt"
	"io"
	"os"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/go-delve/jobctl/pkg/eventloop"
	"github.com/go-delve/jobctl/pkg/logflags"
	"github.com/go-delve/jobctl/pkg/tty"
)

// OwnershipState describes who owns the terminal.
type OwnershipState uint8

const (
	// DebuggerOwns means the debugger's terminal settings are in effect
	// and the debugger is the foreground process group.
	DebuggerOwns OwnershipState = iota
	// DebuggerOwnsForOutputOnly means the debugger's terminal settings
	// are in effect so that its output looks right, but input and
	// terminal generated signals still go to the inferior.
	DebuggerOwnsForOutputOnly
	// InferiorOwns means an inferior's terminal settings are in effect.
	InferiorOwns
)

func (s OwnershipState) String() string {
	switch s {
	case DebuggerOwns:
		return "ours"
	case DebuggerOwnsForOutputOnly:
		return "ours for output"
	case InferiorOwns:
		return "inferior"
	default:
		return fmt.Sprintf("OwnershipState(%d)", uint8(s))
	}
}

// EventLoop is the part of the event loop used by the controller.
type EventLoop interface {
	Register(fd int, name string, h eventloop.Handler)
	Deregister(fd int)
}

// Config contains the collaborators of a Controller.
type Config struct {
	Caps Capabilities

	// System defaults to HostSystem().
	System System
	// Reaper defaults to HostReaper().
	Reaper Reaper
	// Loop is needed to forward I/O of debugger-created terminals, when
	// nil no terminal is ever created.
	Loop EventLoop

	// Stdin and Stdout are the debugger's terminal, they default to
	// os.Stdin and os.Stdout.
	Stdin, Stdout *os.File

	// Interrupts is the channel the debugger receives InterruptSignals
	// on. Signals the controller temporarily ignores are delivered to it
	// again afterwards.
	Interrupts       chan<- os.Signal
	InterruptSignals []os.Signal

	// BufferSize is the size of the buffer used to forward I/O, it
	// defaults to 1024.
	BufferSize int

	signals signalTable
}

// Controller tracks and changes the ownership of the debugger's terminal.
type Controller struct {
	caps   Capabilities
	sys    System
	reaper Reaper
	loop   EventLoop
	router *SignalRouter
	tab    signalTable
	notify map[os.Signal]chan<- os.Signal

	stdin, stdout     *os.File
	stdinFd, stdoutFd int

	hasTerminal bool
	// initial is the state of the terminal when the debugger started,
	// given to every new inferior.
	initial *tty.State
	// ours is the state the debugger wants its terminal in.
	ours *tty.State

	state   OwnershipState
	records map[int]*Record

	// stdinTarget is the terminal stdin is being forwarded to.
	stdinTarget *ManagedTerminal

	buf []byte

	log  logflags.Logger
	mlog logflags.Logger
}

// New returns a new controller. Init must be called before the controller
// is used.
func New(cfg Config) *Controller {
	c := &Controller{
		caps:    cfg.Caps,
		sys:     cfg.System,
		reaper:  cfg.Reaper,
		loop:    cfg.Loop,
		tab:     cfg.signals,
		stdin:   cfg.Stdin,
		stdout:  cfg.Stdout,
		records: make(map[int]*Record),
		log:     logflags.TerminalLogger(),
		mlog:    logflags.ManagedTTYLogger(),
	}
	if c.sys == nil {
		c.sys = HostSystem()
	}
	if c.reaper == nil {
		c.reaper = HostReaper()
	}
	if c.tab == nil {
		c.tab = osSignals{}
	}
	if c.stdin == nil {
		c.stdin = os.Stdin
	}
	if c.stdout == nil {
		c.stdout = os.Stdout
	}
	c.stdinFd = int(c.stdin.Fd())
	c.stdoutFd = int(c.stdout.Fd())
	if cfg.Interrupts != nil {
		c.notify = make(map[os.Signal]chan<- os.Signal)
		for _, sig := range cfg.InterruptSignals {
			c.notify[sig] = cfg.Interrupts
		}
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = forwardBufferSize
	}
	c.buf = make([]byte, size)
	c.router = newSignalRouter(c.caps, c.sys, c.tab, c.notify)
	return c
}

// Init records the state of the debugger's terminal. If stdin is not a
// terminal the controller does nothing from then on.
func (c *Controller) Init() {
	st, err := c.sys.Capture(c.stdinFd)
	if err != nil {
		c.log.Debugf("debugger has no terminal: %v", err)
		c.hasTerminal = false
		return
	}
	c.initial, c.ours = st, st
	c.hasTerminal = true
}

// SaveOurs records the current state of the terminal as the state the
// debugger wants it in. Used after something (a full screen interface for
// example) changed the terminal settings on purpose. The process group the
// debugger puts back in the foreground stays the one found by Init.
func (c *Controller) SaveOurs() {
	if !c.hasTerminal {
		return
	}
	st, err := c.sys.Capture(c.stdinFd)
	if err != nil {
		c.log.Debugf("could not save terminal state: %v", err)
		return
	}
	c.ours = st.WithPgrpOf(c.initial)
}

// HasTerminal reports whether the debugger runs on a terminal.
func (c *Controller) HasTerminal() bool {
	return c.hasTerminal
}

// Caps returns the capabilities the controller was created with.
func (c *Controller) Caps() Capabilities {
	return c.caps
}

// State returns the actual state of the terminal.
func (c *Controller) State() OwnershipState {
	return c.state
}

// LogicalState returns the state requested on behalf of the inferiors: it
// is InferiorOwns if any inferior was given the terminal and not taken
// back, even when the terminal physically stayed with another inferior or
// the debugger.
func (c *Controller) LogicalState() OwnershipState {
	st := DebuggerOwns
	for _, rec := range c.records {
		if rec.ownership > st {
			st = rec.ownership
		}
	}
	return st
}

// Record returns the terminal record of inf, nil if there is none.
func (c *Controller) Record(inf Inferior) *Record {
	return c.records[inf.Num()]
}

func (c *Controller) record(inf Inferior) *Record {
	rec := c.records[inf.Num()]
	if rec == nil {
		rec = &Record{inf: inf}
		c.records[inf.Num()] = rec
	}
	return rec
}

// sortedRecords returns all records in inferior creation order.
func (c *Controller) sortedRecords() []*Record {
	r := make([]*Record, 0, len(c.records))
	for _, rec := range c.records {
		r = append(r, rec)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].inf.Num() < r[j].inf.Num() })
	return r
}

func (c *Controller) ignoreTTOU() *sigGuard {
	return ignoreSignals(c.tab, c.notify, syscall.SIGTTOU)
}

func (c *Controller) apply(st *tty.State, what tty.Field, op string) {
	if err := c.sys.Apply(st, c.stdinFd, what); err != nil {
		c.log.Debugf("%s: %v", op, err)
	}
}

// TerminalInit initializes the terminal record of a newly started
// inferior: its process group is its pid and its terminal settings are the
// ones the debugger's terminal had when the debugger started.
func (c *Controller) TerminalInit(inf Inferior) {
	if !c.hasTerminal {
		return
	}
	c.record(inf).state = c.initial.WithPgrp(inf.Pid())
}

// sharingInputTerminal reports whether the inferior reads from the
// debugger's terminal. When this can not be determined it is assumed that
// it does.
func (c *Controller) sharingInputTerminal(rec *Record) bool {
	res := c.sys.SharingInputTerminal(rec.inf.Pid(), c.stdinFd)
	if res == Unknown && rec.terminal != nil {
		res = c.sys.IsDebuggerTerminal(rec.terminal.name, c.stdinFd)
	}
	if res == Unknown {
		return true
	}
	return res == True
}

func managed(rec *Record) bool {
	return rec.terminal != nil && rec.terminal.Managed()
}

// TerminalInferior gives the terminal to inf, before it is resumed.
//
// If the terminal already belongs to an inferior nothing happens: when
// several inferiors are resumed in the foreground the first one keeps the
// terminal, and its process group is the one receiving the signals typed
// on the terminal.
func (c *Controller) TerminalInferior(inf Inferior) {
	rec := c.record(inf)
	rec.ownership = InferiorOwns

	if c.state == InferiorOwns {
		if logflags.Terminal() {
			c.log.Debugf("terminal already owned by an inferior, inferior %d does not take it", inf.Num())
		}
		return
	}
	if !c.hasTerminal || rec.state == nil {
		return
	}
	isManaged := managed(rec)
	if !isManaged && !c.sharingInputTerminal(rec) {
		return
	}

	c.router.EnterInferiorOwns()

	g := c.ignoreTTOU()
	defer g.release()

	if isManaged {
		// Input is copied verbatim to the inferior's terminal, output
		// processing stays on so that our own output is not garbled.
		if st, err := c.sys.Capture(c.stdinFd); err == nil {
			c.apply(st.Raw(false), tty.Attrs, "setting stdin raw")
		} else {
			c.mlog.Debugf("tcgetattr(stdin): %v", err)
		}
		t := rec.terminal
		c.loop.Register(c.stdinFd, fmt.Sprintf("stdin-forward-%d", inf.Num()), func(fd int, hangup bool) {
			c.onStdinInput(t, hangup)
		})
		c.stdinTarget = t
	} else {
		c.apply(rec.state, tty.Flags, "fcntl F_SETFL")
		c.apply(rec.state, tty.Attrs, "setting tty state")
		if c.caps.JobControl {
			pgrp, err := c.sys.Getpgid(inf.Pid())
			if err != nil {
				var ok bool
				pgrp, ok = rec.state.Pgrp()
				if !ok {
					pgrp = -1
				}
			}
			if pgrp > 0 {
				// Fails when the inferior is not in our session, for
				// example after it called setsid.
				if err := c.sys.SetForeground(c.stdinFd, pgrp); err != nil {
					c.log.Debugf("could not give terminal to inferior %d: %v", inf.Num(), err)
				}
			}
		}
	}

	c.state = InferiorOwns
	if logflags.Terminal() {
		c.log.Debugf("terminal given to inferior %d", inf.Num())
	}
}

// TerminalOurs takes the terminal back from inf.
func (c *Controller) TerminalOurs(inf Inferior) {
	c.record(inf).ownership = DebuggerOwns
	c.ours1(DebuggerOwns)
}

// TerminalOursForOutput puts the debugger's terminal settings into effect
// for inf, enough to get proper output from the debugger, but leaves the
// inferior in the foreground.
func (c *Controller) TerminalOursForOutput(inf Inferior) {
	c.record(inf).ownership = DebuggerOwnsForOutputOnly
	c.ours1(DebuggerOwnsForOutputOnly)
}

// Ours takes the terminal back from every inferior, saving the terminal
// state of the ones that had it first.
func (c *Controller) Ours() {
	c.oursAll(DebuggerOwns)
}

// OursForOutput is like Ours but only for output, see
// TerminalOursForOutput.
func (c *Controller) OursForOutput() {
	c.oursAll(DebuggerOwnsForOutputOnly)
}

func (c *Controller) oursAll(desired OwnershipState) {
	recs := c.sortedRecords()
	for _, rec := range recs {
		if rec.ownership == InferiorOwns {
			c.TerminalSaveInferior(rec.inf)
		}
	}
	for _, rec := range recs {
		rec.ownership = desired
	}
	c.ours1(desired)
}

func (c *Controller) ours1(desired OwnershipState) {
	if desired == InferiorOwns {
		internalError("ours1 called with InferiorOwns")
	}
	if !c.hasTerminal || c.state == desired {
		return
	}

	g := c.ignoreTTOU()
	defer g.release()

	c.apply(c.ours, tty.Attrs, "restoring debugger tty state")

	// When only output is wanted the inferior stays in the foreground
	// and keeps receiving our input.
	if desired == DebuggerOwns {
		if c.stdinTarget != nil {
			c.loop.Deregister(c.stdinFd)
			c.stdinTarget = nil
		} else if c.caps.JobControl {
			if pgrp, ok := c.ours.Pgrp(); ok {
				if err := c.sys.SetForeground(c.stdinFd, pgrp); err != nil {
					c.log.Debugf("could not take terminal back: %v", err)
				}
			}
		}
		c.router.LeaveInferiorOwns()
	}

	c.apply(c.ours, tty.Flags, "fcntl F_SETFL")

	c.state = desired
	if logflags.Terminal() {
		c.log.Debugf("terminal is %s", desired)
	}
}

// TerminalSaveInferior records the terminal state of inf so that it can be
// put back the next time inf is resumed. Called before a stop of inf is
// announced.
func (c *Controller) TerminalSaveInferior(inf Inferior) {
	if !c.hasTerminal {
		return
	}
	rec := c.record(inf)
	if managed(rec) {
		// The inferior's terminal holds its own settings, only show
		// what it printed before it stopped.
		c.flushOutput(rec.terminal)
		return
	}
	if !c.sharingInputTerminal(rec) {
		return
	}
	st, err := c.sys.Capture(c.stdinFd)
	if err != nil {
		c.log.Debugf("could not save terminal state of inferior %d: %v", inf.Num(), err)
		return
	}
	rec.state = st
}

// Info writes the saved terminal state of inf to w.
func (c *Controller) Info(w io.Writer, inf Inferior) {
	if !c.hasTerminal {
		fmt.Fprintf(w, "This debugger does not control a terminal.\n")
		return
	}
	if inf == nil {
		return
	}
	rec := c.record(inf)

	// TerminalSaveInferior does not save the state of an inferior that
	// does not share our terminal, refresh it now. If it does share it
	// the terminal holds our settings now, not the inferior's.
	if !c.sharingInputTerminal(rec) {
		fd := c.stdinFd
		if managed(rec) {
			fd = rec.terminal.masterFd
		}
		if st, err := c.sys.Capture(fd); err == nil {
			rec.state = st
		} else {
			c.log.Debugf("could not read terminal state of inferior %d: %v", inf.Num(), err)
		}
	}

	fmt.Fprintf(w, "Inferior's terminal status (currently saved by the debugger):\n")
	if rec.state == nil {
		fmt.Fprintf(w, "No terminal state saved.\n")
		return
	}
	rec.state.Describe(w)
}

// Interrupt sends SIGINT to inf only, not to its process group.
func (c *Controller) Interrupt(inf Inferior) {
	c.router.InterruptSingle(inf.Pid())
}

// PassInterrupt forwards an interrupt typed by the user while an inferior
// owns the terminal. It must not be called when the debugger owns the
// terminal.
func (c *Controller) PassInterrupt() {
	if c.LogicalState() == DebuggerOwns {
		internalError("interrupt passed while the debugger owns the terminal")
	}
	var candidates []Inferior
	for _, rec := range c.sortedRecords() {
		if rec.ownership != DebuggerOwns {
			candidates = append(candidates, rec.inf)
		}
	}
	ourPgrp := -1
	if c.ours != nil {
		if pgrp, ok := c.ours.Pgrp(); ok {
			ourPgrp = pgrp
		}
	}
	c.router.routeInterrupt(c.stdinFd, ourPgrp, candidates)
}

// OnWindowSizeChanged copies the window size of the debugger's terminal
// to every terminal created by the debugger.
func (c *Controller) OnWindowSizeChanged() {
	if !c.hasTerminal {
		return
	}
	seen := make(map[*ManagedTerminal]bool)
	for _, rec := range c.sortedRecords() {
		t := rec.terminal
		if !managed(rec) || seen[t] {
			continue
		}
		seen[t] = true
		if err := c.sys.InheritSize(c.stdinFd, t.masterFd); err != nil {
			c.mlog.Debugf("could not resize %s: %v", t.name, err)
		}
	}
}

// CopyTerminalInfo makes to share the terminal of from, used when from
// forks.
func (c *Controller) CopyTerminalInfo(to, from Inferior) {
	fr := c.record(from)
	tr := c.record(to)
	if tr.terminal != nil {
		internalError("inferior %d already has a terminal", to.Num())
	}
	*tr = *fr
	tr.inf = to
	if fr.terminal != nil {
		fr.terminal.acquire()
	}
}

// SwapTerminalInfo exchanges the terminal records of a and b.
func (c *Controller) SwapTerminalInfo(a, b Inferior) {
	ra, rb := c.records[a.Num()], c.records[b.Num()]
	delete(c.records, a.Num())
	delete(c.records, b.Num())
	if rb != nil {
		rb.inf = a
		c.records[a.Num()] = rb
	}
	if ra != nil {
		ra.inf = b
		c.records[b.Num()] = ra
	}
}

// InferiorExit releases the terminal record of inf. If inf was the last
// inferior using a terminal created by the debugger, the terminal is
// destroyed.
func (c *Controller) InferiorExit(inf Inferior) {
	rec := c.records[inf.Num()]
	if rec == nil {
		return
	}
	rec.ownership = DebuggerOwns
	delete(c.records, inf.Num())
	if t := rec.terminal; t != nil {
		rec.terminal = nil
		if t.release() && t.Managed() {
			c.destroyTerminal(t, inf)
		}
	}
}

// expectedLeaderStatus reports whether ws is how a session leader is
// expected to end: killed by the SIGHUP it was sent, or exited with 0.
func expectedLeaderStatus(ws unix.WaitStatus) bool {
	if ws.Signaled() {
		return ws.Signal() == syscall.SIGHUP
	}
	return ws.Exited() && ws.ExitStatus() == 0
}

func (c *Controller) destroyTerminal(t *ManagedTerminal, inf Inferior) {
	c.loop.Deregister(t.masterFd)
	if c.stdinTarget == t {
		c.loop.Deregister(c.stdinFd)
		c.stdinTarget = nil
	}
	c.flushOutput(t)

	// The session leader gets a chance to put itself in the foreground
	// so that its children, if any, do not get a SIGHUP too.
	if err := c.reaper.Hangup(t.sessionLeader); err != nil {
		c.mlog.Debugf("kill(%d, SIGHUP): %v", t.sessionLeader, err)
	}
	if logflags.ManagedTTY() {
		c.mlog.Debugf("reaping session leader for inf %d (sid=%d)", inf.Num(), t.sessionLeader)
	}
	ws, err := c.reaper.Reap(t.sessionLeader)
	switch {
	case err != nil:
		logflags.WarnLogger().Warnf("unexpected wait status reaping session leader for inf %d (sid=%d): %v", inf.Num(), t.sessionLeader, err)
	case !expectedLeaderStatus(ws):
		logflags.WarnLogger().Warnf("unexpected wait status reaping session leader for inf %d (sid=%d): status=%#x", inf.Num(), t.sessionLeader, uint32(ws))
	}

	if err := t.master.Close(); err != nil {
		c.mlog.Debugf("closing %s: %v", t.name, err)
	}
	t.master = nil
	t.masterFd = -1
	t.closed = true
}
