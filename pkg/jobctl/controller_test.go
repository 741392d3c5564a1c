package jobctl

import (
	"bytes"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"

	"github.com/go-delve/jobctl/pkg/tty"
)

var sharedCaps = Capabilities{JobControl: true, ManagedTerminals: false}

func TestInitialState(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	if !env.c.HasTerminal() {
		t.Fatalf("expected the debugger to have a terminal")
	}
	if env.c.State() != DebuggerOwns {
		t.Fatalf("expected initial state %v, got %v", DebuggerOwns, env.c.State())
	}
}

func TestSingleOwnerIdempotent(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	inf := &fakeInferior{num: 1, pid: 4000}
	env.c.TerminalInit(inf)

	env.c.TerminalInferior(inf)
	if env.c.State() != InferiorOwns {
		t.Fatalf("expected %v, got %v", InferiorOwns, env.c.State())
	}
	first := env.stdinState(t)
	if len(env.sys.setFg) != 1 || env.sys.setFg[0] != 4000 {
		t.Fatalf("expected foreground to be given to 4000, got %v", env.sys.setFg)
	}

	env.c.TerminalInferior(inf)
	if env.c.State() != InferiorOwns {
		t.Fatalf("expected %v, got %v", InferiorOwns, env.c.State())
	}
	if len(env.sys.setFg) != 1 {
		t.Fatalf("second transition changed the foreground: %v", env.sys.setFg)
	}
	if !env.stdinState(t).Equal(first) {
		t.Fatalf("second transition changed the terminal")
	}
}

func TestForegroundWinsOnce(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	a := &fakeInferior{num: 1, pid: 4001}
	b := &fakeInferior{num: 2, pid: 4002}
	env.c.TerminalInit(a)
	env.c.TerminalInit(b)

	env.c.TerminalInferior(a)
	env.c.TerminalInferior(b)

	if env.sys.fg != 4001 {
		t.Fatalf("expected 4001 to stay in the foreground, got %d", env.sys.fg)
	}
	if len(env.sys.setFg) != 1 {
		t.Fatalf("unexpected foreground changes %v", env.sys.setFg)
	}
	if env.c.Record(b).Ownership() != InferiorOwns {
		t.Fatalf("inferior 2 should be marked as resumed in the foreground")
	}
}

func TestSharedTerminalRun(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	ours := env.stdinState(t)

	sp := env.c.NewSpawner()
	if err := sp.Prefork(""); err != nil {
		t.Fatalf("Prefork: %v", err)
	}
	if sp.CreatedManagedTTY() {
		t.Fatalf("no terminal should be created when managed terminals are disabled")
	}
	cmd := exec.Command("true")
	if err := sp.ConfigureChild(cmd); err != nil {
		t.Fatal(err)
	}
	if !cmd.SysProcAttr.Setpgid || cmd.SysProcAttr.Setsid {
		t.Fatalf("expected the child in its own process group: %#v", cmd.SysProcAttr)
	}
	if cmd.Stdin != nil {
		t.Fatalf("standard input of a child sharing our terminal should not be changed")
	}
	if sp.CreateSession() {
		t.Fatalf("no session should be created for a child sharing our terminal")
	}

	p1 := &fakeInferior{num: 1, pid: 5000}
	if err := sp.Postfork(p1); err != nil {
		t.Fatal(err)
	}
	env.c.TerminalInit(p1)
	rec := env.c.Record(p1)
	if rec.Terminal() == nil || rec.Terminal().Managed() || rec.Terminal().Name() != "/dev/tty" {
		t.Fatalf("unexpected terminal %#v", rec.Terminal())
	}

	env.c.TerminalInferior(p1)
	if env.c.State() != InferiorOwns {
		t.Fatalf("expected %v got %v", InferiorOwns, env.c.State())
	}

	// The inferior changes the terminal settings.
	raw := ours.Raw(true)
	if err := raw.Apply(env.c.stdinFd, tty.Attrs); err != nil {
		t.Fatal(err)
	}

	env.c.TerminalSaveInferior(p1)
	saved := env.c.Record(p1).State().Termios()
	if saved != raw.Termios() {
		t.Fatalf("inferior terminal state not saved")
	}

	env.c.TerminalOurs(p1)
	if env.c.State() != DebuggerOwns {
		t.Fatalf("expected %v got %v", DebuggerOwns, env.c.State())
	}
	if env.stdinState(t).Termios() != ours.Termios() {
		t.Fatalf("debugger terminal state not restored")
	}
	if env.sys.fg != 100 {
		t.Fatalf("expected our process group back in the foreground, got %d", env.sys.fg)
	}

	// Resuming again puts the saved state back.
	env.c.TerminalInferior(p1)
	if env.stdinState(t).Termios() != raw.Termios() {
		t.Fatalf("inferior terminal state not reapplied")
	}
	env.c.Ours()
	if env.c.State() != DebuggerOwns || env.c.LogicalState() != DebuggerOwns {
		t.Fatalf("expected the debugger to own the terminal, got %v/%v", env.c.State(), env.c.LogicalState())
	}
}

func TestOursForOutput(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	inf := &fakeInferior{num: 1, pid: 4100}
	env.c.TerminalInit(inf)
	env.c.TerminalInferior(inf)

	env.c.TerminalOursForOutput(inf)
	if env.c.State() != DebuggerOwnsForOutputOnly {
		t.Fatalf("expected %v got %v", DebuggerOwnsForOutputOnly, env.c.State())
	}
	if env.sys.fg != 4100 {
		t.Fatalf("the inferior should stay in the foreground, got %d", env.sys.fg)
	}
	if env.c.LogicalState() != DebuggerOwnsForOutputOnly {
		t.Fatalf("unexpected logical state %v", env.c.LogicalState())
	}

	env.c.TerminalOurs(inf)
	if env.sys.fg != 100 {
		t.Fatalf("expected our process group back in the foreground, got %d", env.sys.fg)
	}
}

func TestNotSharingTerminal(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	env.sys.sharing = False
	inf := &fakeInferior{num: 1, pid: 4200}
	env.c.TerminalInit(inf)
	env.c.TerminalInferior(inf)
	if env.c.State() != DebuggerOwns {
		t.Fatalf("an inferior on another terminal should not take ours, state %v", env.c.State())
	}
	if len(env.sys.setFg) != 0 {
		t.Fatalf("unexpected foreground changes %v", env.sys.setFg)
	}
	before := env.c.Record(inf).State()
	env.c.TerminalSaveInferior(inf)
	if env.c.Record(inf).State() != before {
		t.Fatalf("state of an inferior not sharing our terminal should not be saved")
	}
}

func TestNoTerminal(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()
	sys := newFakeSystem()
	c := New(Config{Caps: sharedCaps, System: sys, Stdin: r, Stdout: w, signals: newFakeSignals()})
	c.Init()
	if c.HasTerminal() {
		t.Fatalf("a pipe is not a terminal")
	}
	inf := &fakeInferior{num: 1, pid: 10}
	c.TerminalInit(inf)
	c.TerminalInferior(inf)
	c.TerminalSaveInferior(inf)
	c.TerminalOursForOutput(inf)
	c.TerminalOurs(inf)
	c.OnWindowSizeChanged()
	if c.State() != DebuggerOwns {
		t.Fatalf("state changed without a terminal: %v", c.State())
	}
	if len(sys.setFg) != 0 {
		t.Fatalf("foreground changed without a terminal")
	}
	var buf bytes.Buffer
	c.Info(&buf, inf)
	if buf.String() != "This debugger does not control a terminal.\n" {
		t.Fatalf("unexpected info output %q", buf.String())
	}
}

func TestInfo(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	inf := &fakeInferior{num: 1, pid: 4300}
	env.c.TerminalInit(inf)
	var buf bytes.Buffer
	env.c.Info(&buf, inf)
	out := buf.String()
	for _, want := range []string{
		"Inferior's terminal status (currently saved by the debugger):\n",
		"File descriptor flags = O_RDWR",
		"Process group = 4300\n",
		"c_cc: ",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestSaveOurs(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	inf := &fakeInferior{num: 1, pid: 4400}
	env.c.TerminalInit(inf)

	raw := env.stdinState(t).Raw(false)
	if err := raw.Apply(env.c.stdinFd, tty.Attrs); err != nil {
		t.Fatal(err)
	}
	env.c.SaveOurs()

	env.c.TerminalInferior(inf)
	env.c.TerminalOurs(inf)
	if env.stdinState(t).Termios() != raw.Termios() {
		t.Fatalf("expected the re-saved state to be restored")
	}
	// New inferiors still get the initial state.
	if env.c.Record(inf).State().Termios() == raw.Termios() {
		t.Fatalf("initial state should not change")
	}
}

func TestSaveOursKeepsProcessGroup(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	env.sys.ourPgrp = 100
	env.c.Init()

	// An inferior is in the foreground when the state is saved again.
	env.sys.ourPgrp = 4242
	env.c.SaveOurs()
	if pgrp, ok := env.c.ours.Pgrp(); !ok || pgrp != 100 {
		t.Fatalf("expected the debugger's process group 100, got %d (%v)", pgrp, ok)
	}
}

func TestSwapTerminalInfo(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	a := &fakeInferior{num: 1, pid: 4501}
	b := &fakeInferior{num: 2, pid: 4502}
	env.c.TerminalInit(a)
	env.c.TerminalInferior(a)
	ra := env.c.Record(a)

	env.c.SwapTerminalInfo(a, b)
	if env.c.Record(b) != ra {
		t.Fatalf("record of a not moved to b")
	}
	if env.c.Record(a) != nil {
		t.Fatalf("a should have no record")
	}
	if ra.Ownership() != InferiorOwns {
		t.Fatalf("ownership should move with the record")
	}
	if p, _ := ra.State().Pgrp(); p != 4501 {
		t.Fatalf("state should move with the record, pgrp %d", p)
	}
}

func TestWithoutJobControlSignals(t *testing.T) {
	env := newTestEnv(t, Capabilities{JobControl: false})
	inf := &fakeInferior{num: 1, pid: 4600}
	env.c.TerminalInit(inf)

	env.c.TerminalInferior(inf)
	if !env.sigs.ignored[syscall.SIGINT] || !env.sigs.ignored[syscall.SIGQUIT] {
		t.Fatalf("SIGINT and SIGQUIT should be ignored while the inferior owns the terminal")
	}
	if !env.c.router.Holding() {
		t.Fatalf("interrupt handlers should be held while the inferior owns the terminal")
	}
	if len(env.sys.setFg) != 0 {
		t.Fatalf("foreground should not change without job control")
	}

	env.c.TerminalOursForOutput(inf)
	if !env.sigs.ignored[syscall.SIGINT] {
		t.Fatalf("SIGINT should stay ignored when taking the terminal for output only")
	}

	env.c.TerminalOurs(inf)
	if env.sigs.ignored[syscall.SIGINT] || env.sigs.ignored[syscall.SIGQUIT] {
		t.Fatalf("SIGINT and SIGQUIT should not be ignored anymore")
	}
	if env.c.router.Holding() {
		t.Fatalf("interrupt handlers should be released")
	}
	if env.sigs.notified[syscall.SIGINT] == nil {
		t.Fatalf("SIGINT should be delivered to the debugger again")
	}
	if env.sigs.ignored[syscall.SIGTTOU] {
		t.Fatalf("SIGTTOU should only be ignored during transitions")
	}
}

func TestPassInterruptForegroundGroup(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	inf := &fakeInferior{num: 1, pid: 4700}
	env.c.TerminalInit(inf)
	env.c.TerminalInferior(inf)

	env.c.PassInterrupt()
	if len(env.sys.kills) != 1 || env.sys.kills[0] != (killCall{-4700, syscall.SIGINT}) {
		t.Fatalf("expected SIGINT to process group 4700, got %v", env.sys.kills)
	}
}

func TestPassInterruptFirstResumed(t *testing.T) {
	env := newTestEnv(t, Capabilities{JobControl: false})
	a := &fakeInferior{num: 1, pid: 4801}
	b := &fakeInferior{num: 2, pid: 4802}
	env.c.TerminalInit(a)
	env.c.TerminalInit(b)
	env.c.TerminalInferior(b)

	env.c.PassInterrupt()
	if len(env.sys.kills) != 1 || env.sys.kills[0] != (killCall{4802, syscall.SIGINT}) {
		t.Fatalf("expected SIGINT to pid 4802, got %v", env.sys.kills)
	}
}

func TestPassInterruptOurForeground(t *testing.T) {
	// With job control but our own group in the foreground (an inferior on
	// a debugger-created terminal) the first resumed inferior gets it.
	env := newTestEnv(t, sharedCaps)
	a := &fakeInferior{num: 1, pid: 4901}
	env.c.TerminalInit(a)
	env.c.Record(a).ownership = InferiorOwns

	env.c.PassInterrupt()
	if len(env.sys.kills) != 1 || env.sys.kills[0] != (killCall{4901, syscall.SIGINT}) {
		t.Fatalf("expected SIGINT to pid 4901, got %v", env.sys.kills)
	}
}

func TestPassInterruptWhileOurs(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	inf := &fakeInferior{num: 1, pid: 5100}
	env.c.TerminalInit(inf)
	mustPanicInternal(t, func() {
		env.c.PassInterrupt()
	})
	if len(env.sys.kills) != 0 {
		t.Fatalf("nothing should be signalled: %v", env.sys.kills)
	}
}

func TestInterruptSingle(t *testing.T) {
	env := newTestEnv(t, sharedCaps)
	inf := &fakeInferior{num: 1, pid: 5200}
	env.c.Interrupt(inf)
	if len(env.sys.kills) != 1 || env.sys.kills[0] != (killCall{5200, syscall.SIGINT}) {
		t.Fatalf("expected SIGINT to pid 5200, got %v", env.sys.kills)
	}
	mustPanicInternal(t, func() {
		env.c.Interrupt(&fakeInferior{num: 2, pid: 0})
	})
}
