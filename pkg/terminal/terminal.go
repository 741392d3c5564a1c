package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"

	"github.com/go-delve/jobctl/pkg/config"
	"github.com/go-delve/jobctl/pkg/eventloop"
	"github.com/go-delve/jobctl/pkg/jobctl"
	"github.com/go-delve/jobctl/pkg/logflags"
	"github.com/go-delve/jobctl/pkg/proc"
)

const (
	historyFile                 string = ".jobctl_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"

	ansiYellow = 33

	// foregroundPollInterval is how often the status of the foreground
	// inferior is checked when no SIGCHLD arrives.
	foregroundPollInterval = 200 * time.Millisecond
	killTimeout            = 5 * time.Second
)

var handledSignals = []os.Signal{syscall.SIGINT, syscall.SIGTSTP, syscall.SIGCHLD, syscall.SIGWINCH}

// Term represents the terminal running the debugger.
type Term struct {
	grp  *proc.Group
	ctrl *jobctl.Controller
	loop *eventloop.Loop
	conf *config.Config

	prompt string
	line   *liner.State
	cmds   *Commands
	trie   *trie.Trie
	dumb   bool
	stdout io.Writer

	sigs chan os.Signal
	done chan struct{}

	// fg is the inferior running in the foreground, nil when the
	// debugger is waiting for commands.
	fg *proc.Inferior

	// InitFile is a file of commands executed before the first prompt.
	InitFile string
	// TTY is the terminal new inferiors are started on.
	TTY string
	// Args is the command line used by run when called without
	// arguments.
	Args []string
	// RunFirst starts Args before the first prompt.
	RunFirst bool

	log logflags.Logger
}

// New returns a new Term on the debugger's standard input and output.
// The capabilities in caps can be overridden by conf.
func New(conf *config.Config, caps jobctl.Capabilities) (*Term, error) {
	return newTerm(conf, caps, os.Stdin, os.Stdout)
}

func newTerm(conf *config.Config, caps jobctl.Capabilities, stdin, stdout *os.File) (*Term, error) {
	if conf == nil {
		conf = &config.Config{}
	}
	caps.JobControl = conf.JobControlOr(caps.JobControl)
	caps.ManagedTerminals = conf.ManagedTerminalsOr(caps.ManagedTerminals)
	if conf.DebugManagedTTY {
		logflags.SetManagedTTY(true)
	}

	loop, err := eventloop.New()
	if err != nil {
		return nil, err
	}
	sigs := make(chan os.Signal, 16)
	grp := proc.NewGroup(jobctl.Config{
		Caps:             caps,
		Loop:             loop,
		Stdin:            stdin,
		Stdout:           stdout,
		Interrupts:       sigs,
		InterruptSignals: []os.Signal{syscall.SIGINT},
		BufferSize:       conf.ForwardBufferSizeOr(0),
	})

	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	var w io.Writer
	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = stdout
	} else {
		w = getColorableWriter(stdout)
	}

	t := &Term{
		grp:    grp,
		ctrl:   grp.Controller(),
		loop:   loop,
		conf:   conf,
		prompt: "(jobctl) ",
		cmds:   cmds,
		dumb:   dumb,
		stdout: w,
		sigs:   sigs,
		done:   make(chan struct{}),
		TTY:    conf.InferiorTTY,
		log:    logflags.DebuggerLogger(),
	}
	t.buildCompleter()
	t.ctrl.Init()
	return t, nil
}

// Close returns the terminal to its previous mode and releases the event
// loop.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
		t.line = nil
	}
	signal.Stop(t.sigs)
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	t.loop.Close()
}

func (t *Term) buildCompleter() {
	t.trie = trie.New()
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			t.trie.Add(alias, nil)
		}
	}
	t.trie.Add("info terminal", nil)
}

func (t *Term) complete(line string) []string {
	c := t.trie.PrefixSearch(strings.ToLower(line))
	sort.Strings(c)
	return c
}

// forwardSignals runs the handling of signals on the event loop
// goroutine.
func (t *Term) forwardSignals() {
	for {
		select {
		case sig := <-t.sigs:
			if err := t.loop.Post(func() { t.handleSignal(sig) }); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *Term) handleSignal(sig os.Signal) {
	if logflags.Debugger() {
		t.log.Debugf("received %v", sig)
	}
	switch sig {
	case syscall.SIGINT:
		// Typed on our terminal while a debugger-created terminal, or no
		// job control, keeps the inferior out of the foreground.
		if t.ctrl.LogicalState() != jobctl.DebuggerOwns {
			t.ctrl.PassInterrupt()
		}
	case syscall.SIGTSTP:
		if t.fg != nil {
			if err := t.grp.Stop(t.fg); err != nil {
				t.log.Errorf("%v", err)
			}
		}
	case syscall.SIGCHLD:
		t.poll()
	case syscall.SIGWINCH:
		t.ctrl.OnWindowSizeChanged()
	}
}

func (t *Term) poll() {
	evs, err := t.grp.Poll()
	if err != nil {
		t.log.Errorf("wait: %v", err)
	}
	for _, ev := range evs {
		t.handleEvent(ev)
	}
}

func (t *Term) handleEvent(ev proc.Event) {
	inf := ev.Inferior
	switch ev.Kind {
	case proc.EventContinued:
		return
	case proc.EventStopped:
		if inf == t.fg {
			t.ctrl.TerminalSaveInferior(inf)
			t.ctrl.TerminalOurs(inf)
			t.fg = nil
			t.grp.Selected = inf
		}
	case proc.EventExited, proc.EventSignaled:
		if inf == t.fg {
			t.fg = nil
		}
	}
	t.printEvent(ev)
}

// printEvent announces ev. If an inferior owns the terminal our settings
// are put in effect for the time needed to print.
func (t *Term) printEvent(ev proc.Event) {
	if fg := t.fg; fg != nil && t.ctrl.State() == jobctl.InferiorOwns {
		t.ctrl.TerminalSaveInferior(fg)
		t.ctrl.TerminalOursForOutput(fg)
		defer t.ctrl.TerminalInferior(fg)
	}
	t.Println(ev.String())
}

// Println prints a highlighted line to the terminal.
func (t *Term) Println(str string) {
	if !t.dumb {
		str = fmt.Sprintf(terminalHighlightEscapeCode+"%s"+terminalResetEscapeCode, ansiYellow, str)
	}
	fmt.Fprintln(t.stdout, str)
}

// runForeground resumes inf with the terminal and waits until it stops or
// exits.
func (t *Term) runForeground(inf *proc.Inferior) error {
	if err := t.grp.Continue(inf); err != nil {
		return err
	}
	t.fg = inf
	defer func() {
		if t.fg == inf {
			t.ctrl.TerminalSaveInferior(inf)
			t.ctrl.TerminalOurs(inf)
			t.fg = nil
		}
	}()
	for {
		t.poll()
		if t.fg != inf {
			return nil
		}
		if err := t.loop.RunOnce(foregroundPollInterval); err != nil {
			return err
		}
	}
}

// waitExit waits for inf to exit after it was killed.
func (t *Term) waitExit(inf *proc.Inferior) error {
	deadline := time.Now().Add(killTimeout)
	for {
		t.poll()
		if inf.Status() == proc.Exited {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%v did not exit", inf)
		}
		if err := t.loop.RunOnce(foregroundPollInterval / 4); err != nil {
			return err
		}
	}
}

// dispatchPending handles the events that happened while the debugger
// was waiting for a command.
func (t *Term) dispatchPending() {
	if err := t.loop.RunOnce(0); err != nil {
		t.log.Errorf("event loop: %v", err)
	}
	t.poll()
}

// Run begins running the debugger in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	signal.Notify(t.sigs, handledSignals...)
	go t.forwardSignals()

	t.line = liner.NewLiner()
	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	t.line.ReadHistory(f)
	f.Close()
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	if t.RunFirst {
		if err := run(t, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start program: %s\n", err)
		}
	}

	for {
		t.dispatchPending()
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	t.grp.KillAll()
	t.ctrl.Ours()
	return 0, nil
}
