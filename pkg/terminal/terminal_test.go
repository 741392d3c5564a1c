package terminal

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-delve/jobctl/pkg/config"
	"github.com/go-delve/jobctl/pkg/jobctl"
	"github.com/go-delve/jobctl/pkg/proc"
)

type fakeTerm struct {
	*Term
	out *os.File
}

// newFakeTerm returns a terminal whose standard input and output are
// pipes, the debugger has no terminal.
func newFakeTerm(t *testing.T, conf *config.Config) *fakeTerm {
	t.Helper()
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	term, err := newTerm(conf, jobctl.Capabilities{JobControl: true}, stdinR, stdoutW)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		term.grp.KillAll()
		term.Close()
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
	})
	return &fakeTerm{Term: term, out: stdoutR}
}

func (ft *fakeTerm) exec(t *testing.T, cmdstr string) {
	t.Helper()
	if err := ft.cmds.Call(cmdstr, ft.Term); err != nil {
		t.Fatalf("%s: %v", cmdstr, err)
	}
}

// output returns what was written to stdout, waiting until it contains
// want.
func (ft *fakeTerm) output(t *testing.T, want string) string {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(string(out), want) && time.Now().Before(deadline) {
		ft.out.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _ := ft.out.Read(buf)
		out = append(out, buf[:n]...)
	}
	if !strings.Contains(string(out), want) {
		t.Fatalf("expected output to contain %q, got %q", want, out)
	}
	return string(out)
}

func TestRunExit(t *testing.T) {
	ft := newFakeTerm(t, nil)
	ft.exec(t, `run sh -c "echo out; exit 2"`)
	if !reflect.DeepEqual(ft.Args, []string{"sh", "-c", "echo out; exit 2"}) {
		t.Fatalf("unexpected command line %q", ft.Args)
	}
	out := ft.output(t, "exited with code 2")
	if !strings.Contains(out, "Starting program: sh -c echo out; exit 2\n") || !strings.Contains(out, "out\n") {
		t.Fatalf("unexpected output %q", out)
	}
	if ft.fg != nil {
		t.Fatalf("inferior still in the foreground")
	}

	// run without arguments starts the same program again.
	ft.exec(t, "run")
	ft.output(t, "Inferior 2")
}

func TestRunWithoutProgram(t *testing.T) {
	ft := newFakeTerm(t, nil)
	if err := ft.cmds.Call("run", ft.Term); err == nil {
		t.Fatalf("expected an error running without a program")
	}
}

func TestStopContinueKill(t *testing.T) {
	ft := newFakeTerm(t, nil)
	ft.Args = []string{"sh", "-c", "kill -STOP $$; exit 0"}
	ft.exec(t, "run")
	ft.output(t, "stopped by signal")
	inf := ft.grp.Selected
	if inf == nil || inf.Status() != proc.Stopped {
		t.Fatalf("expected the current inferior to be stopped, got %v", inf)
	}

	ft.exec(t, "inferiors")
	out := ft.output(t, "stopped")
	if !strings.Contains(out, "* 1") || !strings.Contains(out, "(shared)") {
		t.Fatalf("unexpected inferiors listing %q", out)
	}

	ft.exec(t, "continue")
	ft.output(t, "exited normally")
	if inf.Status() != proc.Exited {
		t.Fatalf("expected inferior to have exited, got %v", inf.Status())
	}

	ft.Args = []string{"sh", "-c", "kill -STOP $$; sleep 30"}
	ft.exec(t, "run")
	ft.output(t, "stopped by signal")
	ft.exec(t, "kill 2")
	ft.output(t, "killed by signal")
	ft.exec(t, "inferiors")
	ft.output(t, "No inferiors.")
}

func TestInferiorSelection(t *testing.T) {
	ft := newFakeTerm(t, nil)
	if err := ft.cmds.Call("inferior 3", ft.Term); err == nil {
		t.Fatalf("expected an error selecting a missing inferior")
	}
	if err := ft.cmds.Call("continue", ft.Term); err == nil {
		t.Fatalf("expected an error continuing without inferiors")
	}
	if err := ft.cmds.Call("inferior x", ft.Term); err == nil {
		t.Fatalf("expected an error for an invalid number")
	}
}

func TestInfoTerminal(t *testing.T) {
	ft := newFakeTerm(t, nil)
	ft.exec(t, "info terminal")
	ft.output(t, "This debugger does not control a terminal.\n")
	if err := ft.cmds.Call("info", ft.Term); err == nil {
		t.Fatalf("expected an error for info without a subcommand")
	}
}

func TestTTYCommand(t *testing.T) {
	ft := newFakeTerm(t, &config.Config{InferiorTTY: "/dev/pts/7"})
	if ft.TTY != "/dev/pts/7" {
		t.Fatalf("expected the configured terminal, got %q", ft.TTY)
	}
	ft.exec(t, "tty /dev/pts/9")
	if ft.TTY != "/dev/pts/9" {
		t.Fatalf("expected /dev/pts/9, got %q", ft.TTY)
	}
	ft.exec(t, "tty")
	ft.output(t, `"/dev/pts/9"`)
	ft.exec(t, "tty -")
	if ft.TTY != "" {
		t.Fatalf("expected the terminal to be reset, got %q", ft.TTY)
	}
}

func TestHelpAndAliases(t *testing.T) {
	ft := newFakeTerm(t, &config.Config{Aliases: map[string][]string{"continue": {"go"}}})
	ft.exec(t, "help")
	ft.output(t, "continue (alias: c | go)")
	ft.exec(t, "help go")
	ft.output(t, "Resumes an inferior in the foreground.")
	if err := ft.cmds.Call("bogus", ft.Term); err != errNoCmd {
		t.Fatalf("expected errNoCmd, got %v", err)
	}
	if err := ft.cmds.Call("", ft.Term); err != nil {
		t.Fatalf("empty command: %v", err)
	}
}

func TestComplete(t *testing.T) {
	ft := newFakeTerm(t, nil)
	if got, want := ft.complete("inf"), []string{"inferior", "inferiors", "info", "info terminal"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got, want := ft.complete("info t"), []string{"info terminal"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := ft.complete("xyz"); len(got) != 0 {
		t.Fatalf("expected no completions, got %q", got)
	}
}

func TestExecuteFile(t *testing.T) {
	ft := newFakeTerm(t, nil)
	name := filepath.Join(t.TempDir(), "init")
	if err := os.WriteFile(name, []byte("# setup\ntty /dev/null\n\nbogus\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := ft.cmds.executeFile(ft.Term, name); err != nil {
		t.Fatal(err)
	}
	if ft.TTY != "/dev/null" {
		t.Fatalf("init file not executed, tty is %q", ft.TTY)
	}
	ft.output(t, name+":4: command not available")

	if err := os.WriteFile(name, []byte("exit\ntty /dev/zero\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, ok := ft.cmds.executeFile(ft.Term, name).(ExitRequestError); !ok {
		t.Fatalf("expected an exit request")
	}
	if ft.TTY != "/dev/null" {
		t.Fatalf("commands after exit were executed")
	}
}

func TestWriteMarkdown(t *testing.T) {
	var buf strings.Builder
	DebugCommands().WriteMarkdown(&buf)
	out := buf.String()
	for _, want := range []string{
		"## Running the program\n",
		"[run](#run) | Starts a new inferior and runs it in the foreground.\n",
		"## continue\n",
		"Aliases: c\n",
		"`.jobctl_history`",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown does not contain %q", want)
		}
	}
}
