// Package terminal implements the interactive command loop of the
// debugger: it reads commands from the user and runs inferiors in the
// foreground of the debugger's terminal.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/go-delve/jobctl/pkg/proc"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the debugger's terminal.
type Commands struct {
	cmds []command
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"run", "r"}, group: runCmds, cmdFn: run, helpMsg: `Starts a new inferior and runs it in the foreground.

	run [program [arguments...]]

Without arguments the program given on the command line, or to the last
run command, is started again. The inferior is started on the terminal set
with the tty command. If no terminal was set the inferior gets a terminal
created by the debugger, if possible, otherwise it shares the debugger's
terminal.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: cont, helpMsg: `Resumes an inferior in the foreground.

	continue [inferior]

The inferior gets the terminal until it stops or exits. Without arguments
the current inferior is resumed.`},
		{aliases: []string{"stop"}, group: runCmds, cmdFn: stop, helpMsg: `Stops an inferior.

	stop [inferior]

Sends SIGSTOP to the process group of the inferior.`},
		{aliases: []string{"interrupt"}, group: runCmds, cmdFn: interrupt, helpMsg: `Interrupts an inferior.

	interrupt [inferior]

Sends SIGINT to the inferior only, not to its process group.`},
		{aliases: []string{"kill"}, group: runCmds, cmdFn: kill, helpMsg: `Kills an inferior.

	kill [inferior]`},
		{aliases: []string{"inferiors"}, group: inferiorCmds, cmdFn: inferiors, helpMsg: `Lists the inferiors.

The current inferior is marked with '*'.`},
		{aliases: []string{"inferior"}, group: inferiorCmds, cmdFn: inferior, helpMsg: `Switches to another inferior.

	inferior <n>`},
		{aliases: []string{"info"}, group: terminalCmds, cmdFn: info, helpMsg: `Shows information about the debugger's state.

	info terminal

Prints the terminal settings saved for the current inferior.`},
		{aliases: []string{"tty"}, group: terminalCmds, cmdFn: ttyCommand, helpMsg: `Sets the terminal used by new inferiors.

	tty [name]

Without arguments prints the current setting. "tty -" resets it: new
inferiors get a terminal created by the debugger, if possible.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

Inferiors still running are killed.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// An empty command does nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// parseArgv splits a command line the way a shell would, without
// expanding anything.
func parseArgv(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal commandline '%s'", args)
	}
	return v[0], nil
}

// selectInferior returns the inferior numbered by args, or the current
// inferior if args is empty.
func selectInferior(t *Term, args string) (*proc.Inferior, error) {
	if args == "" {
		if t.grp.Selected == nil {
			return nil, errors.New("no current inferior")
		}
		return t.grp.Selected, nil
	}
	n, err := strconv.Atoi(args)
	if err != nil {
		return nil, fmt.Errorf("invalid inferior number %q", args)
	}
	return t.grp.Inferior(n)
}

func run(t *Term, args string) error {
	cmdline, err := parseArgv(args)
	if err != nil {
		return err
	}
	if len(cmdline) == 0 {
		cmdline = t.Args
	}
	if len(cmdline) == 0 {
		return errors.New("no program to run, use: run <program> [arguments...]")
	}
	t.Args = cmdline

	inf, err := t.grp.Launch(cmdline, proc.LaunchConfig{TTY: t.TTY})
	if err != nil {
		return err
	}
	t.grp.Selected = inf
	fmt.Fprintf(t.stdout, "Starting program: %s\n", strings.Join(cmdline, " "))
	if inf.TTY() != "" {
		fmt.Fprintf(t.stdout, "[inferior %d (process %d) on %s]\n", inf.Num(), inf.Pid(), inf.TTY())
	}
	return t.runForeground(inf)
}

func cont(t *Term, args string) error {
	inf, err := selectInferior(t, args)
	if err != nil {
		return err
	}
	t.grp.Selected = inf
	return t.runForeground(inf)
}

func stop(t *Term, args string) error {
	inf, err := selectInferior(t, args)
	if err != nil {
		return err
	}
	return t.grp.Stop(inf)
}

func interrupt(t *Term, args string) error {
	inf, err := selectInferior(t, args)
	if err != nil {
		return err
	}
	return t.grp.Interrupt(inf)
}

func kill(t *Term, args string) error {
	inf, err := selectInferior(t, args)
	if err != nil {
		return err
	}
	if err := t.grp.Kill(inf); err != nil {
		return err
	}
	return t.waitExit(inf)
}

func inferiors(t *Term, args string) error {
	infs := t.grp.Inferiors()
	if len(infs) == 0 {
		fmt.Fprintln(t.stdout, "No inferiors.")
		return nil
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintln(w, "  Num\tPID\tStatus\tTerminal\tCommand")
	for _, inf := range infs {
		mark := " "
		if inf == t.grp.Selected {
			mark = "*"
		}
		ttyName := inf.TTY()
		if ttyName == "" {
			ttyName = "(shared)"
		}
		fmt.Fprintf(w, "%s %d\t%d\t%s\t%s\t%s\n", mark, inf.Num(), inf.Pid(), inf.Status(), ttyName, strings.Join(inf.Args(), " "))
	}
	return w.Flush()
}

func inferior(t *Term, args string) error {
	if args == "" {
		return errors.New("not enough arguments")
	}
	inf, err := selectInferior(t, args)
	if err != nil {
		return err
	}
	t.grp.Selected = inf
	fmt.Fprintf(t.stdout, "[Switching to %v]\n", inf)
	return nil
}

func info(t *Term, args string) error {
	switch args {
	case "terminal":
		if !t.ctrl.HasTerminal() {
			t.ctrl.Info(t.stdout, nil)
			return nil
		}
		if t.grp.Selected == nil {
			fmt.Fprintln(t.stdout, "No current inferior.")
			return nil
		}
		t.ctrl.Info(t.stdout, t.grp.Selected)
		return nil
	case "":
		return errors.New("not enough arguments")
	default:
		return fmt.Errorf("unknown info subcommand %q", args)
	}
}

func ttyCommand(t *Term, args string) error {
	switch args {
	case "":
		if t.TTY == "" {
			fmt.Fprintln(t.stdout, "New inferiors get their own terminal when possible.")
		} else {
			fmt.Fprintf(t.stdout, "Terminal for future runs of the program is %q.\n", t.TTY)
		}
	case "-":
		t.TTY = ""
	default:
		t.TTY = args
	}
	return nil
}

// ExitRequestError is returned when the user
// exits the debugger.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
