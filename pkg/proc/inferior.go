package proc

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Status is the execution status of an inferior as last observed.
type Status uint8

const (
	Running Status = iota
	Stopped
	Exited
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Inferior is a process started by the debugger.
type Inferior struct {
	num  int
	pid  int
	args []string
	tty  string

	status Status
	// ws is the last wait status reported for the inferior.
	ws unix.WaitStatus
}

// Num returns the number of the inferior, inferiors are numbered from 1 in
// creation order.
func (inf *Inferior) Num() int {
	return inf.num
}

// Pid returns the process id of the inferior.
func (inf *Inferior) Pid() int {
	return inf.pid
}

// Args returns the command line the inferior was started with.
func (inf *Inferior) Args() []string {
	return inf.args
}

// TTY returns the name of the terminal the inferior was started on, empty
// if it shares the debugger's terminal.
func (inf *Inferior) TTY() string {
	return inf.tty
}

// Status returns the last observed execution status.
func (inf *Inferior) Status() Status {
	return inf.status
}

// WaitStatus returns the last wait status reported for the inferior.
func (inf *Inferior) WaitStatus() unix.WaitStatus {
	return inf.ws
}

func (inf *Inferior) String() string {
	return fmt.Sprintf("inferior %d (process %d) %s", inf.num, inf.pid, strings.Join(inf.args, " "))
}

// EventKind is the kind of change reported by Group.Poll.
type EventKind uint8

const (
	// EventStopped means the inferior was stopped by a signal.
	EventStopped EventKind = iota
	// EventContinued means the inferior was resumed by SIGCONT.
	EventContinued
	// EventExited means the inferior exited normally.
	EventExited
	// EventSignaled means the inferior was killed by a signal.
	EventSignaled
)

// Event is a change in the execution status of an inferior.
type Event struct {
	Inferior *Inferior
	Kind     EventKind
	Status   unix.WaitStatus
}

func (ev Event) String() string {
	inf := ev.Inferior
	switch ev.Kind {
	case EventStopped:
		return fmt.Sprintf("Inferior %d (process %d) stopped by signal %v", inf.num, inf.pid, ev.Status.StopSignal())
	case EventContinued:
		return fmt.Sprintf("Inferior %d (process %d) continued", inf.num, inf.pid)
	case EventExited:
		if code := ev.Status.ExitStatus(); code != 0 {
			return fmt.Sprintf("Inferior %d (process %d) exited with code %d", inf.num, inf.pid, code)
		}
		return fmt.Sprintf("Inferior %d (process %d) exited normally", inf.num, inf.pid)
	case EventSignaled:
		return fmt.Sprintf("Inferior %d (process %d) killed by signal %v", inf.num, inf.pid, ev.Status.Signal())
	}
	return fmt.Sprintf("Inferior %d (process %d): unknown event %d", inf.num, inf.pid, ev.Kind)
}
