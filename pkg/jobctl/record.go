package jobctl

import "github.com/go-delve/jobctl/pkg/tty"

// Inferior is a process being debugged.
type Inferior interface {
	// Num is the debugger's number for the inferior, numbers are assigned
	// in creation order.
	Num() int
	// Pid is the OS process id of the inferior.
	Pid() int
}

// Record is the terminal information kept for one inferior.
type Record struct {
	inf Inferior

	// state is the last known state of the inferior's terminal, including
	// its foreground process group and descriptor flags.
	state *tty.State

	terminal *ManagedTerminal

	// ownership is the state the inferior last asked the terminal to be
	// in, regardless of what the terminal is actually in.
	ownership OwnershipState
}

// State returns the saved terminal state, nil if none was saved yet.
func (r *Record) State() *tty.State {
	return r.state
}

// Terminal returns the terminal the inferior runs on, nil if the inferior
// was not started by the debugger.
func (r *Record) Terminal() *ManagedTerminal {
	return r.terminal
}

// Ownership returns the ownership requested on behalf of the inferior.
func (r *Record) Ownership() OwnershipState {
	return r.ownership
}
