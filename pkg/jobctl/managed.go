package jobctl

import "os"

// ManagedTerminal is the terminal an inferior was started on. It is shared
// by every inferior that descends from that one. When the debugger created
// the terminal the pseudo-terminal master and the session leader are set
// and are released when the last sharing inferior exits.
type ManagedTerminal struct {
	name          string
	master        *os.File
	masterFd      int
	sessionLeader int
	refs          int

	// hungup is set once the slave side of the pty was closed by every
	// process using it.
	hungup bool
	closed bool
}

func newManagedTerminal(name string) *ManagedTerminal {
	return &ManagedTerminal{name: name, masterFd: -1, sessionLeader: -1}
}

// Name returns the name of the terminal device.
func (t *ManagedTerminal) Name() string {
	return t.name
}

// Managed reports whether the debugger created this terminal.
func (t *ManagedTerminal) Managed() bool {
	return t.master != nil
}

// SessionLeader returns the pid of the session leader of a
// debugger-created terminal, or -1.
func (t *ManagedTerminal) SessionLeader() int {
	return t.sessionLeader
}

// Refs returns the number of inferiors sharing t.
func (t *ManagedTerminal) Refs() int {
	return t.refs
}

// Closed reports whether the terminal was destroyed.
func (t *ManagedTerminal) Closed() bool {
	return t.closed
}

func (t *ManagedTerminal) acquire() {
	t.refs++
}

// release drops a reference and reports whether it was the last one.
func (t *ManagedTerminal) release() bool {
	if t.refs <= 0 {
		internalError("release of terminal %s with no references", t.name)
	}
	t.refs--
	return t.refs == 0
}
