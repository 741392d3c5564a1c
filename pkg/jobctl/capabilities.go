package jobctl

import "runtime"

// Capabilities describes what the host supports. It is resolved once at
// startup and never changes afterwards.
type Capabilities struct {
	// JobControl is true when the terminal supports moving the foreground
	// between process groups (sessions, tcsetpgrp, SIGTTOU/SIGTTIN).
	JobControl bool
	// ManagedTerminals is true when the debugger can create a private
	// pseudo-terminal for each inferior.
	ManagedTerminals bool
}

// Probe returns the capabilities of the host.
func Probe() Capabilities {
	return Capabilities{
		JobControl:       true,
		ManagedTerminals: runtime.GOOS == "linux",
	}
}
