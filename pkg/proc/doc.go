// Package proc starts and controls the inferiors of the debugger: it
// launches them on the terminal chosen by package jobctl, delivers job
// control signals to them and turns their wait statuses into events.
package proc
