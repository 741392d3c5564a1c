//go:build !linux

package jobctl

func sharingInputTerminal(pid, fd int) Tribool {
	return Unknown
}
