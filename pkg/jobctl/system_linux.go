package jobctl

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func sharingInputTerminal(pid, fd int) Tribool {
	var inf, ours unix.Stat_t
	if err := unix.Stat(fmt.Sprintf("/proc/%d/fd/0", pid), &inf); err != nil {
		return Unknown
	}
	if err := unix.Fstat(fd, &ours); err != nil {
		return Unknown
	}
	if inf.Dev == ours.Dev && inf.Ino == ours.Ino {
		return True
	}
	return False
}
