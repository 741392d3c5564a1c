//go:build darwin || freebsd || netbsd || openbsd

package tty

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
)

func describeCflagLflag(w io.Writer, t *unix.Termios) {
	fmt.Fprintf(w, "c_cflag = %#x, c_lflag = %#x.\n", t.Cflag, t.Lflag)
}
