package tty

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)

func describeCflagLflag(w io.Writer, t *unix.Termios) {
	fmt.Fprintf(w, "c_cflag = %#x, c_lflag = %#x, c_line = %#x.\n", t.Cflag, t.Lflag, t.Line)
}
