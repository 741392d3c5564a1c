package jobctl

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"

	"github.com/go-delve/jobctl/pkg/logflags"
	"github.com/go-delve/jobctl/pkg/tty"
)

const (
	forwardBufferSize = 1024

	// maxBurst is the most an event handler copies in one wake up.
	maxBurst = 64 * 1024
)

// rawStdin puts the debugger's terminal in raw mode with output processing
// disabled, so that data copied from an inferior's terminal (which already
// did its own output processing) reaches the screen unchanged. The returned
// function restores the previous state, it can be called more than once.
func (c *Controller) rawStdin() func() {
	if !c.hasTerminal {
		return func() {}
	}
	saved, err := c.sys.Capture(c.stdinFd)
	if err != nil {
		c.mlog.Debugf("tcgetattr(stdin): %v", err)
		return func() {}
	}
	if err := c.sys.Apply(saved.Raw(true), c.stdinFd, tty.Attrs); err != nil {
		c.mlog.Debugf("tcsetattr(stdin): %v", err)
	}
	done := false
	return func() {
		if done {
			return
		}
		done = true
		if err := c.sys.Apply(saved, c.stdinFd, tty.Attrs); err != nil {
			c.mlog.Debugf("tcsetattr(stdin): %v", err)
		}
	}
}

// flushFromTo copies data from readFd to writeFd until there is nothing
// left to read or limit bytes were copied. A limit of zero or less means no
// limit. The return value is true if reading returned end of file or EIO,
// which together with a hangup means the other side is gone.
func (c *Controller) flushFromTo(readFd, writeFd int, isStdout bool, limit int) (closed bool) {
	what := "stdin"
	if isStdout {
		what = "stdout"
	}

	restore := c.rawStdin()
	defer restore()

	total := 0
	for limit <= 0 || total < limit {
		n, err := unix.Read(readFd, c.buf)
		if err != nil || n <= 0 {
			// Restore the terminal before logging anything.
			restore()
			switch {
			case err == nil:
				return true
			case errors.Is(err, unix.EAGAIN):
			case errors.Is(err, unix.EIO):
				c.mlog.Debugf("%s: bad read: closed?", what)
				return true
			default:
				logflags.WarnLogger().Warnf("%s: bad read: %v", what, err)
			}
			return false
		}

		if err := writeAll(writeFd, c.buf[:n]); err != nil {
			restore()
			logflags.WarnLogger().Warnf("%s: bad write: %d: %v", what, n, err)
			return false
		}
		total += n
	}
	return false
}

// writeAll writes p to the non-blocking file descriptor fd, waiting for it
// to become writable when needed.
func writeAll(fd int, p []byte) error {
	for len(p) > 0 {
		w, err := unix.Write(fd, p)
		if errors.Is(err, unix.EAGAIN) {
			pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			unix.Poll(pfd, 100)
			continue
		}
		if err != nil {
			return err
		}
		if w <= 0 {
			return io.ErrShortWrite
		}
		p = p[w:]
	}
	return nil
}

// flushOutput copies everything the inferiors wrote to t to the debugger's
// stdout.
func (c *Controller) flushOutput(t *ManagedTerminal) {
	if t.master == nil || t.hungup {
		return
	}
	c.flushFromTo(t.masterFd, c.stdoutFd, true, 0)
}

func (c *Controller) onPtyOutput(t *ManagedTerminal, hangup bool) {
	closed := c.flushFromTo(t.masterFd, c.stdoutFd, true, maxBurst)
	if hangup && closed {
		// Every process closed the slave side, poll would report the
		// hangup forever.
		c.loop.Deregister(t.masterFd)
		t.hungup = true
		if logflags.ManagedTTY() {
			c.mlog.Debugf("%s: hung up", t.name)
		}
	}
}

func (c *Controller) onStdinInput(t *ManagedTerminal, hangup bool) {
	closed := c.flushFromTo(c.stdinFd, t.masterFd, false, maxBurst)
	if hangup && closed {
		c.loop.Deregister(c.stdinFd)
		c.stdinTarget = nil
	}
}
