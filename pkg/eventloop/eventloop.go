// Package eventloop implements a single threaded, poll based event loop.
//
// All methods except Post and Wake must be called from the goroutine
// running the loop. Post can be used from any goroutine (for example a
// signal handling goroutine) to run a function on the loop goroutine.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/go-delve/jobctl/pkg/logflags"
)

// ErrClosed is returned when using a loop after Close.
var ErrClosed = errors.New("event loop closed")

// Handler is called when fd is readable. The hangup argument is true when
// the other side of fd was closed or an error condition is pending, the
// handler should still try to read whatever data is left.
type Handler func(fd int, hangup bool)

type handler struct {
	fd   int
	name string
	fn   Handler
}

// Loop is a cooperative event loop dispatching readiness of file
// descriptors to handlers.
type Loop struct {
	handlers map[int]*handler
	order    []int

	wakeR, wakeW int

	mu     sync.Mutex
	posted []func()
	closed bool

	log logflags.Logger
}

// New creates a new event loop.
func New() (*Loop, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("could not create wake pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, fmt.Errorf("could not create wake pipe: %w", err)
		}
	}
	return &Loop{
		handlers: make(map[int]*handler),
		wakeR:    p[0],
		wakeW:    p[1],
		log:      logflags.EventLoopLogger(),
	}, nil
}

// Register installs h as the handler for fd. An existing handler for the
// same file descriptor is replaced.
func (l *Loop) Register(fd int, name string, h Handler) {
	if _, ok := l.handlers[fd]; !ok {
		l.order = append(l.order, fd)
	}
	l.handlers[fd] = &handler{fd: fd, name: name, fn: h}
	if logflags.EventLoop() {
		l.log.Debugf("register fd %d (%s)", fd, name)
	}
}

// Deregister removes the handler for fd. Once Deregister returns the
// handler will not be called again, not even for events already collected
// by the iteration currently being dispatched.
func (l *Loop) Deregister(fd int) {
	h, ok := l.handlers[fd]
	if !ok {
		return
	}
	delete(l.handlers, fd)
	for i := range l.order {
		if l.order[i] == fd {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	if logflags.EventLoop() {
		l.log.Debugf("deregister fd %d (%s)", fd, h.name)
	}
}

// Registered reports whether a handler is installed for fd.
func (l *Loop) Registered(fd int) bool {
	_, ok := l.handlers[fd]
	return ok
}

// Post schedules fn to run on the loop goroutine during the next
// iteration and wakes the loop up.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	l.Wake()
	return nil
}

// Wake interrupts a RunOnce call blocked waiting for events.
func (l *Loop) Wake() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	_, err := unix.Write(l.wakeW, []byte{0})
	if err != nil && err != unix.EAGAIN {
		l.log.Errorf("could not wake event loop: %v", err)
	}
}

func (l *Loop) runPosted() bool {
	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	l.mu.Unlock()
	for _, fn := range posted {
		fn()
	}
	return len(posted) > 0
}

func (l *Loop) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// RunOnce waits for at most timeout for events and dispatches them. A
// negative timeout waits forever. Functions posted with Post are run before
// waiting and after dispatching.
func (l *Loop) RunOnce(timeout time.Duration) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if l.runPosted() {
		timeout = 0
	}

	fds := make([]unix.PollFd, 0, len(l.order)+1)
	hs := make([]*handler, 0, len(l.order))
	fds = append(fds, unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})
	for _, fd := range l.order {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		hs = append(hs, l.handlers[fd])
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	_, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("poll: %w", err)
	}

	if fds[0].Revents != 0 {
		l.drainWake()
	}

	for i, h := range hs {
		revents := fds[i+1].Revents
		if revents == 0 {
			continue
		}
		if l.handlers[h.fd] != h {
			// Deregistered (or replaced) by an earlier handler.
			continue
		}
		if revents&unix.POLLNVAL != 0 {
			l.log.Warnf("fd %d (%s) is not open, removing its handler", h.fd, h.name)
			l.Deregister(h.fd)
			continue
		}
		h.fn(h.fd, revents&(unix.POLLHUP|unix.POLLERR) != 0)
	}

	l.runPosted()
	return nil
}

// Run dispatches events until ctx is done or an error occurs.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.Wake)
	defer stop()
	for ctx.Err() == nil {
		if err := l.RunOnce(-1); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Close releases the resources used by the loop. Handlers are not called
// after Close.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.handlers = map[int]*handler{}
	l.order = nil
	l.posted = nil
	return errors.Join(unix.Close(l.wakeR), unix.Close(l.wakeW))
}
