package eventloop

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func newPipe(t *testing.T) (r, w *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return r, w
}

func TestDispatchReadable(t *testing.T) {
	l := newLoop(t)
	r, w := newPipe(t)
	fd := int(r.Fd())

	var got []byte
	l.Register(fd, "pipe", func(fd int, hangup bool) {
		buf := make([]byte, 16)
		n, _ := unix.Read(fd, buf)
		got = append(got, buf[:n]...)
	})

	if err := l.RunOnce(0); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("handler called without data: %q", got)
	}

	w.Write([]byte("hi"))
	if err := l.RunOnce(time.Second); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hi" {
		t.Fatalf("expected %q got %q", "hi", got)
	}
}

func TestDeregisterDuringDispatch(t *testing.T) {
	l := newLoop(t)
	r1, w1 := newPipe(t)
	r2, w2 := newPipe(t)
	fd1, fd2 := int(r1.Fd()), int(r2.Fd())

	called2 := false
	l.Register(fd1, "first", func(fd int, hangup bool) {
		l.Deregister(fd2)
	})
	l.Register(fd2, "second", func(fd int, hangup bool) {
		called2 = true
	})

	w1.Write([]byte{1})
	w2.Write([]byte{2})
	if err := l.RunOnce(time.Second); err != nil {
		t.Fatal(err)
	}
	if called2 {
		t.Fatalf("handler called after being deregistered")
	}
	if l.Registered(fd2) {
		t.Fatalf("fd %d still registered", fd2)
	}
	if !l.Registered(fd1) {
		t.Fatalf("fd %d should still be registered", fd1)
	}
}

func TestRegisterReplaces(t *testing.T) {
	l := newLoop(t)
	r, w := newPipe(t)
	fd := int(r.Fd())
	which := ""
	l.Register(fd, "a", func(int, bool) { which = "a" })
	l.Register(fd, "b", func(fd int, _ bool) {
		which = "b"
		buf := make([]byte, 1)
		unix.Read(fd, buf)
	})
	w.Write([]byte{0})
	if err := l.RunOnce(time.Second); err != nil {
		t.Fatal(err)
	}
	if which != "b" {
		t.Fatalf("expected replacement handler to run, got %q", which)
	}
	if len(l.order) != 1 {
		t.Fatalf("replacing a handler should not duplicate it: %v", l.order)
	}
}

func TestHangup(t *testing.T) {
	l := newLoop(t)
	r, w := newPipe(t)
	fd := int(r.Fd())
	hung := false
	l.Register(fd, "pipe", func(fd int, hangup bool) {
		hung = hangup
		l.Deregister(fd)
	})
	w.Close()
	if err := l.RunOnce(time.Second); err != nil {
		t.Fatal(err)
	}
	if !hung {
		t.Fatalf("expected hangup after the write side was closed")
	}
}

func TestPostFromOtherGoroutine(t *testing.T) {
	l := newLoop(t)
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	go func() {
		defer wg.Done()
		if err := l.Post(func() { ran = true }); err != nil {
			t.Errorf("Post: %v", err)
		}
	}()
	wg.Wait()
	// The posted function must run even though no file descriptor is ready.
	if err := l.RunOnce(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatalf("posted function did not run")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	l := newLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- l.Run(ctx)
	}()
	l.Post(cancel)
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestClosed(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Post(func() {}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := l.RunOnce(0); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
