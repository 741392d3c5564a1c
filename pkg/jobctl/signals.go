package jobctl

import (
	"os"
	"os/signal"
)

// signalTable is the process wide table of signal dispositions.
type signalTable interface {
	Ignored(sig os.Signal) bool
	Ignore(sig ...os.Signal)
	Reset(sig ...os.Signal)
	Notify(c chan<- os.Signal, sig ...os.Signal)
}

type osSignals struct{}

func (osSignals) Ignored(sig os.Signal) bool                  { return signal.Ignored(sig) }
func (osSignals) Ignore(sig ...os.Signal)                     { signal.Ignore(sig...) }
func (osSignals) Reset(sig ...os.Signal)                      { signal.Reset(sig...) }
func (osSignals) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }

// sigGuard ignores a set of signals until release is called, then puts
// back the disposition each signal had before.
type sigGuard struct {
	tab        signalTable
	sigs       []os.Signal
	wasIgnored []bool
	notify     map[os.Signal]chan<- os.Signal
}

// ignoreSignals starts ignoring sigs. Signals that were delivered to a
// channel listed in notify are delivered to it again on release.
func ignoreSignals(tab signalTable, notify map[os.Signal]chan<- os.Signal, sigs ...os.Signal) *sigGuard {
	g := &sigGuard{tab: tab, sigs: sigs, wasIgnored: make([]bool, len(sigs)), notify: notify}
	for i, sig := range sigs {
		g.wasIgnored[i] = tab.Ignored(sig)
	}
	tab.Ignore(sigs...)
	return g
}

func (g *sigGuard) release() {
	if g == nil || g.tab == nil {
		return
	}
	for i, sig := range g.sigs {
		switch {
		case g.wasIgnored[i]:
			// still ignored
		case g.notify[sig] != nil:
			g.tab.Notify(g.notify[sig], sig)
		default:
			g.tab.Reset(sig)
		}
	}
	g.tab = nil
}
