package timer

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// ticker is the local ticking clock of an Engine. It is not safe for
// concurrent use; the Engine calls it under its own lock. Each start
// invalidates the previous instance through gen, so a tick already in
// flight from a stopped instance is ignored by the Engine.
type ticker struct {
	clock    clockwork.Clock
	interval time.Duration
	onTick   func(gen uint64)

	gen  uint64
	tk   clockwork.Ticker
	stop chan struct{}
}

func newTicker(clock clockwork.Clock, interval time.Duration, onTick func(gen uint64)) *ticker {
	return &ticker{
		clock:    clock,
		interval: interval,
		onTick:   onTick,
	}
}

// start cancels any running instance and starts a new one.
func (t *ticker) start() {
	t.halt()

	t.gen++
	t.tk = t.clock.NewTicker(t.interval)
	t.stop = make(chan struct{})
	go t.loop(t.tk, t.stop, t.gen)
}

// halt stops the running instance, if any.
func (t *ticker) halt() {
	if t.tk == nil {
		return
	}
	t.tk.Stop()
	close(t.stop)
	t.tk = nil
	t.stop = nil
}

func (t *ticker) running() bool {
	return t.tk != nil
}

// current reports whether gen belongs to the live instance.
func (t *ticker) current(gen uint64) bool {
	return t.tk != nil && gen == t.gen
}

func (t *ticker) loop(tk clockwork.Ticker, stop <-chan struct{}, gen uint64) {
	for {
		select {
		case <-stop:
			return
		case <-tk.Chan():
			t.onTick(gen)
		}
	}
}
