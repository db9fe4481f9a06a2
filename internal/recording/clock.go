package recording

import (
	"sync"
	"time"
)

// ticker runs fn at a fixed interval until Stop. Stop is idempotent and nil-safe.
type ticker struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startTicker(interval time.Duration, fn func()) *ticker {
	t := &ticker{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tk.C:
				fn()
			}
		}
	}()

	return t
}

// Stop cancels future ticks. It does not wait for an in-flight tick; fn must
// tolerate running once after Stop.
func (t *ticker) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
}
