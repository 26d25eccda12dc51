package main

import (
	"context"
	"sync"
)

// lifecycle collects the shutdown steps of run so that every return path,
// including early errors, tears down what was already set up. Shutdown runs
// the stop steps, then the drain steps, waits for the spawned workers and
// finally runs the release steps in reverse registration order.
type lifecycle struct {
	workers sync.WaitGroup
	once    sync.Once

	mu      sync.Mutex
	stop    []func()
	drain   []func()
	release []func()
}

// Spawn runs fn on a context that outlives the signal context, so workers
// can drain their queues after Close.
func (l *lifecycle) Spawn(fn func(context.Context)) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		fn(context.Background())
	}()
}

func (l *lifecycle) OnStop(fn func()) {
	l.mu.Lock()
	l.stop = append(l.stop, fn)
	l.mu.Unlock()
}

func (l *lifecycle) OnDrain(fn func()) {
	l.mu.Lock()
	l.drain = append(l.drain, fn)
	l.mu.Unlock()
}

func (l *lifecycle) OnRelease(fn func()) {
	l.mu.Lock()
	l.release = append(l.release, fn)
	l.mu.Unlock()
}

// Shutdown is safe to call more than once; only the first call runs.
func (l *lifecycle) Shutdown() {
	l.once.Do(func() {
		l.mu.Lock()
		stop, drain, release := l.stop, l.drain, l.release
		l.mu.Unlock()

		for _, fn := range stop {
			fn()
		}
		for _, fn := range drain {
			fn()
		}
		l.workers.Wait()
		for i := len(release) - 1; i >= 0; i-- {
			release[i]()
		}
	})
}
