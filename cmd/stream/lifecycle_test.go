package main

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleShutdownOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		steps []string
	)
	record := func(s string) func() {
		return func() {
			mu.Lock()
			steps = append(steps, s)
			mu.Unlock()
		}
	}

	l := &lifecycle{}
	closed := make(chan struct{})
	l.Spawn(func(ctx context.Context) {
		<-closed
		record("worker done")()
	})
	l.OnRelease(record("release postgres"))
	l.OnDrain(func() {
		record("drain writer")()
		close(closed)
	})
	l.OnRelease(record("release redis"))
	l.OnStop(record("stop processor"))

	l.Shutdown()
	l.Shutdown()

	assert.Equal(t, []string{
		"stop processor",
		"drain writer",
		"worker done",
		"release redis",
		"release postgres",
	}, steps)
}

func TestLifecycleEarlyReturnReleases(t *testing.T) {
	released := 0
	setup := func() error {
		l := &lifecycle{}
		defer l.Shutdown()

		l.OnRelease(func() { released++ })
		return assert.AnError
	}

	assert.ErrorIs(t, setup(), assert.AnError)
	assert.Equal(t, 1, released)
}
