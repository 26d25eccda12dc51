package exception

import "github.com/yanun0323/errors"

var (
	ErrMemorySampleFailed = errors.New("memory: sample failed")
	ErrSubscriberPanic    = errors.New("dispatch: subscriber panic")
	ErrSubscriberFailed   = errors.New("dispatch: subscriber failed")
)

var (
	ErrQueueFull   = errors.New("queue: full")
	ErrQueueClosed = errors.New("queue: closed")
)
