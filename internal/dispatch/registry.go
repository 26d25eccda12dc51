package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketstream/pkg/exception"
)

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Registry holds subscriptions and delivers notifications synchronously.
type Registry struct {
	mu   sync.RWMutex
	subs []subscription

	delivered atomic.Uint64
	failures  atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe registers handler for notifications matching filter and returns
// the subscription id.
func (r *Registry) Subscribe(filter Filter, handler Handler) string {
	if handler == nil {
		return ""
	}
	id := uuid.NewString()
	r.mu.Lock()
	subs := make([]subscription, len(r.subs), len(r.subs)+1)
	copy(subs, r.subs)
	r.subs = append(subs, subscription{id: id, filter: filter, handler: handler})
	r.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. It returns false for unknown ids.
func (r *Registry) Unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id != id {
			continue
		}
		subs := make([]subscription, 0, len(r.subs)-1)
		subs = append(subs, r.subs[:i]...)
		r.subs = append(subs, r.subs[i+1:]...)
		return true
	}
	return false
}

// Len returns the number of subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Publish delivers n to every matching subscriber in subscription order.
func (r *Registry) Publish(n Notification) {
	r.mu.RLock()
	subs := r.subs
	r.mu.RUnlock()

	for i := range subs {
		if !subs[i].filter.Match(n) {
			continue
		}
		if err := deliver(subs[i].handler, n); err != nil {
			r.failures.Add(1)
			logs.Errorf("deliver %s notification to subscriber %s, err: %+v", n.Kind, subs[i].id, err)
			continue
		}
		r.delivered.Add(1)
	}
}

func deliver(h Handler, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(exception.ErrSubscriberPanic, fmt.Sprint(r))
		}
	}()
	if err := h(n); err != nil {
		return errors.Wrap(exception.ErrSubscriberFailed, err.Error())
	}
	return nil
}

// Delivered returns the number of successful deliveries.
func (r *Registry) Delivered() uint64 { return r.delivered.Load() }

// Failures returns the number of failed deliveries.
func (r *Registry) Failures() uint64 { return r.failures.Load() }
