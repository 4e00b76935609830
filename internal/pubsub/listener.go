package pubsub

import (
	"context"
	"sync"
)

// Listener drains a subscription into a callback on its own goroutine,
// for consumers that want push delivery instead of a channel.
type Listener[T any] struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener subscribes to src and invokes fn for every received event
// until ctx is cancelled, the listener is stopped, or the source closes.
func NewListener[T any](ctx context.Context, src Subscriber[T], fn func(Event[T])) *Listener[T] {
	ctx, cancel := context.WithCancel(ctx)
	l := &Listener[T]{cancel: cancel}

	ch := src.Subscribe(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for ev := range ch {
			fn(ev)
		}
	}()
	return l
}

// Stop cancels the subscription and waits for in-flight callbacks to
// finish.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
}
