package test

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/queue"
)

// notifier delivers items to a single subscriber without ever blocking the
// producer. Items are buffered in a concurrent queue until the subscriber
// reads them or its context is canceled.
type notifier[T any] struct {
	queue *queue.ConcurrentQueue
	out   chan T
	errs  chan error
}

// newNotifier starts a notifier. The remove closure is called with mu held
// once the subscriber's context is done, after which no more items may be
// queued.
func newNotifier[T any](ctx context.Context, mu *sync.Mutex,
	remove func()) *notifier[T] {

	n := &notifier[T]{
		queue: queue.NewConcurrentQueue(10),
		out:   make(chan T),
		errs:  make(chan error, 1),
	}
	n.queue.Start()

	go func() {
		defer func() {
			mu.Lock()
			remove()
			mu.Unlock()

			n.queue.Stop()
		}()

		for {
			select {
			case item, ok := <-n.queue.ChanOut():
				if !ok {
					return
				}

				select {
				case n.out <- item.(T):
				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return n
}

// notify queues an item. The caller must hold the mutex passed to
// newNotifier.
func (n *notifier[T]) notify(item T) {
	n.queue.ChanIn() <- item
}
