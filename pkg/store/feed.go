package store

import (
	"context"
	"sync"
)

// feed decouples event producers from a subscriber. Pushes never block;
// events are delivered in order on out until ctx ends.
type feed struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	out    chan Event
}

func newFeed() *feed {
	return &feed{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
	}
}

func (f *feed) push(e Event) {
	f.mu.Lock()
	f.queue = append(f.queue, e)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *feed) run(ctx context.Context, done func()) {
	defer close(f.out)
	defer done()
	for {
		f.mu.Lock()
		batch := f.queue
		f.queue = nil
		f.mu.Unlock()

		for _, e := range batch {
			select {
			case f.out <- e:
			case <-ctx.Done():
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-f.notify:
		case <-ctx.Done():
			return
		}
	}
}
