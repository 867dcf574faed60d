package driver

import "github.com/newtron-network/newtorch/pkg/orch"

// keyQueue holds the pending tasks of one domain as per-key FIFOs. At most
// one task per key is handed out at a time; ready lists the keys that have
// queued work and nothing in flight, in arrival order.
type keyQueue struct {
	tasks    map[string][]orch.Task
	ready    []string
	isReady  map[string]bool
	inflight map[string]bool
}

func newKeyQueue() *keyQueue {
	return &keyQueue{
		tasks:    make(map[string][]orch.Task),
		isReady:  make(map[string]bool),
		inflight: make(map[string]bool),
	}
}

// push queues t behind the key's pending tasks. Consecutive sets coalesce
// to the latest record, a delete discards the sets and resyncs still
// queued, and a resync is dropped when the key already has queued work.
// It reports whether the queue changed.
func (q *keyQueue) push(t orch.Task) bool {
	id := t.ID()
	cur := q.tasks[id]
	n := len(cur)
	switch {
	case t.Resync:
		if n > 0 {
			return false
		}
		cur = append(cur, t)
	case t.Deleted():
		kept := make([]orch.Task, 0, 1)
		for _, c := range cur {
			if c.Deleted() {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			kept = append(kept, t)
		}
		cur = kept
	default:
		if n > 0 && !cur[n-1].Deleted() {
			cur[n-1] = t
		} else {
			cur = append(cur, t)
		}
	}
	q.tasks[id] = cur
	if !q.inflight[id] && !q.isReady[id] {
		q.ready = append(q.ready, id)
		q.isReady[id] = true
	}
	return true
}

// pop hands out the next ready task and marks its key in flight.
func (q *keyQueue) pop() (orch.Task, bool) {
	if len(q.ready) == 0 {
		return orch.Task{}, false
	}
	id := q.ready[0]
	q.ready = q.ready[1:]
	delete(q.isReady, id)

	cur := q.tasks[id]
	t := cur[0]
	if len(cur) == 1 {
		delete(q.tasks, id)
	} else {
		q.tasks[id] = cur[1:]
	}
	q.inflight[id] = true
	return t, true
}

// done releases the key of a finished task.
func (q *keyQueue) done(id string) {
	delete(q.inflight, id)
	if len(q.tasks[id]) > 0 && !q.isReady[id] {
		q.ready = append(q.ready, id)
		q.isReady[id] = true
	}
}

// depth is the number of queued tasks, in flight excluded.
func (q *keyQueue) depth() int {
	n := 0
	for _, c := range q.tasks {
		n += len(c)
	}
	return n
}

func (q *keyQueue) busy() bool {
	return len(q.ready) > 0 || len(q.inflight) > 0
}
