package eiscp

import (
	"sync"
	"time"
)

// queueItem is one queued outbound command and its completion callback.
type queueItem struct {
	raw string
	cb  func(error)
}

// Queue is the strictly FIFO serialized command sender.
//
// A single worker goroutine drains the queue, so at most one send (and
// its trailing inter-command delay) is ever in flight. The delay paces
// the next send, not merely the completion of the current one: it is
// observed after every successful write, before the item completes and
// the worker advances. Items pushed while the session is down fail
// immediately, without delay, and the worker moves straight on.
//
// Ordering is never reordered or prioritized; later items wait behind
// earlier ones regardless of whether those succeeded.
type Queue struct {
	client *Client
	delay  time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	items  []queueItem
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

func newQueue(client *Client, delay time.Duration) *Queue {
	q := &Queue{
		client: client,
		delay:  delay,
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.worker()
	return q
}

// Push appends a raw command message to the queue. cb, if non-nil, is
// invoked exactly once from the worker goroutine.
func (q *Queue) Push(raw string, cb func(error)) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if cb != nil {
			cb(ErrNotConnected)
		}
		return
	}
	q.items = append(q.items, queueItem{raw: raw, cb: cb})
	q.cond.Signal()
	q.mu.Unlock()
}

// Len returns the number of items waiting in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		closed := q.closed
		q.mu.Unlock()

		if closed {
			if item.cb != nil {
				item.cb(ErrNotConnected)
			}
			continue
		}

		err := q.client.send(item.raw)
		if err != nil {
			// Local, synchronous failure: no delay, report and advance.
			q.client.bus.emitError(err)
			if item.cb != nil {
				item.cb(err)
			}
			continue
		}

		// Pace the next send. The delay is non-cancelable once started
		// except by queue shutdown.
		select {
		case <-q.done:
		case <-time.After(q.delay):
		}

		if item.cb != nil {
			item.cb(nil)
		}
	}
}

// close stops the worker. Items still queued fail with ErrNotConnected.
func (q *Queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}
