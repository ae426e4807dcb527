package rediscluster

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// offlineItem is a command held while the cluster is not ready.
type offlineItem struct {
	cmd *Command
	ref *NodeRef
}

// offlineQueue holds commands submitted while the cluster is not
// ready. It is unbounded; backpressure is the application's.
type offlineQueue struct {
	mu sync.Mutex
	q  *linkedlistqueue.Queue
}

func newOfflineQueue() *offlineQueue {
	return &offlineQueue{q: linkedlistqueue.New()}
}

func (o *offlineQueue) Enqueue(item offlineItem) {
	o.mu.Lock()
	o.q.Enqueue(item)
	o.mu.Unlock()
}

// Drain removes every queued item in insertion order and hands each
// to fn.
func (o *offlineQueue) Drain(fn func(offlineItem)) {
	for {
		o.mu.Lock()
		v, ok := o.q.Dequeue()
		o.mu.Unlock()
		if !ok {
			return
		}
		fn(v.(offlineItem))
	}
}

func (o *offlineQueue) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.q.Size()
}

// retryQueue holds retry thunks for commands that hit a transient
// cluster state. The first enqueue arms a single timer; when it fires
// the owner runs one refresh and invokes every thunk in insertion
// order, so commands failing within the delay window share a refresh.
type retryQueue struct {
	delay time.Duration
	fire  func(thunks []func())

	mu    sync.Mutex
	q     *linkedlistqueue.Queue
	timer *time.Timer
}

func newRetryQueue(delay time.Duration, fire func([]func())) *retryQueue {
	return &retryQueue{
		delay: delay,
		fire:  fire,
		q:     linkedlistqueue.New(),
	}
}

func (r *retryQueue) Push(thunk func()) {
	r.mu.Lock()
	r.q.Enqueue(thunk)
	if r.timer == nil {
		r.timer = time.AfterFunc(r.delay, r.onTimer)
	}
	r.mu.Unlock()
}

func (r *retryQueue) onTimer() {
	r.mu.Lock()
	r.timer = nil
	thunks := make([]func(), 0, r.q.Size())
	for {
		v, ok := r.q.Dequeue()
		if !ok {
			break
		}
		thunks = append(thunks, v.(func()))
	}
	r.mu.Unlock()
	if len(thunks) > 0 {
		r.fire(thunks)
	}
}

// Stop cancels a pending timer, leaving queued thunks in place.
func (r *retryQueue) Stop() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
}
