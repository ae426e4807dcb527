package rediscluster

import "sync"

// Event names emitted by a Cluster, in addition to one event per
// status transition named after the status (see Status).
const (
	EventNodeAdded      = "+node"
	EventNodeRemoved    = "-node"
	EventDrain          = "drain"
	EventNodeError      = "node error"
	EventRefresh        = "refresh"
	EventError          = "error"
	EventMessage        = "message"
	EventMessageBuffer  = "messageBuffer"
	EventPMessage       = "pmessage"
	EventPMessageBuffer = "pmessageBuffer"
)

// Listener receives an event's arguments.
type Listener func(args ...interface{})

type eventHandler struct {
	fn   Listener
	once bool
}

type queuedEvent struct {
	name string
	args []interface{}
}

// emitter delivers events asynchronously but in emission order. Events
// are queued on emit and drained by a single goroutine, so a listener
// registered right after the call that triggered an event still
// observes it, and two listeners always agree on the order.
type emitter struct {
	mu        sync.Mutex
	listeners map[string][]*eventHandler
	pending   []queuedEvent
	draining  bool
}

// On registers fn for every future delivery of the named event.
func (e *emitter) On(name string, fn Listener) {
	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[string][]*eventHandler)
	}
	e.listeners[name] = append(e.listeners[name], &eventHandler{fn: fn})
	e.mu.Unlock()
}

// Once registers fn for the next delivery of the named event only.
func (e *emitter) Once(name string, fn Listener) {
	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[string][]*eventHandler)
	}
	e.listeners[name] = append(e.listeners[name], &eventHandler{fn: fn, once: true})
	e.mu.Unlock()
}

// emit queues the event for delivery. The first emit on an idle
// emitter starts the drain goroutine; subsequent emits append to the
// queue it is draining.
func (e *emitter) emit(name string, args ...interface{}) {
	e.mu.Lock()
	e.pending = append(e.pending, queuedEvent{name: name, args: args})
	start := !e.draining
	if start {
		e.draining = true
	}
	e.mu.Unlock()
	if start {
		go e.drain()
	}
}

func (e *emitter) drain() {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.draining = false
			e.mu.Unlock()
			return
		}
		ev := e.pending[0]
		e.pending = e.pending[1:]

		// snapshot handlers at delivery time, dropping once handlers
		hs := e.listeners[ev.name]
		run := make([]Listener, 0, len(hs))
		kept := hs[:0]
		for _, h := range hs {
			run = append(run, h.fn)
			if !h.once {
				kept = append(kept, h)
			}
		}
		if e.listeners != nil {
			e.listeners[ev.name] = kept
		}
		e.mu.Unlock()

		for _, fn := range run {
			fn(ev.args...)
		}
	}
}
