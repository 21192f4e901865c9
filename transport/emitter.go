package transport

import (
	"sync"

	"github.com/luma/paylink/protocol"
)

// AllMessages is the wildcard channel: listeners registered on it see
// every inbound message regardless of method, PONGs included.
const AllMessages protocol.Method = "ALL_MESSAGES"

// Handler receives a dispatched message.
type Handler func(*protocol.Message)

// Listener is an opaque registration handle. Removal is by handle, not
// by callback identity, so a transaction can tear down exactly the set
// of listeners it registered and nothing else.
type Listener struct {
	method protocol.Method
	fn     Handler
	once   bool
}

// Emitter fans inbound messages out to listeners keyed by method.
//
// Once-listeners are deregistered before their callback runs, so a
// second message of the same method can never invoke them again.
// Removal is idempotent: removing a listener that already fired (or was
// already removed) is a no-op.
type Emitter struct {
	mu        sync.Mutex
	listeners map[protocol.Method][]*Listener
}

func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[protocol.Method][]*Listener),
	}
}

// On registers fn for every message with the given method.
func (e *Emitter) On(method protocol.Method, fn Handler) *Listener {
	return e.add(method, fn, false)
}

// Once registers fn for the next message with the given method only.
func (e *Emitter) Once(method protocol.Method, fn Handler) *Listener {
	return e.add(method, fn, true)
}

func (e *Emitter) add(method protocol.Method, fn Handler, once bool) *Listener {
	l := &Listener{method: method, fn: fn, once: once}

	e.mu.Lock()
	e.listeners[method] = append(e.listeners[method], l)
	e.mu.Unlock()

	return l
}

// Remove deregisters a single listener.
func (e *Emitter) Remove(l *Listener) {
	if l == nil {
		return
	}

	e.mu.Lock()
	e.removeLocked(l)
	e.mu.Unlock()
}

// RemoveAll deregisters a batch of listeners in one critical section,
// the teardown path for a resolved transaction's listener set.
func (e *Emitter) RemoveAll(ls []*Listener) {
	e.mu.Lock()
	for _, l := range ls {
		e.removeLocked(l)
	}
	e.mu.Unlock()
}

func (e *Emitter) removeLocked(l *Listener) {
	if l == nil {
		return
	}

	registered := e.listeners[l.method]
	for i, candidate := range registered {
		if candidate == l {
			e.listeners[l.method] = append(registered[:i], registered[i+1:]...)
			break
		}
	}
	if len(e.listeners[l.method]) == 0 {
		delete(e.listeners, l.method)
	}
}

// Count returns the number of listeners registered for a method.
func (e *Emitter) Count(method protocol.Method) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.listeners[method])
}

// Emit dispatches msg to its method's listeners in registration order,
// then to the AllMessages wildcard.
func (e *Emitter) Emit(msg *protocol.Message) {
	if msg.Method != "" {
		e.dispatch(msg.Method, msg)
	}
	e.dispatch(AllMessages, msg)
}

func (e *Emitter) dispatch(method protocol.Method, msg *protocol.Message) {
	e.mu.Lock()
	registered := e.listeners[method]
	fire := make([]*Listener, len(registered))
	copy(fire, registered)
	for _, l := range registered {
		if l.once {
			e.removeLocked(l)
		}
	}
	e.mu.Unlock()

	for _, l := range fire {
		l.fn(msg)
	}
}
