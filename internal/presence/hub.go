package presence

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/omochice/canvas-presence/pkg/protocol"
)

// Observer receives presence changes. Callbacks run on the dispatcher
// configured for the controller, never on the caller's goroutine.
type Observer interface {
	OnJoin(canvasID string, user protocol.User, cursor *protocol.Cursor)
	OnUpdate(canvasID string, user protocol.User, cursor *protocol.Cursor)
	OnLeave(canvasID string, user protocol.User)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Join   func(canvasID string, user protocol.User, cursor *protocol.Cursor)
	Update func(canvasID string, user protocol.User, cursor *protocol.Cursor)
	Leave  func(canvasID string, user protocol.User)
}

func (f ObserverFuncs) OnJoin(canvasID string, user protocol.User, cursor *protocol.Cursor) {
	if f.Join != nil {
		f.Join(canvasID, user, cursor)
	}
}

func (f ObserverFuncs) OnUpdate(canvasID string, user protocol.User, cursor *protocol.Cursor) {
	if f.Update != nil {
		f.Update(canvasID, user, cursor)
	}
}

func (f ObserverFuncs) OnLeave(canvasID string, user protocol.User) {
	if f.Leave != nil {
		f.Leave(canvasID, user)
	}
}

// Dispatcher runs observer deliveries. It must run them in submission order.
type Dispatcher func(func())

// Subscription is the handle returned by Hub.Register.
type Subscription struct {
	hub      *Hub
	observer Observer
	active   atomic.Bool
}

// Cancel stops delivery to the observer. Deliveries already handed to the
// dispatcher are skipped too. Calling Cancel more than once is harmless.
func (s *Subscription) Cancel() {
	if s.active.CompareAndSwap(true, false) {
		s.hub.remove(s)
	}
}

// Active reports whether the subscription still receives callbacks.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Hub fans notifications out to registered observers.
type Hub struct {
	mu       sync.RWMutex
	subs     []*Subscription
	dispatch Dispatcher
}

// NewHub creates a Hub delivering through dispatch.
func NewHub(dispatch Dispatcher) *Hub {
	return &Hub{dispatch: dispatch}
}

// Register adds an observer. Registering the same comparable observer twice
// returns the existing subscription.
func (h *Hub) Register(o Observer) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if isComparable(o) {
		for _, s := range h.subs {
			if isComparable(s.observer) && s.observer == o {
				return s
			}
		}
	}

	s := &Subscription{hub: h, observer: o}
	s.active.Store(true)
	h.subs = append(h.subs, s)
	return s
}

// Count returns number of registered observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish hands notes to the dispatcher as a single delivery.
func (h *Hub) Publish(notes []Notification) {
	if len(notes) == 0 {
		return
	}
	h.mu.RLock()
	subs := append([]*Subscription(nil), h.subs...)
	h.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	h.dispatch(func() {
		for _, n := range notes {
			for _, s := range subs {
				if s.active.Load() {
					deliver(s.observer, n)
				}
			}
		}
	})
}

// clear cancels every subscription.
func (h *Hub) clear() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()
	for _, s := range subs {
		s.active.Store(false)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, sub := range h.subs {
		if sub == s {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}

// deliver hands every observer its own cursor copy.
func deliver(o Observer, n Notification) {
	switch n.Kind {
	case NotifyJoin:
		o.OnJoin(n.CanvasID, n.User, cloneCursor(n.Cursor))
	case NotifyUpdate:
		o.OnUpdate(n.CanvasID, n.User, cloneCursor(n.Cursor))
	case NotifyLeave:
		o.OnLeave(n.CanvasID, n.User)
	}
}

func isComparable(o Observer) bool {
	return o != nil && reflect.TypeOf(o).Comparable()
}

// serialExecutor runs submitted functions one at a time on its own goroutine.
type serialExecutor struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	wg     sync.WaitGroup
}

func newSerialExecutor() *serialExecutor {
	e := &serialExecutor{wake: make(chan struct{}, 1)}
	e.wg.Add(1)
	go e.run()
	return e
}

// Execute queues fn. Functions submitted after Close are dropped.
func (e *serialExecutor) Execute(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()
	e.signal()
}

// Close runs what is already queued and stops the goroutine.
func (e *serialExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.signal()
	e.wg.Wait()
}

func (e *serialExecutor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *serialExecutor) run() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			<-e.wake
			continue
		}
		batch := e.queue
		e.queue = nil
		e.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}
