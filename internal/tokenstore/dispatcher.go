package tokenstore

import (
	"sync"
)

// Dispatcher delivers changes to subscribers of a single store handle
//
// Publish never blocks: changes are queued and delivered by one goroutine, so the order is preserved and
// a slow subscriber can't stall the backend. Changes made by the handle itself are dropped.
type Dispatcher struct {
	origin string

	mu      sync.Mutex
	subs    map[string]map[int]func(Change)
	nextID  int
	pending []Change
	closed  bool

	wakeup chan struct{}
	done   chan struct{}
}

func NewDispatcher(origin string) *Dispatcher {
	d := &Dispatcher{
		origin: origin,
		subs:   make(map[string]map[int]func(Change)),
		wakeup: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	go d.loop()

	return d
}

func (d *Dispatcher) Subscribe(key string, fn func(Change)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++

	if d.subs[key] == nil {
		d.subs[key] = make(map[int]func(Change))
	}
	d.subs[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.subs[key], id)
		})
	}
}

func (d *Dispatcher) Publish(c Change) {
	if c.Origin == d.origin {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.pending = append(d.pending, c)

	select {
	case d.wakeup <- struct{}{}:
	default:
	}
}

// Close stops delivery and waits until the running callback (if any) returns
// Must not be called from a subscriber callback
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.pending = nil
	close(d.wakeup)
	d.mu.Unlock()

	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)

	for range d.wakeup {
		for {
			d.mu.Lock()
			if d.closed || len(d.pending) == 0 {
				d.mu.Unlock()
				break
			}
			c := d.pending[0]
			d.pending = d.pending[1:]

			fns := make([]func(Change), 0, len(d.subs[c.Key]))
			for _, fn := range d.subs[c.Key] {
				fns = append(fns, fn)
			}
			d.mu.Unlock()

			for _, fn := range fns {
				fn(c)
			}
		}
	}
}
