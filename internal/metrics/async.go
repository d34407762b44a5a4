package metrics

import (
	"sync"
	"sync/atomic"

	"support-agent/internal/domain"
)

const DefaultBuffer = 256

// Async decouples producers from a sink with a bounded queue. Emit never
// blocks: when the queue is full or Async is closed the event is dropped.
type Async struct {
	sink    Sink
	events  chan domain.Event
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func NewAsync(sink Sink, buffer int) *Async {
	if sink == nil {
		sink = Discard{}
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	a := &Async{
		sink:   sink,
		events: make(chan domain.Event, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.events {
		a.sink.Emit(ev)
	}
}

func (a *Async) Emit(ev domain.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded so far.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until the queued ones are delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()
	<-a.done
}
