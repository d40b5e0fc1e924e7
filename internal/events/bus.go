package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a channel-based pub-sub bus. Events are routed by their Topic;
// subscribers may listen to one topic or to all of them.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event
	allSubs []chan Event
	closed  bool
	dropped atomic.Uint64 // Deliveries skipped on full subscriber buffers
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]chan Event),
	}
}

const defaultBuffer = 256

// Subscribe returns a channel receiving events of topic. bufSize <= 0
// means 256. The channel is closed by Close or Unsubscribe.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll returns a channel receiving every event.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	ch := newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

func newChannel(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	return make(chan Event, bufSize)
}

// Unsubscribe removes and closes a channel returned by Subscribe or
// SubscribeAll.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for topic, chans := range b.subs {
		if rest, ok := without(chans, sub); ok {
			b.subs[topic] = rest
			return
		}
	}
	if rest, ok := without(b.allSubs, sub); ok {
		b.allSubs = rest
	}
}

func without(chans []chan Event, sub <-chan Event) ([]chan Event, bool) {
	for i, ch := range chans {
		if (<-chan Event)(ch) == sub {
			close(ch)
			return append(chans[:i:i], chans[i+1:]...), true
		}
	}
	return chans, false
}

// Publish delivers e to subscribers of its topic and to all-topic
// subscribers. It never blocks: a full subscriber misses the event.
// Publishing on a nil bus is a no-op.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs[e.Topic()] {
		b.send(ch, e)
	}
	for _, ch := range b.allSubs {
		b.send(ch, e)
	}
}

func (b *Bus) send(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were skipped on full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the bus and every subscriber channel. It is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}
