package service

import (
	"sync"

	"github.com/trailhead/trailimport/internal/domain"
)

const defaultSubscriberBuffer = 64

// Broadcaster fans progress events out to any number of subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the event,
// except for the end-of-run event, which evicts the oldest buffered event
// to make room.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.Progress
	nextID int
	buffer int
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[int]chan domain.Progress),
		buffer: defaultSubscriberBuffer,
	}
}

// Subscribe registers a new listener. The returned function removes it and
// closes its channel; calling it more than once is safe. Subscribing to a
// closed broadcaster yields an already-closed channel.
func (b *Broadcaster) Subscribe() (<-chan domain.Progress, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Progress, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broadcaster) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers p to every subscriber with room for it. A Done event
// always reaches every subscriber.
func (b *Broadcaster) Publish(p domain.Progress) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		if p.Done() {
			deliverFinal(ch, p)
			continue
		}
		select {
		case ch <- p:
		default:
		}
	}
}

// deliverFinal drops the oldest buffered events until p fits.
func deliverFinal(ch chan domain.Progress, p domain.Progress) {
	for {
		select {
		case ch <- p:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
