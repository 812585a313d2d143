package logstore

import (
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 64

// Broker fans out appended log entries to all subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Entry
	nextID      atomic.Int64
}

// NewBroker creates a new log entry broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[int64]chan Entry)}
}

// Subscribe registers a new listener. The channel is buffered; slow
// consumers have entries dropped.
func (b *Broker) Subscribe() (int64, <-chan Entry) {
	id := b.nextID.Add(1)
	ch := make(chan Entry, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an entry to all subscribers without blocking.
func (b *Broker) Publish(e Entry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
