package server

import (
	"context"
	"sync"
)

// Notification types pushed to the game runtime
const (
	NotificationValuesChanged = "values_changed"
	NotificationWin           = "win"
)

// Notification is one runtime notification.
type Notification struct {
	Type     string
	PackName string
	Wins     map[int]int64
}

// Broadcaster fans notifications out to every listening stream.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[int]chan Notification
	nextID    int
	buffer    int
}

// NewBroadcaster creates a broadcaster whose listeners buffer up to buffer notifications.
func NewBroadcaster(buffer int) *Broadcaster {
	return &Broadcaster{
		listeners: make(map[int]chan Notification),
		buffer:    buffer,
	}
}

// Send publishes without blocking. A listener with a full buffer misses the notification.
func (b *Broadcaster) Send(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.listeners {
		select {
		case ch <- n:
		default:
		}
	}
}

// Listen registers a listener until ctx is done or the returned cancel is called.
func (b *Broadcaster) Listen(ctx context.Context) (<-chan Notification, context.CancelFunc) {
	ch := make(chan Notification, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = ch
	b.mu.Unlock()

	listenerCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-listenerCtx.Done()
		b.mu.Lock()
		delete(b.listeners, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, cancel
}

// Listeners returns the number of registered listeners.
func (b *Broadcaster) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
