// Package events carries outbound notifications from committed work to the
// delivery sinks. Publishing never blocks the caller.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saeid-a/TherapyCallBack/internal/models"
)

const defaultBuffer = 256

type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan models.Event]struct{}
	buffer      int
	dropped     atomic.Int64
	logger      *slog.Logger
}

func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		subscribers: make(map[chan models.Event]struct{}),
		buffer:      buffer,
		logger:      logger,
	}
}

// Publish fans the event out to every subscriber. A subscriber whose buffer is full
// misses the event.
func (b *Bus) Publish(event models.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			if b.logger != nil {
				b.logger.Warn("event dropped", "type", event.Type, "users", event.UserIDs)
			}
		}
	}
}

func (b *Bus) Subscribe() (<-chan models.Event, func()) {
	ch := make(chan models.Event, b.buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
