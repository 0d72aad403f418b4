package daemon

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// EventSink receives published events, e.g. the browser connection or a
// control socket subscriber.
type EventSink interface {
	Send(ctx context.Context, event domain.Event) error
}

// Broadcaster fans events out to every registered sink. A failing sink is
// logged and skipped.
type Broadcaster struct {
	mu     sync.RWMutex
	sinks  map[int]EventSink
	nextID int
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster with no sinks.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		sinks:  make(map[int]EventSink),
		logger: logger,
	}
}

// Add registers sink and returns a function that removes it.
func (b *Broadcaster) Add(sink EventSink) (remove func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.sinks[id] = sink
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.sinks, id)
		b.mu.Unlock()
	}
}

// Len returns the number of registered sinks.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// Publish delivers event to every sink.
func (b *Broadcaster) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	sinks := make([]EventSink, 0, len(b.sinks))
	for _, s := range b.sinks {
		sinks = append(sinks, s)
	}
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Send(ctx, event); err != nil {
			b.logger.Debug("event delivery failed",
				zap.String("event", event.EventName()),
				zap.Error(err))
		}
	}
}

// Ensure Broadcaster implements domain.Notifier.
var _ domain.Notifier = (*Broadcaster)(nil)
