package daemon

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

func TestBroadcaster(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(zap.NewNop())

	broken := &recordingSink{err: errors.New("disconnected")}
	first := &recordingSink{}
	second := &recordingSink{}

	b.Add(broken)
	removeFirst := b.Add(first)
	b.Add(second)
	assert.Equal(t, 3, b.Len())

	b.Publish(ctx, domain.BlockActivated{})
	assert.Equal(t, []string{"BlockActivated"}, first.names())
	assert.Equal(t, []string{"BlockActivated"}, second.names(), "a failing sink does not stop delivery")

	removeFirst()
	removeFirst()
	assert.Equal(t, 2, b.Len())

	b.Publish(ctx, domain.BlockDeactivated{})
	assert.Equal(t, []string{"BlockActivated"}, first.names())
	assert.Equal(t, []string{"BlockActivated", "BlockDeactivated"}, second.names())
}

func TestBroadcaster_NoSinks(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	assert.NotPanics(t, func() {
		b.Publish(context.Background(), domain.RedirectRequested{ContextID: "tab-1"})
	})
}
