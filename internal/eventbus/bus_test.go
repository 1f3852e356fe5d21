package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	b := New(4)
	id, ch := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Publish(Event{Type: PriceUpdate, Data: map[string]any{"price": "100"}})
	ev := <-ch
	assert.Equal(t, PriceUpdate, ev.Type)

	b.Unsubscribe(id)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestPublish_DropsPriceUpdateOnFullQueue(t *testing.T) {
	b := New(1)
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	b.Publish(Event{Type: PriceUpdate, Data: map[string]any{"n": 1}})
	b.Publish(Event{Type: PriceUpdate, Data: map[string]any{"n": 2}}) // queue full, dropped silently

	require.Equal(t, 1, b.SubscriberCount(), "a droppable overflow must not disconnect the subscriber")
	<-ch
}

func TestPublish_DisconnectsOnNonDroppableOverflow(t *testing.T) {
	b := New(1)
	_, ch := b.Subscribe()

	b.Publish(Event{Type: OrderFilled, Data: map[string]any{"n": 1}}) // fills the queue
	b.Publish(Event{Type: OrderFilled, Data: map[string]any{"n": 2}}) // queue full and non-droppable -> disconnect

	assert.Equal(t, 0, b.SubscriberCount())
	<-ch // first event still delivered
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after disconnect")
}
