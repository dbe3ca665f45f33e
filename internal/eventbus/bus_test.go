package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	c1, u1 := b.Subscribe(2)
	c2, u2 := b.Subscribe(2)
	defer u2()

	b.Publish(Event{Type: TypeTaskRun, Data: "x"})
	e1 := <-c1
	e2 := <-c2
	assert.Equal(t, TypeTaskRun, e1.Type)
	assert.False(t, e1.Time.IsZero())
	assert.Equal(t, e1, e2)

	u1()
	u1()
	_, ok := <-c1
	assert.False(t, ok, "channel closed on unsubscribe")
	b.Publish(Event{Type: TypeTaskRun})
	require.Len(t, c2, 1)
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})

	assert.Equal(t, uint64(2), b.Dropped())
	assert.Equal(t, "a", (<-ch).Type)
}
