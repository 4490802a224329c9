package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_DeliversToOtherTabsOnly(t *testing.T) {
	hub := NewMemory()
	a, b, c := hub.Tab(), hub.Tab(), hub.Tab()

	var gotA, gotB, gotC [][]byte
	a.Subscribe(func(d []byte) { gotA = append(gotA, d) })
	b.Subscribe(func(d []byte) { gotB = append(gotB, d) })
	c.Subscribe(func(d []byte) { gotC = append(gotC, d) })

	require.NoError(t, a.Publish(context.Background(), []byte(`{"type":"logout"}`)))

	assert.Empty(t, gotA, "sender must not receive its own message")
	require.Len(t, gotB, 1)
	require.Len(t, gotC, 1)
	assert.Equal(t, `{"type":"logout"}`, string(gotB[0]))
}

func TestMemory_PreservesOrder(t *testing.T) {
	hub := NewMemory()
	a, b := hub.Tab(), hub.Tab()

	var got []string
	b.Subscribe(func(d []byte) { got = append(got, string(d)) })

	for _, m := range []string{"1", "2", "3"} {
		require.NoError(t, a.Publish(context.Background(), []byte(m)))
	}
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestMemory_CancelSubscription(t *testing.T) {
	hub := NewMemory()
	a, b := hub.Tab(), hub.Tab()

	count := 0
	cancel := b.Subscribe(func([]byte) { count++ })
	require.NoError(t, a.Publish(context.Background(), []byte("x")))
	cancel()
	cancel()
	require.NoError(t, a.Publish(context.Background(), []byte("y")))

	assert.Equal(t, 1, count)
}

func TestMemory_ClosedTab(t *testing.T) {
	hub := NewMemory()
	a, b := hub.Tab(), hub.Tab()

	count := 0
	b.Subscribe(func([]byte) { count++ })
	require.NoError(t, b.Close())

	require.NoError(t, a.Publish(context.Background(), []byte("x")))
	assert.Equal(t, 0, count)
	assert.ErrorIs(t, b.Publish(context.Background(), []byte("x")), ErrClosed)
}

func TestMemory_CopiesPayload(t *testing.T) {
	hub := NewMemory()
	a, b := hub.Tab(), hub.Tab()

	var got []byte
	b.Subscribe(func(d []byte) { got = d })

	payload := []byte("abc")
	require.NoError(t, a.Publish(context.Background(), payload))
	payload[0] = 'z'

	assert.Equal(t, "abc", string(got))
}
