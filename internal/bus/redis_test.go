package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisPair(t *testing.T) (*Redis, *Redis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	newTab := func() *Redis {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })

		tab := NewRedis(rdb, "botdash:test", nil)
		require.NoError(t, tab.Start(context.Background()))
		t.Cleanup(func() { tab.Close() })
		return tab
	}
	return newTab(), newTab()
}

func TestRedis_DeliversToOtherTabsOnly(t *testing.T) {
	a, b := newRedisPair(t)

	gotA := make(chan []byte, 1)
	gotB := make(chan []byte, 1)
	a.Subscribe(func(d []byte) { gotA <- d })
	b.Subscribe(func(d []byte) { gotB <- d })

	require.NoError(t, a.Publish(context.Background(), []byte(`{"type":"logout"}`)))

	select {
	case d := <-gotB:
		assert.Equal(t, `{"type":"logout"}`, string(d))
	case <-time.After(2 * time.Second):
		t.Fatal("tab B did not receive the message")
	}

	select {
	case d := <-gotA:
		t.Fatalf("sender received its own message: %s", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedis_PreservesOrder(t *testing.T) {
	a, b := newRedisPair(t)

	got := make(chan string, 3)
	b.Subscribe(func(d []byte) { got <- string(d) })

	for _, m := range []string{"1", "2", "3"} {
		require.NoError(t, a.Publish(context.Background(), []byte(m)))
	}

	for _, want := range []string{"1", "2", "3"} {
		select {
		case d := <-got:
			assert.Equal(t, want, d)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestRedis_PublishAfterClose(t *testing.T) {
	a, _ := newRedisPair(t)
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Publish(context.Background(), []byte("x")), ErrClosed)
}
