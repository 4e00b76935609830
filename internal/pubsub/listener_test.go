package pubsub

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListener_DeliversEvents(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	var sum atomic.Int64
	received := make(chan struct{}, 8)
	listener := NewListener(context.Background(), broker, func(ev Event[int]) {
		sum.Add(int64(ev.Payload))
		received <- struct{}{}
	})
	defer listener.Stop()

	broker.Publish(CreatedEvent, 1)
	broker.Publish(CreatedEvent, 2)
	broker.Publish(CreatedEvent, 3)

	for i := 0; i < 3; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	require.Equal(t, int64(6), sum.Load())
}

func TestListener_StopWaitsForDrain(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	var count atomic.Int64
	listener := NewListener(context.Background(), broker, func(Event[string]) {
		count.Add(1)
	})

	broker.Publish(CreatedEvent, "a")
	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

	listener.Stop()
	// After Stop the subscription is gone; further publishes are dropped.
	broker.Publish(CreatedEvent, "b")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(1), count.Load())
}

func TestSubscriberFunc_Adapts(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	var sub Subscriber[int] = SubscriberFunc[int](broker.Subscribe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := sub.Subscribe(ctx)

	broker.Publish(UpdatedEvent, 42)
	select {
	case ev := <-ch:
		require.Equal(t, 42, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
