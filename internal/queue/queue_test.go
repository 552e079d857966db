package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netsensor/internal/core"
)

func packet(b byte) core.CapturedPacket {
	return core.NewCapturedPacket("eth0", []byte{b}, 0, time.Now())
}

func TestTryEnqueueFull(t *testing.T) {
	q := New(Options{Capacity: 2})

	assert.True(t, q.TryEnqueue(packet(1)))
	assert.True(t, q.TryEnqueue(packet(2)))
	assert.False(t, q.TryEnqueue(packet(3)))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Cap())
}

func TestDequeueFIFO(t *testing.T) {
	q := New(Options{Capacity: 4})
	for i := byte(0); i < 4; i++ {
		require.True(t, q.TryEnqueue(packet(i)))
	}
	for i := byte(0); i < 4; i++ {
		p, ok := q.Dequeue(time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, i, p.Data[0])
	}
}

func TestDequeueTimeout(t *testing.T) {
	q := New(Options{Capacity: 1})

	start := time.Now()
	_, ok := q.Dequeue(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

// A producer facing a full queue waits instead of dropping; every frame
// arrives once consumers catch up.
func TestEnqueueBackpressureNeverDrops(t *testing.T) {
	for _, backoff := range []time.Duration{0, time.Millisecond} {
		q := New(Options{Capacity: 4, Backoff: backoff})
		const total = 200

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total; i++ {
				assert.NoError(t, q.Enqueue(context.Background(), packet(byte(i))))
			}
		}()

		received := 0
		for received < total {
			p, ok := q.Dequeue(time.Second)
			require.True(t, ok, "backoff %v: frame lost after %d", backoff, received)
			assert.Equal(t, byte(received), p.Data[0])
			received++
			if received%10 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
		wg.Wait()
		assert.Greater(t, q.BackpressureWaits(), uint64(0))
	}
}

func TestEnqueueCancelled(t *testing.T) {
	q := New(Options{Capacity: 1})
	require.True(t, q.TryEnqueue(packet(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.Enqueue(ctx, packet(2))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, q.Len())
}

func TestCloseDrains(t *testing.T) {
	q := New(Options{Capacity: 2})
	require.True(t, q.TryEnqueue(packet(1)))
	q.Close()

	assert.False(t, q.TryEnqueue(packet(2)))
	assert.True(t, errors.Is(q.Enqueue(context.Background(), packet(3)), core.ErrQueueClosed))

	p, ok := q.Dequeue(time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, byte(1), p.Data[0])

	_, ok = q.Dequeue(time.Second)
	assert.False(t, ok)
	assert.True(t, q.Drained())
}

func TestCloseUnblocksProducer(t *testing.T) {
	q := New(Options{Capacity: 1})
	require.True(t, q.TryEnqueue(packet(1)))

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(context.Background(), packet(2)) }()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, core.ErrQueueClosed))
	case <-time.After(time.Second):
		t.Fatal("Enqueue did not return after Close")
	}
}

func TestFanout(t *testing.T) {
	f := Fanout{
		Primary: New(Options{Capacity: 2}),
		RTT:     New(Options{Name: "rtt", Capacity: 2}),
	}
	require.NoError(t, f.Enqueue(context.Background(), packet(7)))

	p1, ok := f.Primary.Dequeue(time.Millisecond)
	require.True(t, ok)
	p2, ok := f.RTT.Dequeue(time.Millisecond)
	require.True(t, ok)

	p2.Data[0] = 9
	assert.Equal(t, byte(7), p1.Data[0])

	single := Fanout{Primary: New(Options{Capacity: 1})}
	require.NoError(t, single.Enqueue(context.Background(), packet(1)))
	assert.Equal(t, 1, single.Primary.Len())
}
