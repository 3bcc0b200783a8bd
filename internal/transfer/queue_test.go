package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSetAddIfNew(t *testing.T) {
	s := newHashSet()
	assert.True(t, s.addIfNew("a"))
	assert.False(t, s.addIfNew("a"))
	assert.True(t, s.addIfNew("b"))
}

func TestWorkQueueBasicDrain(t *testing.T) {
	q := newWorkQueue([]string{"a", "b"})
	ctx := context.Background()

	item, ok := q.pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", item)

	item, ok = q.pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "b", item)
	q.done()

	// one item ("a") is still in flight from the first pop, so pop
	// should block rather than report drained; mark it done to unblock.
	done := make(chan struct{})
	go func() {
		_, ok := q.pop(ctx)
		assert.False(t, ok)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.done() // finishes "a"

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pop did not observe drained queue")
	}
}

func TestWorkQueuePushWakesWaiter(t *testing.T) {
	q := newWorkQueue(nil)
	q.mu.Lock()
	q.inFlight = 1 // simulate one worker holding the queue open
	q.mu.Unlock()

	ctx := context.Background()
	result := make(chan string, 1)
	go func() {
		item, ok := q.pop(ctx)
		require.True(t, ok)
		result <- item
	}()

	time.Sleep(20 * time.Millisecond)
	q.push("new-item")

	select {
	case item := <-result:
		assert.Equal(t, "new-item", item)
	case <-time.After(time.Second):
		t.Fatal("pop did not observe pushed item")
	}
	q.done()
}

func TestWorkQueuePopCancelledContext(t *testing.T) {
	q := newWorkQueue(nil)
	q.mu.Lock()
	q.inFlight = 1
	q.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan bool, 1)
	go func() {
		_, ok := q.pop(ctx)
		result <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pop did not observe context cancellation")
	}
}

func TestWorkQueuePushAllIgnoresEmpty(t *testing.T) {
	q := newWorkQueue(nil)
	q.pushAll(nil)
	q.push("")
	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()
	assert.Zero(t, n)
}
