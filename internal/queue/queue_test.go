package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFOOrder(t *testing.T) {
	q := New[int](0)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestTryPopEmpty(t *testing.T) {
	q := New[int](0)
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string](0)
	done := make(chan string)
	go func() {
		v, err := q.Pop(context.Background())
		if err != nil {
			t.Error(err)
			return
		}
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before any Push")
	case <-time.After(30 * time.Millisecond):
	}

	q.Push("x")
	select {
	case v := <-done:
		assert.Equal(t, "x", v)
	case <-time.After(time.Second):
		t.Fatal("Pop never returned after Push")
	}
}

func TestPushBlocksAtCapacity(t *testing.T) {
	q := New[int](1)
	q.Push(1)

	pushed := make(chan struct{})
	go func() {
		q.Push(2)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("Push should have blocked at capacity")
	case <-time.After(30 * time.Millisecond):
	}

	q.TryPop()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("blocked Push never unblocked after a Pop freed capacity")
	}
}

func TestPopTimeoutExpires(t *testing.T) {
	q := New[int](0)
	_, ok, err := q.PopTimeout(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPopContextCancel(t *testing.T) {
	q := New[int](0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	assert.Error(t, err)
}

func TestUnblockReleasesBlockedPop(t *testing.T) {
	q := New[int](0)
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Unblock()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop never unblocked")
	}
}

func TestUnblockReleasesBlockedPush(t *testing.T) {
	q := New[int](1)
	q.Push(1)

	done := make(chan bool, 1)
	go func() {
		done <- q.Push(2)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Unblock()

	select {
	case ok := <-done:
		assert.False(t, ok, "expected blocked Push to report failure after Unblock")
	case <-time.After(time.Second):
		t.Fatal("Push never unblocked")
	}
}
