package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_RunsJobsAndTracksCapacity(t *testing.T) {
	wm := NewWorkerManager(4, 2, nil)
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []int
	wm.SetWorker(func(_ int, job interface{}) {
		<-release
		mu.Lock()
		seen = append(seen, job.(int))
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- wm.Start() }()

	assert.Equal(t, 2, wm.Free())
	wm.Enqueue(1)
	wm.Enqueue(2)
	assert.Equal(t, 0, wm.Free())
	assert.Equal(t, 2, wm.Busy())

	close(release)
	require.Eventually(t, func() bool { return wm.Busy() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, wm.Free())
	mu.Lock()
	assert.ElementsMatch(t, []int{1, 2}, seen)
	mu.Unlock()

	wm.Exit()
	wm.Exit()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestWorkerManager_RecoversFromPanic(t *testing.T) {
	wm := NewWorkerManager(1, 1, nil)
	wm.SetWorker(func(_ int, job interface{}) {
		if job == "boom" {
			panic("boom")
		}
	})
	go wm.Start() //nolint
	defer wm.Exit()

	wm.Enqueue("boom")
	wm.Enqueue("ok")
	require.Eventually(t, func() bool { return wm.Busy() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWorkerManager_BacklogAndSize(t *testing.T) {
	wm := NewWorkerManager(4, 1, nil)
	release := make(chan struct{})
	wm.SetWorker(func(_ int, _ interface{}) { <-release })
	go wm.Start() //nolint
	defer wm.Exit()

	assert.Equal(t, 1, wm.Size())
	assert.Zero(t, wm.GetUnreadCount())

	wm.Enqueue(1)
	wm.Enqueue(2)
	wm.Enqueue(3)
	require.Eventually(t, func() bool { return wm.GetUnreadCount() == 2 }, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return wm.GetUnreadCount() == 0 && wm.Busy() == 0 }, time.Second, 5*time.Millisecond)
}
