package utils

import (
	"sync"
	"testing"
	"time"
)

func TestDebounce(t *testing.T) {
	t.Run("calls during a run collapse into a single follow-up", func(t *testing.T) {
		var mu sync.Mutex
		count := 0

		started := make(chan struct{}, 16)
		release := make(chan struct{})

		g := Debounce(func() {
			mu.Lock()
			count++
			mu.Unlock()

			started <- struct{}{}
			<-release
		})

		g()
		<-started // first run is in flight

		g()
		g()
		g() // all of these collapse into one queued run

		release <- struct{}{} // finish the first run
		<-started             // the queued run starts
		release <- struct{}{} // finish it

		waitForCondition(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return count == 2
		})

		// a later call triggers a fresh run
		g()
		<-started
		release <- struct{}{}

		waitForCondition(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return count == 3
		})
	})

	t.Run("a single call runs exactly once", func(t *testing.T) {
		var mu sync.Mutex
		count := 0

		g := Debounce(func() {
			mu.Lock()
			count++
			mu.Unlock()
		})

		g()

		waitForCondition(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return count == 1
		})

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if count != 1 {
			t.Errorf("function ran %d times, want 1", count)
		}
	})
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}
