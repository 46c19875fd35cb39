package utils

import "sync"

// Debounce wraps fn so that overlapping triggers collapse: at most one run is
// in flight, and while one runs at most a single follow-up is queued. Triggers
// never block, fn always runs on its own goroutine.
func Debounce(fn func()) func() {
	var mu sync.Mutex
	var running, queued bool

	run := func() {
		for {
			fn()

			mu.Lock()
			if queued {
				queued = false
				mu.Unlock()
				continue
			}
			running = false
			mu.Unlock()
			return
		}
	}

	return func() {
		mu.Lock()
		defer mu.Unlock()

		if running {
			queued = true
			return
		}

		running = true
		go run()
	}
}
