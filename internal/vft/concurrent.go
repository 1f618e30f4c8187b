package vft

import "sync"

// multithread runs fn(0), fn(1), ..., fn(num-1) concurrently and waits
// for all of them to finish. Adapted from rclone's
// backend/union/union.go, used by callers mapping several overlay
// layers at construction time.
func multithread(num int, fn func(i int)) {
	var wg sync.WaitGroup
	wg.Add(num)
	for i := 0; i < num; i++ {
		i := i
		go func() {
			defer wg.Done()
			fn(i)
		}()
	}
	wg.Wait()
}
