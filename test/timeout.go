package test

import (
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
)

// Guard implements a test level timeout and checks for leaked goroutines
// once the test is done. An optional duration overrides the default
// timeout.
func Guard(t *testing.T, timeout ...time.Duration) func() {
	limit := 2 * Timeout
	if len(timeout) > 0 {
		limit = timeout[0]
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(limit):
			DumpGoroutines()

			panic("test timeout")

		case <-done:
		}
	}()

	fn := leaktest.CheckTimeout(t, Timeout)

	return func() {
		close(done)
		fn()
	}
}
