package testutil

import (
	"sync"
	"sync/atomic"

	dErrors "refaccess/pkg/domain-errors"
)

// ConcurrentResult tracks outcomes of concurrent test operations, bucketed by
// the domain code each call failed with.
type ConcurrentResult struct {
	Successes     int32
	InvalidStates int32
	Forbidden     int32
	NotFounds     int32
	Errors        int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.InvalidStates + r.Forbidden + r.NotFounds + r.Errors
}

// RunConcurrent executes fn in parallel goroutines released together and
// collects results.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, invalid, forbidden, notFounds, errs atomic.Int32
	start := make(chan struct{})

	for i := range goroutines {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			err := fn(idx)
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeInvalidState):
				invalid.Add(1)
			case dErrors.HasCode(err, dErrors.CodeForbidden):
				forbidden.Add(1)
			case dErrors.HasCode(err, dErrors.CodeNotFound):
				notFounds.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}

	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes:     successes.Load(),
		InvalidStates: invalid.Load(),
		Forbidden:     forbidden.Load(),
		NotFounds:     notFounds.Load(),
		Errors:        errs.Load(),
	}
}
