package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Goroutine Test
// =============================================================================

// GoroutineTest collects errors from goroutines.
//
// t.Fatal in a goroutine only exits that goroutine, so goroutines return
// errors instead and Wait reports them on the test goroutine.
//
//	gt := testutil.NewGoroutineTest(t, 5*time.Second)
//	for i := 0; i < 8; i++ {
//	    gt.Go(func(ctx context.Context) error {
//	        _, err := evaluator.ShouldIgnore(ctx, "", changes.OpCreate, name)
//	        return err
//	    })
//	}
//	gt.Wait()
type GoroutineTest struct {
	t      testing.TB
	wg     sync.WaitGroup
	mu     sync.Mutex
	errs   []error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a helper whose context expires after timeout.
func NewGoroutineTest(t testing.TB, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{t: t, ctx: ctx, cancel: cancel}
}

// Go runs fn in a goroutine and records its error.
func (gt *GoroutineTest) Go(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			gt.mu.Lock()
			gt.errs = append(gt.errs, err)
			gt.mu.Unlock()
		}
	}()
}

// Wait waits for every goroutine and fails the test if any returned an
// error.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()
	gt.wg.Wait()
	gt.cancel()

	if len(gt.errs) == 0 {
		return
	}
	for i, err := range gt.errs {
		gt.t.Errorf("goroutine error [%d]: %v", i+1, err)
	}
	gt.t.FailNow()
}
