package sync

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrOnce_RetriesAfterFailure(t *testing.T) {
	var once errOnce
	errBuild := errors.New("index build failed")

	err := once.Do(func() error { return errBuild })
	require.ErrorIs(t, err, errBuild)

	calls := 0
	require.NoError(t, once.Do(func() error { calls++; return nil }))
	require.NoError(t, once.Do(func() error { calls++; return errBuild }))
	assert.Equal(t, 1, calls, "a successful call is never repeated")
}

func TestErrOnce_Concurrent(t *testing.T) {
	var once errOnce
	var count atomic.Int32

	const goroutines = 64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, once.Do(func() error { count.Add(1); return nil }))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, count.Load())
}
