package sync

import (
	"sync"
	"sync/atomic"
)

// errOnce is like sync.Once for a fallible f: a call that fails leaves it
// unmarked, so the next call runs f again. A Run builds its dependency
// index through one.
//
// errOnce is safe for concurrent use.
type errOnce struct {
	done atomic.Bool
	m    sync.Mutex
}

// Do calls f unless an earlier call of f succeeded. Concurrent callers
// block until the running f returns.
func (o *errOnce) Do(f func() error) error {
	if o.done.Load() {
		return nil
	}

	o.m.Lock()
	defer o.m.Unlock()

	if o.done.Load() {
		return nil
	}
	if err := f(); err != nil {
		return err
	}
	o.done.Store(true)
	return nil
}
