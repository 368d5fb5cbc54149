package engine

import "sync"

// CancellationToken is the engine's cooperative cancellation signal (spec
// section 5): checked when a worker pops from the ready queue and inside
// await wakeups. Setting it stops new dispatch; in-flight kernels run to
// completion and partial results remain in the store.
type CancellationToken struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// NewCancellationToken returns a token in the not-cancelled state.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// Cancel sets the token. Safe to call more than once; only the first call
// has an effect.
func (t *CancellationToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancelled {
		t.cancelled = true
		close(t.done)
	}
}

// Cancelled reports whether Cancel has been called.
func (t *CancellationToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token is cancelled, for use in
// select statements alongside ctx.Done().
func (t *CancellationToken) Done() <-chan struct{} { return t.done }
