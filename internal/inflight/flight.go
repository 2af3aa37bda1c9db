package inflight

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle position of a Flight.
type State int

const (
	StatePending State = iota
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Flight is the shared future of one in-flight operation. Done is closed
// exactly once, after which Result is fixed.
type Flight struct {
	key     string
	token   Token
	started time.Time
	handle  Handle

	// guarded by the registry lock
	waiters int

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	state  State
	result Result
}

func newFlight(key string, token Token, started time.Time) *Flight {
	return &Flight{
		key:     key,
		token:   token,
		started: started,
		waiters: 1,
		done:    make(chan struct{}),
	}
}

// Key returns the cache key the operation resolves.
func (f *Flight) Key() string { return f.key }

// Token returns the cancellation token shared by all waiters.
func (f *Flight) Token() Token { return f.token }

// Done is closed once the operation reached a terminal state.
func (f *Flight) Done() <-chan struct{} { return f.done }

// State reports the current lifecycle state.
func (f *Flight) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result returns the delivered result. It is the zero Result until Done is closed.
func (f *Flight) Result() Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Wait blocks until the operation ends or ctx is done. Leaving early does not
// affect the operation or its other waiters.
func (f *Flight) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (f *Flight) finish(state State, res Result) bool {
	finished := false
	f.once.Do(func() {
		f.mu.Lock()
		f.state = state
		f.result = res
		f.mu.Unlock()
		close(f.done)
		finished = true
	})
	return finished
}
