// Package inflight tracks network operations that are currently running,
// keyed by cache key, so concurrent requests for the same key share one
// operation and any holder of its token can cancel it.
package inflight

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCancelled is the result error delivered to waiters of a cancelled operation.
var ErrCancelled = errors.New("inflight: operation cancelled")

// Token identifies one in-flight operation. Every caller joined to the
// operation receives the same token.
type Token string

// Handle is the transport-side handle of a started operation.
type Handle interface {
	Cancel()
}

// Result is delivered to every waiter of an operation. Data is nil when the
// operation produced nothing.
type Result struct {
	Data []byte
	Err  error
}

// Starter begins the underlying operation. It runs while the registry lock is
// held and must arrange for complete to be called exactly once, from another
// goroutine, when the operation ends.
type Starter func(complete func(Result)) (Handle, error)

// Info is a point-in-time view of a pending operation.
type Info struct {
	Key     string    `json:"key"`
	Token   Token     `json:"token"`
	Waiters int       `json:"waiters"`
	Started time.Time `json:"started"`
}

// Registry owns the key -> operation table. All mutations go through one mutex.
type Registry struct {
	mu     sync.Mutex
	byKey  map[string]*Flight
	tokens map[Token]*Flight
	now    func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[string]*Flight),
		tokens: make(map[Token]*Flight),
		now:    time.Now,
	}
}

// BeginOrJoin returns the pending operation for key, creating it with starter
// when none exists. isNew reports whether this call created the operation.
// A starter error leaves the registry unchanged and is returned as is.
func (r *Registry) BeginOrJoin(key string, starter Starter) (flight *Flight, isNew bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byKey[key]; ok {
		existing.waiters++
		return existing, false, nil
	}

	f := newFlight(key, Token(uuid.NewString()), r.now())
	handle, err := starter(func(res Result) {
		r.Complete(f.token, res)
	})
	if err != nil {
		return nil, false, err
	}
	f.handle = handle
	r.byKey[key] = f
	r.tokens[f.token] = f
	return f, true, nil
}

// Complete delivers res to every waiter of the operation behind token and
// removes it. It returns false when the operation already ended.
func (r *Registry) Complete(token Token, res Result) bool {
	r.mu.Lock()
	f, ok := r.tokens[token]
	if ok {
		r.removeLocked(f)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	return f.finish(StateCompleted, res)
}

// Cancel stops the operation behind token. All of its waiters receive
// ErrCancelled. Stale or unknown tokens return false without side effects.
func (r *Registry) Cancel(token Token) bool {
	r.mu.Lock()
	f, ok := r.tokens[token]
	if ok {
		r.removeLocked(f)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	f.finish(StateCancelled, Result{Err: ErrCancelled})
	if f.handle != nil {
		f.handle.Cancel()
	}
	return true
}

// Lookup returns the pending operation for token.
func (r *Registry) Lookup(token Token) (*Flight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.tokens[token]
	return f, ok
}

// Len returns the number of pending operations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

// Snapshot lists pending operations ordered by start time.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.byKey))
	for _, f := range r.byKey {
		out = append(out, Info{
			Key:     f.key,
			Token:   f.token,
			Waiters: f.waiters,
			Started: f.started,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].Key < out[j].Key
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

func (r *Registry) removeLocked(f *Flight) {
	delete(r.tokens, f.token)
	if current, ok := r.byKey[f.key]; ok && current == f {
		delete(r.byKey, f.key)
	}
}
