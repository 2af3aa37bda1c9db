package fetcher

import (
	"bytes"
	"context"

	"github.com/any-hub/cacher/internal/inflight"
)

// Source reports where a result came from.
type Source int

const (
	SourceNone Source = iota
	SourceMemory
	SourceDisk
	SourceNetwork
)

func (s Source) String() string {
	switch s {
	case SourceMemory:
		return "memory"
	case SourceDisk:
		return "disk"
	case SourceNetwork:
		return "network"
	default:
		return "none"
	}
}

// Result is what a caller of Fetch receives. Data is nil when nothing was
// found; Err then carries the reason (not found, malformed URL, transport
// failure, cancellation) for callers that want to log it.
type Result struct {
	Data   []byte
	Source Source
	Err    error
}

// Found reports whether the result carries data.
func (r Result) Found() bool {
	return r.Data != nil
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Call is the future returned by Fetch. Cache hits and short-circuits are
// resolved immediately; network fills resolve when the shared operation ends.
type Call struct {
	flight   *inflight.Flight
	resolved Result
}

func resolvedCall(res Result) *Call {
	return &Call{resolved: res}
}

// Done is closed once the result is available.
func (c *Call) Done() <-chan struct{} {
	if c.flight != nil {
		return c.flight.Done()
	}
	return closedDone
}

// Token returns the cancellation token when the call is backed by a network
// operation. Joined callers share the token of the operation they joined.
func (c *Call) Token() (inflight.Token, bool) {
	if c.flight == nil {
		return "", false
	}
	return c.flight.Token(), true
}

// Wait blocks until the result is available or ctx ends. Giving up early does
// not cancel the shared operation; use the token for that.
func (c *Call) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.Done():
		return c.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result blocks until the call resolves. Every caller gets its own copy of the bytes.
func (c *Call) Result() Result {
	if c.flight == nil {
		return c.resolved
	}
	<-c.flight.Done()
	res := c.flight.Result()
	if res.Data == nil {
		return Result{Source: SourceNone, Err: res.Err}
	}
	return Result{Data: bytes.Clone(res.Data), Source: SourceNetwork}
}
