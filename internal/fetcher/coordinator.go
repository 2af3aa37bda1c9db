// Package fetcher resolves URLs against the cache tiers and, on a miss,
// through a single shared network operation per cache key.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/cacher/internal/cache"
	"github.com/any-hub/cacher/internal/cachekey"
	"github.com/any-hub/cacher/internal/inflight"
	"github.com/any-hub/cacher/internal/logging"
	"github.com/any-hub/cacher/internal/metrics"
	"github.com/any-hub/cacher/internal/transport"
)

var (
	// ErrTierDisabled is reported for calls made with cache.TierNone.
	ErrTierDisabled = errors.New("fetcher: caching disabled")
	// ErrTierUnavailable is reported when the selected tier was not configured.
	ErrTierUnavailable = errors.New("fetcher: tier unavailable")
)

// Options wires a Coordinator to its collaborators.
type Options struct {
	Memory    cache.Store
	Disk      cache.Store
	Transport transport.Transport
	Logger    *logrus.Logger
	Metrics   *metrics.Metrics
	// ClearDiskOnRemoveAll makes RemoveAll clear the disk tier as well.
	ClearDiskOnRemoveAll bool
}

// Coordinator decides per request whether to answer from a tier or from the
// network, and tracks network operations so they can be shared and cancelled.
type Coordinator struct {
	memory    cache.Store
	disk      cache.Store
	transport transport.Transport
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	registry  *inflight.Registry
	clearDisk bool
}

// New constructs a coordinator. Memory and Transport are required; Disk may be
// nil, in which case disk-tier calls report ErrTierUnavailable.
func New(opts Options) (*Coordinator, error) {
	if opts.Memory == nil {
		return nil, errors.New("memory store is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Coordinator{
		memory:    opts.Memory,
		disk:      opts.Disk,
		transport: opts.Transport,
		logger:    logger,
		metrics:   opts.Metrics,
		registry:  inflight.NewRegistry(),
		clearDisk: opts.ClearDiskOnRemoveAll,
	}, nil
}

// Fetch resolves rawURL. TierNone and malformed URLs resolve immediately with
// no data. A hit on the selected tier resolves immediately with the cached
// bytes. A miss starts or joins the network operation for the URL's cache key;
// the returned Call then carries that operation's token.
//
// Fetch only blocks for the tier lookup. Network results are written into the
// memory tier before they are delivered, whichever tier missed.
func (c *Coordinator) Fetch(ctx context.Context, tier cache.Tier, rawURL string) *Call {
	if tier == cache.TierNone {
		return resolvedCall(Result{Err: ErrTierDisabled})
	}

	key, err := cachekey.Derive(rawURL)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "fetch",
			"tier":   tier.String(),
			"url":    rawURL,
		}).WithError(err).Debug("fetch_malformed_url")
		return resolvedCall(Result{Err: err})
	}

	store, ok := c.storeFor(tier)
	if !ok {
		return resolvedCall(Result{Err: ErrTierUnavailable})
	}

	data, err := store.Get(ctx, key)
	switch {
	case err == nil:
		c.metrics.Hit(store.Name())
		c.logFetch(tier, key, sourceFor(tier)).Debug("fetch_hit")
		return resolvedCall(Result{Data: data, Source: sourceFor(tier)})
	case errors.Is(err, cache.ErrNotFound):
		// miss, continue
	case ctx.Err() != nil:
		return resolvedCall(Result{Err: ctx.Err()})
	default:
		c.logFetch(tier, key, SourceNone).WithError(err).Warn("cache_get_failed")
	}
	c.metrics.Miss(store.Name())

	flight, isNew, err := c.registry.BeginOrJoin(key, c.starter(tier, key, rawURL))
	if err != nil {
		c.logFetch(tier, key, SourceNetwork).WithError(err).Warn("fetch_start_failed")
		return resolvedCall(Result{Err: err})
	}
	if isNew {
		c.metrics.Started()
	} else {
		c.metrics.Joined()
	}
	return &Call{flight: flight}
}

func (c *Coordinator) starter(tier cache.Tier, key, rawURL string) inflight.Starter {
	return func(complete func(inflight.Result)) (inflight.Handle, error) {
		started := time.Now()
		return c.transport.Start(rawURL, func(data []byte, err error) {
			c.finishNetwork(tier, key, started, data, err, complete)
		})
	}
}

// finishNetwork runs on the transport goroutine once per started operation.
func (c *Coordinator) finishNetwork(
	tier cache.Tier,
	key string,
	started time.Time,
	data []byte,
	err error,
	complete func(inflight.Result),
) {
	if err == nil && data == nil {
		err = cache.ErrNotFound
	}
	cancelled := errors.Is(err, context.Canceled)
	c.metrics.Finished(time.Since(started).Seconds(), err != nil && !cancelled)

	entry := c.logFetch(tier, key, SourceNetwork).WithField("elapsed_ms", time.Since(started).Milliseconds())
	if err != nil {
		complete(inflight.Result{Err: err})
		if cancelled {
			entry.Debug("fetch_cancelled")
			return
		}
		entry.WithError(err).Warn("fetch_failed")
		return
	}

	if putErr := c.memory.Put(context.Background(), key, data); putErr != nil {
		entry.WithError(putErr).Warn("write_through_failed")
	} else {
		c.metrics.Stored(c.memory.Name())
	}
	complete(inflight.Result{Data: data})
	entry.WithField("bytes", len(data)).Info("fetch_complete")
}

// Store writes data under a caller-chosen key. TierNone writes nothing.
func (c *Coordinator) Store(ctx context.Context, tier cache.Tier, key string, data []byte) error {
	if tier == cache.TierNone {
		return nil
	}
	if err := cachekey.Validate(key); err != nil {
		return err
	}
	store, ok := c.storeFor(tier)
	if !ok {
		return ErrTierUnavailable
	}
	if err := store.Put(ctx, key, data); err != nil {
		c.logFetch(tier, key, SourceNone).WithError(err).Warn("store_failed")
		return fmt.Errorf("store %s: %w", store.Name(), err)
	}
	c.metrics.Stored(store.Name())
	return nil
}

// StoreURL writes data under the cache key derived from rawURL, so a later
// Fetch of the same URL on the same tier hits without touching the network.
func (c *Coordinator) StoreURL(ctx context.Context, tier cache.Tier, rawURL string, data []byte) error {
	if tier == cache.TierNone {
		return nil
	}
	key, err := cachekey.Derive(rawURL)
	if err != nil {
		return err
	}
	return c.Store(ctx, tier, key, data)
}

// Retrieve looks key up on a single tier without any network fallback.
func (c *Coordinator) Retrieve(ctx context.Context, tier cache.Tier, key string) ([]byte, bool) {
	if tier == cache.TierNone {
		return nil, false
	}
	store, ok := c.storeFor(tier)
	if !ok {
		return nil, false
	}
	data, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.logFetch(tier, key, SourceNone).WithError(err).Warn("cache_get_failed")
		}
		c.metrics.Miss(store.Name())
		return nil, false
	}
	c.metrics.Hit(store.Name())
	return data, true
}

// RemoveAll clears the memory tier, and the disk tier too when configured.
func (c *Coordinator) RemoveAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.memory.Clear(gctx) })
	clearDisk := c.clearDisk && c.disk != nil
	if clearDisk {
		g.Go(func() error { return c.disk.Clear(gctx) })
	}
	err := g.Wait()

	entry := c.logger.WithFields(logrus.Fields{
		"action":     "remove_all",
		"clear_disk": clearDisk,
	})
	if err != nil {
		entry.WithError(err).Error("remove_all_failed")
		return err
	}
	entry.Info("remove_all")
	return nil
}

// Cancel cancels the network operation behind token. It returns false for
// tokens whose operation already ended or never existed.
func (c *Coordinator) Cancel(token inflight.Token) bool {
	flight, found := c.registry.Lookup(token)
	if !c.registry.Cancel(token) {
		return false
	}
	c.metrics.Cancelled()
	fields := logrus.Fields{"action": "cancel", "token": string(token)}
	if found {
		fields["key"] = flight.Key()
	}
	c.logger.WithFields(fields).Info("fetch_cancel_requested")
	return true
}

// InFlight lists the network operations currently running.
func (c *Coordinator) InFlight() []inflight.Info {
	return c.registry.Snapshot()
}

func (c *Coordinator) storeFor(tier cache.Tier) (cache.Store, bool) {
	switch tier {
	case cache.TierMemory:
		return c.memory, true
	case cache.TierDisk:
		return c.disk, c.disk != nil
	default:
		return nil, false
	}
}

func (c *Coordinator) logFetch(tier cache.Tier, key string, source Source) *logrus.Entry {
	fields := logging.FetchFields(tier.String(), key, source.String())
	fields["action"] = "fetch"
	return c.logger.WithFields(fields)
}

func sourceFor(tier cache.Tier) Source {
	switch tier {
	case cache.TierMemory:
		return SourceMemory
	case cache.TierDisk:
		return SourceDisk
	default:
		return SourceNone
	}
}
