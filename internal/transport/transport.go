// Package transport performs the network side of a cache fill: it starts one
// download per call and reports its outcome exactly once.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/cacher/internal/config"
	"github.com/any-hub/cacher/internal/inflight"
)

// Transport starts downloads.
//
// Contract: onComplete fires exactly once per successful Start, including
// after Handle.Cancel (with an error wrapping context.Canceled), and never on
// the goroutine that called Start.
type Transport interface {
	Start(rawURL string, onComplete func(data []byte, err error)) (inflight.Handle, error)
}

var (
	// ErrTooLarge 表示响应体超过 MaxObjectSize。
	ErrTooLarge = errors.New("transport: response exceeds max object size")
)

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s returned status %d", e.URL, e.Status)
}

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client，用于所有上游请求。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// HTTPOptions configures an HTTP transport.
type HTTPOptions struct {
	Client        *http.Client
	Logger        *logrus.Logger
	MaxObjectSize int64
	UserAgent     string
}

// HTTP downloads objects with GET requests on a shared client.
type HTTP struct {
	client    *http.Client
	logger    *logrus.Logger
	maxSize   int64
	userAgent string
}

// NewHTTP builds an HTTP transport. A nil client falls back to NewUpstreamClient(nil).
func NewHTTP(opts HTTPOptions) *HTTP {
	client := opts.Client
	if client == nil {
		client = NewUpstreamClient(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTP{
		client:    client,
		logger:    logger,
		maxSize:   opts.MaxObjectSize,
		userAgent: opts.UserAgent,
	}
}

type request struct {
	cancel context.CancelFunc
}

func (r *request) Cancel() { r.cancel() }

// Start issues the GET in the background. The request context is detached
// from any caller so that one waiter leaving does not abort a shared download.
func (t *HTTP) Start(rawURL string, onComplete func([]byte, error)) (inflight.Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	go func() {
		defer cancel()
		started := time.Now()
		data, err := t.do(req)
		fields := logrus.Fields{
			"action":     "transport",
			"upstream":   rawURL,
			"elapsed_ms": time.Since(started).Milliseconds(),
			"bytes":      len(data),
		}
		if err != nil {
			t.logger.WithFields(fields).WithError(err).Debug("transport_failed")
		} else {
			t.logger.WithFields(fields).Debug("transport_complete")
		}
		onComplete(data, err)
	}()

	return &request{cancel: cancel}, nil
}

func (t *HTTP) do(req *http.Request) ([]byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: req.URL.String(), Status: resp.StatusCode}
	}

	if t.maxSize > 0 && resp.ContentLength > t.maxSize {
		return nil, ErrTooLarge
	}

	var body io.Reader = resp.Body
	if t.maxSize > 0 {
		body = io.LimitReader(resp.Body, t.maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if t.maxSize > 0 && int64(len(data)) > t.maxSize {
		return nil, ErrTooLarge
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

var _ Transport = (*HTTP)(nil)
