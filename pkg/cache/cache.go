// Package cache keeps the result of a slow upstream call for a fixed time.
//
// A TTL cache holds a single entry. While the entry is younger than the TTL it
// is served without contacting the upstream. Once it is stale the next caller
// triggers a refresh; callers arriving while that refresh is in flight wait
// for its result instead of starting their own, so there is at most one
// upstream fetch per expiry window. A failed refresh is reported to every
// waiting caller and leaves the previous entry in place.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// Cacher is able to get and set key value pairs.
type Cacher interface {
	Get(string) ([]byte, bool, error)
	Set(string, []byte) error
}

// FetchFunc retrieves a fresh value from the upstream.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Entry is an immutable snapshot of a fetched value.
type Entry[T any] struct {
	Value     T         `json:"value"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// TTL is a single-entry cache in front of a FetchFunc.
type TTL[T any] struct {
	name    string
	ttl     time.Duration
	timeout time.Duration
	fetch   FetchFunc[T]
	shared  Cacher
	now     func() time.Time

	l log.Logger

	entry atomic.Pointer[Entry[T]]
	sf    singleflight.Group

	// Metrics.
	cacheReadsTotal     *prometheus.CounterVec
	cacheRefreshesTotal *prometheus.CounterVec
}

type config struct {
	timeout time.Duration
	shared  Cacher
	now     func() time.Time
	logger  log.Logger
	reg     prometheus.Registerer
}

type Option func(*config)

// WithFetchTimeout bounds every upstream fetch. Defaults to 10 seconds.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithShared adds a second tier shared between processes, consulted before
// the upstream when the local entry is stale.
func WithShared(shared Cacher) Option {
	return func(c *config) {
		c.shared = shared
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

func WithLogger(l log.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.reg = reg
	}
}

// NewTTL creates a cache named name that serves values from fetch for ttl.
func NewTTL[T any](name string, ttl time.Duration, fetch FetchFunc[T], opts ...Option) *TTL[T] {
	cfg := config{
		timeout: 10 * time.Second,
		now:     time.Now,
		logger:  log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &TTL[T]{
		name:    name,
		ttl:     ttl,
		timeout: cfg.timeout,
		fetch:   fetch,
		shared:  cfg.shared,
		now:     cfg.now,
		l:       log.With(cfg.logger, "component", "cache", "cache", name),
		cacheReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "cache_reads_total",
				Help:        "The number of reads of the cache.",
				ConstLabels: prometheus.Labels{"cache": name},
			}, []string{"result"},
		),
		cacheRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "cache_refreshes_total",
				Help:        "The number of refreshes of the cache by source and result.",
				ConstLabels: prometheus.Labels{"cache": name},
			}, []string{"result"},
		),
	}

	if cfg.reg != nil {
		cfg.reg.MustRegister(c.cacheReadsTotal, c.cacheRefreshesTotal)
	}

	return c
}

// Get returns the cached value, refreshing it first if it is missing or stale.
// If ctx is done before an in-flight refresh completes Get returns ctx.Err();
// the refresh itself carries on and populates the cache for other callers.
//
// The value is shared by every caller until the next refresh. Callers must
// not modify it, including the backing array of a slice.
func (c *TTL[T]) Get(ctx context.Context) (T, error) {
	var zero T

	if e := c.entry.Load(); e != nil && c.valid(e) {
		c.cacheReadsTotal.WithLabelValues("hit").Inc()
		return e.Value, nil
	}
	c.cacheReadsTotal.WithLabelValues("miss").Inc()

	ch := c.sf.DoChan(c.name, func() (interface{}, error) {
		// The entry may have been replaced by a refresh that finished after
		// our check above.
		if e := c.entry.Load(); e != nil && c.valid(e) {
			return e, nil
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.refresh(fctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(*Entry[T]).Value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Entry returns the last successfully fetched entry, which may be stale.
func (c *TTL[T]) Entry() (*Entry[T], bool) {
	e := c.entry.Load()
	return e, e != nil
}

func (c *TTL[T]) valid(e *Entry[T]) bool {
	return c.now().Sub(e.FetchedAt) < c.ttl
}

func (c *TTL[T]) refresh(ctx context.Context) (*Entry[T], error) {
	if e, ok := c.loadShared(); ok {
		c.entry.Store(e)
		c.cacheRefreshesTotal.WithLabelValues("shared").Inc()
		return e, nil
	}

	v, err := c.fetch(ctx)
	if err != nil {
		c.cacheRefreshesTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrapf(err, "failed to refresh %s", c.name)
	}

	e := &Entry[T]{Value: v, FetchedAt: c.now()}
	c.entry.Store(e)
	c.cacheRefreshesTotal.WithLabelValues("success").Inc()

	c.storeShared(e)
	return e, nil
}

func (c *TTL[T]) loadShared() (*Entry[T], bool) {
	if c.shared == nil {
		return nil, false
	}

	raw, ok, err := c.shared.Get(c.name)
	if err != nil {
		level.Warn(c.l).Log("msg", "failed to retrieve value from shared cache", "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	e, err := decode[T](raw)
	if err != nil {
		level.Warn(c.l).Log("msg", "failed to decode value from shared cache", "err", err)
		return nil, false
	}
	if !c.valid(e) {
		return nil, false
	}
	return e, true
}

func (c *TTL[T]) storeShared(e *Entry[T]) {
	if c.shared == nil {
		return
	}

	raw, err := encode(e)
	if err != nil {
		level.Error(c.l).Log("msg", "failed to encode value for shared cache", "err", err)
		return
	}
	if err := c.shared.Set(c.name, raw); err != nil {
		level.Warn(c.l).Log("msg", "failed to set value in shared cache", "err", err)
	}
}

func encode[T any](e *Entry[T]) ([]byte, error) {
	var buf bytes.Buffer
	w := snappy.NewBufferedWriter(&buf)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return nil, errors.Wrap(err, "failed to marshal entry")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to compress entry")
	}
	return buf.Bytes(), nil
}

func decode[T any](raw []byte) (*Entry[T], error) {
	e := &Entry[T]{}
	if err := json.NewDecoder(snappy.NewReader(bytes.NewReader(raw))).Decode(e); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal entry")
	}
	return e, nil
}
