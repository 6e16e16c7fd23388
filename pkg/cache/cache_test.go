package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/efficientgo/core/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// counter is a FetchFunc returning the number of calls made so far.
type counter struct {
	calls atomic.Int64
	err   error
}

func (c *counter) fetch(context.Context) ([]string, error) {
	n := c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []string{"fetch", string(rune('0' + n))}, nil
}

type mapCacher struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (m *mapCacher) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCacher) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func TestGetWithinTTL(t *testing.T) {
	clk := newClock()
	up := &counter{}
	c := NewTTL("users", 300*time.Second, up.fetch, WithClock(clk.now))
	ctx := context.Background()

	first, err := c.Get(ctx)
	testutil.Ok(t, err)

	clk.advance(299 * time.Second)
	second, err := c.Get(ctx)
	testutil.Ok(t, err)

	testutil.Equals(t, first, second)
	testutil.Equals(t, int64(1), up.calls.Load())
	testutil.Equals(t, 1.0, promtestutil.ToFloat64(c.cacheReadsTotal.WithLabelValues("hit")))
	testutil.Equals(t, 1.0, promtestutil.ToFloat64(c.cacheReadsTotal.WithLabelValues("miss")))
}

func TestGetAfterTTL(t *testing.T) {
	clk := newClock()
	up := &counter{}
	c := NewTTL("users", 300*time.Second, up.fetch, WithClock(clk.now))
	ctx := context.Background()

	first, err := c.Get(ctx)
	testutil.Ok(t, err)

	// an entry exactly TTL old is stale
	clk.advance(300 * time.Second)
	second, err := c.Get(ctx)
	testutil.Ok(t, err)

	testutil.Equals(t, int64(2), up.calls.Load())
	testutil.Assert(t, first[1] != second[1], "expected a new value after expiry")

	e, ok := c.Entry()
	testutil.Assert(t, ok, "expected an entry")
	testutil.Equals(t, clk.now(), e.FetchedAt)
}

func TestSingleFlight(t *testing.T) {
	clk := newClock()

	var calls atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (int64, error) {
		n := calls.Add(1)
		if n == 2 {
			close(started)
			<-release
		}
		return n, nil
	}
	c := NewTTL("users", time.Minute, fetch, WithClock(clk.now))
	ctx := context.Background()

	_, err := c.Get(ctx)
	testutil.Ok(t, err)
	clk.advance(time.Minute)

	const callers = 50
	var (
		wg      sync.WaitGroup
		results = make(chan int64, callers)
		errs    = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(ctx)
			if err != nil {
				errs <- err
				return
			}
			results <- v
		}()
	}

	<-started
	close(release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	for v := range results {
		testutil.Equals(t, int64(2), v)
	}
	testutil.Equals(t, int64(2), calls.Load())
}

func TestFetchError(t *testing.T) {
	clk := newClock()
	up := &counter{}
	c := NewTTL("users", time.Minute, up.fetch, WithClock(clk.now))
	ctx := context.Background()

	good, err := c.Get(ctx)
	testutil.Ok(t, err)

	clk.advance(2 * time.Minute)
	upstreamErr := errors.New("connection refused")
	up.err = upstreamErr

	_, err = c.Get(ctx)
	testutil.NotOk(t, err)
	testutil.Assert(t, errors.Is(err, upstreamErr), "expected the upstream error to be wrapped, got %v", err)

	// the failed refresh leaves the last good entry in place
	e, ok := c.Entry()
	testutil.Assert(t, ok, "expected the previous entry")
	testutil.Equals(t, good, e.Value)

	// and the next call tries again
	_, err = c.Get(ctx)
	testutil.NotOk(t, err)
	testutil.Equals(t, int64(3), up.calls.Load())
	testutil.Equals(t, 2.0, promtestutil.ToFloat64(c.cacheRefreshesTotal.WithLabelValues("error")))
}

func TestCancelledCallerDoesNotAbortFetch(t *testing.T) {
	var calls atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
			return "users", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c := NewTTL("users", time.Minute, fetch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx)
		done <- err
	}()

	<-started
	cancel()
	testutil.Equals(t, context.Canceled, <-done)

	close(release)
	v, err := c.Get(context.Background())
	testutil.Ok(t, err)
	testutil.Equals(t, "users", v)
	testutil.Equals(t, int64(1), calls.Load())
}

func TestFetchTimeout(t *testing.T) {
	fetch := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	c := NewTTL("users", time.Minute, fetch, WithFetchTimeout(10*time.Millisecond))

	_, err := c.Get(context.Background())
	testutil.NotOk(t, err)
	testutil.Assert(t, errors.Is(err, context.DeadlineExceeded), "expected deadline exceeded, got %v", err)

	_, ok := c.Entry()
	testutil.Assert(t, !ok, "expected no entry after a failed first fetch")
}

func TestSharedTier(t *testing.T) {
	clk := newClock()
	shared := &mapCacher{data: map[string][]byte{}}

	upA := &counter{}
	a := NewTTL("users", time.Minute, upA.fetch, WithClock(clk.now), WithShared(shared))
	fromA, err := a.Get(context.Background())
	testutil.Ok(t, err)
	testutil.Equals(t, 1, len(shared.data))

	// a second process finds the entry in the shared tier
	upB := &counter{}
	reg := prometheus.NewRegistry()
	b := NewTTL("users", time.Minute, upB.fetch, WithClock(clk.now), WithShared(shared), WithRegisterer(reg))
	clk.advance(30 * time.Second)
	fromB, err := b.Get(context.Background())
	testutil.Ok(t, err)
	testutil.Equals(t, fromA, fromB)
	testutil.Equals(t, int64(0), upB.calls.Load())
	testutil.Equals(t, 1.0, promtestutil.ToFloat64(b.cacheRefreshesTotal.WithLabelValues("shared")))

	// the shared entry keeps its original fetch time, so it expires with it
	clk.advance(30 * time.Second)
	_, err = b.Get(context.Background())
	testutil.Ok(t, err)
	testutil.Equals(t, int64(1), upB.calls.Load())
}

func TestSharedTierFailure(t *testing.T) {
	shared := &mapCacher{data: map[string][]byte{}, err: errors.New("memcached down")}
	up := &counter{}
	c := NewTTL("users", time.Minute, up.fetch, WithShared(shared))

	_, err := c.Get(context.Background())
	testutil.Ok(t, err)
	testutil.Equals(t, int64(1), up.calls.Load())
}

func TestEncodeDecode(t *testing.T) {
	e := &Entry[[]string]{Value: []string{"a", "b"}, FetchedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	raw, err := encode(e)
	testutil.Ok(t, err)

	got, err := decode[[]string](raw)
	testutil.Ok(t, err)
	testutil.Equals(t, e.Value, got.Value)
	testutil.Assert(t, e.FetchedAt.Equal(got.FetchedAt), "fetch time changed")

	_, err = decode[[]string]([]byte("not snappy"))
	testutil.NotOk(t, err)
}
