package robots

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/robots-gate/internal/metadata"
	"github.com/rohmanhakim/robots-gate/internal/metrics"
	"github.com/rohmanhakim/robots-gate/pkg/retry"
	"github.com/rohmanhakim/robots-gate/pkg/timeutil"
)

// syncBuffer serializes writes from concurrent loggers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// countLevel counts log entries written at level.
func (b *syncBuffer) countLevel(t *testing.T, level string) int {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		if entry["level"] == level {
			count++
		}
	}
	return count
}

type testChecker struct {
	*Checker
	registry *Registry
	logs     *syncBuffer
	metrics  *metrics.Metrics
	sink     *recordingSink
}

type recordingSink struct {
	metadata.NoopSink
	mu     sync.Mutex
	causes []metadata.ErrorCause
}

func (s *recordingSink) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause metadata.ErrorCause,
	details string,
	attrs []metadata.Attribute,
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.causes = append(s.causes, cause)
}

func newTestChecker(t *testing.T) *testChecker {
	t.Helper()
	logs := &syncBuffer{}
	m := metrics.New(prometheus.NewRegistry())
	sink := &recordingSink{}
	registry := NewRegistry(NewSessionFactory("", 2*time.Second), func(s *Session) *DirectiveCache {
		return NewDirectiveCache(s, SubstringAgentResolver{}, nil, sink, m)
	})
	checker := NewChecker(registry, DefaultRetryParam(), zerolog.New(logs), sink, m)
	return &testChecker{
		Checker:  checker,
		registry: registry,
		logs:     logs,
		metrics:  m,
		sink:     sink,
	}
}

// flakyRobotsServer fails the first failures robots.txt requests with 503.
func flakyRobotsServer(t *testing.T, failures int32, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestChecker_IgnoreRobots(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()
	tc := newTestChecker(t)

	ok, err := tc.IsPermitted(context.Background(), Site{ID: "site-1", IgnoreRobots: true}, server.URL+"/page", "")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, 0, tc.registry.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(tc.metrics.ChecksTotal.WithLabelValues(metrics.OutcomeIgnored)))
}

func TestChecker_AllowedAndDisallowed(t *testing.T) {
	server, _ := flakyRobotsServer(t, 0, "User-agent: *\nDisallow: /private\n")
	tc := newTestChecker(t)
	site := Site{ID: "site-1"}
	ctx := context.Background()

	ok, err := tc.IsPermitted(ctx, site, server.URL+"/public", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tc.IsPermitted(ctx, site, server.URL+"/private/x", "")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, float64(1), testutil.ToFloat64(tc.metrics.ChecksTotal.WithLabelValues(metrics.OutcomeAllowed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(tc.metrics.ChecksTotal.WithLabelValues(metrics.OutcomeDisallowed)))
}

func TestChecker_UsesSiteUserAgent(t *testing.T) {
	server, _ := flakyRobotsServer(t, 0, "User-agent: examplebot\nDisallow: /\n\nUser-agent: *\nDisallow:\n")
	tc := newTestChecker(t)
	ctx := context.Background()

	ok, err := tc.IsPermitted(ctx, Site{ID: "bot", UserAgent: "Mozilla/5.0 (compatible; ExampleBot/1.0)"}, server.URL+"/page", "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tc.IsPermitted(ctx, Site{ID: "default"}, server.URL+"/page", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChecker_ConcurrentFirstCallsFetchOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		_, _ = io.WriteString(w, "User-agent: *\nDisallow:\n")
	}))
	defer server.Close()
	tc := newTestChecker(t)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := tc.IsPermitted(context.Background(), Site{ID: "site-1"}, server.URL+"/page", "")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
}

func TestChecker_RecoversAfterTransientFailures(t *testing.T) {
	server, hits := flakyRobotsServer(t, 9, "User-agent: *\nDisallow: /private\n")
	tc := newTestChecker(t)

	ok, err := tc.IsPermitted(context.Background(), Site{ID: "site-1"}, server.URL+"/public", "")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(10), hits.Load())
	assert.Equal(t, 9, tc.logs.countLevel(t, "warn"))
	assert.Equal(t, 0, tc.logs.countLevel(t, "error"))
	assert.Equal(t, float64(9), testutil.ToFloat64(tc.metrics.RetriesTotal))
}

func TestChecker_ExhaustedRetriesDeny(t *testing.T) {
	server, hits := flakyRobotsServer(t, 100, "User-agent: *\nDisallow:\n")
	tc := newTestChecker(t)

	ok, err := tc.IsPermitted(context.Background(), Site{ID: "site-1"}, server.URL+"/public", "")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(DefaultMaxAttempts), hits.Load())
	assert.Equal(t, 9, tc.logs.countLevel(t, "warn"))
	assert.Equal(t, 1, tc.logs.countLevel(t, "error"))
	assert.Equal(t, float64(1), testutil.ToFloat64(tc.metrics.ChecksTotal.WithLabelValues(metrics.OutcomeExhausted)))
	assert.Equal(t, []metadata.ErrorCause{metadata.CauseRetryFailure}, tc.sink.causes)
}

func TestChecker_WarningsCarryTriesLeft(t *testing.T) {
	server, _ := flakyRobotsServer(t, 2, "User-agent: *\nDisallow:\n")
	tc := newTestChecker(t)

	_, err := tc.IsPermitted(context.Background(), Site{ID: "site-1"}, server.URL+"/", "")
	require.NoError(t, err)

	var triesLeft []float64
	scanner := bufio.NewScanner(bytes.NewReader(tc.logs.buf.Bytes()))
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		triesLeft = append(triesLeft, entry["tries_left"].(float64))
		assert.Equal(t, "site-1", entry["site_id"])
	}
	assert.Equal(t, []float64{9, 8}, triesLeft)
}

func TestChecker_ReachedLimitPropagates(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set(HeaderWarcproxMeta, `{"stats":{"site-1":{"total":{"urls":10}}}}`)
		w.WriteHeader(StatusReachedLimit)
		_, _ = io.WriteString(w, "reached limit")
	}))
	defer server.Close()
	tc := newTestChecker(t)

	ok, err := tc.IsPermitted(context.Background(), Site{ID: "site-1"}, server.URL+"/page", "")

	assert.False(t, ok)
	var limitErr *ReachedLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "reached limit", limitErr.Body)
	assert.Contains(t, limitErr.Meta, "stats")
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 0, tc.logs.countLevel(t, "warn"))
	assert.Equal(t, 0, tc.logs.countLevel(t, "error"))
	assert.Equal(t, float64(1), testutil.ToFloat64(tc.metrics.ChecksTotal.WithLabelValues(metrics.OutcomeReachedLimit)))
}

func TestChecker_ReachedLimitAfterTransientFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 4 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set(HeaderWarcproxMeta, `{}`)
		w.WriteHeader(StatusReachedLimit)
	}))
	defer server.Close()
	tc := newTestChecker(t)

	_, err := tc.IsPermitted(context.Background(), Site{ID: "site-1"}, server.URL+"/page", "")

	var limitErr *ReachedLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, 3, tc.logs.countLevel(t, "warn"))
}

func TestChecker_UnreachableProxyPropagates(t *testing.T) {
	tc := newTestChecker(t)
	proxy := closedAddr(t)

	ok, err := tc.IsPermitted(context.Background(), Site{ID: "site-1"}, "http://crawl-target.invalid/page", proxy)

	assert.False(t, ok)
	var proxyErr *ProxyError
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, proxy, proxyErr.Proxy)
	assert.Equal(t, 0, tc.logs.countLevel(t, "warn"))
	assert.Equal(t, 0, tc.logs.countLevel(t, "error"))
	assert.Equal(t, []metadata.ErrorCause{metadata.CauseNetworkFailure}, tc.sink.causes)
}

func TestChecker_InvalidProxy(t *testing.T) {
	tc := newTestChecker(t)

	_, err := tc.IsPermitted(context.Background(), Site{ID: "site-1"}, "http://example.com/", "http://proxy:3128")

	var proxyErr *ProxyError
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, 0, tc.registry.Len())
}

func TestChecker_FallsBackToSiteProxy(t *testing.T) {
	var proxied atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Add(1)
		_, _ = io.WriteString(w, "User-agent: *\nDisallow: /\n")
	}))
	defer proxy.Close()
	tc := newTestChecker(t)
	site := Site{ID: "site-1", Proxy: proxy.Listener.Addr().String()}

	ok, err := tc.IsPermitted(context.Background(), site, "http://crawl-target.invalid/page", "")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), proxied.Load())
}

func TestChecker_FirstProxyWins(t *testing.T) {
	var first, second atomic.Int32
	proxyA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first.Add(1)
		_, _ = io.WriteString(w, "User-agent: *\nDisallow:\n")
	}))
	defer proxyA.Close()
	proxyB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		second.Add(1)
	}))
	defer proxyB.Close()
	tc := newTestChecker(t)
	site := Site{ID: "site-1"}
	ctx := context.Background()

	_, err := tc.IsPermitted(ctx, site, "http://crawl-target.invalid/a", proxyA.Listener.Addr().String())
	require.NoError(t, err)
	_, err = tc.IsPermitted(ctx, site, "http://other-origin.invalid/b", proxyB.Listener.Addr().String())
	require.NoError(t, err)

	assert.Equal(t, int32(2), first.Load())
	assert.Equal(t, int32(0), second.Load())
}

func TestChecker_InvalidURLFailsClosed(t *testing.T) {
	tc := newTestChecker(t)

	ok, err := tc.IsPermitted(context.Background(), Site{ID: "site-1"}, "mailto:someone@example.com", "")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 9, tc.logs.countLevel(t, "warn"))
	assert.Equal(t, 1, tc.logs.countLevel(t, "error"))
}

func TestChecker_CanceledContext(t *testing.T) {
	server, hits := flakyRobotsServer(t, 0, "User-agent: *\nDisallow:\n")
	tc := newTestChecker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := tc.IsPermitted(ctx, Site{ID: "site-1"}, server.URL+"/page", "")

	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, 0, tc.logs.countLevel(t, "error"))
}

func TestChecker_CustomRetryBudget(t *testing.T) {
	server, hits := flakyRobotsServer(t, 100, "")
	logs := &syncBuffer{}
	registry := NewRegistry(NewSessionFactory("", time.Second), nil)
	param := retry.NewRetryParam(0, 1, 3, timeutil.NewBackoffParam(time.Millisecond, 2, 5*time.Millisecond))
	checker := NewChecker(registry, param, zerolog.New(logs), nil, nil)

	ok, err := checker.IsPermitted(context.Background(), Site{ID: "site-1"}, server.URL+"/", "")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, 2, logs.countLevel(t, "warn"))
	assert.Equal(t, 1, logs.countLevel(t, "error"))
}

func TestClassifyLookupError(t *testing.T) {
	limit := &ReachedLimitError{}
	assert.Same(t, limit, classifyLookupError(limit))

	proxyErr := &ProxyError{Proxy: "p:1"}
	assert.Same(t, proxyErr, classifyLookupError(&RobotsError{Cause: ErrCauseHttpFetchFailure, Err: proxyErr}))

	transient := &RobotsError{Retryable: true, Cause: ErrCauseHttpServerError}
	assert.Same(t, transient, classifyLookupError(transient))

	wrapped := classifyLookupError(&RobotsError{Retryable: false, Cause: ErrCauseInvalidURL})
	robotsErr, ok := wrapped.(*RobotsError)
	require.True(t, ok)
	assert.True(t, robotsErr.Retryable)
	assert.Equal(t, RobotsErrorCause(ErrCauseLookupFailure), robotsErr.Cause)
}

func TestChecker_HeaderUserAgentDoesNotSelectGroup(t *testing.T) {
	var sentAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sentAgent.Store(r.UserAgent())
		_, _ = io.WriteString(w, "User-agent: custom\nDisallow: /\n")
	}))
	defer server.Close()
	tc := newTestChecker(t)
	site := Site{ID: "site-1", ExtraHeaders: map[string]string{"User-Agent": "custom/1"}}

	ok, err := tc.IsPermitted(context.Background(), site, server.URL+"/page", "")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "custom/1", sentAgent.Load())
}

func TestChecker_MatchesCurrentSiteUserAgent(t *testing.T) {
	server, hits := flakyRobotsServer(t, 0, "User-agent: examplebot\nDisallow: /\n")
	tc := newTestChecker(t)
	ctx := context.Background()

	ok, err := tc.IsPermitted(ctx, Site{ID: "site-1", UserAgent: "OtherBot/1.0"}, server.URL+"/page", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tc.IsPermitted(ctx, Site{ID: "site-1", UserAgent: "ExampleBot/2.0"}, server.URL+"/page", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), hits.Load())
}

func TestChecker_CanceledDuringBackoff(t *testing.T) {
	server, hits := flakyRobotsServer(t, 100, "")
	registry := NewRegistry(NewSessionFactory("", time.Second), nil)
	logs := &syncBuffer{}
	param := retry.NewRetryParam(0, 1, 5, timeutil.NewBackoffParam(time.Hour, 2, 0))
	checker := NewChecker(registry, param, zerolog.New(logs), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	ok, err := checker.IsPermitted(ctx, Site{ID: "site-1"}, server.URL+"/", "")

	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 0, logs.countLevel(t, "error"))
}
