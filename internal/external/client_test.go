package external

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saloncore/internal/types"
)

type upstreamStub struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	handler  func(attempt int, w http.ResponseWriter)
	srv      *httptest.Server
}

func newUpstreamStub(t *testing.T, handler func(attempt int, w http.ResponseWriter)) *upstreamStub {
	t.Helper()
	u := &upstreamStub{handler: handler}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.requests = append(u.requests, r.Clone(context.Background()))
		u.bodies = append(u.bodies, string(body))
		attempt := len(u.requests)
		u.mu.Unlock()
		u.handler(attempt, w)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstreamStub) attempts() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

func newTestClient(u *upstreamStub, retries int, sleeps *[]time.Duration) *BaseClient {
	return NewBaseClient(
		u.srv.Client(),
		"test-breaker",
		RetryPolicy{MaxRetries: retries, MinWait: 10 * time.Millisecond, MaxWait: 5 * time.Second},
		types.ErrCodeUpstreamCalendar,
		WithSleepFunc(func(d time.Duration) {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
		}),
	)
}

func TestDoPropagatesIdentityHeaders(t *testing.T) {
	u := newUpstreamStub(t, func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusOK)
	})
	c := newTestClient(u, 0, nil)

	ctx := types.WithRequestID(context.Background(), "req-42")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	got := u.requests[0]
	assert.Equal(t, "req-42", got.Header.Get("X-Request-Id"))
	assert.Equal(t, "salon-core/1.0", got.Header.Get("User-Agent"))
}

func TestDoRetriesServerErrorsAndReplaysBody(t *testing.T) {
	u := newUpstreamStub(t, func(attempt int, w http.ResponseWriter) {
		if attempt < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	var sleeps []time.Duration
	c := newTestClient(u, 2, &sleeps)

	req, err := http.NewRequest(http.MethodPost, u.srv.URL, strings.NewReader(`{"k":"v"}`))
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, 3, u.attempts())
	assert.Len(t, sleeps, 2)
	for _, body := range u.bodies {
		assert.Equal(t, `{"k":"v"}`, body, "body must be replayed on every attempt")
	}
}

func TestDoReturnsClientErrorsWithoutRetry(t *testing.T) {
	u := newUpstreamStub(t, func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(u, 2, nil)

	req, _ := http.NewRequest(http.MethodGet, u.srv.URL, nil)
	resp, err := c.Do(req)
	require.NoError(t, err, "4xx is the caller's problem, not a transport failure")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, u.attempts())
}

func TestDoMapsExhaustedRetries(t *testing.T) {
	u := newUpstreamStub(t, func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newTestClient(u, 1, nil)

	req, _ := http.NewRequest(http.MethodGet, u.srv.URL, nil)
	_, err := c.Do(req)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamCalendar, appErr.Code)
	assert.Contains(t, appErr.Message, "503")
	assert.True(t, appErr.IsRetryable())
	assert.Equal(t, 2, u.attempts())
}

func TestDoHonorsRetryAfterSeconds(t *testing.T) {
	u := newUpstreamStub(t, func(attempt int, w http.ResponseWriter) {
		if attempt == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	var sleeps []time.Duration
	c := newTestClient(u, 1, &sleeps)

	req, _ := http.NewRequest(http.MethodGet, u.srv.URL, nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, sleeps, 1)
	assert.Equal(t, 2*time.Second, sleeps[0])
}

func TestDoOpensBreakerAfterConsecutiveFailures(t *testing.T) {
	u := newUpstreamStub(t, func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(u, 0, nil)

	// Six consecutive failures trip the breaker.
	for i := 0; i < 6; i++ {
		req, _ := http.NewRequest(http.MethodGet, u.srv.URL, nil)
		_, err := c.Do(req)
		require.Error(t, err)
	}

	before := u.attempts()
	req, _ := http.NewRequest(http.MethodGet, u.srv.URL, nil)
	_, err := c.Do(req)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamBreaker, appErr.Code)
	assert.Equal(t, before, u.attempts(), "open breaker must not reach the upstream")
}

func TestComputeBackoffClampsRetryAfter(t *testing.T) {
	c := NewBaseClient(http.DefaultClient, "clamp",
		RetryPolicy{MaxRetries: 1, MinWait: 10 * time.Millisecond, MaxWait: time.Second},
		types.ErrCodeUpstreamCalendar)

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"3600"}}}
	assert.Equal(t, time.Second, c.computeBackoff(0, resp))
}

func TestComputeBackoffStaysWithinBounds(t *testing.T) {
	c := NewBaseClient(http.DefaultClient, "bounds",
		RetryPolicy{MaxRetries: 5, MinWait: 100 * time.Millisecond, MaxWait: time.Second},
		types.ErrCodeUpstreamCalendar)

	for attempt := 0; attempt < 8; attempt++ {
		d := c.computeBackoff(attempt, nil)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}
