package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"saloncore/internal/config"
	"saloncore/internal/db"
	"saloncore/internal/queue"
	"saloncore/internal/tenant"
	"saloncore/internal/types"
)

// fakeQueueService records enqueued jobs and serves canned stats. Like the
// real queue it assigns an ID to jobs that arrive without one.
type fakeQueueService struct {
	mu         sync.Mutex
	jobs       []*types.Job
	enqueueErr error
	stats      map[string]queue.Stats
	statsErr   error
}

func (f *fakeQueueService) Enqueue(ctx context.Context, job *types.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", len(f.jobs)+1)
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueueService) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return queue.Stats{}, f.statsErr
	}
	if st, ok := f.stats[queueName]; ok {
		return st, nil
	}
	return queue.Stats{Queue: queueName}, nil
}

type fakeGuard struct {
	mu   sync.Mutex
	seen map[string]string
	err  error
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{seen: map[string]string{}}
}

func (f *fakeGuard) Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, dup := f.seen[key]; dup {
		return false, nil
	}
	f.seen[key] = value
	return true, nil
}

func (f *fakeGuard) Holder(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[key], nil
}

func (f *fakeGuard) Confirm(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[key] = value
	return nil
}

func (f *fakeGuard) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, key)
	return nil
}

type fakeLimiter struct {
	mu      sync.Mutex
	denyAll bool
	reset   int
	keys    []string
	limits  []int
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.limits = append(f.limits, limit)
	if f.denyAll {
		return types.RateLimitResult{Allowed: false, ResetInSeconds: f.reset}, nil
	}
	return types.RateLimitResult{Allowed: true, Remaining: limit - 1}, nil
}

type fakeScheduler struct {
	mu      sync.Mutex
	entries []types.ReminderEntry
	runAts  []time.Time
	pending int64
	err     error
}

func (f *fakeScheduler) Schedule(ctx context.Context, r types.ReminderEntry, runAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.entries = append(f.entries, r)
	f.runAts = append(f.runAts, runAt)
	return fmt.Sprintf("rem-%d", len(f.entries)), nil
}

func (f *fakeScheduler) PendingCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.pending, nil
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	}
	return cmd
}

type fakeKPI struct {
	summary    *db.KPISummary
	err        error
	lastTenant string
	lastPeriod string
}

func (f *fakeKPI) Summary(ctx context.Context, tenantID, period string) (*db.KPISummary, error) {
	f.lastTenant, f.lastPeriod = tenantID, period
	return f.summary, f.err
}

// memorySource is an in-test tenant.Source with an optional read-only mode.
type memorySource struct {
	mu       sync.Mutex
	configs  map[string]*types.TenantConfig
	readOnly bool
}

func newMemorySource() *memorySource {
	return &memorySource{configs: map[string]*types.TenantConfig{}}
}

func (s *memorySource) LoadAll(ctx context.Context) (map[string]*types.TenantConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*types.TenantConfig, len(s.configs))
	for id, cfg := range s.configs {
		out[id] = cfg
	}
	return out, nil
}

func (s *memorySource) Put(ctx context.Context, tenantID string, cfg *types.TenantConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return types.NewAppError(types.ErrCodeConfigSourceReadOnly, "source is read-only", nil)
	}
	s.configs[tenantID] = cfg
	return nil
}

func (s *memorySource) Delete(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return types.NewAppError(types.ErrCodeConfigSourceReadOnly, "source is read-only", nil)
	}
	delete(s.configs, tenantID)
	return nil
}

func (s *memorySource) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}

const testAdminToken = "admin-token"

func testConfig() *config.Config {
	cfg := &config.Config{
		Environment: "local",
		Service:     "salon-core",
	}
	cfg.RateLimits = config.RateLimitConfig{
		TxTenantLimit:  3000,
		TxTenantWindow: 24 * time.Hour,
		MkTenantLimit:  1500,
		MkTenantWindow: 24 * time.Hour,
	}
	cfg.Contacts = config.ContactsConfig{
		AllowSynthetic:  true,
		SyntheticDomain: "clients.local",
	}
	return cfg
}

type serverFixture struct {
	srv       *Server
	queue     *fakeQueueService
	guard     *fakeGuard
	limiter   *fakeLimiter
	scheduler *fakeScheduler
	pinger    *fakePinger
	source    *memorySource
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	srv, err := NewServer(testConfig(), logger)
	require.NoError(t, err)

	f := &serverFixture{
		srv:       srv,
		queue:     &fakeQueueService{stats: map[string]queue.Stats{}},
		guard:     newFakeGuard(),
		limiter:   &fakeLimiter{},
		scheduler: &fakeScheduler{},
		pinger:    &fakePinger{},
		source:    newMemorySource(),
	}
	f.source.configs["salon-1"] = &types.TenantConfig{
		Version: types.TenantConfigSchemaVersion,
		Access: &types.AccessConfig{
			OwnerTokens: []string{"owner-token"},
			StaffTokens: []string{"staff-token"},
		},
		Channels: map[string]types.ChannelConfig{
			"telegram": {BotToken: "123456:bot-secret"},
		},
	}

	srv.Queue = f.queue
	srv.Guard = f.guard
	srv.Limiter = f.limiter
	srv.Scheduler = f.scheduler
	srv.Redis = f.pinger
	srv.Resolver = tenant.NewResolver(f.source, time.Nanosecond, logger)
	srv.Access = tenant.NewAccessControl(srv.Resolver, testAdminToken)
	srv.MountRoutes()
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var env APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code types.ErrorCode) ErrorDetail {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	detail := errorEnvelope(t, rec)
	require.Equal(t, string(code), detail.Code)
	require.NotEmpty(t, detail.RequestID)
	return detail
}
