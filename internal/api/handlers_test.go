package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leafsii/rediscmd/pkg/kv"
	"github.com/leafsii/rediscmd/pkg/kv/memory"
)

// Mock metrics for testing
type MockMetrics struct {
	mu       sync.Mutex
	requests []string
}

func (m *MockMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, method+" "+path)
}

// unavailableStore fails every call the way an unreachable server does
type unavailableStore struct {
	*memory.Store
}

func (unavailableStore) Ping(ctx context.Context) error {
	return kv.ErrBackendUnavailable
}

func (unavailableStore) XInfoGroups(ctx context.Context, stream string) ([]kv.XInfoGroup, error) {
	return nil, errors.Join(kv.ErrBackendUnavailable, errors.New("dial tcp: connection refused"))
}

func createTestRouter(t *testing.T, store kv.Store) (http.Handler, *kv.Client, *MockMetrics) {
	logger, _ := zap.NewDevelopment()
	sugar := logger.Sugar()

	client := kv.NewClient(store, sugar)
	t.Cleanup(func() { client.Close() })

	metrics := &MockMetrics{}
	handler := NewHandler(client, sugar)
	router := handler.Routes(NewMiddleware(sugar, metrics), []string{"http://localhost:3000"}, 0)
	return router, client, metrics
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	router, _, metrics := createTestRouter(t, memory.New(0))

	rec := get(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = get(t, router, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "READY", rec.Body.String())

	rec = get(t, router, "/ping")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, metrics.requests, "GET /healthz")
}

func TestReadyzUnavailable(t *testing.T) {
	router, _, _ := createTestRouter(t, unavailableStore{memory.New(0)})

	rec := get(t, router, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListGroups(t *testing.T) {
	router, client, _ := createTestRouter(t, memory.New(0))
	ctx := context.Background()

	require.NoError(t, client.EnsureConsumerGroup(ctx, "events", "workers"))
	_, err := client.AppendToStream(ctx, "events", kv.Pairs("k", "v"))
	require.NoError(t, err)
	_, err = client.ReadGroup(ctx, "events", "workers", "w1")
	require.NoError(t, err)

	rec := get(t, router, "/v1/streams/events/groups")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var groups []GroupDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "workers", groups[0].Name)
	assert.Equal(t, int64(1), groups[0].Consumers)
	assert.Equal(t, int64(1), groups[0].Pending)
	assert.Equal(t, int64(0), groups[0].Lag)
}

func TestListGroupsMissingStream(t *testing.T) {
	router, _, _ := createTestRouter(t, memory.New(0))

	rec := get(t, router, "/v1/streams/absent/groups")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Code)
}

func TestListGroupsBackendUnavailable(t *testing.T) {
	router, _, _ := createTestRouter(t, unavailableStore{memory.New(0)})

	rec := get(t, router, "/v1/streams/events/groups")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListConsumers(t *testing.T) {
	router, client, _ := createTestRouter(t, memory.New(0))
	ctx := context.Background()

	require.NoError(t, client.EnsureConsumerGroup(ctx, "events", "workers"))
	client.AppendToStream(ctx, "events", kv.Pairs("k", "v"))
	_, err := client.ReadGroup(ctx, "events", "workers", "alice")
	require.NoError(t, err)

	rec := get(t, router, "/v1/streams/events/groups/workers/consumers")
	require.Equal(t, http.StatusOK, rec.Code)

	var consumers []ConsumerDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&consumers))
	require.Len(t, consumers, 1)
	assert.Equal(t, "alice", consumers[0].Name)
	assert.Equal(t, int64(1), consumers[0].Pending)

	rec = get(t, router, "/v1/streams/events/groups/nobody/consumers")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupExists(t *testing.T) {
	router, client, _ := createTestRouter(t, memory.New(0))
	require.NoError(t, client.EnsureConsumerGroup(context.Background(), "events", "workers"))

	testCases := []struct {
		name   string
		group  string
		exists bool
	}{
		{"existing group", "workers", true},
		{"unknown group", "strangers", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(t, router, "/v1/streams/events/groups/"+tc.group+"/exists")
			require.Equal(t, http.StatusOK, rec.Code)

			var body GroupExistsDTO
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "events", body.Stream)
			assert.Equal(t, tc.group, body.Group)
			assert.Equal(t, tc.exists, body.Exists)
		})
	}
}

func TestRequestIDPropagated(t *testing.T) {
	router, _, _ := createTestRouter(t, memory.New(0))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	m := NewMiddleware(nil, nil)
	limited := m.RateLimit(6)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestRecovererHandlesPanic(t *testing.T) {
	m := NewMiddleware(nil, nil)
	h := m.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
