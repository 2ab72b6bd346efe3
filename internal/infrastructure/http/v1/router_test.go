package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/core/clock"
	"rollcall/internal/core/id"
	"rollcall/internal/domain/auth"
	"rollcall/internal/domain/reconcile"
	"rollcall/internal/domain/records"
	"rollcall/internal/infrastructure/http/v1/handlers"
	"rollcall/internal/infrastructure/metrics"
	"rollcall/internal/infrastructure/storage/memory"
	"rollcall/pkg/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	store  *memory.Store
	jwt    *auth.JWTService
	router http.Handler
}

func newFixture(t *testing.T, mutate func(*RouterConfig)) *fixture {
	t.Helper()
	store := memory.New()
	jwtService := auth.NewJWTService(auth.DefaultJWTConfig(testSecret))

	svc := reconcile.NewService(reconcile.ServiceConfig{
		TxManager: store,
		Ledger:    store,
		Writer:    store,
		Rows:      store,
		Clock:     clock.NewManual(1_000),
		Recorder:  store,
	})

	cfg := RouterConfig{
		Logger:        logger.Nop(),
		JWTValidator:  jwtService,
		Reconciler:    svc,
		Storage:       store,
		StorageDriver: "memory",
		Metrics:       metrics.New(),
		MaxBodyBytes:  1 << 20,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &fixture{store: store, jwt: jwtService, router: NewRouter(cfg)}
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	tok, _, err := f.jwt.GenerateAccessToken("user-1", "", nil)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) sync(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/api/v1/sync", body, map[string]string{
		"Authorization": "Bearer " + f.token(t),
		"X-Device-ID":   "tablet-1",
	})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = f.do(t, http.MethodGet, "/health/info", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w)
	assert.Equal(t, "memory", info["storage"])
	assert.Len(t, info["kinds"], len(records.Catalogue()))

	w = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

type downStorage struct{}

func (downStorage) Ping(context.Context) error { return errors.New("connection refused") }

func TestReady_StorageDown(t *testing.T) {
	f := newFixture(t, func(cfg *RouterConfig) { cfg.Storage = downStorage{} })

	w := f.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "error", decode(t, w)["status"])
}

func TestSync_RequiresBearerToken(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"bad token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := f.do(t, http.MethodPost, "/api/v1/sync", `{"operations":[]}`, headers)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "UNAUTHORIZED", decode(t, w)["code"])
		})
	}
}

func TestSync_PushAndPull(t *testing.T) {
	f := newFixture(t, nil)
	pid := id.New()

	body := fmt.Sprintf(`{"operations":[
		{"type":"PersonUpsert","opId":"op-1","person":{"id":%q,"updatedAtMs":10,"name":"Alice"}}
	]}`, pid.String())

	w := f.sync(t, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, float64(1_000), resp["cursorMs"])
	assert.Equal(t, []any{"op-1"}, resp["ackOpIds"])

	changes := resp["changes"].(map[string]any)
	persons := changes["persons"].([]any)
	require.Len(t, persons, 1)
	assert.Equal(t, "Alice", persons[0].(map[string]any)["name"])
	assert.Equal(t, []any{}, changes["events"])

	batches := f.store.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "user-1", batches[0].UserID)
	assert.Equal(t, "tablet-1", batches[0].DeviceID)

	w = f.sync(t, `{"cursorMs":1000,"operations":[]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["changes"].(map[string]any)["persons"])
}

func TestSync_RejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)
	pid := id.New().String()

	tests := []struct {
		name     string
		body     string
		wantCode string
		wantIdx  any
	}{
		{
			name:     "not json",
			body:     `{"operations":`,
			wantCode: "VALIDATION_ERROR",
		},
		{
			name: "unknown operation type",
			body: fmt.Sprintf(`{"operations":[
				{"type":"PersonDelete","opId":"ok","id":%q,"deletedAtMs":5},
				{"type":"WidgetUpsert","opId":"bad","widget":{}}
			]}`, pid),
			wantCode: "INVALID_INPUT",
			wantIdx:  float64(1),
		},
		{
			name:     "upsert fails validation",
			body:     fmt.Sprintf(`{"operations":[{"type":"PersonUpsert","opId":"v","person":{"id":%q,"updatedAtMs":1,"name":""}}]}`, pid),
			wantCode: "INVALID_INPUT",
			wantIdx:  float64(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.sync(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			body := decode(t, w)
			assert.Equal(t, tt.wantCode, body["code"])
			if tt.wantIdx != nil {
				assert.Equal(t, tt.wantIdx, body["details"].(map[string]any)["index"])
			}
		})
	}

	assert.Equal(t, 0, f.store.LedgerSize())
}

func TestSync_BodyLimit(t *testing.T) {
	f := newFixture(t, func(cfg *RouterConfig) { cfg.MaxBodyBytes = 64 })

	w := f.sync(t, `{"operations":[],"padding":"`+strings.Repeat("x", 128)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decode(t, w)["code"])
}

type panickingReconciler struct{}

func (panickingReconciler) Reconcile(context.Context, *reconcile.Request) (*reconcile.Response, error) {
	panic("boom")
}

var _ handlers.Reconciler = panickingReconciler{}

func TestSync_PanicBecomesInternalError(t *testing.T) {
	f := newFixture(t, func(cfg *RouterConfig) { cfg.Reconciler = panickingReconciler{} })

	w := f.sync(t, `{"operations":[]}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode(t, w)["code"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
