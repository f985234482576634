package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montycloud/moya/internal/agents"
	"github.com/montycloud/moya/internal/agents/remote"
	"github.com/montycloud/moya/internal/health"
	"github.com/montycloud/moya/internal/memory"
	"github.com/montycloud/moya/internal/orchestrator"
)

type fixedAgent struct {
	name  string
	reply string
}

func (a *fixedAgent) Name() string                      { return a.name }
func (a *fixedAgent) Type() string                      { return "fixed" }
func (a *fixedAgent) Description() string               { return "Always replies the same." }
func (a *fixedAgent) Setup(context.Context) error       { return nil }
func (a *fixedAgent) HealthCheck(context.Context) error { return nil }
func (a *fixedAgent) Health() health.Metrics            { return health.Metrics{} }

func (a *fixedAgent) Handle(context.Context, string, ...agents.Option) (string, error) {
	return a.reply, nil
}

func (a *fixedAgent) HandleStream(_ context.Context, _ string, handler agents.StreamHandler, _ ...agents.Option) error {
	for _, part := range strings.SplitAfter(a.reply, " ") {
		if err := handler(part); err != nil {
			return err
		}
	}
	return nil
}

func testServer(t *testing.T, opts Options) (*Server, memory.Repository) {
	t.Helper()
	reg := agents.NewRegistry()
	require.NoError(t, reg.Register(&fixedAgent{name: "fixed", reply: "fixed reply"}))
	repo := memory.NewInMemoryRepository()

	orch, err := orchestrator.NewSimple(reg, repo, "fixed")
	require.NoError(t, err)
	return New(opts, orch, repo, nil), repo
}

func TestServer_Chat(t *testing.T) {
	s, repo := testServer(t, Options{})

	body := strings.NewReader(`{"message":"hi","thread_id":"t1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fixed reply", resp.Response)
	assert.Equal(t, "t1", resp.ThreadID)

	msgs, err := repo.GetLastNMessages(context.Background(), "t1", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestServer_ChatGeneratesThreadID(t *testing.T) {
	s, _ := testServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ThreadID)
}

func TestServer_ChatValidation(t *testing.T) {
	s, _ := testServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ChatStream(t *testing.T) {
	s, _ := testServer(t, Options{})

	body := strings.NewReader(`{"message":"hi","thread_id":"t1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	out := w.Body.String()
	assert.Contains(t, out, "data: fixed ")
	assert.Contains(t, out, "data: reply")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "data: [DONE]"))
}

// Two instances federate: a remote agent pointed at another instance's
// base URL must find /health, /chat and /chat/stream there.
func TestServer_RemoteAgentFederation(t *testing.T) {
	s, _ := testServer(t, Options{})
	upstream := httptest.NewServer(s.Handler())
	defer upstream.Close()

	cfg := agents.Config{Name: "delegate", Type: "remote", Timeout: 5 * time.Second}
	a, err := remote.New(cfg, remote.Options{BaseURL: upstream.URL}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Setup(ctx))

	out, err := a.Handle(ctx, "hi", agents.WithThreadID("t1"))
	require.NoError(t, err)
	assert.Equal(t, "fixed reply", out)

	var streamed string
	err = a.HandleStream(ctx, "hi", func(chunk string) error {
		streamed += chunk
		return nil
	}, agents.WithThreadID("t1"))
	require.NoError(t, err)
	assert.Equal(t, "fixed reply", streamed)
}

func TestServer_ListAgents(t *testing.T) {
	s, _ := testServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"fixed"`)
}

func TestServer_ThreadMessages(t *testing.T) {
	s, _ := testServer(t, Options{})

	// Seed a thread through the chat endpoint.
	seed := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message":"hi","thread_id":"t9"}`))
	seed.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(httptest.NewRecorder(), seed)

	req := httptest.NewRequest(http.MethodGet, "/v1/threads/t9/messages?n=1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fixed reply")

	req = httptest.NewRequest(http.MethodGet, "/v1/threads/ghost/messages", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Trailing garbage after the number is rejected.
	req = httptest.NewRequest(http.MethodGet, "/v1/threads/t9/messages?n=5abc", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_DeleteThread(t *testing.T) {
	s, repo := testServer(t, Options{})
	seed := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message":"hi","thread_id":"t9"}`))
	seed.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(httptest.NewRecorder(), seed)

	req := httptest.NewRequest(http.MethodDelete, "/v1/threads/t9", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	exists, err := repo.ThreadExists(context.Background(), "t9")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestServer_JWTAuth(t *testing.T) {
	const secret = "test-secret"
	s, _ := testServer(t, Options{JWTSecret: secret})

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays public even with auth enabled.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RateLimit(t *testing.T) {
	s, _ := testServer(t, Options{RateLimitRPS: 1, RateLimitBurst: 1})

	limited := false
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited, "burst exhaustion must return 429")
}

func TestServer_RequestIDPropagated(t *testing.T) {
	s, _ := testServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	req.Header.Set(requestIDHeader, "fixed-id")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "fixed-id", w.Header().Get(requestIDHeader))
}
