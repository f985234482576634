package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montycloud/moya/internal/agents"
)

func testAgent(t *testing.T, baseURL string) *Agent {
	t.Helper()
	cfg := agents.Config{
		Name:         "assistant",
		Type:         "openai",
		SystemPrompt: "Be brief.",
		Model:        "gpt-4o",
		Timeout:      5 * time.Second,
	}
	a, err := New(cfg, Options{BaseURL: baseURL, APIKey: "test-key"}, nil)
	require.NoError(t, err)
	return a
}

func TestAgent_Handle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-4o", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	a := testAgent(t, srv.URL)
	out, err := a.Handle(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", out)
	assert.Equal(t, int64(1), a.Health().TotalRequests)
}

func TestAgent_HandleStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := testAgent(t, srv.URL)
	var got string
	err := a.HandleStream(context.Background(), "hi", func(chunk string) error {
		got += chunk
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", got)
}

func TestAgent_StatusErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrInvalidAPIKey},
		{http.StatusTooManyRequests, ErrRateLimitExceeded},
		{http.StatusNotFound, ErrModelNotFound},
		{http.StatusBadRequest, ErrInvalidRequest},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"error":{"message":"nope"}}`)
			}))
			defer srv.Close()

			a := testAgent(t, srv.URL)
			_, err := a.Handle(context.Background(), "hi")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAgent_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models", r.URL.Path)
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	a := testAgent(t, srv.URL)
	assert.NoError(t, a.HealthCheck(context.Background()))
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(agents.Config{Name: "a", Type: "openai"}, Options{}, nil)
	assert.ErrorContains(t, err, "API key is required")
}
