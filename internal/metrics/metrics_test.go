package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montycloud/moya/internal/agents"
	"github.com/montycloud/moya/internal/conversation"
	"github.com/montycloud/moya/internal/memory"
)

func TestExporter_ObserveRequest(t *testing.T) {
	e := NewExporter(agents.NewRegistry(), nil, "moya_observe_test")

	e.ObserveRequest("alpha", nil, 120*time.Millisecond)
	e.ObserveRequest("alpha", errors.New("boom"), 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.requestsTotal.WithLabelValues("alpha", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.requestsTotal.WithLabelValues("alpha", "error")))
}

func TestExporter_Sample(t *testing.T) {
	reg := agents.NewRegistry()
	repo := memory.NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.AppendMessage(ctx, conversation.NewMessage("t1", "user", "x", nil)))
	require.NoError(t, repo.AppendMessage(ctx, conversation.NewMessage("t2", "user", "y", nil)))

	e := NewExporter(reg, repo, "moya_sample_test")
	e.sample()

	assert.Equal(t, 2.0, testutil.ToFloat64(e.activeThreads))
}
