package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montycloud/moya/internal/agents"
)

type fakeRuntime struct {
	lastInput *bedrockruntime.InvokeModelInput
	output    []byte
	err       error
}

func (f *fakeRuntime) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.lastInput = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.output}, nil
}

func (f *fakeRuntime) InvokeModelWithResponseStream(context.Context, *bedrockruntime.InvokeModelWithResponseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	return nil, errors.New("not implemented")
}

func testAgent(t *testing.T, rt runtimeAPI) *Agent {
	t.Helper()
	cfg := agents.Config{
		Name:         "claude",
		Type:         "bedrock",
		Model:        "anthropic.claude-3-sonnet-20240229-v1:0",
		SystemPrompt: "Be terse.",
	}
	a, err := NewWithClient(cfg, rt, nil)
	require.NoError(t, err)
	return a
}

func TestAgent_Handle(t *testing.T) {
	rt := &fakeRuntime{output: []byte(`{"content":[{"type":"text","text":"pong"}]}`)}
	a := testAgent(t, rt)

	out, err := a.Handle(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	require.NotNil(t, rt.lastInput)
	assert.Equal(t, "anthropic.claude-3-sonnet-20240229-v1:0", *rt.lastInput.ModelId)

	var req invokeRequest
	require.NoError(t, json.Unmarshal(rt.lastInput.Body, &req))
	assert.Equal(t, anthropicVersion, req.AnthropicVersion)
	assert.Equal(t, "Be terse.", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "ping", req.Messages[0].Content)
}

func TestAgent_HandleEmptyResponse(t *testing.T) {
	rt := &fakeRuntime{output: []byte(`{"content":[]}`)}
	a := testAgent(t, rt)

	_, err := a.Handle(context.Background(), "ping")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAgent_HandleInvokeError(t *testing.T) {
	rt := &fakeRuntime{err: errors.New("throttled")}
	a := testAgent(t, rt)

	_, err := a.Handle(context.Background(), "ping")
	assert.ErrorContains(t, err, "throttled")

	m := a.Health()
	assert.Equal(t, int64(1), m.FailedRequests)
}

func TestAgent_HealthCheckCapsTokens(t *testing.T) {
	rt := &fakeRuntime{output: []byte(`{"content":[{"type":"text","text":"."}]}`)}
	a := testAgent(t, rt)

	require.NoError(t, a.HealthCheck(context.Background()))

	var req invokeRequest
	require.NoError(t, json.Unmarshal(rt.lastInput.Body, &req))
	assert.Equal(t, 1, req.MaxTokens)
}
