package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montycloud/moya/internal/memory"
)

func echoTool() Tool {
	return Tool{
		Name:        "echo",
		Description: "Echo the input back.",
		Parameters: map[string]Parameter{
			"text": {Type: "string", Description: "Text to echo.", Required: true},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}
}

func TestRegistry_RegisterAndCall(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool()))

	got, ok := reg.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", got.Name)

	out, err := reg.Call(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestRegistry_CallUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Call(context.Background(), "nope", nil)
	assert.ErrorContains(t, err, "not registered")
}

func TestRegistry_CallMissingRequired(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool()))

	_, err := reg.Call(context.Background(), "echo", map[string]any{})
	assert.ErrorContains(t, err, "missing required parameter")
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		tool := echoTool()
		tool.Name = name
		require.NoError(t, reg.Register(tool))
	}

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[2].Name)
}

func TestTool_Validate(t *testing.T) {
	tool := echoTool()
	tool.Parameters["bad"] = Parameter{Type: "tuple"}
	err := tool.Validate()
	assert.ErrorContains(t, err, "invalid type")

	tool = Tool{Name: "nohandler"}
	assert.ErrorContains(t, tool.Validate(), "handler is required")
}

func TestTool_OpenAIDefinition(t *testing.T) {
	def := echoTool().OpenAIDefinition()
	assert.Equal(t, "function", def["type"])

	fn := def["function"].(map[string]any)
	assert.Equal(t, "echo", fn["name"])

	params := fn["parameters"].(map[string]any)
	assert.Equal(t, []string{"text"}, params["required"])
}

func TestTool_BedrockDefinition(t *testing.T) {
	def := echoTool().BedrockDefinition()
	spec := def["toolSpec"].(map[string]any)
	assert.Equal(t, "echo", spec["name"])

	schema := spec["inputSchema"].(map[string]any)["json"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
}

func TestMemoryTools(t *testing.T) {
	reg := NewRegistry()
	repo := memory.NewInMemoryRepository()
	require.NoError(t, RegisterMemoryTools(reg, repo))
	ctx := context.Background()

	_, err := reg.Call(ctx, "store_message", map[string]any{
		"thread_id": "t1", "sender": "user", "content": "hello",
	})
	require.NoError(t, err)

	_, err = reg.Call(ctx, "store_message", map[string]any{
		"thread_id": "t1", "sender": "helper", "content": "hi",
	})
	require.NoError(t, err)

	// n arrives as float64 when decoded from JSON.
	out, err := reg.Call(ctx, "get_last_n_messages", map[string]any{
		"thread_id": "t1", "n": float64(1),
	})
	require.NoError(t, err)
	assert.Len(t, out, 1)

	out, err = reg.Call(ctx, "get_thread_summary", map[string]any{"thread_id": "t1"})
	require.NoError(t, err)
	assert.Contains(t, out.(string), "user said: hello")
}
