package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain/internal/types"
)

func TestToolRegistryDispatch(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(types.ToolDefinition{
		Name:        "echo",
		Description: "echoes its input",
		InputSchema: objectSchema(map[string]interface{}{
			"value": map[string]interface{}{"type": "string"},
		}, "value"),
	}, []string{"value"}, func(ctx context.Context, input map[string]interface{}) (string, error) {
		return types.ExtractString(input["value"]), nil
	})

	result := reg.Dispatch(context.Background(), toolCall("echo", map[string]interface{}{"value": "hello"}))
	assert.False(t, result.IsError)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, "echo", result.Name)
}

func TestToolRegistryUnknownTool(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(types.ToolDefinition{Name: "echo"}, nil, func(ctx context.Context, input map[string]interface{}) (string, error) {
		return "", nil
	})

	result := reg.Dispatch(context.Background(), toolCall("not_a_tool", nil))
	require.True(t, result.IsError)
	assert.Contains(t, result.Content, "not_a_tool")
	assert.Contains(t, result.Content, "echo", "the error lists the available tools")
}

func TestToolRegistryMissingRequiredArgument(t *testing.T) {
	reg := NewToolRegistry()
	called := false
	reg.Register(types.ToolDefinition{Name: "needs_arg"}, []string{"value"}, func(ctx context.Context, input map[string]interface{}) (string, error) {
		called = true
		return "", nil
	})

	result := reg.Dispatch(context.Background(), toolCall("needs_arg", map[string]interface{}{"other": 1}))
	require.True(t, result.IsError)
	assert.Contains(t, result.Content, `"value"`)
	assert.False(t, called, "validation runs before dispatch")
}
