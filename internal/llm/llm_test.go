package llm

import (
	"context"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseTextAndToolUses(t *testing.T) {
	resp := &Response{Content: []ContentBlock{
		{Type: BlockText, Text: "Listing "},
		{Type: BlockToolUse, ID: "t1", Name: "list_pages", Input: map[string]any{"path": "/en"}},
		{Type: BlockText, Text: "pages."},
	}}
	assert.Equal(t, "Listing pages.", resp.Text())
	uses := resp.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "list_pages", uses[0].Name)

	var nilResp *Response
	assert.Equal(t, "", nilResp.Text())
	assert.Nil(t, nilResp.ToolUses())
}

type deadlineRecorder struct {
	sawDeadline bool
}

func (d *deadlineRecorder) Complete(ctx context.Context, req Request) (*Response, error) {
	_, d.sawDeadline = ctx.Deadline()
	return &Response{StopReason: StopEndTurn}, nil
}

func TestWithTimeoutAppliesDeadline(t *testing.T) {
	rec := &deadlineRecorder{}
	c := WithTimeout(rec, time.Second)
	_, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, rec.sawDeadline)

	assert.Same(t, rec, WithTimeout(rec, 0).(*deadlineRecorder))
}

func TestBuildOpenAIMessages(t *testing.T) {
	msgs := buildOpenAIMessages("be brief", []Message{
		TextMessage(RoleUser, "list pages"),
		{Role: RoleAssistant, Content: []ContentBlock{
			{Type: BlockText, Text: "ok"},
			{Type: BlockToolUse, ID: "call_1", Name: "list_pages", Input: map[string]any{"path": "/en"}},
		}},
		{Role: RoleUser, Content: []ContentBlock{
			{Type: BlockToolResult, ToolUseID: "call_1", Text: `["/en/a"]`},
		}},
	})
	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "list_pages", msgs[2].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"path":"/en"}`, msgs[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, openai.ChatMessageRoleTool, msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
}

func TestBuildAnthropicToolsCarriesRequired(t *testing.T) {
	tools := buildAnthropicTools([]Tool{{
		Name:        "read_page",
		Description: "Read a page",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		},
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "read_page", tools[0].OfTool.Name)
	assert.Equal(t, []string{"path"}, tools[0].OfTool.InputSchema.Required)
}

func TestToStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, toStrings([]any{"a", 3, "b"}))
	assert.Nil(t, toStrings("nope"))
}
