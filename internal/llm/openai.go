package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/paolomoz/nova/config"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to the chat completions API.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAI builds a client from config.
func NewOpenAI(cfg config.LLMConfig) *OpenAIClient {
	oc := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if strings.TrimSpace(cfg.BaseURL) != "" {
		oc.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	request := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  buildOpenAIMessages(req.System, req.Messages),
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		request.Temperature = float32(req.Temperature)
	}
	for _, t := range req.Tools {
		request.Tools = append(request.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat completion: no choices returned")
	}
	choice := resp.Choices[0]
	out := &Response{
		Usage: Usage{InputTokens: int64(resp.Usage.PromptTokens), OutputTokens: int64(resp.Usage.CompletionTokens)},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, ContentBlock{Type: BlockText, Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		input := map[string]any{}
		if strings.TrimSpace(call.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("decode tool arguments for %s: %w", call.Function.Name, err)
			}
		}
		out.Content = append(out.Content, ContentBlock{Type: BlockToolUse, ID: call.ID, Name: call.Function.Name, Input: input})
	}
	switch {
	case len(choice.Message.ToolCalls) > 0 || choice.FinishReason == openai.FinishReasonToolCalls:
		out.StopReason = StopToolUse
	case choice.FinishReason == openai.FinishReasonLength:
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopEndTurn
	}
	return out, nil
}

func buildOpenAIMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		if msg.Role == RoleAssistant {
			am := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			var text strings.Builder
			for _, part := range msg.Content {
				switch part.Type {
				case BlockToolUse:
					args, _ := json.Marshal(part.Input)
					am.ToolCalls = append(am.ToolCalls, openai.ToolCall{
						ID:       part.ID,
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: part.Name, Arguments: string(args)},
					})
				case BlockText:
					text.WriteString(part.Text)
				}
			}
			am.Content = text.String()
			out = append(out, am)
			continue
		}
		var text strings.Builder
		for _, part := range msg.Content {
			switch part.Type {
			case BlockToolResult:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    part.Text,
					ToolCallID: part.ToolUseID,
				})
			default:
				text.WriteString(part.Text)
			}
		}
		if text.Len() > 0 {
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text.String()})
		}
	}
	return out
}
