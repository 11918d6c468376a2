package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paolomoz/nova/config"
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a message. Which fields are meaningful
// depends on Type.
type ContentBlock struct {
	Type BlockType

	Text string

	// tool_use
	ID    string
	Name  string
	Input map[string]any

	// tool_result
	ToolUseID string
	IsError   bool
}

// Message is a single turn in the conversation history.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// TextMessage builds a message holding one text block.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

// Tool is the provider-neutral tool declaration.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one model call.
type Request struct {
	Model       string // empty selects the client default
	System      string
	Messages    []Message
	Tools       []Tool
	MaxTokens   int
	Temperature float64
}

// StopReason explains why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage reports token accounting for a call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the model output for one call.
type Response struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

// Text concatenates every text block in order.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == BlockText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// ToolUses returns the tool-use blocks in the order the model emitted them.
func (r *Response) ToolUses() []ContentBlock {
	if r == nil {
		return nil
	}
	var out []ContentBlock
	for _, block := range r.Content {
		if block.Type == BlockToolUse {
			out = append(out, block)
		}
	}
	return out
}

// Client is a chat-completion provider with tool use.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// New builds the client selected by cfg.Provider, bounded by cfg.CallTimeout.
func New(cfg config.LLMConfig) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm.api_key not configured")
	}
	var c Client
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic":
		c = NewAnthropic(cfg)
	case "openai":
		c = NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	return WithTimeout(c, cfg.CallTimeout), nil
}

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout bounds every Complete call by d. A non-positive d returns c unchanged.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return &timeoutClient{next: c, timeout: d}
}

func (t *timeoutClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, req)
}
