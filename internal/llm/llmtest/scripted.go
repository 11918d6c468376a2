// Package llmtest provides scripted llm.Client doubles for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/paolomoz/nova/internal/llm"
)

// ErrScriptExhausted is returned once every scripted turn has been consumed.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Turn is one scripted reply.
type Turn struct {
	Response *llm.Response
	Err      error
}

// Scripted replays turns in order and records every request.
type Scripted struct {
	mu       sync.Mutex
	turns    []Turn
	repeat   *Turn
	requests []llm.Request
	// BeforeReply runs before each reply is returned; tests use it to cancel.
	BeforeReply func(call int)
}

// NewScripted returns a client that answers with turns in order.
func NewScripted(turns ...Turn) *Scripted {
	return &Scripted{turns: turns}
}

// Repeat makes the client answer with t forever once the script is exhausted.
func (s *Scripted) Repeat(t Turn) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeat = &t
	return s
}

func (s *Scripted) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	call := len(s.requests)
	var turn Turn
	switch {
	case len(s.turns) > 0:
		turn = s.turns[0]
		s.turns = s.turns[1:]
	case s.repeat != nil:
		turn = *s.repeat
	default:
		s.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	hook := s.BeforeReply
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return turn.Response, turn.Err
}

// Requests returns a copy of the recorded requests.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// Calls returns the number of Complete invocations so far.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Text builds an end_turn reply holding text.
func Text(text string) Turn {
	return Turn{Response: &llm.Response{
		StopReason: llm.StopEndTurn,
		Content:    []llm.ContentBlock{{Type: llm.BlockText, Text: text}},
	}}
}

// ToolUse builds a tool_use reply with one call.
func ToolUse(id, name string, input map[string]any) Turn {
	return Turn{Response: &llm.Response{
		StopReason: llm.StopToolUse,
		Content:    []llm.ContentBlock{{Type: llm.BlockToolUse, ID: id, Name: name, Input: input}},
	}}
}

// ToolUses builds a tool_use reply holding several calls in order.
func ToolUses(blocks ...llm.ContentBlock) Turn {
	for i := range blocks {
		blocks[i].Type = llm.BlockToolUse
	}
	return Turn{Response: &llm.Response{StopReason: llm.StopToolUse, Content: blocks}}
}

// Fail builds a reply that returns err.
func Fail(err error) Turn {
	return Turn{Err: err}
}
