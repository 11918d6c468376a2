package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/paolomoz/nova/internal/helpers"
	"github.com/paolomoz/nova/internal/llm"
)

// Validator reviews a run that changed repository state.
type Validator struct {
	llm    llm.Client
	model  string
	useLLM bool
	logger *log.Logger
}

// NewValidator builds a validator. client may be nil when useLLM is false.
func NewValidator(client llm.Client, model string, useLLM bool) *Validator {
	return &Validator{
		llm:    client,
		model:  model,
		useLLM: useLLM && client != nil,
		logger: log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
	}
}

// Validate checks the calls structurally and, when enabled, asks the model
// for a review. A failed review degrades to the structural result.
func (v *Validator) Validate(ctx context.Context, response string, calls []ToolCall) (ValidationResult, error) {
	res := structuralCheck(response, calls)
	if !v.useLLM {
		return res, nil
	}
	review, err := v.review(ctx, response, calls)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		v.logger.Printf("warn: llm validation failed, using structural result: %v", err)
		return res, nil
	}
	if review.Passed != nil {
		res.Passed = res.Passed && *review.Passed
	}
	res.Issues = appendUnique(res.Issues, review.Issues...)
	res.Suggestions = appendUnique(res.Suggestions, review.Suggestions...)
	return res, nil
}

func structuralCheck(response string, calls []ToolCall) ValidationResult {
	res := ValidationResult{Passed: true, Issues: []string{}, Suggestions: []string{}}
	for _, c := range calls {
		if !c.Error {
			continue
		}
		res.Passed = false
		res.Issues = append(res.Issues, fmt.Sprintf("%s failed: %s", c.Name, helpers.TruncateRunes(c.Result, 200)))
	}
	if response == ExhaustedResponse {
		res.Passed = false
		res.Issues = append(res.Issues, "the run stopped before the model finished")
		res.Suggestions = append(res.Suggestions, "Split the request into smaller instructions")
	}
	if !res.Passed && len(res.Suggestions) == 0 {
		res.Suggestions = append(res.Suggestions, "Review the affected pages and retry the failed operations")
	}
	return res
}

// reviewReply is the model's verdict. A missing "passed" leaves the structural verdict alone.
type reviewReply struct {
	Passed      *bool    `json:"passed"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

func (v *Validator) review(ctx context.Context, response string, calls []ToolCall) (reviewReply, error) {
	resp, err := v.llm.Complete(ctx, llm.Request{
		Model:     v.model,
		Messages:  []llm.Message{llm.TextMessage(llm.RoleUser, validatorPrompt(response, calls))},
		MaxTokens: 600,
	})
	if err != nil {
		return reviewReply{}, err
	}
	raw := extractJSONObject(resp.Text())
	if raw == "" {
		return reviewReply{}, fmt.Errorf("review has no JSON object")
	}
	var out reviewReply
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return reviewReply{}, fmt.Errorf("decode review: %w", err)
	}
	return out, nil
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}

func truncate(s string, n int) string { return helpers.TruncateRunes(s, n) }
