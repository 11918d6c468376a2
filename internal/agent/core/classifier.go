package core

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/paolomoz/nova/internal/llm"
)

var (
	connectorRe = regexp.MustCompile(`(?i)\b(and then|after that|afterwards|once (that'?s|it'?s|this is) done|followed by|then also|finally)\b`)
	listItemRe  = regexp.MustCompile(`(?m)^\s*(\d+[.)]|[-*•])\s+\S`)
	mutatingRe  = regexp.MustCompile(`(?i)\b(create|add|write|update|edit|change|rewrite|replace|delete|remove|move|rename|copy|duplicate|import|publish|translate)\b`)
	bulkRe      = regexp.MustCompile(`(?i)\b(for (each|every)|all (the )?pages|every page|each page)\b`)
)

// Classifier decides between single and multi mode.
type Classifier struct {
	llm    llm.Client
	model  string
	useLLM bool
	logger *log.Logger
}

// NewClassifier builds a classifier. client may be nil when useLLM is false.
func NewClassifier(client llm.Client, model string, useLLM bool) *Classifier {
	return &Classifier{
		llm:    client,
		model:  model,
		useLLM: useLLM && client != nil,
		logger: log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
	}
}

// Classify never calls tools and never fails: undecidable prompts are single.
func (c *Classifier) Classify(ctx context.Context, prompt string) Mode {
	verdict := classifyHeuristic(prompt)
	if !c.useLLM {
		return verdict
	}
	resp, err := c.llm.Complete(ctx, llm.Request{
		Model:     c.model,
		Messages:  []llm.Message{llm.TextMessage(llm.RoleUser, classifierPrompt(prompt))},
		MaxTokens: 8,
	})
	if err != nil {
		c.logger.Printf("warn: llm classification failed, using heuristic %s: %v", verdict, err)
		return verdict
	}
	return parseMode(resp.Text())
}

func parseMode(s string) Mode {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, string(ModeMulti)):
		return ModeMulti
	default:
		return ModeSingle
	}
}

func classifyHeuristic(prompt string) Mode {
	p := strings.TrimSpace(prompt)
	if p == "" {
		return ModeSingle
	}
	if connectorRe.MatchString(p) {
		return ModeMulti
	}
	if len(listItemRe.FindAllString(p, -1)) >= 2 {
		return ModeMulti
	}
	verbs := map[string]struct{}{}
	for _, v := range mutatingRe.FindAllString(p, -1) {
		verbs[strings.ToLower(v)] = struct{}{}
	}
	if len(verbs) >= 2 {
		return ModeMulti
	}
	if len(verbs) >= 1 && bulkRe.MatchString(p) {
		return ModeMulti
	}
	return ModeSingle
}
