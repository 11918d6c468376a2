package core

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/paolomoz/nova/internal/llm"
	"github.com/paolomoz/nova/internal/tools"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed plan_schema.json
var planSchemaJSON string

var (
	// ErrPlanUnparsable is returned when the model reply holds no valid plan document.
	ErrPlanUnparsable = errors.New("plan response is not a valid plan document")
	// ErrEmptyPlan is returned when the plan has no usable steps.
	ErrEmptyPlan = errors.New("plan has no steps")
)

var (
	compileOnce sync.Once
	planSchema  *jsonschema.Schema
	compileErr  error
)

func compiledPlanSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("plan_schema.json", strings.NewReader(planSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		planSchema, compileErr = compiler.Compile("plan_schema.json")
	})
	return planSchema, compileErr
}

type planDocument struct {
	Intent string `json:"intent"`
	Steps  []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Tool        string `json:"tool"`
	} `json:"steps"`
}

// Planner turns a multi-step prompt into a Plan.
type Planner struct {
	llm      llm.Client
	model    string
	maxSteps int
	logger   *log.Logger
}

// NewPlanner creates a planner capping plans at maxSteps.
func NewPlanner(client llm.Client, model string, maxSteps int) *Planner {
	if maxSteps <= 0 {
		maxSteps = 8
	}
	return &Planner{
		llm:      client,
		model:    model,
		maxSteps: maxSteps,
		logger:   log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// Plan asks the model for a plan and validates it.
func (p *Planner) Plan(ctx context.Context, prompt string, catalog []tools.Definition) (Plan, error) {
	resp, err := p.llm.Complete(ctx, llm.Request{
		Model:       p.model,
		Messages:    []llm.Message{llm.TextMessage(llm.RoleUser, plannerPrompt(prompt, catalog, p.maxSteps))},
		MaxTokens:   1500,
		Temperature: 0.2,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("generate plan: %w", err)
	}
	plan, err := ParsePlan(resp.Text(), catalog, p.maxSteps)
	if err != nil {
		return Plan{}, err
	}
	p.logger.Printf("plan ready: %d steps (%s)", plan.StepCount, plan.Intent)
	return plan, nil
}

// ParsePlan extracts, validates and normalises a plan from model output.
// Tool hints that are not in catalog are dropped and steps beyond maxSteps are cut.
func ParsePlan(text string, catalog []tools.Definition, maxSteps int) (Plan, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return Plan{}, ErrPlanUnparsable
	}
	schema, err := compiledPlanSchema()
	if err != nil {
		return Plan{}, err
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrPlanUnparsable, err)
	}
	if err := schema.Validate(doc); err != nil {
		if strings.Contains(err.Error(), "minItems") {
			return Plan{}, ErrEmptyPlan
		}
		return Plan{}, fmt.Errorf("%w: %v", ErrPlanUnparsable, err)
	}
	var pd planDocument
	if err := json.Unmarshal([]byte(raw), &pd); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrPlanUnparsable, err)
	}

	known := make(map[string]struct{}, len(catalog))
	for _, d := range catalog {
		known[d.Name] = struct{}{}
	}
	plan := Plan{Intent: strings.TrimSpace(pd.Intent)}
	for _, s := range pd.Steps {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			continue
		}
		if maxSteps > 0 && len(plan.Steps) == maxSteps {
			break
		}
		tool := strings.TrimSpace(s.Tool)
		if _, ok := known[tool]; !ok {
			tool = ""
		}
		plan.Steps = append(plan.Steps, PlanStep{
			ID:          fmt.Sprintf("step-%d", len(plan.Steps)+1),
			Description: desc,
			ToolName:    tool,
		})
	}
	if len(plan.Steps) == 0 {
		return Plan{}, ErrEmptyPlan
	}
	plan.StepCount = len(plan.Steps)
	return plan, nil
}

// extractJSONObject returns the first balanced {...} in s, honouring strings.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
