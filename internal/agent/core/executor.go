package core

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/paolomoz/nova/config"
	"github.com/paolomoz/nova/internal/helpers"
	"github.com/paolomoz/nova/internal/llm"
	"github.com/paolomoz/nova/internal/sse"
	"github.com/paolomoz/nova/internal/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExhaustedResponse is the response text of a run that hit the iteration cap.
const ExhaustedResponse = "Maximum tool-use iterations reached"

const stepResultRunes = 2000

// ErrToolAborted wraps a tool failure that ended the run under the abort policy.
var ErrToolAborted = errors.New("tool execution failed")

// Executor drives the model/tool loop.
type Executor struct {
	llm           llm.Client
	registry      *tools.Registry
	model         string
	maxTokens     int
	temperature   float64
	maxIterations int
	errorPolicy   string
	logger        *log.Logger
}

// NewExecutor builds an executor. maxIterations is clamped to config.MaxToolIterations.
func NewExecutor(client llm.Client, registry *tools.Registry, llmCfg config.LLMConfig, agentCfg config.AgentConfig) *Executor {
	agentCfg = agentCfg.Normalize()
	return &Executor{
		llm:           client,
		registry:      registry,
		model:         llmCfg.Model,
		maxTokens:     llmCfg.MaxTokens,
		temperature:   llmCfg.Temperature,
		maxIterations: agentCfg.MaxIterations,
		errorPolicy:   agentCfg.ToolErrorPolicy,
		logger:        log.New(log.Writer(), "[EXEC] ", log.LstdFlags),
	}
}

type execInput struct {
	System  string
	Prompt  string
	Catalog []tools.Definition
	Tools   *tools.ExecContext
	Emit    sse.Emitter
	Steps   stepTracker
}

type execResult struct {
	Response   string
	ToolCalls  []ToolCall
	Steps      []StepResult
	Iterations int
	Exhausted  bool
}

// run executes the loop. On cancellation it returns the context error and
// emits nothing further.
func (e *Executor) run(ctx context.Context, in execInput) (execResult, error) {
	var res execResult
	history := []llm.Message{llm.TextMessage(llm.RoleUser, in.Prompt)}
	llmTools := tools.LLMTools(in.Catalog)

	for iter := 1; iter <= e.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Iterations = iter
		iterCtx, span := tracer.Start(ctx, "agent.iteration", trace.WithAttributes(attribute.Int("iteration", iter)))
		resp, err := e.llm.Complete(iterCtx, llm.Request{
			Model:       e.model,
			System:      in.System,
			Messages:    history,
			Tools:       llmTools,
			MaxTokens:   e.maxTokens,
			Temperature: e.temperature,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			return res, fmt.Errorf("llm call: %w", err)
		}
		uses := resp.ToolUses()
		span.SetAttributes(attribute.Int("tool_uses", len(uses)))
		span.End()
		if len(uses) == 0 {
			res.Response = resp.Text()
			return res, nil
		}

		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		results := make([]llm.ContentBlock, 0, len(uses))
		for _, use := range uses {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			call, step, err := e.dispatch(ctx, use, in)
			if err != nil {
				if errors.Is(err, ErrToolAborted) {
					res.ToolCalls = append(res.ToolCalls, call)
					res.Steps = append(res.Steps, step)
				}
				return res, err
			}
			res.ToolCalls = append(res.ToolCalls, call)
			res.Steps = append(res.Steps, step)
			results = append(results, llm.ContentBlock{
				Type:      llm.BlockToolResult,
				ToolUseID: use.ID,
				Text:      call.Result,
				IsError:   call.Error,
			})
		}
		history = append(history, llm.Message{Role: llm.RoleUser, Content: results})
	}

	e.logger.Printf("iteration cap %d reached after %d tool calls", e.maxIterations, len(res.ToolCalls))
	res.Response = ExhaustedResponse
	res.Exhausted = true
	return res, nil
}

func (e *Executor) dispatch(ctx context.Context, use llm.ContentBlock, in execInput) (ToolCall, StepResult, error) {
	stepID, desc := in.Steps.start(use.Name)
	in.Emit.Emit(sse.EventStepStart, map[string]any{"stepId": stepID, "description": desc})
	input := use.Input
	if input == nil {
		input = map[string]any{}
	}
	in.Emit.Emit(sse.EventToolCall, map[string]any{"toolName": use.Name, "input": input})

	toolCtx, span := tracer.Start(ctx, "agent.tool", trace.WithAttributes(attribute.String("tool", use.Name)))
	out, err := e.registry.Execute(toolCtx, use.Name, input, in.Tools)
	span.End()

	call := ToolCall{Name: use.Name, Input: input, Result: out}
	var abort error
	switch {
	case err == nil:
	case errors.Is(err, tools.ErrUnknownTool):
		call.Result, call.Error = "Unknown tool: "+use.Name, true
	case ctx.Err() != nil:
		return call, StepResult{}, ctx.Err()
	case e.errorPolicy == config.ToolErrorAbort:
		e.logger.Printf("tool %s failed, aborting run: %v", use.Name, err)
		call.Result, call.Error = "Error: "+err.Error(), true
		abort = fmt.Errorf("%w: %s: %v", ErrToolAborted, use.Name, err)
	default:
		e.logger.Printf("warn: tool %s failed: %v", use.Name, err)
		call.Result, call.Error = "Error: "+err.Error(), true
	}
	recordToolOutcome(ctx, use.Name, call.Error)

	step := StepResult{StepID: stepID, Status: StepSuccess, Description: desc, ToolName: use.Name}
	if call.Error {
		step.Status = StepError
		step.Error = helpers.TruncateRunes(call.Result, stepResultRunes)
	} else {
		step.Result = helpers.TruncateRunes(call.Result, stepResultRunes)
	}
	in.Steps.finish(stepID, step.Status)
	in.Emit.Emit(sse.EventStepComplete, step)
	return call, step, abort
}
