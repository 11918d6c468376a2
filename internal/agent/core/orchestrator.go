package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/paolomoz/nova/config"
	"github.com/paolomoz/nova/internal/llm"
	"github.com/paolomoz/nova/internal/runtime"
	"github.com/paolomoz/nova/internal/sse"
	"github.com/paolomoz/nova/internal/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrEmptyPrompt is returned for blank instructions.
var ErrEmptyPrompt = errors.New("prompt is required")

// ContextAccumulator learns from completed runs.
type ContextAccumulator interface {
	Accumulate(ctx context.Context, run CompletedRun) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	// LLM drives the executor and planner.
	LLM llm.Client
	// FastLLM serves the classifier and validator; LLM is used when nil.
	FastLLM  llm.Client
	Registry *tools.Registry
	Policy   *runtime.ToolPolicy
	// Tools holds the collaborator handles copied into every run's ExecContext.
	Tools       tools.ExecContext
	Actions     tools.ActionRecorder
	Accumulator ContextAccumulator
	IDs         IDSource
}

// Orchestrator runs prompts end to end: classify, plan, execute, validate,
// then log and accumulate in the background.
type Orchestrator struct {
	agent    config.AgentConfig
	llmCfg   config.LLMConfig
	registry *tools.Registry
	policy   *runtime.ToolPolicy
	toolCtx  tools.ExecContext

	classifier *Classifier
	planner    *Planner
	executor   *Executor
	validator  *Validator
	actions    *ActionLogger
	accum      ContextAccumulator
	ids        IDSource
	logger     *log.Logger

	bg sync.WaitGroup
}

// NewOrchestrator wires an orchestrator from config and deps.
func NewOrchestrator(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if deps.Registry == nil {
		deps.Registry = tools.Default()
	}
	if deps.IDs == nil {
		deps.IDs = UUIDs{}
	}
	fast := deps.FastLLM
	if fast == nil {
		fast = deps.LLM
	}
	fastModel := cfg.LLM.FastModel
	if fastModel == "" {
		fastModel = cfg.LLM.Model
	}
	agent := cfg.Agent.Normalize()
	if err := agent.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		agent:      agent,
		llmCfg:     cfg.LLM,
		registry:   deps.Registry,
		policy:     deps.Policy,
		toolCtx:    deps.Tools,
		classifier: NewClassifier(fast, fastModel, agent.LLMClassifier),
		planner:    NewPlanner(deps.LLM, cfg.LLM.Model, agent.MaxPlanSteps),
		executor:   NewExecutor(deps.LLM, deps.Registry, cfg.LLM, agent),
		validator:  NewValidator(fast, fastModel, agent.LLMValidator),
		actions:    NewActionLogger(deps.Actions),
		accum:      deps.Accumulator,
		ids:        deps.IDs,
		logger:     log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
	}, nil
}

// Catalog returns the tools offered to the model under the current policy.
func (o *Orchestrator) Catalog() []tools.Definition {
	return o.registry.Catalog(o.policy)
}

// Run executes req and streams progress to emit. Exactly one of done or
// error is emitted unless ctx is cancelled first, in which case nothing
// further is emitted and ctx's error is returned.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, emit sse.Emitter) (RunResult, error) {
	if emit == nil {
		emit = sse.Discard{}
	}
	res := RunResult{RunID: o.ids.NewID(), StartedAt: time.Now().UTC()}
	if strings.TrimSpace(req.Prompt) == "" {
		emit.Emit(sse.EventError, map[string]any{"error": ErrEmptyPrompt.Error()})
		return res, ErrEmptyPrompt
	}

	runCtx, cancel := context.WithTimeout(ctx, o.agent.RunTimeout)
	defer cancel()
	runCtx, span := tracer.Start(runCtx, "agent.run", trace.WithAttributes(
		attribute.String("run.id", res.RunID),
		attribute.String("project.id", req.ProjectID),
		attribute.String("user.id", req.UserID),
	))
	defer span.End()

	err := o.run(runCtx, req, emit, &res)
	res.Duration = time.Since(res.StartedAt)

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "completed")
		recordRun(ctx, res.Mode, outcome(res), res.Iterations)
		o.dispatchBackground(ctx, req, res, false)
		return res, nil
	case ctx.Err() != nil:
		o.logger.Printf("run %s cancelled by client after %d tool calls", res.RunID, len(res.ToolCalls))
		span.SetStatus(codes.Error, "cancelled")
		recordRun(context.WithoutCancel(ctx), res.Mode, "cancelled", res.Iterations)
		return res, ctx.Err()
	default:
		if errors.Is(err, context.DeadlineExceeded) && runCtx.Err() != nil {
			err = fmt.Errorf("run exceeded %s: %w", o.agent.RunTimeout, err)
		}
		o.logger.Printf("run %s failed: %v", res.RunID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		emit.Emit(sse.EventError, map[string]any{"error": err.Error()})
		recordRun(ctx, res.Mode, "error", res.Iterations)
		o.dispatchBackground(ctx, req, res, true)
		return res, err
	}
}

// Execute runs req in single mode without streaming.
func (o *Orchestrator) Execute(ctx context.Context, req RunRequest) (RunResult, error) {
	req.Mode = ModeSingle
	return o.Run(ctx, req, sse.Discard{})
}

func (o *Orchestrator) run(ctx context.Context, req RunRequest, emit sse.Emitter, res *RunResult) error {
	mode := req.Mode
	if mode != ModeSingle && mode != ModeMulti {
		mode = o.classifier.Classify(ctx, req.Prompt)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	res.Mode = mode
	emit.Emit(sse.EventMode, map[string]any{"mode": mode})

	catalog := o.Catalog()
	in := execInput{
		System:  systemPrompt(req.ProjectID),
		Prompt:  req.Prompt,
		Catalog: catalog,
		Tools:   o.execContext(req),
		Emit:    emit,
		Steps:   &toolSteps{},
	}

	var tracker *planSteps
	if mode == ModeMulti {
		emit.Emit(sse.EventPlanStart, struct{}{})
		planCtx, span := tracer.Start(ctx, "agent.plan")
		plan, err := o.planner.Plan(planCtx, req.Prompt, catalog)
		span.End()
		if err := ctx.Err(); err != nil {
			return err
		}
		if err != nil {
			o.logger.Printf("warn: planning failed, executing directly: %v", err)
			o.insight(emit, Insight{Type: "warning", Message: "Could not build a step-by-step plan; running the request directly."})
		} else {
			res.Plan = &plan
			tracker = newPlanSteps(plan)
			in.Steps = tracker
			in.Prompt = planInstruction(req.Prompt, plan)
			emit.Emit(sse.EventPlanReady, map[string]any{"intent": plan.Intent, "stepCount": plan.StepCount, "steps": plan.Steps})
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := o.executor.run(ctx, in)
	res.ToolCalls = out.ToolCalls
	res.Steps = out.Steps
	res.Iterations = out.Iterations
	if err != nil {
		return err
	}
	res.Response = out.Response
	res.Exhausted = out.Exhausted
	if res.ToolCalls == nil {
		res.ToolCalls = []ToolCall{}
	}

	if tracker != nil && !out.Exhausted {
		// Steps without a tool are carried by the final answer.
		for _, s := range tracker.remaining() {
			if s.ToolName != "" {
				continue
			}
			emit.Emit(sse.EventStepStart, map[string]any{"stepId": s.ID, "description": s.Description})
			tracker.finish(s.ID, StepSuccess)
			step := StepResult{StepID: s.ID, Status: StepSuccess, Description: s.Description}
			res.Steps = append(res.Steps, step)
			emit.Emit(sse.EventStepComplete, step)
		}
	}
	if out.Exhausted {
		o.insight(emit, Insight{Type: "info", Message: fmt.Sprintf("Stopped after %d tool-use iterations. Ask again to continue from here.", out.Iterations)})
	}

	if o.changedState(res.ToolCalls) {
		if err := ctx.Err(); err != nil {
			return err
		}
		emit.Emit(sse.EventValidationStart, struct{}{})
		vctx, span := tracer.Start(ctx, "agent.validate")
		v, err := o.validator.Validate(vctx, res.Response, res.ToolCalls)
		span.End()
		if err != nil {
			return err
		}
		res.Validation = &v
		emit.Emit(sse.EventValidationComplete, v)
		if !v.Passed {
			o.insight(emit, Insight{
				Type:    "suggestion",
				Message: "Some changes may not have been applied as intended. Review the issues and retry if needed.",
				Actions: []InsightAction{{Label: "Retry", Action: "retry"}},
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	emit.Emit(sse.EventDone, map[string]any{"response": res.Response, "toolCalls": res.ToolCalls})
	return nil
}

func (o *Orchestrator) execContext(req RunRequest) *tools.ExecContext {
	ec := o.toolCtx
	ec.UserID = req.UserID
	ec.ProjectID = req.ProjectID
	ec.Policy = o.policy
	return &ec
}

func (o *Orchestrator) changedState(calls []ToolCall) bool {
	for _, c := range calls {
		if o.registry.IsMutating(c.Name) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) insight(emit sse.Emitter, in Insight) {
	in.ID = o.ids.NewID()
	emit.Emit(sse.EventInsight, in)
}

// dispatchBackground logs the run and accumulates user context off the
// request path. Runs whose request was cancelled are skipped.
func (o *Orchestrator) dispatchBackground(ctx context.Context, req RunRequest, res RunResult, failed bool) {
	if ctx.Err() != nil {
		return
	}
	run := CompletedRun{
		RunID:     res.RunID,
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Prompt:    req.Prompt,
		Response:  res.Response,
		ToolCalls: res.ToolCalls,
		Failed:    failed,
	}
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.agent.BackgroundTimeout)
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		defer cancel()
		if err := o.actions.Log(bgCtx, run); err != nil {
			o.logger.Printf("warn: action log for run %s: %v", run.RunID, err)
		}
		if o.accum == nil || failed {
			return
		}
		if err := o.accum.Accumulate(bgCtx, run); err != nil {
			o.logger.Printf("warn: context accumulation for run %s: %v", run.RunID, err)
		}
	}()
}

// Wait blocks until background work of finished runs completes.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

func outcome(res RunResult) string {
	if res.Exhausted {
		return "exhausted"
	}
	return "done"
}
