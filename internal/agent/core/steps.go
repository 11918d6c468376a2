package core

import "fmt"

// stepTracker attributes tool calls to steps for progress reporting.
type stepTracker interface {
	// start returns the step a tool call belongs to.
	start(toolName string) (id, description string)
	finish(id string, status StepStatus)
	completed() int
}

// toolSteps treats every tool call as its own step (single mode).
type toolSteps struct {
	n    int
	done int
}

func (t *toolSteps) start(toolName string) (string, string) {
	t.n++
	return fmt.Sprintf("tool-%d", t.n), "Running " + toolName
}

func (t *toolSteps) finish(string, StepStatus) { t.done++ }

func (t *toolSteps) completed() int { return t.done }

// planSteps maps tool calls onto plan steps. A call goes to the first
// pending step whose tool hint matches, otherwise to the first pending step.
// Calls beyond the plan get extra-<n> ids and never count as plan steps.
type planSteps struct {
	plan   Plan
	status map[string]StepStatus
	extra  int
	done   int
}

func newPlanSteps(plan Plan) *planSteps {
	return &planSteps{plan: plan, status: make(map[string]StepStatus, len(plan.Steps))}
}

func (p *planSteps) pending(id string) bool {
	_, ok := p.status[id]
	return !ok
}

func (p *planSteps) start(toolName string) (string, string) {
	for _, s := range p.plan.Steps {
		if s.ToolName == toolName && p.pending(s.ID) {
			return s.ID, s.Description
		}
	}
	for _, s := range p.plan.Steps {
		if p.pending(s.ID) {
			return s.ID, s.Description
		}
	}
	p.extra++
	return fmt.Sprintf("extra-%d", p.extra), "Additional step: " + toolName
}

func (p *planSteps) finish(id string, status StepStatus) {
	for _, s := range p.plan.Steps {
		if s.ID == id && p.pending(id) {
			p.status[id] = status
			p.done++
			return
		}
	}
}

func (p *planSteps) completed() int { return p.done }

// remaining returns plan steps that never received a tool call.
func (p *planSteps) remaining() []PlanStep {
	var out []PlanStep
	for _, s := range p.plan.Steps {
		if p.pending(s.ID) {
			out = append(out, s)
		}
	}
	return out
}
