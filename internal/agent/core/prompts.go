package core

import (
	"fmt"
	"strings"

	"github.com/paolomoz/nova/internal/tools"
)

func systemPrompt(projectID string) string {
	return fmt.Sprintf(`You are Nova, an assistant that operates on the content repository of project %q.
Pages are addressed by absolute paths such as /en/blog/post. Use the available tools to inspect and change
pages; never invent page content you have not read when the user asks about existing pages.
When the task is complete, answer with a short summary of what you did and what you found.`, projectID)
}

func classifierPrompt(prompt string) string {
	return `Decide whether the following instruction needs a single action or several dependent actions.
Reply with exactly one word: single or multi.

Instruction:
` + prompt
}

func plannerPrompt(prompt string, catalog []tools.Definition, maxSteps int) string {
	var b strings.Builder
	b.WriteString("Break the user's instruction into an ordered plan of at most ")
	fmt.Fprintf(&b, "%d steps.\n\nAvailable tools:\n", maxSteps)
	for _, d := range catalog {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}
	b.WriteString(`
Respond with a single JSON object and nothing else:
{"intent": "<one sentence goal>", "steps": [{"description": "<what to do>", "tool": "<tool name or empty>"}]}

Instruction:
`)
	b.WriteString(prompt)
	return b.String()
}

// planInstruction renders the plan as guidance appended to the user's prompt.
func planInstruction(prompt string, plan Plan) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nExecute this plan step by step:\n")
	for i, s := range plan.Steps {
		fmt.Fprintf(&b, "%d. %s", i+1, s.Description)
		if s.ToolName != "" {
			fmt.Fprintf(&b, " (tool: %s)", s.ToolName)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func validatorPrompt(response string, calls []ToolCall) string {
	var b strings.Builder
	b.WriteString("Review the result of an automated content operation.\n\nTool calls:\n")
	for i, c := range calls {
		status := "ok"
		if c.Error {
			status = "failed"
		}
		fmt.Fprintf(&b, "%d. %s %s -> %s\n", i+1, c.Name, status, truncate(c.Result, 300))
	}
	b.WriteString("\nFinal answer:\n")
	b.WriteString(truncate(response, 2000))
	b.WriteString(`

Respond with a single JSON object and nothing else:
{"passed": true|false, "issues": ["..."], "suggestions": ["..."]}`)
	return b.String()
}
