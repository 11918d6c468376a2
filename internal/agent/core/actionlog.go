package core

import (
	"context"

	"github.com/paolomoz/nova/internal/helpers"
	"github.com/paolomoz/nova/internal/store"
	"github.com/paolomoz/nova/internal/tools"
)

const (
	// ActionTypeRun is the action type of the per-run audit record.
	ActionTypeRun = "ai_run"

	promptRunes      = 500
	responseRunes    = 1000
	descriptionRunes = 120
)

// ActionLogger writes one audit record per run.
type ActionLogger struct {
	recorder tools.ActionRecorder
}

// NewActionLogger wraps recorder. A nil recorder disables logging.
func NewActionLogger(recorder tools.ActionRecorder) *ActionLogger {
	return &ActionLogger{recorder: recorder}
}

// Log records run. It is a no-op without a recorder.
func (a *ActionLogger) Log(ctx context.Context, run CompletedRun) error {
	if a == nil || a.recorder == nil {
		return nil
	}
	_, err := a.recorder.RecordAction(ctx, runRecord(run))
	return err
}

func runRecord(run CompletedRun) store.ActionRecord {
	names := make([]string, 0, len(run.ToolCalls))
	for _, c := range run.ToolCalls {
		names = append(names, c.Name)
	}
	return store.ActionRecord{
		UserID:      run.UserID,
		ProjectID:   run.ProjectID,
		ActionType:  ActionTypeRun,
		Description: helpers.TruncateRunes(run.Prompt, descriptionRunes),
		Input: map[string]interface{}{
			"runId":  run.RunID,
			"prompt": helpers.TruncateRunes(run.Prompt, promptRunes),
		},
		Output: map[string]interface{}{
			"response":  helpers.TruncateRunes(run.Response, responseRunes),
			"toolCalls": len(run.ToolCalls),
			"tools":     names,
			"failed":    run.Failed,
		},
	}
}
