package rules

import (
	"context"
	"strings"

	"github.com/goliatone/go-taskhooks/core"
)

// RecurringClearComments removes stale comments from a recurring task once it
// completes and rolls over to its next occurrence. Comments whose content
// contains any keep marker survive; deletions are capped per event, and
// hitting the cap is a partial completion rather than a failure.
type RecurringClearComments struct {
	tasks       core.TaskService
	keepMarkers []string
	maxDelete   int
}

func NewRecurringClearComments(tasks core.TaskService, cfg core.RulesConfig) *RecurringClearComments {
	markers := make([]string, 0, len(cfg.KeepMarkers))
	for _, marker := range cfg.KeepMarkers {
		if trimmed := strings.TrimSpace(marker); trimmed != "" {
			markers = append(markers, strings.ToLower(trimmed))
		}
	}
	return &RecurringClearComments{
		tasks:       tasks,
		keepMarkers: markers,
		maxDelete:   cfg.MaxDeleteComments,
	}
}

func (r *RecurringClearComments) ID() string {
	return "recurring_clear_comments"
}

func (r *RecurringClearComments) Matches(event core.InboundEvent) bool {
	return event.Completion() && event.TaskID != ""
}

func (r *RecurringClearComments) Plan(ctx context.Context, event core.InboundEvent) (Plan, error) {
	task, err := r.tasks.GetTask(ctx, event.TaskID)
	if err != nil {
		return Plan{}, err
	}
	if !task.Due.RecursAgain() {
		return Plan{Summary: map[string]any{"reason": "task_not_recurring"}}, nil
	}

	comments, err := r.tasks.ListComments(ctx, event.TaskID)
	if err != nil {
		return Plan{}, err
	}

	kept := 0
	deletable := make([]core.Comment, 0, len(comments))
	for _, comment := range comments {
		if r.keep(comment.Content) {
			kept++
			continue
		}
		deletable = append(deletable, comment)
	}

	planned := deletable
	partial := false
	if r.maxDelete >= 0 && len(deletable) > r.maxDelete {
		planned = deletable[:r.maxDelete]
		partial = true
	}

	actions := make([]Action, 0, len(planned))
	for _, comment := range planned {
		actions = append(actions, Action{
			Type:       ActionDeleteComment,
			TargetType: TargetComment,
			TargetID:   comment.ID,
			Metadata:   map[string]any{"task_id": event.TaskID},
		})
	}

	return Plan{
		Actions: actions,
		Partial: partial,
		Summary: map[string]any{
			"task_id":         event.TaskID,
			"total_comments":  len(comments),
			"kept_comments":   kept,
			"planned_deletes": len(planned),
			"partial":         partial,
		},
	}, nil
}

func (r *RecurringClearComments) keep(content string) bool {
	lowered := strings.ToLower(content)
	for _, marker := range r.keepMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

var _ Rule = (*RecurringClearComments)(nil)
