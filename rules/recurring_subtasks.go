package rules

import (
	"context"

	"github.com/goliatone/go-taskhooks/core"
)

// RecurringPurgeSubtasks deletes the active descendant subtasks of a recurring
// task when it completes, so the next occurrence starts from a clean slate.
// Children are deleted before their parents; deletions are capped per event.
// Disabled by default.
type RecurringPurgeSubtasks struct {
	tasks     core.TaskService
	maxDelete int
}

func NewRecurringPurgeSubtasks(tasks core.TaskService, cfg core.RulesConfig) *RecurringPurgeSubtasks {
	return &RecurringPurgeSubtasks{
		tasks:     tasks,
		maxDelete: cfg.MaxDeleteSubtasks,
	}
}

func (r *RecurringPurgeSubtasks) ID() string {
	return "recurring_purge_subtasks"
}

func (r *RecurringPurgeSubtasks) Matches(event core.InboundEvent) bool {
	return event.Completion() && event.TaskID != "" && event.ProjectID != ""
}

func (r *RecurringPurgeSubtasks) Plan(ctx context.Context, event core.InboundEvent) (Plan, error) {
	task, err := r.tasks.GetTask(ctx, event.TaskID)
	if err != nil {
		return Plan{}, err
	}
	if !task.Due.RecursAgain() {
		return Plan{Summary: map[string]any{"reason": "task_not_recurring"}}, nil
	}

	siblings, err := r.tasks.ListProjectTasks(ctx, event.ProjectID)
	if err != nil {
		return Plan{}, err
	}

	children := map[string][]core.Task{}
	for _, sibling := range siblings {
		if sibling.ParentID == "" {
			continue
		}
		children[sibling.ParentID] = append(children[sibling.ParentID], sibling)
	}

	ordered := descendantsDepthFirst(children, event.TaskID, map[string]bool{})

	planned := ordered
	partial := false
	if r.maxDelete >= 0 && len(ordered) > r.maxDelete {
		planned = ordered[:r.maxDelete]
		partial = true
	}

	actions := make([]Action, 0, len(planned))
	for _, subtask := range planned {
		actions = append(actions, Action{
			Type:       ActionDeleteTask,
			TargetType: TargetTask,
			TargetID:   subtask.ID,
			Metadata:   map[string]any{"parent_id": subtask.ParentID},
		})
	}

	return Plan{
		Actions: actions,
		Partial: partial,
		Summary: map[string]any{
			"task_id":         event.TaskID,
			"total_subtasks":  len(ordered),
			"planned_deletes": len(planned),
			"partial":         partial,
		},
	}, nil
}

// descendantsDepthFirst returns the subtree below rootID in post-order, so
// every task appears after all of its own descendants. The seen set guards
// against cycles in malformed parent references.
func descendantsDepthFirst(children map[string][]core.Task, rootID string, seen map[string]bool) []core.Task {
	if seen[rootID] {
		return nil
	}
	seen[rootID] = true

	var ordered []core.Task
	for _, child := range children[rootID] {
		ordered = append(ordered, descendantsDepthFirst(children, child.ID, seen)...)
		ordered = append(ordered, child)
	}
	return ordered
}

var _ Rule = (*RecurringPurgeSubtasks)(nil)
