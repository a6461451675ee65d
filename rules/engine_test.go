package rules

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/goliatone/go-taskhooks/core"
)

type stubTaskService struct {
	task            core.Task
	taskErr         error
	comments        []core.Comment
	commentsErr     error
	projectTasks    []core.Task
	projectTasksErr error
	deleteErr       error

	deletedComments []string
	deletedTasks    []string
}

func (s *stubTaskService) GetTask(context.Context, string) (core.Task, error) {
	return s.task, s.taskErr
}

func (s *stubTaskService) ListComments(context.Context, string) ([]core.Comment, error) {
	return s.comments, s.commentsErr
}

func (s *stubTaskService) DeleteComment(_ context.Context, commentID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletedComments = append(s.deletedComments, commentID)
	return nil
}

func (s *stubTaskService) ListProjectTasks(context.Context, string) ([]core.Task, error) {
	return s.projectTasks, s.projectTasksErr
}

func (s *stubTaskService) DeleteTask(_ context.Context, taskID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletedTasks = append(s.deletedTasks, taskID)
	return nil
}

type memoryRecorder struct {
	outcomes []core.ActionOutcome
}

func (m *memoryRecorder) Record(_ context.Context, outcome core.ActionOutcome) error {
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func (m *memoryRecorder) ListByDelivery(_ context.Context, deliveryID string) ([]core.ActionOutcome, error) {
	var matched []core.ActionOutcome
	for _, outcome := range m.outcomes {
		if outcome.DeliveryID == deliveryID {
			matched = append(matched, outcome)
		}
	}
	return matched, nil
}

func recurringTask(id string) core.Task {
	return core.Task{
		ID:        id,
		ProjectID: "proj-1",
		Due:       &core.TaskDue{Date: "2026-09-01", Recurrence: "every day", IsRecurring: true},
	}
}

func completionEvent(taskID string) core.InboundEvent {
	event, err := core.ParseEvent([]byte(fmt.Sprintf(
		`{"event_name":"item:completed","user_id":"u1","event_data":{"id":%q,"project_id":"proj-1"}}`, taskID,
	)), "d-1")
	if err != nil {
		panic(err)
	}
	return event
}

func defaultRulesConfig() core.RulesConfig {
	return core.RulesConfig{
		RecurringClearComments: true,
		KeepMarkers:            []string{"[openclaw:plan]"},
		MaxDeleteComments:      200,
		MaxDeleteSubtasks:      200,
	}
}

func TestClearCommentsKeepsMarkedComments(t *testing.T) {
	tasks := &stubTaskService{
		task: recurringTask("task-1"),
		comments: []core.Comment{
			{ID: "c1", Content: "done at 9am"},
			{ID: "c2", Content: "plan: [OpenClaw:Plan] keep me"},
			{ID: "c3", Content: "another log line"},
		},
	}
	recorder := &memoryRecorder{}
	engine := NewEngine(tasks, BuiltIn(tasks, defaultRulesConfig()), WithRecorder(recorder))

	outcome := engine.Dispatch(context.Background(), completionEvent("task-1"))

	if outcome.Kind != OutcomeApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	if outcome.RuleID != "recurring_clear_comments" {
		t.Fatalf("unexpected rule id %q", outcome.RuleID)
	}
	if len(tasks.deletedComments) != 2 {
		t.Fatalf("expected 2 deletes, got %v", tasks.deletedComments)
	}
	for _, id := range tasks.deletedComments {
		if id == "c2" {
			t.Fatal("marked comment was deleted")
		}
	}
	if outcome.Summary["kept_comments"] != 1 {
		t.Fatalf("unexpected summary %+v", outcome.Summary)
	}
	if len(recorder.outcomes) != 2 {
		t.Fatalf("expected 2 recorded outcomes, got %d", len(recorder.outcomes))
	}
	if recorder.outcomes[0].Result != core.ActionResultSuccess {
		t.Fatalf("unexpected recorded result %+v", recorder.outcomes[0])
	}
}

func TestClearCommentsCapIsPartialNotFailure(t *testing.T) {
	comments := make([]core.Comment, 0, 250)
	for i := 0; i < 250; i++ {
		comments = append(comments, core.Comment{ID: fmt.Sprintf("c%d", i), Content: "log"})
	}
	tasks := &stubTaskService{task: recurringTask("task-1"), comments: comments}
	engine := NewEngine(tasks, BuiltIn(tasks, defaultRulesConfig()))

	outcome := engine.Dispatch(context.Background(), completionEvent("task-1"))

	if outcome.Kind != OutcomeApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	if !outcome.Partial {
		t.Fatal("expected partial outcome at the delete cap")
	}
	if len(tasks.deletedComments) != 200 {
		t.Fatalf("expected 200 deletes, got %d", len(tasks.deletedComments))
	}
}

func TestClearCommentsSkipsNonRecurringTask(t *testing.T) {
	tasks := &stubTaskService{
		task:     core.Task{ID: "task-1", Due: &core.TaskDue{Date: "2026-09-01"}},
		comments: []core.Comment{{ID: "c1", Content: "log"}},
	}
	engine := NewEngine(tasks, BuiltIn(tasks, defaultRulesConfig()))

	outcome := engine.Dispatch(context.Background(), completionEvent("task-1"))

	if outcome.Kind != OutcomeApplied {
		t.Fatalf("expected applied no-op, got %+v", outcome)
	}
	if len(tasks.deletedComments) != 0 {
		t.Fatalf("expected no deletes, got %v", tasks.deletedComments)
	}
	if outcome.Summary["reason"] != "task_not_recurring" {
		t.Fatalf("unexpected summary %+v", outcome.Summary)
	}
}

func TestDryRunExecutesNoMutations(t *testing.T) {
	tasks := &stubTaskService{
		task:     recurringTask("task-1"),
		comments: []core.Comment{{ID: "c1", Content: "log"}, {ID: "c2", Content: "log"}},
	}
	recorder := &memoryRecorder{}
	engine := NewEngine(tasks, BuiltIn(tasks, defaultRulesConfig()), WithDryRun(true), WithRecorder(recorder))

	outcome := engine.Dispatch(context.Background(), completionEvent("task-1"))

	if outcome.Kind != OutcomeApplied || !outcome.Simulated {
		t.Fatalf("expected simulated applied outcome, got %+v", outcome)
	}
	if len(tasks.deletedComments) != 0 {
		t.Fatalf("dry run performed deletes: %v", tasks.deletedComments)
	}
	if len(recorder.outcomes) != 2 {
		t.Fatalf("expected 2 recorded outcomes, got %d", len(recorder.outcomes))
	}
	for _, recorded := range recorder.outcomes {
		if recorded.Result != core.ActionResultSkipped {
			t.Fatalf("expected skipped result in dry run, got %+v", recorded)
		}
		if recorded.Metadata["reason"] != "dry_run" {
			t.Fatalf("expected dry_run reason, got %+v", recorded.Metadata)
		}
	}
}

func TestActionFailureRecordsAndFails(t *testing.T) {
	tasks := &stubTaskService{
		task:      recurringTask("task-1"),
		comments:  []core.Comment{{ID: "c1", Content: "log"}},
		deleteErr: errors.New("remote exploded"),
	}
	recorder := &memoryRecorder{}
	engine := NewEngine(tasks, BuiltIn(tasks, defaultRulesConfig()), WithRecorder(recorder))

	outcome := engine.Dispatch(context.Background(), completionEvent("task-1"))

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("expected failed, got %+v", outcome)
	}
	if !core.HasTextCode(outcome.Err, core.ErrorRuleFailed) {
		t.Fatalf("expected rule failure code, got %v", outcome.Err)
	}
	if len(recorder.outcomes) != 1 || recorder.outcomes[0].Result != core.ActionResultFailed {
		t.Fatalf("expected one failed outcome, got %+v", recorder.outcomes)
	}
}

func TestDispatchNoMatch(t *testing.T) {
	tasks := &stubTaskService{}
	engine := NewEngine(tasks, BuiltIn(tasks, defaultRulesConfig()))

	event, err := core.ParseEvent([]byte(`{"event_name":"item:added","event_data":{"id":"t1"}}`), "d-2")
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}

	if outcome := engine.Dispatch(context.Background(), event); outcome.Kind != OutcomeNoMatch {
		t.Fatalf("expected no match, got %+v", outcome)
	}
	if len(tasks.deletedComments)+len(tasks.deletedTasks) != 0 {
		t.Fatal("no-match dispatch must not mutate anything")
	}
}

func TestFirstMatchWinsAcrossRules(t *testing.T) {
	tasks := &stubTaskService{
		task:     recurringTask("task-1"),
		comments: []core.Comment{{ID: "c1", Content: "log"}},
		projectTasks: []core.Task{
			{ID: "sub-1", ParentID: "task-1"},
		},
	}
	cfg := defaultRulesConfig()
	cfg.RecurringPurgeSubtasks = true
	engine := NewEngine(tasks, BuiltIn(tasks, cfg))

	outcome := engine.Dispatch(context.Background(), completionEvent("task-1"))

	if outcome.RuleID != "recurring_clear_comments" {
		t.Fatalf("expected first registered rule to run, got %q", outcome.RuleID)
	}
	if len(tasks.deletedTasks) != 0 {
		t.Fatalf("second rule ran after a match: %v", tasks.deletedTasks)
	}
}

func TestPurgeSubtasksDeletesChildrenBeforeParents(t *testing.T) {
	tasks := &stubTaskService{
		task: recurringTask("task-1"),
		projectTasks: []core.Task{
			{ID: "sub-1", ParentID: "task-1"},
			{ID: "sub-1-1", ParentID: "sub-1"},
			{ID: "sub-2", ParentID: "task-1"},
			{ID: "other", ParentID: "elsewhere"},
		},
	}
	cfg := defaultRulesConfig()
	cfg.RecurringClearComments = false
	cfg.RecurringPurgeSubtasks = true
	engine := NewEngine(tasks, BuiltIn(tasks, cfg))

	outcome := engine.Dispatch(context.Background(), completionEvent("task-1"))

	if outcome.Kind != OutcomeApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	want := []string{"sub-1-1", "sub-1", "sub-2"}
	if len(tasks.deletedTasks) != len(want) {
		t.Fatalf("expected %v, got %v", want, tasks.deletedTasks)
	}
	for i, id := range want {
		if tasks.deletedTasks[i] != id {
			t.Fatalf("expected delete order %v, got %v", want, tasks.deletedTasks)
		}
	}
}

func TestCompletionIntentUpdateMatches(t *testing.T) {
	tasks := &stubTaskService{task: recurringTask("task-1")}
	rule := NewRecurringClearComments(tasks, defaultRulesConfig())

	event, err := core.ParseEvent([]byte(
		`{"event_name":"item:updated","event_data":{"id":"task-1","project_id":"proj-1"},"event_data_extra":{"update_intent":"item_completed"}}`,
	), "d-3")
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if !rule.Matches(event) {
		t.Fatal("expected completion-intent update to match")
	}
}
