package rules

import (
	"context"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-taskhooks/core"
)

// Action is one remote mutation a rule plan wants performed.
type Action struct {
	Type       string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

const (
	ActionDeleteComment = "delete_comment"
	ActionDeleteTask    = "delete_task"

	TargetComment = "comment"
	TargetTask    = "task"
)

// Plan is the output of a rule's planning phase. An empty action list is a
// valid plan: the rule matched but there is nothing to change.
type Plan struct {
	Actions []Action
	Summary map[string]any
	Partial bool
}

// Rule pairs a pure predicate with a planning phase. Plans never execute
// anything themselves; the engine owns execution so dry-run suppression and
// outcome recording happen in one place.
type Rule interface {
	ID() string
	Matches(event core.InboundEvent) bool
	Plan(ctx context.Context, event core.InboundEvent) (Plan, error)
}

type OutcomeKind string

const (
	OutcomeNoMatch OutcomeKind = "no_match"
	OutcomeApplied OutcomeKind = "applied"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the engine's verdict for one event.
type Outcome struct {
	Kind      OutcomeKind
	RuleID    string
	Summary   map[string]any
	Partial   bool
	Simulated bool
	Err       error
}

// Engine holds the ordered rule registry. Dispatch evaluates predicates in
// registration order and runs the first match only.
type Engine struct {
	rules    []Rule
	tasks    core.TaskService
	recorder core.ActionRecorder
	dryRun   bool
	logger   core.Logger
}

type EngineOption func(*Engine)

func WithDryRun(dryRun bool) EngineOption {
	return func(e *Engine) { e.dryRun = dryRun }
}

func WithRecorder(recorder core.ActionRecorder) EngineOption {
	return func(e *Engine) { e.recorder = recorder }
}

func WithLogger(logger core.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(tasks core.TaskService, rules []Rule, opts ...EngineOption) *Engine {
	engine := &Engine{
		rules:  append([]Rule(nil), rules...),
		tasks:  tasks,
		logger: glog.Nop(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Dispatch runs the first matching rule. Rule errors are folded into the
// outcome, never returned, so callers decide how a failure affects the ledger.
func (e *Engine) Dispatch(ctx context.Context, event core.InboundEvent) Outcome {
	for _, rule := range e.rules {
		if rule == nil || !rule.Matches(event) {
			continue
		}
		return e.run(ctx, rule, event)
	}
	return Outcome{Kind: OutcomeNoMatch}
}

func (e *Engine) run(ctx context.Context, rule Rule, event core.InboundEvent) Outcome {
	ruleID := rule.ID()

	plan, err := rule.Plan(ctx, event)
	if err != nil {
		e.logger.Error("rule planning failed", "rule", ruleID, "delivery_id", event.DeliveryID, "error", err)
		return Outcome{Kind: OutcomeFailed, RuleID: ruleID, Err: core.RuleFailed(err, ruleID)}
	}

	summary := plan.Summary
	if summary == nil {
		summary = map[string]any{}
	}

	executed := 0
	for _, action := range plan.Actions {
		if err := e.execute(ctx, event, ruleID, action); err != nil {
			e.logger.Error("rule action failed",
				"rule", ruleID,
				"delivery_id", event.DeliveryID,
				"action", action.Type,
				"target_id", action.TargetID,
				"error", err,
			)
			summary["executed_actions"] = executed
			return Outcome{
				Kind:    OutcomeFailed,
				RuleID:  ruleID,
				Summary: summary,
				Err:     core.RuleFailed(err, ruleID),
			}
		}
		executed++
	}

	summary["executed_actions"] = executed
	if e.dryRun {
		summary["dry_run"] = true
	}
	return Outcome{
		Kind:      OutcomeApplied,
		RuleID:    ruleID,
		Summary:   summary,
		Partial:   plan.Partial,
		Simulated: e.dryRun,
	}
}

func (e *Engine) execute(ctx context.Context, event core.InboundEvent, ruleID string, action Action) error {
	if e.dryRun {
		e.record(ctx, event, ruleID, action, core.ActionResultSkipped, map[string]any{"reason": "dry_run"})
		return nil
	}

	var err error
	switch action.Type {
	case ActionDeleteComment:
		err = e.tasks.DeleteComment(ctx, action.TargetID)
	case ActionDeleteTask:
		err = e.tasks.DeleteTask(ctx, action.TargetID)
	default:
		err = fmt.Errorf("rules: unknown action type %q", action.Type)
	}

	if err != nil {
		e.record(ctx, event, ruleID, action, core.ActionResultFailed, map[string]any{"error": err.Error()})
		return err
	}
	e.record(ctx, event, ruleID, action, core.ActionResultSuccess, nil)
	return nil
}

func (e *Engine) record(ctx context.Context, event core.InboundEvent, ruleID string, action Action, result string, metadata map[string]any) {
	if e.recorder == nil {
		return
	}
	merged := map[string]any{}
	for key, value := range action.Metadata {
		merged[key] = value
	}
	for key, value := range metadata {
		merged[key] = value
	}
	outcome := core.ActionOutcome{
		DeliveryID: event.DeliveryID,
		RuleID:     ruleID,
		ActionType: action.Type,
		TargetType: action.TargetType,
		TargetID:   action.TargetID,
		Result:     result,
		Metadata:   merged,
	}
	if err := e.recorder.Record(ctx, outcome); err != nil {
		// The mutation already happened; losing one audit row is preferable to
		// failing the rule and triggering a re-run of remote deletes.
		e.logger.Error("record action outcome failed",
			"delivery_id", event.DeliveryID,
			"rule", ruleID,
			"target_id", action.TargetID,
			"error", err,
		)
	}
}
