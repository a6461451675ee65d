package ingest

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-taskhooks/core"
	"github.com/goliatone/go-taskhooks/policy"
	"github.com/goliatone/go-taskhooks/rules"
	"github.com/goliatone/go-taskhooks/webhooks"
)

// Result is the application-level outcome of one inbound delivery. Duplicate
// means the ledger had already seen the delivery identifier and the stored
// entry was returned without re-running any rule.
type Result struct {
	Entry     core.LedgerEntry
	Duplicate bool
	Simulated bool
}

// Orchestrator drives one delivery through the pipeline: verify, parse,
// record, filter, dispatch, settle. The ledger insert is the only
// synchronization point; everything after it operates on an entry this
// process owns.
type Orchestrator struct {
	verifier core.Verifier
	ledger   core.Ledger
	filter   *policy.Filter
	engine   *rules.Engine
	logger   core.Logger
	metrics  core.MetricsRecorder
}

type Option func(*Orchestrator)

func WithLogger(logger core.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

func NewOrchestrator(
	verifier core.Verifier,
	ledger core.Ledger,
	filter *policy.Filter,
	engine *rules.Engine,
	opts ...Option,
) *Orchestrator {
	orchestrator := &Orchestrator{
		verifier: verifier,
		ledger:   ledger,
		filter:   filter,
		engine:   engine,
		logger:   glog.Nop(),
		metrics:  core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(orchestrator)
	}
	return orchestrator
}

// Process handles one inbound request end to end. A returned error means the
// sender should not treat the delivery as settled: signature failures, missing
// delivery identifiers, malformed payloads, and ledger outages. Every other
// outcome, including policy denials and rule failures, settles the delivery
// and is reported through the Result only.
func (o *Orchestrator) Process(ctx context.Context, req core.InboundRequest) (Result, error) {
	start := time.Now()

	if err := o.verifier.Verify(ctx, req); err != nil {
		o.count(ctx, "taskhooks.ingest.signature_rejected", nil)
		o.logger.Warn("signature verification failed", "error", err)
		return Result{}, err
	}

	deliveryID, err := webhooks.ExtractDeliveryID(req)
	if err != nil {
		o.count(ctx, "taskhooks.ingest.missing_delivery_id", nil)
		return Result{}, err
	}

	event, parseErr := core.ParseEvent(req.Body, deliveryID)
	if parseErr != nil {
		return o.rejectUnparseable(ctx, deliveryID, req.Body, parseErr)
	}

	entry, isNew, err := o.ledger.RecordReceived(ctx, event.Seed(true))
	if err != nil {
		return Result{}, err
	}
	if !isNew {
		o.count(ctx, "taskhooks.ingest.duplicate", map[string]string{"event": event.EventName})
		o.logger.Info("duplicate delivery",
			"delivery_id", deliveryID,
			"status", string(entry.Status),
			"attempts", entry.Attempts,
		)
		return Result{Entry: entry, Duplicate: true}, nil
	}

	result, err := o.settle(ctx, event)
	o.observe(ctx, "taskhooks.ingest.duration_ms", float64(time.Since(start).Milliseconds()), map[string]string{
		"event": event.EventName,
	})
	return result, err
}

// Reprocess re-drives a non-terminal entry from its stored payload. Terminal
// entries return as-is; the stored payload replays through the same policy and
// rule path as a live delivery.
func (o *Orchestrator) Reprocess(ctx context.Context, deliveryID string) (Result, error) {
	entry, err := o.ledger.Get(ctx, deliveryID)
	if err != nil {
		return Result{}, err
	}
	if entry.Status.Terminal() {
		return Result{Entry: entry, Duplicate: true}, nil
	}

	payload, err := o.ledger.Payload(ctx, deliveryID)
	if err != nil {
		return Result{}, err
	}
	event, parseErr := core.ParseEvent(payload, deliveryID)
	if parseErr != nil {
		entry, updateErr := o.transition(ctx, deliveryID, core.StatusTransition{
			Status:      core.EntryStatusRejected,
			ErrorDetail: parseErr.Error(),
		})
		if updateErr != nil {
			return Result{}, updateErr
		}
		return Result{Entry: entry}, nil
	}

	o.count(ctx, "taskhooks.ingest.reprocessed", map[string]string{"event": event.EventName})
	return o.settle(ctx, event)
}

// settle runs policy and rule dispatch for an entry this call owns, then
// writes the terminal status.
func (o *Orchestrator) settle(ctx context.Context, event core.InboundEvent) (Result, error) {
	decision := o.filter.Evaluate(event)
	if !decision.Allow {
		o.count(ctx, "taskhooks.ingest.policy_denied", map[string]string{"reason": decision.Reason})
		o.logger.Info("policy denied delivery",
			"delivery_id", event.DeliveryID,
			"event", event.EventName,
			"reason", decision.Reason,
		)
		entry, err := o.transition(ctx, event.DeliveryID, core.StatusTransition{
			Status:  core.EntryStatusSkipped,
			Summary: map[string]any{"reason": decision.Reason},
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Entry: entry}, nil
	}

	if _, err := o.transition(ctx, event.DeliveryID, core.StatusTransition{
		Status: core.EntryStatusAccepted,
	}); err != nil {
		return Result{}, err
	}

	outcome := o.engine.Dispatch(ctx, event)
	switch outcome.Kind {
	case rules.OutcomeApplied:
		o.count(ctx, "taskhooks.ingest.applied", map[string]string{"rule": outcome.RuleID})
		entry, err := o.transition(ctx, event.DeliveryID, core.StatusTransition{
			Status:  core.EntryStatusApplied,
			RuleID:  outcome.RuleID,
			Summary: outcome.Summary,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Entry: entry, Simulated: outcome.Simulated}, nil

	case rules.OutcomeFailed:
		o.count(ctx, "taskhooks.ingest.errored", map[string]string{"rule": outcome.RuleID})
		o.logger.Error("rule dispatch failed",
			"delivery_id", event.DeliveryID,
			"rule", outcome.RuleID,
			"error", outcome.Err,
		)
		entry, err := o.transition(ctx, event.DeliveryID, core.StatusTransition{
			Status:      core.EntryStatusErrored,
			RuleID:      outcome.RuleID,
			ErrorDetail: errorDetail(outcome.Err),
			Summary:     outcome.Summary,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Entry: entry}, nil

	default:
		o.count(ctx, "taskhooks.ingest.skipped", map[string]string{"reason": "no_rule_matched"})
		entry, err := o.transition(ctx, event.DeliveryID, core.StatusTransition{
			Status:  core.EntryStatusSkipped,
			Summary: map[string]any{"reason": "no_rule_matched"},
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Entry: entry}, nil
	}
}

// rejectUnparseable records the malformed delivery so redeliveries of the same
// broken payload short-circuit, then surfaces the original parse error.
func (o *Orchestrator) rejectUnparseable(
	ctx context.Context,
	deliveryID string,
	raw []byte,
	parseErr error,
) (Result, error) {
	o.count(ctx, "taskhooks.ingest.rejected", nil)
	seed := core.LedgerSeed{
		DeliveryID:  deliveryID,
		SignatureOK: true,
		Payload:     raw,
	}
	entry, isNew, err := o.ledger.RecordReceived(ctx, seed)
	if err != nil {
		return Result{}, err
	}
	if isNew {
		entry, err = o.transition(ctx, deliveryID, core.StatusTransition{
			Status:      core.EntryStatusRejected,
			ErrorDetail: parseErr.Error(),
		})
		if err != nil {
			return Result{}, err
		}
	}
	return Result{Entry: entry, Duplicate: !isNew}, parseErr
}

func (o *Orchestrator) transition(
	ctx context.Context,
	deliveryID string,
	transition core.StatusTransition,
) (core.LedgerEntry, error) {
	entry, err := o.ledger.UpdateStatus(ctx, deliveryID, transition)
	if err != nil {
		if core.IsLedgerUnavailable(err) {
			return core.LedgerEntry{}, err
		}
		o.logger.Error("ledger status transition refused",
			"delivery_id", deliveryID,
			"status", string(transition.Status),
			"error", err,
		)
		return o.ledger.Get(ctx, deliveryID)
	}
	return entry, nil
}

func (o *Orchestrator) count(ctx context.Context, name string, tags map[string]string) {
	o.metrics.IncCounter(ctx, name, 1, tags)
}

func (o *Orchestrator) observe(ctx context.Context, name string, value float64, tags map[string]string) {
	o.metrics.ObserveHistogram(ctx, name, value, tags)
}

func errorDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
