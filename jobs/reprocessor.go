package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-taskhooks/core"
	"github.com/goliatone/go-taskhooks/ingest"
)

const JobIDReprocessDelivery = "taskhooks.delivery.reprocess"

const dedupPolicyDrop = "drop"

// StaleLister exposes the ledger scan the reprocessor runs on. A crash between
// the ledger insert and rule completion leaves an entry parked in a
// non-terminal status; those are the rows this package drains.
type StaleLister interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]core.LedgerEntry, error)
}

// Reprocessor re-drives one delivery from its stored payload.
type Reprocessor interface {
	Reprocess(ctx context.Context, deliveryID string) (ingest.Result, error)
}

// Scanner periodically enqueues reprocess jobs for stale ledger entries. The
// idempotency key is the delivery identifier, so a scan racing an earlier
// enqueue of the same delivery collapses into one job.
type Scanner struct {
	ledger   StaleLister
	enqueuer queue.Enqueuer
	cfg      core.JobsConfig
	logger   core.Logger
}

func NewScanner(ledger StaleLister, enqueuer queue.Enqueuer, cfg core.JobsConfig, logger core.Logger) (*Scanner, error) {
	if ledger == nil {
		return nil, fmt.Errorf("jobs: stale lister is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("jobs: enqueuer is required")
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &Scanner{ledger: ledger, enqueuer: enqueuer, cfg: cfg, logger: logger}, nil
}

// Run scans on the configured interval until the context ends.
func (s *Scanner) Run(ctx context.Context) error {
	interval := s.cfg.ScanInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("stale delivery scan failed", "error", err)
			}
		}
	}
}

// Scan enqueues one reprocess job per stale entry and returns how many were
// queued.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	reprocessAfter := s.cfg.ReprocessAfter
	if reprocessAfter <= 0 {
		reprocessAfter = 5 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-reprocessAfter)

	entries, err := s.ledger.ListStale(ctx, cutoff, 50)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, entry := range entries {
		msg := &job.ExecutionMessage{
			JobID:          JobIDReprocessDelivery,
			Parameters:     map[string]any{"delivery_id": entry.DeliveryID},
			IdempotencyKey: entry.DeliveryID,
			DedupPolicy:    job.DeduplicationPolicy(dedupPolicyDrop),
		}
		if _, err := s.enqueuer.Enqueue(ctx, msg); err != nil {
			s.logger.Error("enqueue reprocess job failed", "delivery_id", entry.DeliveryID, "error", err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.Info("queued stale deliveries for reprocessing", "count", enqueued)
	}
	return enqueued, nil
}

// Worker drains the reprocess queue. Any settled outcome acks the job; only a
// ledger outage keeps the job alive for another attempt.
type Worker struct {
	dequeuer    queue.Dequeuer
	reprocessor Reprocessor
	cfg         core.JobsConfig
	logger      core.Logger
}

func NewWorker(dequeuer queue.Dequeuer, reprocessor Reprocessor, cfg core.JobsConfig, logger core.Logger) (*Worker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("jobs: dequeuer is required")
	}
	if reprocessor == nil {
		return nil, fmt.Errorf("jobs: reprocessor is required")
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &Worker{dequeuer: dequeuer, reprocessor: reprocessor, cfg: cfg, logger: logger}, nil
}

// Run consumes deliveries until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delivery, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.Error("dequeue failed", "error", err)
			continue
		}
		w.handle(ctx, delivery)
	}
}

func (w *Worker) handle(ctx context.Context, delivery queue.Delivery) {
	msg := delivery.Message()
	if msg == nil || msg.JobID != JobIDReprocessDelivery {
		_ = delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: "unexpected job"})
		return
	}
	deliveryID := parameterString(msg.Parameters, "delivery_id")
	if deliveryID == "" {
		_ = delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: "missing delivery_id"})
		return
	}
	attempt := parameterInt(msg.Parameters, "attempt", 1)

	result, err := w.reprocessor.Reprocess(ctx, deliveryID)
	switch {
	case err == nil:
		w.logger.Info("reprocessed delivery",
			"delivery_id", deliveryID,
			"status", string(result.Entry.Status),
			"duplicate", result.Duplicate,
		)
		_ = delivery.Ack(ctx)
	case core.IsLedgerUnavailable(err):
		if w.cfg.MaxAttempts > 0 && attempt >= w.cfg.MaxAttempts {
			w.logger.Warn("reprocess abandoned", "delivery_id", deliveryID, "attempt", attempt, "error", err)
			_ = delivery.Nack(ctx, queue.NackOptions{
				Disposition: queue.NackDispositionDeadLetter,
				Reason:      "max attempts exceeded",
			})
			return
		}
		// The attempt counter rides on the message so it survives the requeue.
		if msg.Parameters == nil {
			msg.Parameters = map[string]any{}
		}
		msg.Parameters["attempt"] = attempt + 1
		w.logger.Warn("reprocess deferred", "delivery_id", deliveryID, "attempt", attempt, "error", err)
		_ = delivery.Nack(ctx, queue.NackOptions{
			Disposition: queue.NackDispositionRetry,
			Delay:       time.Minute,
			Reason:      "ledger unavailable",
		})
	default:
		// The orchestrator settled the entry (rejected, unknown, or similar).
		// Retrying cannot change the result.
		w.logger.Error("reprocess settled with error", "delivery_id", deliveryID, "error", err)
		_ = delivery.Ack(ctx)
	}
}

func parameterString(parameters map[string]any, key string) string {
	if len(parameters) == 0 {
		return ""
	}
	value, ok := parameters[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func parameterInt(parameters map[string]any, key string, fallback int) int {
	raw := parameterString(parameters, key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
