package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

// Logger and LoggerProvider re-export the go-logger contracts so downstream
// packages depend on core instead of the logging module directly.
type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// InboundRequest is the transport-agnostic view of one webhook HTTP request.
// Body carries the exact raw bytes as received.
type InboundRequest struct {
	Headers map[string]string
	Body    []byte
}

// Verifier authenticates an inbound request. Implementations fail closed: any
// missing header, missing secret, or comparison error is a verification
// failure, never a pass.
type Verifier interface {
	Verify(ctx context.Context, req InboundRequest) error
}

// Ledger is the idempotency and audit store. RecordReceived is the single
// synchronization primitive of the pipeline: it must be atomic under
// concurrent calls with the same delivery identifier.
type Ledger interface {
	// RecordReceived inserts a new entry with status received if the delivery
	// identifier is unseen, returning isNew=true. If the identifier exists the
	// stored entry is returned unmutated apart from attempt bookkeeping.
	RecordReceived(ctx context.Context, seed LedgerSeed) (entry LedgerEntry, isNew bool, err error)
	// UpdateStatus applies a monotonic status transition. UnknownDelivery if
	// no entry exists.
	UpdateStatus(ctx context.Context, deliveryID string, transition StatusTransition) (LedgerEntry, error)
	Get(ctx context.Context, deliveryID string) (LedgerEntry, error)
	// List returns entries ordered by received timestamp descending.
	List(ctx context.Context, filter LedgerFilter) (LedgerPage, error)
	// Payload returns the stored raw body for a delivery, for reprocessing.
	Payload(ctx context.Context, deliveryID string) ([]byte, error)
}

// ActionRecorder persists per-target mutation outcomes for the audit trail.
type ActionRecorder interface {
	Record(ctx context.Context, outcome ActionOutcome) error
	ListByDelivery(ctx context.Context, deliveryID string) ([]ActionOutcome, error)
}

// Task is the remote task snapshot the rules operate on.
type Task struct {
	ID        string
	Content   string
	ProjectID string
	ParentID  string
	Labels    []string
	Due       *TaskDue
	URL       string
}

// TaskDue mirrors the remote due object. IsRecurring plus a populated next
// date means the task is scheduled to recur again.
type TaskDue struct {
	Date        string
	Datetime    string
	Recurrence  string
	IsRecurring bool
}

// RecursAgain reports whether completing the task schedules a next occurrence.
func (d *TaskDue) RecursAgain() bool {
	if d == nil || !d.IsRecurring {
		return false
	}
	return d.Date != "" || d.Datetime != ""
}

type Comment struct {
	ID       string
	TaskID   string
	Content  string
	PostedAt string
}

// TaskService is the remote task-management collaborator. All mutating calls
// go through this interface so dry-run can suppress them uniformly.
type TaskService interface {
	GetTask(ctx context.Context, taskID string) (Task, error)
	ListComments(ctx context.Context, taskID string) ([]Comment, error)
	DeleteComment(ctx context.Context, commentID string) error
	ListProjectTasks(ctx context.Context, projectID string) ([]Task, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// MetricsRecorder receives pipeline counters and timings.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}
