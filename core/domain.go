package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntryStatus is the processing state of a ledger entry. Transitions are
// monotonic: once an entry reaches a terminal status it never regresses to an
// earlier one.
type EntryStatus string

const (
	EntryStatusReceived EntryStatus = "received"
	EntryStatusAccepted EntryStatus = "accepted"
	EntryStatusRejected EntryStatus = "rejected"
	EntryStatusSkipped  EntryStatus = "skipped"
	EntryStatusErrored  EntryStatus = "errored"
	EntryStatusApplied  EntryStatus = "applied"
)

var entryStatusRank = map[EntryStatus]int{
	EntryStatusReceived: 0,
	EntryStatusAccepted: 1,
	EntryStatusRejected: 2,
	EntryStatusSkipped:  2,
	EntryStatusErrored:  2,
	EntryStatusApplied:  2,
}

func (s EntryStatus) Valid() bool {
	_, ok := entryStatusRank[s]
	return ok
}

// Terminal reports whether no further transition is expected for the status.
func (s EntryStatus) Terminal() bool {
	switch s {
	case EntryStatusRejected, EntryStatusSkipped, EntryStatusErrored, EntryStatusApplied:
		return true
	}
	return false
}

// CanTransitionTo enforces monotonic progression. Re-asserting the current
// status is allowed so redelivery bookkeeping stays idempotent.
func (s EntryStatus) CanTransitionTo(next EntryStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	return entryStatusRank[next] > entryStatusRank[s]
}

// LedgerEntry is the durable audit row for one delivery identifier.
type LedgerEntry struct {
	DeliveryID    string
	EventName     string
	UserID        string
	ProjectID     string
	TaskID        string
	TriggeredAt   string
	SignatureOK   bool
	PayloadSHA256 string
	Status        EntryStatus
	RuleID        string
	ErrorDetail   string
	Summary       map[string]any
	Attempts      int
	ReceivedAt    time.Time
	UpdatedAt     time.Time
}

// LedgerSeed is the first-sight snapshot inserted by RecordReceived.
type LedgerSeed struct {
	DeliveryID    string
	EventName     string
	UserID        string
	ProjectID     string
	TaskID        string
	TriggeredAt   string
	SignatureOK   bool
	PayloadSHA256 string
	Payload       []byte
}

// StatusTransition carries one ledger status update.
type StatusTransition struct {
	Status      EntryStatus
	RuleID      string
	ErrorDetail string
	Summary     map[string]any
}

// LedgerFilter narrows audit queries. Zero values match everything.
type LedgerFilter struct {
	Status    EntryStatus
	EventName string
	UserID    string
	ProjectID string
	Page      int
	PerPage   int
}

type LedgerPage struct {
	Items   []LedgerEntry
	Page    int
	PerPage int
	Total   int
	HasNext bool
}

// ActionOutcome records one remote mutation (or its dry-run simulation)
// performed while applying a rule. Unique per (delivery, action, target) so
// replays upsert instead of duplicating.
type ActionOutcome struct {
	DeliveryID string
	RuleID     string
	ActionType string
	TargetType string
	TargetID   string
	Result     string
	Metadata   map[string]any
	CreatedAt  time.Time
}

const (
	ActionResultSuccess = "success"
	ActionResultSkipped = "skipped"
	ActionResultFailed  = "failed"
)

// InboundEvent is the normalized view of one webhook delivery. Immutable once
// parsed.
type InboundEvent struct {
	DeliveryID    string
	EventName     string
	UserID        string
	ProjectID     string
	TaskID        string
	TriggeredAt   string
	UpdateIntent  string
	ReminderID    string
	PayloadSHA256 string
	Raw           []byte
	Body          map[string]any
}

// ParseEvent decodes a raw Todoist webhook payload into an InboundEvent. The
// raw bytes are retained untouched; signature verification always runs against
// the original body, never a re-serialization.
func ParseEvent(raw []byte, deliveryID string) (InboundEvent, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return InboundEvent{}, BadInput("core: delivery id is required", nil)
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return InboundEvent{}, BadInput(fmt.Sprintf("core: decode event payload: %v", err), map[string]any{
			"delivery_id": deliveryID,
		})
	}

	eventName := stringField(body, "event_name")
	if eventName == "" {
		eventName = stringField(body, "eventName")
	}
	if eventName == "" {
		return InboundEvent{}, BadInput("core: event name is required", map[string]any{
			"delivery_id": deliveryID,
		})
	}

	eventData, _ := body["event_data"].(map[string]any)
	eventExtra, _ := body["event_data_extra"].(map[string]any)

	var taskID string
	var reminderID string
	if eventName == "reminder:fired" {
		taskID = firstStringField(eventData, "item_id", "id")
		reminderID = stringField(eventData, "id")
	} else {
		taskID = firstStringField(eventData, "id", "item_id")
	}

	digest := sha256.Sum256(raw)

	return InboundEvent{
		DeliveryID:    deliveryID,
		EventName:     eventName,
		UserID:        stringField(body, "user_id"),
		ProjectID:     stringField(eventData, "project_id"),
		TaskID:        taskID,
		TriggeredAt:   stringField(body, "triggered_at"),
		UpdateIntent:  stringField(eventExtra, "update_intent"),
		ReminderID:    reminderID,
		PayloadSHA256: hex.EncodeToString(digest[:]),
		Raw:           append([]byte(nil), raw...),
		Body:          body,
	}, nil
}

// Completion reports whether the event signals a task completion, either
// directly or through an update carrying a completion intent.
func (e InboundEvent) Completion() bool {
	if e.EventName == "item:completed" {
		return true
	}
	return e.EventName == "item:updated" && e.UpdateIntent == "item_completed"
}

// Seed builds the ledger insert snapshot for the event.
func (e InboundEvent) Seed(signatureOK bool) LedgerSeed {
	return LedgerSeed{
		DeliveryID:    e.DeliveryID,
		EventName:     e.EventName,
		UserID:        e.UserID,
		ProjectID:     e.ProjectID,
		TaskID:        e.TaskID,
		TriggeredAt:   e.TriggeredAt,
		SignatureOK:   signatureOK,
		PayloadSHA256: e.PayloadSHA256,
		Payload:       e.Raw,
	}
}

func stringField(body map[string]any, key string) string {
	if body == nil {
		return ""
	}
	value, ok := body[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}
		return fmt.Sprint(typed)
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

func firstStringField(body map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := stringField(body, key); value != "" {
			return value
		}
	}
	return ""
}
