package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type ledgerEntryRecord struct {
	bun.BaseModel `bun:"table:event_receipts,alias:er"`

	ID            string         `bun:"id,pk"`
	DeliveryID    string         `bun:"delivery_id,notnull,unique"`
	EventName     string         `bun:"event_name,notnull"`
	UserID        string         `bun:"user_id"`
	ProjectID     string         `bun:"project_id"`
	TaskID        string         `bun:"task_id"`
	TriggeredAt   string         `bun:"triggered_at"`
	SignatureOK   bool           `bun:"signature_ok,notnull"`
	PayloadSHA256 string         `bun:"payload_sha256,notnull"`
	Payload       []byte         `bun:"payload"`
	Status        string         `bun:"status,notnull"`
	RuleID        string         `bun:"rule_id"`
	ErrorDetail   string         `bun:"error_detail"`
	Summary       map[string]any `bun:"summary,type:jsonb,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	ReceivedAt    time.Time      `bun:"received_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type actionOutcomeRecord struct {
	bun.BaseModel `bun:"table:action_outcomes,alias:ao"`

	ID         string         `bun:"id,pk"`
	DeliveryID string         `bun:"delivery_id,notnull"`
	RuleID     string         `bun:"rule_id,notnull"`
	ActionType string         `bun:"action_type,notnull"`
	TargetType string         `bun:"target_type,notnull"`
	TargetID   string         `bun:"target_id,notnull"`
	Result     string         `bun:"result,notnull"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
