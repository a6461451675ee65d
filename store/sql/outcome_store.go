package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-taskhooks/core"
)

// ActionOutcomeStore records per-target mutation outcomes. Rows are unique on
// (delivery_id, action_type, target_id) so a replayed delivery upserts the
// prior row instead of duplicating the audit trail.
type ActionOutcomeStore struct {
	db   *bun.DB
	repo repository.Repository[*actionOutcomeRecord]
}

func NewActionOutcomeStore(db *bun.DB) (*ActionOutcomeStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*actionOutcomeRecord](db, outcomeHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid action outcome repository wiring: %w", err)
		}
	}
	return &ActionOutcomeStore{db: db, repo: repo}, nil
}

func (s *ActionOutcomeStore) Record(ctx context.Context, outcome core.ActionOutcome) error {
	if s == nil || s.db == nil {
		return core.LedgerUnavailable(nil, "sqlstore: action outcome store is not configured")
	}
	deliveryID := strings.TrimSpace(outcome.DeliveryID)
	actionType := strings.TrimSpace(outcome.ActionType)
	targetID := strings.TrimSpace(outcome.TargetID)
	if deliveryID == "" || actionType == "" || targetID == "" {
		return core.BadInput("sqlstore: delivery id, action type, and target id are required", nil)
	}

	now := time.Now().UTC()
	record := &actionOutcomeRecord{
		ID:         uuid.NewString(),
		DeliveryID: deliveryID,
		RuleID:     strings.TrimSpace(outcome.RuleID),
		ActionType: actionType,
		TargetType: strings.TrimSpace(outcome.TargetType),
		TargetID:   targetID,
		Result:     strings.TrimSpace(outcome.Result),
		Metadata:   copyAnyMap(outcome.Metadata),
		CreatedAt:  now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			_, updateErr := s.db.NewUpdate().
				Model((*actionOutcomeRecord)(nil)).
				Set("result = ?", record.Result).
				Set("metadata = ?", record.Metadata).
				Where("delivery_id = ?", deliveryID).
				Where("action_type = ?", actionType).
				Where("target_id = ?", targetID).
				Exec(ctx)
			if updateErr != nil {
				return core.LedgerUnavailable(updateErr, "sqlstore: upsert action outcome")
			}
			return nil
		}
		return core.LedgerUnavailable(err, "sqlstore: record action outcome")
	}
	return nil
}

func (s *ActionOutcomeStore) ListByDelivery(ctx context.Context, deliveryID string) ([]core.ActionOutcome, error) {
	if s == nil || s.db == nil {
		return nil, core.LedgerUnavailable(nil, "sqlstore: action outcome store is not configured")
	}
	var records []*actionOutcomeRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.delivery_id = ?", strings.TrimSpace(deliveryID)).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, core.LedgerUnavailable(err, "sqlstore: list action outcomes")
	}
	outcomes := make([]core.ActionOutcome, 0, len(records))
	for _, record := range records {
		outcomes = append(outcomes, core.ActionOutcome{
			DeliveryID: record.DeliveryID,
			RuleID:     record.RuleID,
			ActionType: record.ActionType,
			TargetType: record.TargetType,
			TargetID:   record.TargetID,
			Result:     record.Result,
			Metadata:   copyAnyMap(record.Metadata),
			CreatedAt:  record.CreatedAt,
		})
	}
	return outcomes, nil
}

var _ core.ActionRecorder = (*ActionOutcomeStore)(nil)
