package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-taskhooks/core"
)

// LedgerStore is the durable delivery ledger. The RecordReceived insert is the
// pipeline's only synchronization primitive: the unique delivery_id constraint
// decides which of N concurrent identical requests owns processing.
type LedgerStore struct {
	db   *bun.DB
	repo repository.Repository[*ledgerEntryRecord]
}

func NewLedgerStore(db *bun.DB) (*LedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*ledgerEntryRecord](db, ledgerHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid ledger repository wiring: %w", err)
		}
	}
	return &LedgerStore{db: db, repo: repo}, nil
}

func (s *LedgerStore) RecordReceived(ctx context.Context, seed core.LedgerSeed) (core.LedgerEntry, bool, error) {
	if s == nil || s.db == nil {
		return core.LedgerEntry{}, false, core.LedgerUnavailable(nil, "sqlstore: ledger store is not configured")
	}
	deliveryID := strings.TrimSpace(seed.DeliveryID)
	if deliveryID == "" {
		return core.LedgerEntry{}, false, core.BadInput("sqlstore: delivery id is required", nil)
	}

	now := time.Now().UTC()
	record := &ledgerEntryRecord{
		ID:            uuid.NewString(),
		DeliveryID:    deliveryID,
		EventName:     strings.TrimSpace(seed.EventName),
		UserID:        strings.TrimSpace(seed.UserID),
		ProjectID:     strings.TrimSpace(seed.ProjectID),
		TaskID:        strings.TrimSpace(seed.TaskID),
		TriggeredAt:   strings.TrimSpace(seed.TriggeredAt),
		SignatureOK:   seed.SignatureOK,
		PayloadSHA256: strings.TrimSpace(seed.PayloadSHA256),
		Payload:       append([]byte(nil), seed.Payload...),
		Status:        string(core.EntryStatusReceived),
		Summary:       map[string]any{},
		Attempts:      1,
		ReceivedAt:    now,
		UpdatedAt:     now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.bumpAttempts(ctx, deliveryID)
			if getErr != nil {
				return core.LedgerEntry{}, false, getErr
			}
			return existing, false, nil
		}
		return core.LedgerEntry{}, false, core.LedgerUnavailable(err, "sqlstore: record delivery")
	}
	return ledgerRecordToDomain(record), true, nil
}

// bumpAttempts increments the attempt counter on a redelivery and returns the
// stored entry otherwise unmutated.
func (s *LedgerStore) bumpAttempts(ctx context.Context, deliveryID string) (core.LedgerEntry, error) {
	_, err := s.db.NewUpdate().
		Model((*ledgerEntryRecord)(nil)).
		Set("attempts = attempts + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("delivery_id = ?", deliveryID).
		Exec(ctx)
	if err != nil {
		return core.LedgerEntry{}, core.LedgerUnavailable(err, "sqlstore: bump delivery attempts")
	}
	return s.Get(ctx, deliveryID)
}

func (s *LedgerStore) UpdateStatus(
	ctx context.Context,
	deliveryID string,
	transition core.StatusTransition,
) (core.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return core.LedgerEntry{}, core.LedgerUnavailable(nil, "sqlstore: ledger store is not configured")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if !transition.Status.Valid() {
		return core.LedgerEntry{}, core.BadInput(
			fmt.Sprintf("sqlstore: invalid ledger status %q", transition.Status), nil,
		)
	}

	current, err := s.Get(ctx, deliveryID)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	if !current.Status.CanTransitionTo(transition.Status) {
		return core.LedgerEntry{}, core.BadInput(
			fmt.Sprintf("sqlstore: refusing status regression %s -> %s", current.Status, transition.Status),
			map[string]any{"delivery_id": deliveryID},
		)
	}

	summary := copyAnyMap(transition.Summary)
	res, err := s.db.NewUpdate().
		Model((*ledgerEntryRecord)(nil)).
		Set("status = ?", string(transition.Status)).
		Set("rule_id = ?", strings.TrimSpace(transition.RuleID)).
		Set("error_detail = ?", strings.TrimSpace(transition.ErrorDetail)).
		Set("summary = ?", summary).
		Set("updated_at = ?", time.Now().UTC()).
		Where("delivery_id = ?", deliveryID).
		Where("status = ?", string(current.Status)).
		Exec(ctx)
	if err != nil {
		return core.LedgerEntry{}, core.LedgerUnavailable(err, "sqlstore: update ledger status")
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// A concurrent writer moved the entry first. The guard re-read decides
		// whether that writer landed on the same status we wanted.
		latest, getErr := s.Get(ctx, deliveryID)
		if getErr != nil {
			return core.LedgerEntry{}, getErr
		}
		if latest.Status == transition.Status {
			return latest, nil
		}
		return core.LedgerEntry{}, core.BadInput(
			fmt.Sprintf("sqlstore: lost status race, entry is now %s", latest.Status),
			map[string]any{"delivery_id": deliveryID},
		)
	}
	return s.Get(ctx, deliveryID)
}

func (s *LedgerStore) Get(ctx context.Context, deliveryID string) (core.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return core.LedgerEntry{}, core.LedgerUnavailable(nil, "sqlstore: ledger store is not configured")
	}
	record := &ledgerEntryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.delivery_id = ?", strings.TrimSpace(deliveryID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.LedgerEntry{}, core.UnknownDelivery(deliveryID)
		}
		return core.LedgerEntry{}, core.LedgerUnavailable(err, "sqlstore: load ledger entry")
	}
	return ledgerRecordToDomain(record), nil
}

func (s *LedgerStore) List(ctx context.Context, filter core.LedgerFilter) (core.LedgerPage, error) {
	if s == nil || s.repo == nil {
		return core.LedgerPage{}, core.LedgerUnavailable(nil, "sqlstore: ledger store is not configured")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 25
	}
	offset := (page - 1) * perPage

	selectors := []repository.SelectCriteria{
		repository.OrderBy("received_at DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", status))
	}
	if eventName := strings.TrimSpace(filter.EventName); eventName != "" {
		selectors = append(selectors, repository.SelectBy("event_name", "=", eventName))
	}
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		selectors = append(selectors, repository.SelectBy("user_id", "=", userID))
	}
	if projectID := strings.TrimSpace(filter.ProjectID); projectID != "" {
		selectors = append(selectors, repository.SelectBy("project_id", "=", projectID))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.LedgerPage{}, core.LedgerUnavailable(err, "sqlstore: list ledger entries")
	}
	items := make([]core.LedgerEntry, 0, len(records))
	for _, record := range records {
		items = append(items, ledgerRecordToDomain(record))
	}
	return core.LedgerPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: offset+len(items) < total,
	}, nil
}

func (s *LedgerStore) Payload(ctx context.Context, deliveryID string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, core.LedgerUnavailable(nil, "sqlstore: ledger store is not configured")
	}
	record := &ledgerEntryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Column("payload").
		Where("?TableAlias.delivery_id = ?", strings.TrimSpace(deliveryID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.UnknownDelivery(deliveryID)
		}
		return nil, core.LedgerUnavailable(err, "sqlstore: load delivery payload")
	}
	return append([]byte(nil), record.Payload...), nil
}

// ListStale returns non-terminal entries last touched before cutoff, oldest
// first, for the reprocessing scanner.
func (s *LedgerStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]core.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return nil, core.LedgerUnavailable(nil, "sqlstore: ledger store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	var records []*ledgerEntryRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status IN (?)", bun.In([]string{
			string(core.EntryStatusReceived),
			string(core.EntryStatusAccepted),
		})).
		Where("?TableAlias.updated_at < ?", cutoff.UTC()).
		OrderExpr("?TableAlias.updated_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, core.LedgerUnavailable(err, "sqlstore: list stale entries")
	}
	entries := make([]core.LedgerEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, ledgerRecordToDomain(record))
	}
	return entries, nil
}

func ledgerRecordToDomain(record *ledgerEntryRecord) core.LedgerEntry {
	if record == nil {
		return core.LedgerEntry{}
	}
	return core.LedgerEntry{
		DeliveryID:    record.DeliveryID,
		EventName:     record.EventName,
		UserID:        record.UserID,
		ProjectID:     record.ProjectID,
		TaskID:        record.TaskID,
		TriggeredAt:   record.TriggeredAt,
		SignatureOK:   record.SignatureOK,
		PayloadSHA256: record.PayloadSHA256,
		Status:        core.EntryStatus(record.Status),
		RuleID:        record.RuleID,
		ErrorDetail:   record.ErrorDetail,
		Summary:       copyAnyMap(record.Summary),
		Attempts:      record.Attempts,
		ReceivedAt:    record.ReceivedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ core.Ledger = (*LedgerStore)(nil)
