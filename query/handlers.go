package query

import (
	"context"

	"github.com/goliatone/go-taskhooks/core"
)

type LedgerReader interface {
	Get(ctx context.Context, deliveryID string) (core.LedgerEntry, error)
	List(ctx context.Context, filter core.LedgerFilter) (core.LedgerPage, error)
}

type OutcomeReader interface {
	ListByDelivery(ctx context.Context, deliveryID string) ([]core.ActionOutcome, error)
}

type ListLedgerEntriesQuery struct {
	reader LedgerReader
}

func NewListLedgerEntriesQuery(reader LedgerReader) *ListLedgerEntriesQuery {
	return &ListLedgerEntriesQuery{reader: reader}
}

func (q *ListLedgerEntriesQuery) Query(ctx context.Context, msg ListLedgerEntriesMessage) (core.LedgerPage, error) {
	if q == nil || q.reader == nil {
		return core.LedgerPage{}, queryDependencyError("query: ledger reader is required")
	}
	return q.reader.List(ctx, msg.Filter)
}

type GetLedgerEntryQuery struct {
	reader LedgerReader
}

func NewGetLedgerEntryQuery(reader LedgerReader) *GetLedgerEntryQuery {
	return &GetLedgerEntryQuery{reader: reader}
}

func (q *GetLedgerEntryQuery) Query(ctx context.Context, msg GetLedgerEntryMessage) (core.LedgerEntry, error) {
	if q == nil || q.reader == nil {
		return core.LedgerEntry{}, queryDependencyError("query: ledger reader is required")
	}
	return q.reader.Get(ctx, msg.DeliveryID)
}

type ListActionOutcomesQuery struct {
	reader OutcomeReader
}

func NewListActionOutcomesQuery(reader OutcomeReader) *ListActionOutcomesQuery {
	return &ListActionOutcomesQuery{reader: reader}
}

func (q *ListActionOutcomesQuery) Query(
	ctx context.Context,
	msg ListActionOutcomesMessage,
) ([]core.ActionOutcome, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: outcome reader is required")
	}
	return q.reader.ListByDelivery(ctx, msg.DeliveryID)
}
