package query

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-taskhooks/core"
)

const (
	TypeListLedgerEntries  = "taskhooks.query.ledger.list"
	TypeGetLedgerEntry     = "taskhooks.query.ledger.get"
	TypeListActionOutcomes = "taskhooks.query.outcomes.list"
)

type ListLedgerEntriesMessage struct {
	Filter core.LedgerFilter
}

func (ListLedgerEntriesMessage) Type() string { return TypeListLedgerEntries }

func (m ListLedgerEntriesMessage) Validate() error {
	if m.Filter.Page < 0 {
		return fmt.Errorf("query: page must be >= 0")
	}
	if m.Filter.PerPage < 0 {
		return fmt.Errorf("query: per_page must be >= 0")
	}
	if status := m.Filter.Status; status != "" && !status.Valid() {
		return fmt.Errorf("query: unknown ledger status %q", status)
	}
	return nil
}

type GetLedgerEntryMessage struct {
	DeliveryID string
}

func (GetLedgerEntryMessage) Type() string { return TypeGetLedgerEntry }

func (m GetLedgerEntryMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return fmt.Errorf("query: delivery id is required")
	}
	return nil
}

type ListActionOutcomesMessage struct {
	DeliveryID string
}

func (ListActionOutcomesMessage) Type() string { return TypeListActionOutcomes }

func (m ListActionOutcomesMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return fmt.Errorf("query: delivery id is required")
	}
	return nil
}
