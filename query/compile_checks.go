package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-taskhooks/core"
)

var (
	_ gocmd.Querier[ListLedgerEntriesMessage, core.LedgerPage]       = (*ListLedgerEntriesQuery)(nil)
	_ gocmd.Querier[GetLedgerEntryMessage, core.LedgerEntry]         = (*GetLedgerEntryQuery)(nil)
	_ gocmd.Querier[ListActionOutcomesMessage, []core.ActionOutcome] = (*ListActionOutcomesQuery)(nil)
)
