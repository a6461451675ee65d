package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-taskhooks/core"
	"github.com/goliatone/go-taskhooks/migrations"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-taskhooks-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:taskhooks-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != migrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(migrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newLedgerStoreForTest(t *testing.T) (*LedgerStore, *ActionOutcomeStore, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	factory, err := NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("build repository factory: %v", err)
	}
	return factory.LedgerStore(), factory.ActionOutcomeStore(), cleanup
}

func seedFor(deliveryID string) core.LedgerSeed {
	return core.LedgerSeed{
		DeliveryID:    deliveryID,
		EventName:     "item:completed",
		UserID:        "u1",
		ProjectID:     "p1",
		TaskID:        "t1",
		SignatureOK:   true,
		PayloadSHA256: "abc123",
		Payload:       []byte(`{"event_name":"item:completed"}`),
	}
}

func TestLedgerStoreRecordReceivedAndDuplicate(t *testing.T) {
	store, _, cleanup := newLedgerStoreForTest(t)
	defer cleanup()
	ctx := context.Background()

	entry, isNew, err := store.RecordReceived(ctx, seedFor("d-1"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !isNew {
		t.Fatal("first record should be new")
	}
	if entry.Status != core.EntryStatusReceived || entry.Attempts != 1 {
		t.Fatalf("unexpected entry %+v", entry)
	}

	dup, isNew, err := store.RecordReceived(ctx, seedFor("d-1"))
	if err != nil {
		t.Fatalf("record duplicate: %v", err)
	}
	if isNew {
		t.Fatal("duplicate should not be new")
	}
	if dup.Attempts != 2 {
		t.Fatalf("expected attempt bump, got %d", dup.Attempts)
	}
	if dup.EventName != entry.EventName || dup.PayloadSHA256 != entry.PayloadSHA256 {
		t.Fatalf("duplicate mutated the stored entry: %+v", dup)
	}
}

func TestLedgerStoreStatusTransitions(t *testing.T) {
	store, _, cleanup := newLedgerStoreForTest(t)
	defer cleanup()
	ctx := context.Background()

	if _, _, err := store.RecordReceived(ctx, seedFor("d-1")); err != nil {
		t.Fatalf("record: %v", err)
	}

	accepted, err := store.UpdateStatus(ctx, "d-1", core.StatusTransition{Status: core.EntryStatusAccepted})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != core.EntryStatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}

	applied, err := store.UpdateStatus(ctx, "d-1", core.StatusTransition{
		Status:  core.EntryStatusApplied,
		RuleID:  "recurring_clear_comments",
		Summary: map[string]any{"planned_deletes": 3},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied.Status != core.EntryStatusApplied || applied.RuleID != "recurring_clear_comments" {
		t.Fatalf("unexpected applied entry %+v", applied)
	}
	if applied.Summary["planned_deletes"] == nil {
		t.Fatalf("summary not persisted: %+v", applied.Summary)
	}

	if _, err := store.UpdateStatus(ctx, "d-1", core.StatusTransition{Status: core.EntryStatusAccepted}); err == nil {
		t.Fatal("expected status regression to be refused")
	}

	// Re-asserting the current status keeps redelivery bookkeeping idempotent.
	again, err := store.UpdateStatus(ctx, "d-1", core.StatusTransition{
		Status: core.EntryStatusApplied,
		RuleID: "recurring_clear_comments",
	})
	if err != nil {
		t.Fatalf("re-assert applied: %v", err)
	}
	if again.Status != core.EntryStatusApplied {
		t.Fatalf("unexpected status %s", again.Status)
	}
}

func TestLedgerStoreUnknownDelivery(t *testing.T) {
	store, _, cleanup := newLedgerStoreForTest(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !core.IsUnknownDelivery(err) {
		t.Fatalf("expected unknown delivery, got %v", err)
	}
	if _, err := store.Payload(ctx, "missing"); !core.IsUnknownDelivery(err) {
		t.Fatalf("expected unknown delivery payload, got %v", err)
	}
	if _, err := store.UpdateStatus(ctx, "missing", core.StatusTransition{Status: core.EntryStatusAccepted}); !core.IsUnknownDelivery(err) {
		t.Fatalf("expected unknown delivery update, got %v", err)
	}
}

func TestLedgerStorePayloadRoundTrip(t *testing.T) {
	store, _, cleanup := newLedgerStoreForTest(t)
	defer cleanup()
	ctx := context.Background()

	seed := seedFor("d-1")
	if _, _, err := store.RecordReceived(ctx, seed); err != nil {
		t.Fatalf("record: %v", err)
	}

	payload, err := store.Payload(ctx, "d-1")
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if string(payload) != string(seed.Payload) {
		t.Fatalf("payload mismatch: %q", payload)
	}
}

func TestLedgerStoreListFiltersAndPagination(t *testing.T) {
	store, _, cleanup := newLedgerStoreForTest(t)
	defer cleanup()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		seed := seedFor(fmt.Sprintf("d-%d", i))
		if i == 3 {
			seed.UserID = "u2"
		}
		if _, _, err := store.RecordReceived(ctx, seed); err != nil {
			t.Fatalf("record d-%d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := store.UpdateStatus(ctx, "d-2", core.StatusTransition{Status: core.EntryStatusSkipped}); err != nil {
		t.Fatalf("skip d-2: %v", err)
	}

	page, err := store.List(ctx, core.LedgerFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 3 {
		t.Fatalf("expected 3 entries, got total=%d items=%d", page.Total, len(page.Items))
	}
	if page.Items[0].DeliveryID != "d-3" {
		t.Fatalf("expected newest first, got %s", page.Items[0].DeliveryID)
	}

	skipped, err := store.List(ctx, core.LedgerFilter{Status: core.EntryStatusSkipped})
	if err != nil {
		t.Fatalf("list skipped: %v", err)
	}
	if skipped.Total != 1 || skipped.Items[0].DeliveryID != "d-2" {
		t.Fatalf("unexpected skipped page %+v", skipped)
	}

	byUser, err := store.List(ctx, core.LedgerFilter{UserID: "u2"})
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if byUser.Total != 1 || byUser.Items[0].DeliveryID != "d-3" {
		t.Fatalf("unexpected user page %+v", byUser)
	}

	paged, err := store.List(ctx, core.LedgerFilter{Page: 2, PerPage: 2})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(paged.Items) != 1 || paged.HasNext {
		t.Fatalf("unexpected second page %+v", paged)
	}
}

func TestLedgerStoreListStale(t *testing.T) {
	store, _, cleanup := newLedgerStoreForTest(t)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"d-1", "d-2", "d-3"} {
		if _, _, err := store.RecordReceived(ctx, seedFor(id)); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}
	if _, err := store.UpdateStatus(ctx, "d-3", core.StatusTransition{Status: core.EntryStatusApplied}); err != nil {
		t.Fatalf("apply d-3: %v", err)
	}

	aged := time.Now().UTC().Add(-time.Hour)
	if _, err := store.db.NewUpdate().
		Model((*ledgerEntryRecord)(nil)).
		Set("updated_at = ?", aged).
		Where("delivery_id IN (?, ?)", "d-1", "d-3").
		Exec(ctx); err != nil {
		t.Fatalf("age entries: %v", err)
	}

	stale, err := store.ListStale(ctx, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].DeliveryID != "d-1" {
		t.Fatalf("expected only aged non-terminal entry, got %+v", stale)
	}
}

func TestActionOutcomeStoreUpsert(t *testing.T) {
	_, store, cleanup := newLedgerStoreForTest(t)
	defer cleanup()
	ctx := context.Background()

	outcome := core.ActionOutcome{
		DeliveryID: "d-1",
		RuleID:     "recurring_clear_comments",
		ActionType: "delete_comment",
		TargetType: "comment",
		TargetID:   "c1",
		Result:     core.ActionResultSkipped,
		Metadata:   map[string]any{"reason": "dry_run"},
	}
	if err := store.Record(ctx, outcome); err != nil {
		t.Fatalf("record: %v", err)
	}

	outcome.Result = core.ActionResultSuccess
	outcome.Metadata = map[string]any{}
	if err := store.Record(ctx, outcome); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	outcomes, err := store.ListByDelivery(ctx, "d-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected upsert to keep one row, got %d", len(outcomes))
	}
	if outcomes[0].Result != core.ActionResultSuccess {
		t.Fatalf("expected updated result, got %s", outcomes[0].Result)
	}
}

func TestCachedLedgerStoreInvalidatesOnWrite(t *testing.T) {
	base, _, cleanup := newLedgerStoreForTest(t)
	defer cleanup()
	ctx := context.Background()

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	cached, err := NewCachedLedgerStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	if _, _, err := cached.RecordReceived(ctx, seedFor("d-1")); err != nil {
		t.Fatalf("record: %v", err)
	}
	first, err := cached.Get(ctx, "d-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.Status != core.EntryStatusReceived {
		t.Fatalf("unexpected status %s", first.Status)
	}

	if _, err := cached.UpdateStatus(ctx, "d-1", core.StatusTransition{Status: core.EntryStatusAccepted}); err != nil {
		t.Fatalf("update: %v", err)
	}
	second, err := cached.Get(ctx, "d-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if second.Status != core.EntryStatusAccepted {
		t.Fatalf("cache served a stale entry: %s", second.Status)
	}
}
