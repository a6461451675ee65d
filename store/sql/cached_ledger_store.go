package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-taskhooks/core"
)

const ledgerEntryCacheKeyPrefix = "go-taskhooks::ledger_entry::v1"

// CachedLedgerStore layers a read-through cache over ledger point lookups.
// The admin API reads the same handful of recent deliveries repeatedly; list
// queries and payload reads always go to the base store. Every write
// invalidates the entry's cache key.
type CachedLedgerStore struct {
	base  core.Ledger
	cache repositorycache.CacheService
}

func NewCachedLedgerStore(base core.Ledger, cacheService repositorycache.CacheService) (*CachedLedgerStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base ledger store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: ledger cache service is required")
	}
	return &CachedLedgerStore{base: base, cache: cacheService}, nil
}

// LedgerEntryCacheKey returns the deterministic cache key for one delivery:
// go-taskhooks::ledger_entry::v1::<delivery_id> with the segment URL-path
// escaped.
func LedgerEntryCacheKey(deliveryID string) (string, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return "", fmt.Errorf("sqlstore: delivery id is required for cache key")
	}
	return ledgerEntryCacheKeyPrefix + "::" + url.PathEscape(deliveryID), nil
}

func (s *CachedLedgerStore) RecordReceived(ctx context.Context, seed core.LedgerSeed) (core.LedgerEntry, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.LedgerEntry{}, false, core.LedgerUnavailable(nil, "sqlstore: cached ledger store is not configured")
	}
	entry, isNew, err := s.base.RecordReceived(ctx, seed)
	if err != nil {
		return core.LedgerEntry{}, false, err
	}
	s.invalidate(ctx, entry.DeliveryID)
	return entry, isNew, nil
}

func (s *CachedLedgerStore) UpdateStatus(
	ctx context.Context,
	deliveryID string,
	transition core.StatusTransition,
) (core.LedgerEntry, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.LedgerEntry{}, core.LedgerUnavailable(nil, "sqlstore: cached ledger store is not configured")
	}
	entry, err := s.base.UpdateStatus(ctx, deliveryID, transition)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	s.invalidate(ctx, deliveryID)
	return entry, nil
}

func (s *CachedLedgerStore) Get(ctx context.Context, deliveryID string) (core.LedgerEntry, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.LedgerEntry{}, core.LedgerUnavailable(nil, "sqlstore: cached ledger store is not configured")
	}
	cacheKey, err := LedgerEntryCacheKey(deliveryID)
	if err != nil {
		return core.LedgerEntry{}, core.BadInput(err.Error(), nil)
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.LedgerEntry, error) {
		return s.base.Get(ctx, deliveryID)
	})
}

func (s *CachedLedgerStore) List(ctx context.Context, filter core.LedgerFilter) (core.LedgerPage, error) {
	if s == nil || s.base == nil {
		return core.LedgerPage{}, core.LedgerUnavailable(nil, "sqlstore: cached ledger store is not configured")
	}
	return s.base.List(ctx, filter)
}

func (s *CachedLedgerStore) Payload(ctx context.Context, deliveryID string) ([]byte, error) {
	if s == nil || s.base == nil {
		return nil, core.LedgerUnavailable(nil, "sqlstore: cached ledger store is not configured")
	}
	return s.base.Payload(ctx, deliveryID)
}

func (s *CachedLedgerStore) invalidate(ctx context.Context, deliveryID string) {
	cacheKey, err := LedgerEntryCacheKey(deliveryID)
	if err != nil {
		return
	}
	_ = s.cache.Delete(ctx, cacheKey)
}

var _ core.Ledger = (*CachedLedgerStore)(nil)
