package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/market-scanner/internal/client"
	"github.com/market-scanner/internal/config"
	scanerrors "github.com/market-scanner/internal/errors"
	"github.com/market-scanner/internal/logging"
	"github.com/market-scanner/internal/storage"
	"github.com/market-scanner/internal/types"
)

// ListingSource is the paginated catalog surface of the marketplace API
type ListingSource interface {
	ListPage(ctx context.Context, page int) (*client.ListPage, error)
}

// DetailSource produces the enrichment record for one listing
type DetailSource interface {
	Aggregate(ctx context.Context, listing types.Listing) (*types.DetailRecord, error)
}

// RunArchiver persists accepted snapshot publishes and serves the load
// history. A nil archiver disables archiving.
type RunArchiver interface {
	RecordRun(ctx context.Context, run *types.LoadRun) error
	RecentRuns(ctx context.Context, kind types.CatalogKind, limit int) ([]*types.LoadRun, error)
}

// CatalogService orchestrates catalog loads: page walking, detail
// enrichment, snapshot assembly and atomic publication. At most one load
// runs at a time across all kinds; concurrent triggers are rejected, never
// queued. Published snapshots are immutable and replaced wholesale, so
// readers always see an internally consistent record set.
type CatalogService struct {
	listings ListingSource
	details  DetailSource
	cache    *storage.CacheStore
	archive  RunArchiver
	log      *logging.Logger

	loadCfg  config.LoadConfig
	cacheCfg config.CacheConfig

	// pageLimiter spaces catalog page requests so the walk never bursts
	pageLimiter *rate.Limiter

	mu            sync.RWMutex
	snapshots     map[types.CatalogKind]*types.Snapshot
	listingHashes map[types.CatalogKind]string
	progress      types.Progress
	running       bool

	now func() time.Time
}

// NewCatalogService creates a new catalog service. archive may be nil.
func NewCatalogService(
	listings ListingSource,
	details DetailSource,
	cache *storage.CacheStore,
	archive RunArchiver,
	loadCfg config.LoadConfig,
	cacheCfg config.CacheConfig,
	log *logging.Logger,
) *CatalogService {
	return &CatalogService{
		listings:      listings,
		details:       details,
		cache:         cache,
		archive:       archive,
		log:           log.WithField("component", "catalog"),
		loadCfg:       loadCfg,
		cacheCfg:      cacheCfg,
		pageLimiter:   rate.NewLimiter(rate.Every(loadCfg.PageDelay), 1),
		snapshots:     make(map[types.CatalogKind]*types.Snapshot),
		listingHashes: make(map[types.CatalogKind]string),
		now:           time.Now,
	}
}

// SetNowFunc overrides the clock. Intended for tests.
func (s *CatalogService) SetNowFunc(now func() time.Time) {
	s.now = now
}

// reserve claims the single load slot. The claim is made synchronously so a
// second trigger observes the conflict before any work starts.
func (s *CatalogService) reserve(kind types.CatalogKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return scanerrors.NewLoadInProgressError(kind)
	}

	s.running = true
	s.progress = types.Progress{Running: true}
	return nil
}

// release frees the load slot
func (s *CatalogService) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.progress.Running = false
}

// RunLoad performs a synchronous catalog load and returns the published
// snapshot. Without force, an unchanged listing set keeps the current
// snapshot and skips the detail phase.
func (s *CatalogService) RunLoad(ctx context.Context, kind types.CatalogKind, force bool) (*types.Snapshot, error) {
	if !kind.Valid() {
		return nil, scanerrors.NewInvalidParameterError("kind", "must be full or sample")
	}

	if err := s.reserve(kind); err != nil {
		return nil, err
	}
	defer s.release()

	return s.runLoad(ctx, kind, 0, force)
}

// TriggerLoad starts a load in the background. The single-flight slot is
// claimed before returning, so the caller gets the in-progress conflict
// synchronously while the load itself outlives the request.
func (s *CatalogService) TriggerLoad(kind types.CatalogKind, force bool) error {
	if !kind.Valid() {
		return scanerrors.NewInvalidParameterError("kind", "must be full or sample")
	}

	if err := s.reserve(kind); err != nil {
		return err
	}

	go func() {
		defer s.release()
		if _, err := s.runLoad(context.Background(), kind, 0, force); err != nil {
			s.log.WithError(err).WithField("kind", string(kind)).Error("Background load failed")
		}
	}()

	return nil
}

// RunRenewal performs a scheduled reload. The new snapshot is accepted only
// when it retains at least minRatio of the record count of the snapshot it
// replaces; a shrunken result keeps the previous snapshot in place and
// reports an error.
func (s *CatalogService) RunRenewal(ctx context.Context, kind types.CatalogKind, minRatio float64) (*types.Snapshot, error) {
	if err := s.reserve(kind); err != nil {
		return nil, err
	}
	defer s.release()

	return s.runLoad(ctx, kind, minRatio, false)
}

// runLoad is the single load path shared by manual loads and renewals.
// The caller must hold the load slot.
func (s *CatalogService) runLoad(ctx context.Context, kind types.CatalogKind, minRatio float64, force bool) (*types.Snapshot, error) {
	start := s.now()
	log := s.log.WithField("kind", string(kind))
	log.Info("Starting catalog load")

	if force {
		if err := s.cache.ClearPrefix(ctx, storage.KeyDetailPrefix); err != nil {
			log.WithError(err).Warn("Failed to clear detail entries before forced load")
		}
	}

	listings, err := s.fetchListings(ctx, kind)
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, scanerrors.NewEmptyCatalogError(kind)
	}

	// An unchanged listing set means the catalog is identical to the last
	// run, so the detail phase would reproduce the published snapshot
	hash := listingHash(listings)
	if !force {
		s.mu.RLock()
		prevHash := s.listingHashes[kind]
		current := s.snapshots[kind]
		s.mu.RUnlock()
		if prevHash != "" && prevHash == hash && current != nil {
			log.Info("Listing set unchanged, keeping current snapshot")
			return current, nil
		}
	}

	s.mu.Lock()
	s.progress = types.Progress{Total: len(listings), Running: true}
	s.mu.Unlock()

	records := s.enrich(ctx, listings)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	oldCount := 0
	s.mu.RLock()
	old := s.snapshots[kind]
	s.mu.RUnlock()
	if old != nil {
		oldCount = old.RecordCount()
	}

	if len(records) == 0 {
		return nil, scanerrors.NewInsufficientResultsError(0, oldCount)
	}
	// Acceptance is measured against the snapshot being replaced. With no
	// previous snapshot any non-empty result is published.
	if minRatio > 0 && oldCount > 0 && float64(len(records)) < minRatio*float64(oldCount) {
		return nil, scanerrors.NewInsufficientResultsError(len(records), oldCount)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Price != records[j].Price {
			return records[i].Price < records[j].Price
		}
		return records[i].Seq < records[j].Seq
	})

	statNames, err := s.mergeStatNames(ctx, records)
	if err != nil {
		log.WithError(err).Warn("Failed to merge discovered stat names")
	}

	snapshot := &types.Snapshot{
		Kind:        kind,
		Records:     records,
		StatNames:   statNames,
		ContentHash: contentHash(records),
		CreatedAt:   s.now().UTC(),
	}

	s.publish(ctx, snapshot, old)

	s.mu.Lock()
	s.listingHashes[kind] = hash
	s.mu.Unlock()

	log.WithFields(map[string]interface{}{
		"records":   len(records),
		"requested": len(listings),
		"elapsed":   s.now().Sub(start).String(),
	}).Info("Catalog load complete")

	return snapshot, nil
}

// fetchListings walks the paginated catalog. The sample kind reads only the
// first page. Listings with a blocked character name or a missing seq are
// dropped, duplicates keep their first occurrence.
func (s *CatalogService) fetchListings(ctx context.Context, kind types.CatalogKind) ([]types.Listing, error) {
	var listings []types.Listing
	seen := make(map[string]struct{})

	total := 0
	for page := 1; page <= s.loadCfg.MaxPages; page++ {
		if err := s.pageLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		pageData, err := s.listings.ListPage(ctx, page)
		if err != nil {
			// A failed page past the first truncates the walk rather than
			// aborting the run
			if page == 1 {
				return nil, err
			}
			s.log.WithError(err).WithField("page", page).Warn("Catalog page fetch failed, truncating walk")
			break
		}

		if page == 1 {
			total = pageData.TotalCount
		}
		if len(pageData.Lists) == 0 {
			break
		}

		for _, raw := range pageData.Lists {
			listing := toListing(raw)
			if listing.Seq == "" || IsBlockedName(listing.CharacterName) {
				continue
			}
			if _, dup := seen[listing.Seq]; dup {
				continue
			}
			seen[listing.Seq] = struct{}{}
			listings = append(listings, listing)
		}

		if kind == types.CatalogSample {
			break
		}
		if total > 0 && len(listings) >= total {
			break
		}
	}

	return listings, nil
}

// enrich resolves detail records for all listings in fixed-size batches with
// a bounded worker pool. A unit that fails or exceeds its time ceiling is
// skipped; the rest of the batch proceeds.
func (s *CatalogService) enrich(ctx context.Context, listings []types.Listing) []types.CompositeRecord {
	var (
		outMu   sync.Mutex
		records []types.CompositeRecord
	)

	sem := make(chan struct{}, s.loadCfg.Workers)

	for offset := 0; offset < len(listings); offset += s.loadCfg.BatchSize {
		if ctx.Err() != nil {
			break
		}

		end := offset + s.loadCfg.BatchSize
		if end > len(listings) {
			end = len(listings)
		}

		var wg sync.WaitGroup
		for _, listing := range listings[offset:end] {
			wg.Add(1)
			sem <- struct{}{}

			go func(listing types.Listing) {
				defer wg.Done()
				defer func() { <-sem }()

				unitCtx, cancel := context.WithTimeout(ctx, s.loadCfg.UnitTimeout)
				defer cancel()

				detail, err := s.details.Aggregate(unitCtx, listing)

				s.mu.Lock()
				s.progress.Processed++
				if s.progress.Total > 0 {
					s.progress.Percent = s.progress.Processed * 100 / s.progress.Total
				}
				s.mu.Unlock()

				if err != nil {
					s.log.WithError(err).WithField("seq", listing.Seq).Warn("Skipping listing, detail aggregation failed")
					return
				}

				outMu.Lock()
				records = append(records, composite(listing, detail))
				outMu.Unlock()
			}(listing)
		}
		wg.Wait()
	}

	return records
}

// mergeStatNames unions the stat names seen in this run with the previously
// discovered set and persists the result
func (s *CatalogService) mergeStatNames(ctx context.Context, records []types.CompositeRecord) ([]string, error) {
	names := make(map[string]struct{})

	var previous []string
	if _, err := s.cache.Get(ctx, storage.KeyStatNames, &previous); err != nil {
		return nil, err
	}
	for _, name := range previous {
		names[name] = struct{}{}
	}
	for _, record := range records {
		for _, stat := range record.Detail.Stats {
			names[stat.Name] = struct{}{}
		}
	}

	merged := make([]string, 0, len(names))
	for name := range names {
		merged = append(merged, name)
	}
	sort.Strings(merged)

	if err := s.cache.Put(ctx, storage.KeyStatNames, merged, s.cacheCfg.StatNamesTTL); err != nil {
		return merged, err
	}
	return merged, nil
}

// publish swaps in the new snapshot, persists it with its status record, and
// archives the run when the content actually changed
func (s *CatalogService) publish(ctx context.Context, snapshot *types.Snapshot, old *types.Snapshot) {
	s.mu.Lock()
	s.snapshots[snapshot.Kind] = snapshot
	s.mu.Unlock()

	log := s.log.WithField("kind", string(snapshot.Kind))

	if err := s.cache.Put(ctx, storage.CatalogKey(snapshot.Kind), snapshot, s.cacheCfg.CatalogTTL); err != nil {
		log.WithError(err).Warn("Failed to persist catalog snapshot")
	}

	status := types.LoadStatus{
		Timestamp:   snapshot.CreatedAt,
		RecordCount: snapshot.RecordCount(),
		ContentHash: snapshot.ContentHash,
	}
	if err := s.cache.Put(ctx, storage.StatusKey(snapshot.Kind), status, s.cacheCfg.StatusStaleness); err != nil {
		log.WithError(err).Warn("Failed to persist load status")
	}

	if old != nil && old.ContentHash == snapshot.ContentHash {
		log.Info("Catalog content unchanged since previous snapshot")
		return
	}

	if s.archive != nil {
		run := &types.LoadRun{
			RunID:       uuid.NewString(),
			Kind:        snapshot.Kind,
			RecordCount: snapshot.RecordCount(),
			ContentHash: snapshot.ContentHash,
			CreatedAt:   snapshot.CreatedAt,
		}
		if err := s.archive.RecordRun(ctx, run); err != nil {
			log.WithError(err).Warn("Failed to archive load run")
		}
	}
}

// Snapshot returns the current published snapshot for a kind
func (s *CatalogService) Snapshot(kind types.CatalogKind) (*types.Snapshot, error) {
	if !kind.Valid() {
		return nil, scanerrors.NewInvalidParameterError("kind", "must be full or sample")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshots[kind]
	if snap == nil {
		return nil, scanerrors.NewSnapshotNotLoadedError(kind)
	}
	return snap, nil
}

// Status returns the persisted load status for a kind
func (s *CatalogService) Status(ctx context.Context, kind types.CatalogKind) (*types.LoadStatus, error) {
	if !kind.Valid() {
		return nil, scanerrors.NewInvalidParameterError("kind", "must be full or sample")
	}

	var status types.LoadStatus
	hit, err := s.cache.Get(ctx, storage.StatusKey(kind), &status)
	if err != nil {
		return nil, scanerrors.NewCacheError("read load status", err)
	}
	if !hit {
		return nil, scanerrors.NewSnapshotNotLoadedError(kind)
	}
	return &status, nil
}

// RecentRuns returns the archived load history for a kind, newest first.
// With archiving disabled the history is empty.
func (s *CatalogService) RecentRuns(ctx context.Context, kind types.CatalogKind, limit int) ([]*types.LoadRun, error) {
	if !kind.Valid() {
		return nil, scanerrors.NewInvalidParameterError("kind", "must be full or sample")
	}
	if s.archive == nil {
		return []*types.LoadRun{}, nil
	}

	runs, err := s.archive.RecentRuns(ctx, kind, limit)
	if err != nil {
		return nil, scanerrors.NewInternalError("failed to read load history", err)
	}
	return runs, nil
}

// Progress returns a copy of the in-flight load progress
func (s *CatalogService) Progress() types.Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// ClearCache removes persisted cache entries for a scope: "details" drops
// detail records, "catalog" drops snapshots and statuses, "all" drops
// everything including discovered stat names. Published in-memory snapshots
// keep serving until the next load replaces them.
func (s *CatalogService) ClearCache(ctx context.Context, scope string) error {
	switch scope {
	case "details":
		return s.cache.ClearPrefix(ctx, storage.KeyDetailPrefix)
	case "catalog":
		return s.cache.Delete(ctx,
			storage.CatalogKey(types.CatalogFull),
			storage.CatalogKey(types.CatalogSample),
			storage.StatusKey(types.CatalogFull),
			storage.StatusKey(types.CatalogSample),
		)
	case "all":
		if err := s.cache.ClearPrefix(ctx, storage.KeyDetailPrefix); err != nil {
			return err
		}
		return s.cache.Delete(ctx,
			storage.CatalogKey(types.CatalogFull),
			storage.CatalogKey(types.CatalogSample),
			storage.StatusKey(types.CatalogFull),
			storage.StatusKey(types.CatalogSample),
			storage.KeyStatNames,
		)
	default:
		return scanerrors.NewInvalidParameterError("scope", "must be details, catalog or all")
	}
}

// RestoreFromCache republishes persisted snapshots whose status record is
// still within the staleness ceiling. Called once on startup so a restart
// does not force an immediate full reload.
func (s *CatalogService) RestoreFromCache(ctx context.Context) {
	for _, kind := range []types.CatalogKind{types.CatalogFull, types.CatalogSample} {
		log := s.log.WithField("kind", string(kind))

		var status types.LoadStatus
		hit, err := s.cache.Get(ctx, storage.StatusKey(kind), &status)
		if err != nil || !hit {
			continue
		}
		if s.now().UTC().Sub(status.Timestamp) > s.cacheCfg.StatusStaleness {
			log.Info("Persisted snapshot too old to restore")
			continue
		}

		var snapshot types.Snapshot
		hit, err = s.cache.Get(ctx, storage.CatalogKey(kind), &snapshot)
		if err != nil || !hit {
			continue
		}

		s.mu.Lock()
		s.snapshots[kind] = &snapshot
		s.mu.Unlock()

		log.WithField("records", snapshot.RecordCount()).Info("Restored snapshot from cache")
	}
}

// composite merges a listing with its detail record. Detail fields win when
// both carry a value.
func composite(listing types.Listing, detail *types.DetailRecord) types.CompositeRecord {
	record := types.CompositeRecord{
		Seq:           listing.Seq,
		TransportID:   listing.TransportID,
		NFTID:         listing.NFTID,
		CharacterName: listing.CharacterName,
		WorldName:     listing.WorldName,
		Class:         listing.Class,
		Level:         listing.Level,
		PowerScore:    listing.PowerScore,
		Price:         listing.Price,
		TradeType:     listing.TradeType,
		SealedTS:      listing.SealedTS,
		Detail:        *detail,
	}

	if detail.Name != "" {
		record.CharacterName = detail.Name
	}
	if detail.WorldName != "" {
		record.WorldName = detail.WorldName
	}
	if detail.Class != "" {
		record.Class = detail.Class
	}
	if detail.Level > 0 {
		record.Level = detail.Level
	}
	if detail.PowerScore > 0 {
		record.PowerScore = detail.PowerScore
	}
	if detail.Price > 0 {
		record.Price = detail.Price
	}
	if detail.TradeType > 0 {
		record.TradeType = detail.TradeType
	}
	if detail.SealedTS > 0 {
		record.SealedTS = detail.SealedTS
	}

	return record
}

// toListing converts a raw catalog row to the normalized listing
func toListing(raw client.RawListing) types.Listing {
	return types.Listing{
		Seq:           raw.Seq.String(),
		TransportID:   raw.TransportID.String(),
		NFTID:         raw.NFTID.String(),
		CharacterName: raw.CharacterName,
		Class:         raw.Class.String(),
		Level:         raw.Level.Int(),
		PowerScore:    raw.PowerScore.Int64(),
		Price:         raw.Price.Float64(),
		TradeType:     types.TradeType(raw.TradeType.Int()),
		WorldName:     raw.WorldName,
		SealedTS:      raw.SealedTS.Int64(),
	}
}

// contentHash is a stable digest of the record set used for no-op detection
func contentHash(records []types.CompositeRecord) string {
	data, err := json.Marshal(records)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// listingHash is a stable digest of the listing identities of one page walk.
// Two walks over the same seqs in the same order hash equal regardless of
// detail content.
func listingHash(listings []types.Listing) string {
	seqs := make([]string, 0, len(listings))
	for _, l := range listings {
		seqs = append(seqs, l.Seq)
	}
	data, err := json.Marshal(seqs)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
