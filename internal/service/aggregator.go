package service

import (
	"context"
	"time"

	"github.com/market-scanner/internal/client"
	"github.com/market-scanner/internal/logging"
	"github.com/market-scanner/internal/storage"
	"github.com/market-scanner/internal/types"
)

// Upstream is the per-account detail surface of the marketplace API.
// Satisfied by client.Client; narrowed here so tests can substitute fakes.
type Upstream interface {
	Summary(ctx context.Context, seq string) (*client.Summary, error)
	Stats(ctx context.Context, transportID string) ([]client.RawStat, error)
	Inventory(ctx context.Context, transportID string) ([]client.RawInventoryItem, error)
	Codex(ctx context.Context, transportID string) (map[string]client.RawCodexEntry, error)
	Potential(ctx context.Context, transportID string) (int, error)
	Spirit(ctx context.Context, transportID string) (*client.SpiritData, error)
	Training(ctx context.Context, transportID string) (*client.TrainingData, error)
	Skills(ctx context.Context, transportID, class string) ([]client.RawSkill, error)
	Building(ctx context.Context, transportID string) (map[string]client.RawBuilding, error)
}

// DetailAggregator assembles the per-account detail record from the
// sub-resource endpoints, backed by the detail cache. Each facet fetch is
// independent: a failed facet degrades to its zero value instead of failing
// the whole account, so one flaky endpoint cannot poison a load.
type DetailAggregator struct {
	upstream  Upstream
	cache     *storage.CacheStore
	log       *logging.Logger
	detailTTL time.Duration
}

// NewDetailAggregator creates a new detail aggregator
func NewDetailAggregator(upstream Upstream, cache *storage.CacheStore, detailTTL time.Duration, log *logging.Logger) *DetailAggregator {
	return &DetailAggregator{
		upstream:  upstream,
		cache:     cache,
		log:       log.WithField("component", "aggregator"),
		detailTTL: detailTTL,
	}
}

// Aggregate returns the detail record for one listing, from cache when a
// fresh record with the current schema version exists, otherwise by fetching
// and classifying every facet and writing the result back.
func (a *DetailAggregator) Aggregate(ctx context.Context, listing types.Listing) (*types.DetailRecord, error) {
	key := storage.DetailKey(listing.Seq)

	var cached types.DetailRecord
	hit, err := a.cache.Get(ctx, key, &cached)
	if err != nil {
		return nil, err
	}
	if hit && cached.SchemaVersion == types.DetailSchemaVersion {
		return &cached, nil
	}

	record, err := a.build(ctx, listing)
	if err != nil {
		return nil, err
	}

	if err := a.cache.Put(ctx, key, record, a.detailTTL); err != nil {
		// A write failure leaves the record usable for this run
		a.log.WithError(err).WithField("seq", listing.Seq).Warn("Failed to cache detail record")
	}

	return record, nil
}

// build fetches and classifies every detail facet for one listing
func (a *DetailAggregator) build(ctx context.Context, listing types.Listing) (*types.DetailRecord, error) {
	record := &types.DetailRecord{
		SchemaVersion: types.DetailSchemaVersion,
		Seq:           listing.Seq,
		TransportID:   listing.TransportID,
		NFTID:         listing.NFTID,
		Name:          listing.CharacterName,
		WorldName:     listing.WorldName,
		Class:         listing.Class,
		Level:         listing.Level,
		PowerScore:    listing.PowerScore,
		Price:         listing.Price,
		TradeType:     listing.TradeType,
		SealedTS:      listing.SealedTS,
	}

	if summary, err := a.upstream.Summary(ctx, listing.Seq); err != nil {
		a.warnFacet(listing.Seq, "summary", err)
	} else {
		a.applySummary(record, summary)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tid := listing.TransportID

	if stats, err := a.upstream.Stats(ctx, tid); err != nil {
		a.warnFacet(listing.Seq, "stats", err)
	} else {
		for _, s := range stats {
			if s.StatName == "" {
				continue
			}
			record.Stats = append(record.Stats, types.StatEntry{
				Name:  s.StatName,
				Value: s.StatValue.String(),
			})
		}
	}

	if items, err := a.upstream.Inventory(ctx, tid); err != nil {
		a.warnFacet(listing.Seq, "inventory", err)
	} else {
		classified := ClassifyInventory(items)
		record.Inventory = classified.All
		record.TradableItems = classified.Tradable
		record.Special = classified.Special
	}

	if entries, err := a.upstream.Codex(ctx, tid); err != nil {
		a.warnFacet(listing.Seq, "codex", err)
	} else {
		for _, entry := range entries {
			record.CodexTotal += entry.Completed.Int()
		}
	}

	if total, err := a.upstream.Potential(ctx, tid); err != nil {
		a.warnFacet(listing.Seq, "potential", err)
	} else {
		record.PotentialTotal = total
	}

	if spirits, err := a.upstream.Spirit(ctx, tid); err != nil {
		a.warnFacet(listing.Seq, "spirit", err)
	} else {
		record.SpiritList, record.Spirits = ClassifySpirits(spirits)
	}

	if training, err := a.upstream.Training(ctx, tid); err != nil {
		a.warnFacet(listing.Seq, "training", err)
	} else {
		record.Training = types.Training{
			Constitution: training.ConstitutionLevel,
			Collect:      training.CollectLevel,
		}
		for _, force := range training.Forces {
			record.Training.InnerForces = append(record.Training.InnerForces, types.InnerForce{
				Name:  force.ForceName,
				Level: force.ForceLevel.Int(),
				Idx:   force.ForceIdx.String(),
			})
		}
	}

	if skills, err := a.upstream.Skills(ctx, tid, record.Class); err != nil {
		a.warnFacet(listing.Seq, "skills", err)
	} else {
		record.SkillList, record.Skills = ClassifySkills(skills)
	}

	if buildings, err := a.upstream.Building(ctx, tid); err != nil {
		a.warnFacet(listing.Seq, "building", err)
	} else if mine, ok := buildings[miningBuildingID]; ok {
		record.MiningLevel = mine.BuildingLevel.Int()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return record, nil
}

// applySummary overlays summary fields onto the record. Listing values stay
// in place where the summary is silent.
func (a *DetailAggregator) applySummary(record *types.DetailRecord, summary *client.Summary) {
	if summary.Character.Name != "" {
		record.Name = summary.Character.Name
	}
	if summary.Character.WorldName != "" {
		record.WorldName = summary.Character.WorldName
	}
	if summary.Character.Class.String() != "" {
		record.Class = summary.Character.Class.String()
	}
	if summary.Character.Level.Int() > 0 {
		record.Level = summary.Character.Level.Int()
	}
	if summary.Character.PowerScore.Int64() > 0 {
		record.PowerScore = summary.Character.PowerScore.Int64()
	}
	if summary.Price.Float64() > 0 {
		record.Price = summary.Price.Float64()
	}
	if summary.TradeType.Int() > 0 {
		record.TradeType = types.TradeType(summary.TradeType.Int())
	}
	if summary.SealedTS.Int64() > 0 {
		record.SealedTS = summary.SealedTS.Int64()
	}
	record.Equipment = ClassifyEquipment(summary.EquipItem)
}

func (a *DetailAggregator) warnFacet(seq, facet string, err error) {
	a.log.WithError(err).WithFields(map[string]interface{}{
		"seq":   seq,
		"facet": facet,
	}).Warn("Detail facet fetch failed, using defaults")
}
