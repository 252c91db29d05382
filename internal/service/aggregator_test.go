package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-scanner/internal/client"
	"github.com/market-scanner/internal/logging"
	"github.com/market-scanner/internal/storage"
	"github.com/market-scanner/internal/types"
)

// fakeUpstream counts calls and lets each facet be overridden per test
type fakeUpstream struct {
	summaryCalls int32
	facetCalls   int32

	summaryErr error
	facetErr   error
}

func (f *fakeUpstream) Summary(ctx context.Context, seq string) (*client.Summary, error) {
	atomic.AddInt32(&f.summaryCalls, 1)
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	return &client.Summary{
		Character: client.RawCharacter{
			Name:       "Trader",
			WorldName:  "ASIA11",
			Class:      "3",
			Level:      130,
			PowerScore: 205000,
		},
		Price:     9200,
		TradeType: 1,
		SealedTS:  1700000000,
		EquipItem: map[string]client.RawEquipItem{
			"1": {ItemType: "2_3", ItemIdx: "1711001", ItemName: "Espada", Grade: 5, Tier: "IV", Enhance: 8},
		},
	}, nil
}

func (f *fakeUpstream) Stats(ctx context.Context, transportID string) ([]client.RawStat, error) {
	atomic.AddInt32(&f.facetCalls, 1)
	if f.facetErr != nil {
		return nil, f.facetErr
	}
	return []client.RawStat{
		{StatName: "EXP", StatValue: "31.42%"},
		{StatName: "Energia", StatValue: "1,234"},
	}, nil
}

func (f *fakeUpstream) Inventory(ctx context.Context, transportID string) ([]client.RawInventoryItem, error) {
	atomic.AddInt32(&f.facetCalls, 1)
	if f.facetErr != nil {
		return nil, f.facetErr
	}
	return []client.RawInventoryItem{
		{ItemID: "1711001", ItemName: "Espada Dracônica", Grade: 5, Tier: "II", Stack: 1},
		{ItemID: "1000000", ItemName: "Bilhete de Raide", Stack: 4},
	}, nil
}

func (f *fakeUpstream) Codex(ctx context.Context, transportID string) (map[string]client.RawCodexEntry, error) {
	atomic.AddInt32(&f.facetCalls, 1)
	if f.facetErr != nil {
		return nil, f.facetErr
	}
	return map[string]client.RawCodexEntry{
		"1": {Completed: 12},
		"2": {Completed: 30},
	}, nil
}

func (f *fakeUpstream) Potential(ctx context.Context, transportID string) (int, error) {
	atomic.AddInt32(&f.facetCalls, 1)
	if f.facetErr != nil {
		return 0, f.facetErr
	}
	return 415, nil
}

func (f *fakeUpstream) Spirit(ctx context.Context, transportID string) (*client.SpiritData, error) {
	atomic.AddInt32(&f.facetCalls, 1)
	if f.facetErr != nil {
		return nil, f.facetErr
	}
	return &client.SpiritData{
		Equip: []client.RawSpiritItem{{PetName: "Fênix", Grade: 5, Transcend: 2, IconPath: "/f.png"}},
	}, nil
}

func (f *fakeUpstream) Training(ctx context.Context, transportID string) (*client.TrainingData, error) {
	atomic.AddInt32(&f.facetCalls, 1)
	if f.facetErr != nil {
		return nil, f.facetErr
	}
	return &client.TrainingData{
		ConstitutionLevel: 7,
		CollectLevel:      3,
		Forces:            []client.RawForce{{ForceIdx: "0", ForceLevel: 15, ForceName: "Força Interior"}},
	}, nil
}

func (f *fakeUpstream) Skills(ctx context.Context, transportID, class string) ([]client.RawSkill, error) {
	atomic.AddInt32(&f.facetCalls, 1)
	if f.facetErr != nil {
		return nil, f.facetErr
	}
	return []client.RawSkill{{SkillName: "Golpe Dracônico", SkillLevel: 11}}, nil
}

func (f *fakeUpstream) Building(ctx context.Context, transportID string) (map[string]client.RawBuilding, error) {
	atomic.AddInt32(&f.facetCalls, 1)
	if f.facetErr != nil {
		return nil, f.facetErr
	}
	return map[string]client.RawBuilding{"3000000": {BuildingLevel: 4}}, nil
}

func newTestCacheStore(t *testing.T) (*storage.CacheStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logging.NewLogger(logging.LevelError, logging.FormatText)
	return storage.NewCacheStore(storage.NewRedisCacheFromClient(rdb), log), mr
}

func testListing() types.Listing {
	return types.Listing{
		Seq:           "123456",
		TransportID:   "777001",
		NFTID:         "0xabc",
		CharacterName: "ListedName",
		Class:         "1",
		Level:         120,
		PowerScore:    180000,
		Price:         8000,
		TradeType:     types.TradeDirectSale,
		WorldName:     "ASIA12",
		SealedTS:      1690000000,
	}
}

func TestAggregate_AssemblesAllFacets(t *testing.T) {
	cache, _ := newTestCacheStore(t)
	upstream := &fakeUpstream{}
	log := logging.NewLogger(logging.LevelError, logging.FormatText)
	agg := NewDetailAggregator(upstream, cache, 720*time.Minute, log)

	record, err := agg.Aggregate(context.Background(), testListing())
	require.NoError(t, err)

	assert.Equal(t, types.DetailSchemaVersion, record.SchemaVersion)

	// Summary fields override listing fields
	assert.Equal(t, "Trader", record.Name)
	assert.Equal(t, "ASIA11", record.WorldName)
	assert.Equal(t, 130, record.Level)
	assert.Equal(t, float64(9200), record.Price)

	require.Len(t, record.Equipment, 1)
	assert.Equal(t, "Weapon", record.Equipment[0].Slot)

	require.Len(t, record.Stats, 2)
	assert.Equal(t, "EXP", record.Stats[0].Name)

	assert.Len(t, record.Inventory, 2)
	assert.Len(t, record.TradableItems, 1)
	assert.Len(t, record.Special.Tickets, 1)

	assert.Equal(t, 42, record.CodexTotal)
	assert.Equal(t, 415, record.PotentialTotal)
	assert.Equal(t, 1, record.Spirits.Legendary)
	assert.Equal(t, 1, record.Skills.Legendary)
	assert.Equal(t, 7, record.Training.Constitution)
	require.Len(t, record.Training.InnerForces, 1)
	assert.Equal(t, 15, record.Training.InnerForces[0].Level)
	assert.Equal(t, 4, record.MiningLevel)
}

func TestAggregate_CacheHitSkipsUpstream(t *testing.T) {
	cache, _ := newTestCacheStore(t)
	upstream := &fakeUpstream{}
	log := logging.NewLogger(logging.LevelError, logging.FormatText)
	agg := NewDetailAggregator(upstream, cache, 720*time.Minute, log)

	first, err := agg.Aggregate(context.Background(), testListing())
	require.NoError(t, err)

	callsAfterFirst := atomic.LoadInt32(&upstream.summaryCalls) + atomic.LoadInt32(&upstream.facetCalls)
	require.Greater(t, callsAfterFirst, int32(0))

	second, err := agg.Aggregate(context.Background(), testListing())
	require.NoError(t, err)

	callsAfterSecond := atomic.LoadInt32(&upstream.summaryCalls) + atomic.LoadInt32(&upstream.facetCalls)
	assert.Equal(t, callsAfterFirst, callsAfterSecond, "cached record must not trigger upstream calls")
	assert.Equal(t, first.Seq, second.Seq)
	assert.Equal(t, first.Name, second.Name)
}

func TestAggregate_SchemaVersionMismatchRefetches(t *testing.T) {
	cache, _ := newTestCacheStore(t)
	upstream := &fakeUpstream{}
	log := logging.NewLogger(logging.LevelError, logging.FormatText)
	agg := NewDetailAggregator(upstream, cache, 720*time.Minute, log)

	listing := testListing()

	// Seed a record written by an older schema
	stale := types.DetailRecord{SchemaVersion: types.DetailSchemaVersion - 1, Seq: listing.Seq, Name: "Old"}
	require.NoError(t, cache.Put(context.Background(), storage.DetailKey(listing.Seq), stale, 720*time.Minute))

	record, err := agg.Aggregate(context.Background(), listing)
	require.NoError(t, err)

	assert.Equal(t, types.DetailSchemaVersion, record.SchemaVersion)
	assert.Equal(t, "Trader", record.Name)
	assert.Greater(t, atomic.LoadInt32(&upstream.summaryCalls), int32(0))
}

func TestAggregate_FacetFailuresDegradeToDefaults(t *testing.T) {
	cache, _ := newTestCacheStore(t)
	upstream := &fakeUpstream{facetErr: errors.New("upstream facet down")}
	log := logging.NewLogger(logging.LevelError, logging.FormatText)
	agg := NewDetailAggregator(upstream, cache, 720*time.Minute, log)

	record, err := agg.Aggregate(context.Background(), testListing())
	require.NoError(t, err)

	// Identity comes from summary and listing; facets stay at defaults
	assert.Equal(t, "Trader", record.Name)
	assert.Empty(t, record.Stats)
	assert.Empty(t, record.Inventory)
	assert.Zero(t, record.CodexTotal)
	assert.Zero(t, record.MiningLevel)
	assert.Zero(t, record.Spirits)
}

func TestAggregate_SummaryFailureKeepsListingIdentity(t *testing.T) {
	cache, _ := newTestCacheStore(t)
	upstream := &fakeUpstream{summaryErr: errors.New("summary down")}
	log := logging.NewLogger(logging.LevelError, logging.FormatText)
	agg := NewDetailAggregator(upstream, cache, 720*time.Minute, log)

	record, err := agg.Aggregate(context.Background(), testListing())
	require.NoError(t, err)

	assert.Equal(t, "ListedName", record.Name)
	assert.Equal(t, "ASIA12", record.WorldName)
	assert.Equal(t, float64(8000), record.Price)
	assert.Empty(t, record.Equipment)
	// Remaining facets still load
	assert.Len(t, record.Stats, 2)
}

func TestAggregate_CanceledContextAborts(t *testing.T) {
	cache, _ := newTestCacheStore(t)
	upstream := &fakeUpstream{}
	log := logging.NewLogger(logging.LevelError, logging.FormatText)
	agg := NewDetailAggregator(upstream, cache, 720*time.Minute, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agg.Aggregate(ctx, testListing())
	require.Error(t, err)
}
