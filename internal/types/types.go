// Package types provides common type definitions for the market scanner system.
package types

import "time"

// CatalogKind identifies an independently loaded catalog snapshot
type CatalogKind string

const (
	// CatalogFull represents the full paginated catalog
	CatalogFull CatalogKind = "full"
	// CatalogSample represents a first-page-only catalog used for smoke loads
	CatalogSample CatalogKind = "sample"
)

// Valid reports whether the catalog kind is one of the known kinds
func (k CatalogKind) Valid() bool {
	return k == CatalogFull || k == CatalogSample
}

// DetailSchemaVersion is the schema version stamped on cached detail records.
// A cached record carrying a different version is treated as a cache miss.
// Bump whenever the shape of DetailRecord changes in a way that would make
// records written by an older aggregator unusable.
const DetailSchemaVersion = 2

// TradeType distinguishes direct-sale listings from auctions
type TradeType int

const (
	// TradeDirectSale represents a fixed-price listing
	TradeDirectSale TradeType = 1
	// TradeAuction represents a bidding listing
	TradeAuction TradeType = 2
)

// Listing is one raw catalog row before enrichment
type Listing struct {
	Seq           string  `json:"seq"`
	TransportID   string  `json:"transportId"`
	NFTID         string  `json:"nftId"`
	CharacterName string  `json:"characterName"`
	Class         string  `json:"class"`
	Level         int     `json:"level"`
	PowerScore    int64   `json:"powerScore"`
	Price         float64 `json:"price"`
	TradeType     TradeType `json:"tradeType"`
	WorldName     string  `json:"worldName"`
	SealedTS      int64   `json:"sealedTs"`
}

// StatEntry is one named character stat
type StatEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Item is a normalized inventory, spirit or skill entry.
// Tradable is set for inventory entries that pass the tradability rules.
type Item struct {
	Name     string `json:"name"`
	Grade    int    `json:"grade"`
	Tier     int    `json:"tier"`
	Enhance  int    `json:"enhance"`
	Count    int    `json:"count"`
	Image    string `json:"img"`
	Tradable bool   `json:"trade"`
}

// EquipmentItem is one equipped item with its slot assignment
type EquipmentItem struct {
	Slot     string `json:"slot"`
	Name     string `json:"name"`
	Grade    int    `json:"grade"`
	Tier     int    `json:"tier"`
	Enhance  int    `json:"enhance"`
	Image    string `json:"img"`
	Tradable bool   `json:"trade"`
}

// SpiritSummary counts spirits by grade bucket
type SpiritSummary struct {
	Epic      int `json:"epic"`
	Legendary int `json:"legendary"`
	Grade6    int `json:"grade6"`
}

// SkillSummary counts skills by grade bucket
type SkillSummary struct {
	Epic      int `json:"epic"`
	Legendary int `json:"legendary"`
}

// InnerForce is one training force line with its upstream index
type InnerForce struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
	Idx   string `json:"idx"`
}

// Training holds character training progression levels
type Training struct {
	Constitution int          `json:"constitution"`
	Collect      int          `json:"collect"`
	InnerForces  []InnerForce `json:"innerForces"`
}

// SpecialItems groups the inventory entries that belong to the
// ticket/crystal/fragment buckets
type SpecialItems struct {
	Tickets   []Item `json:"tickets"`
	Crystals  []Item `json:"crystals"`
	Fragments []Item `json:"fragments"`
}

// DetailRecord is the enrichment payload for one account, assembled from the
// per-account sub-resource endpoints. It is the unit stored in the detail cache.
type DetailRecord struct {
	SchemaVersion int       `json:"schemaVersion"`
	Seq           string    `json:"seq"`
	TransportID   string    `json:"transportId"`
	NFTID         string    `json:"nftId"`
	Name          string    `json:"name"`
	WorldName     string    `json:"worldName"`
	Class         string    `json:"class"`
	Level         int       `json:"level"`
	PowerScore    int64     `json:"powerScore"`
	Price         float64   `json:"price"`
	TradeType     TradeType `json:"tradeType"`
	SealedTS      int64     `json:"sealedTs"`

	Stats          []StatEntry     `json:"stats"`
	Equipment      []EquipmentItem `json:"equipment"`
	Inventory      []Item          `json:"inventory"`
	TradableItems  []Item          `json:"tradableItems"`
	Spirits        SpiritSummary   `json:"spirits"`
	SpiritList     []Item          `json:"spiritList"`
	Skills         SkillSummary    `json:"skills"`
	SkillList      []Item          `json:"skillList"`
	Training       Training        `json:"training"`
	CodexTotal     int             `json:"codexTotal"`
	PotentialTotal int             `json:"potentialTotal"`
	MiningLevel    int             `json:"miningLevel"`
	Special        SpecialItems    `json:"special"`
}

// CompositeRecord is one account view: listing identity merged with its
// detail record. Detail fields take precedence over listing fields when
// both carry a value.
type CompositeRecord struct {
	Seq           string    `json:"seq"`
	TransportID   string    `json:"transportId"`
	NFTID         string    `json:"nftId"`
	CharacterName string    `json:"characterName"`
	WorldName     string    `json:"worldName"`
	Class         string    `json:"class"`
	Level         int       `json:"level"`
	PowerScore    int64     `json:"powerScore"`
	Price         float64   `json:"price"`
	TradeType     TradeType `json:"tradeType"`
	SealedTS      int64     `json:"sealedTs"`

	Detail DetailRecord `json:"detail"`
}

// Snapshot is a complete, internally consistent set of composite records.
// Snapshots are immutable once published; a new load produces a new snapshot.
type Snapshot struct {
	Kind        CatalogKind       `json:"kind"`
	Records     []CompositeRecord `json:"records"`
	StatNames   []string          `json:"statNames"`
	ContentHash string            `json:"contentHash"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// RecordCount returns the number of records in the snapshot, tolerating nil
func (s *Snapshot) RecordCount() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Progress tracks the state of an in-flight catalog load
type Progress struct {
	Processed int  `json:"processed"`
	Total     int  `json:"total"`
	Percent   int  `json:"percent"`
	Running   bool `json:"running"`
}

// LoadStatus is the small companion record persisted alongside a snapshot
// for fast staleness checks on process restart
type LoadStatus struct {
	Timestamp   time.Time `json:"timestamp"`
	RecordCount int       `json:"recordCount"`
	ContentHash string    `json:"contentHash"`
}

// LoadRun records one accepted snapshot publish for the archive
type LoadRun struct {
	RunID       string      `json:"runId"`
	Kind        CatalogKind `json:"kind"`
	RecordCount int         `json:"recordCount"`
	ContentHash string      `json:"contentHash"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
