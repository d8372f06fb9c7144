// Package universe maintains the catalog of symbol-set universes and the
// daily synchronizer that reconciles their memberships after end-of-day
// data lands.
package universe

import (
	"context"
	"time"
)

// SymbolInfo is a catalog row for one symbol.
type SymbolInfo struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Sector    string    `json:"sector"`
	Type      string    `json:"type"` // CS, ETF, ADR, ...
	MarketCap float64   `json:"market_cap"`
	Rank      int       `json:"rank"` // 1 = largest by market cap
	Active    bool      `json:"active"`
	ListedAt  time.Time `json:"listed_at"` // initial-load date
}

// Entry is one persisted universe: a named, ordered set of symbols.
// Unique on CacheKey.
type Entry struct {
	CacheKey    string         `json:"cache_key"`
	Symbols     []string       `json:"symbols"`
	Category    string         `json:"category"`
	Metadata    map[string]any `json:"metadata"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Has reports membership.
func (e *Entry) Has(symbol string) bool {
	for _, s := range e.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Change actions.
const (
	ActionAdded   = "added"
	ActionRemoved = "removed"
	ActionUpdated = "updated"
)

// Change types, one per synchronizer task.
const (
	ChangeMarketCapRerank  = "market_cap_rerank"
	ChangeIPOAssignment    = "ipo_assignment"
	ChangeDelistingCleanup = "delisting_cleanup"
	ChangeThemeRebalance   = "theme_rebalance"
	ChangeETFMaintenance   = "etf_maintenance"
)

// Change records one membership mutation produced by a synchronizer task.
type Change struct {
	Type     string         `json:"type"`
	Universe string         `json:"universe"`
	Symbol   string         `json:"symbol,omitempty"`
	Action   string         `json:"action"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Catalog is the persistent store the synchronizer reconciles against.
// All operations are transactional; UpsertUniverse replaces the symbol set
// atomically.
type Catalog interface {
	ListRankedSymbols(ctx context.Context) ([]SymbolInfo, error)
	ListRecentIPOs(ctx context.Context, days int) ([]SymbolInfo, error)
	ReadUniverse(ctx context.Context, cacheKey string) (*Entry, error)
	UpsertUniverse(ctx context.Context, cacheKey string, symbols []string, category string, metadata map[string]any) error
	ListUniversesByCategory(ctx context.Context, category string) ([]Entry, error)
	ListAllUniverses(ctx context.Context) ([]Entry, error)
	DeleteSymbolFromAllUniverses(ctx context.Context, symbol string) ([]string, error)
	SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	TouchUniverse(ctx context.Context, cacheKey string) error
	LogChanges(ctx context.Context, runID string, changes []Change) error
}

// Universe categories.
const (
	CategoryMarketLeaders = "market_leaders"
	CategoryMarketCap     = "market_cap"
	CategorySector        = "sector"
	CategoryETF           = "etf"
	CategoryGeneral       = "general"
	CategoryTheme         = "theme"
)

// Market-cap band floors.
const (
	LargeCapFloor = 10e9
	MidCapFloor   = 2e9
	SmallCapFloor = 300e6
)

// CapBand returns the band universe key for a market cap, or "" below the
// small-cap floor.
func CapBand(marketCap float64) string {
	switch {
	case marketCap >= LargeCapFloor:
		return "large_cap"
	case marketCap >= MidCapFloor:
		return "mid_cap"
	case marketCap >= SmallCapFloor:
		return "small_cap"
	default:
		return ""
	}
}
