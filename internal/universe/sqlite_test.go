package universe

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	cat, err := OpenSQLite(filepath.Join(t.TempDir(), "universe.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestSQLite_SymbolRoundTrip(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	listed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	err := cat.UpsertSymbol(ctx, SymbolInfo{
		Symbol: "AAPL", Name: "Apple Inc.", Sector: "Information Technology",
		Type: "CS", MarketCap: 3.2e12, Rank: 1, Active: true, ListedAt: listed,
	})
	if err != nil {
		t.Fatal(err)
	}

	info, err := cat.SymbolInfo(ctx, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if info == nil || info.Name != "Apple Inc." || !info.Active || info.Rank != 1 {
		t.Fatalf("round trip: %+v", info)
	}
	if !info.ListedAt.Equal(listed) {
		t.Errorf("listed_at: expected %s, got %s", listed, info.ListedAt)
	}

	// Absent symbols come back nil, not an error.
	info, err = cat.SymbolInfo(ctx, "NOPE")
	if err != nil || info != nil {
		t.Errorf("absent symbol: got %v, %v", info, err)
	}

	// Upsert replaces in place.
	err = cat.UpsertSymbol(ctx, SymbolInfo{Symbol: "AAPL", MarketCap: 3.3e12, Rank: 2, Active: false, ListedAt: listed})
	if err != nil {
		t.Fatal(err)
	}
	info, _ = cat.SymbolInfo(ctx, "AAPL")
	if info.Rank != 2 || info.Active {
		t.Errorf("upsert replace: %+v", info)
	}
}

func TestSQLite_RankedAndIPOQueries(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	old := time.Now().AddDate(-1, 0, 0)
	recent := time.Now().AddDate(0, 0, -3)
	seed := []SymbolInfo{
		{Symbol: "AAA", MarketCap: 50e9, Rank: 1, Active: true, ListedAt: old},
		{Symbol: "BBB", MarketCap: 20e9, Rank: 2, Active: true, ListedAt: recent},
		{Symbol: "CCC", MarketCap: 10e9, Rank: 3, Active: false, ListedAt: old},
		{Symbol: "DDD", MarketCap: 0, Rank: 0, Active: true, ListedAt: recent},
	}
	for _, s := range seed {
		if err := cat.UpsertSymbol(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	// Inactive and unranked symbols are excluded, order is rank ascending.
	ranked, err := cat.ListRankedSymbols(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 2 || ranked[0].Symbol != "AAA" || ranked[1].Symbol != "BBB" {
		t.Fatalf("ranked: %+v", ranked)
	}

	ipos, err := cat.ListRecentIPOs(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]bool, len(ipos))
	for _, s := range ipos {
		got[s.Symbol] = true
	}
	if len(ipos) != 2 || !got["BBB"] || !got["DDD"] {
		t.Fatalf("ipos: %+v", ipos)
	}
}

func TestSQLite_UniverseLifecycle(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	err := cat.UpsertUniverse(ctx, "top_3", []string{"AAA", "BBB", "CCC"},
		CategoryMarketLeaders, map[string]any{"source": "rerank"})
	if err != nil {
		t.Fatal(err)
	}
	cat.UpsertUniverse(ctx, "large_cap", []string{"AAA", "BBB"}, CategoryMarketCap, nil)

	e, err := cat.ReadUniverse(ctx, "top_3")
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || len(e.Symbols) != 3 || e.Symbols[0] != "AAA" {
		t.Fatalf("read: %+v", e)
	}
	if e.Metadata["source"] != "rerank" {
		t.Errorf("metadata: %v", e.Metadata)
	}

	// Replacement swaps the member set atomically, preserving order.
	if err := cat.UpsertUniverse(ctx, "top_3", []string{"CCC", "DDD"}, CategoryMarketLeaders, nil); err != nil {
		t.Fatal(err)
	}
	e, _ = cat.ReadUniverse(ctx, "top_3")
	if len(e.Symbols) != 2 || e.Symbols[0] != "CCC" || e.Symbols[1] != "DDD" {
		t.Fatalf("replace: %v", e.Symbols)
	}

	byCat, err := cat.ListUniversesByCategory(ctx, CategoryMarketCap)
	if err != nil {
		t.Fatal(err)
	}
	if len(byCat) != 1 || byCat[0].CacheKey != "large_cap" {
		t.Fatalf("by category: %+v", byCat)
	}

	all, err := cat.ListAllUniverses(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all: %+v", all)
	}

	// Missing universes come back nil.
	if e, err := cat.ReadUniverse(ctx, "nope"); err != nil || e != nil {
		t.Errorf("absent universe: %v, %v", e, err)
	}
}

func TestSQLite_DeleteSymbolEverywhere(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	cat.UpsertUniverse(ctx, "top_3", []string{"AAA", "DEAD"}, CategoryMarketLeaders, nil)
	cat.UpsertUniverse(ctx, "large_cap", []string{"DEAD"}, CategoryMarketCap, nil)
	cat.UpsertUniverse(ctx, "mid_cap", []string{"BBB"}, CategoryMarketCap, nil)

	keys, err := cat.DeleteSymbolFromAllUniverses(ctx, "DEAD")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 affected universes, got %v", keys)
	}
	e, _ := cat.ReadUniverse(ctx, "top_3")
	if e.Has("DEAD") || !e.Has("AAA") {
		t.Errorf("top_3 after delete: %v", e.Symbols)
	}

	// Deleting an unknown symbol touches nothing.
	keys, err = cat.DeleteSymbolFromAllUniverses(ctx, "GHOST")
	if err != nil || len(keys) != 0 {
		t.Errorf("ghost delete: %v, %v", keys, err)
	}
}

func TestSQLite_ChangeLog(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	changes := []Change{
		{Type: ChangeMarketCapRerank, Universe: "top_3", Symbol: "AAA", Action: ActionAdded, Reason: "rank"},
		{Type: ChangeDelistingCleanup, Universe: "top_3", Symbol: "DEAD", Action: ActionRemoved, Reason: "inactive",
			Metadata: map[string]any{"note": "test"}},
	}
	if err := cat.LogChanges(ctx, "20260310-120000", changes); err != nil {
		t.Fatal(err)
	}
	// Empty logs are a no-op.
	if err := cat.LogChanges(ctx, "20260310-120001", nil); err != nil {
		t.Fatal(err)
	}

	var n int
	row := cat.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_changes WHERE run_id = ?`, "20260310-120000")
	if err := row.Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 logged rows, got %d", n)
	}
}

func TestSQLite_EndToEndWithSynchronizer(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	listed := time.Now().AddDate(0, 0, -2)
	for _, s := range []SymbolInfo{
		{Symbol: "AAA", MarketCap: 50e9, Rank: 1, Active: true, ListedAt: time.Now().AddDate(-1, 0, 0)},
		{Symbol: "BBB", MarketCap: 5e9, Rank: 2, Active: true, ListedAt: time.Now().AddDate(-1, 0, 0)},
		{Symbol: "NEW", MarketCap: 1e9, Sector: "Energy", Active: true, ListedAt: listed},
	} {
		if err := cat.UpsertSymbol(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	sync := NewSynchronizer(cat, nil, nil, SyncConfig{TopSizes: []int{2}})
	res, err := sync.RunAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, tr := range res.Tasks {
		if tr.Err != "" {
			t.Errorf("task %s: %s", tr.Name, tr.Err)
		}
	}

	top, err := cat.ReadUniverse(ctx, "top_2")
	if err != nil {
		t.Fatal(err)
	}
	if top == nil || len(top.Symbols) != 2 {
		t.Fatalf("top_2: %+v", top)
	}
	sector, _ := cat.ReadUniverse(ctx, "sector_energy")
	if sector == nil || !sector.Has("NEW") {
		t.Errorf("ipo sector assignment missing: %+v", sector)
	}
}
