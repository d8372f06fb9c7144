package universe

import (
	"context"
	"testing"

	"tickstock/internal/pcache"
)

func TestPrioritySource(t *testing.T) {
	cat := newFakeCatalog()
	ctx := context.Background()
	cat.UpsertUniverse(ctx, SecondaryUniverseKey, []string{"AAPL", "MSFT", "XOM", "KO"}, CategoryMarketLeaders, nil)
	cat.UpsertUniverse(ctx, TopUniverseKey, []string{"AAPL", "MSFT"}, CategoryMarketLeaders, nil)

	src := NewPrioritySource(cat)
	m, err := src.ListPrioritySymbols(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Top membership wins over secondary.
	for _, sym := range []string{"AAPL", "MSFT"} {
		if m[sym] != pcache.ClassTop {
			t.Errorf("%s: expected top, got %s", sym, m[sym])
		}
	}
	for _, sym := range []string{"XOM", "KO"} {
		if m[sym] != pcache.ClassSecondary {
			t.Errorf("%s: expected secondary, got %s", sym, m[sym])
		}
	}
	if len(m) != 4 {
		t.Errorf("expected 4 symbols, got %d", len(m))
	}
}

func TestPrioritySource_MissingUniverses(t *testing.T) {
	src := NewPrioritySource(newFakeCatalog())
	m, err := src.ListPrioritySymbols(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 0 {
		t.Errorf("expected empty mapping, got %v", m)
	}
}
