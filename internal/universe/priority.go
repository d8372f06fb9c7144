package universe

import (
	"context"

	"tickstock/internal/pcache"
)

// Top and secondary priority universes consulted by the priority cache.
const (
	TopUniverseKey       = "top_100"
	SecondaryUniverseKey = "top_500"
)

// PrioritySource adapts the catalog to the priority cache: symbols in the
// top universe are ClassTop, the rest of the secondary universe is
// ClassSecondary.
type PrioritySource struct {
	cat Catalog
}

// NewPrioritySource creates the adapter.
func NewPrioritySource(cat Catalog) *PrioritySource {
	return &PrioritySource{cat: cat}
}

// ListPrioritySymbols implements pcache.Source.
func (p *PrioritySource) ListPrioritySymbols(ctx context.Context) (map[string]pcache.Class, error) {
	out := make(map[string]pcache.Class)

	secondary, err := p.cat.ReadUniverse(ctx, SecondaryUniverseKey)
	if err != nil {
		return nil, err
	}
	if secondary != nil {
		for _, sym := range secondary.Symbols {
			out[sym] = pcache.ClassSecondary
		}
	}

	top, err := p.cat.ReadUniverse(ctx, TopUniverseKey)
	if err != nil {
		return nil, err
	}
	if top != nil {
		for _, sym := range top.Symbols {
			out[sym] = pcache.ClassTop
		}
	}
	return out, nil
}
