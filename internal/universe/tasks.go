package universe

import (
	"context"
	"fmt"
	"sort"
)

// taskMarketCapRerank rebuilds the top-N and cap-band universes from the
// ranked symbol list. Universes whose membership did not change are left
// untouched; changed ones are replaced atomically with one Change per
// added/removed symbol.
func (s *Synchronizer) taskMarketCapRerank(ctx context.Context) ([]Change, error) {
	ranked, err := s.cat.ListRankedSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	var changes []Change

	for _, n := range s.cfg.TopSizes {
		target := make([]string, 0, n)
		for i := 0; i < n && i < len(ranked); i++ {
			target = append(target, ranked[i].Symbol)
		}
		key := fmt.Sprintf("top_%d", n)
		cs, err := s.replaceUniverse(ctx, key, CategoryMarketLeaders, target,
			fmt.Sprintf("market cap rank within top %d", n))
		if err != nil {
			return changes, err
		}
		changes = append(changes, cs...)
	}

	bands := map[string][]string{"large_cap": nil, "mid_cap": nil, "small_cap": nil}
	for _, sym := range ranked {
		if band := CapBand(sym.MarketCap); band != "" {
			bands[band] = append(bands[band], sym.Symbol)
		}
	}
	for _, band := range []string{"large_cap", "mid_cap", "small_cap"} {
		cs, err := s.replaceUniverse(ctx, band, CategoryMarketCap, bands[band],
			"market cap band membership")
		if err != nil {
			return changes, err
		}
		changes = append(changes, cs...)
	}
	return changes, nil
}

// replaceUniverse diffs the target set against the stored one; when they
// differ the universe is replaced and the symmetric difference is emitted
// as Changes.
func (s *Synchronizer) replaceUniverse(ctx context.Context, key, category string, target []string, reason string) ([]Change, error) {
	prior, err := s.cat.ReadUniverse(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	var priorSyms []string
	if prior != nil {
		priorSyms = prior.Symbols
	}

	added, removed := diffSets(priorSyms, target)
	if len(added) == 0 && len(removed) == 0 && prior != nil {
		return nil, nil
	}

	if err := s.cat.UpsertUniverse(ctx, key, target, category, nil); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", key, err)
	}

	changes := make([]Change, 0, len(added)+len(removed))
	for _, sym := range added {
		changes = append(changes, Change{
			Type: ChangeMarketCapRerank, Universe: key, Symbol: sym,
			Action: ActionAdded, Reason: reason,
		})
	}
	for _, sym := range removed {
		changes = append(changes, Change{
			Type: ChangeMarketCapRerank, Universe: key, Symbol: sym,
			Action: ActionRemoved, Reason: reason,
		})
	}
	return changes, nil
}

// diffSets returns (in target not in prior, in prior not in target),
// preserving target/prior order.
func diffSets(prior, target []string) (added, removed []string) {
	priorSet := make(map[string]bool, len(prior))
	for _, s := range prior {
		priorSet[s] = true
	}
	targetSet := make(map[string]bool, len(target))
	for _, s := range target {
		targetSet[s] = true
	}
	for _, s := range target {
		if !priorSet[s] {
			added = append(added, s)
		}
	}
	for _, s := range prior {
		if !targetSet[s] {
			removed = append(removed, s)
		}
	}
	return added, removed
}

// taskIPOAssignment places recently listed symbols that belong to no
// universe yet. Targets come from the cap band, the sector mapping, and
// the type mapping; symbols matching none land in general_market (or
// small_cap_general below the mid-cap floor).
func (s *Synchronizer) taskIPOAssignment(ctx context.Context) ([]Change, error) {
	ipos, err := s.cat.ListRecentIPOs(ctx, s.cfg.IPODays)
	if err != nil {
		return nil, fmt.Errorf("ipo list: %w", err)
	}
	if len(ipos) == 0 {
		return nil, nil
	}

	all, err := s.cat.ListAllUniverses(ctx)
	if err != nil {
		return nil, fmt.Errorf("ipo universes: %w", err)
	}
	member := make(map[string]bool)
	for _, u := range all {
		for _, sym := range u.Symbols {
			member[sym] = true
		}
	}

	var changes []Change
	for _, ipo := range ipos {
		if member[ipo.Symbol] {
			continue
		}
		for _, target := range assignmentTargets(ipo) {
			cs, err := s.addToUniverse(ctx, target.key, target.category, ipo.Symbol,
				fmt.Sprintf("ipo assignment (listed %s)", ipo.ListedAt.Format("2006-01-02")))
			if err != nil {
				return changes, err
			}
			changes = append(changes, cs...)
		}
	}
	return changes, nil
}

type assignTarget struct {
	key      string
	category string
}

// assignmentTargets computes the universes a new listing joins.
func assignmentTargets(s SymbolInfo) []assignTarget {
	var targets []assignTarget
	if band := CapBand(s.MarketCap); band != "" {
		targets = append(targets, assignTarget{band, CategoryMarketCap})
	}
	if key := sectorKey(s.Sector); key != "" {
		targets = append(targets, assignTarget{key, CategorySector})
	}
	if s.Type == "ETF" {
		targets = append(targets, assignTarget{"etf_new_listings", CategoryETF})
	}
	if len(targets) == 0 {
		if s.MarketCap > 0 && s.MarketCap < MidCapFloor {
			return []assignTarget{{"small_cap_general", CategoryGeneral}}
		}
		return []assignTarget{{"general_market", CategoryGeneral}}
	}
	return targets
}

// addToUniverse appends one symbol, creating the universe if needed.
func (s *Synchronizer) addToUniverse(ctx context.Context, key, category, symbol, reason string) ([]Change, error) {
	prior, err := s.cat.ReadUniverse(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	var symbols []string
	if prior != nil {
		if prior.Has(symbol) {
			return nil, nil
		}
		symbols = prior.Symbols
		category = prior.Category
	}
	symbols = append(symbols, symbol)
	if err := s.cat.UpsertUniverse(ctx, key, symbols, category, nil); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", key, err)
	}
	return []Change{{
		Type: ChangeIPOAssignment, Universe: key, Symbol: symbol,
		Action: ActionAdded, Reason: reason,
	}}, nil
}

// taskDelistedCleanup removes symbols that appear in universes but are
// missing or inactive in the symbols catalog.
func (s *Synchronizer) taskDelistedCleanup(ctx context.Context) ([]Change, error) {
	all, err := s.cat.ListAllUniverses(ctx)
	if err != nil {
		return nil, fmt.Errorf("cleanup universes: %w", err)
	}

	seen := make(map[string]bool)
	var changes []Change
	for _, u := range all {
		for _, sym := range u.Symbols {
			if seen[sym] {
				continue
			}
			seen[sym] = true

			info, err := s.cat.SymbolInfo(ctx, sym)
			if err != nil {
				return changes, fmt.Errorf("cleanup info %s: %w", sym, err)
			}
			if info != nil && info.Active {
				continue
			}
			reason := "symbol missing from catalog"
			if info != nil {
				reason = "symbol inactive"
			}
			removedFrom, err := s.cat.DeleteSymbolFromAllUniverses(ctx, sym)
			if err != nil {
				return changes, fmt.Errorf("cleanup delete %s: %w", sym, err)
			}
			for _, key := range removedFrom {
				changes = append(changes, Change{
					Type: ChangeDelistingCleanup, Universe: key, Symbol: sym,
					Action: ActionRemoved, Reason: reason,
				})
			}
		}
	}
	return changes, nil
}

// taskThemeRebalance applies explicitly configured theme memberships.
// With no rules configured it is a no-op.
func (s *Synchronizer) taskThemeRebalance(ctx context.Context) ([]Change, error) {
	if len(s.cfg.ThemeRules) == 0 {
		return nil, nil
	}
	themes := make([]string, 0, len(s.cfg.ThemeRules))
	for theme := range s.cfg.ThemeRules {
		themes = append(themes, theme)
	}
	sort.Strings(themes)

	var changes []Change
	for _, theme := range themes {
		cs, err := s.replaceUniverse(ctx, "theme_"+theme, CategoryTheme, s.cfg.ThemeRules[theme], "configured theme rule")
		if err != nil {
			return changes, err
		}
		for i := range cs {
			cs[i].Type = ChangeThemeRebalance
		}
		changes = append(changes, cs...)
	}
	return changes, nil
}

// taskETFMaintenance touches every ETF-category universe and emits a
// trivial updated Change per universe.
func (s *Synchronizer) taskETFMaintenance(ctx context.Context) ([]Change, error) {
	etfs, err := s.cat.ListUniversesByCategory(ctx, CategoryETF)
	if err != nil {
		return nil, fmt.Errorf("etf list: %w", err)
	}
	var changes []Change
	for _, u := range etfs {
		if err := s.cat.TouchUniverse(ctx, u.CacheKey); err != nil {
			return changes, fmt.Errorf("etf touch %s: %w", u.CacheKey, err)
		}
		changes = append(changes, Change{
			Type: ChangeETFMaintenance, Universe: u.CacheKey,
			Action: ActionUpdated, Reason: "etf universe maintenance",
			Metadata: map[string]any{"symbols": len(u.Symbols)},
		})
	}
	return changes, nil
}
