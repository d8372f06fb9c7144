package universe

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCatalog is the Catalog implementation over a local SQLite file,
// opened in WAL mode with a single writer connection.
type SQLiteCatalog struct {
	db *sql.DB
}

// DB returns the underlying handle for health checks.
func (c *SQLiteCatalog) DB() *sql.DB { return c.db }

// OpenSQLite opens (and initializes) the catalog database.
func OpenSQLite(path string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}
	log.Printf("[catalog] opened database at %s", path)
	return &SQLiteCatalog{db: db}, nil
}

// Close closes the database.
func (c *SQLiteCatalog) Close() error { return c.db.Close() }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS symbols (
			symbol     TEXT PRIMARY KEY,
			name       TEXT,
			sector     TEXT,
			type       TEXT,
			market_cap REAL,
			rank       INTEGER,
			active     INTEGER NOT NULL DEFAULT 1,
			listed_at  INTEGER
		);

		CREATE TABLE IF NOT EXISTS universes (
			cache_key    TEXT PRIMARY KEY,
			category     TEXT,
			metadata     TEXT,
			last_updated INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS universe_symbols (
			cache_key TEXT NOT NULL,
			symbol    TEXT NOT NULL,
			position  INTEGER NOT NULL,
			PRIMARY KEY (cache_key, symbol)
		);

		CREATE TABLE IF NOT EXISTS sync_changes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			type       TEXT NOT NULL,
			universe   TEXT,
			symbol     TEXT,
			action     TEXT NOT NULL,
			reason     TEXT,
			metadata   TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_universe_symbols_symbol
			ON universe_symbols (symbol);
		CREATE INDEX IF NOT EXISTS idx_symbols_rank ON symbols (rank);
	`)
	return err
}

// UpsertSymbol inserts or replaces a symbol row. Used by EOD loaders and tests.
func (c *SQLiteCatalog) UpsertSymbol(ctx context.Context, s SymbolInfo) error {
	active := 0
	if s.Active {
		active = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO symbols (symbol, name, sector, type, market_cap, rank, active, listed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name=excluded.name, sector=excluded.sector, type=excluded.type,
			market_cap=excluded.market_cap, rank=excluded.rank,
			active=excluded.active, listed_at=excluded.listed_at`,
		s.Symbol, s.Name, s.Sector, s.Type, s.MarketCap, s.Rank, active, s.ListedAt.Unix())
	return err
}

// ListRankedSymbols returns active symbols ordered by rank ascending.
func (c *SQLiteCatalog) ListRankedSymbols(ctx context.Context) ([]SymbolInfo, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT symbol, name, sector, type, market_cap, rank, active, listed_at
		FROM symbols WHERE active = 1 AND rank > 0 ORDER BY rank ASC`)
	if err != nil {
		return nil, fmt.Errorf("list ranked: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// ListRecentIPOs returns active symbols listed within the last `days` days.
func (c *SQLiteCatalog) ListRecentIPOs(ctx context.Context, days int) ([]SymbolInfo, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	rows, err := c.db.QueryContext(ctx, `
		SELECT symbol, name, sector, type, market_cap, rank, active, listed_at
		FROM symbols WHERE active = 1 AND listed_at >= ? ORDER BY listed_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list ipos: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func scanSymbols(rows *sql.Rows) ([]SymbolInfo, error) {
	var out []SymbolInfo
	for rows.Next() {
		var s SymbolInfo
		var active int
		var listedAt int64
		if err := rows.Scan(&s.Symbol, &s.Name, &s.Sector, &s.Type, &s.MarketCap, &s.Rank, &active, &listedAt); err != nil {
			return nil, err
		}
		s.Active = active == 1
		s.ListedAt = time.Unix(listedAt, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// SymbolInfo returns one symbol row, or nil if absent.
func (c *SQLiteCatalog) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT symbol, name, sector, type, market_cap, rank, active, listed_at
		FROM symbols WHERE symbol = ?`, symbol)
	var s SymbolInfo
	var active int
	var listedAt int64
	err := row.Scan(&s.Symbol, &s.Name, &s.Sector, &s.Type, &s.MarketCap, &s.Rank, &active, &listedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbol info: %w", err)
	}
	s.Active = active == 1
	s.ListedAt = time.Unix(listedAt, 0).UTC()
	return &s, nil
}

// ReadUniverse returns a universe entry, or nil if absent.
func (c *SQLiteCatalog) ReadUniverse(ctx context.Context, cacheKey string) (*Entry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT cache_key, category, metadata, last_updated FROM universes WHERE cache_key = ?`, cacheKey)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read universe: %w", err)
	}
	if err := c.loadSymbols(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var meta sql.NullString
	var updated int64
	if err := row.Scan(&e.CacheKey, &e.Category, &meta, &updated); err != nil {
		return nil, err
	}
	e.LastUpdated = time.Unix(updated, 0).UTC()
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &e.Metadata)
	}
	return &e, nil
}

func (c *SQLiteCatalog) loadSymbols(ctx context.Context, e *Entry) error {
	rows, err := c.db.QueryContext(ctx,
		`SELECT symbol FROM universe_symbols WHERE cache_key = ? ORDER BY position ASC`, e.CacheKey)
	if err != nil {
		return fmt.Errorf("load symbols: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return err
		}
		e.Symbols = append(e.Symbols, s)
	}
	return rows.Err()
}

// UpsertUniverse atomically replaces a universe's symbol set and metadata.
func (c *SQLiteCatalog) UpsertUniverse(ctx context.Context, cacheKey string, symbols []string, category string, metadata map[string]any) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert universe: %w", err)
	}
	defer tx.Rollback()

	var meta []byte
	if metadata != nil {
		meta, _ = json.Marshal(metadata)
	}
	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO universes (cache_key, category, metadata, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			category=excluded.category, metadata=excluded.metadata,
			last_updated=excluded.last_updated`,
		cacheKey, category, string(meta), now); err != nil {
		return fmt.Errorf("upsert universe row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM universe_symbols WHERE cache_key = ?`, cacheKey); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	for i, sym := range symbols {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO universe_symbols (cache_key, symbol, position) VALUES (?, ?, ?)`,
			cacheKey, sym, i); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return tx.Commit()
}

// ListUniversesByCategory returns universes in a category, symbols loaded.
func (c *SQLiteCatalog) ListUniversesByCategory(ctx context.Context, category string) ([]Entry, error) {
	return c.listUniverses(ctx,
		`SELECT cache_key, category, metadata, last_updated FROM universes WHERE category = ? ORDER BY cache_key`, category)
}

// ListAllUniverses returns every universe, symbols loaded.
func (c *SQLiteCatalog) ListAllUniverses(ctx context.Context) ([]Entry, error) {
	return c.listUniverses(ctx,
		`SELECT cache_key, category, metadata, last_updated FROM universes ORDER BY cache_key`)
}

func (c *SQLiteCatalog) listUniverses(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list universes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := c.loadSymbols(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteSymbolFromAllUniverses removes a symbol everywhere it appears and
// returns the affected universe keys.
func (c *SQLiteCatalog) DeleteSymbolFromAllUniverses(ctx context.Context, symbol string) ([]string, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("delete symbol: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT cache_key FROM universe_symbols WHERE symbol = ?`, symbol)
	if err != nil {
		return nil, fmt.Errorf("delete symbol lookup: %w", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(keys) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM universe_symbols WHERE symbol = ?`, symbol); err != nil {
			return nil, fmt.Errorf("delete symbol rows: %w", err)
		}
		now := time.Now().Unix()
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx,
				`UPDATE universes SET last_updated = ? WHERE cache_key = ?`, now, k); err != nil {
				return nil, fmt.Errorf("touch universe: %w", err)
			}
		}
	}
	return keys, tx.Commit()
}

// TouchUniverse refreshes last_updated.
func (c *SQLiteCatalog) TouchUniverse(ctx context.Context, cacheKey string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE universes SET last_updated = ? WHERE cache_key = ?`, time.Now().Unix(), cacheKey)
	return err
}

// LogChanges persists the change log for one synchronizer run.
func (c *SQLiteCatalog) LogChanges(ctx context.Context, runID string, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("log changes: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, ch := range changes {
		var meta []byte
		if ch.Metadata != nil {
			meta, _ = json.Marshal(ch.Metadata)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sync_changes (run_id, type, universe, symbol, action, reason, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, ch.Type, ch.Universe, ch.Symbol, ch.Action, ch.Reason, string(meta), now); err != nil {
			return fmt.Errorf("insert change: %w", err)
		}
	}
	return tx.Commit()
}
