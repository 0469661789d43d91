package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"rulelayer/internal/logging"
	"rulelayer/internal/rules"
)

// SQLiteStore is the local override store. It serves Fetch and ImportSeed.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) the database at path and ensures
// the override schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		logging.StoreError("Failed to initialize schema: %v", err)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("Opened override store at %s", path)
	return &SQLiteStore{db: db, path: path}, nil
}

// Close releases the database handle. Further calls fail with ErrStoreClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Fetch returns every raw record of the selected layer.
func (s *SQLiteStore) Fetch(ctx context.Context, sel Selector) (rules.RawBundle, error) {
	if err := sel.Validate(); err != nil {
		return rules.RawBundle{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return rules.RawBundle{}, ErrStoreClosed
	}

	where, orderBy, args := sel.scope(questionMark)
	var (
		b   rules.RawBundle
		err error
	)
	fetchers := []func() error{
		func() error { return s.fetchTokens(ctx, &b, where, orderBy, args) },
		func() error { return s.fetchHooks(ctx, &b, where, orderBy, args) },
		func() error { return s.fetchStopwords(ctx, &b, where, orderBy, args) },
		func() error { return s.fetchKPIs(ctx, &b, where, orderBy, args) },
		func() error { return s.fetchFormulas(ctx, &b, where, orderBy, args) },
		func() error { return s.fetchRecommendations(ctx, &b, where, orderBy, args) },
	}
	for _, fetch := range fetchers {
		if err = fetch(); err != nil {
			return rules.RawBundle{}, fmt.Errorf("fetch %s: %w", sel, err)
		}
	}
	logging.StoreDebug("Fetched %d records for %s (version %d)", b.RecordCount(), sel, b.Version)
	return b, nil
}

func (s *SQLiteStore) query(ctx context.Context, columns, table, where, orderBy string, args []any) (*sql.Rows, error) {
	q := "SELECT version, " + columns + " FROM " + table + " WHERE " + where + " ORDER BY " + orderBy
	return s.db.QueryContext(ctx, q, args...)
}

func (s *SQLiteStore) fetchTokens(ctx context.Context, b *rules.RawBundle, where, orderBy string, args []any) error {
	rows, err := s.query(ctx, "token, relevance", "token_overrides", where, orderBy, args)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			version   int
			rec       rules.RawTokenOverride
			relevance sql.NullFloat64
		)
		if err := rows.Scan(&version, &rec.Token, &relevance); err != nil {
			return err
		}
		b.Version = max(b.Version, version)
		if !relevance.Valid {
			logging.StoreDebug("token override %q skipped: relevance is NULL", rec.Token)
			continue
		}
		rec.Relevance = relevance.Float64
		b.Tokens = append(b.Tokens, rec)
	}
	return rows.Err()
}

func (s *SQLiteStore) fetchHooks(ctx context.Context, b *rules.RawBundle, where, orderBy string, args []any) error {
	rows, err := s.query(ctx, "hook_category, multiplier, keywords", "hook_overrides", where, orderBy, args)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			version    int
			rec        rules.RawHookOverride
			multiplier sql.NullFloat64
			keywords   sql.NullString
		)
		if err := rows.Scan(&version, &rec.HookCategory, &multiplier, &keywords); err != nil {
			return err
		}
		if multiplier.Valid {
			m := multiplier.Float64
			rec.Multiplier = &m
		}
		rec.Keywords = decodeKeywords([]byte(keywords.String), rec.HookCategory)
		b.Version = max(b.Version, version)
		b.Hooks = append(b.Hooks, rec)
	}
	return rows.Err()
}

func (s *SQLiteStore) fetchStopwords(ctx context.Context, b *rules.RawBundle, where, orderBy string, args []any) error {
	rows, err := s.query(ctx, "stopwords", "stopword_overrides", where, orderBy, args)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var version int
		var raw sql.NullString
		if err := rows.Scan(&version, &raw); err != nil {
			return err
		}
		b.Version = max(b.Version, version)
		b.Stopwords = append(b.Stopwords, rules.RawStopwordRecord{Stopwords: decodeUntyped([]byte(raw.String))})
	}
	return rows.Err()
}

func (s *SQLiteStore) fetchKPIs(ctx context.Context, b *rules.RawBundle, where, orderBy string, args []any) error {
	rows, err := s.query(ctx, "kpi_id, multiplier", "kpi_overrides", where, orderBy, args)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			version    int
			rec        rules.RawKPIOverride
			multiplier sql.NullFloat64
		)
		if err := rows.Scan(&version, &rec.KPIID, &multiplier); err != nil {
			return err
		}
		if multiplier.Valid {
			m := multiplier.Float64
			rec.Multiplier = &m
		}
		b.Version = max(b.Version, version)
		b.KPIs = append(b.KPIs, rec)
	}
	return rows.Err()
}

func (s *SQLiteStore) fetchFormulas(ctx context.Context, b *rules.RawBundle, where, orderBy string, args []any) error {
	rows, err := s.query(ctx, "formula_id, override_payload", "formula_overrides", where, orderBy, args)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var version int
		var rec rules.RawFormulaOverride
		var payload sql.NullString
		if err := rows.Scan(&version, &rec.FormulaID, &payload); err != nil {
			return err
		}
		rec.Payload = decodePayload([]byte(payload.String), rec.FormulaID)
		b.Version = max(b.Version, version)
		b.Formulas = append(b.Formulas, rec)
	}
	return rows.Err()
}

func (s *SQLiteStore) fetchRecommendations(ctx context.Context, b *rules.RawBundle, where, orderBy string, args []any) error {
	rows, err := s.query(ctx, "recommendation_id, message", "recommendation_overrides", where, orderBy, args)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var version int
		var rec rules.RawRecommendation
		if err := rows.Scan(&version, &rec.RecommendationID, &rec.Message); err != nil {
			return err
		}
		b.Version = max(b.Version, version)
		b.Recommendations = append(b.Recommendations, rec)
	}
	return rows.Err()
}

// ImportSeed replaces every seeded layer with the seed's rows. Each layer is
// replaced in its own transaction; a failure leaves earlier layers imported.
func (s *SQLiteStore) ImportSeed(ctx context.Context, seed SeedFile) (ImportResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ImportResult{}, ErrStoreClosed
	}

	res := ImportResult{BatchID: uuid.NewString()}
	for i, layer := range seed.Layers {
		sel, err := layer.Selector()
		if err != nil {
			return res, fmt.Errorf("seed layer %d: %w", i, err)
		}
		n, err := s.replaceLayer(ctx, sel, layer, res.BatchID)
		if err != nil {
			logging.StoreError("Import of %s failed: %v", sel, err)
			return res, fmt.Errorf("import %s: %w", sel, err)
		}
		res.Layers++
		res.Records += n
	}
	logging.Store("Imported %d layers (%d records), batch %s", res.Layers, res.Records, res.BatchID)
	return res, nil
}

func (s *SQLiteStore) replaceLayer(ctx context.Context, sel Selector, layer SeedLayer, batchID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	where, whereArgs := sel.exactScope(questionMark)
	for _, table := range overrideTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+where, whereArgs...); err != nil {
			return 0, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	scope := []any{sel.Vertical, sel.Market, sel.OrganizationID, sel.AppID, layer.version(), batchID}
	insert := func(table string, columns []string, values ...any) error {
		cols := append([]string{"vertical", "market", "organization_id", "app_id", "version", "batch_id"}, columns...)
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		q := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + marks + ")"
		_, err := tx.ExecContext(ctx, q, append(append([]any{}, scope...), values...)...)
		if err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		return nil
	}

	n := 0
	for _, t := range layer.Tokens {
		if err := insert("token_overrides", []string{"token", "relevance"}, t.Token, t.Relevance); err != nil {
			return 0, err
		}
		n++
	}
	for _, h := range layer.Hooks {
		keywords, err := encodeJSON(h.Keywords)
		if err != nil {
			return 0, err
		}
		if err := insert("hook_overrides", []string{"hook_category", "multiplier", "keywords"}, h.HookCategory, nullableFloat(h.Multiplier), keywords); err != nil {
			return 0, err
		}
		n++
	}
	if len(layer.Stopwords) > 0 {
		words, err := encodeJSON(layer.Stopwords)
		if err != nil {
			return 0, err
		}
		if err := insert("stopword_overrides", []string{"stopwords"}, words); err != nil {
			return 0, err
		}
		n++
	}
	for _, k := range layer.KPIs {
		if err := insert("kpi_overrides", []string{"kpi_id", "multiplier"}, k.KPIID, nullableFloat(k.Multiplier)); err != nil {
			return 0, err
		}
		n++
	}
	for _, f := range layer.Formulas {
		payload, err := encodeJSON(f.Payload)
		if err != nil {
			return 0, err
		}
		if err := insert("formula_overrides", []string{"formula_id", "override_payload"}, f.FormulaID, payload); err != nil {
			return 0, err
		}
		n++
	}
	for _, r := range layer.Recommendations {
		if err := insert("recommendation_overrides", []string{"recommendation_id", "message"}, r.RecommendationID, r.Message); err != nil {
			return 0, err
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	logging.StoreDebug("Replaced %s with %d records", sel, n)
	return n, nil
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
