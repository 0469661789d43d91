package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rulelayer/internal/logging"
	"rulelayer/internal/rules"
)

// Querier is the subset of *pgxpool.Pool the Postgres adapter needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads overrides from the rulelayer schema. It is read-only:
// layers are edited through the admin tooling that owns that database.
type PostgresStore struct {
	q      Querier
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// NewPostgresStore wraps an existing querier. Close does not close it.
func NewPostgresStore(q Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

// OpenPostgres connects a pool to dsn and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	logging.Store("Connected to postgres override store")
	return &PostgresStore{q: pool, pool: pool}, nil
}

// Close closes the owned pool, if any.
func (s *PostgresStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Each category is aggregated server-side into one JSON array so a layer
// costs one round trip per table and the adapter only needs QueryRow.
type pgCategory struct {
	table  string
	object string
	decode func(data []byte, b *rules.RawBundle) error
}

var pgCategories = []pgCategory{
	{
		table:  "token_overrides",
		object: "json_build_object('token', token, 'relevance', relevance)",
		decode: func(data []byte, b *rules.RawBundle) error {
			return json.Unmarshal(data, &b.Tokens)
		},
	},
	{
		table:  "hook_overrides",
		object: "json_build_object('hook_category', hook_category, 'multiplier', multiplier, 'keywords', keywords)",
		decode: func(data []byte, b *rules.RawBundle) error {
			var rows []struct {
				HookCategory string          `json:"hook_category"`
				Multiplier   *float64        `json:"multiplier"`
				Keywords     json.RawMessage `json:"keywords"`
			}
			if err := json.Unmarshal(data, &rows); err != nil {
				return err
			}
			for _, r := range rows {
				b.Hooks = append(b.Hooks, rules.RawHookOverride{
					HookCategory: r.HookCategory,
					Multiplier:   r.Multiplier,
					Keywords:     decodeKeywords(r.Keywords, r.HookCategory),
				})
			}
			return nil
		},
	},
	{
		table:  "stopword_overrides",
		object: "json_build_object('stopwords', stopwords)",
		decode: func(data []byte, b *rules.RawBundle) error {
			return json.Unmarshal(data, &b.Stopwords)
		},
	},
	{
		table:  "kpi_overrides",
		object: "json_build_object('kpi_id', kpi_id, 'multiplier', multiplier)",
		decode: func(data []byte, b *rules.RawBundle) error {
			return json.Unmarshal(data, &b.KPIs)
		},
	},
	{
		table:  "formula_overrides",
		object: "json_build_object('formula_id', formula_id, 'override_payload', override_payload)",
		decode: func(data []byte, b *rules.RawBundle) error {
			var rows []struct {
				FormulaID string          `json:"formula_id"`
				Payload   json.RawMessage `json:"override_payload"`
			}
			if err := json.Unmarshal(data, &rows); err != nil {
				return err
			}
			for _, r := range rows {
				b.Formulas = append(b.Formulas, rules.RawFormulaOverride{
					FormulaID: r.FormulaID,
					Payload:   decodePayload(r.Payload, r.FormulaID),
				})
			}
			return nil
		},
	},
	{
		table:  "recommendation_overrides",
		object: "json_build_object('recommendation_id', recommendation_id, 'message', message)",
		decode: func(data []byte, b *rules.RawBundle) error {
			return json.Unmarshal(data, &b.Recommendations)
		},
	},
}

// Fetch returns every raw record of the selected layer.
func (s *PostgresStore) Fetch(ctx context.Context, sel Selector) (rules.RawBundle, error) {
	if err := sel.Validate(); err != nil {
		return rules.RawBundle{}, err
	}
	if s.closed.Load() {
		return rules.RawBundle{}, ErrStoreClosed
	}

	where, orderBy, args := sel.scope(dollar)
	var b rules.RawBundle
	for _, c := range pgCategories {
		q := fmt.Sprintf(
			"SELECT coalesce(max(version), 0), coalesce(json_agg(%s ORDER BY %s), '[]'::json)::text FROM rulelayer.%s WHERE %s",
			c.object, orderBy, c.table, where,
		)
		var (
			version int
			data    string
		)
		if err := s.q.QueryRow(ctx, q, args...).Scan(&version, &data); err != nil {
			return rules.RawBundle{}, fmt.Errorf("fetch %s from %s: %w", sel, c.table, err)
		}
		if err := c.decode([]byte(data), &b); err != nil {
			return rules.RawBundle{}, fmt.Errorf("decode %s rows for %s: %w", c.table, sel, err)
		}
		b.Version = max(b.Version, version)
	}
	logging.StoreDebug("Fetched %d records for %s from postgres (version %d)", b.RecordCount(), sel, b.Version)
	return b, nil
}
