package store

// Every override table carries the same scope columns. Absent scope values are
// stored as '' so uniqueness and lookups never have to reason about NULL.
// Stopword lists, hook keywords and formula payloads are JSON text.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS token_overrides (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vertical TEXT NOT NULL DEFAULT '',
	market TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	app_id TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 1,
	batch_id TEXT NOT NULL DEFAULT '',
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	token TEXT NOT NULL,
	relevance REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS hook_overrides (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vertical TEXT NOT NULL DEFAULT '',
	market TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	app_id TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 1,
	batch_id TEXT NOT NULL DEFAULT '',
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	hook_category TEXT NOT NULL,
	multiplier REAL,
	keywords TEXT
);

CREATE TABLE IF NOT EXISTS stopword_overrides (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vertical TEXT NOT NULL DEFAULT '',
	market TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	app_id TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 1,
	batch_id TEXT NOT NULL DEFAULT '',
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	stopwords TEXT
);

CREATE TABLE IF NOT EXISTS kpi_overrides (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vertical TEXT NOT NULL DEFAULT '',
	market TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	app_id TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 1,
	batch_id TEXT NOT NULL DEFAULT '',
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	kpi_id TEXT NOT NULL,
	multiplier REAL
);

CREATE TABLE IF NOT EXISTS formula_overrides (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vertical TEXT NOT NULL DEFAULT '',
	market TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	app_id TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 1,
	batch_id TEXT NOT NULL DEFAULT '',
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	formula_id TEXT NOT NULL,
	override_payload TEXT
);

CREATE TABLE IF NOT EXISTS recommendation_overrides (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vertical TEXT NOT NULL DEFAULT '',
	market TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	app_id TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 1,
	batch_id TEXT NOT NULL DEFAULT '',
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	recommendation_id TEXT NOT NULL,
	message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_token_overrides_scope ON token_overrides(vertical, market, organization_id, app_id);
CREATE INDEX IF NOT EXISTS idx_hook_overrides_scope ON hook_overrides(vertical, market, organization_id, app_id);
CREATE INDEX IF NOT EXISTS idx_stopword_overrides_scope ON stopword_overrides(vertical, market, organization_id, app_id);
CREATE INDEX IF NOT EXISTS idx_kpi_overrides_scope ON kpi_overrides(vertical, market, organization_id, app_id);
CREATE INDEX IF NOT EXISTS idx_formula_overrides_scope ON formula_overrides(vertical, market, organization_id, app_id);
CREATE INDEX IF NOT EXISTS idx_recommendation_overrides_scope ON recommendation_overrides(vertical, market, organization_id, app_id);
`

// PostgresSchema is the equivalent DDL for the read-only Postgres adapter.
// Payload columns are jsonb.
const PostgresSchema = `
CREATE SCHEMA IF NOT EXISTS rulelayer;

CREATE TABLE IF NOT EXISTS rulelayer.token_overrides (
	id bigserial PRIMARY KEY,
	vertical text NOT NULL DEFAULT '',
	market text NOT NULL DEFAULT '',
	organization_id text NOT NULL DEFAULT '',
	app_id text NOT NULL DEFAULT '',
	version integer NOT NULL DEFAULT 1,
	updated_at timestamptz NOT NULL DEFAULT now(),
	token text NOT NULL,
	relevance double precision NOT NULL
);

CREATE TABLE IF NOT EXISTS rulelayer.hook_overrides (
	id bigserial PRIMARY KEY,
	vertical text NOT NULL DEFAULT '',
	market text NOT NULL DEFAULT '',
	organization_id text NOT NULL DEFAULT '',
	app_id text NOT NULL DEFAULT '',
	version integer NOT NULL DEFAULT 1,
	updated_at timestamptz NOT NULL DEFAULT now(),
	hook_category text NOT NULL,
	multiplier double precision,
	keywords jsonb
);

CREATE TABLE IF NOT EXISTS rulelayer.stopword_overrides (
	id bigserial PRIMARY KEY,
	vertical text NOT NULL DEFAULT '',
	market text NOT NULL DEFAULT '',
	organization_id text NOT NULL DEFAULT '',
	app_id text NOT NULL DEFAULT '',
	version integer NOT NULL DEFAULT 1,
	updated_at timestamptz NOT NULL DEFAULT now(),
	stopwords jsonb
);

CREATE TABLE IF NOT EXISTS rulelayer.kpi_overrides (
	id bigserial PRIMARY KEY,
	vertical text NOT NULL DEFAULT '',
	market text NOT NULL DEFAULT '',
	organization_id text NOT NULL DEFAULT '',
	app_id text NOT NULL DEFAULT '',
	version integer NOT NULL DEFAULT 1,
	updated_at timestamptz NOT NULL DEFAULT now(),
	kpi_id text NOT NULL,
	multiplier double precision
);

CREATE TABLE IF NOT EXISTS rulelayer.formula_overrides (
	id bigserial PRIMARY KEY,
	vertical text NOT NULL DEFAULT '',
	market text NOT NULL DEFAULT '',
	organization_id text NOT NULL DEFAULT '',
	app_id text NOT NULL DEFAULT '',
	version integer NOT NULL DEFAULT 1,
	updated_at timestamptz NOT NULL DEFAULT now(),
	formula_id text NOT NULL,
	override_payload jsonb
);

CREATE TABLE IF NOT EXISTS rulelayer.recommendation_overrides (
	id bigserial PRIMARY KEY,
	vertical text NOT NULL DEFAULT '',
	market text NOT NULL DEFAULT '',
	organization_id text NOT NULL DEFAULT '',
	app_id text NOT NULL DEFAULT '',
	version integer NOT NULL DEFAULT 1,
	updated_at timestamptz NOT NULL DEFAULT now(),
	recommendation_id text NOT NULL,
	message text NOT NULL
);
`

var overrideTables = []string{
	"token_overrides",
	"hook_overrides",
	"stopword_overrides",
	"kpi_overrides",
	"formula_overrides",
	"recommendation_overrides",
}
