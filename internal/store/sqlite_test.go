package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulelayer/internal/rules"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "overrides.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func importSample(t *testing.T, s *SQLiteStore) ImportResult {
	t.Helper()
	seed, err := ParseSeed([]byte(sampleSeed))
	require.NoError(t, err)
	res, err := s.ImportSeed(context.Background(), seed)
	require.NoError(t, err)
	return res
}

func TestSQLite_ImportAndFetchVertical(t *testing.T) {
	s := newTestSQLite(t)
	res := importSample(t, s)

	assert.NotEmpty(t, res.BatchID)
	assert.Equal(t, 4, res.Layers)
	assert.Equal(t, 8, res.Records)

	b, err := s.Fetch(context.Background(), VerticalSelector("games"))
	require.NoError(t, err)

	assert.Equal(t, 3, b.Version)
	assert.Equal(t, []rules.RawTokenOverride{{Token: "RPG", Relevance: 3}, {Token: "idle", Relevance: 9}}, b.Tokens)
	require.Len(t, b.Hooks, 1)
	assert.Equal(t, []string{"friends", "clan"}, b.Hooks[0].Keywords)
	require.Len(t, b.Stopwords, 1)
	assert.Equal(t, []any{"game", "games"}, b.Stopwords[0].Stopwords)
}

func TestSQLite_FormulaPayloadRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	importSample(t, s)

	b, err := s.Fetch(context.Background(), MarketSelector("de"))
	require.NoError(t, err)
	require.Len(t, b.Formulas, 1)

	n := rules.Normalize(b, MarketSelector("de").Meta())
	assert.Equal(t, 1.2, n.Formulas["clarity"].Multiplier)
	assert.Equal(t, map[string]float64{"weightA": 3.0}, n.Formulas["clarity"].Components)
	assert.Equal(t, 1, b.Version)
}

func TestSQLite_ClientAppRowsWin(t *testing.T) {
	s := newTestSQLite(t)
	importSample(t, s)
	ctx := context.Background()

	orgOnly, err := s.Fetch(ctx, ClientSelector("org-1", ""))
	require.NoError(t, err)
	require.Len(t, orgOnly.KPIs, 1)
	assert.Equal(t, 1.5, *orgOnly.KPIs[0].Multiplier)

	withApp, err := s.Fetch(ctx, ClientSelector("org-1", "app-7"))
	require.NoError(t, err)
	require.Len(t, withApp.KPIs, 2)
	assert.Equal(t, 2, withApp.Version)
	assert.Len(t, withApp.Recommendations, 1)

	n := rules.Normalize(withApp, ClientSelector("org-1", "app-7").Meta())
	assert.Equal(t, 1.9, n.KPIWeights["conversion"])

	other, err := s.Fetch(ctx, ClientSelector("org-1", "app-8"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, *other.KPIs[0].Multiplier, "other apps see only org-wide rows")
}

func TestSQLite_ReimportReplacesLayer(t *testing.T) {
	s := newTestSQLite(t)
	importSample(t, s)
	ctx := context.Background()

	_, err := s.ImportSeed(ctx, SeedFile{Layers: []SeedLayer{{
		Vertical: "games",
		Version:  4,
		Tokens:   []rules.RawTokenOverride{{Token: "roguelike", Relevance: 2}},
	}}})
	require.NoError(t, err)

	b, err := s.Fetch(ctx, VerticalSelector("games"))
	require.NoError(t, err)
	assert.Equal(t, []rules.RawTokenOverride{{Token: "roguelike", Relevance: 2}}, b.Tokens)
	assert.Empty(t, b.Hooks)
	assert.Empty(t, b.Stopwords)
	assert.Equal(t, 4, b.Version)

	de, err := s.Fetch(ctx, MarketSelector("de"))
	require.NoError(t, err)
	assert.Len(t, de.Formulas, 1, "other layers untouched")
}

func TestSQLite_UnknownLayerIsEmpty(t *testing.T) {
	s := newTestSQLite(t)

	b, err := s.Fetch(context.Background(), VerticalSelector("astrology"))
	require.NoError(t, err)
	assert.Equal(t, 0, b.RecordCount())
	assert.Equal(t, 0, b.Version)
}

func TestSQLite_MalformedJSONColumnsDegrade(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.db.Exec(`INSERT INTO stopword_overrides (vertical, stopwords) VALUES ('games', '{"not":"an array"}')`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO stopword_overrides (vertical, stopwords) VALUES ('games', 'not json')`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO hook_overrides (vertical, hook_category, multiplier, keywords) VALUES ('games', 'social', NULL, '[1,2]')`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO formula_overrides (vertical, formula_id, override_payload) VALUES ('games', 'clarity', '[]')`)
	require.NoError(t, err)

	b, err := s.Fetch(context.Background(), VerticalSelector("games"))
	require.NoError(t, err)

	require.Len(t, b.Stopwords, 2)
	assert.Nil(t, b.Stopwords[1].Stopwords)
	require.Len(t, b.Hooks, 1)
	assert.Nil(t, b.Hooks[0].Multiplier)
	assert.Nil(t, b.Hooks[0].Keywords)
	assert.Nil(t, b.Formulas[0].Payload)

	n := rules.Normalize(b, VerticalSelector("games").Meta())
	assert.Empty(t, n.Stopwords)
	assert.Equal(t, 1.0, n.Hooks["social"].Multiplier)
	assert.Equal(t, 1.0, n.Formulas["clarity"].Multiplier)
}

func TestSQLite_NullRelevanceRowIsSkipped(t *testing.T) {
	s := newTestSQLite(t)
	// Tables created by older tooling may allow NULL relevance.
	_, err := s.db.Exec(`DROP TABLE token_overrides`)
	require.NoError(t, err)
	_, err = s.db.Exec(`CREATE TABLE token_overrides (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vertical TEXT NOT NULL DEFAULT '',
		market TEXT NOT NULL DEFAULT '',
		organization_id TEXT NOT NULL DEFAULT '',
		app_id TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		batch_id TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		token TEXT NOT NULL,
		relevance REAL
	)`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO token_overrides (vertical, version, token, relevance) VALUES ('games', 2, 'rpg', NULL), ('games', 3, 'idle', 2)`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO kpi_overrides (vertical, kpi_id, multiplier) VALUES ('games', 'ctr', 1.2)`)
	require.NoError(t, err)

	b, err := s.Fetch(context.Background(), VerticalSelector("games"))
	require.NoError(t, err)

	assert.Equal(t, []rules.RawTokenOverride{{Token: "idle", Relevance: 2}}, b.Tokens)
	require.Len(t, b.KPIs, 1)
	assert.Equal(t, 3, b.Version)
}

func TestSQLite_InvalidSelectorAndClosed(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.Fetch(ctx, Selector{})
	assert.ErrorIs(t, err, ErrInvalidSelector)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Fetch(ctx, VerticalSelector("games"))
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.ImportSeed(ctx, SeedFile{})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestSQLite_FetchHonoursCancelledContext(t *testing.T) {
	s := newTestSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Fetch(ctx, VerticalSelector("games"))
	assert.ErrorIs(t, err, context.Canceled)
}
