package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulelayer/internal/rules"
)

func TestMemoryStore_PutFetch(t *testing.T) {
	m := NewMemoryStore()
	sel := VerticalSelector("games")
	m.Put(sel, rules.RawBundle{Version: 2, Tokens: []rules.RawTokenOverride{{Token: "rpg", Relevance: 3}}})

	b, err := m.Fetch(context.Background(), sel)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Version)
	assert.Equal(t, 1, m.Calls(sel))

	empty, err := m.Fetch(context.Background(), MarketSelector("us"))
	require.NoError(t, err)
	assert.Zero(t, empty.RecordCount())
}

func TestMemoryStore_InjectedFailure(t *testing.T) {
	m := NewMemoryStore()
	sel := MarketSelector("us")
	boom := errors.New("boom")

	m.FailWith(sel, boom)
	_, err := m.Fetch(context.Background(), sel)
	assert.ErrorIs(t, err, boom)

	m.FailWith(sel, nil)
	_, err = m.Fetch(context.Background(), sel)
	assert.NoError(t, err)
}

func TestMemoryStore_DelayRespectsContext(t *testing.T) {
	m := NewMemoryStore()
	sel := ClientSelector("org-1", "")
	m.Delay(sel, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Fetch(ctx, sel)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMemoryStore_Panic(t *testing.T) {
	m := NewMemoryStore()
	sel := VerticalSelector("games")
	m.PanicWith(sel, "driver exploded")

	assert.PanicsWithValue(t, "driver exploded", func() {
		_, _ = m.Fetch(context.Background(), sel)
	})
}

func TestMemoryStore_ImportSeedAndClose(t *testing.T) {
	m := NewMemoryStore()
	seed, err := ParseSeed([]byte(sampleSeed))
	require.NoError(t, err)

	res, err := m.ImportSeed(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Layers)
	assert.Equal(t, 8, res.Records)

	b, err := m.Fetch(context.Background(), ClientSelector("org-1", "app-7"))
	require.NoError(t, err)
	assert.Len(t, b.KPIs, 1)

	require.NoError(t, m.Close())
	_, err = m.Fetch(context.Background(), VerticalSelector("games"))
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), "memory", "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(context.Background(), "mongo", "", "")
	assert.Error(t, err)
}
