package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"rulelayer/internal/logging"
	"rulelayer/internal/rules"
)

// MemoryStore keeps bundles in a map. Per-selector errors and delays can be
// injected to simulate a slow or failing backend.
type MemoryStore struct {
	mu      sync.RWMutex
	bundles map[string]rules.RawBundle
	errs    map[string]error
	delays  map[string]time.Duration
	panics  map[string]any
	calls   map[string]int
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bundles: make(map[string]rules.RawBundle),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
		panics:  make(map[string]any),
		calls:   make(map[string]int),
	}
}

// Put stores the bundle for sel, replacing any previous one.
func (m *MemoryStore) Put(sel Selector, b rules.RawBundle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[sel.Key()] = b
}

// FailWith makes every Fetch of sel return err. A nil err clears the failure.
func (m *MemoryStore) FailWith(sel Selector, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, sel.Key())
		return
	}
	m.errs[sel.Key()] = err
}

// PanicWith makes every Fetch of sel panic with v.
func (m *MemoryStore) PanicWith(sel Selector, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics[sel.Key()] = v
}

// Delay makes Fetch of sel wait d, or until the context is done.
func (m *MemoryStore) Delay(sel Selector, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[sel.Key()] = d
}

// Calls returns how many times sel was fetched.
func (m *MemoryStore) Calls(sel Selector) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[sel.Key()]
}

// Fetch returns the stored bundle, or an empty bundle for unknown selectors.
func (m *MemoryStore) Fetch(ctx context.Context, sel Selector) (rules.RawBundle, error) {
	if err := sel.Validate(); err != nil {
		return rules.RawBundle{}, err
	}
	key := sel.Key()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return rules.RawBundle{}, ErrStoreClosed
	}
	m.calls[key]++
	delay, injected, panicValue := m.delays[key], m.errs[key], m.panics[key]
	b, ok := m.bundles[key]
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return rules.RawBundle{}, fmt.Errorf("fetch %s: %w", key, ctx.Err())
		case <-t.C:
		}
	}
	if panicValue != nil {
		panic(panicValue)
	}
	if injected != nil {
		return rules.RawBundle{}, fmt.Errorf("fetch %s: %w", key, injected)
	}
	if !ok {
		return rules.RawBundle{}, nil
	}
	return b, nil
}

// ImportSeed replaces each seeded layer.
func (m *MemoryStore) ImportSeed(_ context.Context, seed SeedFile) (ImportResult, error) {
	res := ImportResult{BatchID: uuid.NewString()}
	for i, layer := range seed.Layers {
		sel, err := layer.Selector()
		if err != nil {
			return res, fmt.Errorf("seed layer %d: %w", i, err)
		}
		b := layer.Bundle()
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return res, ErrStoreClosed
		}
		m.bundles[sel.Key()] = b
		m.mu.Unlock()
		res.Layers++
		res.Records += b.RecordCount()
	}
	logging.StoreDebug("Memory store imported %d layers, batch %s", res.Layers, res.BatchID)
	return res, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
