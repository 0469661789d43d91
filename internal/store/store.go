// Package store provides the storage collaborators the loader fetches raw
// override bundles from. Adapters return rows exactly as stored: validation
// and clamping are the normalizer's job, never the adapter's.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rulelayer/internal/rules"
)

var (
	// ErrStoreClosed is returned by Fetch and ImportSeed after Close.
	ErrStoreClosed = errors.New("store: closed")
	// ErrInvalidSelector is returned for selectors that name no layer.
	ErrInvalidSelector = errors.New("store: invalid selector")
)

// OverrideStore fetches the raw override records of one layer.
type OverrideStore interface {
	Fetch(ctx context.Context, sel Selector) (rules.RawBundle, error)
}

// SeedImporter replaces stored layers with the contents of a seed file.
type SeedImporter interface {
	ImportSeed(ctx context.Context, seed SeedFile) (ImportResult, error)
}

// Store is an OverrideStore that owns resources.
type Store interface {
	OverrideStore
	Close() error
}

// Kind is the layer a selector addresses.
type Kind int

const (
	KindVertical Kind = iota + 1
	KindMarket
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindVertical:
		return "vertical"
	case KindMarket:
		return "market"
	case KindClient:
		return "client"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Selector addresses one layer: {vertical} | {market} | {organization, app?}.
type Selector struct {
	Kind           Kind
	Vertical       string
	Market         string
	OrganizationID string
	AppID          string
}

func VerticalSelector(id string) Selector {
	return Selector{Kind: KindVertical, Vertical: id}
}

func MarketSelector(id string) Selector {
	return Selector{Kind: KindMarket, Market: id}
}

// ClientSelector addresses a tenant. An empty appID selects org-wide rows only.
func ClientSelector(orgID, appID string) Selector {
	return Selector{Kind: KindClient, OrganizationID: orgID, AppID: appID}
}

// Validate checks that the selector names exactly the key its kind needs.
func (s Selector) Validate() error {
	switch s.Kind {
	case KindVertical:
		if strings.TrimSpace(s.Vertical) == "" {
			return fmt.Errorf("%w: empty vertical", ErrInvalidSelector)
		}
	case KindMarket:
		if strings.TrimSpace(s.Market) == "" {
			return fmt.Errorf("%w: empty market", ErrInvalidSelector)
		}
	case KindClient:
		if strings.TrimSpace(s.OrganizationID) == "" {
			return fmt.Errorf("%w: empty organization id", ErrInvalidSelector)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidSelector, s.Kind)
	}
	return nil
}

// Key is a stable string form, used by the memory store and in logs.
func (s Selector) Key() string {
	switch s.Kind {
	case KindVertical:
		return "vertical:" + s.Vertical
	case KindMarket:
		return "market:" + s.Market
	case KindClient:
		if s.AppID == "" {
			return "client:" + s.OrganizationID
		}
		return "client:" + s.OrganizationID + "/" + s.AppID
	default:
		return s.Kind.String()
	}
}

func (s Selector) String() string { return s.Key() }

// Meta is the layer metadata normalized records from this selector carry.
func (s Selector) Meta() rules.LayerMeta {
	meta := rules.LayerMeta{Origin: rules.OriginDatabase}
	switch s.Kind {
	case KindVertical:
		meta.Vertical = s.Vertical
	case KindMarket:
		meta.Market = s.Market
	case KindClient:
		meta.OrganizationID = s.OrganizationID
		meta.AppID = s.AppID
	}
	return meta
}

// scope returns the WHERE clause selecting the rows of one layer. Rows carry
// empty strings, not NULLs, for absent scope columns. For client selectors
// org-wide rows sort before app-specific ones so the latter win.
func (s Selector) scope(placeholder func(int) string) (where, orderBy string, args []any) {
	switch s.Kind {
	case KindVertical:
		return "vertical = " + placeholder(1) + " AND market = '' AND organization_id = ''", "id", []any{s.Vertical}
	case KindMarket:
		return "market = " + placeholder(1) + " AND vertical = '' AND organization_id = ''", "id", []any{s.Market}
	default:
		where = "organization_id = " + placeholder(1) + " AND app_id IN ('', " + placeholder(2) + ")"
		return where, "(app_id <> ''), id", []any{s.OrganizationID, s.AppID}
	}
}

// exactScope matches only rows stored for this exact selector, used when
// replacing a layer on import.
func (s Selector) exactScope(placeholder func(int) string) (string, []any) {
	p1, p2, p3, p4 := placeholder(1), placeholder(2), placeholder(3), placeholder(4)
	where := "vertical = " + p1 + " AND market = " + p2 + " AND organization_id = " + p3 + " AND app_id = " + p4
	return where, []any{s.Vertical, s.Market, s.OrganizationID, s.AppID}
}

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }
