// Package extract defines the entity extraction capability consumed by the
// CAG manager and provides a regular-expression fallback extractor for
// security text.
package extract

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// Entity types produced by the Regex extractor.
const (
	TypeIPAddress   = "ip_address"
	TypeCVE         = "cve"
	TypeTechniqueID = "technique_id"
	TypeDomain      = "domain"
	TypeTool        = "tool"
	TypePhrase      = "phrase"
)

// Entity is a typed span of the input text.
type Entity struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Position int    `json:"position"`
}

// Extractor finds entities in free text. Results are ordered by position.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, text string) ([]Entity, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, text string) ([]Entity, error) {
	return f(ctx, text)
}

// Fallback uses Primary and falls back to Secondary when Primary fails or
// finds nothing. It is the usual way to pair a model-backed extractor with
// the Regex extractor.
type Fallback struct {
	Primary   Extractor
	Secondary Extractor
	Logger    *slog.Logger
}

// Extract runs Primary, then Secondary when needed.
func (f Fallback) Extract(ctx context.Context, text string) ([]Entity, error) {
	if f.Primary != nil {
		entities, err := f.Primary.Extract(ctx, text)
		if err == nil && len(entities) > 0 {
			return entities, nil
		}
		if err != nil && f.Logger != nil {
			f.Logger.Warn("primary extractor failed, using fallback", "error", err)
		}
	}
	if f.Secondary == nil {
		return []Entity{}, nil
	}
	return f.Secondary.Extract(ctx, text)
}

// sortAndDedupe orders entities by position and removes repeats of the same
// type and case-folded value, keeping the first occurrence.
func sortAndDedupe(entities []Entity) []Entity {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Position != entities[j].Position {
			return entities[i].Position < entities[j].Position
		}
		return entities[i].Type < entities[j].Type
	})
	seen := make(map[string]struct{}, len(entities))
	out := entities[:0]
	for _, e := range entities {
		k := e.Type + "\x00" + strings.ToLower(e.Value)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}
