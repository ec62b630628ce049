// Package metadata resolves per-attribute schema metadata (nested-attribute
// relations and facet-filter templates) and caches what it has fetched.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/valpere/searchrefine/internal/query"
)

var (
	// ErrNotFound is returned by stores that have no entry for an attribute.
	ErrNotFound = errors.New("metadata not found")
	// ErrLookupFailed wraps failures of a remote metadata source.
	ErrLookupFailed = errors.New("metadata lookup failed")
)

type NestedAttribute struct {
	Attribute string `json:"attribute"`
}

type Attribute struct {
	NestedAttribute *NestedAttribute `json:"nestedAttribute,omitempty"`
}

// Metadata is what the schema registry knows about one attribute. The
// FacetFilter is a shared template: callers must Clone it before placing it
// into a request tree.
type Metadata struct {
	Attribute   Attribute
	FacetFilter query.Node
}

// NestedAttribute returns the registered nested attribute name, or "".
func (m Metadata) NestedAttribute() string {
	if m.Attribute.NestedAttribute == nil {
		return ""
	}
	return m.Attribute.NestedAttribute.Attribute
}

type wireMetadata struct {
	Attribute   Attribute       `json:"attrObj"`
	FacetFilter json.RawMessage `json:"facetFilter,omitempty"`
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var w wireMetadata
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Attribute = w.Attribute
	m.FacetFilter = nil
	if len(w.FacetFilter) > 0 && string(w.FacetFilter) != "null" {
		n, err := query.UnmarshalNode(w.FacetFilter)
		if err != nil {
			return fmt.Errorf("facetFilter: %w", err)
		}
		m.FacetFilter = n
	}
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	w := wireMetadata{Attribute: m.Attribute}
	if m.FacetFilter != nil {
		raw, err := json.Marshal(m.FacetFilter)
		if err != nil {
			return nil, err
		}
		w.FacetFilter = raw
	}
	return json.Marshal(w)
}

// Lookup fetches metadata for a set of attributes of one schema. Attributes
// the source knows nothing about may be absent from the result.
type Lookup interface {
	Lookup(ctx context.Context, schema string, attributes []string) (map[string]Metadata, error)
}

// LookupFunc adapts a plain function to Lookup.
type LookupFunc func(ctx context.Context, schema string, attributes []string) (map[string]Metadata, error)

func (f LookupFunc) Lookup(ctx context.Context, schema string, attributes []string) (map[string]Metadata, error) {
	return f(ctx, schema, attributes)
}
