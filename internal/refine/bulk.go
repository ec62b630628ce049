package refine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/valpere/searchrefine/internal/metadata"
	"github.com/valpere/searchrefine/internal/query"
)

// Refinement is one UI selection: an attribute and the raw values picked
// for it.
type Refinement struct {
	Attribute string   `json:"attribute" yaml:"attribute"`
	Values    []string `json:"values" yaml:"values"`
}

// AddRefinements translates a batch of selections into query nodes and
// appends them to req as a new unlabeled AND group under the service group.
// Each call adds its own group; earlier batches are never merged into.
//
// Metadata for every attribute is resolved before the tree is touched, so a
// lookup failure leaves req unchanged. An empty resultType means
// DefaultResultType.
func (b *Builder) AddRefinements(ctx context.Context, req *query.Request, refinements []Refinement, resultType string) error {
	if resultType == "" {
		resultType = DefaultResultType
	}
	schema, service := SchemaForResultType(resultType)

	if b.strictValues {
		for _, r := range refinements {
			for _, v := range r.Values {
				if err := b.rules.Validate(r.Attribute, v); err != nil {
					return err
				}
			}
		}
	}

	attributes := make([]string, 0, len(refinements))
	for _, r := range refinements {
		attributes = append(attributes, r.Attribute)
	}
	resolved, err := b.resolver.Resolve(ctx, schema, attributes)
	if err != nil {
		return fmt.Errorf("failed to resolve refinement metadata: %w", err)
	}

	batch := query.NewGroup("", query.And)
	req.ServiceGroup(service).Append(batch)

	for _, r := range refinements {
		attrGroup := query.FindOrCreateGroup(batch, r.Attribute, query.Or)
		m := resolved[r.Attribute]
		if m.FacetFilter != nil {
			expandFacetFilter(attrGroup, service, r, m)
			continue
		}
		for _, raw := range r.Values {
			op, v := b.rules.Normalize(r.Attribute, raw)
			attrGroup.Append(query.NewTerminal(service, r.Attribute, op, v))
		}
	}

	b.logger.Debug("Applied refinement batch",
		zap.String("result_type", resultType),
		zap.Int("refinements", len(refinements)))
	return nil
}

// expandFacetFilter appends, per raw value, an AND pair of the exact-match
// criterion and a private copy of the attribute's facet-filter template.
func expandFacetFilter(attrGroup *query.Group, service string, r Refinement, m metadata.Metadata) {
	label := ""
	if facet, ok := m.FacetFilter.(*query.Terminal); ok {
		if nested := m.NestedAttribute(); nested != "" && nested == facet.Parameters.Attribute {
			label = NestedAttributeLabel
		}
	}

	for _, raw := range r.Values {
		pair := query.NewGroup(label, query.And)
		pair.Append(query.NewTerminal(service, r.Attribute, query.OpExactMatch, query.String(raw)))
		pair.Append(m.FacetFilter.Clone())
		attrGroup.Append(pair)
	}
}
