package refine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/valpere/searchrefine/internal/metadata"
	"github.com/valpere/searchrefine/internal/query"
)

// AddRefinement merges node into the refinements group of req's service
// group. node is either a terminal or a nested-attribute pair group. A node
// whose (primary) value is already present under its attribute is dropped.
//
// Empty schema and service fall back to DefaultSchema and DefaultService.
// A malformed node is rejected before req is touched.
func (b *Builder) AddRefinement(ctx context.Context, req *query.Request, node query.Node, schema, service string) error {
	if schema == "" {
		schema = DefaultSchema
	}
	if service == "" {
		service = DefaultService
	}

	var primary, nested *query.Terminal
	switch n := node.(type) {
	case *query.Terminal:
		primary = n
	case *query.Group:
		var ok bool
		if primary, nested, ok = n.Pair(); !ok {
			return fmt.Errorf("%w: refinement group must hold exactly two terminals, got %d nodes", query.ErrMalformedNode, len(n.Nodes))
		}
	default:
		return fmt.Errorf("%w: unsupported refinement node %T", query.ErrMalformedNode, node)
	}

	attribute := primary.Parameters.Attribute
	value := primary.Parameters.Value

	refinements := query.FindOrCreateGroup(req.ServiceGroup(service), RefinementsLabel, query.And)
	attrGroup := query.FindOrCreateGroup(refinements, attribute, query.Or)

	if containsValue(attrGroup, value, nested != nil) {
		b.logger.Debug("Skipping duplicate refinement",
			zap.String("attribute", attribute),
			zap.Any("value", value))
		return nil
	}

	if group, ok := node.(*query.Group); ok {
		m, err := b.resolveOne(ctx, schema, attribute)
		if err != nil {
			return err
		}
		if nestedAttr := m.NestedAttribute(); nestedAttr != "" && nestedAttr == nested.Parameters.Attribute {
			group.Label = NestedAttributeLabel
		}
	}

	attrGroup.Append(node)
	return nil
}

// containsValue reports whether a child of group already carries value.
// Terminal refinements compare against sibling terminals, pair refinements
// against the first node of sibling pair groups.
func containsValue(group *query.Group, value query.Value, pair bool) bool {
	for _, child := range group.Nodes {
		var existing *query.Terminal
		switch c := child.(type) {
		case *query.Terminal:
			if !pair {
				existing = c
			}
		case *query.Group:
			if pair && len(c.Nodes) > 0 {
				existing, _ = c.Nodes[0].(*query.Terminal)
			}
		}
		if existing != nil && query.EqualValues(existing.Parameters.Value, value) {
			return true
		}
	}
	return false
}

func (b *Builder) resolveOne(ctx context.Context, schema, attribute string) (metadata.Metadata, error) {
	all, err := b.resolver.Resolve(ctx, schema, []string{attribute})
	if err != nil {
		return metadata.Metadata{}, fmt.Errorf("failed to resolve metadata for %s: %w", attribute, err)
	}
	return all[attribute], nil
}
