// Package refine inserts refinement criteria into search request trees.
//
// Two entry points share the tree navigation in package query:
// AddRefinement merges one ready-made criterion into the request's canonical
// refinements group, skipping values already present, and AddRefinements
// translates a batch of UI selections into a fresh group of its own.
package refine

import (
	"context"

	"go.uber.org/zap"

	"github.com/valpere/searchrefine/internal/metadata"
	"github.com/valpere/searchrefine/internal/normalize"
)

const (
	// RefinementsLabel marks the group that collects single refinements.
	RefinementsLabel = "groups-refinements"
	// NestedAttributeLabel marks a pair group verified against schema metadata.
	NestedAttributeLabel = "nested-attribute"

	DefaultSchema     = "structure"
	DefaultService    = "text"
	DefaultResultType = "entry"

	// ChemicalResultType selects the chemical schema and service.
	ChemicalResultType = "mol_definition"
	ChemicalSchema     = "chemical"
	ChemicalService    = "text_chem"
)

// Resolver supplies attribute metadata. *metadata.Cache implements it.
type Resolver interface {
	Resolve(ctx context.Context, schema string, attributes []string) (map[string]metadata.Metadata, error)
}

// Builder applies refinements to requests. It holds no per-request state;
// a single request must not be mutated from several goroutines at once.
type Builder struct {
	resolver     Resolver
	rules        normalize.Rules
	strictValues bool
	logger       *zap.Logger
}

type Option func(*Builder)

func WithRules(rules normalize.Rules) Option {
	return func(b *Builder) {
		b.rules = rules
	}
}

// WithStrictValues makes AddRefinements reject raw values that would
// normalize to NaN instead of passing them through.
func WithStrictValues(strict bool) Option {
	return func(b *Builder) {
		b.strictValues = strict
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

func New(resolver Resolver, opts ...Option) *Builder {
	b := &Builder{
		resolver: resolver,
		rules:    normalize.Default(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SchemaForResultType maps a result type to the metadata schema and search
// service its refinements use.
func SchemaForResultType(resultType string) (schema, service string) {
	if resultType == ChemicalResultType {
		return ChemicalSchema, ChemicalService
	}
	return DefaultSchema, DefaultService
}
