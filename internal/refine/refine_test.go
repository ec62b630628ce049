package refine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/valpere/searchrefine/internal/metadata"
	"github.com/valpere/searchrefine/internal/normalize"
	"github.com/valpere/searchrefine/internal/query"
)

const (
	annotationType    = "rcsb_polymer_instance_annotation.type"
	annotationLineage = "rcsb_polymer_instance_annotation.annotation_lineage.id"
	organism          = "rcsb_entity_source_organism.ncbi_scientific_name"
	resolution        = "rcsb_entry_info.resolution_combined"
)

func registry() map[string]metadata.Metadata {
	return map[string]metadata.Metadata{
		"structure/" + annotationType: {
			Attribute: metadata.Attribute{NestedAttribute: &metadata.NestedAttribute{Attribute: annotationLineage}},
			FacetFilter: query.NewTerminal("text", annotationLineage, query.OpExactMatch,
				query.String("CATH")),
		},
		"structure/rcsb_struct_symmetry.symbol": {
			FacetFilter: query.NewTerminal("text", "rcsb_struct_symmetry.kind", query.OpExactMatch,
				query.String("Global Symmetry")),
		},
	}
}

type fakeLookup struct {
	known map[string]metadata.Metadata
	err   error
	calls int
}

func (l *fakeLookup) Lookup(ctx context.Context, schema string, attributes []string) (map[string]metadata.Metadata, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	out := make(map[string]metadata.Metadata)
	for _, a := range attributes {
		if m, ok := l.known[schema+"/"+a]; ok {
			out[a] = m
		}
	}
	return out, nil
}

func newTestBuilder(lookup *fakeLookup, opts ...Option) *Builder {
	return New(metadata.NewCache(lookup), opts...)
}

func term(attribute string, value query.Value) *query.Terminal {
	return query.NewTerminal("text", attribute, query.OpExactMatch, value)
}

func serviceGroup(t *testing.T, req *query.Request, service string) *query.Group {
	t.Helper()
	root, ok := req.Query.(*query.Group)
	if !ok {
		t.Fatalf("expected group root, got %T", req.Query)
	}
	for _, n := range root.Nodes {
		if g, ok := n.(*query.Group); ok && g.Label == service {
			return g
		}
	}
	t.Fatalf("service group %q not found", service)
	return nil
}

func labeled(t *testing.T, parent *query.Group, label string) *query.Group {
	t.Helper()
	for _, n := range parent.Nodes {
		if g, ok := n.(*query.Group); ok && g.Label == label {
			return g
		}
	}
	t.Fatalf("group %q not found", label)
	return nil
}

func TestAddRefinement_Idempotent(t *testing.T) {
	b := newTestBuilder(&fakeLookup{})
	req := &query.Request{Query: query.NewGroup("", query.And)}
	ctx := context.Background()

	if err := b.AddRefinement(ctx, req, term(organism, query.String("Homo sapiens")), "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.AddRefinement(ctx, req, term(organism, query.String("Homo sapiens")), "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attrGroup := labeled(t, labeled(t, serviceGroup(t, req, "text"), RefinementsLabel), organism)
	if len(attrGroup.Nodes) != 1 {
		t.Errorf("expected 1 node after duplicate insert, got %d", len(attrGroup.Nodes))
	}
	if attrGroup.LogicalOperator != query.Or {
		t.Errorf("expected or group, got %q", attrGroup.LogicalOperator)
	}
}

func TestAddRefinement_DistinctValuesAccumulate(t *testing.T) {
	b := newTestBuilder(&fakeLookup{})
	req := &query.Request{}
	ctx := context.Background()

	for _, v := range []string{"Homo sapiens", "Mus musculus", "Homo sapiens"} {
		if err := b.AddRefinement(ctx, req, term(organism, query.String(v)), "", ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// Same attribute on another service is a separate criterion.
	if err := b.AddRefinement(ctx, req, term(organism, query.String("Homo sapiens")), ChemicalSchema, ChemicalService); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attrGroup := labeled(t, labeled(t, serviceGroup(t, req, "text"), RefinementsLabel), organism)
	if len(attrGroup.Nodes) != 2 {
		t.Errorf("expected 2 distinct values, got %d", len(attrGroup.Nodes))
	}
	chem := labeled(t, labeled(t, serviceGroup(t, req, ChemicalService), RefinementsLabel), organism)
	if len(chem.Nodes) != 1 {
		t.Errorf("expected 1 value under text_chem, got %d", len(chem.Nodes))
	}
}

func TestAddRefinement_RangeValuesDeduplicate(t *testing.T) {
	b := newTestBuilder(&fakeLookup{})
	req := &query.Request{}
	rules := normalize.Default()

	for i := 0; i < 2; i++ {
		op, v := rules.Normalize(resolution, "0.5-1.0")
		node := query.NewTerminal("text", resolution, op, v)
		if err := b.AddRefinement(context.Background(), req, node, "", ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	attrGroup := labeled(t, labeled(t, serviceGroup(t, req, "text"), RefinementsLabel), resolution)
	if len(attrGroup.Nodes) != 1 {
		t.Errorf("expected equal ranges to merge, got %d nodes", len(attrGroup.Nodes))
	}
}

func TestAddRefinement_ReRootsTerminalQuery(t *testing.T) {
	original := query.NewTerminal("full_text", "", "", query.String("hemoglobin"))
	req := &query.Request{Query: original}

	err := newTestBuilder(&fakeLookup{}).AddRefinement(context.Background(), req, term(organism, query.String("Homo sapiens")), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &query.Group{LogicalOperator: query.And, Nodes: []query.Node{
		&query.Group{Label: "text", LogicalOperator: query.And, Nodes: []query.Node{
			&query.Group{LogicalOperator: query.And, Nodes: []query.Node{
				query.NewTerminal("full_text", "", "", query.String("hemoglobin")),
			}},
			&query.Group{Label: RefinementsLabel, LogicalOperator: query.And, Nodes: []query.Node{
				&query.Group{Label: organism, LogicalOperator: query.Or, Nodes: []query.Node{
					term(organism, query.String("Homo sapiens")),
				}},
			}},
		}},
	}}
	if diff := cmp.Diff(want, req.Query); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}

	wrapped := req.Query.(*query.Group).Nodes[0].(*query.Group).Nodes[0].(*query.Group)
	if wrapped.Nodes[0] != query.Node(original) {
		t.Error("expected the original terminal to be moved, not copied")
	}
}

func TestAddRefinement_PreservesExistingGroups(t *testing.T) {
	existing := query.NewGroup("text", query.And)
	existing.Append(term("struct.title", query.String("kinase")))
	root := query.NewGroup("", query.And)
	root.Append(existing)
	req := &query.Request{Query: root}

	err := newTestBuilder(&fakeLookup{}).AddRefinement(context.Background(), req, term(organism, query.String("Homo sapiens")), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(root.Nodes) != 1 {
		t.Fatalf("expected service group reused, got %d root children", len(root.Nodes))
	}
	if len(existing.Nodes) != 2 {
		t.Fatalf("expected existing criterion plus refinements group, got %d", len(existing.Nodes))
	}
	if existing.Nodes[0].(*query.Terminal).Parameters.Attribute != "struct.title" {
		t.Error("existing criterion moved")
	}
}

func TestAddRefinement_NestedPairLabeled(t *testing.T) {
	lookup := &fakeLookup{known: registry()}
	b := newTestBuilder(lookup)
	req := &query.Request{}

	pair := &query.Group{LogicalOperator: query.And, Nodes: []query.Node{
		term(annotationType, query.String("CATH")),
		term(annotationLineage, query.String("3.40.50.300")),
	}}
	if err := b.AddRefinement(context.Background(), req, pair, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pair.Label != NestedAttributeLabel {
		t.Errorf("expected nested-attribute label, got %q", pair.Label)
	}

	dup := &query.Group{LogicalOperator: query.And, Nodes: []query.Node{
		term(annotationType, query.String("CATH")),
		term(annotationLineage, query.String("1.10.10.10")),
	}}
	if err := b.AddRefinement(context.Background(), req, dup, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	attrGroup := labeled(t, labeled(t, serviceGroup(t, req, "text"), RefinementsLabel), annotationType)
	if len(attrGroup.Nodes) != 1 {
		t.Errorf("expected pair with same primary value to be skipped, got %d", len(attrGroup.Nodes))
	}
	if lookup.calls != 1 {
		t.Errorf("expected 1 metadata lookup, got %d", lookup.calls)
	}
}

func TestAddRefinement_UnverifiedPairUnlabeled(t *testing.T) {
	b := newTestBuilder(&fakeLookup{known: registry()})
	req := &query.Request{}

	pair := &query.Group{LogicalOperator: query.And, Nodes: []query.Node{
		term(annotationType, query.String("Pfam")),
		term("rcsb_polymer_instance_annotation.name", query.String("Kinase")),
	}}
	if err := b.AddRefinement(context.Background(), req, pair, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pair.Label != "" {
		t.Errorf("expected ad-hoc pair to stay unlabeled, got %q", pair.Label)
	}
}

func TestAddRefinement_MalformedPair(t *testing.T) {
	b := newTestBuilder(&fakeLookup{})
	req := &query.Request{Query: term("struct.title", query.String("kinase"))}

	bad := &query.Group{LogicalOperator: query.And, Nodes: []query.Node{term(annotationType, query.String("CATH"))}}
	err := b.AddRefinement(context.Background(), req, bad, "", "")

	if !errors.Is(err, query.ErrMalformedNode) {
		t.Fatalf("expected ErrMalformedNode, got %v", err)
	}
	if _, ok := req.Query.(*query.Terminal); !ok {
		t.Error("expected request untouched on malformed node")
	}
}

func TestAddRefinement_LookupFailure(t *testing.T) {
	b := newTestBuilder(&fakeLookup{err: errors.New("schema service down")})
	req := &query.Request{}

	pair := &query.Group{LogicalOperator: query.And, Nodes: []query.Node{
		term(annotationType, query.String("CATH")),
		term(annotationLineage, query.String("3.40.50.300")),
	}}
	if err := b.AddRefinement(context.Background(), req, pair, "", ""); err == nil {
		t.Fatal("expected lookup error")
	}
}

func TestAddRefinements_NormalizesValues(t *testing.T) {
	b := newTestBuilder(&fakeLookup{})
	req := &query.Request{Query: query.NewGroup("", query.And)}

	err := b.AddRefinements(context.Background(), req, []Refinement{
		{Attribute: resolution, Values: []string{"*-0.5", "2.0-*"}},
		{Attribute: organism, Values: []string{"Homo sapiens"}},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sg := serviceGroup(t, req, "text")
	if len(sg.Nodes) != 1 {
		t.Fatalf("expected 1 batch group, got %d", len(sg.Nodes))
	}
	batch := sg.Nodes[0].(*query.Group)
	want := &query.Group{LogicalOperator: query.And, Nodes: []query.Node{
		&query.Group{Label: resolution, LogicalOperator: query.Or, Nodes: []query.Node{
			query.NewTerminal("text", resolution, query.OpLess, query.Number(0.5)),
			query.NewTerminal("text", resolution, query.OpGreaterOrEqual, query.Number(2.0)),
		}},
		&query.Group{Label: organism, LogicalOperator: query.Or, Nodes: []query.Node{
			term(organism, query.String("Homo sapiens")),
		}},
	}}
	if diff := cmp.Diff(want, batch); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
}

func TestAddRefinements_AppendsNewBatchEachCall(t *testing.T) {
	b := newTestBuilder(&fakeLookup{})
	req := &query.Request{}
	ctx := context.Background()

	if err := b.AddRefinements(ctx, req, []Refinement{{Attribute: organism, Values: []string{"Homo sapiens"}}}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.AddRefinements(ctx, req, []Refinement{{Attribute: organism, Values: []string{"Mus musculus"}}}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sg := serviceGroup(t, req, "text")
	if len(sg.Nodes) != 2 {
		t.Fatalf("expected 2 batch groups, got %d", len(sg.Nodes))
	}
	for i, want := range []string{"Homo sapiens", "Mus musculus"} {
		batch := sg.Nodes[i].(*query.Group)
		if batch.Label != "" || batch.LogicalOperator != query.And {
			t.Errorf("batch %d: expected unlabeled and group", i)
		}
		attrGroup := labeled(t, batch, organism)
		if len(attrGroup.Nodes) != 1 {
			t.Fatalf("batch %d: expected 1 node, got %d", i, len(attrGroup.Nodes))
		}
		if got := attrGroup.Nodes[0].(*query.Terminal).Parameters.Value; got != query.String(want) {
			t.Errorf("batch %d: expected %q, got %v", i, want, got)
		}
	}
}

func TestAddRefinements_FacetFilterIsolation(t *testing.T) {
	lookup := &fakeLookup{known: registry()}
	b := newTestBuilder(lookup)
	req := &query.Request{}

	err := b.AddRefinements(context.Background(), req, []Refinement{
		{Attribute: annotationType, Values: []string{"CATH", "SCOP"}},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attrGroup := labeled(t, serviceGroup(t, req, "text").Nodes[0].(*query.Group), annotationType)
	if len(attrGroup.Nodes) != 2 {
		t.Fatalf("expected 2 pair groups, got %d", len(attrGroup.Nodes))
	}
	first := attrGroup.Nodes[0].(*query.Group)
	second := attrGroup.Nodes[1].(*query.Group)

	if first.Label != NestedAttributeLabel || second.Label != NestedAttributeLabel {
		t.Errorf("expected nested-attribute labels, got %q and %q", first.Label, second.Label)
	}
	if v := first.Nodes[0].(*query.Terminal).Parameters.Value; v != query.String("CATH") {
		t.Errorf("unexpected primary value %v", v)
	}

	firstFacet := first.Nodes[1].(*query.Terminal)
	firstFacet.Parameters.Value = query.String("mutated")

	secondFacet := second.Nodes[1].(*query.Terminal)
	if secondFacet.Parameters.Value != query.String("CATH") {
		t.Errorf("mutation leaked into second facet filter: %v", secondFacet.Parameters.Value)
	}
	template := lookup.known["structure/"+annotationType].FacetFilter.(*query.Terminal)
	if template.Parameters.Value != query.String("CATH") {
		t.Errorf("mutation leaked into template: %v", template.Parameters.Value)
	}
}

func TestAddRefinements_FacetFilterWithoutNestedMatch(t *testing.T) {
	b := newTestBuilder(&fakeLookup{known: registry()})
	req := &query.Request{}

	err := b.AddRefinements(context.Background(), req, []Refinement{
		{Attribute: "rcsb_struct_symmetry.symbol", Values: []string{"C2"}},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attrGroup := labeled(t, serviceGroup(t, req, "text").Nodes[0].(*query.Group), "rcsb_struct_symmetry.symbol")
	pair := attrGroup.Nodes[0].(*query.Group)
	if pair.Label != "" {
		t.Errorf("expected unlabeled pair, got %q", pair.Label)
	}
	if len(pair.Nodes) != 2 {
		t.Errorf("expected value plus facet filter, got %d nodes", len(pair.Nodes))
	}
}

func TestAddRefinements_ChemicalResultType(t *testing.T) {
	lookup := &fakeLookup{known: map[string]metadata.Metadata{
		"chemical/" + annotationType: {FacetFilter: term("x", query.String("y"))},
	}}
	b := newTestBuilder(lookup)
	req := &query.Request{}

	err := b.AddRefinements(context.Background(), req, []Refinement{
		{Attribute: "chem_comp.formula_weight", Values: []string{"100-200"}},
	}, ChemicalResultType)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sg := serviceGroup(t, req, ChemicalService)
	attrGroup := labeled(t, sg.Nodes[0].(*query.Group), "chem_comp.formula_weight")
	got := attrGroup.Nodes[0].(*query.Terminal)
	if got.Service != ChemicalService || got.Parameters.Operator != query.OpRange {
		t.Errorf("unexpected terminal %+v", got)
	}
}

func TestAddRefinements_LookupFailureLeavesRequest(t *testing.T) {
	b := newTestBuilder(&fakeLookup{err: errors.New("timeout")})
	root := query.NewGroup("", query.And)
	req := &query.Request{Query: root}

	err := b.AddRefinements(context.Background(), req, []Refinement{{Attribute: organism, Values: []string{"x"}}}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(root.Nodes) != 0 {
		t.Errorf("expected untouched request, got %d root children", len(root.Nodes))
	}
}

func TestAddRefinements_StrictValues(t *testing.T) {
	b := newTestBuilder(&fakeLookup{}, WithStrictValues(true))
	req := &query.Request{}

	err := b.AddRefinements(context.Background(), req, []Refinement{{Attribute: resolution, Values: []string{"high"}}}, "")
	if !errors.Is(err, normalize.ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if req.Query != nil {
		t.Error("expected request untouched")
	}
}

func TestAddRefinements_CachesMetadataAcrossCalls(t *testing.T) {
	lookup := &fakeLookup{known: registry()}
	b := newTestBuilder(lookup)
	req := &query.Request{}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.AddRefinements(ctx, req, []Refinement{
			{Attribute: annotationType, Values: []string{"CATH"}},
			{Attribute: annotationType, Values: []string{"SCOP"}},
		}, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if lookup.calls != 1 {
		t.Errorf("expected 1 lookup, got %d", lookup.calls)
	}
}

func TestAddRefinements_WireOutput(t *testing.T) {
	b := newTestBuilder(&fakeLookup{})
	req := &query.Request{}

	err := b.AddRefinements(context.Background(), req, []Refinement{
		{Attribute: "rcsb_accession_info.initial_release_date", Values: []string{"2015"}},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"query":{"type":"group","logical_operator":"and","nodes":[` +
		`{"type":"group","label":"text","logical_operator":"and","nodes":[` +
		`{"type":"group","logical_operator":"and","nodes":[` +
		`{"type":"group","label":"rcsb_accession_info.initial_release_date","logical_operator":"or","nodes":[` +
		`{"type":"terminal","service":"text","parameters":{"attribute":"rcsb_accession_info.initial_release_date",` +
		`"operator":"range","value":{"from":"2015-01-01","to":"2019-12-31","include_lower":true,"include_upper":true}}}]}]}]}]}}`
	if string(data) != want {
		t.Errorf("unexpected wire form:\n got %s\nwant %s", data, want)
	}
}
