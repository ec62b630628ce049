// Package query models the search request tree: terminal criteria combined
// under labeled AND/OR groups, and the navigation primitives used to locate
// or create groups inside it.
package query

import (
	"encoding/json"
	"errors"
)

// ErrMalformedNode is returned when a node does not have the shape an
// operation requires.
var ErrMalformedNode = errors.New("malformed node")

type LogicalOperator string

const (
	And LogicalOperator = "and"
	Or  LogicalOperator = "or"
)

// Operator is the comparison a terminal applies. Templates coming from schema
// metadata may carry operators outside this set; they are kept verbatim.
type Operator string

const (
	OpExactMatch     Operator = "exact_match"
	OpLess           Operator = "less"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpRange          Operator = "range"
)

const (
	typeTerminal = "terminal"
	typeGroup    = "group"
)

// Node is either a *Terminal or a *Group.
type Node interface {
	// Clone returns a deep copy that shares no mutable state with the receiver.
	Clone() Node
	node()
}

// Parameters holds a terminal's criterion. Extra keeps members such as
// negation or case_sensitive that the builder does not interpret.
type Parameters struct {
	Attribute string
	Operator  Operator
	Value     Value
	Extra     map[string]json.RawMessage
}

// Terminal is a leaf criterion evaluated by one search service. Extra keeps
// unrecognized node members so a decoded terminal re-encodes unchanged.
type Terminal struct {
	Service    string
	Parameters Parameters
	Extra      map[string]json.RawMessage
}

func NewTerminal(service, attribute string, op Operator, value Value) *Terminal {
	return &Terminal{
		Service: service,
		Parameters: Parameters{
			Attribute: attribute,
			Operator:  op,
			Value:     value,
		},
	}
}

func (t *Terminal) Clone() Node {
	c := *t
	c.Parameters.Value = CloneValue(t.Parameters.Value)
	c.Parameters.Extra = cloneExtra(t.Parameters.Extra)
	c.Extra = cloneExtra(t.Extra)
	return &c
}

func (*Terminal) node() {}

// Group combines child nodes under a logical operator. An empty Label means
// the group is unlabeled.
type Group struct {
	Label           string
	LogicalOperator LogicalOperator
	Nodes           []Node
	Extra           map[string]json.RawMessage
}

func (g *Group) Clone() Node {
	c := &Group{Label: g.Label, LogicalOperator: g.LogicalOperator, Extra: cloneExtra(g.Extra)}
	if g.Nodes != nil {
		c.Nodes = make([]Node, len(g.Nodes))
		for i, n := range g.Nodes {
			c.Nodes[i] = n.Clone()
		}
	}
	return c
}

func (*Group) node() {}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		return nil
	}
	c := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		c[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// Append adds n as the last child of g.
func (g *Group) Append(n Node) {
	g.Nodes = append(g.Nodes, n)
}

// Pair returns the two terminals of a nested-attribute group: the primary
// criterion and the related nested one.
func (g *Group) Pair() (primary, nested *Terminal, ok bool) {
	if len(g.Nodes) != 2 {
		return nil, nil, false
	}
	primary, ok = g.Nodes[0].(*Terminal)
	if !ok {
		return nil, nil, false
	}
	nested, ok = g.Nodes[1].(*Terminal)
	if !ok {
		return nil, nil, false
	}
	return primary, nested, true
}
