package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// Members the codec interprets. Anything else lands in an Extra map.
var (
	terminalMembers  = []string{"type", "service", "parameters"}
	groupMembers     = []string{"type", "label", "logical_operator", "nodes"}
	parameterMembers = []string{"attribute", "operator", "value"}
)

type member struct {
	key   string
	value any
}

// encodeObject writes members in order followed by the extra members sorted
// by key. Extra entries named like a reserved member are skipped.
func encodeObject(members []member, reserved []string, extra map[string]json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, raw []byte) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(raw)
	}

	for _, m := range members {
		raw, err := json.Marshal(m.value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.key, err)
		}
		write(m.key, raw)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		if !slices.Contains(reserved, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		raw := extra[k]
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		write(k, raw)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// takeMember decodes fields[key] into dst when present and removes it.
func takeMember(fields map[string]json.RawMessage, key string, dst any) (bool, error) {
	raw, ok := fields[key]
	if !ok {
		return false, nil
	}
	delete(fields, key)
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrMalformedNode, key, err)
	}
	return true, nil
}

func extraOrNil(fields map[string]json.RawMessage) map[string]json.RawMessage {
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func (p Parameters) MarshalJSON() ([]byte, error) {
	var members []member
	if p.Attribute != "" {
		members = append(members, member{"attribute", p.Attribute})
	}
	if p.Operator != "" {
		members = append(members, member{"operator", p.Operator})
	}
	if p.Value != nil {
		members = append(members, member{"value", p.Value})
	}
	return encodeObject(members, parameterMembers, p.Extra)
}

func (t *Terminal) MarshalJSON() ([]byte, error) {
	members := []member{{"type", typeTerminal}}
	if t.Service != "" {
		members = append(members, member{"service", t.Service})
	}
	members = append(members, member{"parameters", t.Parameters})
	return encodeObject(members, terminalMembers, t.Extra)
}

func (g *Group) MarshalJSON() ([]byte, error) {
	nodes := g.Nodes
	if nodes == nil {
		nodes = []Node{}
	}
	members := []member{{"type", typeGroup}}
	if g.Label != "" {
		members = append(members, member{"label", g.Label})
	}
	members = append(members,
		member{"logical_operator", g.LogicalOperator},
		member{"nodes", nodes})
	return encodeObject(members, groupMembers, g.Extra)
}

func (t *Terminal) UnmarshalJSON(data []byte) error {
	n, err := UnmarshalNode(data)
	if err != nil {
		return err
	}
	term, ok := n.(*Terminal)
	if !ok {
		return fmt.Errorf("%w: expected terminal", ErrMalformedNode)
	}
	*t = *term
	return nil
}

func (g *Group) UnmarshalJSON(data []byte) error {
	n, err := UnmarshalNode(data)
	if err != nil {
		return err
	}
	group, ok := n.(*Group)
	if !ok {
		return fmt.Errorf("%w: expected group", ErrMalformedNode)
	}
	*g = *group
	return nil
}

// UnmarshalNode decodes a node from its wire form, dispatching on "type".
// Shape problems are reported as ErrMalformedNode. Members the codec does not
// interpret are kept in the node's Extra maps.
func UnmarshalNode(data []byte) (Node, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNode, err)
	}

	var kind string
	if _, err := takeMember(fields, "type", &kind); err != nil {
		return nil, err
	}

	switch kind {
	case typeTerminal:
		return decodeTerminal(fields)
	case typeGroup:
		return decodeGroup(fields)
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedNode, kind)
}

func decodeTerminal(fields map[string]json.RawMessage) (*Terminal, error) {
	t := &Terminal{}
	if _, err := takeMember(fields, "service", &t.Service); err != nil {
		return nil, err
	}

	var params map[string]json.RawMessage
	ok, err := takeMember(fields, "parameters", &params)
	if err != nil {
		return nil, err
	}
	if !ok || params == nil {
		return nil, fmt.Errorf("%w: terminal without parameters", ErrMalformedNode)
	}

	if _, err := takeMember(params, "attribute", &t.Parameters.Attribute); err != nil {
		return nil, err
	}
	if _, err := takeMember(params, "operator", &t.Parameters.Operator); err != nil {
		return nil, err
	}
	if raw, ok := params["value"]; ok {
		delete(params, "value")
		v, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: attribute %q: %v", ErrMalformedNode, t.Parameters.Attribute, err)
		}
		t.Parameters.Value = v
	}

	t.Parameters.Extra = extraOrNil(params)
	t.Extra = extraOrNil(fields)
	return t, nil
}

func decodeGroup(fields map[string]json.RawMessage) (*Group, error) {
	var label string
	var op LogicalOperator
	var nodes []json.RawMessage
	if _, err := takeMember(fields, "label", &label); err != nil {
		return nil, err
	}
	if _, err := takeMember(fields, "logical_operator", &op); err != nil {
		return nil, err
	}
	switch op {
	case And, Or:
	default:
		return nil, fmt.Errorf("%w: group with logical_operator %q", ErrMalformedNode, op)
	}
	if _, err := takeMember(fields, "nodes", &nodes); err != nil {
		return nil, err
	}

	g := NewGroup(label, op)
	for i, raw := range nodes {
		child, err := UnmarshalNode(raw)
		if err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}
		g.Append(child)
	}
	g.Extra = extraOrNil(fields)
	return g, nil
}

// Request is the root search request. Members other than "query" are kept
// verbatim so a decoded request re-encodes without loss.
type Request struct {
	Query Node
	Extra map[string]json.RawMessage
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	r.Query = nil
	if raw, ok := fields["query"]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		q, err := UnmarshalNode(raw)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		r.Query = q
	}
	delete(fields, "query")

	r.Extra = nil
	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

func (r *Request) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+1)
	for k, v := range r.Extra {
		out[k] = v
	}
	if r.Query != nil {
		q, err := json.Marshal(r.Query)
		if err != nil {
			return nil, err
		}
		out["query"] = q
	}
	return json.Marshal(out)
}
