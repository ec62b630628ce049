package query

// NewGroup returns an empty group. An empty label leaves the group unlabeled.
func NewGroup(label string, op LogicalOperator) *Group {
	return &Group{Label: label, LogicalOperator: op, Nodes: []Node{}}
}

// FindOrCreateGroup returns the first child of parent labeled label, creating
// and appending an empty group with that label and operator when none exists.
// Labels are unique among siblings, so later duplicates are never consulted.
// A nil parent yields nil.
func FindOrCreateGroup(parent *Group, label string, op LogicalOperator) *Group {
	if parent == nil {
		return nil
	}
	for _, n := range parent.Nodes {
		if g, ok := n.(*Group); ok && g.Label != "" && g.Label == label {
			return g
		}
	}
	g := NewGroup(label, op)
	parent.Append(g)
	return g
}

// ServiceGroup returns the AND group labeled service directly under the root,
// creating it when missing. A bare terminal root is re-rooted first: the
// terminal moves into an unlabeled AND group under the service group, so the
// original criterion keeps applying alongside whatever is added next.
func (r *Request) ServiceGroup(service string) *Group {
	switch q := r.Query.(type) {
	case *Group:
		return FindOrCreateGroup(q, service, And)
	case *Terminal:
		root := NewGroup("", And)
		r.Query = root
		sg := FindOrCreateGroup(root, service, And)
		wrapped := NewGroup("", And)
		wrapped.Append(q)
		sg.Append(wrapped)
		return sg
	default:
		root := NewGroup("", And)
		r.Query = root
		return FindOrCreateGroup(root, service, And)
	}
}
