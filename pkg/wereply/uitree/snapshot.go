package uitree

// SnapshotNode is a serializable copy of one tree node, used for the
// diagnostic dump stored next to the persisted UI paths. Nil pointer fields
// marshal as JSON null, preserving "attribute absent" in the dump.
type SnapshotNode struct {
	Role     *string         `json:"role"`
	Title    *string         `json:"title"`
	Value    *string         `json:"value"`
	Frame    *Rect           `json:"frame"`
	Enabled  *bool           `json:"enabled"`
	Focused  bool            `json:"focused"`
	Children []*SnapshotNode `json:"children"`
}

// Snapshot copies the subtree under root down to depth levels of children.
// It releases every element it enumerates; root is left to the caller.
func Snapshot(root Element, depth int) *SnapshotNode {
	node := &SnapshotNode{
		Focused:  root.Focused(),
		Children: []*SnapshotNode{},
	}
	if role, ok := root.Role(); ok {
		node.Role = &role
	}
	if title, ok := root.Title(); ok {
		node.Title = &title
	}
	if value, ok := root.Value(); ok {
		node.Value = &value
	}
	if frame, ok := root.Frame(); ok {
		node.Frame = &frame
	}
	if enabled, ok := root.Enabled(); ok {
		node.Enabled = &enabled
	}
	if depth > 0 {
		for _, child := range root.Children() {
			node.Children = append(node.Children, Snapshot(child, depth-1))
			child.Release()
		}
	}
	return node
}
