package core

// MaxDepth is the deepest level a collection may sit at. The root level is
// depth 0, so the forest holds at most MaxDepth+1 levels.
const MaxDepth = 9

// TreeNode wraps one collection inside a Tree snapshot. The forest owns
// nodes through the tree's id index; parentID is a lookup relation resolved
// against that index, never an owning edge.
type TreeNode struct {
	Collection Collection
	Children   []*TreeNode
	Depth      int

	parentID int64
	isRoot   bool
}

// IsRoot reports whether the node sits at the top level of the forest.
func (n *TreeNode) IsRoot() bool {
	return n.isRoot
}

// IsLeaf reports whether the node has no children.
func (n *TreeNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// ParentID returns the effective parent id, zero for roots. Orphans whose
// declared parent was missing from the snapshot report zero here even though
// their collection still carries the stale ParentID.
func (n *TreeNode) ParentID() int64 {
	return n.parentID
}

// Descendants returns every node strictly below n in depth-first order.
func (n *TreeNode) Descendants() []*TreeNode {
	var out []*TreeNode
	var walk func(*TreeNode)
	walk = func(cur *TreeNode) {
		for _, child := range cur.Children {
			out = append(out, child)
			walk(child)
		}
	}
	walk(n)
	return out
}

// DescendantCount returns the number of nodes strictly below n.
func (n *TreeNode) DescendantCount() int {
	count := 0
	for _, child := range n.Children {
		count += 1 + child.DescendantCount()
	}
	return count
}

// IsDescendant reports whether id names a node strictly below n.
func (n *TreeNode) IsDescendant(id int64) bool {
	for _, child := range n.Children {
		if child.Collection.ID == id || child.IsDescendant(id) {
			return true
		}
	}
	return false
}

// FindNode searches the subtree rooted at n, including n itself.
func (n *TreeNode) FindNode(id int64) (*TreeNode, bool) {
	if n.Collection.ID == id {
		return n, true
	}
	for _, child := range n.Children {
		if found, ok := child.FindNode(id); ok {
			return found, true
		}
	}
	return nil, false
}

// Height returns the number of levels below n; zero for a leaf.
func (n *TreeNode) Height() int {
	max := 0
	for _, child := range n.Children {
		if h := child.Height() + 1; h > max {
			max = h
		}
	}
	return max
}

// Tree is an immutable snapshot of the collection forest. It is rebuilt
// wholesale from the flat collection list; structural changes go through the
// mutation API and a subsequent rebuild, never through the snapshot.
type Tree struct {
	Roots []*TreeNode

	nodes map[int64]*TreeNode
}

// BuildTree assembles a forest from an unordered flat collection list.
// First pass indexes every collection, second pass wires children to parents.
// A collection whose declared parent is absent becomes a root rather than
// being dropped, and a parent cycle in the input is broken by promoting one
// of its members to root, so every node is always reachable from Roots.
// Depths are assigned top-down after wiring.
func BuildTree(collections []Collection) *Tree {
	tree := &Tree{nodes: make(map[int64]*TreeNode, len(collections))}
	order := make([]*TreeNode, 0, len(collections))
	for _, c := range collections {
		node := &TreeNode{Collection: c}
		tree.nodes[c.ID] = node
		order = append(order, node)
	}
	for _, node := range order {
		parentID := node.Collection.ParentID
		if parentID == 0 || parentID == node.Collection.ID {
			node.isRoot = true
			tree.Roots = append(tree.Roots, node)
			continue
		}
		parent, ok := tree.nodes[parentID]
		if !ok {
			node.isRoot = true
			tree.Roots = append(tree.Roots, node)
			continue
		}
		node.parentID = parentID
		parent.Children = append(parent.Children, node)
	}
	visited := make(map[int64]bool, len(order))
	for _, root := range tree.Roots {
		assignDepths(root, 0, visited)
	}
	// Anything still unvisited hangs off a parent cycle in the input. Walk
	// up to the cycle, detach one member from its parent, and promote it to
	// root; Path and Descendants then terminate for every node.
	for _, node := range order {
		if visited[node.Collection.ID] {
			continue
		}
		seen := make(map[int64]bool)
		cur := node
		for !seen[cur.Collection.ID] {
			seen[cur.Collection.ID] = true
			cur = tree.nodes[cur.parentID]
		}
		parent := tree.nodes[cur.parentID]
		for i, child := range parent.Children {
			if child == cur {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				break
			}
		}
		cur.parentID = 0
		cur.isRoot = true
		tree.Roots = append(tree.Roots, cur)
		assignDepths(cur, 0, visited)
	}
	return tree
}

func assignDepths(node *TreeNode, depth int, visited map[int64]bool) {
	visited[node.Collection.ID] = true
	node.Depth = depth
	for _, child := range node.Children {
		assignDepths(child, depth+1, visited)
	}
}

// Len returns the number of collections in the snapshot.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// GetNode is the global O(1) lookup.
func (t *Tree) GetNode(id int64) (*TreeNode, bool) {
	node, ok := t.nodes[id]
	return node, ok
}

// Parent resolves a node's parent against the index, nil for roots.
func (t *Tree) Parent(n *TreeNode) *TreeNode {
	if n.isRoot {
		return nil
	}
	return t.nodes[n.parentID]
}

// Path returns the collections from a root down to id inclusive.
func (t *Tree) Path(id int64) ([]Collection, bool) {
	node, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	var path []Collection
	for cur := node; cur != nil; cur = t.Parent(cur) {
		path = append(path, cur.Collection)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}

// Breadcrumbs returns the display names along Path(id), root first.
func (t *Tree) Breadcrumbs(id int64) ([]string, bool) {
	path, ok := t.Path(id)
	if !ok {
		return nil, false
	}
	names := make([]string, len(path))
	for i, c := range path {
		names[i] = c.Name
	}
	return names, true
}

// DepthOf returns the recorded depth of id, zero for roots.
func (t *Tree) DepthOf(id int64) (int, bool) {
	node, ok := t.nodes[id]
	if !ok {
		return 0, false
	}
	return node.Depth, true
}

// WouldCreateCycle reports whether reparenting sourceID under targetID would
// close a cycle: the target is the source itself or one of its descendants.
// Checked before any mutation is attempted.
func (t *Tree) WouldCreateCycle(sourceID, targetID int64) bool {
	if sourceID == targetID {
		return true
	}
	source, ok := t.nodes[sourceID]
	if !ok {
		return false
	}
	return source.IsDescendant(targetID)
}

// Collections returns every collection in the snapshot in depth-first order,
// roots in build order. Used for snapshot serialization.
func (t *Tree) Collections() []Collection {
	out := make([]Collection, 0, len(t.nodes))
	var walk func(*TreeNode)
	walk = func(n *TreeNode) {
		out = append(out, n.Collection)
		for _, child := range n.Children {
			walk(child)
		}
	}
	for _, root := range t.Roots {
		walk(root)
	}
	return out
}
