package core

import "testing"

func TestBuildTreeWiring(t *testing.T) {
	tree := BuildTree([]Collection{
		{ID: 3, ParentID: 2, Name: "Paris", OwnerID: 1},
		{ID: 1, Name: "Vacation", OwnerID: 1},
		{ID: 2, ParentID: 1, Name: "Europe", OwnerID: 1},
	})

	if len(tree.Roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(tree.Roots))
	}
	if tree.Len() != 3 {
		t.Fatalf("expected 3 nodes, got %d", tree.Len())
	}
	for id, wantDepth := range map[int64]int{1: 0, 2: 1, 3: 2} {
		depth, ok := tree.DepthOf(id)
		if !ok || depth != wantDepth {
			t.Fatalf("depth of %d: got %d ok=%v, want %d", id, depth, ok, wantDepth)
		}
	}
	node, ok := tree.GetNode(2)
	if !ok || node.IsRoot() || node.IsLeaf() {
		t.Fatalf("node 2 should be a non-root non-leaf, got %+v ok=%v", node, ok)
	}
}

func TestBuildTreeOrphanBecomesRoot(t *testing.T) {
	tree := BuildTree([]Collection{
		{ID: 5, ParentID: 99, Name: "Orphan", OwnerID: 1},
		{ID: 6, ParentID: 5, Name: "Child", OwnerID: 1},
	})
	node, ok := tree.GetNode(5)
	if !ok || !node.IsRoot() {
		t.Fatal("orphaned subtree must be adopted as a root, not dropped")
	}
	if depth, _ := tree.DepthOf(6); depth != 1 {
		t.Fatalf("orphan child depth: got %d, want 1", depth)
	}
}

func TestBuildTreeBreaksParentCycle(t *testing.T) {
	// 1 and 2 declare each other as parent, 3 hangs off the cycle.
	tree := BuildTree([]Collection{
		{ID: 1, ParentID: 2, Name: "A", OwnerID: 1},
		{ID: 2, ParentID: 1, Name: "B", OwnerID: 1},
		{ID: 3, ParentID: 2, Name: "C", OwnerID: 1},
		{ID: 4, Name: "D", OwnerID: 1},
	})

	reachable := 0
	var walk func(*TreeNode)
	walk = func(n *TreeNode) {
		reachable++
		for _, child := range n.Children {
			walk(child)
		}
	}
	for _, root := range tree.Roots {
		walk(root)
	}
	if reachable != tree.Len() {
		t.Fatalf("%d of %d nodes reachable from roots", reachable, tree.Len())
	}

	for _, id := range []int64{1, 2, 3, 4} {
		path, ok := tree.Path(id)
		if !ok || path[len(path)-1].ID != id {
			t.Fatalf("path for %d broken: %v ok=%v", id, path, ok)
		}
		node, _ := tree.GetNode(id)
		if parent := tree.Parent(node); parent == nil {
			if node.Depth != 0 {
				t.Fatalf("root %d has depth %d", id, node.Depth)
			}
		} else if node.Depth != parent.Depth+1 {
			t.Fatalf("node %d depth %d under parent depth %d", id, node.Depth, parent.Depth)
		}
	}
}

func TestPathEndsAtCollectionAndParentPrecedes(t *testing.T) {
	cols := []Collection{
		{ID: 1, Name: "A", OwnerID: 1},
		{ID: 2, ParentID: 1, Name: "B", OwnerID: 1},
		{ID: 3, ParentID: 2, Name: "C", OwnerID: 1},
		{ID: 4, Name: "D", OwnerID: 1},
	}
	tree := BuildTree(cols)
	for _, c := range cols {
		path, ok := tree.Path(c.ID)
		if !ok {
			t.Fatalf("path for %d missing", c.ID)
		}
		if path[len(path)-1].ID != c.ID {
			t.Fatalf("path for %d does not end at it", c.ID)
		}
		if c.ParentID == 0 {
			if len(path) != 1 {
				t.Fatalf("root %d path length %d, want 1", c.ID, len(path))
			}
			continue
		}
		if path[len(path)-2].ID != c.ParentID {
			t.Fatalf("path for %d: element before last is %d, want %d", c.ID, path[len(path)-2].ID, c.ParentID)
		}
	}
	if _, ok := tree.Path(42); ok {
		t.Fatal("unknown id must yield absent path")
	}
}

func TestBreadcrumbsScenario(t *testing.T) {
	tree := BuildTree([]Collection{
		{ID: 1, Name: "Vacation", OwnerID: 1},
		{ID: 2, ParentID: 1, Name: "Europe", OwnerID: 1},
		{ID: 3, ParentID: 2, Name: "Paris", OwnerID: 1},
	})
	crumbs, ok := tree.Breadcrumbs(3)
	if !ok {
		t.Fatal("breadcrumbs missing")
	}
	want := []string{"Vacation", "Europe", "Paris"}
	if len(crumbs) != len(want) {
		t.Fatalf("breadcrumbs %v, want %v", crumbs, want)
	}
	for i := range want {
		if crumbs[i] != want[i] {
			t.Fatalf("breadcrumbs %v, want %v", crumbs, want)
		}
	}
}

func TestWouldCreateCycle(t *testing.T) {
	tree := BuildTree([]Collection{
		{ID: 1, Name: "A", OwnerID: 1},
		{ID: 2, ParentID: 1, Name: "B", OwnerID: 1},
		{ID: 3, ParentID: 2, Name: "C", OwnerID: 1},
		{ID: 4, Name: "D", OwnerID: 1},
	})

	for _, id := range []int64{1, 2, 3, 4} {
		if !tree.WouldCreateCycle(id, id) {
			t.Fatalf("self-parent %d must be a cycle", id)
		}
	}
	if !tree.WouldCreateCycle(1, 3) {
		t.Fatal("moving 1 under its descendant 3 must be a cycle")
	}
	if !tree.WouldCreateCycle(2, 3) {
		t.Fatal("moving 2 under its descendant 3 must be a cycle")
	}
	if tree.WouldCreateCycle(3, 1) {
		t.Fatal("moving 3 under its ancestor 1 is not a cycle")
	}
	if tree.WouldCreateCycle(2, 4) {
		t.Fatal("moving 2 under unrelated 4 is not a cycle")
	}
}

func TestFindNodeScopedToSubtree(t *testing.T) {
	tree := BuildTree([]Collection{
		{ID: 1, Name: "A", OwnerID: 1},
		{ID: 2, ParentID: 1, Name: "B", OwnerID: 1},
		{ID: 3, Name: "C", OwnerID: 1},
	})
	a, _ := tree.GetNode(1)
	if _, ok := a.FindNode(2); !ok {
		t.Fatal("2 is inside the subtree of 1")
	}
	if _, ok := a.FindNode(3); ok {
		t.Fatal("3 is outside the subtree of 1")
	}
	if _, ok := tree.GetNode(3); !ok {
		t.Fatal("GetNode is global")
	}
}

// Builds a 10,000 node forest, five children per parent filled breadth-first,
// then checks the structural invariants hold everywhere.
func TestLargeTreeInvariants(t *testing.T) {
	const total = 10000
	cols := make([]Collection, 0, total)
	cols = append(cols, Collection{ID: 1, Name: "n1", OwnerID: 1})
	next := int64(2)
	for parent := int64(1); next <= total; parent++ {
		for i := 0; i < 5 && next <= total; i++ {
			cols = append(cols, Collection{ID: next, ParentID: parent, Name: "n", OwnerID: 1})
			next++
		}
	}
	tree := BuildTree(cols)
	if tree.Len() != total {
		t.Fatalf("tree has %d nodes, want %d", tree.Len(), total)
	}
	for _, c := range cols {
		node, ok := tree.GetNode(c.ID)
		if !ok {
			t.Fatalf("node %d missing", c.ID)
		}
		if got, want := node.DescendantCount(), len(node.Descendants()); got != want {
			t.Fatalf("node %d: descendant count %d != len(descendants) %d", c.ID, got, want)
		}
		parent := tree.Parent(node)
		if parent == nil {
			if node.Depth != 0 {
				t.Fatalf("root %d has depth %d", c.ID, node.Depth)
			}
		} else if node.Depth != parent.Depth+1 {
			t.Fatalf("node %d depth %d, parent depth %d", c.ID, node.Depth, parent.Depth)
		}
	}
}

func TestDescendantsOrderAndIsDescendant(t *testing.T) {
	tree := BuildTree([]Collection{
		{ID: 1, Name: "A", OwnerID: 1},
		{ID: 2, ParentID: 1, Name: "B", OwnerID: 1},
		{ID: 3, ParentID: 2, Name: "C", OwnerID: 1},
		{ID: 4, ParentID: 1, Name: "E", OwnerID: 1},
	})
	a, _ := tree.GetNode(1)
	desc := a.Descendants()
	want := []int64{2, 3, 4}
	if len(desc) != len(want) {
		t.Fatalf("descendants %v", desc)
	}
	for i, d := range desc {
		if d.Collection.ID != want[i] {
			t.Fatalf("descendant %d is %d, want %d", i, d.Collection.ID, want[i])
		}
	}
	if a.IsDescendant(1) {
		t.Fatal("a node is not its own descendant")
	}
	if !a.IsDescendant(3) {
		t.Fatal("3 is a descendant of 1")
	}
}
