package dom

// FirstLeaf descends the first-child chain of n and returns the deepest node.
func FirstLeaf(n *Node) *Node {
	for n != nil && n.FirstChild != nil {
		n = n.FirstChild
	}
	return n
}

// NextLeaf returns the leaf following n in document order: climb to the
// nearest ancestor-or-self with a next sibling, then descend that sibling's
// first-child chain. It returns nil at the end of the tree.
func NextLeaf(n *Node) *Node {
	for n != nil && n.NextSibling == nil {
		n = n.Parent
	}
	if n == nil {
		return nil
	}
	return FirstLeaf(n.NextSibling)
}

// NextLeafWithin is NextLeaf bounded to the subtree of root.
func NextLeafWithin(root, n *Node) *Node {
	for n != nil && n != root && n.NextSibling == nil {
		n = n.Parent
	}
	if n == nil || n == root {
		return nil
	}
	return FirstLeaf(n.NextSibling)
}

// Leaves returns the leaves of the subtree rooted at n in document order.
// A childless n is its own single leaf.
func Leaves(n *Node) []*Node {
	var leaves []*Node
	for leaf := FirstLeaf(n); leaf != nil; leaf = NextLeafWithin(n, leaf) {
		leaves = append(leaves, leaf)
	}
	return leaves
}

// Walk calls fn for n and every descendant in document order (pre-order).
// Returning false from fn skips the node's children.
func Walk(n *Node, fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		Walk(c, fn)
		c = next
	}
}

// Find returns every element under n (inclusive) for which match is true.
func Find(n *Node, match func(*Node) bool) []*Node {
	var found []*Node
	Walk(n, func(c *Node) bool {
		if c.Type == ElementNode && match(c) {
			found = append(found, c)
		}
		return true
	})
	return found
}

// GetElementByID returns the first element under n with the given id.
func GetElementByID(n *Node, id string) *Node {
	var found *Node
	Walk(n, func(c *Node) bool {
		if found != nil {
			return false
		}
		if c.ID() == id {
			found = c
			return false
		}
		return true
	})
	return found
}

// Compare orders two nodes of the same tree in document order. Ancestors
// sort before their descendants. Nodes from different trees compare as 0.
func Compare(a, b *Node) int {
	if a == b {
		return 0
	}
	pathA := ancestry(a)
	pathB := ancestry(b)
	if pathA[0] != pathB[0] {
		return 0
	}
	i := 0
	for i < len(pathA) && i < len(pathB) && pathA[i] == pathB[i] {
		i++
	}
	switch {
	case i == len(pathA):
		return -1
	case i == len(pathB):
		return 1
	}
	for s := pathA[i].NextSibling; s != nil; s = s.NextSibling {
		if s == pathB[i] {
			return -1
		}
	}
	return 1
}

// ancestry returns the path from the root down to n.
func ancestry(n *Node) []*Node {
	var path []*Node
	for ; n != nil; n = n.Parent {
		path = append(path, n)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
