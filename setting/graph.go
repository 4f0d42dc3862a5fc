package setting

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrParentNotFound is returned when a node references a parent that is not in the graph.
	ErrParentNotFound = errors.New("parent node not found")
	// ErrNodeNotFound is returned for operations on an unknown node id.
	ErrNodeNotFound = errors.New("node not found")
	// ErrReparent is returned when an update tries to move a node under a different parent.
	ErrReparent = errors.New("node cannot be moved to another parent")
)

// IsRootRef reports whether a parent reference means "no parent".
func IsRootRef(ref string) bool {
	switch strings.ToLower(strings.TrimSpace(ref)) {
	case "", "null", "nil", "none":
		return true
	}
	return false
}

// Graph is the node store of one session: id -> node, parent/child index and
// the temp-id map. All methods are safe for concurrent use.
type Graph struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	order    []string
	children map[string][]string
	roots    []string
	tempIDs  map[string]string
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		children: make(map[string][]string),
		tempIDs:  make(map[string]string),
	}
}

// AddNode inserts n, or updates the stored node when the id already exists.
// The parent must already be present. It returns true when a new node was created.
func (g *Graph) AddNode(n Node) (bool, error) {
	if n.ID == "" {
		return false, fmt.Errorf("node %q has no id", n.Name)
	}
	n = n.Clone()

	g.mu.Lock()
	defer g.mu.Unlock()

	if n.ParentID != "" {
		if _, ok := g.nodes[n.ParentID]; !ok {
			return false, fmt.Errorf("%w: %s", ErrParentNotFound, n.ParentID)
		}
		if n.ParentID == n.ID {
			return false, fmt.Errorf("%w: node %s cannot be its own parent", ErrParentNotFound, n.ID)
		}
	}

	if existing, ok := g.nodes[n.ID]; ok {
		if existing.ParentID != n.ParentID {
			return false, fmt.Errorf("%w: %s", ErrReparent, n.ID)
		}
		*existing = n
		return false, nil
	}

	g.nodes[n.ID] = &n
	g.order = append(g.order, n.ID)
	if n.ParentID == "" {
		g.roots = append(g.roots, n.ID)
	} else {
		g.children[n.ParentID] = append(g.children[n.ParentID], n.ID)
	}
	return true, nil
}

// Update applies fn to a copy of the stored node and writes it back. The id
// and parent id cannot change. It returns the node as it was before fn ran.
func (g *Graph) Update(id string, fn func(*Node)) (Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok := g.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	prev := existing.Clone()
	next := existing.Clone()
	fn(&next)
	next.ID, next.ParentID = prev.ID, prev.ParentID
	*existing = next
	return prev, nil
}

// RemoveNodeAndDescendants deletes the node and its whole subtree and returns
// every removed id, the node itself first.
func (g *Graph) RemoveNodeAndDescendants(id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	var removed []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		removed = append(removed, cur)
		queue = append(queue, g.children[cur]...)
	}

	gone := make(map[string]struct{}, len(removed))
	for _, rid := range removed {
		gone[rid] = struct{}{}
		delete(g.nodes, rid)
		delete(g.children, rid)
	}

	if node.ParentID == "" {
		g.roots = without(g.roots, gone)
	} else {
		g.children[node.ParentID] = without(g.children[node.ParentID], gone)
	}
	g.order = without(g.order, gone)

	return removed, nil
}

func without(ids []string, gone map[string]struct{}) []string {
	out := ids[:0]
	for _, id := range ids {
		if _, ok := gone[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// ResolveParent maps a parent reference to a real node id. A reference that
// is already the id of an existing node wins over a temp id of the same text.
func (g *Graph) ResolveParent(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[ref]; ok {
		return ref, true
	}
	if real, ok := g.tempIDs[ref]; ok {
		return real, true
	}
	return "", false
}

// BindTempID records tempID -> realID. The first binding of a temp id is kept
// forever; the bound id is returned either way.
func (g *Graph) BindTempID(tempID, realID string) string {
	tempID = strings.TrimSpace(tempID)
	if tempID == "" {
		return realID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.tempIDs[tempID]; ok {
		return existing
	}
	g.tempIDs[tempID] = realID
	return realID
}

// LookupTempID returns the real id bound to tempID.
func (g *Graph) LookupTempID(tempID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.tempIDs[strings.TrimSpace(tempID)]
	return id, ok
}

// TempIDs returns a copy of the temp-id map.
func (g *Graph) TempIDs() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]string, len(g.tempIDs))
	for k, v := range g.tempIDs {
		out[k] = v
	}
	return out
}

// Get returns a copy of the node with the given id.
func (g *Graph) Get(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.Clone(), true
}

// Has reports whether id is in the graph.
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// RootCount returns the number of root nodes.
func (g *Graph) RootCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.roots)
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].Clone())
	}
	return out
}

// RootIDs returns root ids in insertion order.
func (g *Graph) RootIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.roots...)
}

// ChildIDs returns the direct children of id in insertion order.
func (g *Graph) ChildIDs(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.children[id]...)
}

// BuildPath returns the node names from the root down to id.
func (g *Graph) BuildPath(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var names []string
	seen := make(map[string]struct{})
	for cur := id; cur != ""; {
		n, ok := g.nodes[cur]
		if !ok {
			break
		}
		if _, loop := seen[cur]; loop {
			break
		}
		seen[cur] = struct{}{}
		names = append(names, n.Name)
		cur = n.ParentID
	}

	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

// Path renders BuildPath as "/root/child/node".
func (g *Graph) Path(id string) string {
	return "/" + strings.Join(g.BuildPath(id), "/")
}

// Depth returns the 1-based depth of id, or 0 when id is unknown.
func (g *Graph) Depth(id string) int {
	return len(g.BuildPath(id))
}
