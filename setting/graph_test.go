package setting

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	for _, n := range []Node{
		{ID: "a", Name: "Realm", Type: TypeWorldview},
		{ID: "b", ParentID: "a", Name: "Capital", Type: TypeLocation},
		{ID: "c", ParentID: "b", Name: "Palace", Type: TypeLocation},
		{ID: "d", ParentID: "b", Name: "Guard", Type: TypeFaction},
		{ID: "e", Name: "Magic", Type: TypeMagicSystem},
	} {
		created, err := g.AddNode(n)
		require.NoError(t, err)
		require.True(t, created)
	}
	return g
}

func TestGraph_AddNodeRejectsUnknownParent(t *testing.T) {
	g := NewGraph()

	_, err := g.AddNode(Node{ID: "x", ParentID: "missing", Name: "Orphan"})
	assert.ErrorIs(t, err, ErrParentNotFound)
	assert.Equal(t, 0, g.Len())
	assert.Empty(t, g.RootIDs())
}

func TestGraph_AddNodeUpdatesInPlace(t *testing.T) {
	g := buildTree(t)

	created, err := g.AddNode(Node{ID: "b", ParentID: "a", Name: "Capital City", Type: TypeLocation})
	require.NoError(t, err)
	assert.False(t, created)

	n, ok := g.Get("b")
	require.True(t, ok)
	assert.Equal(t, "Capital City", n.Name)
	assert.Equal(t, 5, g.Len())
	assert.Equal(t, []string{"c", "d"}, g.ChildIDs("b"))

	_, err = g.AddNode(Node{ID: "b", ParentID: "e", Name: "Capital"})
	assert.ErrorIs(t, err, ErrReparent)
}

func TestGraph_RemoveNodeAndDescendants(t *testing.T) {
	g := buildTree(t)

	removed, err := g.RemoveNodeAndDescendants("b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c", "d"}, removed)
	assert.Equal(t, "b", removed[0])
	assert.Equal(t, 2, g.Len())
	assert.True(t, g.Has("a"))
	assert.True(t, g.Has("e"))
	assert.Empty(t, g.ChildIDs("a"))

	removed, err = g.RemoveNodeAndDescendants("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, removed)
	assert.Equal(t, []string{"e"}, g.RootIDs())

	_, err = g.RemoveNodeAndDescendants("a")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestGraph_TempIDsAreStable(t *testing.T) {
	g := buildTree(t)

	assert.Equal(t, "a", g.BindTempID("R1", "a"))
	assert.Equal(t, "a", g.BindTempID("R1", "e"))

	id, ok := g.ResolveParent("R1")
	require.True(t, ok)
	assert.Equal(t, "a", id)

	id, ok = g.ResolveParent("c")
	require.True(t, ok)
	assert.Equal(t, "c", id)

	_, ok = g.ResolveParent("R9")
	assert.False(t, ok)
}

func TestGraph_PathAndDepth(t *testing.T) {
	g := buildTree(t)

	assert.Equal(t, []string{"Realm", "Capital", "Palace"}, g.BuildPath("c"))
	assert.Equal(t, "/Realm/Capital/Palace", g.Path("c"))
	assert.Equal(t, 3, g.Depth("c"))
	assert.Equal(t, 1, g.Depth("e"))
	assert.Equal(t, 0, g.Depth("nope"))
}

func TestGraph_Update(t *testing.T) {
	g := buildTree(t)

	prev, err := g.Update("d", func(n *Node) {
		n.Description = "Elite guard"
		n.Status = NodeModified
		n.ParentID = "e"
	})
	require.NoError(t, err)
	assert.Empty(t, prev.Description)

	n, _ := g.Get("d")
	assert.Equal(t, "Elite guard", n.Description)
	assert.Equal(t, "b", n.ParentID)
	assert.Equal(t, NodeModified, n.Status)
}

func TestGraph_ConcurrentInsertsKeepParentsResolved(t *testing.T) {
	g := NewGraph()
	_, err := g.AddNode(Node{ID: "root", Name: "Root"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			parent := "root"
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				_, err := g.AddNode(Node{ID: id, ParentID: parent, Name: id})
				assert.NoError(t, err)
				g.BindTempID(id, id)
				parent = id
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 401, g.Len())
	for _, n := range g.Nodes() {
		if n.ParentID != "" {
			assert.True(t, g.Has(n.ParentID))
		}
	}
}

func TestSanitizeName(t *testing.T) {
	g := NewGraph()
	name := SanitizeName(" Sword/Shield ")
	assert.Equal(t, "Sword／Shield", name)

	_, err := g.AddNode(Node{ID: "n", Name: name})
	require.NoError(t, err)
	n, _ := g.Get("n")
	assert.Equal(t, "Sword／Shield", n.Name)
	assert.Equal(t, "/Sword／Shield", g.Path("n"))
}

func TestParseNodeType(t *testing.T) {
	assert.Equal(t, TypeLocation, ParseNodeType("location"))
	assert.Equal(t, TypePowerSystem, ParseNodeType("power-system"))
	assert.Equal(t, TypeGoldenFinger, ParseNodeType(" golden finger "))
	assert.Equal(t, TypeOther, ParseNodeType("spaceship"))
	assert.Len(t, NodeTypes, 29)
	assert.True(t, TypeTrope.Valid())
	assert.False(t, NodeType("NOPE").Valid())
}

func TestIsRootRef(t *testing.T) {
	for _, ref := range []string{"", " ", "null", "NULL", "none", "nil"} {
		assert.True(t, IsRootRef(ref), ref)
	}
	assert.False(t, IsRootRef("R1"))
}
