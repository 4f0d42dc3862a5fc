package validate

import (
	"strings"
	"testing"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase(t *testing.T) {
	g := setting.NewGraph()
	_, err := g.AddNode(setting.Node{ID: "root", Name: "Realm", Type: setting.TypeWorldview, Description: "d"})
	require.NoError(t, err)

	ok := setting.Node{ID: "n", ParentID: "root", Name: "City", Type: setting.TypeLocation, Description: "A port city."}
	assert.NoError(t, Base(ok, g))

	cases := map[string]func(n *setting.Node){
		"name":        func(n *setting.Node) { n.Name = "  " },
		"slash":       func(n *setting.Node) { n.Name = "a/b" },
		"control":     func(n *setting.Node) { n.Name = "a\nb" },
		"long":        func(n *setting.Node) { n.Name = strings.Repeat("x", MaxNameLength+1) },
		"description": func(n *setting.Node) { n.Description = "" },
		"type":        func(n *setting.Node) { n.Type = "SPACESHIP" },
		"parent":      func(n *setting.Node) { n.ParentID = "missing" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			n := ok.Clone()
			mutate(&n)
			var ve *ValidationError
			assert.ErrorAs(t, Base(n, g), &ve)
		})
	}

	orphan := ok.Clone()
	orphan.ParentID = "missing"
	assert.NoError(t, Base(orphan, nil))
}

func TestLookup(t *testing.T) {
	s, ok := Lookup("")
	assert.True(t, ok)
	assert.Equal(t, StrategyStandard, s.ID())

	s, ok = Lookup("Nine-Line")
	assert.True(t, ok)
	assert.Equal(t, StrategyNineLine, s.ID())

	s, ok = Lookup("unknown")
	assert.False(t, ok)
	assert.Equal(t, StrategyStandard, s.ID())
}

func TestNineLine_RootLimitAndPillarTypes(t *testing.T) {
	s := NewNineLine()
	g := setting.NewGraph()

	for i := 0; i < 9; i++ {
		n := setting.Node{ID: string(rune('a' + i)), Name: "Pillar", Type: setting.TypeWorldview, Description: "a world pillar text"}
		require.NoError(t, Node(s, n, g))
		_, err := g.AddNode(n)
		require.NoError(t, err)
	}

	tenth := setting.Node{ID: "z", Name: "Extra", Type: setting.TypeWorldview, Description: "one pillar too many"}
	assert.Error(t, s.ValidateNode(tenth, g))

	item := setting.Node{ID: "y", Name: "Sword", Type: setting.TypeItem, Description: "an item is not a pillar"}
	assert.Error(t, s.ValidateNode(item, g))

	update, _ := g.Get("a")
	update.Description = "updated pillar description"
	assert.NoError(t, s.ValidateNode(update, g))
}

func TestStandard_MaxDepth(t *testing.T) {
	s := NewStandardWithConfig(Config{MaxDepth: 2})
	g := setting.NewGraph()
	_, _ = g.AddNode(setting.Node{ID: "a", Name: "A", Type: setting.TypeLore, Description: "d"})
	_, _ = g.AddNode(setting.Node{ID: "b", ParentID: "a", Name: "B", Type: setting.TypeLore, Description: "d"})

	assert.Error(t, s.ValidateNode(setting.Node{ID: "c", ParentID: "b", Name: "C", Description: "d"}, g))
	assert.NoError(t, s.ValidateNode(setting.Node{ID: "c", ParentID: "a", Name: "C", Description: "d"}, g))
	assert.Contains(t, s.BuildPromptContext(), "Do not nest deeper than 2 levels.")
}

func qualityNode(id, parent, tempID string, typ setting.NodeType, desc string) setting.Node {
	n := setting.Node{ID: id, ParentID: parent, Name: "Node " + id, Type: typ, Description: desc}
	if tempID != "" {
		n.SetAttr(setting.AttrTempID, tempID)
	}
	return n
}

func TestQualityValidator_Empty(t *testing.T) {
	res := NewQualityValidator(nil).Validate(nil)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"no nodes were generated"}, res.Errors)
}

func TestQualityValidator_SmallTwoLevelGraph(t *testing.T) {
	long := "A sufficiently long description of this setting node."
	nodes := []setting.Node{
		qualityNode("1", "", "R1", setting.TypeLocation, long),
		qualityNode("2", "R1", "R1-1", setting.TypeFaction, long),
	}

	res := NewQualityValidator(nil).Validate(nodes)
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 1)
	assert.Contains(t, res.ErrorSummary(), "too few nodes")
	assert.Contains(t, res.WarningSummary(), "tree depth 2")
}

func TestQualityValidator_HealthyGraph(t *testing.T) {
	long := "A sufficiently long description of this setting node."
	nodes := []setting.Node{
		qualityNode("1", "", "R1", setting.TypeWorldview, long),
		qualityNode("2", "1", "", setting.TypeLocation, long),
		qualityNode("3", "2", "", setting.TypeLocation, long),
		qualityNode("4", "R1", "", setting.TypeFaction, long),
		qualityNode("5", "4", "", setting.TypeCharacter, long),
	}
	for i := 6; i <= 15; i++ {
		nodes = append(nodes, qualityNode(string(rune('a'+i)), "1", "", setting.TypeLore, long))
	}

	res := NewQualityValidator(NewStandard()).Validate(nodes)
	assert.True(t, res.Valid, res.ErrorSummary())
	assert.Empty(t, res.Warnings)
}

func TestQualityValidator_ReportsProblems(t *testing.T) {
	nodes := []setting.Node{
		qualityNode("1", "", "", setting.TypeLore, "short"),
		qualityNode("2", "ghost", "", setting.TypeLore, ""),
		qualityNode("3", "1", "", setting.TypeLore, "short"),
		qualityNode("4", "1", "", setting.TypeLore, "short"),
		qualityNode("5", "1", "", setting.TypeLore, "short"),
		qualityNode("6", "1", "", setting.TypeLore, "short"),
	}
	nodes[3].Name = "a/b"

	res := NewQualityValidator(nil).Validate(nodes)
	assert.False(t, res.Valid)
	errs := res.ErrorSummary()
	assert.Contains(t, errs, "missing parent ghost")
	assert.Contains(t, errs, "empty description")
	assert.Contains(t, errs, "1 nodes have empty descriptions")
	assert.Contains(t, errs, "contains '/'")

	warns := res.WarningSummary()
	assert.Contains(t, warns, "5 of 6 descriptions")
	assert.Contains(t, warns, "only 1 node type used")
}
