package structured

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

const jsonExample = "```json\n" + `[
  {
    "tempId": "R1",
    "name": "Node name",
    "type": "CHARACTER",
    "description": "Detailed description with concrete specifics",
    "parentId": null,
    "attributes": {}
  },
  {
    "tempId": "R1-1",
    "name": "Child node name",
    "type": "CONCEPT",
    "description": "Child node description...",
    "parentId": "R1",
    "attributes": {}
  }
]` + "\n```\n"

// systemPrompt builds the round instructions. Nodes seeded from a knowledge
// base are left out of the context; a round that only sees such nodes is
// treated as the first round. feedback lists the quality problems found after
// the previous round.
func systemPrompt(strategyContext string, g *setting.Graph, round int, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Structured output mode (round %d)\n\n", round)
	b.WriteString("Reply with one complete JSON array and nothing else: no explanations, no prose.\n\n")
	if strategyContext != "" {
		b.WriteString(strategyContext)
		b.WriteString("\n")
	}

	nodes := slices.DeleteFunc(g.Nodes(), func(n setting.Node) bool { return n.FromKnowledgeBase() })
	if len(nodes) == 0 {
		b.WriteString("## This round\n\nThis is the first round. Create the base framework: a few root nodes and their children.\n\n")
	} else {
		writeExisting(&b, g, nodes)
		b.WriteString(`**This round**:
1. Add children to existing nodes, especially those without any.
2. Add grandchildren under existing children to deepen the tree.
3. Add sibling nodes where the setting is thin.
4. Stay consistent with the existing nodes.
5. Number new tempIds after the existing ones (with R1-1 present, add R1-2, R1-3, ...).
6. Return only new nodes; existing ones are already saved.

`)
	}
	if feedback = strings.TrimSpace(feedback); feedback != "" {
		b.WriteString("## Problems to fix this round\n\nThe settings so far fail these checks. Address them with the new nodes:\n")
		for _, line := range strings.Split(feedback, "\n") {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}

	b.WriteString("## JSON format\n\n")
	b.WriteString(jsonExample)
	b.WriteString(`
## Fields
- tempId: required for every node, roots included. Roots use R1, R2, ...; children R1-1, R1-2; grandchildren R1-1-1.
- name: must not contain "/"; use "／" instead.
- type: one of ` + setting.TypeList() + `.
- description: at least 50 characters with concrete details.
- parentId: the parent's tempId; null for root nodes.
- attributes: optional extra properties, e.g. {"age": "25"}.

## Quality
1. At least 15 nodes.
2. At least 3 levels (root, child, grandchild).
3. Between 2 and 5 root nodes.
4. Every parentId refers to an existing tempId.
5. Use several different node types.
6. Go deep before wide: finish one root's subtree before starting the next root.
`)
	return b.String()
}

func writeExisting(b *strings.Builder, g *setting.Graph, nodes []setting.Node) {
	var roots, children []setting.Node
	for _, n := range nodes {
		if n.ParentID == "" {
			roots = append(roots, n)
		} else {
			children = append(children, n)
		}
	}

	fmt.Fprintf(b, "## Existing nodes\n\n%d nodes already exist. Read them carefully and extend them:\n\n", len(nodes))
	fmt.Fprintf(b, "### Root nodes (%d)\n\n", len(roots))
	for _, n := range roots {
		writeNode(b, g, n)
	}
	if len(children) > 0 {
		fmt.Fprintf(b, "\n### Child nodes (%d)\n\n", len(children))
		for _, n := range children {
			writeNode(b, g, n)
		}
	}
	b.WriteString("\n---\n\n")
}

func writeNode(b *strings.Builder, g *setting.Graph, n setting.Node) {
	tid := n.TempID()
	if tid == "" {
		tid = n.ID
	}
	parent := "null"
	if n.ParentID != "" {
		parent = n.ParentID
		if p, ok := g.Get(n.ParentID); ok {
			ref := p.TempID()
			if ref == "" {
				ref = p.ID
			}
			parent = fmt.Sprintf("%s [%s]", ref, p.Name)
		}
	}

	fmt.Fprintf(b, "**%s: %s**\n", tid, n.Name)
	fmt.Fprintf(b, "- type: %s\n- parent: %s\n- description: %s\n", n.Type, parent, n.Description)

	var keys []string
	for k, v := range n.Attributes {
		if k != setting.AttrTempID && v != nil {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, n.Attributes[k])
		}
		fmt.Fprintf(b, "- attributes: %s\n", strings.Join(parts, "; "))
	}
}
