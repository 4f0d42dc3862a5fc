// Package render turns a setting graph into a readable outline.
//
// Markdown produces one heading per node, nested by depth, with the node
// type and description underneath. HTML runs that through gomarkdown and
// sanitises the result, since names and descriptions are model output.
package render

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// Title heads the outline when none is given.
const Title = "Setting"

var mdEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
	"#", `\#`,
	"<", `\<`,
)

// Markdown renders the graph as nested headings. Headings stop at level 6;
// deeper nodes become bold paragraphs.
func Markdown(g *setting.Graph, title string) string {
	if title == "" {
		title = Title
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", mdEscaper.Replace(title))
	if g.Len() == 0 {
		b.WriteString("_No settings yet._\n")
		return b.String()
	}
	for _, id := range g.RootIDs() {
		writeNode(&b, g, id, 2)
	}
	return b.String()
}

func writeNode(b *strings.Builder, g *setting.Graph, id string, level int) {
	n, ok := g.Get(id)
	if !ok {
		return
	}
	name := mdEscaper.Replace(n.Name)
	if level <= 6 {
		fmt.Fprintf(b, "%s %s\n\n", strings.Repeat("#", level), name)
	} else {
		fmt.Fprintf(b, "**%s**\n\n", name)
	}

	meta := "`" + string(n.Type) + "`"
	if n.FromKnowledgeBase() {
		meta += " · knowledge base"
	}
	if n.Status == setting.NodeModified {
		meta += " · modified"
	}
	b.WriteString(meta + "\n\n")

	if d := strings.TrimSpace(n.Description); d != "" {
		b.WriteString(mdEscaper.Replace(d))
		b.WriteString("\n\n")
	}
	for _, child := range g.ChildIDs(id) {
		writeNode(b, g, child, level+1)
	}
}

// HTML renders Markdown(g, title) to sanitised HTML.
func HTML(g *setting.Graph, title string) string {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(Markdown(g, title)))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	out := markdown.Render(doc, renderer)
	return string(bluemonday.UGCPolicy().SanitizeBytes(out))
}

// FromSnapshot rebuilds a graph from a stored snapshot. Snapshot nodes are
// in insertion order, so parents always precede their children.
func FromSnapshot(snap *setting.Snapshot) (*setting.Graph, error) {
	g := setting.NewGraph()
	for _, n := range snap.Nodes {
		if _, err := g.AddNode(n); err != nil {
			return nil, fmt.Errorf("failed to rebuild node %s: %w", n.ID, err)
		}
	}
	return g, nil
}
