package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// Limits of the temp-id index shown to the model.
const (
	IndexMaxLines = 200
	IndexMaxChars = 8000
)

// TempIDIndex renders the session's temp ids as "tid | name | type" lines,
// sorted by temp id and truncated to IndexMaxLines / IndexMaxChars.
func TempIDIndex(g *setting.Graph) string {
	ids := g.TempIDs()
	keys := make([]string, 0, len(ids))
	for k := range ids {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	lines := 0
	for _, tid := range keys {
		n, ok := g.Get(ids[tid])
		if !ok {
			continue
		}
		line := fmt.Sprintf("%s | %s | %s\n", tid, n.Name, n.Type)
		if lines >= IndexMaxLines || b.Len()+len(line) > IndexMaxChars {
			break
		}
		b.WriteString(line)
		lines++
	}
	if lines == 0 {
		return "(none)"
	}
	return strings.TrimRight(b.String(), "\n")
}

func extractionSystemPrompt(strategyContext, index string) string {
	var b strings.Builder
	b.WriteString(`You convert setting descriptions into structured nodes by calling the ` + ToolName + ` tool.

Rules:
- Each block of the text describes one node: "Node: <tempId> | Type: <TYPE> | Title: <name>", "Parent: <tempId or null>", "Content: <description>".
- Call the tool with every complete node in the text. Skip a node only if its block is cut off.
- Keep the tempId from the text. Set parentId to the parent's tempId, or null for a root node.
- A parent may be a node listed in the existing index below; reference it by its tempId.
- Never create a node that already appears in the existing index.
- type must be one of: ` + setting.TypeList() + `.
- Node names must not contain "/".
- When every node of the text has been submitted, set complete to true.
`)
	if strategyContext != "" {
		b.WriteString("\n")
		b.WriteString(strategyContext)
	}
	b.WriteString("\nExisting nodes (tempId | name | type):\n")
	b.WriteString(index)
	b.WriteString("\n")
	return b.String()
}

func extractionUserPrompt(text string) string {
	return "Text to convert:\n\n" + text
}
