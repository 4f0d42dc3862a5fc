package textphase

import (
	"fmt"
	"strings"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/orchestrator"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/session"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// PreviousRoundsPrefix introduces earlier rounds' text in the conversation.
const PreviousRoundsPrefix = "Previous rounds' text (for reference, avoid duplication):\n"

func systemPrompt(h *session.Handle) string {
	var b strings.Builder
	b.WriteString(`You are a world-building assistant for novelists. Describe the setting as plain text only: no JSON, no code, no tool calls.

Use exactly three lines per setting node and leave one blank line between nodes:
Node: <tempId> | Type: <TYPE> | Title: <name>
Parent: <parentTempId or null> [<parent name>]
Content: <description of the node>

Format rules:
- Build depth as you go: a root node, then its children, then theirs, before moving to the next root.
- tempIds look like R1, R1-1, R2-3. A node keeps its tempId in every round.
- Root nodes use "Parent: null". Child nodes give the parent's tempId and may add the parent's name in brackets.
- Names must not contain "/"; use "／" instead.
- Never put two nodes on one line. No lists, tables, numbering or Markdown.
`)
	fmt.Fprintf(&b, "- Type is one of: %s.\n", setting.TypeList())
	b.WriteString(`
Example:
Node: R1 | Type: MAGIC_SYSTEM | Title: Magic
Parent: null
Content: Where supernatural power in this world comes from and the rules it follows.

Node: R1-1 | Type: CHARACTER | Title: Mages
Parent: R1 [Magic]
Content: People who can sense and shape mana, usually trained by one of the schools.
`)
	if ctx := h.Strategy.BuildPromptContext(); ctx != "" {
		b.WriteString("\n")
		b.WriteString(ctx)
	}
	if idx := orchestrator.TempIDIndex(h.Graph()); idx != "(none)" {
		b.WriteString("\nNodes that already exist (tempId | name | type); attach to them instead of repeating them:\n")
		b.WriteString(idx)
		b.WriteString("\n")
	}
	return b.String()
}

func userPrompt(prompt string, round, rounds int) string {
	if rounds <= 1 || round == 1 {
		return prompt
	}
	return fmt.Sprintf("%s\n\nRound %d of %d: continue the setting. Add missing nodes and deeper children; keep existing tempIds.", prompt, round, rounds)
}
