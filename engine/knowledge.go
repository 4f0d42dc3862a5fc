package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/retry"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/session"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/validate"
)

// AttrSourceID keeps the id a seeded node had in its knowledge-base entry.
const AttrSourceID = "sourceNodeId"

var (
	// ErrEntryNotFound is returned by YAMLKnowledgeBase for a missing entry.
	ErrEntryNotFound = errors.New("knowledge base entry not found")
	// ErrNothingToReuse fails a reuse session whose entries yield no nodes.
	ErrNothingToReuse = errors.New("no knowledge base nodes to reuse")
)

// KnowledgeBaseMode selects how knowledge-base entries feed a session.
type KnowledgeBaseMode string

const (
	// KnowledgeBaseReuse inserts the entries' nodes and completes without
	// calling a model.
	KnowledgeBaseReuse KnowledgeBaseMode = "REUSE"
	// KnowledgeBaseImitation shows the entries to the model as references
	// and inserts nothing.
	KnowledgeBaseImitation KnowledgeBaseMode = "IMITATION"
	// KnowledgeBaseHybrid inserts the entries' nodes, then generates.
	KnowledgeBaseHybrid KnowledgeBaseMode = "HYBRID"
)

// ParseKnowledgeBaseMode is case-insensitive. Empty and unknown values map
// to KnowledgeBaseHybrid.
func ParseKnowledgeBaseMode(s string) KnowledgeBaseMode {
	switch m := KnowledgeBaseMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case KnowledgeBaseReuse, KnowledgeBaseImitation:
		return m
	}
	return KnowledgeBaseHybrid
}

// YAMLKnowledgeBase reads entries from <Dir>/<id>.yaml. Each file holds a
// list of nodes under "nodes"; parents are referenced by their id in the file.
type YAMLKnowledgeBase struct {
	Dir string
}

type kbEntry struct {
	Name  string         `yaml:"name"`
	Nodes []setting.Node `yaml:"nodes"`
}

// Lookup loads every entry in ids, in order.
func (kb YAMLKnowledgeBase) Lookup(ctx context.Context, ids []string) ([]setting.Node, error) {
	var out []setting.Node
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id = strings.TrimSpace(id)
		if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
			return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, id)
		}
		data, err := os.ReadFile(filepath.Join(kb.Dir, id+".yaml"))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
			}
			return nil, fmt.Errorf("failed to read knowledge base entry %s: %w", id, err)
		}
		var entry kbEntry
		if err := yaml.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("failed to parse knowledge base entry %s: %w", id, err)
		}
		out = append(out, entry.Nodes...)
	}
	return out, nil
}

// applyKnowledgeBase runs the knowledge-base step of a new session. It
// returns the prompt generation should use, and false when no generation
// must follow.
func (e *Engine) applyKnowledgeBase(ctx context.Context, h *session.Handle, req StartRequest) (string, bool) {
	if len(req.KnowledgeBaseIDs) == 0 && len(req.ReferenceKnowledgeBaseIDs) == 0 {
		return req.Prompt, true
	}
	mode := ParseKnowledgeBaseMode(string(req.KnowledgeBaseMode))
	h.Session.SetMeta(setting.MetaKnowledgeBaseMode, string(mode))
	e.logger.Info("[session %s] knowledge base mode %s", h.ID(), mode)

	switch mode {
	case KnowledgeBaseReuse:
		if e.seed(ctx, h, req.KnowledgeBaseIDs) == 0 {
			e.fail(h, setting.CodeGeneration, ErrNothingToReuse)
			return req.Prompt, false
		}
		h.Gate.MarkTextPhaseEnded()
		h.Gate.TryFinalize("knowledge base reuse")
		return req.Prompt, false
	case KnowledgeBaseImitation:
		return e.imitate(ctx, h, req.Prompt, req.KnowledgeBaseIDs), true
	default:
		e.seed(ctx, h, req.KnowledgeBaseIDs)
		return e.imitate(ctx, h, req.Prompt, req.ReferenceKnowledgeBaseIDs), true
	}
}

func (e *Engine) lookup(ctx context.Context, h *session.Handle, ids []string) []setting.Node {
	if len(ids) == 0 {
		return nil
	}
	if e.opts.KnowledgeBase == nil {
		e.logger.Warn("[session %s] knowledge base ids given but no knowledge base configured", h.ID())
		return nil
	}
	nodes, err := e.opts.KnowledgeBase.Lookup(ctx, ids)
	if err != nil {
		e.logger.Warn("[session %s] knowledge base lookup failed: %v", h.ID(), err)
		h.EmitError(setting.CodeGeneration, "knowledge base lookup failed: "+retry.SafeMessage(err), "", true)
		return nil
	}
	return nodes
}

// seed inserts knowledge-base nodes before generation starts and returns how
// many were added. Nodes get fresh ids and no temp ids; parent links inside
// the seed set are kept.
func (e *Engine) seed(ctx context.Context, h *session.Handle, ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	h.Session.SetMeta(setting.MetaKnowledgeBaseIDs, ids)
	nodes := e.lookup(ctx, h, ids)
	if len(nodes) == 0 {
		return 0
	}
	added := insertSeeds(h, nodes)
	e.logger.Info("[session %s] seeded %d of %d knowledge base nodes", h.ID(), added, len(nodes))
	h.EmitProgress(added, len(nodes), "Seeded %d nodes from the knowledge base", added)
	return added
}

// imitate appends the nodes of ids to prompt as reference material.
func (e *Engine) imitate(ctx context.Context, h *session.Handle, prompt string, ids []string) string {
	refs := e.lookup(ctx, h, ids)
	if len(refs) == 0 {
		return prompt
	}
	e.logger.Info("[session %s] prompt extended with %d reference settings", h.ID(), len(refs))
	return referencePrompt(prompt, refs)
}

func referencePrompt(prompt string, refs []setting.Node) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n## Reference settings\n")
	b.WriteString("Match their depth and tone. Create new settings of your own; do not copy names or details.\n")
	for _, n := range refs {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", setting.ParseNodeType(string(n.Type)), n.Name, strings.TrimSpace(n.Description))
	}
	return b.String()
}

func insertSeeds(h *session.Handle, nodes []setting.Node) int {
	g := h.Graph()
	remap := make(map[string]string, len(nodes))
	pending := nodes
	added := 0

	for len(pending) > 0 {
		var next []setting.Node
		for _, src := range pending {
			parent := ""
			if src.ParentID != "" {
				id, ok := remap[src.ParentID]
				if !ok {
					next = append(next, src)
					continue
				}
				parent = id
			}

			n := src.Clone()
			n.ID = uuid.NewString()
			n.ParentID = parent
			n.Name = setting.SanitizeName(n.Name)
			n.Type = setting.ParseNodeType(string(n.Type))
			n.Status = setting.NodeCompleted
			// Temp ids of the source would collide with the ones the model picks.
			delete(n.Attributes, setting.AttrTempID)
			n.SetAttr(setting.AttrFromKnowledgeBase, "true")
			if src.ID != "" {
				n.SetAttr(AttrSourceID, src.ID)
			}
			err := validate.Node(h.Strategy, n, g)
			if err == nil {
				_, err = g.AddNode(n)
			}
			if err != nil {
				h.EmitError(setting.CodeValidation, fmt.Sprintf("seed node %q rejected: %v", src.Name, err), "", true)
				continue
			}
			if src.ID != "" {
				remap[src.ID] = n.ID
			}
			added++
			path := ""
			if parent != "" {
				path = g.Path(parent)
			}
			h.Emit(setting.NodeCreated{
				Envelope:   setting.NewEnvelope(h.ID()),
				Node:       n,
				ParentPath: path,
			})
		}
		if len(next) == len(pending) {
			for _, src := range next {
				h.EmitError(setting.CodeValidation,
					fmt.Sprintf("seed node %q rejected: %v: %s", src.Name, setting.ErrParentNotFound, src.ParentID), "", true)
			}
			break
		}
		pending = next
	}
	return added
}
