package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/orchestrator"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/retry"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/session"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// Scope limits what an AI-assisted modification may touch.
type Scope string

const (
	// ScopeSelf allows updating the target node only.
	ScopeSelf Scope = "self"
	// ScopeChildrenOnly allows creating or updating direct children only.
	ScopeChildrenOnly Scope = "children_only"
	// ScopeSelfAndChildren allows both.
	ScopeSelfAndChildren Scope = "self_and_children"
)

var (
	ErrInvalidScope = errors.New("invalid modification scope")
	errOutOfScope   = errors.New("operation outside modification scope")
)

// ParseScope accepts the scope names case-insensitively. Empty means ScopeSelf.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeSelf:
		return ScopeSelf, nil
	case ScopeChildrenOnly:
		return ScopeChildrenOnly, nil
	case ScopeSelfAndChildren:
		return ScopeSelfAndChildren, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
}

// allows reports whether n may be written when modifying target.
func (s Scope) allows(n setting.Node, target string) bool {
	self := n.ID == target
	child := n.ParentID == target && !self
	switch s {
	case ScopeChildrenOnly:
		return child
	case ScopeSelfAndChildren:
		return self || child
	default:
		return self
	}
}

// ModifyRequest asks the tool model to rework one node.
type ModifyRequest struct {
	SessionID   string
	NodeID      string
	Instruction string
	// Scope is one of self, children_only, self_and_children. Empty means self.
	Scope string
}

// ModifyNode runs one tool turn that rewrites the node or its children
// according to the instruction. Writes outside the scope are rejected with a
// recoverable VALIDATION_ERROR. Only one modification runs per session at a
// time; ModifyNode blocks until it holds the slot and the turn is done.
//
// On a session whose generation already completed, the event flow is
// reopened for the modification and completed again afterwards.
func (e *Engine) ModifyNode(ctx context.Context, req ModifyRequest) error {
	h, err := e.active(req.SessionID)
	if err != nil {
		return err
	}
	scope, err := ParseScope(req.Scope)
	if err != nil {
		return err
	}
	if !e.orch.Available() {
		return fmt.Errorf("%w: modification needs a tool model", ErrModelNotConfigured)
	}

	if err := h.LockModification(ctx); err != nil {
		return err
	}
	defer h.UnlockModification()

	reopened := h.Bus.Completed()
	if reopened {
		h.Bus.Reopen()
	}
	started := time.Now()
	finish := func(ok bool) {
		if !reopened {
			if ok {
				h.EmitProgress(0, 0, "Modification of %s applied", req.NodeID)
			}
			return
		}
		if ok {
			h.EmitCompleted(setting.OutcomeModificationSuccess, started)
		}
		h.Bus.Complete()
	}

	node, ok := h.Graph().Get(req.NodeID)
	if !ok {
		h.EmitError(setting.CodeNodeNotFound, "node not found: "+req.NodeID, req.NodeID, false)
		finish(false)
		return fmt.Errorf("%w: %s", ErrNodeNotFound, req.NodeID)
	}

	e.logger.Info("[session %s] modifying node %s (%s) with scope %s", h.ID(), node.ID, node.Name, scope)
	res, err := e.orch.Run(ctx, h, orchestrator.Request{
		System:   modifySystemPrompt(h, node, scope),
		User:     modifyUserPrompt(h, node, req.Instruction),
		MaxTurns: 1,
		Filter: func(n setting.Node, _ bool) error {
			if !scope.allows(n, node.ID) {
				return fmt.Errorf("%w (scope=%s)", errOutOfScope, scope)
			}
			return nil
		},
	})
	if err != nil {
		h.EmitError(setting.CodeModificationFailed, "node modification failed: "+retry.SafeMessage(err), node.ID, true)
		finish(false)
		return fmt.Errorf("failed to modify node %s: %w", node.ID, err)
	}

	e.logger.Info("[session %s] modification of %s: %d created, %d updated, %d rejected",
		h.ID(), node.ID, res.Created, res.Updated, res.Rejected)
	finish(true)
	return nil
}

func modifySystemPrompt(h *session.Handle, node setting.Node, scope Scope) string {
	parent := node.ParentID
	if parent == "" {
		parent = "null"
	}

	var b strings.Builder
	b.WriteString("You revise one node of a fictional setting by calling the " + orchestrator.ToolName + " tool.\n\n")
	b.WriteString("To change the node itself, submit it with id=\"" + node.ID + "\" and parentId=\"" + parent + "\".\n")
	b.WriteString("To add a child, submit a new node with parentId=\"" + node.ID + "\" and no id.\n")
	b.WriteString("type must be one of: " + setting.TypeList() + ".\n")
	b.WriteString("Node names must not contain \"/\".\n\n")

	b.WriteString("## Scope\n")
	switch scope {
	case ScopeChildrenOnly:
		b.WriteString("- Only create or update children of the node; every node you submit has parentId=\"" + node.ID + "\".\n")
		b.WriteString("- Do not change the node itself.\n")
	case ScopeSelfAndChildren:
		b.WriteString("- You may update the node (id=\"" + node.ID + "\", parentId=\"" + parent + "\").\n")
		b.WriteString("- You may create or update its children (parentId=\"" + node.ID + "\").\n")
	default:
		b.WriteString("- Only update the node itself, with id=\"" + node.ID + "\" and parentId=\"" + parent + "\".\n")
		b.WriteString("- Do not create or change any other node.\n")
	}
	b.WriteString("Anything outside the scope is discarded.\n")

	if sc := h.Strategy.BuildPromptContext(); sc != "" {
		b.WriteString("\n## Strategy\n")
		b.WriteString(sc)
		b.WriteString("\n")
	}
	return b.String()
}

func modifyUserPrompt(h *session.Handle, node setting.Node, instruction string) string {
	g := h.Graph()

	var b strings.Builder
	b.WriteString("## Node\n")
	fmt.Fprintf(&b, "Name: %s\nID: %s\nType: %s\nPath: %s\nDescription: %s\n\n",
		node.Name, node.ID, node.Type, g.Path(node.ID), node.Description)
	b.WriteString("## Requested change\n")
	b.WriteString(strings.TrimSpace(instruction))
	b.WriteString("\n\n## Existing nodes\n")
	for _, n := range g.Nodes() {
		fmt.Fprintf(&b, "- %s (ID: %s, path: %s)\n  %s\n", n.Name, n.ID, g.Path(n.ID), clip(n.Description, 100))
	}
	return b.String()
}

func clip(s string, limit int) string {
	if s == "" {
		return "(no description)"
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}
