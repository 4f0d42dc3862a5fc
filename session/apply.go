package session

import (
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/validate"
)

// ApplyOptions controls ApplyNodes.
type ApplyOptions struct {
	// Local is the batch-local temp-id map. It is consulted before the
	// session-wide map and filled as nodes are accepted. Nil allocates one.
	Local map[string]string

	// AllowUpdates lets a descriptor whose id names an existing node update it.
	// Otherwise every descriptor creates a new node.
	AllowUpdates bool

	// Filter can veto a resolved node before validation.
	Filter func(n setting.Node, existing bool) error
}

// ApplyResult summarises one ApplyNodes call.
type ApplyResult struct {
	Created  []setting.Node
	Updated  []setting.Node
	Rejected int
	// TempIDs maps every temp id accepted in this call to its real id.
	TempIDs map[string]string
}

// ApplyNodes resolves, validates and inserts model-produced node descriptors.
// A rejected descriptor produces a recoverable VALIDATION_ERROR event and the
// rest of the batch continues. Nothing is applied once the session is aborted.
func (h *Handle) ApplyNodes(specs []setting.NodeSpec, opts ApplyOptions) ApplyResult {
	local := opts.Local
	if local == nil {
		local = make(map[string]string)
	}
	res := ApplyResult{TempIDs: make(map[string]string)}
	g := h.Graph()

	for _, spec := range specs {
		if !h.Accepting() {
			h.Logger.Debug("[session %s] dropping %d descriptors, session aborted", h.ID(), len(specs))
			break
		}

		node, existing, err := h.resolve(spec, local, opts.AllowUpdates)
		if err == nil && opts.Filter != nil {
			err = opts.Filter(node, existing)
		}
		if err == nil {
			err = validate.Node(h.Strategy, node, g)
		}

		var created bool
		var prev setting.Node
		if err == nil {
			if existing {
				prev, _ = g.Get(node.ID)
			}
			created, err = g.AddNode(node)
		}
		if err != nil {
			res.Rejected++
			h.Logger.Debug("[session %s] rejected node %q: %v", h.ID(), spec.Name, err)
			h.EmitError(setting.CodeValidation,
				fmt.Sprintf("node %q rejected: %v", spec.Name, err), node.ID, true)
			continue
		}

		if created {
			res.Created = append(res.Created, node)
			h.Emit(setting.NodeCreated{
				Envelope:   setting.NewEnvelope(h.ID()),
				Node:       node,
				ParentPath: h.parentPath(node.ParentID),
			})
		} else {
			res.Updated = append(res.Updated, node)
			h.Emit(setting.NodeUpdated{
				Envelope:        setting.NewEnvelope(h.ID()),
				Node:            node,
				PreviousVersion: prev,
			})
		}

		if tid := strings.TrimSpace(spec.TempID); tid != "" {
			local[tid] = node.ID
			res.TempIDs[tid] = g.BindTempID(tid, node.ID)
		}
	}
	return res
}

func (h *Handle) parentPath(parentID string) string {
	if parentID == "" {
		return ""
	}
	return h.Graph().Path(parentID)
}

func (h *Handle) resolve(spec setting.NodeSpec, local map[string]string, allowUpdates bool) (setting.Node, bool, error) {
	g := h.Graph()

	var prev setting.Node
	existing := false
	if allowUpdates && spec.ID != "" {
		prev, existing = g.Get(spec.ID)
	}
	// A temp id that is already bound names the same node again, e.g. when
	// overlapping text batches repeat a block.
	if tid := strings.TrimSpace(spec.TempID); allowUpdates && !existing && tid != "" {
		id, ok := local[tid]
		if !ok {
			id, ok = g.LookupTempID(tid)
		}
		if ok {
			prev, existing = g.Get(id)
		}
	}

	ref := strings.TrimSpace(spec.ParentID)
	parentID := ""
	switch {
	case existing && ref == "":
		parentID = prev.ParentID
	case setting.IsRootRef(ref):
	default:
		if id, ok := local[ref]; ok {
			parentID = id
		} else if id, ok := g.ResolveParent(ref); ok {
			parentID = id
		} else {
			return setting.Node{Name: spec.Name}, existing, fmt.Errorf("%w: %s", setting.ErrParentNotFound, ref)
		}
	}

	n := setting.Node{
		ParentID:    parentID,
		Name:        setting.SanitizeName(spec.Name),
		Type:        setting.ParseNodeType(spec.Type),
		Description: strings.TrimSpace(spec.Description),
		Attributes:  maps.Clone(spec.Attributes),
		Status:      setting.NodeCompleted,
	}

	if existing {
		n.ID = prev.ID
		n.Status = setting.NodeModified
		if strings.TrimSpace(spec.Type) == "" {
			n.Type = prev.Type
		}
		if n.Description == "" {
			n.Description = prev.Description
		}
		if n.Name == "" {
			n.Name = prev.Name
		}
		merged := maps.Clone(prev.Attributes)
		if merged == nil {
			merged = make(map[string]any)
		}
		maps.Copy(merged, n.Attributes)
		n.Attributes = merged
	} else {
		n.ID = uuid.NewString()
	}

	if tid := strings.TrimSpace(spec.TempID); tid != "" {
		n.SetAttr(setting.AttrTempID, tid)
	}
	return n, existing, nil
}

// OrderParentsFirst reorders a batch so that a descriptor whose parent is
// another descriptor's temp id comes after that descriptor. Relative order is
// otherwise kept; cycles are left in their original order.
func OrderParentsFirst(specs []setting.NodeSpec) []setting.NodeSpec {
	byTemp := make(map[string]int, len(specs))
	for i, s := range specs {
		if tid := strings.TrimSpace(s.TempID); tid != "" {
			if _, dup := byTemp[tid]; !dup {
				byTemp[tid] = i
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(specs))
	out := make([]setting.NodeSpec, 0, len(specs))

	var visit func(i int)
	visit = func(i int) {
		if state[i] != unvisited {
			return
		}
		state[i] = visiting
		if p, ok := byTemp[strings.TrimSpace(specs[i].ParentID)]; ok && p != i && state[p] == unvisited {
			visit(p)
		}
		state[i] = done
		out = append(out, specs[i])
	}
	for i := range specs {
		visit(i)
	}
	return out
}
