package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// Quality thresholds for a generated graph.
const (
	MinNodeCount         = 5
	RecommendedNodeCount = 15
	MinRootCount         = 1
	MaxRootCount         = 10
	MinTreeDepth         = 2
	RecommendedTreeDepth = 3
	ShortDescription     = 20
	MinDistinctTypes     = 2
)

// Result is a non-fatal quality report.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ErrorSummary joins the errors with newlines.
func (r Result) ErrorSummary() string { return strings.Join(r.Errors, "\n") }

// WarningSummary joins the warnings with newlines.
func (r Result) WarningSummary() string { return strings.Join(r.Warnings, "\n") }

// QualityValidator checks a whole generated graph. Strategy may be nil.
type QualityValidator struct {
	Strategy Strategy
}

// NewQualityValidator creates a validator that also runs s on every node
func NewQualityValidator(s Strategy) *QualityValidator {
	return &QualityValidator{Strategy: s}
}

// Validate inspects nodes as a whole. Parent references may be real ids or temp ids.
func (q *QualityValidator) Validate(nodes []setting.Node) Result {
	res := Result{}
	errorf := func(format string, v ...any) { res.Errors = append(res.Errors, fmt.Sprintf(format, v...)) }
	warnf := func(format string, v ...any) { res.Warnings = append(res.Warnings, fmt.Sprintf(format, v...)) }

	if len(nodes) == 0 {
		errorf("no nodes were generated")
		return res
	}

	count := len(nodes)
	if count < MinNodeCount {
		errorf("too few nodes: %d (need at least %d)", count, MinNodeCount)
	} else if count < RecommendedNodeCount {
		warnf("node count %d is below the recommended %d", count, RecommendedNodeCount)
	}

	byID := make(map[string]setting.Node, count)
	tempToID := make(map[string]string, count)
	for _, n := range nodes {
		byID[n.ID] = n
		if tid := n.TempID(); tid != "" {
			tempToID[tid] = n.ID
		}
	}
	resolve := func(ref string) (string, bool) {
		if _, ok := byID[ref]; ok {
			return ref, true
		}
		id, ok := tempToID[ref]
		return id, ok
	}

	roots := 0
	for _, n := range nodes {
		if setting.IsRootRef(n.ParentID) {
			roots++
		} else if _, ok := resolve(n.ParentID); !ok {
			errorf("node %q references missing parent %s", n.Name, n.ParentID)
		}
	}
	if roots < MinRootCount {
		errorf("no root nodes")
	} else if roots > MaxRootCount {
		warnf("too many root nodes: %d (recommended at most %d)", roots, MaxRootCount)
	}

	depth := maxDepth(nodes, resolve)
	if depth < MinTreeDepth {
		errorf("tree depth %d is too shallow (need at least %d)", depth, MinTreeDepth)
	} else if depth < RecommendedTreeDepth {
		warnf("tree depth %d is below the recommended %d", depth, RecommendedTreeDepth)
	}

	empty, short := 0, 0
	types := make(map[setting.NodeType]struct{})
	for _, n := range nodes {
		types[n.Type] = struct{}{}

		name := strings.TrimSpace(n.Name)
		if name == "" {
			errorf("node %s has an empty name", n.ID)
		} else if strings.Contains(name, "/") {
			errorf("node name %q contains '/'", name)
		}

		desc := strings.TrimSpace(n.Description)
		switch {
		case desc == "":
			empty++
			errorf("node %q has an empty description", n.Name)
		case utf8.RuneCountInString(desc) < ShortDescription:
			short++
			warnf("node %q has a short description", n.Name)
		}

		if q.Strategy != nil {
			if err := q.Strategy.ValidateNode(n, nil); err != nil {
				errorf("node %q rejected by strategy: %v", n.Name, err)
			}
		}
		if name == "" || strings.Contains(name, "/") || desc == "" {
			continue
		}
		if err := Base(n, nil); err != nil {
			errorf("node %q: %v", n.Name, err)
		}
	}
	if empty > 0 {
		errorf("%d nodes have empty descriptions", empty)
	}
	if short*2 > count {
		warnf("%d of %d descriptions are shorter than %d characters", short, count, ShortDescription)
	}
	if count > MinNodeCount && len(types) < MinDistinctTypes {
		warnf("only %d node type used", len(types))
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func maxDepth(nodes []setting.Node, resolve func(string) (string, bool)) int {
	parentOf := make(map[string]string, len(nodes))
	for _, n := range nodes {
		if setting.IsRootRef(n.ParentID) {
			continue
		}
		if pid, ok := resolve(n.ParentID); ok {
			parentOf[n.ID] = pid
		}
	}

	memo := make(map[string]int, len(nodes))
	var depthOf func(id string, guard int) int
	depthOf = func(id string, guard int) int {
		if d, ok := memo[id]; ok {
			return d
		}
		pid, ok := parentOf[id]
		if !ok || guard > len(nodes) {
			memo[id] = 1
			return 1
		}
		d := depthOf(pid, guard+1) + 1
		memo[id] = d
		return d
	}

	deepest := 0
	for _, n := range nodes {
		deepest = max(deepest, depthOf(n.ID, 0))
	}
	return deepest
}
