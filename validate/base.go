package validate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// MaxNameLength bounds node names, in runes.
const MaxNameLength = 100

// ValidationError describes why a node was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, v ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, v...)}
}

// Base enforces the rules every node must satisfy regardless of strategy.
// When g is nil the parent existence check is skipped.
func Base(n setting.Node, g *setting.Graph) error {
	name := strings.TrimSpace(n.Name)
	switch {
	case name == "":
		return invalid("name", "must not be empty")
	case strings.Contains(name, "/"):
		return invalid("name", "must not contain '/'")
	case utf8.RuneCountInString(name) > MaxNameLength:
		return invalid("name", "longer than %d characters", MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return invalid("name", "contains control characters")
		}
	}

	if strings.TrimSpace(n.Description) == "" {
		return invalid("description", "must not be empty")
	}
	if !n.Type.Valid() {
		return invalid("type", "unknown node type %q", n.Type)
	}
	if g != nil && n.ParentID != "" && !g.Has(n.ParentID) {
		return invalid("parentId", "parent %s does not exist", n.ParentID)
	}
	return nil
}

// Node runs the strategy check followed by the base check.
func Node(s Strategy, n setting.Node, g *setting.Graph) error {
	if s != nil {
		if err := s.ValidateNode(n, g); err != nil {
			return err
		}
	}
	return Base(n, g)
}
