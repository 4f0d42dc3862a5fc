package setting

import (
	"fmt"
	"maps"
	"strings"
)

// NodeType is the closed category set of a setting node.
type NodeType string

const (
	TypeCharacter        NodeType = "CHARACTER"
	TypeLocation         NodeType = "LOCATION"
	TypeItem             NodeType = "ITEM"
	TypeLore             NodeType = "LORE"
	TypeFaction          NodeType = "FACTION"
	TypeEvent            NodeType = "EVENT"
	TypeConcept          NodeType = "CONCEPT"
	TypeWorldview        NodeType = "WORLDVIEW"
	TypePowerSystem      NodeType = "POWER_SYSTEM"
	TypeGoldenFinger     NodeType = "GOLDEN_FINGER"
	TypeTimeline         NodeType = "TIMELINE"
	TypeCreature         NodeType = "CREATURE"
	TypeMagicSystem      NodeType = "MAGIC_SYSTEM"
	TypeTechnology       NodeType = "TECHNOLOGY"
	TypeCulture          NodeType = "CULTURE"
	TypeHistory          NodeType = "HISTORY"
	TypeOrganization     NodeType = "ORGANIZATION"
	TypePleasurePoint    NodeType = "PLEASURE_POINT"
	TypeAnticipationHook NodeType = "ANTICIPATION_HOOK"
	TypeTheme            NodeType = "THEME"
	TypeTone             NodeType = "TONE"
	TypeStyle            NodeType = "STYLE"
	TypeTrope            NodeType = "TROPE"
	TypePlotDevice       NodeType = "PLOT_DEVICE"
	TypeReligion         NodeType = "RELIGION"
	TypePolitics         NodeType = "POLITICS"
	TypeEconomy          NodeType = "ECONOMY"
	TypeGeography        NodeType = "GEOGRAPHY"
	TypeOther            NodeType = "OTHER"
)

// NodeTypes lists every recognised type in declaration order.
var NodeTypes = []NodeType{
	TypeCharacter, TypeLocation, TypeItem, TypeLore, TypeFaction, TypeEvent,
	TypeConcept, TypeWorldview, TypePowerSystem, TypeGoldenFinger, TypeTimeline,
	TypeCreature, TypeMagicSystem, TypeTechnology, TypeCulture, TypeHistory,
	TypeOrganization, TypePleasurePoint, TypeAnticipationHook, TypeTheme, TypeTone,
	TypeStyle, TypeTrope, TypePlotDevice, TypeReligion, TypePolitics, TypeEconomy,
	TypeGeography, TypeOther,
}

var knownTypes = func() map[NodeType]struct{} {
	m := make(map[NodeType]struct{}, len(NodeTypes))
	for _, t := range NodeTypes {
		m[t] = struct{}{}
	}
	return m
}()

// Valid reports whether t is one of NodeTypes.
func (t NodeType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// ParseNodeType normalises a model-supplied type. Matching ignores case and
// treats '-' and ' ' as '_'. Anything unrecognised becomes TypeOther.
func ParseNodeType(s string) NodeType {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	if t := NodeType(norm); t.Valid() {
		return t
	}
	return TypeOther
}

// TypeList renders the type enum as a comma separated list for prompts.
func TypeList() string {
	names := make([]string, len(NodeTypes))
	for i, t := range NodeTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// GenerationStatus is the per-node lifecycle marker.
type GenerationStatus string

const (
	NodeCompleted GenerationStatus = "COMPLETED"
	NodeModified  GenerationStatus = "MODIFIED"
	NodeError     GenerationStatus = "ERROR"
)

// Attribute keys with engine meaning.
const (
	AttrTempID            = "tempId"
	AttrFromKnowledgeBase = "fromKnowledgeBase"
)

// Node is one entry of the setting graph. An empty ParentID marks a root.
type Node struct {
	ID          string           `json:"id" yaml:"id"`
	ParentID    string           `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Name        string           `json:"name" yaml:"name"`
	Type        NodeType         `json:"type" yaml:"type"`
	Description string           `json:"description" yaml:"description"`
	Attributes  map[string]any   `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Status      GenerationStatus `json:"generationStatus,omitempty" yaml:"generationStatus,omitempty"`
}

// Clone returns a copy that shares no maps with n.
func (n Node) Clone() Node {
	n.Attributes = maps.Clone(n.Attributes)
	return n
}

// Attr returns an attribute rendered as a string, or "" when absent.
func (n Node) Attr(key string) string {
	v, ok := n.Attributes[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// TempID returns the placeholder id the model used for this node, if any.
func (n Node) TempID() string { return n.Attr(AttrTempID) }

// FromKnowledgeBase reports whether the node was seeded rather than generated.
func (n Node) FromKnowledgeBase() bool {
	return strings.EqualFold(n.Attr(AttrFromKnowledgeBase), "true")
}

// SetAttr sets an attribute, allocating the map on first use.
func (n *Node) SetAttr(key string, v any) {
	if n.Attributes == nil {
		n.Attributes = make(map[string]any)
	}
	n.Attributes[key] = v
}

// NodeSpec is a node descriptor as produced by a model, before the engine
// resolves its parent and assigns a real id. ID is only set when the model
// updates an existing node.
type NodeSpec struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	ParentID    string         `json:"parentId,omitempty"`
	TempID      string         `json:"tempId,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// SanitizeName trims the name and swaps '/' for a full-width slash so that
// path rendering ("/a/b") stays unambiguous.
func SanitizeName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), "/", "／")
}
