package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// Rules are the tunable limits of a strategy. Zero values disable a limit.
type Rules struct {
	PreferredBatchSize      int  `yaml:"preferred_batch_size" json:"preferredBatchSize"`
	MaxBatchSize            int  `yaml:"max_batch_size" json:"maxBatchSize"`
	MinDescriptionLength    int  `yaml:"min_description_length" json:"minDescriptionLength"`
	MaxDescriptionLength    int  `yaml:"max_description_length" json:"maxDescriptionLength"`
	MaxRootNodes            int  `yaml:"max_root_nodes" json:"maxRootNodes"`
	RequireInterConnections bool `yaml:"require_inter_connections" json:"requireInterConnections"`
}

// NodeTemplate suggests a kind of node the strategy expects.
type NodeTemplate struct {
	Type        setting.NodeType `yaml:"type" json:"type"`
	Description string           `yaml:"description" json:"description"`
}

// Config describes a strategy.
type Config struct {
	StrategyName      string         `yaml:"strategy_name" json:"strategyName"`
	Description       string         `yaml:"description" json:"description"`
	ExpectedRootNodes int            `yaml:"expected_root_nodes" json:"expectedRootNodes"`
	MaxDepth          int            `yaml:"max_depth" json:"maxDepth"`
	NodeTemplates     []NodeTemplate `yaml:"node_templates" json:"nodeTemplates"`
	Rules             Rules          `yaml:"rules" json:"rules"`
}

// Strategy contributes domain rules and prompt guidance to a session.
type Strategy interface {
	ID() string
	ValidateNode(n setting.Node, g *setting.Graph) error
	BuildPromptContext() string
	DefaultConfig() Config
}

// Strategy ids.
const (
	StrategyStandard = "standard"
	StrategyNineLine = "nine-line"
)

// Lookup returns the strategy registered under id. The empty id and unknown
// ids resolve to the standard strategy; ok is false only for unknown ids.
func Lookup(id string) (Strategy, bool) {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "", StrategyStandard:
		return NewStandard(), true
	case StrategyNineLine:
		return NewNineLine(), true
	default:
		return NewStandard(), false
	}
}

// Standard is the general world-building strategy.
type Standard struct {
	cfg Config
}

// NewStandard creates the standard strategy with its default config
func NewStandard() *Standard {
	return NewStandardWithConfig(standardConfig())
}

// NewStandardWithConfig creates a standard strategy with custom limits
func NewStandardWithConfig(cfg Config) *Standard {
	return &Standard{cfg: cfg}
}

func standardConfig() Config {
	return Config{
		StrategyName:      "Standard world building",
		Description:       "Broad, layered setting: world frame first, then places, powers, factions and people.",
		ExpectedRootNodes: 8,
		MaxDepth:          5,
		NodeTemplates: []NodeTemplate{
			{Type: setting.TypeWorldview, Description: "the overall world frame"},
			{Type: setting.TypeGeography, Description: "major regions and landmarks"},
			{Type: setting.TypePowerSystem, Description: "how power and progression work"},
			{Type: setting.TypeFaction, Description: "organisations that drive conflict"},
			{Type: setting.TypeCharacter, Description: "key figures tied to factions or places"},
		},
		Rules: Rules{
			PreferredBatchSize:   20,
			MaxBatchSize:         50,
			MinDescriptionLength: 0,
			MaxDescriptionLength: 2000,
		},
	}
}

func (s *Standard) ID() string { return StrategyStandard }

func (s *Standard) DefaultConfig() Config { return s.cfg }

func (s *Standard) ValidateNode(n setting.Node, g *setting.Graph) error {
	return checkConfig(s.cfg, n, g)
}

func (s *Standard) BuildPromptContext() string {
	return promptContext(s.cfg, "")
}

// NineLine organises a setting around at most nine framing pillars, each
// refined at most two levels deep.
type NineLine struct {
	cfg Config
}

// NewNineLine creates the nine-line strategy
func NewNineLine() *NineLine {
	return &NineLine{cfg: Config{
		StrategyName:      "Nine-line method",
		Description:       "Nine pillars (world, power, golden finger, factions, conflict, ...) each refined by a few concrete children.",
		ExpectedRootNodes: 9,
		MaxDepth:          3,
		NodeTemplates: []NodeTemplate{
			{Type: setting.TypeWorldview, Description: "pillar: the world"},
			{Type: setting.TypePowerSystem, Description: "pillar: the power ladder"},
			{Type: setting.TypeGoldenFinger, Description: "pillar: the protagonist's edge"},
			{Type: setting.TypeFaction, Description: "pillar: the forces in play"},
			{Type: setting.TypePleasurePoint, Description: "pillar: what keeps readers hooked"},
		},
		Rules: Rules{
			PreferredBatchSize:   9,
			MaxBatchSize:         30,
			MinDescriptionLength: 10,
			MaxDescriptionLength: 1500,
			MaxRootNodes:         9,
		},
	}}
}

var nineLinePillars = map[setting.NodeType]bool{
	setting.TypeWorldview:        true,
	setting.TypePowerSystem:      true,
	setting.TypeGoldenFinger:     true,
	setting.TypeFaction:          true,
	setting.TypeGeography:        true,
	setting.TypeHistory:          true,
	setting.TypeCharacter:        true,
	setting.TypePleasurePoint:    true,
	setting.TypeAnticipationHook: true,
	setting.TypeTheme:            true,
	setting.TypeOther:            true,
}

func (s *NineLine) ID() string { return StrategyNineLine }

func (s *NineLine) DefaultConfig() Config { return s.cfg }

func (s *NineLine) ValidateNode(n setting.Node, g *setting.Graph) error {
	if n.ParentID == "" && !nineLinePillars[n.Type] {
		return invalid("type", "%s cannot be a pillar in the nine-line method", n.Type)
	}
	return checkConfig(s.cfg, n, g)
}

func (s *NineLine) BuildPromptContext() string {
	return promptContext(s.cfg, "Root nodes are the pillars; keep exactly one idea per pillar.")
}

func checkConfig(cfg Config, n setting.Node, g *setting.Graph) error {
	desc := utf8.RuneCountInString(strings.TrimSpace(n.Description))
	if lo := cfg.Rules.MinDescriptionLength; lo > 0 && desc < lo {
		return invalid("description", "shorter than %d characters", lo)
	}
	if hi := cfg.Rules.MaxDescriptionLength; hi > 0 && desc > hi {
		return invalid("description", "longer than %d characters", hi)
	}
	if g == nil || g.Has(n.ID) {
		return nil
	}

	if n.ParentID == "" {
		if limit := cfg.Rules.MaxRootNodes; limit > 0 && g.RootCount() >= limit {
			return invalid("parentId", "root node limit of %d reached", limit)
		}
		return nil
	}
	if cfg.MaxDepth > 0 && g.Depth(n.ParentID)+1 > cfg.MaxDepth {
		return invalid("parentId", "depth would exceed %d", cfg.MaxDepth)
	}
	return nil
}

func promptContext(cfg Config, extra string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Strategy: %s\n%s\n", cfg.StrategyName, cfg.Description)
	if cfg.ExpectedRootNodes > 0 {
		fmt.Fprintf(&b, "Aim for about %d root nodes.\n", cfg.ExpectedRootNodes)
	}
	if cfg.MaxDepth > 0 {
		fmt.Fprintf(&b, "Do not nest deeper than %d levels.\n", cfg.MaxDepth)
	}
	if len(cfg.NodeTemplates) > 0 {
		b.WriteString("Expected kinds of nodes:\n")
		for _, t := range cfg.NodeTemplates {
			fmt.Fprintf(&b, "- %s: %s\n", t.Type, t.Description)
		}
	}
	if cfg.Rules.RequireInterConnections {
		b.WriteString("Nodes should reference each other where it makes sense.\n")
	}
	if extra != "" {
		b.WriteString(extra)
		b.WriteString("\n")
	}
	return b.String()
}
