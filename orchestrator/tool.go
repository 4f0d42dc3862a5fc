package orchestrator

import (
	"github.com/tmc/langchaingo/llms"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// ToolName is the only operation the extraction model may call.
const ToolName = "text_to_settings"

func nodeSchema() map[string]any {
	types := make([]string, len(setting.NodeTypes))
	for i, t := range setting.NodeTypes {
		types[i] = string(t)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":          map[string]any{"type": "string", "description": "Real id, only when updating an existing node"},
			"tempId":      map[string]any{"type": "string", "description": "Placeholder id such as R1 or R1-2"},
			"name":        map[string]any{"type": "string"},
			"type":        map[string]any{"type": "string", "enum": types},
			"description": map[string]any{"type": "string"},
			"parentId":    map[string]any{"type": []string{"string", "null"}, "description": "Parent tempId or real id; null for root nodes"},
			"attributes":  map[string]any{"type": "object"},
		},
		"required": []string{"name", "type", "description"},
	}
}

// Tool returns the tool declaration passed to the model.
func Tool() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        ToolName,
			Description: "Create or update setting nodes extracted from the text.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"nodes": map[string]any{
						"type":  "array",
						"items": nodeSchema(),
					},
					"complete": map[string]any{
						"type":        "boolean",
						"description": "True once every node in the text has been submitted",
					},
				},
				"required": []string{"nodes"},
			},
		},
	}
}
