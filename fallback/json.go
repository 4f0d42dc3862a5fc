package fallback

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// NodeList is the argument object of the node extraction tool. Settings is
// the legacy name of Nodes.
type NodeList struct {
	Nodes    []setting.NodeSpec `json:"nodes"`
	Settings []setting.NodeSpec `json:"settings,omitempty"`
	Complete bool               `json:"complete"`
}

// All returns Nodes, or Settings when Nodes is empty.
func (l NodeList) All() []setting.NodeSpec {
	if len(l.Nodes) > 0 {
		return l.Nodes
	}
	return l.Settings
}

// ErrNoJSON is returned when no JSON payload can be located in the text.
var ErrNoJSON = errors.New("no JSON payload found")

// Unmarshal decodes raw into v, repairing malformed model JSON when a plain
// decode fails.
func Unmarshal(raw string, v any) error {
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(raw)
	if repairErr != nil {
		return fmt.Errorf("failed to decode JSON and failed to repair it: %w (repair: %v)", err, repairErr)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("failed to decode repaired JSON: %w", err)
	}
	return nil
}

// DecodeNodeList decodes tool arguments. A bare array is accepted as the node list.
func DecodeNodeList(raw string) (NodeList, error) {
	raw = strings.TrimSpace(raw)
	var list NodeList
	if strings.HasPrefix(raw, "[") {
		err := Unmarshal(raw, &list.Nodes)
		return list, err
	}
	err := Unmarshal(raw, &list)
	return list, err
}

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// ExtractJSON locates the JSON payload in model text: the first fenced block
// if present, otherwise the widest [...] or {...} span.
func ExtractJSON(text string) (string, error) {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		if body := strings.TrimSpace(m[1]); body != "" {
			return body, nil
		}
	}
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		return text[start : end+1], nil
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		return text[start : end+1], nil
	}
	return "", ErrNoJSON
}

// JSONParser handles fenced or bare JSON arrays of nodes and {"nodes": [...]} objects.
type JSONParser struct{}

func (JSONParser) Name() string { return "json" }

func (JSONParser) CanParse(text string) bool {
	payload, err := ExtractJSON(text)
	return err == nil && strings.Contains(payload, `"name"`)
}

func (JSONParser) Parse(text string) ([]setting.NodeSpec, error) {
	payload, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	list, err := DecodeNodeList(payload)
	if err != nil {
		return nil, err
	}
	return list.All(), nil
}
