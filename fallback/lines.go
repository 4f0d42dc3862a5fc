package fallback

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// The line convention the text phase asks models to follow:
//
//	Node: R1-2 | Type: FACTION | Title: Royal Guard
//	Parent: R1 [Capital City]
//	Content: Sworn protectors of the crown ...
//
// Blocks are separated by a blank line. The Type segment is optional.
var (
	headerRe  = regexp.MustCompile(`(?i)^\s*node:?\s*([A-Za-z0-9_\-]+)\s*(?:\|\s*type:\s*([A-Za-z_\- ]+?)\s*)?\|\s*title:\s*(.+?)\s*$`)
	parentRe  = regexp.MustCompile(`(?i)^\s*parent(?:\s+is)?:\s*([^\s\[(|]+)`)
	contentRe = regexp.MustCompile(`(?i)^\s*content:\s*(.*)$`)
)

// LineParser handles the three-line node convention.
type LineParser struct{}

func (LineParser) Name() string { return "lines" }

func (LineParser) CanParse(text string) bool {
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		if headerRe.MatchString(sc.Text()) {
			return true
		}
	}
	return false
}

func (LineParser) Parse(text string) ([]setting.NodeSpec, error) {
	var (
		out       []setting.NodeSpec
		cur       *setting.NodeSpec
		inContent bool
		desc      strings.Builder
	)
	flush := func() {
		if cur != nil && strings.TrimSpace(cur.Name) != "" {
			cur.Description = strings.TrimSpace(desc.String())
			out = append(out, *cur)
		}
		cur = nil
		inContent = false
		desc.Reset()
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := headerRe.FindStringSubmatch(line); m != nil {
			flush()
			cur = &setting.NodeSpec{TempID: m[1], Type: strings.TrimSpace(m[2]), Name: m[3]}
			continue
		}
		if cur == nil {
			continue
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if m := parentRe.FindStringSubmatch(line); m != nil && !inContent {
			if !setting.IsRootRef(m[1]) {
				cur.ParentID = m[1]
			}
			continue
		}
		if m := contentRe.FindStringSubmatch(line); m != nil {
			inContent = true
			desc.WriteString(m[1])
			continue
		}
		if inContent {
			desc.WriteString("\n")
			desc.WriteString(strings.TrimSpace(line))
		}
	}
	flush()
	return out, sc.Err()
}
