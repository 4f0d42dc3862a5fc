// Package fallback extracts node descriptors from raw model text without a
// tool-calling model. It is used when streaming or orchestration fails but
// text is available.
//
// Parsers are tried in registration order and the first one that claims the
// text and yields at least one descriptor wins.
package fallback

import (
	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// Parser recognises one textual format.
type Parser interface {
	Name() string
	CanParse(text string) bool
	Parse(text string) ([]setting.NodeSpec, error)
}

// Chain tries parsers in order.
type Chain struct {
	parsers []Parser
	logger  log.Logger
}

// NewChain creates a chain over parsers. With no parsers the default set is
// used: fenced or bare JSON first, then the line convention.
func NewChain(logger log.Logger, parsers ...Parser) *Chain {
	if len(parsers) == 0 {
		parsers = []Parser{JSONParser{}, LineParser{}}
	}
	return &Chain{parsers: parsers, logger: log.OrDefault(logger)}
}

// Parse returns the descriptors produced by the first matching parser and
// that parser's name. It never fails; no match yields nil and "".
func (c *Chain) Parse(text string) ([]setting.NodeSpec, string) {
	for _, p := range c.parsers {
		if !p.CanParse(text) {
			continue
		}
		specs, err := p.Parse(text)
		if err != nil {
			c.logger.Debug("fallback parser %s failed: %v", p.Name(), err)
			continue
		}
		if len(specs) > 0 {
			return specs, p.Name()
		}
	}
	return nil, ""
}
