// Package structured implements the structured-output generation mode: a
// fixed number of sequential rounds, each asking the model for one JSON array
// of new nodes with every existing node as context.
package structured

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/fallback"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/retry"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/session"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/validate"
)

// DefaultMaxIterations is the number of rounds when none is requested.
const DefaultMaxIterations = 3

var (
	ErrNoModel = errors.New("no structured-output model configured")
	// ErrParse means no round produced a usable node.
	ErrParse = errors.New("structured output could not be parsed")
	// ErrGeneration means the model failed before any node existed.
	ErrGeneration = errors.New("structured output generation failed")
)

// Options configures a Generator.
type Options struct {
	MaxIterations int
	// Retry applies to each round's model call. Zero value uses retry.ToolLoop().
	Retry  retry.Config
	Logger log.Logger
}

// Generator runs structured-output sessions.
type Generator struct {
	model  llms.Model
	opts   Options
	logger log.Logger
}

// New creates a generator.
func New(model llms.Model, opts Options) *Generator {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Retry.BaseDelay == 0 && opts.Retry.MaxRetries == 0 {
		opts.Retry = retry.ToolLoop()
	}
	return &Generator{model: model, opts: opts, logger: log.OrDefault(opts.Logger)}
}

// ParseNodes extracts the node array from a model reply, tolerating prose
// and code fences around it.
func ParseNodes(text string) ([]setting.NodeSpec, error) {
	payload, err := fallback.ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	list, err := fallback.DecodeNodeList(payload)
	if err != nil {
		return nil, err
	}
	return list.All(), nil
}

// Run executes up to maxIterations rounds (Options.MaxIterations when not
// positive) and finalizes the session through its gate. It returns
// context.Canceled for cancelled sessions, and ErrParse or ErrGeneration when
// the session ends without a single node.
func (g *Generator) Run(ctx context.Context, h *session.Handle, prompt string, maxIterations int) error {
	if g.model == nil {
		return ErrNoModel
	}
	if maxIterations <= 0 {
		maxIterations = g.opts.MaxIterations
	}
	h.Session.SetMeta(setting.MetaMaxIterations, maxIterations)
	h.Session.SetMeta(setting.MetaTotalRounds, maxIterations)
	quality := validate.NewQualityValidator(h.Strategy)

	var lastErr error
	var feedback string
	for round := 1; round <= maxIterations; round++ {
		if !h.Accepting() || ctx.Err() != nil {
			return context.Canceled
		}
		existing := h.Graph().Len()
		h.Session.SetMeta(setting.MetaCurrentRound, round)
		h.EmitProgress(round-1, maxIterations, "Generating round %d/%d (%d existing nodes)", round, maxIterations, existing)

		content, err := g.generate(ctx, h, prompt, round, feedback)
		if err != nil {
			if !h.Accepting() || ctx.Err() != nil {
				return context.Canceled
			}
			if existing == 0 {
				return fmt.Errorf("%w: round %d: %w", ErrGeneration, round, err)
			}
			g.logger.Error("[session %s] round %d/%d failed: %v", h.ID(), round, maxIterations, err)
			h.EmitError(setting.CodeGeneration, fmt.Sprintf("round %d failed: %s", round, retry.SafeMessage(err)), "", true)
			lastErr = err
			continue
		}

		specs, err := ParseNodes(content)
		if err == nil && len(specs) == 0 {
			err = errors.New("reply contained no nodes")
		}
		if err != nil {
			g.logger.Warn("[session %s] round %d/%d output not parsed: %v", h.ID(), round, maxIterations, err)
			h.EmitError(setting.CodeParse, fmt.Sprintf("round %d output could not be parsed: %s", round, retry.SafeMessage(err)), "", true)
			lastErr = err
			continue
		}

		res := h.ApplyNodes(session.OrderParentsFirst(specs), session.ApplyOptions{})
		g.logger.Info("[session %s] round %d/%d: %d nodes added, %d rejected",
			h.ID(), round, maxIterations, len(res.Created), res.Rejected)

		// Quality problems are not fatal; the next round is asked to fix them.
		report := quality.Validate(h.Graph().Nodes())
		feedback = ""
		if !report.Valid {
			feedback = report.ErrorSummary()
			g.logger.Warn("[session %s] quality errors after round %d:\n%s", h.ID(), round, feedback)
		}
		if len(report.Warnings) > 0 {
			g.logger.Debug("[session %s] quality warnings after round %d:\n%s", h.ID(), round, report.WarningSummary())
		}
		h.EmitProgress(round, maxIterations, "Round %d/%d added %d nodes", round, maxIterations, len(res.Created))
	}

	if h.Graph().Len() == 0 {
		if lastErr == nil {
			lastErr = errors.New("no node was accepted")
		}
		return fmt.Errorf("%w after %d rounds: %w", ErrParse, maxIterations, lastErr)
	}

	h.Gate.MarkTextPhaseEnded()
	h.Gate.TryFinalize("structured output complete")
	return nil
}

func (g *Generator) generate(ctx context.Context, h *session.Handle, prompt string, round int, feedback string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(h.Strategy.BuildPromptContext(), h.Graph(), round, feedback)),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var content string
	err := retry.Do(ctx, g.opts.Retry, func(ctx context.Context) error {
		resp, err := g.model.GenerateContent(ctx, messages)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty response")
		}
		content = resp.Choices[0].Content
		return nil
	})
	return content, err
}
