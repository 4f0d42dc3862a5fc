package textphase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/fallback"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/orchestrator"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/retry"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/session"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// Defaults of the text phase.
const (
	DefaultRounds        = 3
	DefaultMinBatch      = 800
	DefaultOverlap       = 120
	DefaultFlushInterval = 10 * time.Second
)

var (
	// ErrNoTextModel is returned when no streaming model is configured.
	ErrNoTextModel = errors.New("no text model configured")
	// ErrStreamFailed marks a stream failure that left nothing to work with.
	ErrStreamFailed = errors.New("text stream failed")
)

// Options configures a Controller.
type Options struct {
	Rounds int
	// MinBatch is the number of new runes that triggers a hand-off.
	MinBatch int
	// Overlap is the number of runes repeated at the start of the next batch.
	// Negative disables it.
	Overlap int
	// FlushInterval forces a hand-off of smaller batches after this long.
	FlushInterval time.Duration
	// Retry applies to opening a round's stream. Zero value uses retry.TextStream().
	Retry  retry.Config
	Now    func() time.Time
	Logger log.Logger
}

// Controller runs the text phase of sessions.
type Controller struct {
	model  llms.Model
	orch   *orchestrator.Orchestrator
	chain  *fallback.Chain
	opts   Options
	logger log.Logger
}

// New creates a controller streaming from model and handing batches to orch.
// A nil chain uses the default fallback chain.
func New(model llms.Model, orch *orchestrator.Orchestrator, chain *fallback.Chain, opts Options) *Controller {
	if opts.Rounds <= 0 {
		opts.Rounds = DefaultRounds
	}
	if opts.MinBatch <= 0 {
		opts.MinBatch = DefaultMinBatch
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	} else if opts.Overlap == 0 {
		opts.Overlap = DefaultOverlap
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Retry.BaseDelay == 0 && opts.Retry.MaxRetries == 0 {
		opts.Retry = retry.TextStream()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := log.OrDefault(opts.Logger)
	if chain == nil {
		chain = fallback.NewChain(logger)
	}
	return &Controller{model: model, orch: orch, chain: chain, opts: opts, logger: logger}
}

// Run streams rounds for h, defaulting to Options.Rounds when rounds is not
// positive. Recoverable problems are reported as events and Run returns nil.
// A cancelled session yields context.Canceled. Any other error is fatal and
// the caller owns the terminal transition.
func (c *Controller) Run(ctx context.Context, h *session.Handle, prompt string, rounds int) error {
	if c.model == nil {
		return ErrNoTextModel
	}
	if rounds <= 0 {
		rounds = c.opts.Rounds
	}
	h.Session.SetMeta(setting.MetaTotalRounds, rounds)

	offset := 0
	for round := 1; round <= rounds; round++ {
		if !h.Accepting() || ctx.Err() != nil {
			return context.Canceled
		}
		n, err := c.round(ctx, h, prompt, round, rounds, offset)
		offset += n
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) round(ctx context.Context, h *session.Handle, prompt string, round, rounds, offset int) (int, error) {
	final := round == rounds
	h.Session.SetMeta(setting.MetaCurrentRound, round)
	h.EmitProgress(round-1, rounds, "Streaming setting text with incremental parsing (round %d/%d)", round, rounds)

	messages := c.messages(h, prompt, round, rounds)
	var b *batcher
	dispatched := false

	cfg := c.opts.Retry
	cfg.Retryable = func(err error) bool {
		return !dispatched && retry.IsTransient(err)
	}
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("[session %s] round %d stream failed, retry %d in %v: %v", h.ID(), round, attempt, delay, err)
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		b = newBatcher(c.opts.MinBatch, c.opts.Overlap, c.opts.FlushInterval, c.opts.Now)
		_, err := c.model.GenerateContent(ctx, messages, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if !h.Accepting() {
				return context.Canceled
			}
			s := string(chunk)
			if strings.EqualFold(strings.TrimSpace(s), "heartbeat") {
				return nil
			}
			if delta, end, ok := b.write(s); ok && c.dispatch(h, delta, offset+end, false) {
				dispatched = true
			}
			return nil
		}))
		return err
	})

	text := b.String()
	if strings.TrimSpace(text) != "" {
		if h.Session.MetaString(setting.MetaAccumulatedText) != "" {
			text = "\n" + text
		}
		h.Session.AppendMetaText(setting.MetaAccumulatedText, text)
	}

	switch {
	case err == nil:
		c.logger.Info("[session %s] round %d/%d streamed %d runes", h.ID(), round, rounds, b.Len())
		c.finishRound(h, b, offset, final, "text phase ended")
		h.EmitProgress(round, rounds, "Round %d/%d text complete", round, rounds)

	case !h.Accepting() || ctx.Err() != nil:
		return b.Len(), context.Canceled

	case retry.IsInterrupted(err):
		c.logger.Warn("[session %s] round %d/%d stream interrupted: %v", h.ID(), round, rounds, err)
		c.finishRound(h, b, offset, final, "text stream interrupted")

	default:
		nothing := strings.TrimSpace(h.Session.MetaString(setting.MetaAccumulatedText)) == "" &&
			h.Graph().Len() == 0 && h.Gate.InFlight() == 0
		if nothing && (final || !retry.IsTransient(err)) {
			return b.Len(), fmt.Errorf("%w: round %d: %w", ErrStreamFailed, round, err)
		}

		c.logger.Error("[session %s] round %d/%d stream failed: %v", h.ID(), round, rounds, err)
		h.EmitError(setting.CodeTextStream, retry.SafeMessage(err), "", true)
		c.salvage(h, b.String())
		if final {
			c.endPhase(h, "text stream error")
		}
	}
	return b.Len(), nil
}

func (c *Controller) messages(h *session.Handle, prompt string, round, rounds int) []llms.MessageContent {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(h)),
	}
	if prev := h.Session.MetaString(setting.MetaAccumulatedText); strings.TrimSpace(prev) != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, PreviousRoundsPrefix+prev))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, userPrompt(prompt, round, rounds)))
}

// finishRound hands the unconsumed tail to the orchestrator, or to the
// fallback chain when there is no tool model. On the final round the tail
// task is registered before the text phase is marked ended.
func (c *Controller) finishRound(h *session.Handle, b *batcher, offset int, final bool, reason string) {
	if c.orch != nil && c.orch.Available() {
		if tail, end, ok := b.tail(); ok {
			c.dispatch(h, tail, offset+end, true)
		}
	} else {
		c.salvage(h, b.String())
	}
	if final {
		c.endPhase(h, reason)
	}
}

func (c *Controller) dispatch(h *session.Handle, text string, end int, tail bool) bool {
	if c.orch == nil || !c.orch.Available() || h.Gate.Completed() {
		return false
	}
	return c.orch.Dispatch(h, orchestrator.Batch{
		Key:  fmt.Sprintf("%s:%d", h.ID(), end),
		Text: text,
		Tail: tail,
	})
}

func (c *Controller) endPhase(h *session.Handle, reason string) {
	h.Gate.MarkTextPhaseEnded()
	h.Gate.TryFinalize(reason)
}

// salvage runs the fallback chain over text and applies what it finds.
func (c *Controller) salvage(h *session.Handle, text string) int {
	if strings.TrimSpace(text) == "" || h.Gate.Completed() {
		return 0
	}
	specs, parser := c.chain.Parse(text)
	if len(specs) == 0 {
		c.logger.Debug("[session %s] fallback found no nodes in %d bytes of text", h.ID(), len(text))
		return 0
	}
	res := h.ApplyNodes(session.OrderParentsFirst(specs), session.ApplyOptions{AllowUpdates: true})
	c.logger.Info("[session %s] fallback parser %s applied %d nodes (%d rejected)",
		h.ID(), parser, len(res.Created)+len(res.Updated), res.Rejected)
	return len(res.Created)
}
