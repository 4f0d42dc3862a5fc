package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/fallback"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/retry"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/session"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// ErrNoModel is returned when no tool-calling model is configured.
var ErrNoModel = errors.New("no tool-calling model configured")

// Options configures an Orchestrator.
type Options struct {
	// MaxTurns caps model turns per task. Default 12.
	MaxTurns int
	// Timeout bounds a regular task. Default 3 minutes.
	Timeout time.Duration
	// TailTimeout bounds the task that handles the end of the text. Default 2 minutes.
	TailTimeout time.Duration
	// Retry applies to each model call. Zero value uses retry.ToolLoop().
	Retry  retry.Config
	Logger log.Logger
}

// Orchestrator runs extraction tasks against a tool-calling model.
type Orchestrator struct {
	model  llms.Model
	opts   Options
	logger log.Logger
}

// New creates an orchestrator. model may be nil, in which case every task
// fails with ErrNoModel.
func New(model llms.Model, opts Options) *Orchestrator {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 12
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Minute
	}
	if opts.TailTimeout <= 0 {
		opts.TailTimeout = 2 * time.Minute
	}
	if opts.Retry.BaseDelay == 0 && opts.Retry.MaxRetries == 0 {
		opts.Retry = retry.ToolLoop()
	}
	return &Orchestrator{model: model, opts: opts, logger: log.OrDefault(opts.Logger)}
}

// Available reports whether a model is configured.
func (o *Orchestrator) Available() bool { return o.model != nil }

// Batch is one text delta handed to Dispatch.
type Batch struct {
	// Key suppresses duplicate dispatches of the same text offset.
	Key  string
	Text string
	// Tail marks the last batch of the text phase.
	Tail bool
}

// Request describes one tool loop.
type Request struct {
	// System overrides the default extraction instructions.
	System string
	User   string
	// MaxTurns overrides Options.MaxTurns when positive.
	MaxTurns int
	// Filter can veto nodes before validation.
	Filter func(n setting.Node, existing bool) error
}

// Result summarises a tool loop.
type Result struct {
	Turns    int
	Created  int
	Updated  int
	Rejected int
	Complete bool
}

// Dispatch starts an extraction task for b in the background and reports
// whether it was started. Duplicate keys and aborted sessions are skipped.
func (o *Orchestrator) Dispatch(h *session.Handle, b Batch) bool {
	if !h.Accepting() {
		return false
	}
	if b.Key != "" && !h.Claim(b.Key) {
		o.logger.Debug("[session %s] skipping duplicate batch %s", h.ID(), b.Key)
		return false
	}

	taskID := "tool-inc-" + uuid.NewString()
	h.Gate.TaskStarted(taskID)

	go func() {
		defer func() {
			h.Gate.TaskEnded(taskID)
			if b.Key != "" {
				h.Release(b.Key)
			}
			h.Gate.TryFinalize("task " + taskID + " ended")
		}()

		timeout := o.opts.Timeout
		if b.Tail {
			timeout = o.opts.TailTimeout
		}
		ctx, cancel := context.WithTimeout(h.Context(), timeout)
		defer cancel()

		res, err := o.Run(ctx, h, Request{User: extractionUserPrompt(b.Text)})
		if err != nil {
			o.report(h, err)
			return
		}
		o.logger.Debug("[session %s] task %s: %d created, %d rejected in %d turns",
			h.ID(), taskID, res.Created, res.Rejected, res.Turns)
	}()
	return true
}

func (o *Orchestrator) report(h *session.Handle, err error) {
	switch {
	case !h.Accepting() || retry.IsInterrupted(err):
		o.logger.Debug("[session %s] extraction stopped: %v", h.ID(), err)
	case retry.IsTransient(err):
		o.logger.Warn("[session %s] extraction skipped after retries: %v", h.ID(), err)
		h.EmitProgress(0, 0, "Model is busy, part of the text will be processed later: %s", retry.SafeMessage(err))
	default:
		o.logger.Error("[session %s] extraction failed: %v", h.ID(), err)
		h.EmitError(setting.CodeTool, retry.SafeMessage(err), "", true)
	}
}

// Run executes one tool loop synchronously.
func (o *Orchestrator) Run(ctx context.Context, h *session.Handle, req Request) (Result, error) {
	var res Result
	if o.model == nil {
		return res, ErrNoModel
	}

	system := req.System
	if system == "" {
		system = extractionSystemPrompt(h.Strategy.BuildPromptContext(), TempIDIndex(h.Graph()))
	}
	maxTurns := o.opts.MaxTurns
	if req.MaxTurns > 0 {
		maxTurns = req.MaxTurns
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, req.User),
	}
	tools := []llms.Tool{Tool()}
	local := make(map[string]string)

	for res.Turns < maxTurns {
		if !h.Accepting() {
			return res, context.Canceled
		}

		var resp *llms.ContentResponse
		err := retry.Do(ctx, o.opts.Retry, func(ctx context.Context) error {
			r, err := o.model.GenerateContent(ctx, messages, llms.WithTools(tools))
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("tool loop turn %d: %w", res.Turns+1, err)
		}
		res.Turns++

		if resp == nil || len(resp.Choices) == 0 {
			break
		}
		choice := resp.Choices[0]

		aiMsg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if choice.Content != "" {
			aiMsg.Parts = append(aiMsg.Parts, llms.TextPart(choice.Content))
		}
		for _, tc := range choice.ToolCalls {
			aiMsg.Parts = append(aiMsg.Parts, tc)
		}
		messages = append(messages, aiMsg)

		if len(choice.ToolCalls) == 0 {
			break
		}

		for _, tc := range choice.ToolCalls {
			reply := o.handleCall(h, tc, local, req.Filter, &res)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       ToolName,
						Content:    reply,
					},
				},
			})
		}

		if res.Complete {
			h.Gate.MarkToolComplete()
			h.Gate.TryFinalize("tool reported completion")
			break
		}
	}
	return res, nil
}

type callReply struct {
	Created  int               `json:"created"`
	Updated  int               `json:"updated"`
	Rejected int               `json:"rejected"`
	TempIDs  map[string]string `json:"tempIds,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func (o *Orchestrator) handleCall(h *session.Handle, tc llms.ToolCall, local map[string]string,
	filter func(setting.Node, bool) error, res *Result) string {
	if tc.FunctionCall == nil || tc.FunctionCall.Name != ToolName {
		name := ""
		if tc.FunctionCall != nil {
			name = tc.FunctionCall.Name
		}
		return encodeReply(callReply{Error: fmt.Sprintf("unknown tool %q, only %s is available", name, ToolName)})
	}

	list, err := fallback.DecodeNodeList(tc.FunctionCall.Arguments)
	if err != nil {
		h.EmitError(setting.CodeParse, "could not parse tool arguments: "+retry.SafeMessage(err), "", true)
		return encodeReply(callReply{Error: "arguments are not valid JSON: " + retry.SafeMessage(err)})
	}

	applied := h.ApplyNodes(list.All(), session.ApplyOptions{
		Local:        local,
		AllowUpdates: true,
		Filter:       filter,
	})
	res.Created += len(applied.Created)
	res.Updated += len(applied.Updated)
	res.Rejected += applied.Rejected
	if list.Complete {
		res.Complete = true
	}

	return encodeReply(callReply{
		Created:  len(applied.Created),
		Updated:  len(applied.Updated),
		Rejected: applied.Rejected,
		TempIDs:  applied.TempIDs,
	})
}

func encodeReply(r callReply) string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"error":"internal"}`
	}
	return string(data)
}
