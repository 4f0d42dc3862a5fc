// Package engine is the outward face of the generation core. It starts
// text-streaming and structured-output sessions, exposes their event streams,
// applies user edits, and hands finished graphs to a Persister.
//
// Example:
//
//	eng := engine.New(engine.Options{
//		TextModel: textLLM,
//		ToolModel: toolLLM,
//		Persister: store.NewPersister(memory.New()),
//	})
//	id, _ := eng.StartTextStreamingSession(ctx, engine.StartRequest{Prompt: "A drowned empire"})
//	events, stop, _ := eng.Subscribe(ctx, id)
//	defer stop()
//	for e := range events {
//		fmt.Println(e.Kind())
//	}
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/events"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/fallback"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/gate"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/orchestrator"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/retry"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/session"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/structured"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/textphase"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/validate"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExists      = errors.New("session already exists")
	ErrNodeNotFound       = errors.New("node not found")
	ErrModelNotConfigured = errors.New("model not configured")
	// ErrSessionTerminal is returned for operations on a failed or cancelled session.
	ErrSessionTerminal = errors.New("session is no longer active")
)

// DefaultPersistTimeout bounds one Persister call.
const DefaultPersistTimeout = 30 * time.Second

// Persister materialises a finished graph. It is called at most once per
// session, and never for an empty graph.
type Persister interface {
	Persist(ctx context.Context, snap *setting.Snapshot) error
}

// KnowledgeBase supplies pre-built nodes that seed a session.
type KnowledgeBase interface {
	Lookup(ctx context.Context, ids []string) ([]setting.Node, error)
}

// Options configures an Engine.
type Options struct {
	// TextModel streams the prose of the text phase.
	TextModel llms.Model
	// ToolModel turns prose into nodes through tool calls. It also serves
	// ModifyNode. Without it the text phase falls back to local parsing.
	ToolModel llms.Model
	// StructuredModel answers structured-output rounds. Defaults to TextModel.
	StructuredModel llms.Model

	Persister     Persister
	KnowledgeBase KnowledgeBase

	TextPhase    textphase.Options
	Orchestrator orchestrator.Options
	Structured   structured.Options
	// Gate.Debounce of zero uses gate.DefaultDebounce; negative disables it.
	Gate gate.Options
	Bus  events.BusOptions

	PersistTimeout time.Duration
	Logger         log.Logger
}

// Engine owns every live session.
type Engine struct {
	opts     Options
	logger   log.Logger
	sessions *session.Registry

	orch       *orchestrator.Orchestrator
	text       *textphase.Controller
	structured *structured.Generator
}

// New creates an engine.
func New(opts Options) *Engine {
	logger := log.OrDefault(opts.Logger)
	if opts.StructuredModel == nil {
		opts.StructuredModel = opts.TextModel
	}
	if opts.Gate.Debounce == 0 {
		opts.Gate.Debounce = gate.DefaultDebounce
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.Orchestrator.Logger == nil {
		opts.Orchestrator.Logger = logger
	}
	if opts.TextPhase.Logger == nil {
		opts.TextPhase.Logger = logger
	}
	if opts.Structured.Logger == nil {
		opts.Structured.Logger = logger
	}

	orch := orchestrator.New(opts.ToolModel, opts.Orchestrator)
	return &Engine{
		opts:       opts,
		logger:     logger,
		sessions:   session.NewRegistry(),
		orch:       orch,
		text:       textphase.New(opts.TextModel, orch, fallback.NewChain(logger), opts.TextPhase),
		structured: structured.New(opts.StructuredModel, opts.Structured),
	}
}

// StartRequest describes a new session.
type StartRequest struct {
	// SessionID is generated when empty.
	SessionID  string
	UserID     string
	NovelID    string
	Prompt     string
	StrategyID string
	// KnowledgeBaseIDs name the entries used by KnowledgeBaseMode.
	KnowledgeBaseIDs []string
	// KnowledgeBaseMode says how KnowledgeBaseIDs are used. Empty means
	// KnowledgeBaseHybrid.
	KnowledgeBaseMode KnowledgeBaseMode
	// ReferenceKnowledgeBaseIDs add imitation references in hybrid mode.
	ReferenceKnowledgeBaseIDs []string
	// Rounds is the number of text rounds or structured iterations. Zero uses
	// the configured default.
	Rounds int
}

// StartTextStreamingSession registers a session and starts its text phase in
// the background. Failures after registration arrive as events.
func (e *Engine) StartTextStreamingSession(ctx context.Context, req StartRequest) (string, error) {
	return e.start(ctx, req, setting.ModeTextStreaming, func(ctx context.Context, h *session.Handle, prompt string) error {
		return e.text.Run(ctx, h, prompt, req.Rounds)
	})
}

// StartStructuredOutputSession registers a session and starts its structured
// rounds in the background.
func (e *Engine) StartStructuredOutputSession(ctx context.Context, req StartRequest) (string, error) {
	return e.start(ctx, req, setting.ModeStructuredOutput, func(ctx context.Context, h *session.Handle, prompt string) error {
		return e.structured.Run(ctx, h, prompt, req.Rounds)
	})
}

type runFunc func(ctx context.Context, h *session.Handle, prompt string) error

func (e *Engine) start(ctx context.Context, req StartRequest, mode string, run runFunc) (string, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := e.sessions.Get(id); exists {
		return "", fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	strategy, ok := validate.Lookup(req.StrategyID)
	if !ok {
		e.logger.Warn("[session %s] unknown strategy %q, using %s", id, req.StrategyID, strategy.ID())
	}

	sess := setting.NewSession(id, req.UserID, req.NovelID, req.Prompt, strategy.ID())
	sess.SetMeta(setting.MetaMode, mode)

	var h *session.Handle
	h = session.NewHandle(sess, strategy, session.Options{
		Bus:      e.opts.Bus,
		Gate:     e.opts.Gate,
		Finalize: func(reason string) { e.finalize(h, reason) },
		Logger:   e.logger,
	})
	e.sessions.Add(h)

	sess.SetStatus(setting.StatusGenerating)
	h.Emit(setting.SessionStarted{
		Envelope: setting.NewEnvelope(id),
		Prompt:   req.Prompt,
		Strategy: strategy.ID(),
		Mode:     mode,
	})
	e.logger.Info("[session %s] started %s session with strategy %s", id, mode, strategy.ID())

	prompt, generate := e.applyKnowledgeBase(ctx, h, req)
	if !generate {
		return id, nil
	}
	go e.run(h, run, prompt)
	return id, nil
}

func (e *Engine) run(h *session.Handle, run runFunc, prompt string) {
	err := run(h.Context(), h, prompt)
	switch {
	case err == nil:
	case !h.Accepting():
		e.logger.Debug("[session %s] generation stopped: %v", h.ID(), err)
	case errors.Is(err, context.Canceled) || retry.IsInterrupted(err):
		e.logger.Warn("[session %s] generation interrupted: %v", h.ID(), err)
		e.cancel(h)
	default:
		e.fail(h, errorCode(err), err)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, textphase.ErrNoTextModel), errors.Is(err, structured.ErrNoModel),
		errors.Is(err, orchestrator.ErrNoModel):
		return setting.CodeModelConfig
	case errors.Is(err, structured.ErrParse):
		return setting.CodeParse
	case errors.Is(err, textphase.ErrStreamFailed):
		return setting.CodeTextStream
	default:
		return setting.CodeGeneration
	}
}

// fail is the only path into ERROR. Once ERROR is set the gate's finalize
// refuses to run, so a late task cannot complete a failed session.
func (e *Engine) fail(h *session.Handle, code string, err error) {
	msg := retry.SafeMessage(err)
	if !h.Session.FailIfActive(msg) {
		e.logger.Warn("[session %s] ignoring error in state %s: %v", h.ID(), h.Session.Status(), err)
		return
	}
	e.logger.Error("[session %s] generation failed (%s): %v", h.ID(), code, err)

	h.Gate.Close()
	h.EmitError(code, msg, "", false)
	h.Bus.Complete()
	h.Teardown()
}

// finalize runs once per session, from the gate.
func (e *Engine) finalize(h *session.Handle, reason string) {
	if !h.Session.TransitionFrom(setting.StatusCompleted) {
		e.logger.Debug("[session %s] not finalizing aborted session", h.ID())
		return
	}
	h.Session.SetMeta(setting.MetaStreamFinalized, true)
	e.logger.Info("[session %s] generation completed with %d nodes (%s)", h.ID(), h.Graph().Len(), reason)

	e.persist(h)
	outcome := setting.OutcomeSuccess
	if h.Session.MetaString(setting.MetaKnowledgeBaseMode) == string(KnowledgeBaseReuse) {
		outcome = setting.OutcomeKnowledgeBaseSeeded
	}
	h.EmitCompleted(outcome, h.Session.CreatedAt)
	h.Bus.Complete()
}

func (e *Engine) persist(h *session.Handle) {
	if e.opts.Persister == nil {
		return
	}
	if h.Graph().Len() == 0 {
		e.logger.Info("[session %s] nothing to persist", h.ID())
		return
	}
	snapID := uuid.NewString()
	if !h.Session.SetMetaIfAbsent(setting.MetaPersistedID, snapID) {
		e.logger.Debug("[session %s] already persisted as %s", h.ID(), h.Session.MetaString(setting.MetaPersistedID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.PersistTimeout)
	defer cancel()
	if err := e.opts.Persister.Persist(ctx, h.Session.Snapshot(snapID)); err != nil {
		e.logger.Error("[session %s] failed to persist snapshot %s: %v", h.ID(), snapID, err)
		h.EmitError(setting.CodePersistence, "failed to save settings: "+retry.SafeMessage(err), "", true)
		return
	}
	h.Session.TransitionFrom(setting.StatusSaved)
	e.logger.Info("[session %s] persisted snapshot %s", h.ID(), snapID)
}

// Subscribe attaches to a session's event stream. The channel replays the
// session history and closes when the current flow completes or ctx ends.
func (e *Engine) Subscribe(ctx context.Context, sessionID string) (<-chan setting.Event, func(), error) {
	h, err := e.handle(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, stop := h.Bus.Subscribe(ctx)
	return ch, stop, nil
}

// UpdateNodeContent replaces a node's description and marks it MODIFIED.
func (e *Engine) UpdateNodeContent(ctx context.Context, sessionID, nodeID, content string) (setting.Node, error) {
	h, err := e.active(sessionID)
	if err != nil {
		return setting.Node{}, err
	}
	prev, err := h.Graph().Update(nodeID, func(n *setting.Node) {
		n.Description = content
		n.Status = setting.NodeModified
	})
	if err != nil {
		return setting.Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	node, _ := h.Graph().Get(nodeID)
	h.Emit(setting.NodeUpdated{
		Envelope:        setting.NewEnvelope(h.ID()),
		Node:            node,
		PreviousVersion: prev,
	})
	return node, nil
}

// DeleteNode removes a node with its whole subtree and returns the removed ids.
func (e *Engine) DeleteNode(ctx context.Context, sessionID, nodeID string) ([]string, error) {
	h, err := e.active(sessionID)
	if err != nil {
		return nil, err
	}
	removed, err := h.Graph().RemoveNodeAndDescendants(nodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	h.Emit(setting.NodeDeleted{
		Envelope: setting.NewEnvelope(h.ID()),
		NodeIDs:  removed,
		Reason:   "User requested node deletion",
	})
	e.logger.Info("[session %s] deleted %d nodes under %s", h.ID(), len(removed), nodeID)
	return removed, nil
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID    string                `json:"sessionId"`
	Status       setting.SessionStatus `json:"status"`
	Progress     int                   `json:"progress"`
	CurrentStep  string                `json:"currentStep"`
	TotalSteps   int                   `json:"totalSteps"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
	NodeCount    int                   `json:"nodeCount"`
}

// GetSessionStatus reports where a session stands. Progress is an estimate
// while generating and 100 once completed.
func (e *Engine) GetSessionStatus(ctx context.Context, sessionID string) (Status, error) {
	h, err := e.handle(sessionID)
	if err != nil {
		return Status{}, err
	}
	st := h.Session.Status()
	nodes := h.Graph().Len()

	progress := 0
	switch st {
	case setting.StatusCompleted, setting.StatusSaved:
		progress = 100
	case setting.StatusGenerating:
		progress = min(90, nodes*10)
	}

	total := 10
	if roots := h.Strategy.DefaultConfig().ExpectedRootNodes; roots > 0 {
		total = roots * 2
	}

	return Status{
		SessionID:    h.ID(),
		Status:       st,
		Progress:     progress,
		CurrentStep:  stepName(st),
		TotalSteps:   total,
		ErrorMessage: h.Session.ErrorMessage(),
		NodeCount:    nodes,
	}, nil
}

func stepName(s setting.SessionStatus) string {
	switch s {
	case setting.StatusInitializing:
		return "Initializing"
	case setting.StatusGenerating:
		return "Generating settings"
	case setting.StatusCompleted:
		return "Generation complete"
	case setting.StatusSaved:
		return "Saved"
	case setting.StatusError:
		return "Failed"
	case setting.StatusCancelled:
		return "Cancelled"
	}
	return "Unknown"
}

// CancelSession stops a running session. Tasks already in flight finish on
// their own but their results are dropped.
func (e *Engine) CancelSession(ctx context.Context, sessionID string) error {
	h, err := e.handle(sessionID)
	if err != nil {
		return err
	}
	if !e.cancel(h) {
		return fmt.Errorf("%w: %s is %s", ErrSessionTerminal, sessionID, h.Session.Status())
	}
	e.logger.Info("[session %s] cancelled", sessionID)
	return nil
}

// cancel moves an active session to CANCELLED and closes its stream. It
// reports false when another terminal state got there first.
func (e *Engine) cancel(h *session.Handle) bool {
	if !h.Session.TransitionIfActive(setting.StatusCancelled) {
		return false
	}
	h.Gate.Close()
	h.EmitCompleted(setting.OutcomeCancelled, h.Session.CreatedAt)
	h.Bus.Complete()
	h.Teardown()
	return true
}

// SweepSessions drops terminal sessions idle for longer than retention.
func (e *Engine) SweepSessions(retention time.Duration) int {
	n := e.sessions.Sweep(retention)
	if n > 0 {
		e.logger.Info("swept %d idle sessions", n)
	}
	return n
}

// Graph returns the live graph of a session.
func (e *Engine) Graph(sessionID string) (*setting.Graph, error) {
	h, err := e.handle(sessionID)
	if err != nil {
		return nil, err
	}
	return h.Graph(), nil
}

func (e *Engine) handle(id string) (*session.Handle, error) {
	h, ok := e.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return h, nil
}

// active returns the handle of a session that still accepts edits.
func (e *Engine) active(id string) (*session.Handle, error) {
	h, err := e.handle(id)
	if err != nil {
		return nil, err
	}
	if h.Session.Status().Aborted() {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionTerminal, id, h.Session.Status())
	}
	return h, nil
}
