package setting

import "time"

// Error codes carried by GenerationError.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeTool               = "TOOL_ERROR"
	CodeParse              = "PARSE_ERROR"
	CodeTextStream         = "TEXT_STREAM_ERROR"
	CodeGeneration         = "GENERATION_ERROR"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeNodeNotFound       = "NODE_NOT_FOUND"
	CodeModelConfig        = "MODEL_CONFIG_ERROR"
	CodeModificationFailed = "MODIFICATION_FAILED"
	CodePersistence        = "PERSISTENCE_ERROR"
)

// Outcomes carried by GenerationCompleted.
const (
	OutcomeSuccess             = "SUCCESS"
	OutcomeModificationSuccess = "MODIFICATION_SUCCESS"
	OutcomeCancelled           = "CANCELLED"
	OutcomeKnowledgeBaseSeeded = "KNOWLEDGE_BASE_SEEDED"
)

// Progress messages with a fixed meaning.
const (
	ProgressStreamReady = "STREAM_READY"
	ProgressHeartbeat   = "HEARTBEAT"
)

// Event is the closed set of things a session publishes. Consumers switch
// over the concrete types; the unexported method keeps the set closed.
type Event interface {
	SessionID() string
	Timestamp() time.Time
	Kind() string
	isEvent()
}

// Envelope is embedded by every event.
type Envelope struct {
	Session string    `json:"sessionId"`
	At      time.Time `json:"timestamp"`
}

// NewEnvelope stamps an event for session id with the current time.
func NewEnvelope(id string) Envelope {
	return Envelope{Session: id, At: time.Now()}
}

func (e Envelope) SessionID() string    { return e.Session }
func (e Envelope) Timestamp() time.Time { return e.At }
func (Envelope) isEvent()               {}

// SessionStarted is emitted once when the session is registered.
type SessionStarted struct {
	Envelope
	Prompt   string `json:"initialPrompt"`
	Strategy string `json:"strategy"`
	Mode     string `json:"mode"`
}

// NodeCreated carries a newly inserted node and its rendered path.
type NodeCreated struct {
	Envelope
	Node       Node   `json:"node"`
	ParentPath string `json:"parentPath"`
}

// NodeUpdated carries the new node state and the state before the change.
type NodeUpdated struct {
	Envelope
	Node            Node `json:"node"`
	PreviousVersion Node `json:"previousVersion"`
}

// NodeDeleted lists every id removed by one delete operation.
type NodeDeleted struct {
	Envelope
	NodeIDs []string `json:"deletedNodeIds"`
	Reason  string   `json:"reason"`
}

// GenerationProgress reports progress; Current/Total are zero when unknown.
type GenerationProgress struct {
	Envelope
	Message string `json:"message"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// GenerationError reports a failure. Recoverable errors do not stop the session.
type GenerationError struct {
	Envelope
	Code        string `json:"errorCode"`
	Message     string `json:"errorMessage"`
	NodeID      string `json:"nodeId,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// GenerationCompleted is the terminal event of a generation or modification flow.
type GenerationCompleted struct {
	Envelope
	NodeCount  int    `json:"totalNodesGenerated"`
	DurationMs int64  `json:"totalDurationMs"`
	Outcome    string `json:"status"`
}

func (SessionStarted) Kind() string      { return "SESSION_STARTED" }
func (NodeCreated) Kind() string         { return "NODE_CREATED" }
func (NodeUpdated) Kind() string         { return "NODE_UPDATED" }
func (NodeDeleted) Kind() string         { return "NODE_DELETED" }
func (GenerationProgress) Kind() string  { return "GENERATION_PROGRESS" }
func (GenerationError) Kind() string     { return "GENERATION_ERROR" }
func (GenerationCompleted) Kind() string { return "GENERATION_COMPLETED" }

// Emitter accepts events for one session.
type Emitter interface {
	Emit(Event)
}
