package setting

import (
	"maps"
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusInitializing SessionStatus = "INITIALIZING"
	StatusGenerating   SessionStatus = "GENERATING"
	StatusCompleted    SessionStatus = "COMPLETED"
	StatusSaved        SessionStatus = "SAVED"
	StatusError        SessionStatus = "ERROR"
	StatusCancelled    SessionStatus = "CANCELLED"
)

// Terminal reports whether no further generation will happen.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusSaved, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Aborted reports whether results of late tasks must be dropped.
func (s SessionStatus) Aborted() bool {
	return s == StatusError || s == StatusCancelled
}

// Generation modes.
const (
	ModeTextStreaming    = "TEXT_STREAMING"
	ModeStructuredOutput = "STRUCTURED_OUTPUT"
)

// Metadata keys written by the engine.
const (
	MetaMode              = "mode"
	MetaMaxIterations     = "maxIterations"
	MetaAccumulatedText   = "accumulatedText"
	MetaStreamFinalized   = "streamFinalized"
	MetaPersistedID       = "persistedSnapshotId"
	MetaCurrentRound      = "currentRound"
	MetaTotalRounds       = "totalRounds"
	MetaKnowledgeBaseIDs  = "knowledgeBaseIds"
	MetaKnowledgeBaseMode = "knowledgeBaseMode"
)

// Session is one generation conversation. Scalar fields are guarded by an
// internal lock; the node graph has its own.
type Session struct {
	ID         string
	UserID     string
	NovelID    string
	Prompt     string
	StrategyID string
	CreatedAt  time.Time

	Graph *Graph

	mu        sync.RWMutex
	status    SessionStatus
	metadata  map[string]any
	updatedAt time.Time
	errMsg    string
}

// NewSession creates a session in INITIALIZING state.
func NewSession(id, userID, novelID, prompt, strategyID string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		UserID:     userID,
		NovelID:    novelID,
		Prompt:     prompt,
		StrategyID: strategyID,
		CreatedAt:  now,
		Graph:      NewGraph(),
		status:     StatusInitializing,
		metadata:   make(map[string]any),
		updatedAt:  now,
	}
}

// Status returns the current status.
func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus changes the status and touches UpdatedAt.
func (s *Session) SetStatus(status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.updatedAt = time.Now()
}

// TransitionFrom sets next only while the session is in none of the aborted
// states. It returns false when the session was already aborted.
func (s *Session) TransitionFrom(next SessionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Aborted() {
		return false
	}
	s.status = next
	s.updatedAt = time.Now()
	return true
}

// TransitionIfActive sets next only while the session is not terminal. The
// check and the write happen under one lock, so at most one terminal state
// wins when cancel, failure and finalize race.
func (s *Session) TransitionIfActive(next SessionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = next
	s.updatedAt = time.Now()
	return true
}

// FailIfActive moves an active session to ERROR with msg. Like
// TransitionIfActive it reports false for a terminal session.
func (s *Session) FailIfActive(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = StatusError
	s.errMsg = msg
	s.updatedAt = time.Now()
	return true
}

// ErrorMessage returns the message recorded by FailIfActive.
func (s *Session) ErrorMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// UpdatedAt returns the time of the last status or metadata change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Meta returns a metadata value.
func (s *Session) Meta(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.metadata[key]
	return v, ok
}

// MetaString returns a metadata value when it is a string.
func (s *Session) MetaString(key string) string {
	v, _ := s.Meta(key)
	str, _ := v.(string)
	return str
}

// MetaInt returns a metadata value when it is an int.
func (s *Session) MetaInt(key string) int {
	v, _ := s.Meta(key)
	i, _ := v.(int)
	return i
}

// MetaBool returns a metadata value when it is a bool.
func (s *Session) MetaBool(key string) bool {
	v, _ := s.Meta(key)
	b, _ := v.(bool)
	return b
}

// SetMeta stores a metadata value.
func (s *Session) SetMeta(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = v
	s.updatedAt = time.Now()
}

// SetMetaIfAbsent stores v only when key is unset and reports whether it did.
func (s *Session) SetMetaIfAbsent(key string, v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.metadata[key]; ok {
		return false
	}
	s.metadata[key] = v
	s.updatedAt = time.Now()
	return true
}

// AppendMetaText appends text to a string metadata value and returns the result.
func (s *Session) AppendMetaText(key, text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.metadata[key].(string)
	cur += text
	s.metadata[key] = cur
	s.updatedAt = time.Now()
	return cur
}

// Metadata returns a copy of the metadata map.
func (s *Session) Metadata() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.metadata)
}

// Snapshot is the finished graph handed to the persistence collaborator.
type Snapshot struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId"`
	NovelID   string         `json:"novelId,omitempty"`
	Prompt    string         `json:"initialPrompt"`
	Strategy  string         `json:"strategy"`
	Nodes     []Node         `json:"nodes"`
	RootIDs   []string       `json:"rootNodeIds"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Version   int            `json:"version"`
}

// Snapshot captures the current graph. The accumulated text is left out.
func (s *Session) Snapshot(id string) *Snapshot {
	meta := s.Metadata()
	delete(meta, MetaAccumulatedText)
	return &Snapshot{
		ID:        id,
		SessionID: s.ID,
		UserID:    s.UserID,
		NovelID:   s.NovelID,
		Prompt:    s.Prompt,
		Strategy:  s.StrategyID,
		Nodes:     s.Graph.Nodes(),
		RootIDs:   s.Graph.RootIDs(),
		Metadata:  meta,
		Timestamp: time.Now(),
		Version:   1,
	}
}
