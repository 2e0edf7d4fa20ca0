package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/pjordan/steward/agent/contract"
)

var (
	ErrInvalidSession = errors.New("session id is empty")
	ErrNilState       = errors.New("conversation state is nil")
	ErrHistoryCorrupt = errors.New("conversation history corrupt")
	ErrStateNotFound  = errors.New("conversation state not found")
)

// ConversationState is the unit of work threaded through the dispatch loop.
// One instance is exclusively owned by the in-flight turn for its session;
// the orchestrator serializes turns per session id.
type ConversationState struct {
	// SessionID is owned by the caller and never mutated by the core.
	SessionID string `json:"session_id"`

	// History is append-only. Entries are never reordered or deduplicated;
	// insertion order is the only order.
	History []contractx.Message `json:"history"`

	// NextRoute holds the supervisor's most recent decision. It is scoped
	// to a single user turn and never persisted.
	NextRoute string `json:"-"`

	UpdatedAt time.Time `json:"updated_at"`
}

func NewConversationState(sessionID string, now time.Time) *ConversationState {
	return &ConversationState{
		SessionID: sessionID,
		History:   make([]contractx.Message, 0, 8),
		UpdatedAt: now.UTC(),
	}
}

// Append adds messages to the history as one batch. A batch is committed
// whole or not at all; callers must not retain the slice afterwards.
func (s *ConversationState) Append(msgs ...contractx.Message) {
	if s == nil || len(msgs) == 0 {
		return
	}
	s.History = append(s.History, msgs...)
}

func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// Clone returns a deep copy. Stores hand out clones so that an in-flight
// turn never shares mutable history with the store's own copy.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := &ConversationState{
		SessionID: s.SessionID,
		History:   make([]contractx.Message, len(s.History)),
		NextRoute: s.NextRoute,
		UpdatedAt: s.UpdatedAt,
	}
	copy(out.History, s.History)
	return out
}

func (s *ConversationState) Validate() error {
	if s == nil {
		return ErrNilState
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}
	for i, m := range s.History {
		switch m.Role {
		case contractx.RoleUser, contractx.RoleAssistant, contractx.RoleSystem, contractx.RoleTool:
		default:
			return fmt.Errorf("%w: entry %d has role %q", ErrHistoryCorrupt, i, m.Role)
		}
	}
	return nil
}
