// Package convo holds per-call conversation state: the append-only turn
// history and the persona that shapes generated replies.
package convo

import (
	"sync"
	"time"

	"github.com/karmalabs/karma/llm"
)

// Role identifies who produced a turn.
type Role string

const (
	// RoleRemote is the remote party (the caller).
	RoleRemote Role = "remote"
	// RolePersona is the synthetic persona.
	RolePersona Role = "persona"
)

// Turn is one recorded contribution to the conversation.
// Turns are appended only and never mutated.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// History is the ordered sequence of turns for one call session.
// It is owned by its session; concurrent readers (dashboard snapshots)
// are supported.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewHistory creates an empty conversation history.
func NewHistory() *History {
	return &History{}
}

// Append records a turn and returns it.
func (h *History) Append(role Role, text string) Turn {
	turn := Turn{Role: role, Text: text, Timestamp: time.Now()}
	h.mu.Lock()
	h.turns = append(h.turns, turn)
	h.mu.Unlock()
	return turn
}

// Len returns the number of recorded turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Turns returns a snapshot copy of all turns.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Prompt builds the bounded generation prompt: the system instructions plus
// the most recent maxTurns turns. The returned slice is a fresh copy; it is
// read-only once handed to the generation collaborator.
func (h *History) Prompt(systemPrompt string, maxTurns int) []llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	turns := h.turns
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	messages := make([]llm.Message, 0, len(turns)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, turn := range turns {
		role := llm.RoleUser
		if turn.Role == RolePersona {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	return messages
}
