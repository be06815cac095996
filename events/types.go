// Package events provides a lightweight pub/sub bus carrying per-call
// lifecycle, transcript, and intelligence events to external observers.
package events

import (
	"time"

	"github.com/karmalabs/karma/intel"
)

// Type identifies the kind of event emitted by a call pipeline.
type Type string

const (
	// TypeSessionStarted marks a new call session.
	TypeSessionStarted Type = "session.started"
	// TypeSessionEnded marks call session teardown.
	TypeSessionEnded Type = "session.ended"
	// TypeTurnRecorded marks a turn appended to the conversation history.
	TypeTurnRecorded Type = "turn.recorded"
	// TypeStatusChanged marks a pipeline status transition.
	TypeStatusChanged Type = "status.changed"
	// TypeIntelFound marks an intelligence item extracted from a turn.
	TypeIntelFound Type = "intel.found"
)

// Status is the small fixed vocabulary published on status changes.
type Status string

const (
	StatusClassifying Status = "classifying"
	StatusListening   Status = "listening"
	StatusGenerating  Status = "generating"
	StatusSpeaking    Status = "speaking"
	StatusMuted       Status = "muted"
	StatusFailed      Status = "failed"
	StatusEnded       Status = "ended"
)

// Event is one observation published to the bus. Fields beyond CallID are
// populated per type: Role/Text for turns, Status for status changes,
// Intel for intelligence findings, Transport/Reason for session lifecycle.
type Event struct {
	Type      Type        `json:"type"`
	CallID    string      `json:"call_id"`
	Timestamp time.Time   `json:"timestamp"`
	Transport string      `json:"transport,omitempty"`
	Role      string      `json:"role,omitempty"`
	Text      string      `json:"text,omitempty"`
	Status    Status      `json:"status,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Intel     *intel.Item `json:"intel,omitempty"`
}

// SessionStarted builds a session-started event.
func SessionStarted(callID, transport string) Event {
	return Event{
		Type:      TypeSessionStarted,
		CallID:    callID,
		Transport: transport,
		Timestamp: time.Now(),
	}
}

// SessionEnded builds a session-ended event.
func SessionEnded(callID, reason string) Event {
	return Event{
		Type:      TypeSessionEnded,
		CallID:    callID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// TurnRecorded builds a turn-recorded event.
func TurnRecorded(callID, role, text string) Event {
	return Event{
		Type:      TypeTurnRecorded,
		CallID:    callID,
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// StatusChanged builds a status-changed event.
func StatusChanged(callID string, status Status) Event {
	return Event{
		Type:      TypeStatusChanged,
		CallID:    callID,
		Status:    status,
		Timestamp: time.Now(),
	}
}

// IntelFound builds an intelligence-found event.
func IntelFound(callID string, item intel.Item) Event {
	return Event{
		Type:      TypeIntelFound,
		CallID:    callID,
		Intel:     &item,
		Timestamp: time.Now(),
	}
}
