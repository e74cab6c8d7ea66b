// Package call implements the call-session state machine and its hybrid
// in-memory/durable persistence. A Session is the authoritative record of
// one active phone call; a Record is its durable counterpart.
package call

import (
	"errors"
	"time"
)

// Role identifies the speaker of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a call transcript.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Confidence is the provider's speech-recognition confidence (0-1)
	// for user turns. Zero for assistant turns.
	Confidence float64 `json:"confidence,omitempty"`

	// Provider recording reference for user turns, when available.
	RecordingURL string `json:"recording_url,omitempty"`
	RecordingSID string `json:"recording_sid,omitempty"`
}

// Status is a provider call status.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether a status ends the call's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	}
	return false
}

// EndReason classifies why a call's turn loop stopped.
type EndReason string

const (
	EndedByUser          EndReason = "user"
	EndedBySystemTimeout EndReason = "system_timeout"
	EndedByDataComplete  EndReason = "system_complete"
	EndedByProvider      EndReason = "provider"
)

// Record is the durable representation of a call, partial or final.
type Record struct {
	CallSID         string         `json:"call_sid"`
	AgentID         string         `json:"agent_id"`
	CallerPhone     string         `json:"caller_phone"`
	RecipientPhone  string         `json:"recipient_phone"`
	Status          Status         `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         time.Time      `json:"ended_at,omitzero"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	EndedBy         EndReason      `json:"ended_by,omitempty"`
	Transcript      []Turn         `json:"conversation_history"`
	DataCollected   map[string]any `json:"data_collected"`
	RecordingURL    string         `json:"call_recording_url,omitempty"`
	RecordingSID    string         `json:"call_recording_sid,omitempty"`
	S3RecordingURL  string         `json:"s3_recording_url,omitempty"`
	AnsweredBy      string         `json:"answered_by,omitempty"`
}

// ErrSessionNotFound is returned by Store.Get and mutating operations when
// no session exists for the given call SID. Callers must degrade gracefully:
// a live phone call cannot simply error out at the caller.
var ErrSessionNotFound = errors.New("call session not found")
