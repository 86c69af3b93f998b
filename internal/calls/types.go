package calls

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Call status values reported by the telephony gateway.
const (
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusBusy       = "busy"
	StatusNoAnswer   = "no-answer"
	StatusCanceled   = "canceled"
)

// IsTerminal reports whether status ends a call's lifecycle.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	}
	return false
}

// Call is one inbound phone call.
type Call struct {
	ID              string     `json:"id"`
	CallSid         string     `json:"call_sid"`
	BusinessID      string     `json:"business_id"`
	CallerNumber    string     `json:"caller_number"`
	Status          string     `json:"status"`
	DurationSeconds int        `json:"duration_seconds"`
	Summary         string     `json:"summary,omitempty"`
	Sentiment       string     `json:"sentiment,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// Transcript roles.
const (
	RoleCaller    = "caller"
	RoleAssistant = "assistant"
)

// TranscriptLine is one spoken line, ordered by Sequence within a call.
type TranscriptLine struct {
	CallID    string    `json:"call_id"`
	Sequence  int       `json:"sequence"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Appointment is a booking captured during a call.
type Appointment struct {
	ID            string    `json:"id"`
	CallID        string    `json:"call_id"`
	BusinessID    string    `json:"business_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	Service       string    `json:"service"`
	RequestedTime string    `json:"requested_time"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Customer request kinds.
const (
	RequestMessage  = "message"
	RequestCallback = "callback"
)

// CustomerRequest is a message or callback request left by a caller.
type CustomerRequest struct {
	ID            string    `json:"id"`
	CallID        string    `json:"call_id"`
	BusinessID    string    `json:"business_id"`
	Kind          string    `json:"kind"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	Message       string    `json:"message"`
	PreferredTime string    `json:"preferred_time,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
