// Package callstate holds the in-memory state of live calls and the step
// machine that drives them.
package callstate

import (
	"time"

	"github.com/ziadkadry99/voicedesk/internal/business"
)

// Role identifies who spoke a turn.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// Turn is one line of the conversation.
type Turn struct {
	Role Role
	Text string
}

// Processed caches the response for the most recent utterance.
type Processed struct {
	Fingerprint string
	At          time.Time
	Response    string
}

// State is the mutable per-call state. It is only touched while the call's
// entry lock is held (see Store.Do).
type State struct {
	CallSid       string
	Step          Step
	Intent        string
	History       []Turn
	SilenceCount  int
	LastProcessed *Processed

	// Bound once on the first webhook.
	Bound        bool
	DBCallID     string
	BusinessID   string
	CallerNumber string
	Business     business.Profile

	Sequence  int
	StartedAt time.Time
}

func newState(callSid string, now time.Time) *State {
	return &State{
		CallSid:   callSid,
		Step:      StepGreeting,
		StartedAt: now,
	}
}

// Bind records the call's business and identifiers. Later calls are no-ops.
func (s *State) Bind(profile business.Profile, dbCallID, callerNumber string) {
	if s.Bound {
		return
	}
	s.Bound = true
	s.Business = profile
	s.BusinessID = profile.ID
	s.DBCallID = dbCallID
	s.CallerNumber = callerNumber
}

// Advance moves the call to step when the transition is allowed and reports
// whether it did.
func (s *State) Advance(to Step) bool {
	if !CanAdvance(s.Step, to) {
		return false
	}
	s.Step = to
	return true
}

// End marks the call as ending.
func (s *State) End() { s.Step = StepEnding }

// Append adds a caller/assistant exchange to the history.
func (s *State) Append(callerText, assistantText string) {
	if callerText != "" {
		s.History = append(s.History, Turn{Role: RoleCaller, Text: callerText})
	}
	if assistantText != "" {
		s.History = append(s.History, Turn{Role: RoleAssistant, Text: assistantText})
	}
}

// NextSequence reserves a caller/assistant sequence pair (n, n+1).
func (s *State) NextSequence() (caller, assistant int) {
	caller = s.Sequence
	s.Sequence += 2
	return caller, caller + 1
}

// Elapsed returns the call's age at now.
func (s *State) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// CachedResponse returns the cached response for fingerprint when it was
// recorded within window of now.
func (s *State) CachedResponse(fingerprint string, now time.Time, window time.Duration) (string, bool) {
	lp := s.LastProcessed
	if lp == nil || lp.Response == "" || lp.Fingerprint != fingerprint {
		return "", false
	}
	if now.Sub(lp.At) > window {
		return "", false
	}
	return lp.Response, true
}

// Remember caches response for the utterance fingerprint.
func (s *State) Remember(fingerprint, response string, now time.Time) {
	s.LastProcessed = &Processed{Fingerprint: fingerprint, At: now, Response: response}
}

// Snapshot is a read-only copy of the fields the status path needs.
type Snapshot struct {
	CallSid    string
	Step       Step
	Intent     string
	DBCallID   string
	BusinessID string
	Turns      int
	StartedAt  time.Time
}

func (s *State) snapshot() Snapshot {
	return Snapshot{
		CallSid:    s.CallSid,
		Step:       s.Step,
		Intent:     s.Intent,
		DBCallID:   s.DBCallID,
		BusinessID: s.BusinessID,
		Turns:      len(s.History),
		StartedAt:  s.StartedAt,
	}
}
