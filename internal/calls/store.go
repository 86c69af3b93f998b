// Package calls persists calls, transcripts, bookings, and customer
// requests, and looks up the business a dialed number belongs to.
package calls

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ziadkadry99/voicedesk/internal/business"
)

// Store is the persistence collaborator used by the voice orchestrator.
// Every method except CreateCall is safe to repeat.
type Store interface {
	LookupBusinessByNumber(ctx context.Context, number string) (*business.Profile, error)
	UpsertBusiness(ctx context.Context, p business.Profile) (*business.Profile, error)

	CreateCall(ctx context.Context, c Call) (*Call, error)
	AppendTranscriptLine(ctx context.Context, line TranscriptLine) error
	CompleteCall(ctx context.Context, callID, status string, durationSeconds int) error
	CompleteCallBySid(ctx context.Context, callSid, status string, durationSeconds int) error
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	CreateCustomerRequest(ctx context.Context, r CustomerRequest) (*CustomerRequest, error)
	FetchTranscript(ctx context.Context, callID string) ([]TranscriptLine, error)
	UpdateSummary(ctx context.Context, callID, summary, sentiment string) error

	ListCallsWithoutSummary(ctx context.Context, limit int) ([]Call, error)
	Close() error
}

// NormalizeNumber strips formatting from a phone number so "+1 (555) 123-4567"
// and "+15551234567" match the same business row.
func NormalizeNumber(number string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(number) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func encodeCapabilities(caps []business.Capability) (string, error) {
	if caps == nil {
		caps = []business.Capability{}
	}
	data, err := json.Marshal(caps)
	return string(data), err
}

func decodeCapabilities(s string) []business.Capability {
	var caps []business.Capability
	if err := json.Unmarshal([]byte(s), &caps); err != nil {
		return nil
	}
	return caps
}

func encodeHours(h *business.Hours) (*string, error) {
	if h == nil {
		return nil, nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func decodeHours(s *string) *business.Hours {
	if s == nil || *s == "" {
		return nil
	}
	var h business.Hours
	if err := json.Unmarshal([]byte(*s), &h); err != nil {
		return nil
	}
	return &h
}
