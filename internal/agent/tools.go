package agent

import (
	"encoding/json"
	"strings"

	"github.com/ziadkadry99/voicedesk/internal/business"
	"github.com/ziadkadry99/voicedesk/internal/llm"
)

// Tool names declared to the model.
const (
	ToolSetIntent       = "set_intent"
	ToolBookAppointment = "book_appointment"
	ToolRecordRequest   = "record_request"
	ToolEndCall         = "end_call"
)

// Customer request kinds accepted by record_request.
const (
	RequestMessage  = "message"
	RequestCallback = "callback"
)

// capabilityTool maps each capability to the action tool it unlocks. General
// questions need no tool beyond set_intent.
var capabilityTool = map[business.Capability]string{
	business.CapBookAppointment: ToolBookAppointment,
	business.CapGeneralQuestion: "",
	business.CapTakeMessage:     ToolRecordRequest,
	business.CapCallbackRequest: ToolRecordRequest,
}

// capabilityRequestKind maps the request capabilities to record_request kinds.
var capabilityRequestKind = map[business.Capability]string{
	business.CapTakeMessage:     RequestMessage,
	business.CapCallbackRequest: RequestCallback,
}

// toolOrder fixes the declaration order so requests are deterministic.
var toolOrder = []string{ToolSetIntent, ToolBookAppointment, ToolRecordRequest, ToolEndCall}

// Tools returns the tool declarations for the given capability set. An empty
// set resolves to the default capabilities, so set_intent and end_call are
// always declared.
func Tools(caps []business.Capability) []llm.ToolDefinition {
	caps = business.Profile{Capabilities: caps}.EnabledCapabilities()

	enabled := map[string]bool{ToolSetIntent: true, ToolEndCall: true}
	var kinds []string
	for _, c := range caps {
		if name := capabilityTool[c]; name != "" {
			enabled[name] = true
		}
		if k, ok := capabilityRequestKind[c]; ok {
			kinds = append(kinds, k)
		}
	}

	var out []llm.ToolDefinition
	for _, name := range toolOrder {
		if !enabled[name] {
			continue
		}
		switch name {
		case ToolSetIntent:
			out = append(out, setIntentTool(caps))
		case ToolBookAppointment:
			out = append(out, bookAppointmentTool())
		case ToolRecordRequest:
			out = append(out, recordRequestTool(kinds))
		case ToolEndCall:
			out = append(out, endCallTool())
		}
	}
	return out
}

func setIntentTool(caps []business.Capability) llm.ToolDefinition {
	intents := make([]string, len(caps))
	for i, c := range caps {
		intents[i] = string(c)
	}
	return llm.ToolDefinition{
		Name:        ToolSetIntent,
		Description: "Record what the caller wants once it is clear. Call again if the caller moves on to a new request.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"intent": map[string]any{
					"type":        "string",
					"enum":        intents,
					"description": "The caller's intent.",
				},
			},
			"required": []string{"intent"},
		},
	}
}

func bookAppointmentTool() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolBookAppointment,
		Description: "Book an appointment after the caller has confirmed their name, the service, and the time.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"customer_name":  map[string]any{"type": "string", "description": "Caller's full name."},
				"customer_phone": map[string]any{"type": "string", "description": "Best phone number to reach the caller."},
				"service":        map[string]any{"type": "string", "description": "What the appointment is for."},
				"requested_time": map[string]any{"type": "string", "description": "Requested date and time as the caller said it."},
				"notes":          map[string]any{"type": "string", "description": "Anything else the business should know."},
			},
			"required": []string{"customer_name", "service", "requested_time"},
		},
	}
}

func recordRequestTool(kinds []string) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolRecordRequest,
		Description: "Record a message or a callback request for the staff once the caller has given their name and details.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"kind": map[string]any{
					"type":        "string",
					"enum":        kinds,
					"description": "message to leave a message, callback to ask for a call back.",
				},
				"customer_name":  map[string]any{"type": "string", "description": "Caller's full name."},
				"customer_phone": map[string]any{"type": "string", "description": "Number to call back on."},
				"message":        map[string]any{"type": "string", "description": "The message or reason for the callback."},
				"preferred_time": map[string]any{"type": "string", "description": "When the caller prefers to be called back."},
			},
			"required": []string{"kind", "customer_name", "message"},
		},
	}
}

func endCallTool() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolEndCall,
		Description: "End the call after saying goodbye, once the caller has nothing else to ask.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{"type": "string", "description": "Short reason the call is ending."},
			},
		},
	}
}

// AppointmentRequest is the payload of a book_appointment call.
type AppointmentRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Service       string `json:"service"`
	RequestedTime string `json:"requested_time"`
	Notes         string `json:"notes"`
}

// CustomerRequest is the payload of a record_request call.
type CustomerRequest struct {
	Kind          string `json:"kind"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Message       string `json:"message"`
	PreferredTime string `json:"preferred_time"`
}

// collector keeps the last value seen per tool across rounds.
type collector struct {
	allowed     map[business.Capability]bool
	intent      string
	appointment *AppointmentRequest
	request     *CustomerRequest
	endCall     bool
}

func newCollector(caps []business.Capability) *collector {
	allowed := make(map[business.Capability]bool, len(caps))
	for _, c := range caps {
		allowed[c] = true
	}
	return &collector{allowed: allowed}
}

// add records one tool call and reports whether its arguments were usable.
func (c *collector) add(call llm.ToolCall) bool {
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch call.Name {
	case ToolSetIntent:
		var v struct {
			Intent string `json:"intent"`
		}
		if err := json.Unmarshal(args, &v); err != nil {
			return false
		}
		intent := business.Capability(strings.TrimSpace(v.Intent))
		if !c.allowed[intent] {
			return false
		}
		c.intent = string(intent)
	case ToolBookAppointment:
		var v AppointmentRequest
		if err := json.Unmarshal(args, &v); err != nil {
			return false
		}
		c.appointment = &v
	case ToolRecordRequest:
		var v CustomerRequest
		if err := json.Unmarshal(args, &v); err != nil {
			return false
		}
		if v.Kind != RequestCallback {
			v.Kind = RequestMessage
		}
		c.request = &v
	case ToolEndCall:
		c.endCall = true
	default:
		return false
	}
	return true
}
