package business

import "time"

// Capability is a caller-facing feature a business can enable. Capabilities
// double as the intents the model may declare.
type Capability string

const (
	CapBookAppointment Capability = "book_appointment"
	CapGeneralQuestion Capability = "general_question"
	CapTakeMessage     Capability = "take_message"
	CapCallbackRequest Capability = "callback_request"
)

// AllCapabilities lists every capability in declaration order.
var AllCapabilities = []Capability{
	CapBookAppointment,
	CapGeneralQuestion,
	CapTakeMessage,
	CapCallbackRequest,
}

// DefaultCapabilities is used when a business enables nothing at all.
var DefaultCapabilities = []Capability{
	CapBookAppointment,
	CapGeneralQuestion,
}

// Hours is a daily opening window in the business's local time.
type Hours struct {
	Open  string         `json:"open" yaml:"open"`   // "09:00"
	Close string         `json:"close" yaml:"close"` // "17:00"
	Days  []time.Weekday `json:"days,omitempty" yaml:"days,omitempty"`
}

// Profile is the read-only configuration a call is answered with.
type Profile struct {
	ID             string       `json:"id" yaml:"id"`
	Name           string       `json:"name" yaml:"name"`
	PhoneNumber    string       `json:"phone_number" yaml:"phone_number"`
	Greeting       string       `json:"greeting,omitempty" yaml:"greeting,omitempty"`
	Timezone       string       `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Hours          *Hours       `json:"hours,omitempty" yaml:"hours,omitempty"` // nil = always open
	TransferNumber string       `json:"transfer_number,omitempty" yaml:"transfer_number,omitempty"`
	Capabilities   []Capability `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	VoiceStyle     string       `json:"voice_style,omitempty" yaml:"voice_style,omitempty"`
	Address        string       `json:"address,omitempty" yaml:"address,omitempty"`
	Contact        string       `json:"contact,omitempty" yaml:"contact,omitempty"`
	GeneralInfo    string       `json:"general_info,omitempty" yaml:"general_info,omitempty"`
}

// DefaultName is how the assistant refers to a business it knows nothing about.
const DefaultName = "our office"

// Default returns the profile used when no business row matches the dialed
// number: generic greeting, every capability, no transfer, always open.
func Default() Profile {
	caps := make([]Capability, len(AllCapabilities))
	copy(caps, AllCapabilities)
	return Profile{
		Name:         DefaultName,
		Capabilities: caps,
	}
}

// GreetingText returns the configured greeting or a generic one.
func (p Profile) GreetingText() string {
	if p.Greeting != "" {
		return p.Greeting
	}
	name := p.Name
	if name == "" {
		name = DefaultName
	}
	return "Thank you for calling " + name + ". How can I help you today?"
}

// EnabledCapabilities returns the business's known capabilities in canonical
// order with duplicates and unknown values dropped. An empty result resolves
// to DefaultCapabilities.
func (p Profile) EnabledCapabilities() []Capability {
	enabled := make(map[Capability]bool, len(p.Capabilities))
	for _, c := range p.Capabilities {
		enabled[c] = true
	}
	var out []Capability
	for _, c := range AllCapabilities {
		if enabled[c] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = make([]Capability, len(DefaultCapabilities))
		copy(out, DefaultCapabilities)
	}
	return out
}

// Has reports whether the capability is enabled after default resolution.
func (p Profile) Has(c Capability) bool {
	for _, e := range p.EnabledCapabilities() {
		if e == c {
			return true
		}
	}
	return false
}

// TransferDestination returns the business override or the given fallback.
func (p Profile) TransferDestination(fallback string) string {
	if p.TransferNumber != "" {
		return p.TransferNumber
	}
	return fallback
}
