package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/ziadkadry99/voicedesk/internal/business"
	"github.com/ziadkadry99/voicedesk/internal/callstate"
)

// PromptInput is everything the system instruction depends on.
type PromptInput struct {
	Business          business.Profile
	Step              callstate.Step
	Intent            string
	Now               time.Time
	DefaultTimezone   string
	TransferAvailable bool
}

const dateTimeLayout = "Monday, January 2, 2006 at 3:04 PM MST"

var capabilityLines = map[business.Capability]string{
	business.CapBookAppointment: "Book appointments (collect name, service, and preferred date and time, then call book_appointment).",
	business.CapGeneralQuestion: "Answer general questions about the business using only the information below.",
	business.CapTakeMessage:     "Take a message for the staff (collect name, number, and message, then call record_request with kind message).",
	business.CapCallbackRequest: "Arrange a callback (collect name, number, reason, and a good time, then call record_request with kind callback).",
}

var stepDirectives = map[callstate.Step]string{
	callstate.StepGreeting:       "The call just started. Greet the caller briefly and ask how you can help.",
	callstate.StepIdentifyIntent: "Work out what the caller needs. As soon as it is clear, call set_intent.",
	callstate.StepGatherDetails:  "Collect the details needed for the current request, one question at a time. Confirm them before calling the action tool.",
	callstate.StepConfirm:        "The request has been recorded. Confirm it back to the caller and ask if there is anything else. If there is a new request, call set_intent again; if not, say goodbye and call end_call.",
	callstate.StepEnding:         "The call is ending. Say a short goodbye.",
}

// BuildSystemPrompt renders the per-turn system instruction. The output
// depends only on its input.
func BuildSystemPrompt(in PromptInput) string {
	p := in.Business
	name := p.Name
	if name == "" {
		name = business.DefaultName
	}
	loc := p.Location(in.DefaultTimezone)
	local := in.Now.In(loc)

	var b strings.Builder
	fmt.Fprintf(&b, "You are the phone receptionist for %s.", name)
	if p.VoiceStyle != "" {
		fmt.Fprintf(&b, " Speak in a %s tone.", p.VoiceStyle)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Current date and time: %s.\n", local.Format(dateTimeLayout))

	open, err := p.Hours.IsOpen(in.Now, loc)
	switch {
	case err != nil:
		b.WriteString("Business hours are unknown. Do not promise anyone is available right now.\n")
	case p.Hours == nil:
		b.WriteString("The business is OPEN.\n")
	case open:
		fmt.Fprintf(&b, "The business is OPEN (hours: %s).\n", p.Hours)
	default:
		fmt.Fprintf(&b, "The business is CLOSED right now (hours: %s).\n", p.Hours)
		b.WriteString("Tell the caller the office is closed and offer to take a message or arrange a callback. ")
		b.WriteString("Do not push to schedule anything immediately; only book an appointment if the caller insists on a future time.\n")
	}

	if p.Address != "" || p.Contact != "" {
		b.WriteString("\n## Location and contact\n")
		if p.Address != "" {
			fmt.Fprintf(&b, "Address: %s\n", p.Address)
		}
		if p.Contact != "" {
			fmt.Fprintf(&b, "Contact: %s\n", p.Contact)
		}
	}

	if p.GeneralInfo != "" {
		fmt.Fprintf(&b, "\n## About the business\n%s\n", strings.TrimSpace(p.GeneralInfo))
	}

	b.WriteString("\n## What you can do\n")
	for _, c := range p.EnabledCapabilities() {
		fmt.Fprintf(&b, "- %s\n", capabilityLines[c])
	}
	b.WriteString("For anything else, offer to take a message if you can, otherwise apologize and explain what you can help with.\n")

	if in.TransferAvailable {
		b.WriteString("\nIf the caller asks for a person, they will be transferred automatically.\n")
	} else {
		b.WriteString("\nNo staff member is available for live transfer. Never promise to connect the caller to a person.\n")
	}

	b.WriteString("\n## Current task\n")
	directive, ok := stepDirectives[in.Step]
	if !ok {
		directive = stepDirectives[callstate.StepIdentifyIntent]
	}
	b.WriteString(directive)
	if in.Intent != "" {
		fmt.Fprintf(&b, " The caller's current request: %s.", in.Intent)
	}
	b.WriteString("\n")

	b.WriteString(`
## Style
- This is a phone call. Your words are read aloud.
- Use one to three short sentences per reply.
- No lists, markdown, emojis, or URLs.
- Ask one question at a time.
- Spell out numbers the way you would say them if it helps clarity.
`)
	return b.String()
}
