// Package twiml renders the voice responses returned to the telephony
// gateway. Rendering is pure: the same inputs always produce the same bytes.
package twiml

import (
	"strconv"
	"strings"
)

const header = `<?xml version="1.0" encoding="UTF-8"?>`

// Shape identifies which of the four response forms a document uses.
type Shape string

const (
	ShapeListen         Shape = "listen"
	ShapeSpeakAndListen Shape = "speak_listen"
	ShapeSpeakAndHangup Shape = "speak_hangup"
	ShapeSpeakAndDial   Shape = "speak_dial"
)

// Document is a rendered TwiML response.
type Document struct {
	Shape Shape
	Body  string
}

// String returns the markup.
func (d Document) String() string { return d.Body }

// Ends reports whether the document terminates the call on our side.
func (d Document) Ends() bool {
	return d.Shape == ShapeSpeakAndHangup || d.Shape == ShapeSpeakAndDial
}

// Builder renders documents for one deployment.
type Builder struct {
	// ActionURL receives the gathered speech and the silence redirect.
	ActionURL string
	Voice     string
	Language  string
}

// ListenOptions configures a listen-and-redirect document.
type ListenOptions struct {
	Prompt  string // spoken inside the gather; empty listens silently
	Timeout int    // seconds to wait for speech; 0 keeps the gateway default
}

// Listen renders a speech gather with an optional prompt followed by a
// redirect back to the action URL, so silence re-enters the webhook.
func (b Builder) Listen(opts ListenOptions) Document {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("<Response>")
	b.writeGather(&sb, opts.Prompt, opts.Timeout)
	b.writeRedirect(&sb)
	sb.WriteString("</Response>")
	return Document{Shape: ShapeListen, Body: sb.String()}
}

// SpeakAndListen speaks text inside a gather so the caller can barge in.
func (b Builder) SpeakAndListen(text string) Document {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("<Response>")
	b.writeGather(&sb, text, 0)
	b.writeRedirect(&sb)
	sb.WriteString("</Response>")
	return Document{Shape: ShapeSpeakAndListen, Body: sb.String()}
}

// SpeakAndHangup speaks text and ends the call.
func (b Builder) SpeakAndHangup(text string) Document {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("<Response>")
	b.writeSay(&sb, text)
	sb.WriteString("<Hangup/>")
	sb.WriteString("</Response>")
	return Document{Shape: ShapeSpeakAndHangup, Body: sb.String()}
}

// SpeakAndDial speaks text and bridges the caller to number.
func (b Builder) SpeakAndDial(text, number string) Document {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("<Response>")
	b.writeSay(&sb, text)
	sb.WriteString("<Dial>")
	sb.WriteString(Escape(number))
	sb.WriteString("</Dial>")
	sb.WriteString("</Response>")
	return Document{Shape: ShapeSpeakAndDial, Body: sb.String()}
}

func (b Builder) writeGather(sb *strings.Builder, prompt string, timeout int) {
	sb.WriteString(`<Gather input="speech" action="`)
	sb.WriteString(Escape(b.ActionURL))
	sb.WriteString(`" method="POST" speechTimeout="auto"`)
	if b.Language != "" {
		sb.WriteString(` language="`)
		sb.WriteString(Escape(b.Language))
		sb.WriteString(`"`)
	}
	if timeout > 0 {
		sb.WriteString(` timeout="`)
		sb.WriteString(strconv.Itoa(timeout))
		sb.WriteString(`"`)
	}
	if prompt == "" {
		sb.WriteString("/>")
		return
	}
	sb.WriteString(">")
	b.writeSay(sb, prompt)
	sb.WriteString("</Gather>")
}

func (b Builder) writeSay(sb *strings.Builder, text string) {
	sb.WriteString("<Say")
	if b.Voice != "" {
		sb.WriteString(` voice="`)
		sb.WriteString(Escape(b.Voice))
		sb.WriteString(`"`)
	}
	if b.Language != "" {
		sb.WriteString(` language="`)
		sb.WriteString(Escape(b.Language))
		sb.WriteString(`"`)
	}
	sb.WriteString(">")
	sb.WriteString(Escape(text))
	sb.WriteString("</Say>")
}

func (b Builder) writeRedirect(sb *strings.Builder) {
	sb.WriteString(`<Redirect method="POST">`)
	sb.WriteString(Escape(b.ActionURL))
	sb.WriteString("</Redirect>")
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape replaces the five reserved markup characters with named entities.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Empty is the acknowledgement body for webhooks that expect no verbs.
const Empty = header + "<Response></Response>"
