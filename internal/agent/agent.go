// Package agent runs one language-model turn of a phone conversation: it
// builds the system instruction, declares tools for the business's
// capabilities, resolves tool-call rounds, and races the whole exchange
// against a hard deadline.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/voicedesk/internal/business"
	"github.com/ziadkadry99/voicedesk/internal/callstate"
	"github.com/ziadkadry99/voicedesk/internal/llm"
)

// ErrTurnTimeout is returned when a turn does not finish before the deadline.
var ErrTurnTimeout = errors.New("turn timed out")

// FallbackReply is spoken when the model returns no text.
const FallbackReply = "I'm sorry, could you say that again?"

// toolAck is the synthetic result supplied for every tool call.
const toolAck = `{"status":"ok"}`

// Options tune a Service. Zero values select the defaults.
type Options struct {
	Model           string
	Timeout         time.Duration
	MaxToolRounds   int
	Temperature     float64
	MaxTokens       int
	DefaultTimezone string
	// TransferNumber is the fallback transfer destination used to tell the
	// model whether a live transfer exists.
	TransferNumber string
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	if o.MaxToolRounds < 1 {
		o.MaxToolRounds = 3
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 300
	}
	if o.DefaultTimezone == "" {
		o.DefaultTimezone = "America/New_York"
	}
}

// Service runs conversation turns against a language model.
type Service struct {
	provider llm.Provider
	opts     Options
	logger   *zap.Logger
}

// NewService creates a turn service.
func NewService(provider llm.Provider, opts Options, logger *zap.Logger) *Service {
	opts.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provider: provider,
		opts:     opts,
		logger:   logger,
	}
}

// TurnInput is the conversation so far plus the new utterance.
type TurnInput struct {
	History   []callstate.Turn
	Utterance string
	Step      callstate.Step
	Intent    string
	Business  business.Profile
	Now       time.Time
}

// TurnResult is the reply and whatever the model declared through tools.
type TurnResult struct {
	Reply       string
	Intent      string
	Appointment *AppointmentRequest
	Request     *CustomerRequest
	EndCall     bool

	Rounds       int
	InputTokens  int
	OutputTokens int
}

// Outcome converts the declarations into step machine input.
func (r *TurnResult) Outcome() callstate.Outcome {
	return callstate.Outcome{
		IntentSet:       r.Intent != "",
		Booked:          r.Appointment != nil,
		RequestRecorded: r.Request != nil,
		EndCall:         r.EndCall,
	}
}

type turnOutcome struct {
	res *TurnResult
	err error
}

// RunTurn runs one turn. If the deadline passes first it returns
// ErrTurnTimeout and the late result, whenever it arrives, is dropped.
func (s *Service) RunTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	done := make(chan turnOutcome, 1)
	go func() {
		res, err := s.converse(ctx, in)
		done <- turnOutcome{res: res, err: err}
	}()

	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if time.Since(start) >= s.opts.Timeout {
			return nil, ErrTurnTimeout
		}
		return out.res, out.err
	case <-timer.C:
		return nil, ErrTurnTimeout
	}
}

func (s *Service) converse(ctx context.Context, in TurnInput) (*TurnResult, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	caps := in.Business.EnabledCapabilities()

	system := BuildSystemPrompt(PromptInput{
		Business:          in.Business,
		Step:              in.Step,
		Intent:            in.Intent,
		Now:               now,
		DefaultTimezone:   s.opts.DefaultTimezone,
		TransferAvailable: in.Business.TransferDestination(s.opts.TransferNumber) != "",
	})

	messages := make([]llm.Message, 0, len(in.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, t := range in.History {
		role := llm.RoleUser
		if t.Role == callstate.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.Utterance})

	req := llm.CompletionRequest{
		Model:       s.opts.Model,
		Tools:       Tools(caps),
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}
	col := newCollector(caps)
	result := &TurnResult{}

	var resp *llm.CompletionResponse
	for {
		req.Messages = messages
		var err error
		resp, err = s.provider.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("LLM completion: %w", err)
		}
		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens

		for _, call := range resp.ToolCalls {
			if !col.add(call) {
				s.logger.Debug("ignoring tool call",
					zap.String("tool", call.Name),
					zap.ByteString("arguments", call.Arguments))
			}
		}

		if len(resp.ToolCalls) == 0 || result.Rounds >= s.opts.MaxToolRounds {
			break
		}
		result.Rounds++

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    toolAck,
			})
		}
	}

	result.Reply = strings.TrimSpace(resp.Content)
	if result.Reply == "" {
		result.Reply = FallbackReply
	}
	result.Intent = col.intent
	result.Appointment = col.appointment
	result.Request = col.request
	result.EndCall = col.endCall

	s.logger.Debug("turn completed",
		zap.String("provider", s.provider.Name()),
		zap.Int("rounds", result.Rounds),
		zap.Int("input_tokens", result.InputTokens),
		zap.Int("output_tokens", result.OutputTokens),
		zap.Float64("cost_usd", llm.EstimateCost(resp.Model, result.InputTokens, result.OutputTokens)))

	return result, nil
}

// Sentiment values produced by Summarize.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Summary is the post-call judgment.
type Summary struct {
	Summary   string `json:"summary"`
	Sentiment string `json:"sentiment"`
}

// TranscriptLine is one line handed to Summarize.
type TranscriptLine struct {
	Role string
	Text string
}

// maxSummaryTokens bounds the transcript sent for summarization; older lines
// are dropped first.
const maxSummaryTokens = 6000

const summarySystemPrompt = `You summarize phone calls handled by an AI receptionist.

You MUST respond with valid JSON matching this schema:
{
  "summary": "two or three sentences: who called, what they wanted, and what was done",
  "sentiment": "positive|neutral|negative"
}

Rules:
- Mention any appointment or message that was recorded, with names and times
- Sentiment reflects how the caller felt by the end of the call`

// Summarize produces a summary and caller sentiment for a finished call.
func (s *Service) Summarize(ctx context.Context, transcript []TranscriptLine) (*Summary, error) {
	if len(transcript) == 0 {
		return &Summary{Sentiment: SentimentNeutral}, nil
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Model: s.opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summarySystemPrompt},
			{Role: llm.RoleUser, Content: buildTranscriptPrompt(transcript)},
		},
		MaxTokens:   400,
		Temperature: 0.2,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM completion: %w", err)
	}

	return parseSummary(resp.Content), nil
}

func buildTranscriptPrompt(lines []TranscriptLine) string {
	start, budget := len(lines), maxSummaryTokens
	for start > 0 {
		cost := llm.EstimateTokens(lines[start-1].Text) + 2
		if cost > budget {
			break
		}
		budget -= cost
		start--
	}

	var b strings.Builder
	b.WriteString("## Transcript\n")
	if start > 0 {
		fmt.Fprintf(&b, "(%d earlier lines omitted)\n", start)
	}
	for _, l := range lines[start:] {
		fmt.Fprintf(&b, "%s: %s\n", l.Role, l.Text)
	}
	return b.String()
}

func parseSummary(content string) *Summary {
	jsonStr := content
	if idx := strings.Index(content, "{"); idx >= 0 {
		jsonStr = content[idx:]
	}
	if idx := strings.LastIndex(jsonStr, "}"); idx >= 0 {
		jsonStr = jsonStr[:idx+1]
	}

	var sum Summary
	if err := json.Unmarshal([]byte(jsonStr), &sum); err != nil || sum.Summary == "" {
		return &Summary{Summary: strings.TrimSpace(content), Sentiment: SentimentNeutral}
	}
	sum.Summary = strings.TrimSpace(sum.Summary)
	sum.Sentiment = normalizeSentiment(sum.Sentiment)
	return &sum
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
