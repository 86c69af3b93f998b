// Package voice answers the telephony gateway's webhooks: it decides what to
// say on every turn of a call and records what happened.
package voice

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/voicedesk/internal/agent"
	"github.com/ziadkadry99/voicedesk/internal/business"
	"github.com/ziadkadry99/voicedesk/internal/calls"
	"github.com/ziadkadry99/voicedesk/internal/callstate"
	"github.com/ziadkadry99/voicedesk/internal/monitor"
	"github.com/ziadkadry99/voicedesk/internal/twiml"
)

// Caller-facing messages.
const (
	MsgGoodbye        = "Thank you for calling. Goodbye."
	MsgTimeLimit      = "We've reached the time limit for this call. Thank you for calling. Goodbye."
	MsgStillThere     = "Are you still there?"
	MsgSilenceGoodbye = "I haven't heard anything, so I'll end the call now. Thank you for calling. Goodbye."
	MsgTransfer       = "Of course. Let me connect you with someone now."
	MsgNoTransfer     = "I'm sorry, no one is available to take your call right now, but I'm happy to help. What can I do for you?"
	MsgTimeout        = "I'm sorry, that's taking longer than expected. Could you please repeat that?"
	MsgError          = "I'm sorry, I'm having some technical difficulties. Could you please say that again?"
)

// TurnService runs model turns and post-call summaries.
type TurnService interface {
	RunTurn(ctx context.Context, in agent.TurnInput) (*agent.TurnResult, error)
	Summarize(ctx context.Context, transcript []agent.TranscriptLine) (*agent.Summary, error)
}

// Config holds the call-handling limits.
type Config struct {
	// MaxDuration ends calls older than this. Zero disables the ceiling.
	MaxDuration time.Duration
	// IdempotencyWindow is how long a repeated utterance replays the cached reply.
	IdempotencyWindow time.Duration
	// SilenceTimeout is the gather timeout, in seconds, used after silence.
	SilenceTimeout int
	// TransferNumber is used when the business has no transfer override.
	TransferNumber string
}

// Deps are the orchestrator's collaborators. Store may be nil to run
// without persistence; Bus may be nil to disable the live monitor.
type Deps struct {
	States  *callstate.Store
	Store   calls.Store
	Turns   TurnService
	TwiML   twiml.Builder
	Effects *Effects
	Bus     *monitor.Bus
	Logger  *zap.Logger
	Now     func() time.Time
}

// Orchestrator decides the response to every webhook.
type Orchestrator struct {
	states  *callstate.Store
	store   calls.Store
	turns   TurnService
	twiml   twiml.Builder
	effects *Effects
	bus     *monitor.Bus
	logger  *zap.Logger
	now     func() time.Time
	cfg     Config
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.States == nil {
		deps.States = callstate.NewStore(deps.Now)
	}
	if deps.Effects == nil {
		deps.Effects = NewEffects(0, deps.Logger)
	}
	if cfg.IdempotencyWindow <= 0 {
		cfg.IdempotencyWindow = 15 * time.Second
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 8
	}
	return &Orchestrator{
		states:  deps.States,
		store:   deps.Store,
		turns:   deps.Turns,
		twiml:   deps.TwiML,
		effects: deps.Effects,
		bus:     deps.Bus,
		logger:  deps.Logger,
		now:     deps.Now,
		cfg:     cfg,
	}
}

// TurnRequest is one inbound voice webhook.
type TurnRequest struct {
	CallSid   string
	To        string
	From      string
	Utterance string
}

// StatusRequest is one call-status notification.
type StatusRequest struct {
	CallSid  string
	Status   string
	Duration int
}

// HandleTurn returns the response for one webhook. It always returns a
// document; failures degrade to spoken apologies.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) twiml.Document {
	var doc twiml.Document
	o.states.Do(req.CallSid, func(st *callstate.State) {
		doc = o.turn(ctx, st, req)
	})
	return doc
}

// Fallback is the document served when a request cannot be processed at all.
func (o *Orchestrator) Fallback() twiml.Document {
	return o.twiml.SpeakAndHangup(MsgError)
}

func (o *Orchestrator) turn(ctx context.Context, st *callstate.State, req TurnRequest) twiml.Document {
	now := o.now()
	log := o.logger.With(zap.String("call_sid", req.CallSid))

	if !st.Bound {
		o.bind(ctx, st, req, log)
	}

	if o.cfg.MaxDuration > 0 && st.Step != callstate.StepEnding && st.Elapsed(now) > o.cfg.MaxDuration {
		log.Info("call exceeded time limit", zap.Duration("elapsed", st.Elapsed(now)))
		st.End()
		st.Append("", MsgTimeLimit)
		o.persistLine(st, "", MsgTimeLimit)
		o.publish(st, monitor.KindTimeLimit, MsgTimeLimit)
		return o.twiml.SpeakAndHangup(MsgTimeLimit)
	}

	if st.Step == callstate.StepEnding {
		o.publish(st, monitor.KindHangup, MsgGoodbye)
		return o.twiml.SpeakAndHangup(MsgGoodbye)
	}

	if req.Utterance == "" {
		return o.silence(st)
	}
	st.SilenceCount = 0

	if WantsHuman(req.Utterance) {
		return o.escape(st, req.Utterance, log)
	}

	fp := Fingerprint(req.Utterance)
	if cached, ok := st.CachedResponse(fp, now, o.cfg.IdempotencyWindow); ok {
		log.Info("replaying cached response for repeated utterance")
		o.publish(st, monitor.KindReplay, "")
		return twiml.Document{Shape: twiml.ShapeSpeakAndListen, Body: cached}
	}

	history := make([]callstate.Turn, len(st.History))
	copy(history, st.History)

	res, err := o.turns.RunTurn(ctx, agent.TurnInput{
		History:   history,
		Utterance: req.Utterance,
		Step:      st.Step,
		Intent:    st.Intent,
		Business:  st.Business,
		Now:       now,
	})
	if errors.Is(err, agent.ErrTurnTimeout) {
		log.Warn("turn timed out", zap.String("step", string(st.Step)))
		o.publish(st, monitor.KindTimeout, MsgTimeout)
		return o.twiml.Listen(twiml.ListenOptions{Prompt: MsgTimeout})
	}
	if err != nil {
		log.Error("turn failed", zap.String("step", string(st.Step)), zap.Error(err))
		o.publish(st, monitor.KindError, MsgError)
		return o.twiml.Listen(twiml.ListenOptions{Prompt: MsgError})
	}

	st.Append(req.Utterance, res.Reply)
	if res.Intent != "" {
		st.Intent = res.Intent
	}
	st.Advance(callstate.ApplyOutcome(st.Step, res.Outcome()))

	o.recordActions(st, res)
	o.persistLine(st, req.Utterance, res.Reply)
	o.publish(st, monitor.KindReply, res.Reply)

	if st.Step == callstate.StepEnding {
		return o.twiml.SpeakAndHangup(res.Reply)
	}
	doc := o.twiml.SpeakAndListen(res.Reply)
	st.Remember(fp, doc.Body, now)
	return doc
}

// bind resolves the dialed business and creates the call row on the first
// webhook. Lookup and insert failures fall back to defaults.
func (o *Orchestrator) bind(ctx context.Context, st *callstate.State, req TurnRequest, log *zap.Logger) {
	if o.store == nil {
		st.Bind(business.Default(), "", req.From)
		return
	}

	profile, err := o.store.LookupBusinessByNumber(ctx, req.To)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			log.Warn("no business for dialed number, using defaults", zap.String("to", req.To))
		} else {
			log.Warn("business lookup failed, using defaults", zap.String("to", req.To), zap.Error(err))
		}
		d := business.Default()
		profile = &d
	}

	var dbCallID string
	c, err := o.store.CreateCall(ctx, calls.Call{
		CallSid:      req.CallSid,
		BusinessID:   profile.ID,
		CallerNumber: req.From,
		StartedAt:    st.StartedAt,
	})
	if err != nil {
		log.Error("creating call row", zap.Error(err))
	} else {
		dbCallID = c.ID
	}

	st.Bind(*profile, dbCallID, req.From)
}

func (o *Orchestrator) silence(st *callstate.State) twiml.Document {
	if st.Step == callstate.StepGreeting {
		greeting := st.Business.GreetingText()
		st.Advance(callstate.StepIdentifyIntent)
		st.Append("", greeting)
		o.persistLine(st, "", greeting)
		o.publish(st, monitor.KindGreeting, greeting)
		return o.twiml.Listen(twiml.ListenOptions{Prompt: greeting})
	}

	st.SilenceCount++
	switch {
	case st.SilenceCount == 1:
		o.publish(st, monitor.KindSilence, "")
		return o.twiml.Listen(twiml.ListenOptions{Timeout: o.cfg.SilenceTimeout})
	case st.SilenceCount == 2:
		o.publish(st, monitor.KindSilence, MsgStillThere)
		return o.twiml.Listen(twiml.ListenOptions{Prompt: MsgStillThere, Timeout: o.cfg.SilenceTimeout})
	default:
		st.End()
		st.Append("", MsgSilenceGoodbye)
		o.persistLine(st, "", MsgSilenceGoodbye)
		o.publish(st, monitor.KindHangup, MsgSilenceGoodbye)
		return o.twiml.SpeakAndHangup(MsgSilenceGoodbye)
	}
}

func (o *Orchestrator) escape(st *callstate.State, utterance string, log *zap.Logger) twiml.Document {
	dest := st.Business.TransferDestination(o.cfg.TransferNumber)
	if dest == "" {
		log.Info("caller asked for a person but no transfer number is configured")
		st.Append(utterance, MsgNoTransfer)
		o.persistLine(st, utterance, MsgNoTransfer)
		o.publish(st, monitor.KindEscape, MsgNoTransfer)
		return o.twiml.Listen(twiml.ListenOptions{Prompt: MsgNoTransfer})
	}

	log.Info("transferring caller", zap.String("to", dest))
	st.End()
	st.Append(utterance, MsgTransfer)
	o.persistLine(st, utterance, MsgTransfer)
	o.publish(st, monitor.KindTransfer, MsgTransfer)
	return o.twiml.SpeakAndDial(MsgTransfer, dest)
}

// persistLine mirrors a caller/assistant exchange to the transcript. An
// empty caller text records only the assistant line.
func (o *Orchestrator) persistLine(st *callstate.State, callerText, assistantText string) {
	callerSeq, assistantSeq := st.NextSequence()
	if o.store == nil || st.DBCallID == "" {
		return
	}

	callID := st.DBCallID
	var lines []calls.TranscriptLine
	if callerText != "" {
		lines = append(lines, calls.TranscriptLine{CallID: callID, Sequence: callerSeq, Role: calls.RoleCaller, Text: callerText})
	}
	if assistantText != "" {
		lines = append(lines, calls.TranscriptLine{CallID: callID, Sequence: assistantSeq, Role: calls.RoleAssistant, Text: assistantText})
	}

	store := o.store
	o.effects.Go("append_transcript", st.CallSid, func(ctx context.Context) error {
		for _, l := range lines {
			if err := store.AppendTranscriptLine(ctx, l); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *Orchestrator) recordActions(st *callstate.State, res *agent.TurnResult) {
	if o.store == nil || st.DBCallID == "" {
		return
	}
	store := o.store
	callID, businessID, caller := st.DBCallID, st.BusinessID, st.CallerNumber

	if a := res.Appointment; a != nil {
		appt := calls.Appointment{
			CallID:        callID,
			BusinessID:    businessID,
			CustomerName:  a.CustomerName,
			CustomerPhone: orDefault(a.CustomerPhone, caller),
			Service:       a.Service,
			RequestedTime: a.RequestedTime,
			Notes:         a.Notes,
		}
		o.effects.Go("create_appointment", st.CallSid, func(ctx context.Context) error {
			_, err := store.CreateAppointment(ctx, appt)
			return err
		})
	}

	if r := res.Request; r != nil {
		kind := calls.RequestMessage
		if r.Kind == agent.RequestCallback {
			kind = calls.RequestCallback
		}
		cr := calls.CustomerRequest{
			CallID:        callID,
			BusinessID:    businessID,
			Kind:          kind,
			CustomerName:  r.CustomerName,
			CustomerPhone: orDefault(r.CustomerPhone, caller),
			Message:       r.Message,
			PreferredTime: r.PreferredTime,
		}
		o.effects.Go("create_customer_request", st.CallSid, func(ctx context.Context) error {
			_, err := store.CreateCustomerRequest(ctx, cr)
			return err
		})
	}
}

// HandleStatus records a status notification. Terminal statuses complete
// the call, queue the summary for completed calls, and evict the state. A
// terminal status for a call without live state still completes its row.
func (o *Orchestrator) HandleStatus(ctx context.Context, req StatusRequest) {
	if !calls.IsTerminal(req.Status) {
		return
	}
	log := o.logger.With(zap.String("call_sid", req.CallSid))

	snap, ok := o.states.Get(req.CallSid)
	if !ok {
		// No live state, e.g. after a restart. The call row may still exist.
		log.Info("status for call without live state", zap.String("status", req.Status))
		if o.store != nil {
			store := o.store
			o.effects.Go("complete_call", req.CallSid, func(ctx context.Context) error {
				err := store.CompleteCallBySid(ctx, req.CallSid, req.Status, req.Duration)
				if errors.Is(err, calls.ErrNotFound) {
					return nil
				}
				return err
			})
		}
		return
	}
	o.states.Delete(req.CallSid)

	log.Info("call ended",
		zap.String("status", req.Status),
		zap.Int("duration_seconds", req.Duration),
		zap.String("step", string(snap.Step)),
		zap.String("intent", snap.Intent))
	o.bus.Publish(monitor.Event{
		Kind:       monitor.KindEnded,
		CallSid:    req.CallSid,
		BusinessID: snap.BusinessID,
		Step:       string(snap.Step),
		Intent:     snap.Intent,
		Status:     req.Status,
		At:         o.now().UTC(),
	})

	if o.store == nil || snap.DBCallID == "" {
		return
	}
	store, callID := o.store, snap.DBCallID
	o.effects.Go("complete_call", req.CallSid, func(ctx context.Context) error {
		return store.CompleteCall(ctx, callID, req.Status, req.Duration)
	})

	// The summary must see the transcript lines still being written.
	if req.Status == calls.StatusCompleted && snap.Turns > 0 && o.turns != nil {
		o.effects.After("summarize", req.CallSid, func(ctx context.Context) error {
			return SummarizeCall(ctx, store, o.turns, callID)
		})
	}
}

// SummarizeCall fetches a call's transcript, asks for a summary, and stores
// it. Calls without transcript lines are skipped.
func SummarizeCall(ctx context.Context, store calls.Store, turns TurnService, callID string) error {
	lines, err := store.FetchTranscript(ctx, callID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}

	transcript := make([]agent.TranscriptLine, len(lines))
	for i, l := range lines {
		transcript[i] = agent.TranscriptLine{Role: l.Role, Text: l.Text}
	}
	sum, err := turns.Summarize(ctx, transcript)
	if err != nil {
		return err
	}
	return store.UpdateSummary(ctx, callID, sum.Summary, sum.Sentiment)
}

func (o *Orchestrator) publish(st *callstate.State, kind, reply string) {
	o.bus.Publish(monitor.Event{
		Kind:       kind,
		CallSid:    st.CallSid,
		BusinessID: st.BusinessID,
		Step:       string(st.Step),
		Intent:     st.Intent,
		Caller:     st.CallerNumber,
		Reply:      reply,
		At:         o.now().UTC(),
	})
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
