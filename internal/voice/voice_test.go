package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ziadkadry99/voicedesk/internal/agent"
	"github.com/ziadkadry99/voicedesk/internal/business"
	"github.com/ziadkadry99/voicedesk/internal/calls"
	"github.com/ziadkadry99/voicedesk/internal/callstate"
	"github.com/ziadkadry99/voicedesk/internal/db"
	"github.com/ziadkadry99/voicedesk/internal/monitor"
	"github.com/ziadkadry99/voicedesk/internal/twiml"
)

const (
	dialedNumber = "+15550100000"
	callerNumber = "+15550199999"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memStore is an in-memory calls.Store.
type memStore struct {
	mu           sync.Mutex
	businesses   map[string]business.Profile
	calls        map[string]*calls.Call
	lines        map[string][]calls.TranscriptLine
	appointments []calls.Appointment
	requests     []calls.CustomerRequest
	summaries    map[string]calls.Call
	err          error // returned by every write when set
	lookupErr    error
	appendGate   chan struct{} // AppendTranscriptLine blocks on it when set
}

func newMemStore() *memStore {
	return &memStore{
		businesses: make(map[string]business.Profile),
		calls:      make(map[string]*calls.Call),
		lines:      make(map[string][]calls.TranscriptLine),
		summaries:  make(map[string]calls.Call),
	}
}

func (m *memStore) LookupBusinessByNumber(_ context.Context, number string) (*business.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	p, ok := m.businesses[calls.NormalizeNumber(number)]
	if !ok {
		return nil, calls.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) UpsertBusiness(_ context.Context, p business.Profile) (*business.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.PhoneNumber = calls.NormalizeNumber(p.PhoneNumber)
	m.businesses[p.PhoneNumber] = p
	return &p, nil
}

func (m *memStore) CreateCall(_ context.Context, c calls.Call) (*calls.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c.ID = "call-" + c.CallSid
	c.Status = calls.StatusInProgress
	m.calls[c.ID] = &c
	return &c, nil
}

func (m *memStore) AppendTranscriptLine(_ context.Context, l calls.TranscriptLine) error {
	m.mu.Lock()
	gate := m.appendGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.lines[l.CallID] {
		if existing.Sequence == l.Sequence {
			return nil
		}
	}
	m.lines[l.CallID] = append(m.lines[l.CallID], l)
	return nil
}

func (m *memStore) CompleteCall(_ context.Context, callID, status string, duration int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.calls[callID]
	if !ok {
		return calls.ErrNotFound
	}
	c.Status = status
	c.DurationSeconds = duration
	return nil
}

func (m *memStore) CompleteCallBySid(_ context.Context, callSid, status string, duration int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, c := range m.calls {
		if c.CallSid == callSid {
			c.Status = status
			c.DurationSeconds = duration
			return nil
		}
	}
	return calls.ErrNotFound
}

func (m *memStore) CreateAppointment(_ context.Context, a calls.Appointment) (*calls.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.appointments = append(m.appointments, a)
	return &a, nil
}

func (m *memStore) CreateCustomerRequest(_ context.Context, r calls.CustomerRequest) (*calls.CustomerRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, r)
	return &r, nil
}

func (m *memStore) FetchTranscript(_ context.Context, callID string) ([]calls.TranscriptLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]calls.TranscriptLine(nil), m.lines[callID]...), nil
}

func (m *memStore) UpdateSummary(_ context.Context, callID, summary, sentiment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[callID] = calls.Call{Summary: summary, Sentiment: sentiment}
	return nil
}

func (m *memStore) ListCallsWithoutSummary(context.Context, int) ([]calls.Call, error) {
	return nil, nil
}

func (m *memStore) Close() error { return nil }

// fakeTurns returns scripted results in order.
type fakeTurns struct {
	mu      sync.Mutex
	results []*agent.TurnResult
	err     error
	inputs  []agent.TurnInput
	summary *agent.Summary
	seen    []agent.TranscriptLine // last transcript passed to Summarize
}

func (f *fakeTurns) RunTurn(_ context.Context, in agent.TurnInput) (*agent.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return &agent.TurnResult{Reply: "How else can I help?"}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeTurns) Summarize(_ context.Context, transcript []agent.TranscriptLine) (*agent.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append([]agent.TranscriptLine(nil), transcript...)
	if f.summary == nil {
		return &agent.Summary{Summary: "Caller asked a question.", Sentiment: agent.SentimentNeutral}, nil
	}
	return f.summary, nil
}

func (f *fakeTurns) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type harness struct {
	orch    *Orchestrator
	store   *memStore
	turns   *fakeTurns
	clock   *fakeClock
	effects *Effects
	bus     *monitor.Bus

	mu       sync.Mutex
	outcomes []Outcome
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		store: newMemStore(),
		turns: &fakeTurns{},
		clock: newFakeClock(),
		bus:   monitor.NewBus(),
	}
	h.effects = NewEffects(time.Second, logger)
	h.effects.OnOutcome = func(o Outcome) {
		h.mu.Lock()
		h.outcomes = append(h.outcomes, o)
		h.mu.Unlock()
	}
	h.orch = NewOrchestrator(Deps{
		Store:   h.store,
		Turns:   h.turns,
		TwiML:   twiml.Builder{ActionURL: "https://example.test/voice/incoming", Voice: "Polly.Joanna", Language: "en-US"},
		Effects: h.effects,
		Bus:     h.bus,
		Logger:  logger,
		Now:     h.clock.Now,
	}, cfg)
	t.Cleanup(h.effects.Wait)
	return h
}

func (h *harness) say(callSid, utterance string) twiml.Document {
	return h.orch.HandleTurn(context.Background(), TurnRequest{
		CallSid: callSid, To: dialedNumber, From: callerNumber, Utterance: utterance,
	})
}

func (h *harness) state(t *testing.T, callSid string) callstate.Snapshot {
	t.Helper()
	snap, ok := h.orch.states.Get(callSid)
	if !ok {
		t.Fatalf("no state for %s", callSid)
	}
	return snap
}

func (h *harness) failures() []Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Outcome
	for _, o := range h.outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

func TestGreetingAdvancesToIdentifyIntent(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.UpsertBusiness(context.Background(), business.Profile{
		ID: "b1", Name: "Bright Smile", PhoneNumber: dialedNumber, Greeting: "Hi, Bright Smile here!",
	})

	doc := h.say("CA1", "")
	if doc.Shape != twiml.ShapeListen {
		t.Errorf("shape = %s, want listen", doc.Shape)
	}
	if !strings.Contains(doc.Body, "Hi, Bright Smile here!") {
		t.Errorf("greeting missing: %s", doc.Body)
	}
	snap := h.state(t, "CA1")
	if snap.Step != callstate.StepIdentifyIntent {
		t.Errorf("step = %s", snap.Step)
	}
	if snap.BusinessID != "b1" || snap.DBCallID != "call-CA1" {
		t.Errorf("binding = %+v", snap)
	}

	h.effects.Wait()
	lines, _ := h.store.FetchTranscript(context.Background(), "call-CA1")
	if len(lines) != 1 || lines[0].Role != calls.RoleAssistant {
		t.Errorf("transcript = %+v", lines)
	}
}

func TestLookupMissUsesDefaultProfile(t *testing.T) {
	h := newHarness(t, Config{})
	doc := h.say("CA1", "")
	if !strings.Contains(doc.Body, "Thank you for calling our office. How can I help you today?") {
		t.Errorf("default greeting missing: %s", doc.Body)
	}
	if h.state(t, "CA1").DBCallID == "" {
		t.Error("call row should still be created")
	}
}

func TestLookupFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.lookupErr = errors.New("db down")
	doc := h.say("CA1", "")
	if doc.Shape != twiml.ShapeListen {
		t.Errorf("shape = %s", doc.Shape)
	}
}

func TestThirdSilenceHangsUp(t *testing.T) {
	steps := []struct {
		name    string
		prepare func(h *harness)
	}{
		{"identify_intent", func(h *harness) {}},
		{"gather_details", func(h *harness) {
			h.turns.results = []*agent.TurnResult{{Reply: "Sure, what day?", Intent: "book_appointment"}}
			h.say("CA1", "I'd like a cleaning")
		}},
		{"confirm", func(h *harness) {
			h.turns.results = []*agent.TurnResult{{
				Reply: "Booked.", Intent: "book_appointment",
				Appointment: &agent.AppointmentRequest{CustomerName: "Dana"},
			}}
			h.say("CA1", "Dana, cleaning Tuesday at 3")
		}},
	}

	for _, tt := range steps {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{SilenceTimeout: 6})
			h.say("CA1", "") // greeting
			tt.prepare(h)
			if got := string(h.state(t, "CA1").Step); got != tt.name {
				t.Fatalf("step = %s, want %s", got, tt.name)
			}

			first := h.say("CA1", "")
			if first.Shape != twiml.ShapeListen || strings.Contains(first.Body, "<Say") {
				t.Errorf("first silence = %s", first.Body)
			}
			if !strings.Contains(first.Body, `timeout="6"`) {
				t.Errorf("first silence missing timeout: %s", first.Body)
			}

			second := h.say("CA1", "")
			if second.Shape != twiml.ShapeListen || !strings.Contains(second.Body, MsgStillThere) {
				t.Errorf("second silence = %s", second.Body)
			}
			if !strings.Contains(second.Body, `timeout="6"`) {
				t.Errorf("second silence missing timeout: %s", second.Body)
			}

			third := h.say("CA1", "")
			if third.Shape != twiml.ShapeSpeakAndHangup {
				t.Errorf("third silence shape = %s", third.Shape)
			}
			if h.state(t, "CA1").Step != callstate.StepEnding {
				t.Error("expected ending after third silence")
			}
		})
	}
}

func TestUtteranceResetsSilence(t *testing.T) {
	h := newHarness(t, Config{})
	h.say("CA1", "")
	h.say("CA1", "")
	h.say("CA1", "")
	h.say("CA1", "hello?")
	if doc := h.say("CA1", ""); doc.Shape != twiml.ShapeListen || strings.Contains(doc.Body, "<Say") {
		t.Errorf("silence after utterance should restart at one: %s", doc.Body)
	}
}

func TestRepeatedUtteranceReplaysCachedResponse(t *testing.T) {
	h := newHarness(t, Config{IdempotencyWindow: 15 * time.Second})
	h.say("CA1", "")
	h.turns.results = []*agent.TurnResult{{Reply: "We open at nine."}, {Reply: "different"}}

	first := h.say("CA1", "When do you open?")
	h.clock.Advance(5 * time.Second)
	second := h.say("CA1", "  when do   you OPEN? ")

	if first.Body != second.Body {
		t.Errorf("responses differ:\n%s\n%s", first.Body, second.Body)
	}
	if h.turns.calls() != 1 {
		t.Errorf("turn service called %d times, want 1", h.turns.calls())
	}
}

func TestRepeatedUtteranceAfterWindowRunsAgain(t *testing.T) {
	h := newHarness(t, Config{IdempotencyWindow: 15 * time.Second})
	h.say("CA1", "")
	h.turns.results = []*agent.TurnResult{{Reply: "We open at nine."}, {Reply: "Nine o'clock."}}

	h.say("CA1", "When do you open?")
	h.clock.Advance(16 * time.Second)
	doc := h.say("CA1", "When do you open?")

	if h.turns.calls() != 2 {
		t.Errorf("turn service called %d times, want 2", h.turns.calls())
	}
	if !strings.Contains(doc.Body, "Nine o&apos;clock.") {
		t.Errorf("body = %s", doc.Body)
	}
}

func TestEscapeWithoutTransferKeepsListening(t *testing.T) {
	h := newHarness(t, Config{})
	h.say("CA1", "")

	doc := h.say("CA1", "Can I talk to a real person please")
	if doc.Shape != twiml.ShapeListen {
		t.Errorf("shape = %s, want listen", doc.Shape)
	}
	if strings.Contains(doc.Body, "<Hangup") || strings.Contains(doc.Body, "<Dial") {
		t.Errorf("unexpected hangup/dial: %s", doc.Body)
	}
	if h.turns.calls() != 0 {
		t.Error("model should not be consulted for escape phrases")
	}
	if h.state(t, "CA1").Step == callstate.StepEnding {
		t.Error("call should stay open")
	}
}

func TestEscapeWithTransferDials(t *testing.T) {
	h := newHarness(t, Config{TransferNumber: "+15551234567"})
	h.say("CA1", "")

	doc := h.say("CA1", "I want to speak to a representative")
	if doc.Shape != twiml.ShapeSpeakAndDial {
		t.Fatalf("shape = %s, want speak_dial", doc.Shape)
	}
	if !strings.Contains(doc.Body, "<Dial>+15551234567</Dial>") {
		t.Errorf("body = %s", doc.Body)
	}
	if h.state(t, "CA1").Step != callstate.StepEnding {
		t.Error("expected ending")
	}

	h.effects.Wait()
	lines, _ := h.store.FetchTranscript(context.Background(), "call-CA1")
	if len(lines) != 3 {
		t.Errorf("transcript lines = %d, want greeting + transfer pair", len(lines))
	}
}

func TestBusinessTransferOverridesFallback(t *testing.T) {
	h := newHarness(t, Config{TransferNumber: "+15550000001"})
	h.store.UpsertBusiness(context.Background(), business.Profile{
		ID: "b1", Name: "Garage", PhoneNumber: dialedNumber, TransferNumber: "+15550000002",
	})
	h.say("CA1", "")
	doc := h.say("CA1", "get me the manager")
	if !strings.Contains(doc.Body, "+15550000002") {
		t.Errorf("expected business transfer number: %s", doc.Body)
	}
}

func TestEndingIsAbsorbing(t *testing.T) {
	h := newHarness(t, Config{})
	h.say("CA1", "")
	h.turns.results = []*agent.TurnResult{{Reply: "Goodbye!", EndCall: true}}

	doc := h.say("CA1", "That's all, thanks")
	if doc.Shape != twiml.ShapeSpeakAndHangup || !strings.Contains(doc.Body, "Goodbye!") {
		t.Fatalf("doc = %s", doc.Body)
	}

	for _, u := range []string{"", "wait one more thing", "representative"} {
		if d := h.say("CA1", u); d.Shape != twiml.ShapeSpeakAndHangup {
			t.Errorf("utterance %q after ending: shape = %s", u, d.Shape)
		}
	}
	if h.turns.calls() != 1 {
		t.Errorf("turn service called %d times after ending", h.turns.calls())
	}
}

func TestStepNeverRegresses(t *testing.T) {
	h := newHarness(t, Config{})
	h.say("CA1", "")
	h.turns.results = []*agent.TurnResult{
		{Reply: "Sure.", Intent: "book_appointment"},
		{Reply: "Booked.", Appointment: &agent.AppointmentRequest{CustomerName: "Dana"}},
		{Reply: "Anything else?"},
		{Reply: "What about?", Intent: "general_question"},
	}
	want := []callstate.Step{
		callstate.StepGatherDetails,
		callstate.StepConfirm,
		callstate.StepConfirm,
		callstate.StepGatherDetails,
	}
	for i, w := range want {
		h.say("CA1", fmt.Sprintf("utterance %d", i))
		if got := h.state(t, "CA1").Step; got != w {
			t.Errorf("after turn %d step = %s, want %s", i, got, w)
		}
	}
}

func TestTimeLimitHangsUp(t *testing.T) {
	for _, utterance := range []string{"", "one more question"} {
		h := newHarness(t, Config{MaxDuration: 10 * time.Minute})
		h.say("CA1", "")
		h.clock.Advance(10*time.Minute + time.Second)

		doc := h.say("CA1", utterance)
		if doc.Shape != twiml.ShapeSpeakAndHangup || !strings.Contains(doc.Body, "time limit") {
			t.Errorf("utterance %q: doc = %s", utterance, doc.Body)
		}
		if h.turns.calls() != 0 {
			t.Error("model consulted past the time limit")
		}

		h.effects.Wait()
		lines, _ := h.store.FetchTranscript(context.Background(), "call-CA1")
		var last calls.TranscriptLine
		for _, l := range lines {
			if l.Sequence > last.Sequence {
				last = l
			}
		}
		if last.Text != MsgTimeLimit {
			t.Errorf("closing line = %q", last.Text)
		}
	}
}

func TestTurnTimeoutKeepsCallAlive(t *testing.T) {
	h := newHarness(t, Config{})
	h.say("CA1", "")
	h.turns.err = agent.ErrTurnTimeout

	doc := h.say("CA1", "I need an appointment")
	if doc.Shape != twiml.ShapeListen || !strings.Contains(doc.Body, "taking longer than expected") {
		t.Errorf("doc = %s", doc.Body)
	}
	if h.state(t, "CA1").Step != callstate.StepIdentifyIntent {
		t.Error("step should not change on timeout")
	}
}

func TestTurnErrorKeepsCallAlive(t *testing.T) {
	h := newHarness(t, Config{})
	h.say("CA1", "")
	h.turns.err = errors.New("upstream 500")

	doc := h.say("CA1", "I need an appointment")
	if doc.Shape != twiml.ShapeListen || !strings.Contains(doc.Body, "technical difficulties") {
		t.Errorf("doc = %s", doc.Body)
	}
	snap := h.state(t, "CA1")
	if snap.Step != callstate.StepIdentifyIntent || snap.Turns != 1 {
		t.Errorf("state changed on error: %+v", snap)
	}

	// A retry after the failure reaches the model instead of a cache.
	h.turns.err = nil
	h.say("CA1", "I need an appointment")
	if h.turns.calls() != 2 {
		t.Errorf("turn service called %d times, want 2", h.turns.calls())
	}
}

func TestActionsArePersisted(t *testing.T) {
	h := newHarness(t, Config{})
	h.say("CA1", "")
	h.turns.results = []*agent.TurnResult{{
		Reply:       "You're booked, and I'll pass on your message.",
		Appointment: &agent.AppointmentRequest{CustomerName: "Dana", Service: "cleaning", RequestedTime: "Tue 3pm"},
		Request:     &agent.CustomerRequest{Kind: agent.RequestCallback, CustomerName: "Dana", Message: "billing"},
	}}
	h.say("CA1", "Book me and have billing call me")
	h.effects.Wait()

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.appointments) != 1 || h.store.appointments[0].CustomerPhone != callerNumber {
		t.Errorf("appointments = %+v", h.store.appointments)
	}
	if len(h.store.requests) != 1 || h.store.requests[0].Kind != calls.RequestCallback {
		t.Errorf("requests = %+v", h.store.requests)
	}
	seqs := map[int]string{}
	for _, l := range h.store.lines["call-CA1"] {
		seqs[l.Sequence] = l.Role
	}
	if seqs[1] != calls.RoleAssistant || seqs[2] != calls.RoleCaller || seqs[3] != calls.RoleAssistant {
		t.Errorf("sequences = %v", seqs)
	}
}

func TestPersistenceFailureNeverReachesCaller(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.err = errors.New("disk full")

	if doc := h.say("CA1", ""); doc.Shape != twiml.ShapeListen {
		t.Errorf("greeting shape = %s", doc.Shape)
	}
	h.turns.results = []*agent.TurnResult{{Reply: "Sure thing."}}
	if doc := h.say("CA1", "hello"); !strings.Contains(doc.Body, "Sure thing.") {
		t.Errorf("doc = %s", doc.Body)
	}
	h.orch.HandleStatus(context.Background(), StatusRequest{CallSid: "CA1", Status: calls.StatusCompleted, Duration: 30})
}

func TestPersistenceDisabled(t *testing.T) {
	turns := &fakeTurns{results: []*agent.TurnResult{{Reply: "Hello!"}}}
	orch := NewOrchestrator(Deps{
		Turns:  turns,
		TwiML:  twiml.Builder{ActionURL: "https://example.test/voice/incoming"},
		Logger: zaptest.NewLogger(t),
	}, Config{})

	orch.HandleTurn(context.Background(), TurnRequest{CallSid: "CA1"})
	doc := orch.HandleTurn(context.Background(), TurnRequest{CallSid: "CA1", Utterance: "hi"})
	if !strings.Contains(doc.Body, "Hello!") {
		t.Errorf("doc = %s", doc.Body)
	}
	orch.HandleStatus(context.Background(), StatusRequest{CallSid: "CA1", Status: calls.StatusCompleted})
	if orch.states.Len() != 0 {
		t.Error("state not evicted")
	}
}

func TestStatusCompletesSummarizesAndEvicts(t *testing.T) {
	h := newHarness(t, Config{})
	h.turns.summary = &agent.Summary{Summary: "Dana booked a cleaning.", Sentiment: agent.SentimentPositive}
	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	h.say("CA1", "")
	h.say("CA1", "I'd like a cleaning")
	h.effects.Wait()

	h.orch.HandleStatus(context.Background(), StatusRequest{CallSid: "CA1", Status: calls.StatusCompleted, Duration: 42})
	h.effects.Wait()

	h.store.mu.Lock()
	c := h.store.calls["call-CA1"]
	sum := h.store.summaries["call-CA1"]
	h.store.mu.Unlock()

	if c.Status != calls.StatusCompleted || c.DurationSeconds != 42 {
		t.Errorf("call = %+v", c)
	}
	if sum.Summary != "Dana booked a cleaning." || sum.Sentiment != agent.SentimentPositive {
		t.Errorf("summary = %+v", sum)
	}
	if _, ok := h.orch.states.Get("CA1"); ok {
		t.Error("state not evicted")
	}
	if len(h.failures()) != 0 {
		t.Errorf("failures = %+v", h.failures())
	}

	var sawEnded bool
	for len(events) > 0 {
		if ev := <-events; ev.Kind == monitor.KindEnded && ev.Status == calls.StatusCompleted {
			sawEnded = true
		}
	}
	if !sawEnded {
		t.Error("no ended event published")
	}
}

func TestStatusFailedSkipsSummary(t *testing.T) {
	h := newHarness(t, Config{})
	h.say("CA1", "")
	h.say("CA1", "hello")
	h.effects.Wait()

	h.orch.HandleStatus(context.Background(), StatusRequest{CallSid: "CA1", Status: calls.StatusNoAnswer})
	h.effects.Wait()

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if _, ok := h.store.summaries["call-CA1"]; ok {
		t.Error("summary generated for a non-completed call")
	}
	if h.store.calls["call-CA1"].Status != calls.StatusNoAnswer {
		t.Errorf("status = %s", h.store.calls["call-CA1"].Status)
	}
}

func TestSummaryIncludesFinalTranscriptLines(t *testing.T) {
	h := newHarness(t, Config{})
	h.say("CA1", "")
	h.effects.Wait()

	gate := make(chan struct{})
	release := sync.OnceFunc(func() { close(gate) })
	t.Cleanup(release)
	h.store.mu.Lock()
	h.store.appendGate = gate
	h.store.mu.Unlock()

	h.say("CA1", "Can I book for Friday?")
	h.orch.HandleStatus(context.Background(), StatusRequest{CallSid: "CA1", Status: calls.StatusCompleted, Duration: 30})

	time.Sleep(50 * time.Millisecond)
	h.turns.mu.Lock()
	early := h.turns.seen
	h.turns.mu.Unlock()
	if early != nil {
		t.Fatalf("summary ran before the transcript was written: %+v", early)
	}

	release()
	h.effects.Wait()

	h.turns.mu.Lock()
	seen := h.turns.seen
	h.turns.mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("summarized %d lines, want 3: %+v", len(seen), seen)
	}
	if seen[1].Text != "Can I book for Friday?" {
		t.Errorf("caller line = %+v", seen[1])
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if _, ok := h.store.summaries["call-CA1"]; !ok {
		t.Error("summary not stored")
	}
}

func TestStatusWithoutLiveStateCompletesRow(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.CreateCall(context.Background(), calls.Call{CallSid: "CA-restart"})

	h.orch.HandleStatus(context.Background(), StatusRequest{CallSid: "CA-restart", Status: calls.StatusCompleted, Duration: 95})
	h.effects.Wait()

	h.store.mu.Lock()
	c := h.store.calls["call-CA-restart"]
	h.store.mu.Unlock()
	if c.Status != calls.StatusCompleted || c.DurationSeconds != 95 {
		t.Errorf("call = %+v", c)
	}
	if len(h.failures()) != 0 {
		t.Errorf("failures = %+v", h.failures())
	}
}

func TestStatusWithoutLiveStateOrRowIsQuiet(t *testing.T) {
	h := newHarness(t, Config{})
	h.orch.HandleStatus(context.Background(), StatusRequest{CallSid: "CA-unknown", Status: calls.StatusBusy})
	h.effects.Wait()
	if len(h.failures()) != 0 {
		t.Errorf("failures = %+v", h.failures())
	}
}

func TestSummaryBackfillDrainsSilentCalls(t *testing.T) {
	ctx := context.Background()
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	store := calls.NewSQLiteStore(d)
	t.Cleanup(func() { store.Close() })
	turns := &fakeTurns{}

	silent, err := store.CreateCall(ctx, calls.Call{CallSid: "CA-empty", CallerNumber: callerNumber})
	if err != nil {
		t.Fatal(err)
	}
	spoken, err := store.CreateCall(ctx, calls.Call{CallSid: "CA-spoken", CallerNumber: callerNumber})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AppendTranscriptLine(ctx, calls.TranscriptLine{CallID: spoken.ID, Sequence: 1, Role: calls.RoleCaller, Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*calls.Call{silent, spoken} {
		if err := store.CompleteCall(ctx, c.ID, calls.StatusCompleted, 10); err != nil {
			t.Fatal(err)
		}
	}

	var summarized []string
	for run := 0; run < 3; run++ {
		pending, err := store.ListCallsWithoutSummary(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) == 0 {
			break
		}
		if err := SummarizeCall(ctx, store, turns, pending[0].ID); err != nil {
			t.Fatal(err)
		}
		summarized = append(summarized, pending[0].CallSid)
	}
	if len(summarized) != 1 || summarized[0] != "CA-spoken" {
		t.Errorf("summarized = %v, want [CA-spoken]", summarized)
	}
}

func TestNonTerminalStatusIsIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	h.say("CA1", "")
	h.orch.HandleStatus(context.Background(), StatusRequest{CallSid: "CA1", Status: "ringing"})
	if _, ok := h.orch.states.Get("CA1"); !ok {
		t.Error("state evicted on non-terminal status")
	}
}

func TestConcurrentTurnsForOneCallAreSerialized(t *testing.T) {
	h := newHarness(t, Config{})
	h.say("CA1", "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.say("CA1", fmt.Sprintf("question %d", i))
		}(i)
	}
	wg.Wait()

	if got := h.state(t, "CA1").Turns; got != 1+2*20 {
		t.Errorf("history turns = %d, want %d", got, 1+2*20)
	}
}
