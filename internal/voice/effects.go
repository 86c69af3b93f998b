package voice

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Outcome is the result of one best-effort operation.
type Outcome struct {
	Op       string
	CallSid  string
	Err      error
	Duration time.Duration
}

// Effects runs operations that may fail without affecting the caller:
// persistence writes and post-call summaries. Failures are logged at error
// level and never returned.
type Effects struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[string]map[uint64]chan struct{}

	// OnOutcome, if set before the first Go call, observes every outcome.
	OnOutcome func(Outcome)
}

// NewEffects creates a dispatcher whose operations each get timeout to finish.
func NewEffects(timeout time.Duration, logger *zap.Logger) *Effects {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Effects{
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]map[uint64]chan struct{}),
	}
}

// Go runs fn on its own goroutine with a fresh context detached from the
// request that triggered it.
func (e *Effects) Go(op, callSid string, fn func(ctx context.Context) error) {
	e.run(op, callSid, nil, fn)
}

// After is Go, except fn starts only once every operation already dispatched
// for callSid has finished. Operations dispatched later are not waited for.
func (e *Effects) After(op, callSid string, fn func(ctx context.Context) error) {
	e.mu.Lock()
	deps := make([]chan struct{}, 0, len(e.pending[callSid]))
	for _, done := range e.pending[callSid] {
		deps = append(deps, done)
	}
	e.mu.Unlock()
	e.run(op, callSid, deps, fn)
}

// track registers an in-flight operation for callSid and returns the
// function that marks it finished.
func (e *Effects) track(callSid string) func() {
	done := make(chan struct{})
	e.mu.Lock()
	e.seq++
	id := e.seq
	ops := e.pending[callSid]
	if ops == nil {
		ops = make(map[uint64]chan struct{})
		e.pending[callSid] = ops
	}
	ops[id] = done
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(ops, id)
		if len(e.pending[callSid]) == 0 {
			delete(e.pending, callSid)
		}
		e.mu.Unlock()
		close(done)
	}
}

func (e *Effects) run(op, callSid string, deps []chan struct{}, fn func(ctx context.Context) error) {
	finish := e.track(callSid)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer finish()

		// Dependencies are bounded by their own timeouts.
		for _, d := range deps {
			<-d
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		start := time.Now()
		err := fn(ctx)
		out := Outcome{Op: op, CallSid: callSid, Err: err, Duration: time.Since(start)}

		if err != nil {
			e.logger.Error("best-effort operation failed",
				zap.String("op", op),
				zap.String("call_sid", callSid),
				zap.Duration("duration", out.Duration),
				zap.Error(err))
		} else {
			e.logger.Debug("best-effort operation done",
				zap.String("op", op),
				zap.String("call_sid", callSid),
				zap.Duration("duration", out.Duration))
		}
		if e.OnOutcome != nil {
			e.OnOutcome(out)
		}
	}()
}

// Wait blocks until every dispatched operation has finished.
func (e *Effects) Wait() {
	e.wg.Wait()
}
