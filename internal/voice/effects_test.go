package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestEffectsReportOutcomes(t *testing.T) {
	e := NewEffects(time.Second, zaptest.NewLogger(t))
	var mu sync.Mutex
	got := map[string]error{}
	e.OnOutcome = func(o Outcome) {
		mu.Lock()
		got[o.Op] = o.Err
		mu.Unlock()
	}

	e.Go("ok", "CA1", func(context.Context) error { return nil })
	e.Go("fails", "CA1", func(context.Context) error { return errors.New("disk full") })
	e.Wait()

	if len(got) != 2 {
		t.Fatalf("outcomes = %v", got)
	}
	if got["ok"] != nil || got["fails"] == nil {
		t.Errorf("outcomes = %v", got)
	}
}

func TestEffectsApplyTimeout(t *testing.T) {
	e := NewEffects(20*time.Millisecond, zaptest.NewLogger(t))
	var err error
	e.OnOutcome = func(o Outcome) { err = o.Err }

	e.Go("slow", "CA1", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	e.Wait()

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestEffectsAfterWaitsForEarlierOperations(t *testing.T) {
	e := NewEffects(time.Second, zaptest.NewLogger(t))
	release := make(chan struct{})
	var mu sync.Mutex
	var order []string
	record := func(op string) {
		mu.Lock()
		order = append(order, op)
		mu.Unlock()
	}

	e.Go("append_transcript", "CA1", func(context.Context) error {
		<-release
		record("append_transcript")
		return nil
	})
	// Another call's work is not a dependency.
	e.Go("other_call", "CA2", func(context.Context) error {
		<-release
		return nil
	})
	ran := make(chan struct{})
	e.After("summarize", "CA1", func(context.Context) error {
		record("summarize")
		close(ran)
		return nil
	})

	select {
	case <-ran:
		t.Fatal("summarize ran before the pending transcript write finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	e.Wait()

	if len(order) != 2 || order[0] != "append_transcript" || order[1] != "summarize" {
		t.Errorf("order = %v", order)
	}
}

func TestEffectsAfterWithNothingPending(t *testing.T) {
	e := NewEffects(time.Second, zaptest.NewLogger(t))
	done := make(chan struct{})
	e.After("summarize", "CA9", func(context.Context) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("After with no pending operations did not run")
	}
	e.Wait()
}
