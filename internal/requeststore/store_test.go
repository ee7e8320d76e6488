package requeststore_test

import (
	"context"
	"testing"

	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/events"
	"github.com/classpilot/aihub-go/internal/requeststore"

	"go.uber.org/zap"
)

func newStore(maxRetries int) *requeststore.Store {
	return requeststore.NewStore(maxRetries, events.NewBus(), zap.NewNop())
}

func TestStartAndSetSuccess(t *testing.T) {
	s := newStore(3)

	state, ctx := s.Start(context.Background(), "req-1", map[string]any{"query": "hi"})
	if ctx == nil {
		t.Fatal("expected a live context for a fresh start")
	}
	if state.Status != domain.StatusLoading {
		t.Fatalf("expected loading, got %s", state.Status)
	}
	if state.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	s.SetSuccess("req-1", state.Generation, &domain.AgentAnswer{Answer: "hello"})

	got, ok := s.Get("req-1")
	if !ok {
		t.Fatal("expected request to be tracked")
	}
	if got.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %s", got.Status)
	}
	if got.Data == nil || got.Data.Answer != "hello" {
		t.Error("expected answer data to be stored")
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt on terminal state")
	}
}

func TestStartWhileLoadingReturnsNilContext(t *testing.T) {
	s := newStore(3)

	_, first := s.Start(context.Background(), "req-1", nil)
	if first == nil {
		t.Fatal("expected a context on first start")
	}

	state, second := s.Start(context.Background(), "req-1", nil)
	if second != nil {
		t.Error("expected nil context while already loading")
	}
	if state.Status != domain.StatusLoading {
		t.Errorf("expected loading state, got %s", state.Status)
	}
}

func TestCancelTransitionsToNonRetryableError(t *testing.T) {
	s := newStore(3)

	_, ctx := s.Start(context.Background(), "req-1", nil)
	s.Cancel("req-1")

	select {
	case <-ctx.Done():
	default:
		t.Error("expected the request context to be cancelled")
	}

	got, _ := s.Get("req-1")
	if got.Status != domain.StatusError {
		t.Fatalf("expected error state, got %s", got.Status)
	}
	if got.Error.Code != domain.ErrCodeCancelled {
		t.Errorf("expected CANCELLED, got %s", got.Error.Code)
	}
	if got.Error.Retryable {
		t.Error("a cancelled request must not be retryable")
	}
}

func TestRetryAfterCancelFails(t *testing.T) {
	s := newStore(3)

	s.Start(context.Background(), "req-1", nil)
	s.Cancel("req-1")

	if _, ok := s.Retry(context.Background(), "req-1"); ok {
		t.Fatal("retry must be refused after cancellation")
	}
}

func TestCancelTwiceIsSafe(t *testing.T) {
	s := newStore(3)

	s.Start(context.Background(), "req-1", nil)
	s.Cancel("req-1")
	s.Cancel("req-1")

	got, _ := s.Get("req-1")
	if got.Error.Code != domain.ErrCodeCancelled {
		t.Errorf("expected CANCELLED to survive a second cancel, got %s", got.Error.Code)
	}
}

func TestCompletionAfterCancelIsDropped(t *testing.T) {
	s := newStore(3)

	state, _ := s.Start(context.Background(), "req-1", nil)
	s.Cancel("req-1")

	// A transport call aborted by the cancel may still try to complete.
	s.SetError("req-1", state.Generation, domain.NewRequestError(domain.ErrCodeNetwork, "conn reset", true))

	got, _ := s.Get("req-1")
	if got.Error.Code != domain.ErrCodeCancelled {
		t.Errorf("late completion overwrote the cancel: got %s", got.Error.Code)
	}
}

func TestStaleGenerationCompletionIsDropped(t *testing.T) {
	s := newStore(3)

	old, _ := s.Start(context.Background(), "req-1", nil)
	s.SetError("req-1", old.Generation, domain.NewRequestError(domain.ErrCodeTimeout, "timed out", true))

	// New start supersedes the old generation.
	fresh, _ := s.Start(context.Background(), "req-1", nil)
	s.SetSuccess("req-1", old.Generation, &domain.AgentAnswer{Answer: "stale"})

	got, _ := s.Get("req-1")
	if got.Status != domain.StatusLoading {
		t.Fatalf("stale completion must not transition the new request, got %s", got.Status)
	}

	s.SetSuccess("req-1", fresh.Generation, &domain.AgentAnswer{Answer: "current"})
	got, _ = s.Get("req-1")
	if got.Data == nil || got.Data.Answer != "current" {
		t.Error("expected the current generation's answer")
	}
}

func TestRetryIncrementsCounterAndExhaustsBudget(t *testing.T) {
	s := newStore(2)

	fail := func(gen uint64) {
		s.SetError("req-1", gen, domain.NewRequestError(domain.ErrCodeTimeout, "timed out", true))
	}

	state, _ := s.Start(context.Background(), "req-1", nil)
	fail(state.Generation)

	for want := 1; want <= 2; want++ {
		ctx, ok := s.Retry(context.Background(), "req-1")
		if !ok {
			t.Fatalf("retry %d should be allowed", want)
		}
		if ctx == nil {
			t.Fatalf("retry %d should return a live context", want)
		}
		got, _ := s.Get("req-1")
		if got.RetryCount != want {
			t.Fatalf("expected retryCount %d, got %d", want, got.RetryCount)
		}
		fail(got.Generation)
	}

	if _, ok := s.Retry(context.Background(), "req-1"); ok {
		t.Error("retry budget exhausted; third retry must be refused")
	}
}

func TestRetryRequiresRetryableError(t *testing.T) {
	s := newStore(3)

	state, _ := s.Start(context.Background(), "req-1", nil)
	s.SetError("req-1", state.Generation, domain.NewRequestError(domain.ErrCodeUnknown, "boom", false))

	if _, ok := s.Retry(context.Background(), "req-1"); ok {
		t.Error("non-retryable errors must refuse retry")
	}
}

func TestRecordRetriesMirrorsIntoMetadata(t *testing.T) {
	s := newStore(3)

	state, _ := s.Start(context.Background(), "req-1", nil)
	s.RecordRetries("req-1", state.Generation, 2)

	got, _ := s.Get("req-1")
	if got.RetryCount != 2 {
		t.Fatalf("expected retryCount 2, got %d", got.RetryCount)
	}
	if v, _ := got.Metadata["retryCount"].(int); v != 2 {
		t.Errorf("expected metadata retryCount 2, got %v", got.Metadata["retryCount"])
	}
}

func TestSummaryIsDerived(t *testing.T) {
	s := newStore(3)

	s.Start(context.Background(), "a", nil)
	b, _ := s.Start(context.Background(), "b", nil)
	s.SetError("b", b.Generation, domain.NewRequestError(domain.ErrCodeNetwork, "down", true))
	c, _ := s.Start(context.Background(), "c", nil)
	s.SetSuccess("c", c.Generation, &domain.AgentAnswer{Answer: "done"})

	sum := s.Summary()
	if sum.TotalTracked != 3 {
		t.Errorf("expected 3 tracked, got %d", sum.TotalTracked)
	}
	if sum.ActiveCount != 1 || !sum.AnyLoading {
		t.Errorf("expected one active loading request, got %+v", sum)
	}
	if len(sum.Errors) != 1 {
		t.Errorf("expected one error, got %d", len(sum.Errors))
	}

	if !s.IsAnyLoading() {
		t.Error("expected IsAnyLoading true")
	}
	if s.ActiveCount() != 1 {
		t.Errorf("expected active count 1, got %d", s.ActiveCount())
	}
}

func TestCancelAll(t *testing.T) {
	s := newStore(3)

	s.Start(context.Background(), "a", nil)
	s.Start(context.Background(), "b", nil)
	c, _ := s.Start(context.Background(), "c", nil)
	s.SetSuccess("c", c.Generation, &domain.AgentAnswer{Answer: "kept"})

	s.CancelAll()

	if s.IsAnyLoading() {
		t.Error("expected no loading requests after CancelAll")
	}
	got, _ := s.Get("c")
	if got.Status != domain.StatusSuccess {
		t.Error("CancelAll must not touch terminal requests")
	}
}

func TestRemoveKeepsLoadingRequests(t *testing.T) {
	s := newStore(3)

	s.Start(context.Background(), "a", nil)
	s.Remove("a")
	if _, ok := s.Get("a"); !ok {
		t.Error("loading requests must survive Remove")
	}

	s.Cancel("a")
	s.Remove("a")
	if _, ok := s.Get("a"); ok {
		t.Error("terminal requests should be removable")
	}
}
