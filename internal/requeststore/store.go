// Package requeststore keeps the in-memory registry of all in-flight and
// completed AI requests. It is the single owner of request lifecycle state
// and of the cancellation tokens behind every in-flight transport call.
package requeststore

import (
	"context"
	"sync"
	"time"

	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/events"

	"go.uber.org/zap"
)

type tracked struct {
	state  domain.RequestState
	cancel context.CancelFunc
}

// Store is a thread-safe request registry. All state transitions go through
// its methods; callers only ever see copies.
type Store struct {
	mu         sync.Mutex
	requests   map[string]*tracked
	maxRetries int
	bus        *events.Bus
	logger     *zap.Logger
	gen        uint64
}

// NewStore creates an empty request store.
func NewStore(maxRetries int, bus *events.Bus, logger *zap.Logger) *Store {
	return &Store{
		requests:   make(map[string]*tracked),
		maxRetries: maxRetries,
		bus:        bus,
		logger:     logger,
	}
}

// Start creates or resets the state for id to loading and registers a fresh
// cancellation token derived from parent. Re-entry while already loading is
// idempotent: the in-flight state is returned with a nil context so the
// caller knows not to start a second execution.
func (s *Store) Start(parent context.Context, id string, metadata map[string]any) (domain.RequestState, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.requests[id]; ok && t.state.Status == domain.StatusLoading {
		return t.state, nil // caller already holds the live context
	}

	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	s.gen++

	// A fresh start resets the retry counter; only Retry preserves it.
	t := &tracked{
		state: domain.RequestState{
			ID:         id,
			Status:     domain.StatusLoading,
			StartedAt:  &now,
			Metadata:   metadata,
			Generation: s.gen,
		},
		cancel: cancel,
	}
	s.requests[id] = t

	s.bus.Publish(domain.TopicRequestStarted, domain.RequestEvent{
		RequestID: id,
		Status:    domain.StatusLoading,
	})
	return t.state, ctx
}

// SetSuccess transitions id to success. No-op for unknown requests and for
// completions stamped with a superseded generation (a newer Start replaced
// them while the old call was still in flight).
func (s *Store) SetSuccess(id string, gen uint64, data *domain.AgentAnswer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.requests[id]
	if !ok || t.state.Generation != gen || t.state.Status != domain.StatusLoading {
		return
	}

	now := time.Now()
	t.state.Status = domain.StatusSuccess
	t.state.Data = data
	t.state.Error = nil
	t.state.CompletedAt = &now
	s.release(t)

	s.bus.Publish(domain.TopicRequestSucceeded, domain.RequestEvent{
		RequestID: id,
		Status:    domain.StatusSuccess,
		Retries:   t.state.RetryCount,
	})
}

// SetError transitions id to error. Same defensive semantics as SetSuccess.
func (s *Store) SetError(id string, gen uint64, rErr *domain.RequestError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.requests[id]
	if !ok || t.state.Generation != gen || t.state.Status != domain.StatusLoading {
		return
	}

	now := time.Now()
	t.state.Status = domain.StatusError
	t.state.Error = rErr
	t.state.CompletedAt = &now
	s.release(t)

	s.bus.Publish(domain.TopicRequestFailed, domain.RequestEvent{
		RequestID: id,
		Status:    domain.StatusError,
		Error:     rErr,
		Retries:   t.state.RetryCount,
	})
}

// Retry transitions an errored, retryable request back to loading and
// increments its retry counter. Returns a fresh request context and true,
// or nil and false when the request must not be retried (unknown, not in
// error state, non-retryable error, or retry budget exhausted).
func (s *Store) Retry(parent context.Context, id string) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.requests[id]
	if !ok || t.state.Status != domain.StatusError {
		return nil, false
	}
	if t.state.Error == nil || !t.state.Error.Retryable {
		return nil, false
	}
	if t.state.RetryCount >= s.maxRetries {
		return nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	s.gen++

	t.state.Status = domain.StatusLoading
	t.state.Error = nil
	t.state.CompletedAt = nil
	t.state.StartedAt = &now
	t.state.RetryCount++
	t.state.Generation = s.gen
	t.cancel = cancel

	s.bus.Publish(domain.TopicRequestStarted, domain.RequestEvent{
		RequestID: id,
		Status:    domain.StatusLoading,
		Retries:   t.state.RetryCount,
	})
	return ctx, true
}

// RecordRetries adds transport-level attempts to the request's retry
// counter and mirrors the total into metadata for the caller. The counter
// only ever grows until the next Start resets the state.
func (s *Store) RecordRetries(id string, gen uint64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.requests[id]
	if !ok || t.state.Generation != gen || n <= 0 {
		return
	}

	t.state.RetryCount += n
	if t.state.Metadata == nil {
		t.state.Metadata = map[string]any{}
	}
	t.state.Metadata["retryCount"] = t.state.RetryCount
}

// Cancel aborts a loading request: the transport token is cancelled and the
// state becomes a terminal, non-retryable CANCELLED error. Cancelling a
// non-loading request is a no-op; cancelling twice is safe.
func (s *Store) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id)
}

// CancelAll cancels every loading request. Used on shutdown/navigation.
func (s *Store) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.requests {
		if t.state.Status == domain.StatusLoading {
			s.cancelLocked(id)
		}
	}
}

func (s *Store) cancelLocked(id string) {
	t, ok := s.requests[id]
	if !ok || t.state.Status != domain.StatusLoading {
		return
	}

	now := time.Now()
	t.state.Status = domain.StatusError
	t.state.Error = domain.NewRequestError(domain.ErrCodeCancelled, "cancelled by caller", false)
	t.state.CompletedAt = &now
	s.release(t)

	s.bus.Publish(domain.TopicRequestCancelled, domain.RequestEvent{
		RequestID: id,
		Status:    domain.StatusError,
		Error:     t.state.Error,
	})
}

// release cancels and drops the token once a request is terminal.
func (s *Store) release(t *tracked) {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Get returns a copy of the state for id.
func (s *Store) Get(id string) (domain.RequestState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.requests[id]
	if !ok {
		return domain.RequestState{}, false
	}
	return t.state, true
}

// Remove drops a terminal request from the registry. Loading requests are
// kept; cancel them first.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.requests[id]; ok && t.state.Status != domain.StatusLoading {
		delete(s.requests, id)
	}
}

// IsAnyLoading reports whether any tracked request is in flight.
// Derived on every call; nothing is cached.
func (s *Store) IsAnyLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.requests {
		if t.state.Status == domain.StatusLoading {
			return true
		}
	}
	return false
}

// ActiveCount counts requests currently loading.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.requests {
		if t.state.Status == domain.StatusLoading {
			n++
		}
	}
	return n
}

// AllErrors collects the errors of all requests in error state.
func (s *Store) AllErrors() []*domain.RequestError {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []*domain.RequestError
	for _, t := range s.requests {
		if t.state.Status == domain.StatusError && t.state.Error != nil {
			errs = append(errs, t.state.Error)
		}
	}
	return errs
}

// Summary computes the aggregate view over the whole registry.
func (s *Store) Summary() domain.RequestSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := domain.RequestSummary{TotalTracked: len(s.requests)}
	for _, t := range s.requests {
		switch t.state.Status {
		case domain.StatusLoading:
			sum.ActiveCount++
			sum.AnyLoading = true
		case domain.StatusError:
			if t.state.Error != nil {
				sum.Errors = append(sum.Errors, t.state.Error)
			}
		}
	}
	return sum
}
