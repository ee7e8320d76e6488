package domain

import "time"

// RequestStatus is the lifecycle state of a single AI request.
type RequestStatus string

const (
	StatusIdle    RequestStatus = "idle"
	StatusLoading RequestStatus = "loading"
	StatusSuccess RequestStatus = "success"
	StatusError   RequestStatus = "error"
)

// Terminal reports whether the status is a final state.
func (s RequestStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// RequestState tracks one request through its lifecycle. Owned exclusively
// by the request store; callers receive copies and mutate nothing directly.
//
// Invariants: CompletedAt is set iff Status is terminal; RetryCount is
// monotonically non-decreasing until the state is reset by a new start.
type RequestState struct {
	ID          string         `json:"id"`
	Status      RequestStatus  `json:"status"`
	Data        *AgentAnswer   `json:"data,omitempty"`
	Error       *RequestError  `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RetryCount  int            `json:"retry_count"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Generation increments on every start; terminal transitions carry the
	// generation they were started under so stale completions can be dropped.
	Generation uint64 `json:"-"`
}

// ChatRequest is what a UI client sends to execute an assistant call.
type ChatRequest struct {
	Query     string `json:"query"`
	Feature   string `json:"feature,omitempty"`    // e.g. "exam_helper", "live_class_chat"
	RequestID string `json:"request_id,omitempty"` // optional; generated when empty
	CacheKey  string `json:"cache_key,omitempty"`  // opt-in response caching
}

// AgentAnswer is the normalized successful payload from the AI backend.
type AgentAnswer struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources,omitempty"`
	TokensUsed int      `json:"tokens_used"`
	Model      string   `json:"model,omitempty"`
	FromMock   bool     `json:"from_mock,omitempty"`
	FromCache  bool     `json:"from_cache,omitempty"`
}

// AgentRequest is the payload sent to the AI backend (POST /v1/chat).
type AgentRequest struct {
	Query   string `json:"query"`
	UserID  string `json:"user_id,omitempty"`
	Feature string `json:"feature,omitempty"`
	Stream  bool   `json:"stream,omitempty"`
}

// Envelope is the wire contract shared by the backend and by our own API:
// {"success":true,"data":...} or {"success":false,"error":{...}}.
type Envelope struct {
	Success  bool           `json:"success"`
	Data     *AgentAnswer   `json:"data,omitempty"`
	Error    *RequestError  `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RequestSummary is the aggregate view over all tracked requests.
type RequestSummary struct {
	ActiveCount  int             `json:"active_count"`
	AnyLoading   bool            `json:"any_loading"`
	Errors       []*RequestError `json:"errors,omitempty"`
	TotalTracked int             `json:"total_tracked"`
}
