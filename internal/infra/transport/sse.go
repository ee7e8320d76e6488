package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/classpilot/aihub-go/internal/domain"
)

// DoneMarker terminates an event stream: "data: [DONE]".
const DoneMarker = "[DONE]"

// sseChunk is the JSON body the backend puts on each data line. Plain-text
// lines are passed through as-is.
type sseChunk struct {
	Content string `json:"content"`
	Tokens  int    `json:"tokens,omitempty"`
}

// ReadEventStream consumes a text/event-stream body line by line, invoking
// onChunk for every data payload until the [DONE] marker, EOF, or context
// cancellation. An onChunk error stops consumption and is returned.
func ReadEventStream(ctx context.Context, body io.Reader, onChunk func(text string, tokens int) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			if err == context.Canceled {
				return domain.NewRequestError(domain.ErrCodeCancelled, "stream cancelled by caller", false)
			}
			return domain.NewRequestError(domain.ErrCodeTimeout, "stream deadline exceeded", true)
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue // keep-alive comment or event separator
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue // ignore event:/id:/retry: fields
		}
		data = strings.TrimSpace(data)

		if data == DoneMarker {
			return nil
		}

		text, tokens := parseDataPayload(data)
		if err := onChunk(text, tokens); err != nil {
			// A consumer aborting on its context must come out as
			// CANCELLED, never as a raw context error.
			if errors.Is(err, context.Canceled) {
				return domain.NewRequestError(domain.ErrCodeCancelled, "stream cancelled by caller", false)
			}
			return err
		}
	}

	// A cancel while blocked in Scan aborts the body read; classify by the
	// context before blaming the stream.
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return domain.NewRequestError(domain.ErrCodeCancelled, "stream cancelled by caller", false)
		}
		return domain.NewRequestError(domain.ErrCodeTimeout, "stream deadline exceeded", true)
	}
	if err := scanner.Err(); err != nil {
		return domain.NewRequestError(domain.ErrCodeStream, "event stream read: "+err.Error(), true)
	}
	// EOF without [DONE]: the backend hung up early.
	return domain.NewRequestError(domain.ErrCodeStream, "event stream ended without DONE marker", true)
}

// parseDataPayload decodes a data line. JSON objects carry {"content",...};
// anything else is treated as raw text with a one-token estimate.
func parseDataPayload(data string) (text string, tokens int) {
	if strings.HasPrefix(data, "{") {
		var chunk sseChunk
		if err := json.Unmarshal([]byte(data), &chunk); err == nil {
			if chunk.Tokens > 0 {
				return chunk.Content, chunk.Tokens
			}
			return chunk.Content, 1
		}
	}
	return data, 1
}
