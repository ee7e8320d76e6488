package transport

import (
	"net/http"

	"github.com/classpilot/aihub-go/internal/domain"
)

// RequestInterceptor may inspect or rewrite an outgoing request. Returning
// an error aborts the attempt.
type RequestInterceptor func(*http.Request) error

// ResponseInterceptor observes every HTTP response, 2xx or not.
type ResponseInterceptor func(*http.Response)

// ErrorInterceptor may rewrite a normalized error before it leaves the
// client. Returning nil keeps the error unchanged.
type ErrorInterceptor func(*domain.RequestError) *domain.RequestError

// AuthHeaderInterceptor attaches a bearer token to every outgoing request.
func AuthHeaderInterceptor(token func() string) RequestInterceptor {
	return func(req *http.Request) error {
		if t := token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
		return nil
	}
}

// UserAgentInterceptor stamps the client identity on outgoing requests.
func UserAgentInterceptor(ua string) RequestInterceptor {
	return func(req *http.Request) error {
		req.Header.Set("User-Agent", ua)
		return nil
	}
}
