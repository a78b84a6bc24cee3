// Package queue is the offline-resilient request pipeline: a persisted list of
// pending HTTP calls, the retry policy applied to them and the manager that
// flushes them.
package queue

import (
	"net/http"
	"strings"
)

// QueuedRequest is one pending HTTP call. It is mutated in place on every
// flush attempt and removed once sent or given up on.
type QueuedRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    *string           `json:"body"`

	RetryCount  int   `json:"retryCount"`
	LastAttempt int64 `json:"lastAttempt"` // epoch millis
	AuthRetried bool  `json:"authRetried"`
}

// NewJSONRequest builds a POST carrying a JSON body. token, when non-empty,
// is sent as the Authorization header and refreshed at send time.
func NewJSONRequest(url, token string, body []byte) QueuedRequest {
	h := map[string]string{"Content-Type": "application/json"}
	if token != "" {
		h["Authorization"] = token
	}
	var b *string
	if body != nil {
		s := string(body)
		b = &s
	}
	return QueuedRequest{URL: url, Method: http.MethodPost, Headers: h, Body: b}
}

// withToken returns a copy of headers whose Authorization value carries tok.
// A "Bearer " prefix on the original value is kept; a missing header is added.
func withToken(headers map[string]string, tok string) map[string]string {
	if tok == "" {
		return headers
	}
	out := make(map[string]string, len(headers)+1)
	found := false
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			found = true
			if strings.HasPrefix(v, "Bearer ") {
				v = "Bearer " + tok
			} else {
				v = tok
			}
		}
		out[k] = v
	}
	if !found {
		out["Authorization"] = tok
	}
	return out
}
