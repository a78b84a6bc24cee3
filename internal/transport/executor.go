// Package transport performs the SDK's HTTP traffic: single classified
// attempts for queued requests and typed calls to the REST API.
package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"

	"engagement-sdk/internal/observability"
)

// Kind classifies one HTTP attempt.
type Kind int

const (
	Success Kind = iota
	ClientError
	AuthError
	ServerError
	NetworkError
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case ClientError:
		return "client_error"
	case AuthError:
		return "auth_error"
	case ServerError:
		return "server_error"
	case NetworkError:
		return "network_error"
	}
	return "unknown"
}

// Outcome is the result of one attempt. StatusCode is 0 for NetworkError.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

// Classify maps an HTTP status code to an outcome kind.
func Classify(code int) Kind {
	switch {
	case code >= 500:
		return ServerError
	case code >= 401 && code <= 403:
		return AuthError
	case code >= 400:
		return ClientError
	default:
		return Success
	}
}

// Executor performs exactly one HTTP attempt per call.
type Executor struct {
	client *http.Client
}

func NewExecutor(client *http.Client) *Executor {
	if client == nil {
		client = &http.Client{Timeout: HTTPRequestTimeout}
	}
	return &Executor{client: client}
}

// Execute never returns an error; transport failures become NetworkError.
func (e *Executor) Execute(ctx context.Context, method, url string, headers map[string]string, body *string) Outcome {
	var (
		status  int
		payload string
	)
	rb := requests.
		URL(url).
		Client(e.client).
		Method(strings.ToUpper(method)).
		AddValidator(func(res *http.Response) error {
			status = res.StatusCode
			return nil
		}).
		ToString(&payload)

	hasContentType := false
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			hasContentType = true
		}
		rb = rb.Header(k, v)
	}
	if body != nil {
		rb = rb.BodyBytes([]byte(*body))
		if !hasContentType {
			rb = rb.ContentType("application/json")
		}
	}

	err := rb.Fetch(ctx)
	var out Outcome
	switch {
	case status == 0:
		out = Outcome{Kind: NetworkError, Err: err}
	default:
		// a body read failure after headers arrived still carries a usable status
		out = Outcome{Kind: Classify(status), StatusCode: status, Body: payload, Err: err}
	}
	observability.HTTPAttempts.WithLabelValues(out.Kind.String()).Inc()
	return out
}
