package queue

import (
	"time"

	"engagement-sdk/internal/transport"
)

const (
	MaxRetries  = 3
	baseBackoff = 30 * time.Second
	maxBackoff  = 120 * time.Second
)

// Disposition is what happens to a request after an attempt.
type Disposition string

const (
	Sent               Disposition = "sent"
	Queued             Disposition = "queued" // offline, no attempt made
	RetryAuth          Disposition = "retry_auth"
	RetryBackoff       Disposition = "retry_backoff"
	DroppedClientError Disposition = "dropped_client_error"
	DroppedAuth        Disposition = "dropped_auth"
	DroppedMaxRetries  Disposition = "dropped_max_retries"
)

// Requeue reports whether the request goes back into the queue.
func (d Disposition) Requeue() bool {
	return d == RetryAuth || d == RetryBackoff
}

// BackoffDelay is min(30s * 2^retryCount, 120s).
func BackoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= 3 {
		return maxBackoff
	}
	d := baseBackoff << uint(retryCount)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// ShouldAttempt reports whether r is due: under the retry limit and past its backoff.
func ShouldAttempt(r QueuedRequest, now time.Time) bool {
	elapsed := time.Duration(now.UnixMilli()-r.LastAttempt) * time.Millisecond
	return r.RetryCount < MaxRetries && elapsed >= BackoffDelay(r.RetryCount)
}

// Decide applies the disposition table to an attempt outcome. credentialsValid
// is only consulted for an AuthError on a request that has not been
// auth-retried yet. The returned request carries the updated counters.
func Decide(r QueuedRequest, kind transport.Kind, credentialsValid bool, now time.Time) (QueuedRequest, Disposition) {
	switch kind {
	case transport.Success:
		return r, Sent
	case transport.ClientError:
		return r, DroppedClientError
	case transport.AuthError:
		if r.AuthRetried || !credentialsValid {
			return r, DroppedAuth
		}
		r.AuthRetried = true
		r.LastAttempt = now.UnixMilli()
		return r, RetryAuth
	default: // ServerError, NetworkError
		r.RetryCount++
		r.LastAttempt = now.UnixMilli()
		if r.RetryCount > MaxRetries {
			return r, DroppedMaxRetries
		}
		return r, RetryBackoff
	}
}
