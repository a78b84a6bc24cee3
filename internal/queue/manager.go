package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"engagement-sdk/internal/observability"
	"engagement-sdk/internal/transport"
)

type Executor interface {
	Execute(ctx context.Context, method, url string, headers map[string]string, body *string) transport.Outcome
}

type Connectivity interface {
	Online(ctx context.Context) bool
}

type TokenSource interface {
	AccessToken() string
}

// Revalidator re-runs account verification and reports whether the stored
// credentials are valid again.
type Revalidator interface {
	Revalidate(ctx context.Context) bool
}

// SubmitResult is the outcome of Submit. Outcome is zero when no attempt was made.
type SubmitResult struct {
	Disposition Disposition
	Outcome     transport.Outcome
}

type FlushReport struct {
	Attempted int `json:"attempted"`
	Skipped   int `json:"skipped"`
	Sent      int `json:"sent"`
	Requeued  int `json:"requeued"`
	Dropped   int `json:"dropped"`
}

// Manager decides between sending and queueing, and flushes the queue.
type Manager struct {
	store  *Store
	exec   Executor
	net    Connectivity
	tokens TokenSource
	reval  Revalidator

	kick func()
	now  func() time.Time

	flushMu sync.Mutex
}

func NewManager(store *Store, exec Executor, net Connectivity, tokens TokenSource, reval Revalidator) *Manager {
	return &Manager{
		store:  store,
		exec:   exec,
		net:    net,
		tokens: tokens,
		reval:  reval,
		kick:   func() {},
		now:    time.Now,
	}
}

// SetFlushTrigger installs the function Submit uses to ask for a background
// flush. It must not block.
func (m *Manager) SetFlushTrigger(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	m.kick = fn
}

// Submit sends r now when the network is reachable, otherwise persists it.
func (m *Manager) Submit(ctx context.Context, r QueuedRequest) SubmitResult {
	if !m.net.Online(ctx) {
		if err := m.store.Append(ctx, r); err != nil {
			log.Error().Err(err).Str("url", r.URL).Msg("queue offline request")
		}
		observability.QueueDispositions.WithLabelValues(string(Queued)).Inc()
		return SubmitResult{Disposition: Queued}
	}

	m.kick()

	next, out, disp := m.attempt(ctx, r)
	observability.QueueDispositions.WithLabelValues(string(disp)).Inc()
	if disp.Requeue() {
		if err := m.store.Append(ctx, next); err != nil {
			log.Error().Err(err).Str("url", r.URL).Msg("requeue request")
		}
	}
	log.Debug().Str("url", r.URL).Str("outcome", out.Kind.String()).Str("disposition", string(disp)).Msg("submit")
	return SubmitResult{Disposition: disp, Outcome: out}
}

// Flush walks the queue in insertion order, attempts every due entry and
// persists the rebuilt list. Concurrent calls are serialized.
func (m *Manager) Flush(ctx context.Context) FlushReport {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	var rep FlushReport
	snapshot := m.store.Load(ctx)
	if len(snapshot) == 0 {
		return rep
	}

	kept := make([]QueuedRequest, 0, len(snapshot))
	for _, r := range snapshot {
		exhausted := r.RetryCount >= MaxRetries
		if ctx.Err() != nil || (!exhausted && !ShouldAttempt(r, m.now())) {
			kept = append(kept, r)
			rep.Skipped++
			continue
		}

		rep.Attempted++
		next, out, disp := m.attempt(ctx, r)
		if exhausted && disp.Requeue() {
			disp = DroppedMaxRetries
		}
		observability.QueueDispositions.WithLabelValues(string(disp)).Inc()
		log.Debug().Str("url", r.URL).Int("retry_count", r.RetryCount).
			Str("outcome", out.Kind.String()).Str("disposition", string(disp)).Msg("flush attempt")

		switch {
		case disp == Sent:
			rep.Sent++
		case disp.Requeue():
			rep.Requeued++
			kept = append(kept, next)
		default:
			rep.Dropped++
		}
	}

	// Only Flush removes entries and flushes never overlap, so the current
	// list is the snapshot followed by whatever Submit appended meanwhile.
	err := m.store.Update(ctx, func(cur []QueuedRequest) []QueuedRequest {
		if len(cur) > len(snapshot) {
			return append(kept, cur[len(snapshot):]...)
		}
		return kept
	})
	if err != nil {
		log.Error().Err(err).Msg("persist flushed queue")
	}
	return rep
}

// Pending returns a copy of the persisted queue.
func (m *Manager) Pending(ctx context.Context) []QueuedRequest {
	return m.store.Load(ctx)
}

func (m *Manager) attempt(ctx context.Context, r QueuedRequest) (QueuedRequest, transport.Outcome, Disposition) {
	out := m.exec.Execute(ctx, r.Method, r.URL, withToken(r.Headers, m.tokens.AccessToken()), r.Body)

	valid := false
	if out.Kind == transport.AuthError && !r.AuthRetried && m.reval != nil {
		valid = m.reval.Revalidate(ctx)
	}
	next, disp := Decide(r, out.Kind, valid, m.now())
	return next, out, disp
}
