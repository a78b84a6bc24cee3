package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"engagement-sdk/internal/storage"
	"engagement-sdk/internal/transport"
)

type call struct {
	URL     string
	Headers map[string]string
}

type fakeExec struct {
	mu     sync.Mutex
	codes  map[string][]int // url -> status codes returned in order; 0 means network error
	calls  []call
	onCall func()
}

func (f *fakeExec) Execute(_ context.Context, _, url string, headers map[string]string, _ *string) transport.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, call{URL: url, Headers: headers})
	code := 200
	if q := f.codes[url]; len(q) > 0 {
		code, f.codes[url] = q[0], q[1:]
	}
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if code == 0 {
		return transport.Outcome{Kind: transport.NetworkError}
	}
	return transport.Outcome{Kind: transport.Classify(code), StatusCode: code}
}

func (f *fakeExec) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeToken string

func (f fakeToken) AccessToken() string { return string(f) }

type fakeReval struct {
	ok    bool
	calls int
}

func (f *fakeReval) Revalidate(context.Context) bool {
	f.calls++
	return f.ok
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestManager(t *testing.T, exec *fakeExec, online bool, reval *fakeReval) (*Manager, *Store, *clock) {
	t.Helper()
	store := NewStore(storage.NewMemory())
	m := NewManager(store, exec, transport.Static(online), fakeToken("fresh"), reval)
	c := &clock{t: time.UnixMilli(10_000_000)}
	m.now = c.now
	return m, store, c
}

func req(url string, retry int, last int64) QueuedRequest {
	r := NewJSONRequest(url, "stale", []byte(`{"event":"e"}`))
	r.RetryCount = retry
	r.LastAttempt = last
	return r
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, BackoffDelay(0))
	assert.Equal(t, 60*time.Second, BackoffDelay(1))
	assert.Equal(t, 120*time.Second, BackoffDelay(2))
	assert.Equal(t, 120*time.Second, BackoffDelay(3))
	assert.Equal(t, 120*time.Second, BackoffDelay(40))
}

func TestShouldAttempt(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	tests := []struct {
		name  string
		retry int
		last  int64
		want  bool
	}{
		{"fresh request", 0, 0, true},
		{"inside backoff", 1, now.UnixMilli() - 59_999, false},
		{"backoff elapsed", 1, now.UnixMilli() - 60_000, true},
		{"max retries", 3, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldAttempt(QueuedRequest{RetryCount: tt.retry, LastAttempt: tt.last}, now))
		})
	}
}

func TestDecide(t *testing.T) {
	now := time.UnixMilli(5_000)
	tests := []struct {
		name      string
		in        QueuedRequest
		kind      transport.Kind
		valid     bool
		want      Disposition
		wantRetry int
		wantAuth  bool
	}{
		{"success", QueuedRequest{RetryCount: 2}, transport.Success, false, Sent, 2, false},
		{"client error", QueuedRequest{RetryCount: 0}, transport.ClientError, false, DroppedClientError, 0, false},
		{"auth revalidated", QueuedRequest{RetryCount: 1}, transport.AuthError, true, RetryAuth, 1, true},
		{"auth invalid", QueuedRequest{}, transport.AuthError, false, DroppedAuth, 0, false},
		{"auth already retried", QueuedRequest{AuthRetried: true}, transport.AuthError, true, DroppedAuth, 0, true},
		{"server error", QueuedRequest{RetryCount: 0}, transport.ServerError, false, RetryBackoff, 1, false},
		{"network error at limit", QueuedRequest{RetryCount: 2}, transport.NetworkError, false, RetryBackoff, 3, false},
		{"server error past limit", QueuedRequest{RetryCount: 3}, transport.ServerError, false, DroppedMaxRetries, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, disp := Decide(tt.in, tt.kind, tt.valid, now)
			assert.Equal(t, tt.want, disp)
			assert.Equal(t, tt.wantRetry, got.RetryCount)
			assert.Equal(t, tt.wantAuth, got.AuthRetried)
			if disp.Requeue() {
				assert.Equal(t, now.UnixMilli(), got.LastAttempt)
			}
		})
	}
}

func TestQueuedRequest_JSONRoundTrip(t *testing.T) {
	body := `{"a":1}`
	cases := []QueuedRequest{
		{URL: "https://x/capture-event", Method: "POST", Headers: map[string]string{"Authorization": "t"}, Body: &body, RetryCount: 2, LastAttempt: 99, AuthRetried: true},
		{URL: "https://x/update-user-atr", Method: "POST"},
	}
	for _, in := range cases {
		b, err := json.Marshal(in)
		require.NoError(t, err)
		var out QueuedRequest
		require.NoError(t, json.Unmarshal(b, &out))
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}

	b, _ := json.Marshal(QueuedRequest{URL: "u"})
	assert.Contains(t, string(b), `"body":null`)
}

func TestStore_CorruptRecordLoadsEmpty(t *testing.T) {
	kv := storage.NewMemory()
	require.NoError(t, kv.Put(context.Background(), storage.KeyOfflineQueue, "{not json"))

	got := NewStore(kv).Load(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemory())
	require.NoError(t, s.Save(ctx, []QueuedRequest{{URL: "a"}, {URL: "b"}}))
	require.NoError(t, s.Save(ctx, []QueuedRequest{{URL: "c"}}))
	assert.Equal(t, []QueuedRequest{{URL: "c"}}, s.Load(ctx))
}

func TestSubmit_OfflineQueuesWithoutAttempt(t *testing.T) {
	exec := &fakeExec{}
	m, store, _ := newTestManager(t, exec, false, nil)

	res := m.Submit(context.Background(), req("u1", 0, 0))

	assert.Equal(t, Queued, res.Disposition)
	assert.Equal(t, 0, exec.count())
	assert.Len(t, store.Load(context.Background()), 1)
}

func TestSubmit_OnlineUsesFreshTokenAndKicksFlush(t *testing.T) {
	exec := &fakeExec{}
	m, store, _ := newTestManager(t, exec, true, nil)
	kicked := 0
	m.SetFlushTrigger(func() { kicked++ })

	r := req("u1", 0, 0)
	r.Headers["Authorization"] = "Bearer stale"
	res := m.Submit(context.Background(), r)

	assert.Equal(t, Sent, res.Disposition)
	assert.Equal(t, 1, kicked)
	require.Equal(t, 1, exec.count())
	assert.Equal(t, "Bearer fresh", exec.calls[0].Headers["Authorization"])
	assert.Equal(t, "Bearer stale", r.Headers["Authorization"])
	assert.Empty(t, store.Load(context.Background()))
}

func TestSubmit_ServerErrorRequeues(t *testing.T) {
	exec := &fakeExec{codes: map[string][]int{"u1": {503}}}
	m, store, c := newTestManager(t, exec, true, nil)

	res := m.Submit(context.Background(), req("u1", 0, 0))

	assert.Equal(t, RetryBackoff, res.Disposition)
	q := store.Load(context.Background())
	require.Len(t, q, 1)
	assert.Equal(t, 1, q[0].RetryCount)
	assert.Equal(t, c.t.UnixMilli(), q[0].LastAttempt)
}

func TestSubmit_ClientErrorDropped(t *testing.T) {
	exec := &fakeExec{codes: map[string][]int{"u1": {422}}}
	m, store, _ := newTestManager(t, exec, true, nil)

	res := m.Submit(context.Background(), req("u1", 0, 0))
	assert.Equal(t, DroppedClientError, res.Disposition)
	assert.Empty(t, store.Load(context.Background()))
}

func TestFlush_EmptyQueueIsNoop(t *testing.T) {
	exec := &fakeExec{}
	m, _, _ := newTestManager(t, exec, true, nil)
	assert.Equal(t, FlushReport{}, m.Flush(context.Background()))
	assert.Equal(t, 0, exec.count())
}

func TestFlush_NotFoundDroppedAfterOneAttempt(t *testing.T) {
	for _, retry := range []int{0, 1, 2, 3} {
		exec := &fakeExec{codes: map[string][]int{"u": {404}}}
		m, store, _ := newTestManager(t, exec, true, nil)
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, []QueuedRequest{req("u", retry, 0)}))

		rep := m.Flush(ctx)

		assert.Equal(t, 1, exec.count())
		assert.Equal(t, 1, rep.Dropped)
		assert.Empty(t, store.Load(ctx))
	}
}

func TestFlush_AuthErrorRevalidated(t *testing.T) {
	exec := &fakeExec{codes: map[string][]int{"u": {401}}}
	reval := &fakeReval{ok: true}
	m, store, c := newTestManager(t, exec, true, reval)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, []QueuedRequest{req("u", 1, 0)}))

	m.Flush(ctx)

	q := store.Load(ctx)
	require.Len(t, q, 1)
	assert.True(t, q[0].AuthRetried)
	assert.Equal(t, 1, q[0].RetryCount)
	assert.Equal(t, c.t.UnixMilli(), q[0].LastAttempt)
	assert.Equal(t, 1, reval.calls)

	// a second 401 after the auth retry drops it without revalidating again
	exec.codes["u"] = []int{403}
	c.t = c.t.Add(2 * time.Minute)
	m.Flush(ctx)
	assert.Empty(t, store.Load(ctx))
	assert.Equal(t, 1, reval.calls)
}

func TestFlush_AuthErrorInvalidCredentialsDropped(t *testing.T) {
	exec := &fakeExec{codes: map[string][]int{"u": {401}}}
	m, store, _ := newTestManager(t, exec, true, &fakeReval{ok: false})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, []QueuedRequest{req("u", 0, 0)}))

	m.Flush(ctx)
	assert.Empty(t, store.Load(ctx))
}

func TestFlush_MaxRetryScenario(t *testing.T) {
	exec := &fakeExec{codes: map[string][]int{"reqA": {500, 500}}}
	m, store, c := newTestManager(t, exec, true, nil)
	ctx := context.Background()
	t0 := c.t.UnixMilli()
	require.NoError(t, store.Save(ctx, []QueuedRequest{req("reqA", 2, t0)}))

	c.t = time.UnixMilli(t0 + 150_000)
	m.Flush(ctx)
	q := store.Load(ctx)
	require.Len(t, q, 1)
	assert.Equal(t, 3, q[0].RetryCount)

	c.t = c.t.Add(120 * time.Second)
	m.Flush(ctx)
	assert.Empty(t, store.Load(ctx))
	assert.Equal(t, 2, exec.count())
}

func TestFlush_NeverReaddsExhausted(t *testing.T) {
	for _, code := range []int{200, 500, 0, 401} {
		exec := &fakeExec{codes: map[string][]int{"x": {code}}}
		m, store, c := newTestManager(t, exec, true, &fakeReval{ok: true})
		ctx := context.Background()
		// attempted a moment ago: not due by backoff, still never kept
		require.NoError(t, store.Save(ctx, []QueuedRequest{req("x", 3, c.t.UnixMilli()), req("y", 5, 0)}))

		m.Flush(ctx)
		assert.Empty(t, store.Load(ctx), "code %d", code)
	}
}

func TestFlush_SkipsNotDueAndKeepsOrder(t *testing.T) {
	exec := &fakeExec{codes: map[string][]int{"b": {500}}}
	m, store, c := newTestManager(t, exec, true, nil)
	ctx := context.Background()
	now := c.t.UnixMilli()
	require.NoError(t, store.Save(ctx, []QueuedRequest{
		req("a", 1, now-1_000), // not due
		req("b", 0, 0),         // due, fails
		req("c", 0, 0),         // due, sent
		req("d", 2, now),       // not due
	}))

	rep := m.Flush(ctx)

	assert.Equal(t, FlushReport{Attempted: 2, Skipped: 2, Sent: 1, Requeued: 1}, rep)
	var urls []string
	for _, r := range store.Load(ctx) {
		urls = append(urls, r.URL)
	}
	assert.Equal(t, []string{"a", "b", "d"}, urls)
}

func TestFlush_KeepsRequestsSubmittedMeanwhile(t *testing.T) {
	exec := &fakeExec{}
	m, store, _ := newTestManager(t, exec, true, nil)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, []QueuedRequest{req("old", 0, 0)}))

	once := sync.Once{}
	exec.onCall = func() {
		once.Do(func() { _ = store.Append(ctx, req("new", 0, 0)) })
	}

	m.Flush(ctx)

	q := store.Load(ctx)
	require.Len(t, q, 1)
	assert.Equal(t, "new", q[0].URL)
}

func TestWithToken(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		tok     string
		want    map[string]string
	}{
		{"bare", map[string]string{"Authorization": "old"}, "new", map[string]string{"Authorization": "new"}},
		{"bearer kept", map[string]string{"authorization": "Bearer old"}, "new", map[string]string{"authorization": "Bearer new"}},
		{"added when missing", map[string]string{"Content-Type": "application/json"}, "new",
			map[string]string{"Content-Type": "application/json", "Authorization": "new"}},
		{"no token leaves headers", map[string]string{"Authorization": "old"}, "", map[string]string{"Authorization": "old"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withToken(tt.headers, tt.tok))
		})
	}
}

// flakyKV fails the next n reads.
type flakyKV struct {
	storage.KV
	mu       sync.Mutex
	failGets int
}

func (f *flakyKV) failNext(n int) {
	f.mu.Lock()
	f.failGets = n
	f.mu.Unlock()
}

func (f *flakyKV) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	fail := f.failGets > 0
	if fail {
		f.failGets--
	}
	f.mu.Unlock()
	if fail {
		return "", false, errors.New("database is locked")
	}
	return f.KV.Get(ctx, key)
}

func urls(reqs []QueuedRequest) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.URL)
	}
	return out
}

func TestStore_ReadErrorKeepsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	kv := &flakyKV{KV: storage.NewMemory()}
	s := NewStore(kv)
	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(ctx, QueuedRequest{URL: u}))
	}

	kv.failNext(1)
	assert.Error(t, s.Append(ctx, QueuedRequest{URL: "d"}))
	assert.Equal(t, []string{"a", "b", "c"}, urls(s.Load(ctx)))

	require.NoError(t, s.Append(ctx, QueuedRequest{URL: "e"}))
	assert.Equal(t, []string{"a", "b", "c", "e"}, urls(s.Load(ctx)))

	kv.failNext(1)
	assert.Empty(t, s.Load(ctx), "read-only callers see an empty queue")
	assert.Len(t, s.Load(ctx), 4)
}

func TestStore_UndecryptableRecordStartsEmpty(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemory()
	old, err := storage.NewEncrypted(inner, "old-key")
	require.NoError(t, err)
	require.NoError(t, NewStore(old).Append(ctx, QueuedRequest{URL: "a"}))

	rotated, err := storage.NewEncrypted(inner, "new-key")
	require.NoError(t, err)
	s := NewStore(rotated)
	assert.Empty(t, s.Load(ctx))
	require.NoError(t, s.Append(ctx, QueuedRequest{URL: "b"}))
	assert.Equal(t, []string{"b"}, urls(s.Load(ctx)))
}

func TestFlush_ReadErrorOnMergeKeepsSubmitted(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	kv := &flakyKV{KV: storage.NewMemory()}
	store := NewStore(kv)
	exec := &fakeExec{codes: map[string][]int{"u1": {500}}}
	m := NewManager(store, exec, transport.Static(true), fakeToken("fresh"), nil)
	c := &clock{t: time.UnixMilli(10_000_000)}
	m.now = c.now

	require.NoError(t, store.Append(ctx, req("u1", 0, 0)))
	exec.onCall = func() {
		exec.onCall = nil
		require.NoError(t, store.Append(ctx, req("u2", 0, 0)))
		kv.failNext(1)
	}

	m.Flush(ctx)

	assert.Equal(t, []string{"u1", "u2"}, urls(store.Load(ctx)))
}
