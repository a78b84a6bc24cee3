package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{200, Success},
		{204, Success},
		{302, Success},
		{400, ClientError},
		{401, AuthError},
		{402, AuthError},
		{403, AuthError},
		{404, ClientError},
		{429, ClientError},
		{500, ServerError},
		{503, ServerError},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.code))
		})
	}
}

func TestExecutor_ClassifiesResponses(t *testing.T) {
	var gotBody, gotAuth, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		code, _ := strconv.Atoi(r.URL.Query().Get("code"))
		w.WriteHeader(code)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ex := NewExecutor(srv.Client())
	body := `{"event":"open"}`

	tests := []struct {
		code int
		want Kind
	}{
		{200, Success},
		{404, ClientError},
		{401, AuthError},
		{403, AuthError},
		{500, ServerError},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.code), func(t *testing.T) {
			out := ex.Execute(context.Background(), "post", srv.URL+"/capture-event?code="+strconv.Itoa(tt.code),
				map[string]string{"Authorization": "tok"}, &body)
			assert.Equal(t, tt.want, out.Kind)
			assert.Equal(t, tt.code, out.StatusCode)
			assert.Equal(t, body, gotBody)
			assert.Equal(t, "tok", gotAuth)
			assert.Equal(t, "application/json", gotCT)
		})
	}
}

func TestExecutor_NilBodySendsNothing(t *testing.T) {
	var gotLen int64 = -1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLen = r.ContentLength
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out := NewExecutor(srv.Client()).Execute(context.Background(), "GET", srv.URL, nil, nil)
	assert.Equal(t, Success, out.Kind)
	assert.Equal(t, int64(0), gotLen)
}

func TestExecutor_NetworkErrorNeverPanics(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := NewExecutor(nil).Execute(context.Background(), "POST", url, nil, nil)
	assert.Equal(t, NetworkError, out.Kind)
	assert.Equal(t, 0, out.StatusCode)
	assert.Error(t, out.Err)

	out = NewExecutor(nil).Execute(context.Background(), "POST", "::not a url", nil, nil)
	assert.Equal(t, NetworkError, out.Kind)
}

func TestClient_ValidateAndTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/sdk/validate-account":
			assert.Equal(t, "app", body["app_id"])
			assert.Equal(t, "acc", body["account_id"])
			_, _ = w.Write([]byte(`{"access_token":"tok-1"}`))
		case "/sdk/track-user":
			if r.Header.Get("Authorization") != "tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			assert.Equal(t, "Home", body["screenName"])
			assert.Equal(t, true, body["silentUpdate"])
			_, _ = w.Write([]byte(`{"ws":{"url":"ws://x","token":"wt","sessionID":"s1","expires":4102444800},"userID":"u1","screen_capture_enabled":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/sdk/", srv.Client())
	ctx := context.Background()

	tok, err := c.ValidateAccount(ctx, "app", "acc")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	resp, err := c.TrackUser(ctx, tok, "u1", "Home", true)
	require.NoError(t, err)
	assert.Equal(t, "ws://x", resp.WS.URL)
	assert.Equal(t, "s1", resp.WS.SessionID)
	assert.True(t, resp.ScreenCaptureEnabled)
	assert.False(t, resp.WS.Expired(time.Now()))

	_, err = c.TrackUser(ctx, "stale", "u1", "Home", true)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client()).ValidateAccount(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestConnectionDetails_Expiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	assert.False(t, ConnectionDetails{}.Expired(now))
	assert.True(t, ConnectionDetails{Expires: now.Unix() - 1}.Expired(now))
	assert.False(t, ConnectionDetails{Expires: now.Unix() + 60}.Expired(now))
	assert.False(t, ConnectionDetails{Expires: now.UnixMilli() + 60_000}.Expired(now))
	assert.True(t, ConnectionDetails{Expires: now.UnixMilli() - 1}.Expired(now))
}

func TestProbe_Online(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	p := NewProbe(srv.URL)
	assert.True(t, p.Online(context.Background()))
	srv.Close()

	// cached answer survives until the ttl passes
	assert.True(t, p.Online(context.Background()))
	p.ttl = 0
	assert.False(t, p.Online(context.Background()))

	assert.False(t, NewProbe("").Online(context.Background()))
	assert.True(t, Static(true).Online(context.Background()))
}
