package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
)

// HTTPRequestTimeout is the default timeout for all HTTP requests to the SDK API.
const HTTPRequestTimeout = 30 * time.Second

// REST endpoints, relative to the configured base URL.
const (
	PathValidateAccount   = "validate-account"
	PathTrackUser         = "track-user"
	PathCaptureEvent      = "capture-event"
	PathUpdateUserAttrs   = "update-user-atr"
	PathIdentifyPositions = "identify-positions"
	PathCSATResponse      = "capture-csat-response"
	PathSurveyResponse    = "capture-survey-response"
	PathReelLike          = "reel-like"
	PathTrackAction       = "track-action"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrEmptyToken   = errors.New("server returned an empty access token")
)

// ConnectionDetails is the realtime socket triple issued by track-user.
type ConnectionDetails struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	SessionID string `json:"sessionID"`
	// Expires is a unix timestamp; seconds and milliseconds are both accepted.
	Expires int64 `json:"expires"`
}

func (d ConnectionDetails) ExpiresAt() time.Time {
	if d.Expires == 0 {
		return time.Time{}
	}
	if d.Expires > 1_000_000_000_000 {
		return time.UnixMilli(d.Expires)
	}
	return time.Unix(d.Expires, 0)
}

// Expired reports whether the details can no longer be used. Details without
// an expiry never expire.
func (d ConnectionDetails) Expired(now time.Time) bool {
	exp := d.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}

type TrackUserResponse struct {
	WS                   ConnectionDetails `json:"ws"`
	UserID               string            `json:"userID"`
	ScreenCaptureEnabled bool              `json:"screen_capture_enabled"`
}

// Client is the typed REST client.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: HTTPRequestTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Endpoint returns the absolute URL of a REST path.
func (c *Client) Endpoint(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// ValidateAccount exchanges the app/account pair for an access token.
func (c *Client) ValidateAccount(ctx context.Context, appID, accountID string) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	err := c.PostJSON(ctx, PathValidateAccount, "", map[string]string{
		"app_id":     appID,
		"account_id": accountID,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", ErrEmptyToken
	}
	return resp.AccessToken, nil
}

// TrackUser announces the user on a screen and returns fresh realtime
// connection details. silent asks the server not to push campaigns.
func (c *Client) TrackUser(ctx context.Context, token, userID, screen string, silent bool) (*TrackUserResponse, error) {
	body := map[string]any{
		"user_id":    userID,
		"screenName": screen,
	}
	if silent {
		body["silentUpdate"] = true
	}
	var resp TrackUserResponse
	if err := c.PostJSON(ctx, PathTrackUser, token, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostJSON posts body to path and decodes a JSON reply into out when out is
// non-nil. 401/403 replies wrap ErrUnauthorized.
func (c *Client) PostJSON(ctx context.Context, path, token string, body, out any) error {
	var status int
	rb := requests.
		URL(c.Endpoint(path)).
		Client(c.http).
		BodyJSON(body).
		AddValidator(func(res *http.Response) error {
			status = res.StatusCode
			if status < 200 || status > 299 {
				return fmt.Errorf("unexpected status %d", status)
			}
			return nil
		})
	if token != "" {
		rb = rb.Header("Authorization", token)
	}
	if out != nil {
		rb = rb.ToJSON(out)
	}
	if err := rb.Fetch(ctx); err != nil {
		if status != 0 && Classify(status) == AuthError {
			return fmt.Errorf("%s: %w", path, ErrUnauthorized)
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
