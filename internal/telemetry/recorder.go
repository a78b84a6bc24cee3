package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"engagement-sdk/internal/queue"
	"engagement-sdk/internal/transport"
)

// EventClicked is reported when a campaign link is followed.
const EventClicked = "clicked"

type Submitter interface {
	Submit(ctx context.Context, r queue.QueuedRequest) queue.SubmitResult
}

type Poster interface {
	Endpoint(path string) string
	PostJSON(ctx context.Context, path, token string, body, out any) error
}

// Identity is the part of the session telemetry needs.
type Identity interface {
	AccessToken() string
	UserID() string
}

type CSATResponse struct {
	CampaignID string   `json:"campaign_id"`
	Rating     int      `json:"rating"`
	Feedback   string   `json:"feedback,omitempty"`
	Options    []string `json:"options,omitempty"`
}

type SurveyResponse struct {
	CampaignID string   `json:"campaign_id"`
	Options    []string `json:"response_options"`
	Comment    string   `json:"comment,omitempty"`
}

// Recorder sends telemetry. Events and attribute updates go through the
// offline queue; the rest are posted directly and lost when offline.
type Recorder struct {
	device *Device
	queue  Submitter
	api    Poster
	who    Identity
	region string
}

func NewRecorder(device *Device, q Submitter, api Poster, who Identity, region string) *Recorder {
	return &Recorder{device: device, queue: q, api: api, who: who, region: region}
}

// CaptureEvent reports a named event, optionally tied to a campaign.
func (r *Recorder) CaptureEvent(ctx context.Context, event, campaignID string, props map[string]any) (queue.SubmitResult, error) {
	if props == nil {
		props = map[string]any{}
	}
	payload := map[string]any{
		"user_id":  r.who.UserID(),
		"event":    event,
		"metadata": props,
	}
	if campaignID != "" {
		payload["campaign_id"] = campaignID
	}
	return r.enqueue(ctx, transport.PathCaptureEvent, payload)
}

// UpdateUserAttributes reports user attributes after normalizing them.
func (r *Recorder) UpdateUserAttributes(ctx context.Context, attrs map[string]any) (queue.SubmitResult, error) {
	return r.enqueue(ctx, transport.PathUpdateUserAttrs, map[string]any{
		"user_id":    r.who.UserID(),
		"attributes": NormalizeAttributes(attrs, r.region),
	})
}

// IdentifyPositions reports the campaign slots a screen renders.
func (r *Recorder) IdentifyPositions(ctx context.Context, screen string, positions []string) error {
	if positions == nil {
		positions = []string{}
	}
	return r.post(ctx, transport.PathIdentifyPositions, map[string]any{
		"user_id":       r.who.UserID(),
		"screen_name":   screen,
		"position_list": positions,
	})
}

func (r *Recorder) CaptureCSAT(ctx context.Context, resp CSATResponse) error {
	body, err := withUser(resp, r.who.UserID())
	if err != nil {
		return err
	}
	return r.post(ctx, transport.PathCSATResponse, body)
}

func (r *Recorder) CaptureSurvey(ctx context.Context, resp SurveyResponse) error {
	body, err := withUser(resp, r.who.UserID())
	if err != nil {
		return err
	}
	return r.post(ctx, transport.PathSurveyResponse, body)
}

func (r *Recorder) ReelLike(ctx context.Context, campaignID, reelID string, liked bool) error {
	return r.post(ctx, transport.PathReelLike, map[string]any{
		"user_id":     r.who.UserID(),
		"campaign_id": campaignID,
		"reel_id":     reelID,
		"liked":       liked,
	})
}

// TrackAction reports an interaction inside a campaign (a story slide view,
// a scratch, a CTA tap).
func (r *Recorder) TrackAction(ctx context.Context, campaignID, action string, data map[string]any) error {
	payload := map[string]any{
		"user_id":     r.who.UserID(),
		"campaign_id": campaignID,
		"action":      action,
	}
	if len(data) > 0 {
		payload["data"] = data
	}
	return r.post(ctx, transport.PathTrackAction, payload)
}

func (r *Recorder) encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	return r.device.Merge(b, "metadata")
}

func (r *Recorder) enqueue(ctx context.Context, path string, v any) (queue.SubmitResult, error) {
	b, err := r.encode(v)
	if err != nil {
		return queue.SubmitResult{}, err
	}
	req := queue.NewJSONRequest(r.api.Endpoint(path), r.who.AccessToken(), b)
	return r.queue.Submit(ctx, req), nil
}

func (r *Recorder) post(ctx context.Context, path string, v any) error {
	b, err := r.encode(v)
	if err != nil {
		return err
	}
	return r.api.PostJSON(ctx, path, r.who.AccessToken(), json.RawMessage(b), nil)
}

// withUser flattens v into a JSON object and stamps the current user on it.
func withUser(v any, userID string) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	m["user_id"] = userID
	return m, nil
}
