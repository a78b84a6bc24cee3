package campaign

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Kind is the campaignType discriminator.
type Kind string

const (
	KindBanner      Kind = "BAN"
	KindWidget      Kind = "WID"
	KindCSAT        Kind = "CSAT"
	KindModal       Kind = "MOD"
	KindTooltip     Kind = "TTP"
	KindSurvey      Kind = "SUR"
	KindPIP         Kind = "PIP"
	KindStories     Kind = "STR"
	KindReels       Kind = "REL"
	KindScratchCard Kind = "SCR"
	KindBottomSheet Kind = "BTS"
)

// Details is the per-kind payload of a campaign. The concrete type is fixed
// by the campaign's Kind; Unknown carries anything this build cannot read.
type Details interface {
	Kind() Kind
}

// Link is a click target as sent by the server: a URL string, an in-app
// route token or a deep-link object. navigation.ParseLink interprets it.
type Link = json.RawMessage

type Banner struct {
	Image  string `json:"image"`
	Height int    `json:"height,omitempty"`
	Link   Link   `json:"link,omitempty"`
}

type WidgetItem struct {
	Image string `json:"image"`
	Link  Link   `json:"link,omitempty"`
}

type Widget struct {
	Items []WidgetItem `json:"items"`
}

type CSAT struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	LowStarText   string   `json:"lowStarText,omitempty"`
	HighStarText  string   `json:"highStarText,omitempty"`
	FeedbackTags  []string `json:"feedbackTags,omitempty"`
	ThankYouImage string   `json:"thankYouImage,omitempty"`
}

type Modal struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Image string `json:"image,omitempty"`
	CTA   string `json:"cta,omitempty"`
	Link  Link   `json:"link,omitempty"`
}

type Tooltip struct {
	Target string `json:"target"`
	Text   string `json:"text"`
	Link   Link   `json:"link,omitempty"`
}

type SurveyQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

type Survey struct {
	Title     string           `json:"title"`
	Questions []SurveyQuestion `json:"questions"`
}

type PIP struct {
	VideoURL string `json:"videoUrl"`
	Muted    bool   `json:"muted,omitempty"`
	Link     Link   `json:"link,omitempty"`
}

type StorySlide struct {
	Image    string `json:"image,omitempty"`
	Video    string `json:"video,omitempty"`
	Duration int    `json:"duration,omitempty"` // seconds
	Link     Link   `json:"link,omitempty"`
}

type Stories struct {
	Slides []StorySlide `json:"slides"`
}

type Reel struct {
	ID       string `json:"id"`
	VideoURL string `json:"videoUrl"`
	Likes    int    `json:"likes,omitempty"`
}

type Reels struct {
	Reels []Reel `json:"reels"`
}

type ScratchCard struct {
	CoverImage string `json:"coverImage"`
	Reward     string `json:"reward"`
	Link       Link   `json:"link,omitempty"`
}

type BottomSheet struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Image string `json:"image,omitempty"`
	Link  Link   `json:"link,omitempty"`
}

type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Banner) Kind() Kind      { return KindBanner }
func (Widget) Kind() Kind      { return KindWidget }
func (CSAT) Kind() Kind        { return KindCSAT }
func (Modal) Kind() Kind       { return KindModal }
func (Tooltip) Kind() Kind     { return KindTooltip }
func (Survey) Kind() Kind      { return KindSurvey }
func (PIP) Kind() Kind         { return KindPIP }
func (Stories) Kind() Kind     { return KindStories }
func (Reels) Kind() Kind       { return KindReels }
func (ScratchCard) Kind() Kind { return KindScratchCard }
func (BottomSheet) Kind() Kind { return KindBottomSheet }
func (u Unknown) Kind() Kind   { return Kind(u.Type) }

// Campaign is one engagement unit targeted at a screen.
type Campaign struct {
	ID           string  `json:"id"`
	CampaignType string  `json:"campaignType"`
	Details      Details `json:"-"`
	Position     string  `json:"position,omitempty"`
	Screen       string  `json:"screen"`
	TriggerEvent string  `json:"triggerEvent,omitempty"`
}

type wireCampaign struct {
	ID           string          `json:"id"`
	CampaignType string          `json:"campaignType"`
	Details      json.RawMessage `json:"details,omitempty"`
	Position     string          `json:"position,omitempty"`
	Screen       string          `json:"screen"`
	TriggerEvent string          `json:"triggerEvent,omitempty"`
}

func (c *Campaign) UnmarshalJSON(b []byte) error {
	var w wireCampaign
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*c = Campaign{
		ID:           w.ID,
		CampaignType: w.CampaignType,
		Details:      DecodeDetails(w.CampaignType, w.Details),
		Position:     w.Position,
		Screen:       w.Screen,
		TriggerEvent: w.TriggerEvent,
	}
	return nil
}

func (c Campaign) MarshalJSON() ([]byte, error) {
	w := wireCampaign{
		ID:           c.ID,
		CampaignType: c.CampaignType,
		Position:     c.Position,
		Screen:       c.Screen,
		TriggerEvent: c.TriggerEvent,
	}
	switch d := c.Details.(type) {
	case nil:
	case Unknown:
		w.Details = d.Raw
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encode %s details: %w", c.CampaignType, err)
		}
		w.Details = b
	}
	return json.Marshal(w)
}

// DecodeDetails picks the concrete payload for campaignType. Unrecognised
// types and payloads that do not fit their type come back as Unknown.
func DecodeDetails(campaignType string, raw json.RawMessage) Details {
	var d Details
	switch Kind(campaignType) {
	case KindBanner:
		d = decodeAs[Banner](raw)
	case KindWidget:
		d = decodeAs[Widget](raw)
	case KindCSAT:
		d = decodeAs[CSAT](raw)
	case KindModal:
		d = decodeAs[Modal](raw)
	case KindTooltip:
		d = decodeAs[Tooltip](raw)
	case KindSurvey:
		d = decodeAs[Survey](raw)
	case KindPIP:
		d = decodeAs[PIP](raw)
	case KindStories:
		d = decodeAs[Stories](raw)
	case KindReels:
		d = decodeAs[Reels](raw)
	case KindScratchCard:
		d = decodeAs[ScratchCard](raw)
	case KindBottomSheet:
		d = decodeAs[BottomSheet](raw)
	}
	if d == nil {
		return Unknown{Type: campaignType, Raw: raw}
	}
	return d
}

func decodeAs[T Details](raw json.RawMessage) Details {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Warn().Err(err).Str("campaign_type", string(v.Kind())).Msg("campaign details do not match type")
		return nil
	}
	return v
}

// Response is one realtime push.
type Response struct {
	UserID    string     `json:"userId,omitempty"`
	MessageID string     `json:"messageId"`
	Campaigns []Campaign `json:"campaigns"`
}

// Screen is the target screen of the first campaign, or "" when empty.
func (r Response) Screen() string {
	if len(r.Campaigns) == 0 {
		return ""
	}
	return r.Campaigns[0].Screen
}

// Filter narrows an eligibility query. Empty fields match anything.
type Filter struct {
	Screen   string
	Type     Kind
	Position string
}
