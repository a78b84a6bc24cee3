package navigation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"engagement-sdk/internal/campaign"
	"engagement-sdk/internal/queue"
	"engagement-sdk/internal/telemetry"
)

// Navigator performs navigation inside the host application.
type Navigator interface {
	OpenURL(ctx context.Context, url string) error
	OpenScreen(ctx context.Context, screen string, params map[string]string) error
}

type EventSink interface {
	CaptureEvent(ctx context.Context, event, campaignID string, props map[string]any) (queue.SubmitResult, error)
}

// Clicker is the click entry point for rendered campaigns.
type Clicker struct {
	routes Routes
	nav    Navigator
	events EventSink
}

// NewClicker returns a Clicker. With a nil Navigator, Click only resolves
// the target and leaves navigating to the caller.
func NewClicker(routes Routes, nav Navigator, events EventSink) *Clicker {
	if routes == nil {
		routes = Routes{}
	}
	return &Clicker{routes: routes, nav: nav, events: events}
}

// Click resolves link, navigates to it and reports a clicked event for
// campaignID. A failed navigation reports nothing.
func (c *Clicker) Click(ctx context.Context, campaignID string, link campaign.Link) (Target, error) {
	t, err := ParseLink(link)
	if err != nil {
		return Target{}, err
	}
	if t, err = t.Resolve(c.routes); err != nil {
		return Target{}, err
	}

	if c.nav != nil {
		switch t.Kind {
		case LinkURL:
			err = c.nav.OpenURL(ctx, t.URL)
		case LinkRoute, LinkDeepLink:
			err = c.nav.OpenScreen(ctx, t.Screen, t.Params)
		}
		if err != nil {
			return Target{}, fmt.Errorf("navigate %s: %w", t.Kind, err)
		}
	}

	props := map[string]any{"link_type": string(t.Kind)}
	if t.URL != "" {
		props["url"] = t.URL
	}
	if t.Screen != "" {
		props["screen"] = t.Screen
	}
	if _, err := c.events.CaptureEvent(ctx, telemetry.EventClicked, campaignID, props); err != nil {
		log.Warn().Err(err).Str("campaign_id", campaignID).Msg("report click")
	}
	return t, nil
}
