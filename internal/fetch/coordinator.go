// Package fetch turns a screen view into the campaigns the server pushes for it.
package fetch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"engagement-sdk/internal/campaign"
	"engagement-sdk/internal/observability"
	"engagement-sdk/internal/realtime"
	"engagement-sdk/internal/transport"
)

// DefaultTimeout bounds the wait for a push after track-user.
const DefaultTimeout = 20 * time.Second

type Channel interface {
	EnsureConnected(ctx context.Context, fetch realtime.DetailsFunc) error
}

type Tracker interface {
	TrackUser(ctx context.Context, token, userID, screen string, silent bool) (*transport.TrackUserResponse, error)
}

// Coordinator correlates a track-user call with the push it provokes.
type Coordinator struct {
	mailbox *Mailbox
	channel Channel
	api     Tracker
	timeout time.Duration
}

func NewCoordinator(mailbox *Mailbox, channel Channel, api Tracker, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{mailbox: mailbox, channel: channel, api: api, timeout: timeout}
}

// TriggerScreenData asks the server for the campaigns of screen and waits for
// them on the realtime channel. It returns (nil, nil) when the socket or the
// track-user call fails, and (nil, track) when nothing arrives in time.
// A zero timeout uses the coordinator default.
func (c *Coordinator) TriggerScreenData(ctx context.Context, token, screen, userID string, timeout time.Duration) (*campaign.Response, *transport.TrackUserResponse) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	slot := c.mailbox.Open(screen)
	defer c.mailbox.Close(screen, slot)

	err := c.channel.EnsureConnected(ctx, func(ctx context.Context) (transport.ConnectionDetails, error) {
		r, err := c.api.TrackUser(ctx, token, userID, screen, true)
		if err != nil {
			return transport.ConnectionDetails{}, err
		}
		return r.WS, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("screen", screen).Msg("realtime unavailable")
		return nil, nil
	}

	track, err := c.api.TrackUser(ctx, token, userID, screen, false)
	if err != nil {
		log.Warn().Err(err).Str("screen", screen).Msg("track user")
		return nil, nil
	}

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-slot:
		observability.TriggerWait.WithLabelValues("delivered").Observe(time.Since(start).Seconds())
		return &resp, track
	case <-timer.C:
		observability.TriggerWait.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
		log.Info().Str("screen", screen).Dur("timeout", timeout).Msg("no campaigns pushed in time")
		return nil, track
	case <-ctx.Done():
		observability.TriggerWait.WithLabelValues("canceled").Observe(time.Since(start).Seconds())
		return nil, track
	}
}
