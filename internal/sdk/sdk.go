// Package sdk is the embeddable entry point: it owns the session, the offline
// queue, the realtime channel and the eligibility engine, and exposes the
// operations a host UI calls.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"engagement-sdk/internal/campaign"
	"engagement-sdk/internal/config"
	"engagement-sdk/internal/fetch"
	"engagement-sdk/internal/navigation"
	"engagement-sdk/internal/queue"
	"engagement-sdk/internal/realtime"
	"engagement-sdk/internal/session"
	"engagement-sdk/internal/storage"
	"engagement-sdk/internal/telemetry"
	"engagement-sdk/internal/transport"
)

var (
	ErrAccountInvalid = errors.New("account verification failed")
	ErrNotTracked     = errors.New("screen could not be tracked")
)

type Options struct {
	AppID     string
	AccountID string
	UserID    string
	BaseURL   string
	Region    string
	Metadata  map[string]string

	Routes    navigation.Routes
	Navigator navigation.Navigator

	HTTPClient   *http.Client
	Connectivity queue.Connectivity

	FlushInterval    time.Duration
	TriggerTimeout   time.Duration
	ReconnectBackoff time.Duration
	HandshakeTimeout time.Duration
}

// OptionsFromConfig maps the agent configuration onto Options.
func OptionsFromConfig(cfg config.Config, routes navigation.Routes) Options {
	return Options{
		AppID:            cfg.SDK.AppID,
		AccountID:        cfg.SDK.AccountID,
		UserID:           cfg.SDK.UserID,
		BaseURL:          cfg.SDK.BaseURL,
		Region:           cfg.SDK.Region,
		Metadata:         cfg.Metadata,
		Routes:           routes,
		FlushInterval:    cfg.FlushInterval(),
		TriggerTimeout:   cfg.TriggerTimeout(),
		ReconnectBackoff: cfg.Backoff(),
		HandshakeTimeout: cfg.HandshakeTimeout(),
	}
}

type SDK struct {
	opts Options

	sess    *session.Session
	creds   *session.Credentials
	api     *transport.Client
	queue   *queue.Manager
	sched   *queue.Scheduler
	channel *realtime.Channel
	coord   *fetch.Coordinator
	engine  *campaign.Engine
	rec     *telemetry.Recorder
	clicker *navigation.Clicker

	revalMu sync.Mutex

	screenMu   sync.Mutex
	lastScreen string
}

// New wires the SDK on top of kv, which the caller owns and closes.
func New(ctx context.Context, kv storage.KV, opts Options) (*SDK, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("sdk: base url is required")
	}
	if opts.Connectivity == nil {
		opts.Connectivity = transport.NewProbe(opts.BaseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: transport.HTTPRequestTimeout}
	}

	s := &SDK{
		opts:  opts,
		sess:  session.New(opts.AppID, opts.AccountID, opts.UserID),
		creds: session.NewCredentials(kv),
		api:   transport.NewClient(opts.BaseURL, opts.HTTPClient),
	}

	s.queue = queue.NewManager(queue.NewStore(kv), transport.NewExecutor(opts.HTTPClient), opts.Connectivity, s.sess, s)
	s.sched = queue.NewScheduler(s.queue, opts.Connectivity, opts.FlushInterval)
	s.queue.SetFlushTrigger(s.sched.Trigger)

	mailbox := fetch.NewMailbox()
	s.channel = realtime.NewChannel(kv, mailbox, opts.HandshakeTimeout)
	s.coord = fetch.NewCoordinator(mailbox, s.channel, s.api, opts.TriggerTimeout)

	s.engine = campaign.NewEngine(s.sess)
	s.sess.OnChange(s.engine.Notify)

	device, err := telemetry.LoadDevice(ctx, kv, opts.Metadata)
	if err != nil {
		return nil, err
	}
	s.rec = telemetry.NewRecorder(device, s.queue, s.api, s.sess, opts.Region)
	s.clicker = navigation.NewClicker(opts.Routes, opts.Navigator, s.rec)
	return s, nil
}

// Init restores the stored access token, verifying the account again when
// there is none or it has expired.
func (s *SDK) Init(ctx context.Context) error {
	tok, err := s.creds.Load(ctx)
	switch {
	case err == nil && !session.Expired(tok, time.Now()):
		s.sess.SetAccessToken(tok)
		log.Info().Msg("sdk initialised from stored credentials")
		return nil
	case err != nil && !errors.Is(err, session.ErrNoToken):
		log.Warn().Err(err).Msg("load stored credentials")
	}
	if !s.Revalidate(ctx) {
		return ErrAccountInvalid
	}
	log.Info().Msg("sdk initialised")
	return nil
}

// Revalidate re-runs account verification and stores the new token.
func (s *SDK) Revalidate(ctx context.Context) bool {
	s.revalMu.Lock()
	defer s.revalMu.Unlock()

	tok, err := s.api.ValidateAccount(ctx, s.sess.AppID(), s.sess.AccountID())
	if err != nil {
		log.Error().Err(err).Str("app_id", s.sess.AppID()).Msg("validate account")
		return false
	}
	if err := s.creds.Save(ctx, tok); err != nil {
		log.Error().Err(err).Msg("persist access token")
	}
	s.sess.SetAccessToken(tok)
	return true
}

// Run keeps the flush scheduler and the realtime reconnect loop going until
// ctx is done.
func (s *SDK) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sched.Run(ctx) })
	g.Go(func() error {
		return realtime.Supervise(ctx, s.channel, s.reconnectDetails, s.opts.ReconnectBackoff)
	})
	return g.Wait()
}

func (s *SDK) reconnectDetails(ctx context.Context) (transport.ConnectionDetails, error) {
	s.screenMu.Lock()
	screen := s.lastScreen
	s.screenMu.Unlock()

	r, err := s.api.TrackUser(ctx, s.sess.AccessToken(), s.sess.UserID(), screen, true)
	if err != nil {
		return transport.ConnectionDetails{}, err
	}
	return r.WS, nil
}

// TrackScreen announces a screen view and applies the campaigns pushed for
// it. A nil response with a nil error means nothing arrived in time.
func (s *SDK) TrackScreen(ctx context.Context, screen string) (*campaign.Response, error) {
	s.screenMu.Lock()
	s.lastScreen = screen
	s.screenMu.Unlock()

	resp, track := s.coord.TriggerScreenData(ctx, s.sess.AccessToken(), screen, s.sess.UserID(), 0)
	if track == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotTracked, screen)
	}
	s.sess.SetCaptureEnabled(screen, track.ScreenCaptureEnabled)
	if resp != nil {
		s.engine.Apply(*resp)
	}
	return resp, nil
}

func (s *SDK) Campaigns(f campaign.Filter) []campaign.Campaign { return s.engine.Match(f) }

func (s *SDK) Watch(ctx context.Context, f campaign.Filter) <-chan []campaign.Campaign {
	return s.engine.Watch(ctx, f)
}

// TrackEvent records a trigger event, which may unlock gated campaigns, and
// reports it.
func (s *SDK) TrackEvent(ctx context.Context, name string, props map[string]any) (queue.SubmitResult, error) {
	s.sess.MarkEventTracked(name)
	return s.rec.CaptureEvent(ctx, name, "", props)
}

func (s *SDK) DisableCampaign(id string) { s.sess.DisableCampaign(id) }

// Click follows a campaign link and reports the click.
func (s *SDK) Click(ctx context.Context, campaignID string, link campaign.Link) (navigation.Target, error) {
	return s.clicker.Click(ctx, campaignID, link)
}

func (s *SDK) UpdateUserAttributes(ctx context.Context, attrs map[string]any) (queue.SubmitResult, error) {
	return s.rec.UpdateUserAttributes(ctx, attrs)
}

func (s *SDK) SetUserID(id string) { s.sess.SetUserID(id) }

// Telemetry gives access to the direct telemetry calls.
func (s *SDK) Telemetry() *telemetry.Recorder { return s.rec }

func (s *SDK) Session() *session.Session { return s.sess }

func (s *SDK) Flush(ctx context.Context) queue.FlushReport { return s.queue.Flush(ctx) }

func (s *SDK) Pending(ctx context.Context) []queue.QueuedRequest { return s.queue.Pending(ctx) }

// InvalidateToken forgets the access token and everything derived from it.
func (s *SDK) InvalidateToken(ctx context.Context) error {
	s.channel.Disconnect()
	s.sess.Invalidate()
	s.engine.Reset()
	if err := s.creds.Clear(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	log.Info().Msg("access token invalidated")
	return nil
}

// Close drops the realtime connection.
func (s *SDK) Close() { s.channel.Disconnect() }
