// Package realtime keeps the push socket over which the server delivers
// freshly matched campaigns.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"engagement-sdk/internal/campaign"
	"engagement-sdk/internal/observability"
	"engagement-sdk/internal/storage"
	"engagement-sdk/internal/transport"
)

var (
	ErrDetailsExpired = errors.New("connection details expired")
	ErrNoURL          = errors.New("connection details carry no url")
)

// Mailbox receives pushes addressed to a screen somebody is waiting on.
type Mailbox interface {
	// Deliver hands resp to the waiter of its screen and reports whether one existed.
	Deliver(resp campaign.Response) bool
}

// DetailsFunc obtains fresh connection details from the server.
type DetailsFunc func(ctx context.Context) (transport.ConnectionDetails, error)

// Channel is a single logical WebSocket connection.
type Channel struct {
	kv      storage.KV
	mailbox Mailbox
	dialer  *websocket.Dialer

	// connectMu serializes connection setup so at most one socket is open.
	connectMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	details    transport.ConnectionDetails
	readerDone chan struct{}

	idMu     sync.Mutex
	lastID   string
	idLoaded bool

	// drops receives one signal per connection lost without Disconnect.
	drops chan struct{}
}

func NewChannel(kv storage.KV, mailbox Mailbox, handshakeTimeout time.Duration) *Channel {
	return &Channel{
		kv:      kv,
		mailbox: mailbox,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		drops: make(chan struct{}, 1),
	}
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect opens the socket described by d. An open socket for the same
// session is kept; one for another session is replaced.
func (c *Channel) Connect(ctx context.Context, d transport.ConnectionDetails) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	return c.connect(ctx, d)
}

// EnsureConnected reconnects with fresh details when the socket is down.
// Concurrent callers share one connection attempt.
func (c *Channel) EnsureConnected(ctx context.Context, fetch DetailsFunc) error {
	if c.Connected() {
		return nil
	}
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	if c.Connected() {
		return nil
	}
	d, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch connection details: %w", err)
	}
	return c.connect(ctx, d)
}

// connect must be called with connectMu held.
func (c *Channel) connect(ctx context.Context, d transport.ConnectionDetails) error {
	if d.URL == "" {
		return ErrNoURL
	}
	if d.Expired(time.Now()) {
		return ErrDetailsExpired
	}

	c.mu.Lock()
	if c.conn != nil && c.details.SessionID == d.SessionID && c.details.URL == d.URL {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.disconnect()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+d.Token)
	h.Set("Session-ID", d.SessionID)
	conn, resp, err := c.dialer.DialContext(ctx, d.URL, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.details = d
	c.readerDone = done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	log.Info().Str("session_id", d.SessionID).Msg("realtime connected")
	return nil
}

// Disconnect closes the socket. It is a no-op when not connected. It waits
// for a connection attempt in progress, then closes what that opened.
func (c *Channel) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	c.disconnect()
}

func (c *Channel) disconnect() {
	c.mu.Lock()
	conn, done := c.conn, c.readerDone
	c.conn, c.readerDone = nil, nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
	<-done
	log.Info().Msg("realtime disconnected")
}

// Drops signals connections lost without Disconnect.
func (c *Channel) Drops() <-chan struct{} { return c.drops }

func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			unexpected := c.conn == conn
			if unexpected {
				c.conn, c.readerDone = nil, nil
			}
			c.mu.Unlock()
			if unexpected {
				_ = conn.Close()
				log.Warn().Err(err).Msg("realtime connection lost")
				select {
				case c.drops <- struct{}{}:
				default:
				}
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		c.handle(context.Background(), data)
	}
}

func (c *Channel) handle(ctx context.Context, data []byte) {
	id := gjson.GetBytes(data, "messageId").String()
	if id != "" && id == c.lastMessageID(ctx) {
		observability.RealtimeFrames.WithLabelValues("duplicate").Inc()
		log.Debug().Str("message_id", id).Msg("duplicate push dropped")
		return
	}

	var resp campaign.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		observability.RealtimeFrames.WithLabelValues("decode_error").Inc()
		log.Warn().Err(err).Msg("undecodable push dropped")
		return
	}
	if id != "" {
		c.rememberMessageID(ctx, id)
	}

	if c.mailbox.Deliver(resp) {
		observability.RealtimeFrames.WithLabelValues("delivered").Inc()
		log.Debug().Str("message_id", id).Str("screen", resp.Screen()).Msg("push delivered")
		return
	}
	observability.RealtimeFrames.WithLabelValues("unrouted").Inc()
}

func (c *Channel) lastMessageID(ctx context.Context) string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	if !c.idLoaded {
		v, _, err := c.kv.Get(ctx, storage.KeyLastMessageID)
		if err != nil {
			log.Warn().Err(err).Msg("load last message id")
		}
		c.lastID = v
		c.idLoaded = true
	}
	return c.lastID
}

func (c *Channel) rememberMessageID(ctx context.Context, id string) {
	c.idMu.Lock()
	c.lastID = id
	c.idLoaded = true
	c.idMu.Unlock()
	if err := c.kv.Put(ctx, storage.KeyLastMessageID, id); err != nil {
		log.Warn().Err(err).Msg("persist last message id")
	}
}
