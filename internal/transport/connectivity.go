package transport

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"
)

// Probe answers "is the API reachable now" with a TCP dial to the API host.
// Results are cached for ttl so hot paths do not dial on every call.
type Probe struct {
	addr    string
	timeout time.Duration
	ttl     time.Duration

	mu      sync.Mutex
	checked time.Time
	online  bool
}

func NewProbe(baseURL string) *Probe {
	addr := ""
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		addr = u.Host
		if u.Port() == "" {
			port := "443"
			if u.Scheme == "http" {
				port = "80"
			}
			addr = net.JoinHostPort(u.Hostname(), port)
		}
	}
	return &Probe{addr: addr, timeout: 2 * time.Second, ttl: 5 * time.Second}
}

func (p *Probe) Online(ctx context.Context) bool {
	if p.addr == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.checked.IsZero() && time.Since(p.checked) < p.ttl {
		return p.online
	}

	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	p.online = err == nil
	p.checked = time.Now()
	if conn != nil {
		_ = conn.Close()
	}
	return p.online
}

// Static is a fixed connectivity answer for hosts that manage reachability
// themselves.
type Static bool

func (s Static) Online(context.Context) bool { return bool(s) }
