package fetch

import (
	"strings"
	"sync"

	"engagement-sdk/internal/campaign"
)

// Mailbox holds one single-value slot per screen being waited on.
type Mailbox struct {
	mu    sync.Mutex
	slots map[string]chan campaign.Response
}

func NewMailbox() *Mailbox {
	return &Mailbox{slots: map[string]chan campaign.Response{}}
}

// Open installs an empty slot for screen, discarding anything left over from
// an earlier wait, and returns it. A later Open for the same screen takes the
// slot over.
func (m *Mailbox) Open(screen string) <-chan campaign.Response {
	ch := make(chan campaign.Response, 1)
	m.mu.Lock()
	m.slots[strings.ToLower(screen)] = ch
	m.mu.Unlock()
	return ch
}

// Close removes the slot if it is still the one returned by Open.
func (m *Mailbox) Close(screen string, slot <-chan campaign.Response) {
	key := strings.ToLower(screen)
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.slots[key]; ok && cur == slot {
		delete(m.slots, key)
	}
}

// Waiting reports whether somebody waits on screen.
func (m *Mailbox) Waiting(screen string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[strings.ToLower(screen)]
	return ok
}

// Deliver puts resp into the slot of its screen. An undelivered earlier value
// is replaced.
func (m *Mailbox) Deliver(resp campaign.Response) bool {
	key := strings.ToLower(resp.Screen())
	if key == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.slots[key]
	if !ok {
		return false
	}
	select {
	case <-ch:
	default:
	}
	ch <- resp
	return true
}
