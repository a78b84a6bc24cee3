// Package session holds the process-wide identity and auth state of the SDK.
//
// There is a single writer (the account verification flow) and many readers.
// Readers always see the latest written token; nothing caches it.
package session

import (
	"sort"
	"strings"
	"sync"
)

type Session struct {
	mu sync.RWMutex

	appID     string
	accountID string
	userID    string
	token     string

	tracked  map[string]struct{}
	disabled map[string]struct{}
	capture  map[string]bool

	listeners []func()
}

func New(appID, accountID, userID string) *Session {
	return &Session{
		appID:     appID,
		accountID: accountID,
		userID:    userID,
		tracked:   map[string]struct{}{},
		disabled:  map[string]struct{}{},
		capture:   map[string]bool{},
	}
}

func (s *Session) AppID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appID
}

func (s *Session) AccountID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountID
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) SetUserID(id string) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) SetAccessToken(tok string) {
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
}

// MarkEventTracked records a fired trigger event. It reports whether the
// event was new.
func (s *Session) MarkEventTracked(name string) bool {
	s.mu.Lock()
	_, seen := s.tracked[name]
	if !seen {
		s.tracked[name] = struct{}{}
	}
	s.mu.Unlock()
	if !seen {
		s.notify()
	}
	return !seen
}

func (s *Session) EventTracked(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tracked[name]
	return ok
}

// TrackedEvents returns the fired trigger events, sorted.
func (s *Session) TrackedEvents() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.tracked))
	for k := range s.tracked {
		out = append(out, k)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Session) DisableCampaign(id string) {
	s.mu.Lock()
	s.disabled[id] = struct{}{}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) CampaignDisabled(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.disabled[id]
	return ok
}

func (s *Session) SetCaptureEnabled(screen string, enabled bool) {
	s.mu.Lock()
	s.capture[strings.ToLower(screen)] = enabled
	s.mu.Unlock()
}

func (s *Session) CaptureEnabled(screen string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capture[strings.ToLower(screen)]
}

// Invalidate drops the token together with everything learned under it.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.tracked = map[string]struct{}{}
	s.disabled = map[string]struct{}{}
	s.capture = map[string]bool{}
	s.mu.Unlock()
	s.notify()
}

// OnChange registers fn to run after tracked events or disabled campaigns change.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) notify() {
	s.mu.RLock()
	ls := append([]func(){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range ls {
		fn()
	}
}
