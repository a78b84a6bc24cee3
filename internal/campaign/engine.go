package campaign

import (
	"context"
	"slices"
	"strings"
	"sync"

	"engagement-sdk/internal/cache"
)

// State answers the per-session gating questions.
type State interface {
	EventTracked(name string) bool
	CampaignDisabled(id string) bool
}

// Indexes for fast candidate narrowing
type indexes struct {
	Campaigns []Campaign // backing array; indexes reference this

	ByScreen   map[string][]int
	ByType     map[Kind][]int
	ByPosition map[string][]int
}

type snapshot struct{ idx indexes }

// Engine holds the campaigns pushed for each screen and answers which of them
// are eligible right now. Reads are lock-free.
type Engine struct {
	snap  cache.Snapshot[snapshot]
	state State

	mu      sync.Mutex // serializes writers and guards subs
	subs    map[int]chan struct{}
	nextSub int
}

func NewEngine(state State) *Engine {
	e := &Engine{state: state, subs: map[int]chan struct{}{}}
	e.snap.Store(snapshot{idx: buildIndexes(nil)})
	return e
}

// Apply replaces the campaigns of every screen present in resp, keeping
// other screens untouched.
func (e *Engine) Apply(resp Response) {
	if len(resp.Campaigns) == 0 {
		return
	}
	e.mu.Lock()
	replaced := map[string]bool{}
	for _, c := range resp.Campaigns {
		replaced[strings.ToLower(c.Screen)] = true
	}
	cur := e.snap.Load().idx.Campaigns
	next := make([]Campaign, 0, len(cur)+len(resp.Campaigns))
	for _, c := range cur {
		if !replaced[strings.ToLower(c.Screen)] {
			next = append(next, c)
		}
	}
	next = append(next, resp.Campaigns...)
	e.snap.Store(snapshot{idx: buildIndexes(next)})
	e.mu.Unlock()

	e.Notify()
}

// Reset drops every campaign.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.snap.Store(snapshot{idx: buildIndexes(nil)})
	e.mu.Unlock()
	e.Notify()
}

func buildIndexes(cs []Campaign) indexes {
	ix := indexes{
		Campaigns:  cs,
		ByScreen:   map[string][]int{},
		ByType:     map[Kind][]int{},
		ByPosition: map[string][]int{},
	}
	for i, c := range cs {
		s := strings.ToLower(c.Screen)
		ix.ByScreen[s] = append(ix.ByScreen[s], i)
		k := Kind(c.CampaignType)
		ix.ByType[k] = append(ix.ByType[k], i)
		if c.Position != "" {
			p := strings.ToLower(c.Position)
			ix.ByPosition[p] = append(ix.ByPosition[p], i)
		}
	}
	return ix
}

// Lookup returns a campaign by id regardless of eligibility.
func (e *Engine) Lookup(id string) (Campaign, bool) {
	for _, c := range e.snap.Load().idx.Campaigns {
		if c.ID == id {
			return c, true
		}
	}
	return Campaign{}, false
}

// Match returns the eligible campaigns for f in push order.
func (e *Engine) Match(f Filter) []Campaign {
	ix := e.snap.Load().idx

	cand := rangeIndices(len(ix.Campaigns))
	if f.Screen != "" {
		cand = intersect(cand, ix.ByScreen[strings.ToLower(f.Screen)])
	}
	if f.Type != "" {
		cand = intersect(cand, ix.ByType[f.Type])
	}
	if f.Position != "" {
		cand = intersect(cand, ix.ByPosition[strings.ToLower(f.Position)])
	}

	out := []Campaign{}
	for _, i := range cand {
		c := ix.Campaigns[i]
		if e.eligible(c) {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) eligible(c Campaign) bool {
	if e.state == nil {
		return true
	}
	if e.state.CampaignDisabled(c.ID) {
		return false
	}
	return c.TriggerEvent == "" || e.state.EventTracked(c.TriggerEvent)
}

// Notify wakes every watcher; call it when session state used by
// eligibility changes.
func (e *Engine) Notify() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch streams the eligible list for f: once immediately, then after every
// change, until ctx is done. Slow readers only see the latest list.
func (e *Engine) Watch(ctx context.Context, f Filter) <-chan []Campaign {
	wake := make(chan struct{}, 1)
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = wake
	e.mu.Unlock()

	out := make(chan []Campaign, 1)
	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(out)
		}()
		for {
			list := e.Match(f)
			select {
			case <-out: // replace an unread stale list
			default:
			}
			out <- list
			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
		}
	}()
	return out
}

func rangeIndices(n int) []int {
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = i
	}
	return out
}

// intersect keeps the elements of a (sorted) that appear in b (sorted).
func intersect(a, b []int) []int {
	out := make([]int, 0, min(len(a), len(b)))
	for _, v := range a {
		if _, found := slices.BinarySearch(b, v); found {
			out = append(out, v)
		}
	}
	return out
}
