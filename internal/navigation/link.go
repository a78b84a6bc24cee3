// Package navigation resolves the links carried by campaigns and reports
// the resulting clicks.
package navigation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
)

type LinkKind string

const (
	LinkNone     LinkKind = "none"
	LinkURL      LinkKind = "url"
	LinkRoute    LinkKind = "route"
	LinkDeepLink LinkKind = "deep_link"
)

var (
	ErrBadLink      = errors.New("unsupported link value")
	ErrUnknownRoute = errors.New("unknown route")
)

// Target is a parsed and, once resolved, navigable link.
type Target struct {
	Kind   LinkKind          `json:"kind"`
	URL    string            `json:"url,omitempty"`
	Route  string            `json:"route,omitempty"`
	Screen string            `json:"screen,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// ParseLink classifies a raw link: a JSON string holding an absolute URL or
// a route token, or an object {screen|route, params}. Empty and null links
// parse to LinkNone.
func ParseLink(raw json.RawMessage) (Target, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Target{Kind: LinkNone}, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrBadLink, err)
		}
		return parseString(strings.TrimSpace(s))
	case '{':
		var obj struct {
			Screen string         `json:"screen"`
			Route  string         `json:"route"`
			URL    string         `json:"url"`
			Params map[string]any `json:"params"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrBadLink, err)
		}
		if obj.URL != "" {
			return parseString(obj.URL)
		}
		t := Target{Kind: LinkDeepLink, Screen: obj.Screen, Route: obj.Route}
		if len(obj.Params) > 0 {
			t.Params = make(map[string]string, len(obj.Params))
			for k, v := range obj.Params {
				t.Params[k] = fmt.Sprint(v)
			}
		}
		if t.Screen == "" && t.Route == "" {
			return Target{}, fmt.Errorf("%w: deep link without screen", ErrBadLink)
		}
		return t, nil
	}
	return Target{}, ErrBadLink
}

func parseString(s string) (Target, error) {
	if s == "" {
		return Target{Kind: LinkNone}, nil
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && (u.Host != "" || u.Opaque != "") {
		return Target{Kind: LinkURL, URL: s}, nil
	}
	return Target{Kind: LinkRoute, Route: s}, nil
}

// Resolve fills Screen and Params of route and deep-link targets from the
// route table. Params on the link override the route's defaults.
func (t Target) Resolve(routes Routes) (Target, error) {
	switch t.Kind {
	case LinkRoute:
		d, ok := routes.Lookup(t.Route)
		if !ok {
			return Target{}, fmt.Errorf("%w: %s", ErrUnknownRoute, t.Route)
		}
		t.Screen = d.Screen
		t.Params = maps.Clone(d.Params)
	case LinkDeepLink:
		key := t.Route
		if key == "" {
			key = t.Screen
		}
		if d, ok := routes.Lookup(key); ok {
			params := maps.Clone(d.Params)
			if params == nil {
				params = map[string]string{}
			}
			maps.Copy(params, t.Params)
			t.Screen, t.Params = d.Screen, params
		} else if t.Screen == "" {
			return Target{}, fmt.Errorf("%w: %s", ErrUnknownRoute, t.Route)
		}
	}
	return t, nil
}
