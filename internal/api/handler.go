package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"engagement-sdk/internal/campaign"
	"engagement-sdk/internal/navigation"
	"engagement-sdk/internal/queue"
	"engagement-sdk/internal/sdk"
)

// Core is what the bridge needs from the SDK.
type Core interface {
	Campaigns(f campaign.Filter) []campaign.Campaign
	TrackScreen(ctx context.Context, screen string) (*campaign.Response, error)
	TrackEvent(ctx context.Context, name string, props map[string]any) (queue.SubmitResult, error)
	DisableCampaign(id string)
	Click(ctx context.Context, campaignID string, link campaign.Link) (navigation.Target, error)
	UpdateUserAttributes(ctx context.Context, attrs map[string]any) (queue.SubmitResult, error)
	Flush(ctx context.Context) queue.FlushReport
	Pending(ctx context.Context) []queue.QueuedRequest
}

// BridgeHandler serves the UI process running next to the agent.
type BridgeHandler struct {
	Core Core
}

func NewBridgeHandler(core Core) *BridgeHandler {
	return &BridgeHandler{Core: core}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (h *BridgeHandler) Campaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cs := h.Core.Campaigns(campaign.Filter{
		Screen:   q.Get("screen"),
		Type:     campaign.Kind(strings.ToUpper(q.Get("type"))),
		Position: q.Get("position"),
	})
	if len(cs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *BridgeHandler) TrackScreen(w http.ResponseWriter, r *http.Request) {
	screen := chi.URLParam(r, "screen")
	resp, err := h.Core.TrackScreen(r.Context(), screen)
	if err != nil {
		log.Warn().Err(err).Str("screen", screen).Msg("bridge track screen")
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventRequest struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
}

func (h *BridgeHandler) TrackEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	res, err := h.Core.TrackEvent(r.Context(), req.Name, req.Properties)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"disposition": string(res.Disposition)})
}

func (h *BridgeHandler) UpdateAttributes(w http.ResponseWriter, r *http.Request) {
	var attrs map[string]any
	if !decode(w, r, &attrs) {
		return
	}
	res, err := h.Core.UpdateUserAttributes(r.Context(), attrs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"disposition": string(res.Disposition)})
}

func (h *BridgeHandler) DisableCampaign(w http.ResponseWriter, r *http.Request) {
	h.Core.DisableCampaign(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

type clickRequest struct {
	CampaignID string        `json:"campaign_id"`
	Link       campaign.Link `json:"link"`
}

func (h *BridgeHandler) Click(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Core.Click(r.Context(), req.CampaignID, req.Link)
	switch {
	case errors.Is(err, navigation.ErrBadLink), errors.Is(err, navigation.ErrUnknownRoute):
		writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, t)
	}
}

func (h *BridgeHandler) Flush(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Core.Flush(r.Context()))
}

func (h *BridgeHandler) Queue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"pending": len(h.Core.Pending(r.Context()))})
}

var _ Core = (*sdk.SDK)(nil)
