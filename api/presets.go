package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"sdxl-sizer/preset"
	"sdxl-sizer/session"
)

var errBadRequest = errors.New("invalid request body")

type presetsResponse struct {
	Labels  []string       `json:"labels"`
	Presets []preset.Entry `json:"presets"`
}

type sizeResponse struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type matchResponse struct {
	Label      string  `json:"label"`
	Difference float64 `json:"difference"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handler) getPresets(w http.ResponseWriter, r *http.Request) {
	c := h.manager.Catalog()
	writeJSON(w, http.StatusOK, presetsResponse{Labels: c.Labels(), Presets: c.Entries()})
}

func (h *handler) applyPreset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, errBadRequest.Error(), http.StatusBadRequest)
		return
	}
	width, height, err := h.manager.Catalog().Apply(req.Label)
	if err != nil {
		http.Error(w, session.Message(err), http.StatusBadRequest)
		return
	}
	h.log.Info(fmt.Sprintf("Set resolution to %dx%d", width, height))
	writeJSON(w, http.StatusOK, sizeResponse{Width: width, Height: height})
}

func (h *handler) matchPreset(w http.ResponseWriter, r *http.Request) {
	sources, err := h.readSources(w, r)
	if err != nil {
		h.log.Debug("Unable to read reference images", zap.Error(err))
		http.Error(w, err.Error(), uploadStatus(err))
		return
	}
	m, err := h.manager.Catalog().BestMatch(sources...)
	if err != nil {
		http.Error(w, session.Message(err), http.StatusBadRequest)
		return
	}
	h.log.Info(fmt.Sprintf("Best resolution is %s with abs difference %v", m.Label, m.Difference))
	writeJSON(w, http.StatusOK, matchResponse{Label: m.Label, Difference: m.Difference, Width: m.Width, Height: m.Height})
}
