package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sdxl-sizer/session"
)

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	panels := h.manager.List()
	states := make([]session.State, 0, len(panels))
	for _, p := range panels {
		states = append(states, p.Snapshot())
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, errBadRequest.Error(), http.StatusBadRequest)
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.manager.Create(req.Name, mode)
	if err != nil {
		if errors.Is(err, session.ErrNameTaken) {
			http.Error(w, "panel name already in use", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create panel", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, p.Snapshot())
}

// panel resolves the {id} URL parameter, answering 404 when it is unknown.
func (h *handler) panel(w http.ResponseWriter, r *http.Request) (*session.Panel, bool) {
	p, ok := h.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "panel not found", http.StatusNotFound)
	}
	return p, ok
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.panel(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (h *handler) killSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Kill(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "panel not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to close panel", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) selectPreset(w http.ResponseWriter, r *http.Request) {
	p, ok := h.panel(w, r)
	if !ok {
		return
	}
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, errBadRequest.Error(), http.StatusBadRequest)
		return
	}
	if err := p.Select(req.Label); err != nil {
		http.Error(w, session.Message(err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (h *handler) putImage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.panel(w, r)
	if !ok {
		return
	}
	slot := chi.URLParam(r, "slot")
	if !p.HasSlot(slot) {
		http.Error(w, fmt.Sprintf("%v: %q", session.ErrUnknownSlot, slot), http.StatusNotFound)
		return
	}
	data, err := h.readUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), uploadStatus(err))
		return
	}
	img, err := h.prober.Probe(data)
	if err != nil {
		h.log.Debug("Rejected reference image", zap.String("slot", slot), zap.Error(err))
		http.Error(w, err.Error(), uploadStatus(err))
		return
	}
	if err := p.SetImage(slot, img); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

func (h *handler) deleteImage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.panel(w, r)
	if !ok {
		return
	}
	if err := p.ClearImage(chi.URLParam(r, "slot")); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) readFromImages(w http.ResponseWriter, r *http.Request) {
	p, ok := h.panel(w, r)
	if !ok {
		return
	}
	m, err := p.ReadFromImages()
	if err != nil {
		http.Error(w, session.Message(err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{Label: m.Label, Difference: m.Difference, Width: m.Width, Height: m.Height})
}

func (h *handler) applySelection(w http.ResponseWriter, r *http.Request) {
	p, ok := h.panel(w, r)
	if !ok {
		return
	}
	width, height, err := p.Apply()
	if err != nil {
		http.Error(w, session.Message(err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, sizeResponse{Width: width, Height: height})
}
