package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sdxl-sizer/preset"
	"sdxl-sizer/refimage"
)

const imageField = "image"

var errNoUpload = errors.New("no image in request")

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mt, "multipart/")
}

// readUploads returns the raw bytes of every "image" part of a multipart
// request in the order they were sent. Empty parts stay in the list as nil.
func (h *handler) readUploads(w http.ResponseWriter, r *http.Request) ([][]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() != imageField {
			part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			data = nil
		}
		out = append(out, data)
	}
}

// readUpload returns a single image either from a multipart request or from
// the raw request body.
func (h *handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if isMultipart(r) {
		all, err := h.readUploads(w, r)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 || all[0] == nil {
			return nil, errNoUpload
		}
		return all[0], nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errNoUpload
	}
	return data, nil
}

// probe turns uploaded bytes into a best-match source. Images of an
// unsupported type are treated as absent.
func (h *handler) probe(data []byte) (preset.Source, error) {
	if data == nil {
		return nil, nil
	}
	img, err := h.prober.Probe(data)
	if errors.Is(err, refimage.ErrUnsupported) {
		h.log.Debug("Skipping reference image", zap.Error(err))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

// readSources collects best-match sources from either multipart image parts
// or a JSON list of dimensions where null marks an absent image. An empty
// body carries no images.
func (h *handler) readSources(w http.ResponseWriter, r *http.Request) ([]preset.Source, error) {
	if isMultipart(r) {
		uploads, err := h.readUploads(w, r)
		if err != nil {
			return nil, err
		}
		sources := make([]preset.Source, 0, len(uploads))
		for _, data := range uploads {
			src, err := h.probe(data)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		}
		return sources, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	var req struct {
		Images []*preset.Dimensions `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	sources := make([]preset.Source, 0, len(req.Images))
	for _, d := range req.Images {
		if d == nil {
			sources = append(sources, nil)
			continue
		}
		sources = append(sources, *d)
	}
	return sources, nil
}

// uploadStatus maps an upload failure to a status code.
func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, refimage.ErrTooManyPixels):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, refimage.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	}
	return http.StatusBadRequest
}
