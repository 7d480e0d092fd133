package api

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sdxl-sizer/refimage"
	"sdxl-sizer/session"
)

// Limits bounds reference image uploads.
type Limits struct {
	MaxUploadBytes   int64
	UploadsPerSecond float64
	UploadBurst      int
}

func RegisterRoutes(manager *session.Manager, prober *refimage.Prober, staticFS fs.FS, log *zap.Logger, limits Limits) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	h := &handler{
		manager:   manager,
		prober:    prober,
		log:       log,
		maxUpload: limits.MaxUploadBytes,
	}
	uploads := limitUploads(rate.NewLimiter(rate.Limit(limits.UploadsPerSecond), limits.UploadBurst))

	// Presets API
	r.Get("/api/presets", h.getPresets)
	r.Post("/api/presets/apply", h.applyPreset)
	r.With(uploads).Post("/api/presets/match", h.matchPreset)

	// Panel sessions
	r.Get("/api/sessions", h.listSessions)
	r.Post("/api/sessions", h.createSession)
	r.Get("/api/sessions/{id}", h.getSession)
	r.Delete("/api/sessions/{id}", h.killSession)
	r.Put("/api/sessions/{id}/selection", h.selectPreset)
	r.With(uploads).Put("/api/sessions/{id}/images/{slot}", h.putImage)
	r.Delete("/api/sessions/{id}/images/{slot}", h.deleteImage)
	r.Post("/api/sessions/{id}/read", h.readFromImages)
	r.Post("/api/sessions/{id}/apply", h.applySelection)

	// WebSocket
	r.Get("/api/sessions/{id}/ws", h.handleWS)

	// Static sub-FS: strip the "static/" prefix present in the embed.FS.
	// A directory from configuration is already rooted at the frontend files,
	// so probe index.html to detect that case.
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		staticSub = staticFS
	} else if _, statErr := fs.Stat(staticSub, "index.html"); statErr != nil {
		staticSub = staticFS
	}

	// Serve HTML pages by reading from the FS directly.
	// Using http.FileServer with r.URL.Path ending in "index.html" triggers
	// Go's built-in redirect to "./" - avoid that by reading the file manually.
	r.Get("/", serveFile(staticSub, "index.html"))
	r.Get("/panel/{id}", serveFile(staticSub, "panel.html"))

	fileServer := http.FileServer(http.FS(staticSub))
	r.Get("/css/*", fileServer.ServeHTTP)
	r.Get("/js/*", fileServer.ServeHTTP)

	return r
}

// serveFile returns a handler that reads a single file from fsys and sends it.
func serveFile(fsys fs.FS, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
	}
}

type handler struct {
	manager   *session.Manager
	prober    *refimage.Prober
	log       *zap.Logger
	maxUpload int64
}
