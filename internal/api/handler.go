// Package api exposes the chart and image store over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	chirender "github.com/go-chi/render"

	"github.com/gofr-lab/gplot/pkg/auth"
	"github.com/gofr-lab/gplot/pkg/imagestore"
	"github.com/gofr-lab/gplot/pkg/render"
)

// Handler handles HTTP requests for charts and stored images.
type Handler struct {
	store  imagestore.Service
	logger *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(store imagestore.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Router assembles the full API router, including authentication.
func Router(store imagestore.Service, authService *auth.Service, logger *slog.Logger) chi.Router {
	h := NewHandler(store, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Throttle(100))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(GroupMiddleware(authService, true))
		r.Mount("/", h.Routes())
	})

	return r
}

// Routes returns the routes for charts and images. Callers supply group
// identity through GroupMiddleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/render", h.RenderChart)

	r.Get("/images", h.ListImages)
	r.Post("/images", h.UploadImage)
	r.Get("/images/{identifier}", h.GetImage)
	r.Head("/images/{identifier}", h.HeadImage)
	r.Delete("/images/{identifier}", h.DeleteImage)

	r.Get("/aliases", h.ListAliases)
	r.Put("/aliases/{alias}", h.RegisterAlias)
	r.Delete("/aliases/{alias}", h.UnregisterAlias)

	r.Post("/purge", h.Purge)

	return r
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	chirender.JSON(w, r, map[string]string{"status": "ok"})
}

// RenderRequest is the request body for rendering a chart. The chart fields
// are those of render.Request; Alias optionally names the stored result.
type RenderRequest struct {
	render.Request
	Alias string `json:"alias,omitempty"`
}

// ImageResponse describes a stored image.
type ImageResponse struct {
	GUID   string `json:"guid"`
	Format string `json:"format"`
	Alias  string `json:"alias,omitempty"`
	Size   int    `json:"size"`
}

// RenderChart draws a chart and stores the result.
func (h *Handler) RenderChart(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	data, format, err := render.Render(req.Request)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	group := GroupFromContext(r.Context())
	guid, err := h.store.SaveImage(r.Context(), data, format, group)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if req.Alias != "" {
		if err := h.store.RegisterAlias(r.Context(), req.Alias, guid, group); err != nil {
			// The image is stored; report the alias failure without leaving it behind.
			if _, delErr := h.store.DeleteImage(r.Context(), guid, group); delErr != nil {
				h.logger.Error("failed to clean up image after alias failure", "guid", guid, "err", delErr)
			}
			h.respondError(w, r, err)
			return
		}
	}

	h.logger.Info("chart rendered", "guid", guid, "kind", req.Kind, "format", format)
	chirender.Status(r, http.StatusCreated)
	chirender.JSON(w, r, ImageResponse{GUID: guid, Format: format, Alias: req.Alias, Size: len(data)})
}

// UploadImage stores a raw image body. The format comes from the ?format
// query parameter or the Content-Type header.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = formatFromContentType(r.Header.Get("Content-Type"))
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<20))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, r, http.StatusBadRequest, "empty image body")
		return
	}

	group := GroupFromContext(r.Context())
	guid, err := h.store.SaveImage(r.Context(), data, format, group)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	normalized, _ := imagestore.NormalizeFormat(format)
	chirender.Status(r, http.StatusCreated)
	chirender.JSON(w, r, ImageResponse{GUID: guid, Format: normalized, Size: len(data)})
}

// GetImage returns the image bytes with their content type.
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	group := GroupFromContext(r.Context())

	data, format, err := h.store.GetImage(r.Context(), identifier, group)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", imagestore.FormatContentType(format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// HeadImage reports whether the identifier resolves to an accessible image.
func (h *Handler) HeadImage(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	group := GroupFromContext(r.Context())

	ok, err := h.store.Exists(r.Context(), identifier, group)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DeleteImage removes an image, its metadata, and any alias.
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	group := GroupFromContext(r.Context())

	deleted, err := h.store.DeleteImage(r.Context(), identifier, group)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, "image not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListImages returns the GUIDs visible to the caller's group.
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	group := GroupFromContext(r.Context())

	guids, err := h.store.ListImages(r.Context(), group)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if guids == nil {
		guids = []string{}
	}
	chirender.JSON(w, r, map[string][]string{"images": guids})
}

// RegisterAliasRequest is the request body for binding an alias.
type RegisterAliasRequest struct {
	GUID string `json:"guid"`
}

// RegisterAlias binds an alias to a GUID within the caller's group.
func (h *Handler) RegisterAlias(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	var req RegisterAliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	group := GroupFromContext(r.Context())
	if err := h.store.RegisterAlias(r.Context(), alias, req.GUID, group); err != nil {
		h.respondError(w, r, err)
		return
	}
	chirender.Status(r, http.StatusCreated)
	chirender.JSON(w, r, map[string]string{"alias": alias, "guid": req.GUID})
}

// UnregisterAlias removes an alias binding.
func (h *Handler) UnregisterAlias(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	group := GroupFromContext(r.Context())

	removed, err := h.store.UnregisterAlias(r.Context(), alias, group)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !removed {
		writeError(w, r, http.StatusNotFound, "alias not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAliases returns the alias map for the caller's group.
func (h *Handler) ListAliases(w http.ResponseWriter, r *http.Request) {
	group := GroupFromContext(r.Context())

	aliases, err := h.store.ListAliases(r.Context(), group)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if aliases == nil {
		aliases = map[string]string{}
	}
	chirender.JSON(w, r, map[string]map[string]string{"aliases": aliases})
}

// PurgeRequest is the request body for purging old images.
type PurgeRequest struct {
	AgeDays int `json:"age_days"`
}

// Purge deletes images in the caller's scope older than age_days.
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.AgeDays < 0 {
		writeError(w, r, http.StatusBadRequest, "age_days must not be negative")
		return
	}

	group := GroupFromContext(r.Context())
	purged, err := h.store.Purge(r.Context(), req.AgeDays, group)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.logger.Info("purge completed", "age_days", req.AgeDays, "purged", purged)
	chirender.JSON(w, r, map[string]int{"purged": purged})
}

// respondError maps domain errors onto HTTP status codes.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, imagestore.ErrImageNotFound):
		writeError(w, r, http.StatusNotFound, "image not found")
	case errors.Is(err, imagestore.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "permission denied")
	case errors.Is(err, imagestore.ErrAliasExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, imagestore.ErrInvalidAlias),
		errors.Is(err, imagestore.ErrInvalidGUID),
		errors.Is(err, imagestore.ErrUnsupportedFormat),
		errors.Is(err, render.ErrInvalidChart):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func formatFromContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/svg+xml":
		return "svg"
	case "application/pdf":
		return "pdf"
	default:
		return contentType
	}
}
