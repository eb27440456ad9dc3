package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/fetchd/fetchd/internal/downloader"
	"github.com/fetchd/fetchd/internal/logctx"
	"github.com/fetchd/fetchd/internal/storage"
	"github.com/go-chi/chi/v5"
)

// AddRequest is the body of POST /downloads.
type AddRequest struct {
	URL       string            `json:"url"`
	Dir       string            `json:"dir,omitempty"`
	Out       string            `json:"out,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Overwrite string            `json:"overwrite,omitempty"`
}

// DownloadHandler exposes the download engine over HTTP.
type DownloadHandler struct {
	username string
	password string
	engine   *downloader.Downloader
	history  storage.HistoryRepository
}

// NewDownloadHandler creates the REST handler. Empty username disables basic
// auth; history may be nil when no journal is configured.
func NewDownloadHandler(username, password string, engine *downloader.Downloader, history storage.HistoryRepository) *DownloadHandler {
	return &DownloadHandler{
		username: username,
		password: password,
		engine:   engine,
		history:  history,
	}
}

func (h *DownloadHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/downloads", h.HandleAdd)
	r.Get("/downloads", h.HandleList)
	r.Delete("/downloads", h.HandleRemoveAll)
	r.Post("/downloads/pause", h.HandlePauseAll)
	r.Post("/downloads/unpause", h.HandleUnpauseAll)
	r.Get("/downloads/{id}", h.HandleStatus)
	r.Delete("/downloads/{id}", h.HandleRemove)
	r.Post("/downloads/{id}/pause", h.HandlePause)
	r.Post("/downloads/{id}/unpause", h.HandleUnpause)
	r.Put("/settings/concurrency", h.HandleSetConcurrency)
	r.Get("/history", h.HandleHistory)

	return r
}

// HandleAdd registers a new download and returns its snapshot.
func (h *DownloadHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	opts := downloader.AddOptions{
		Dir: req.Dir,
		Out: req.Out,
	}

	if len(req.Headers) > 0 {
		opts.Headers = http.Header{}
		for key, value := range req.Headers {
			opts.Headers.Set(key, value)
		}
	}

	switch req.Overwrite {
	case "":
	case "fail":
		opts.Overwrite = downloader.OverwriteFail
	case "replace":
		opts.Overwrite = downloader.OverwriteReplace
	case "rename":
		opts.Overwrite = downloader.OverwriteRename
	default:
		http.Error(w, "invalid overwrite policy", http.StatusBadRequest)

		return
	}

	dl, err := h.engine.Add(req.URL, opts)
	if err != nil {
		logger.Error("failed to add download", "url", req.URL, "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	writeJSON(w, http.StatusCreated, dl.Snapshot())
}

// HandleList lists downloads, optionally filtered by ?status=.
func (h *DownloadHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var records []*downloader.Download

	switch r.URL.Query().Get("status") {
	case "active":
		records = h.engine.TellActive()
	case "waiting":
		records = h.engine.TellWaiting()
	case "paused":
		records = h.engine.TellPaused()
	case "completed":
		records = h.engine.TellCompleted()
	case "failed":
		records = h.engine.TellFailed()
	case "stopped":
		records = h.engine.TellStopped()
	case "":
		records = append(h.engine.TellActive(), h.engine.TellWaiting()...)
		records = append(records, h.engine.TellPaused()...)
		records = append(records, h.engine.TellStopped()...)
	default:
		http.Error(w, "invalid status filter", http.StatusBadRequest)

		return
	}

	snapshots := make([]downloader.Snapshot, 0, len(records))
	for _, dl := range records {
		snapshots = append(snapshots, dl.Snapshot())
	}

	writeJSON(w, http.StatusOK, snapshots)
}

func (h *DownloadHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	dl, ok := h.engine.TellStatus(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "download not found", http.StatusNotFound)

		return
	}

	writeJSON(w, http.StatusOK, dl.Snapshot())
}

func (h *DownloadHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Pause(chi.URLParam(r, "id")); err != nil {
		h.writeEngineError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) HandleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Unpause(chi.URLParam(r, "id")); err != nil {
		h.writeEngineError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	deleteFiles := r.URL.Query().Get("delete_files") == "true"

	if err := h.engine.Remove(chi.URLParam(r, "id"), deleteFiles); err != nil {
		h.writeEngineError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) HandlePauseAll(w http.ResponseWriter, _ *http.Request) {
	h.engine.PauseAll()
	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) HandleUnpauseAll(w http.ResponseWriter, _ *http.Request) {
	h.engine.UnpauseAll()
	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) HandleRemoveAll(w http.ResponseWriter, r *http.Request) {
	h.engine.RemoveAll(r.URL.Query().Get("delete_files") == "true")
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetConcurrency changes the active-count limit at runtime.
func (h *DownloadHandler) HandleSetConcurrency(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req struct {
		MaxConcurrent int `json:"max_concurrent"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if err := h.engine.SetConcurrency(req.MaxConcurrent); err != nil {
		h.writeEngineError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"max_concurrent": h.engine.Concurrency()})
}

// HandleHistory lists journaled terminal outcomes, newest first.
func (h *DownloadHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	if h.history == nil {
		http.Error(w, "history is not configured", http.StatusNotFound)

		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		limit = parsed
	}

	records, err := h.history.List(limit)
	if err != nil {
		logger.Error("failed to list history", "err", err)
		http.Error(w, "failed to list history", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, records)
}

// writeEngineError maps engine usage errors onto HTTP statuses.
func (h *DownloadHandler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	switch {
	case errors.Is(err, downloader.ErrUnknownID):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, downloader.ErrLimitTooLow):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, downloader.ErrNotPaused), errors.Is(err, downloader.ErrInvalidLimit):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error("unexpected engine error", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *DownloadHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}
