package web

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/gather/internal/config"
	"github.com/hpungsan/gather/internal/errors"
	"github.com/hpungsan/gather/internal/ops"
	"github.com/hpungsan/gather/internal/scheduler"
	"github.com/hpungsan/gather/internal/sink"
)

// timeNow is the clock behind the default initial window start.
var timeNow = time.Now

// Handlers contains HTTP route handlers for the status server.
type Handlers struct {
	db      *sql.DB
	cfg     *config.Config
	sink    *sink.Sink
	sched   *scheduler.Scheduler
	version string
	logger  *zap.Logger
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.renderError(w, errors.NewInternal(err))
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	input := ops.StatusInput{
		Sink:         h.sink,
		SourceURL:    h.cfg.SourceURL(),
		InitialStart: h.cfg.InitialStartTime(timeNow()),
	}
	if h.sched != nil {
		snap := h.sched.Snapshot()
		input.Scheduler = &snap
	}

	out, err := ops.Status(r.Context(), h.db, input)
	if err != nil {
		h.renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleCycles handles GET /cycles (newest first).
func (h *Handlers) HandleCycles(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListCycles(r.Context(), h.db, ops.ListCyclesInput{
		Status: r.URL.Query().Get("status"),
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleCycle handles GET /cycles/{id}.
func (h *Handlers) HandleCycle(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetCycle(r.Context(), h.db, r.PathValue("id"))
	if err != nil {
		h.renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleFiles handles GET /files.
func (h *Handlers) HandleFiles(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListFiles(h.sink, ops.ListFilesInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// renderError writes a JSON error envelope with the status mapped from the error code.
func (h *Handlers) renderError(w http.ResponseWriter, err error) {
	gErr, ok := errors.As(err)
	if !ok {
		gErr = errors.NewInternal(err)
	}
	status := errors.StatusOf(gErr)
	if status >= http.StatusInternalServerError {
		h.logger.Error("status request failed", zap.String("error_code", string(gErr.Code)), zap.Error(err))
	}

	renderJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    string(gErr.Code),
			"message": gErr.Message,
			"status":  status,
		},
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
